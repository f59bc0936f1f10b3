package socket

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/endpoint"
	"github.com/monocoque/monocoque/engine"
)

type reqState int

const (
	reqIdle reqState = iota
	reqAwaitingReply
)

// Req is a strict request/reply client: Send then Recv must alternate.
// With ReqRelaxed, a Send while already awaiting a reply discards the
// pending request instead of failing. With ReqCorrelate, a 4-byte
// big-endian request counter is prepended to every request frame and
// checked against the reply.
type Req struct {
	opts Options
	mon  *monitor

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *engine.Conn
	state   reqState
	counter uint32
}

// NewReq constructs a Req; call Connect before Send/Recv.
func NewReq(opts Options) *Req {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Req{opts: opts, mon: newMonitor(opts.MonitorCapacity), ctx: ctx, cancel: cancel}
}

// Connect starts a reconnecting dial loop against raw.
func (r *Req) Connect(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	dial := func(ctx context.Context) (*engine.Conn, error) {
		return dialConn(ctx, ep, api.SocketReq, r.opts, r.mon)
	}
	rec := engine.NewReconnector(dial, nil, engine.ReconnectOptions{
		MinBackoff: r.opts.ReconnectIVL,
		MaxBackoff: r.opts.ReconnectIVLMax,
	}, nil)
	go rec.Run(r.ctx, func(c *engine.Conn) {
		r.mu.Lock()
		r.conn = c
		r.state = reqIdle
		r.mu.Unlock()
	})
	return nil
}

// Send issues one request. It fails with invalid-state if a reply is
// already outstanding, unless ReqRelaxed permits silently superseding it.
func (r *Req) Send(frames [][]byte) error {
	r.mu.Lock()
	conn := r.conn
	if conn == nil {
		r.mu.Unlock()
		return api.ErrConnectionBroken()
	}
	if r.state == reqAwaitingReply && !r.opts.ReqRelaxed {
		r.mu.Unlock()
		return api.ErrInvalidState("REQ send while awaiting reply")
	}
	r.counter++
	want := r.counter
	r.state = reqAwaitingReply
	r.mu.Unlock()

	out := frames
	if r.opts.ReqCorrelate {
		tag := make([]byte, 4)
		binary.BigEndian.PutUint32(tag, want)
		out = append([][]byte{tag}, frames...)
	}
	return conn.Send(out)
}

// Recv blocks for the reply to the outstanding request. With
// ReqCorrelate, a reply whose counter frame doesn't match the last
// request sent is a protocol violation, not a transient mismatch to wait
// past: the peer has either reordered replies or is answering a request
// this Req never sent, so the connection is closed rather than retried.
func (r *Req) Recv() ([][]byte, error) {
	r.mu.Lock()
	conn := r.conn
	want := r.counter
	r.mu.Unlock()
	if conn == nil {
		return nil, api.ErrConnectionBroken()
	}
	frames, err := conn.Recv(r.ctx.Done())
	if err != nil {
		return nil, err
	}
	if r.opts.ReqCorrelate {
		if len(frames) == 0 || len(frames[0]) != 4 {
			conn.Close()
			return nil, api.ErrProtocol("correlation-mismatch", "REQ reply missing correlation tag")
		}
		if got := binary.BigEndian.Uint32(frames[0]); got != want {
			conn.Close()
			return nil, api.ErrProtocol("correlation-mismatch", "REQ reply counter does not match outstanding request")
		}
		frames = frames[1:]
	}
	r.mu.Lock()
	r.state = reqIdle
	r.mu.Unlock()
	return frames, nil
}

// Monitor exposes the socket's lifecycle event stream.
func (r *Req) Monitor() <-chan api.MonitorEvent { return r.mon.Events() }

// Close stops the reconnect loop and tears down the current connection.
func (r *Req) Close() error {
	r.cancel()
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// repPeer is one connected requester on a Rep socket: its connection plus
// whether a request from it has been received and not yet answered.
type repPeer struct {
	conn        *engine.Conn
	awaitsReply bool
}

// Rep is the server-accepting counterpart of Req: it replies to each
// request exactly once, in the order requests are received, and rejects a
// second Send before the next Recv.
type Rep struct {
	opts Options
	mon  *monitor

	acc *acceptor

	closeCh   chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	peers   map[*engine.Conn]*repPeer
	recvCh  chan repEnvelope
	pending []repEnvelope // received envelopes awaiting their replies, FIFO
}

type repEnvelope struct {
	conn   *engine.Conn
	frames [][]byte
}

// NewRep constructs a Rep; call Bind before Recv/Send.
func NewRep(opts Options) *Rep {
	opts = opts.withDefaults()
	cap := opts.RecvHWM
	if cap <= 0 {
		cap = engine.DefaultRecvHWM
	}
	return &Rep{
		opts:    opts,
		mon:     newMonitor(opts.MonitorCapacity),
		closeCh: make(chan struct{}),
		peers:   make(map[*engine.Conn]*repPeer),
		recvCh:  make(chan repEnvelope, cap),
	}
}

// Bind listens on raw and starts accepting requesters in the background.
func (rp *Rep) Bind(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	acc, err := bindAcceptor(ep, api.SocketRep, rp.opts, rp.mon)
	if err != nil {
		return err
	}
	rp.acc = acc
	go rp.acceptLoop()
	return nil
}

func (rp *Rep) acceptLoop() {
	for {
		conn, err := rp.acc.accept()
		if err != nil {
			select {
			case <-rp.closeCh:
				return
			default:
				continue
			}
		}
		rp.mu.Lock()
		rp.peers[conn] = &repPeer{conn: conn}
		rp.mu.Unlock()
		go rp.serveConn(conn)
	}
}

func (rp *Rep) serveConn(conn *engine.Conn) {
	defer func() {
		rp.mu.Lock()
		delete(rp.peers, conn)
		rp.mu.Unlock()
		conn.Close()
	}()
	if err := conn.WaitHandshake(); err != nil {
		return
	}
	for {
		frames, err := conn.Recv(rp.closeCh)
		if err != nil {
			return
		}
		select {
		case rp.recvCh <- repEnvelope{conn: conn, frames: frames}:
		case <-rp.closeCh:
			return
		}
	}
}

// Recv blocks for the next request from any connected requester and queues
// it for a reply; Send answers queued requests oldest first. Recv does not
// wait for earlier requests to be answered before returning the next one.
func (rp *Rep) Recv() ([][]byte, error) {
	select {
	case env := <-rp.recvCh:
		rp.mu.Lock()
		if p, ok := rp.peers[env.conn]; ok {
			p.awaitsReply = true
		}
		rp.pending = append(rp.pending, env)
		rp.mu.Unlock()
		return env.frames, nil
	case <-rp.closeCh:
		return nil, api.ErrConnectionBroken()
	}
}

// Send replies to the oldest request that hasn't yet been answered.
// Calling Send without an outstanding request is an invalid-state error.
func (rp *Rep) Send(frames [][]byte) error {
	rp.mu.Lock()
	if len(rp.pending) == 0 {
		rp.mu.Unlock()
		return api.ErrInvalidState("REP send without a matching recv")
	}
	env := rp.pending[0]
	rp.pending = rp.pending[1:]
	if p, ok := rp.peers[env.conn]; ok {
		p.awaitsReply = false
	}
	rp.mu.Unlock()
	return env.conn.Send(frames)
}

// Monitor exposes the socket's lifecycle event stream.
func (rp *Rep) Monitor() <-chan api.MonitorEvent { return rp.mon.Events() }

// Close stops accepting new requesters and closes every connected one.
func (rp *Rep) Close() error {
	rp.closeOnce.Do(func() { close(rp.closeCh) })
	var err error
	if rp.acc != nil {
		err = rp.acc.Close()
	}
	rp.mu.Lock()
	for conn := range rp.peers {
		conn.Close()
	}
	rp.mu.Unlock()
	return err
}
