package socket

import (
	"context"
	"sync"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/endpoint"
	"github.com/monocoque/monocoque/engine"
)

// Push is a client-initiated, reconnecting unicast sender with no reply
// path.
type Push struct {
	opts Options
	mon  *monitor

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *engine.Conn
}

// NewPush constructs a Push; call Connect before Send.
func NewPush(opts Options) *Push {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Push{opts: opts, mon: newMonitor(opts.MonitorCapacity), ctx: ctx, cancel: cancel}
}

// Connect starts a reconnecting dial loop against raw.
func (p *Push) Connect(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	dial := func(ctx context.Context) (*engine.Conn, error) {
		return dialConn(ctx, ep, api.SocketPush, p.opts, p.mon)
	}
	r := engine.NewReconnector(dial, nil, engine.ReconnectOptions{
		MinBackoff: p.opts.ReconnectIVL,
		MaxBackoff: p.opts.ReconnectIVLMax,
	}, nil)
	go r.Run(p.ctx, func(c *engine.Conn) {
		p.mu.Lock()
		p.conn = c
		p.mu.Unlock()
	})
	return nil
}

func (p *Push) current() (*engine.Conn, error) {
	p.mu.Lock()
	c := p.conn
	p.mu.Unlock()
	if c == nil {
		return nil, api.ErrConnectionBroken()
	}
	return c, nil
}

// Send queues and flushes one multipart message.
func (p *Push) Send(frames [][]byte) error {
	c, err := p.current()
	if err != nil {
		return err
	}
	return c.Send(frames)
}

// SendBuffered queues a message without flushing.
func (p *Push) SendBuffered(frames [][]byte) error {
	c, err := p.current()
	if err != nil {
		return err
	}
	return c.SendBuffered(frames)
}

// Flush writes every message queued by SendBuffered.
func (p *Push) Flush() error {
	c, err := p.current()
	if err != nil {
		return err
	}
	return c.Flush()
}

// Monitor exposes the socket's lifecycle event stream.
func (p *Push) Monitor() <-chan api.MonitorEvent { return p.mon.Events() }

// Close stops the reconnect loop and tears down the current connection.
func (p *Push) Close() error {
	p.cancel()
	if c, err := p.current(); err == nil {
		return c.Close()
	}
	return nil
}

// Pull is a server-accepting unicast receiver: every accepted connection's
// messages are delivered to Recv in arrival order, fanned in from however
// many PUSH peers are currently connected.
type Pull struct {
	opts Options
	mon  *monitor

	acc *acceptor

	closeCh   chan struct{}
	closeOnce sync.Once

	mu    sync.Mutex
	peers map[*engine.Conn]struct{}

	recvCh chan [][]byte
}

// NewPull constructs a Pull; call Bind before Recv.
func NewPull(opts Options) *Pull {
	opts = opts.withDefaults()
	cap := opts.RecvHWM
	if cap <= 0 {
		cap = engine.DefaultRecvHWM
	}
	return &Pull{
		opts:    opts,
		mon:     newMonitor(opts.MonitorCapacity),
		closeCh: make(chan struct{}),
		peers:   make(map[*engine.Conn]struct{}),
		recvCh:  make(chan [][]byte, cap),
	}
}

// Bind listens on raw and starts accepting pushers in the background.
func (p *Pull) Bind(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	acc, err := bindAcceptor(ep, api.SocketPull, p.opts, p.mon)
	if err != nil {
		return err
	}
	p.acc = acc
	go p.acceptLoop()
	return nil
}

func (p *Pull) acceptLoop() {
	for {
		conn, err := p.acc.accept()
		if err != nil {
			select {
			case <-p.closeCh:
				return
			default:
				continue
			}
		}
		p.mu.Lock()
		p.peers[conn] = struct{}{}
		p.mu.Unlock()
		go p.serveConn(conn)
	}
}

func (p *Pull) serveConn(conn *engine.Conn) {
	defer func() {
		p.mu.Lock()
		delete(p.peers, conn)
		p.mu.Unlock()
		conn.Close()
	}()
	if err := conn.WaitHandshake(); err != nil {
		return
	}
	for {
		frames, err := conn.Recv(p.closeCh)
		if err != nil {
			return
		}
		select {
		case p.recvCh <- frames:
		case <-p.closeCh:
			return
		}
	}
}

// Recv blocks for the next message from any connected pusher.
func (p *Pull) Recv() ([][]byte, error) {
	select {
	case frames := <-p.recvCh:
		return frames, nil
	case <-p.closeCh:
		return nil, api.ErrConnectionBroken()
	}
}

// Monitor exposes the socket's lifecycle event stream.
func (p *Pull) Monitor() <-chan api.MonitorEvent { return p.mon.Events() }

// Close stops accepting new pushers and closes every connected one.
func (p *Pull) Close() error {
	p.closeOnce.Do(func() { close(p.closeCh) })
	var err error
	if p.acc != nil {
		err = p.acc.Close()
	}
	p.mu.Lock()
	for conn := range p.peers {
		conn.Close()
	}
	p.mu.Unlock()
	return err
}

// Pair is a bidirectional exclusive-pair socket: it accepts exactly one
// peer connection at a time. A second peer's connection is accepted at the
// transport level (so the listener doesn't stall) but immediately closed,
// since ZMTP PAIR has no fan-out or queuing semantics across peers.
type Pair struct {
	opts Options
	mon  *monitor

	acc *acceptor

	closeCh   chan struct{}
	closeOnce sync.Once

	mu   sync.Mutex
	conn *engine.Conn

	recvCh chan [][]byte
}

// NewPair constructs a Pair; call Bind before Send/Recv.
func NewPair(opts Options) *Pair {
	opts = opts.withDefaults()
	cap := opts.RecvHWM
	if cap <= 0 {
		cap = engine.DefaultRecvHWM
	}
	return &Pair{
		opts:    opts,
		mon:     newMonitor(opts.MonitorCapacity),
		closeCh: make(chan struct{}),
		recvCh:  make(chan [][]byte, cap),
	}
}

// Bind listens on raw and accepts at most one live peer at a time.
func (pr *Pair) Bind(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	acc, err := bindAcceptor(ep, api.SocketPair, pr.opts, pr.mon)
	if err != nil {
		return err
	}
	pr.acc = acc
	go pr.acceptLoop()
	return nil
}

func (pr *Pair) acceptLoop() {
	for {
		conn, err := pr.acc.accept()
		if err != nil {
			select {
			case <-pr.closeCh:
				return
			default:
				continue
			}
		}
		pr.mu.Lock()
		if pr.conn != nil {
			pr.mu.Unlock()
			conn.Close()
			continue
		}
		pr.conn = conn
		pr.mu.Unlock()
		go pr.serveConn(conn)
	}
}

func (pr *Pair) serveConn(conn *engine.Conn) {
	defer func() {
		pr.mu.Lock()
		if pr.conn == conn {
			pr.conn = nil
		}
		pr.mu.Unlock()
		conn.Close()
	}()
	if err := conn.WaitHandshake(); err != nil {
		return
	}
	for {
		frames, err := conn.Recv(pr.closeCh)
		if err != nil {
			return
		}
		select {
		case pr.recvCh <- frames:
		case <-pr.closeCh:
			return
		}
	}
}

func (pr *Pair) current() (*engine.Conn, error) {
	pr.mu.Lock()
	c := pr.conn
	pr.mu.Unlock()
	if c == nil {
		return nil, api.ErrConnectionBroken()
	}
	return c, nil
}

// Send writes to the currently connected peer, failing if none is
// connected.
func (pr *Pair) Send(frames [][]byte) error {
	c, err := pr.current()
	if err != nil {
		return err
	}
	return c.Send(frames)
}

// Recv blocks for the next message from the connected peer.
func (pr *Pair) Recv() ([][]byte, error) {
	select {
	case frames := <-pr.recvCh:
		return frames, nil
	case <-pr.closeCh:
		return nil, api.ErrConnectionBroken()
	}
}

// Monitor exposes the socket's lifecycle event stream.
func (pr *Pair) Monitor() <-chan api.MonitorEvent { return pr.mon.Events() }

// Close stops accepting and tears down the connected peer, if any.
func (pr *Pair) Close() error {
	pr.closeOnce.Do(func() { close(pr.closeCh) })
	var err error
	if pr.acc != nil {
		err = pr.acc.Close()
	}
	if c, cerr := pr.current(); cerr == nil {
		c.Close()
	}
	return err
}
