package socket

import (
	"sync"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/endpoint"
	"github.com/monocoque/monocoque/engine"
	"github.com/monocoque/monocoque/registry"
)

type routerInbound struct {
	frames [][]byte
}

// Router is a server-accepting socket that routes by peer identity: inbound
// messages are delivered with the sending peer's identity and an empty
// delimiter prepended; outbound messages address a peer by its identity as
// the first frame.
type Router struct {
	opts  Options
	mon   *monitor
	table *registry.Table

	acc *acceptor

	recvCh    chan routerInbound
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewRouter constructs a Router; call Bind before Recv/Send.
func NewRouter(opts Options) *Router {
	opts = opts.withDefaults()
	cap := opts.RecvHWM
	if cap <= 0 {
		cap = engine.DefaultRecvHWM
	}
	return &Router{
		opts:    opts,
		mon:     newMonitor(opts.MonitorCapacity),
		table:   registry.NewTable(16),
		recvCh:  make(chan routerInbound, cap),
		closeCh: make(chan struct{}),
	}
}

// Bind listens on raw and starts accepting peers in the background.
func (r *Router) Bind(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	acc, err := bindAcceptor(ep, api.SocketRouter, r.opts, r.mon)
	if err != nil {
		return err
	}
	r.acc = acc
	go r.acceptLoop()
	return nil
}

func (r *Router) acceptLoop() {
	for {
		conn, err := r.acc.accept()
		if err != nil {
			select {
			case <-r.closeCh:
				return
			default:
				continue
			}
		}
		go r.serveConn(conn)
	}
}

func (r *Router) serveConn(conn *engine.Conn) {
	if err := conn.WaitHandshake(); err != nil {
		conn.Close()
		return
	}
	identity := conn.PeerIdentity()
	if len(identity) == 0 {
		identity = autoIdentity()
	}
	key := string(identity)
	epoch := r.table.NextEpoch()

	if prev := r.table.Register(key, epoch, conn); prev != nil {
		if !r.opts.RouterHandover {
			r.table.Register(key, prev.Epoch, prev.Handle) // restore the incumbent
			conn.Close()
			return
		}
		if oldConn, ok := prev.Handle.(*engine.Conn); ok {
			oldConn.Close()
		}
	}
	defer r.table.Unregister(key, epoch)
	defer conn.Close()

	for {
		frames, err := conn.Recv(r.closeCh)
		if err != nil {
			return
		}
		envelope := make([][]byte, 0, len(frames)+2)
		envelope = append(envelope, identity, []byte{})
		envelope = append(envelope, frames...)
		select {
		case r.recvCh <- routerInbound{frames: envelope}:
		case <-r.closeCh:
			return
		}
	}
}

// Recv blocks for the next envelope-prefixed inbound message from any peer.
func (r *Router) Recv() ([][]byte, error) {
	select {
	case m := <-r.recvCh:
		return m.frames, nil
	case <-r.closeCh:
		return nil, api.ErrConnectionBroken()
	}
}

// resolve strips the destination identity (and the empty delimiter, if
// present) from an outbound envelope and looks up its peer connection.
func (r *Router) resolve(frames [][]byte) (*engine.Conn, [][]byte, error) {
	if len(frames) == 0 {
		return nil, nil, api.ErrInvalidState("ROUTER send requires a destination identity frame")
	}
	identity := frames[0]
	rest := frames[1:]
	if len(rest) > 0 && len(rest[0]) == 0 {
		rest = rest[1:]
	}
	peer, ok := r.table.Lookup(string(identity))
	if !ok {
		if r.opts.RouterMandatory {
			return nil, nil, api.ErrHostUnreachable(string(identity))
		}
		return nil, nil, nil
	}
	conn, ok := peer.Handle.(*engine.Conn)
	if !ok {
		return nil, nil, api.ErrConnectionBroken()
	}
	return conn, rest, nil
}

// Send routes frames[0] (the destination identity) to that peer and writes
// the remainder, silently dropping the message when the identity is
// unknown unless RouterMandatory is set.
func (r *Router) Send(frames [][]byte) error {
	conn, rest, err := r.resolve(frames)
	if err != nil || conn == nil {
		return err
	}
	return conn.Send(rest)
}

// SendBuffered queues the routed message on its destination peer without
// flushing.
func (r *Router) SendBuffered(frames [][]byte) error {
	conn, rest, err := r.resolve(frames)
	if err != nil || conn == nil {
		return err
	}
	return conn.SendBuffered(rest)
}

// Flush drains every peer's outbound queue. ROUTER has no single "current"
// connection, so Flush is a fan-out over every currently registered peer.
func (r *Router) Flush() error {
	var firstErr error
	r.table.Range(func(p *registry.Peer) {
		if conn, ok := p.Handle.(*engine.Conn); ok {
			if err := conn.Flush(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	})
	return firstErr
}

// SendBatch routes and queues every message in messages, then flushes
// every peer touched.
func (r *Router) SendBatch(messages [][][]byte) error {
	for _, frames := range messages {
		if err := r.SendBuffered(frames); err != nil {
			return err
		}
	}
	return r.Flush()
}

// Monitor exposes the socket's lifecycle event stream.
func (r *Router) Monitor() <-chan api.MonitorEvent { return r.mon.Events() }

// Close stops accepting new peers and closes every connected one.
func (r *Router) Close() error {
	r.closeOnce.Do(func() { close(r.closeCh) })
	var err error
	if r.acc != nil {
		err = r.acc.Close()
	}
	r.table.Range(func(p *registry.Peer) {
		if conn, ok := p.Handle.(*engine.Conn); ok {
			conn.Close()
		}
	})
	return err
}
