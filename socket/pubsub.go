package socket

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/bufpool"
	"github.com/monocoque/monocoque/endpoint"
	"github.com/monocoque/monocoque/engine"
	"github.com/monocoque/monocoque/pubsub"
	"github.com/monocoque/monocoque/wire"
)

func framesToViews(frames [][]byte) []bufpool.ImmutableView {
	views := make([]bufpool.ImmutableView, len(frames))
	for i, f := range frames {
		slab := bufpool.Default().Alloc(len(f))
		copy(slab.Mutable(), f)
		views[i] = bufpool.Freeze(&slab, len(f))
	}
	return views
}

func viewsToFrames(views []bufpool.ImmutableView) [][]byte {
	frames := make([][]byte, len(views))
	for i, v := range views {
		b := make([]byte, len(v.Bytes()))
		copy(b, v.Bytes())
		frames[i] = b
	}
	return frames
}

// connDeliverer adapts an engine.Conn to pubsub.Deliverer, translating
// bufpool-backed frames to the plain [][]byte the wire engine sends.
type connDeliverer struct {
	conn *engine.Conn
}

func (d connDeliverer) Deliver(frames []bufpool.ImmutableView) error {
	return d.conn.Send(viewsToFrames(frames))
}

func (d connDeliverer) Poison() { d.conn.Close() }

// Pub is a server-accepting publisher: Send broadcasts to every subscriber
// whose recorded prefix matches the message's first frame (the topic).
type Pub struct {
	opts   Options
	mon    *monitor
	fanout *pubsub.Fanout

	acc *acceptor

	closeCh   chan struct{}
	closeOnce sync.Once
	nextID    atomic.Uint64
}

// NewPub constructs a Pub; call Bind before Send.
func NewPub(opts Options) *Pub {
	opts = opts.withDefaults()
	return &Pub{
		opts:    opts,
		mon:     newMonitor(opts.MonitorCapacity),
		fanout:  pubsub.NewFanout(opts.FanoutWorkers, opts.FanoutSendTimeout),
		closeCh: make(chan struct{}),
	}
}

// Bind listens on raw and starts accepting subscribers in the background.
func (p *Pub) Bind(raw string) error { return p.bind(raw, api.SocketPub) }

func (p *Pub) bind(raw string, socketType api.SocketType) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	acc, err := bindAcceptor(ep, socketType, p.opts, p.mon)
	if err != nil {
		return err
	}
	p.acc = acc
	go p.acceptLoop()
	return nil
}

func (p *Pub) acceptLoop() {
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
		go p.serveConn(conn)
	}
}

func (p *Pub) serveConn(conn *engine.Conn) {
	if err := conn.WaitHandshake(); err != nil {
		conn.Close()
		return
	}
	id := pubsub.SubscriberID(p.nextID.Add(1))
	p.fanout.AddSubscriber(id, uint64(id), connDeliverer{conn: conn})
	defer p.fanout.RemoveSubscriber(id)
	defer conn.Close()

	for {
		frames, err := conn.Recv(p.closeCh)
		if err != nil {
			return
		}
		if len(frames) == 0 {
			continue
		}
		subscribe, prefix, err := wire.DecodeSubscription(frames[0])
		if err != nil {
			continue
		}
		if subscribe {
			p.fanout.Subscribe(id, uint64(id), string(prefix))
		} else {
			p.fanout.Unsubscribe(id, uint64(id), string(prefix))
		}
	}
}

// Send publishes frames to every subscriber whose prefix matches
// frames[0].
func (p *Pub) Send(frames [][]byte) error {
	if len(frames) == 0 {
		return api.ErrInvalidState("PUB send requires a topic frame")
	}
	views := framesToViews(frames)
	p.fanout.Broadcast(string(frames[0]), views)
	for _, v := range views {
		v.Release()
	}
	return nil
}

// Monitor exposes the socket's lifecycle event stream.
func (p *Pub) Monitor() <-chan api.MonitorEvent { return p.mon.Events() }

// Close stops accepting new subscribers and closes every connected one.
func (p *Pub) Close() error {
	p.closeOnce.Do(func() { close(p.closeCh) })
	if p.acc != nil {
		return p.acc.Close()
	}
	return nil
}

// XPub is a Pub that also surfaces each SUBSCRIBE/UNSUBSCRIBE as an
// ordinary inbound message to the application: the first frame is 0x01
// (subscribe) or 0x00 (unsubscribe) followed by the prefix, matching the
// wire encoding. XPubVerbose controls whether duplicate subscriptions are
// reported; XPubManual disables automatic index updates entirely, leaving
// SubscribePeer/UnsubscribePeer as the only way to register a peer.
type XPub struct {
	*Pub
	recvCh chan [][]byte
}

// NewXPub constructs an XPub; call Bind before Send/Recv.
func NewXPub(opts Options) *XPub {
	opts = opts.withDefaults()
	cap := opts.RecvHWM
	if cap <= 0 {
		cap = engine.DefaultRecvHWM
	}
	return &XPub{Pub: NewPub(opts), recvCh: make(chan [][]byte, cap)}
}

// Bind listens on raw and starts accepting subscribers in the background.
func (x *XPub) Bind(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	acc, err := bindAcceptor(ep, api.SocketXPub, x.opts, x.mon)
	if err != nil {
		return err
	}
	x.acc = acc
	go x.acceptLoop()
	return nil
}

func (x *XPub) serveConn(conn *engine.Conn) {
	if err := conn.WaitHandshake(); err != nil {
		conn.Close()
		return
	}
	id := pubsub.SubscriberID(x.nextID.Add(1))
	x.fanout.AddSubscriber(id, uint64(id), connDeliverer{conn: conn})
	defer x.fanout.RemoveSubscriber(id)
	defer conn.Close()

	held := make(map[string]bool)
	for {
		frames, err := conn.Recv(x.closeCh)
		if err != nil {
			return
		}
		if len(frames) == 0 {
			continue
		}
		subscribe, prefix, err := wire.DecodeSubscription(frames[0])
		if err != nil {
			continue
		}
		// In manual mode the user owns the subscription index via
		// SubscribePeer/UnsubscribePeer, so every notification (not just
		// duplicates) must reach them — there's no other way they'd know.
		if !x.opts.XPubManual {
			if subscribe {
				x.fanout.Subscribe(id, uint64(id), string(prefix))
			} else {
				x.fanout.Unsubscribe(id, uint64(id), string(prefix))
			}
		}
		duplicate := held[string(prefix)] == subscribe
		if subscribe {
			held[string(prefix)] = true
		} else {
			delete(held, string(prefix))
		}
		if x.opts.XPubVerbose || x.opts.XPubManual || !duplicate {
			marker := byte(0x00)
			if subscribe {
				marker = 0x01
			}
			select {
			case x.recvCh <- [][]byte{append([]byte{marker}, prefix...), identityFrame(id)}:
			case <-x.closeCh:
				return
			}
		}
	}
}

// SubscribePeer manually registers prefix for a peer previously reported
// through Recv in XPubManual mode, identified by the id frame Recv
// attached after the subscription marker frame.
func (x *XPub) SubscribePeer(id pubsub.SubscriberID, prefix []byte) {
	x.fanout.Subscribe(id, uint64(id), string(prefix))
}

// UnsubscribePeer manually removes prefix for a peer, the XPubManual
// counterpart to SubscribePeer.
func (x *XPub) UnsubscribePeer(id pubsub.SubscriberID, prefix []byte) {
	x.fanout.Unsubscribe(id, uint64(id), string(prefix))
}

func identityFrame(id pubsub.SubscriberID) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[7-i] = byte(id >> (8 * i))
	}
	return b
}

func (x *XPub) acceptLoop() {
	for {
		conn, err := x.acc.accept()
		if err != nil {
			select {
			case <-x.closeCh:
				return
			default:
				continue
			}
		}
		go x.serveConn(conn)
	}
}

// Recv blocks for the next subscribe/unsubscribe notification. Unless
// XPubVerbose or XPubManual is set, a peer's SUBSCRIBE for a prefix it
// already holds, or UNSUBSCRIBE for one it does not hold, is not reported.
func (x *XPub) Recv() ([][]byte, error) {
	select {
	case frames := <-x.recvCh:
		return frames, nil
	case <-x.closeCh:
		return nil, api.ErrConnectionBroken()
	}
}

// Sub is a client-initiated subscriber: it maintains a local list of
// subscribed prefixes, replays them on every reconnect, and filters
// inbound messages to those matching a subscribed prefix.
type Sub struct {
	opts Options
	mon  *monitor

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	conn    *engine.Conn
	prefixes map[string]struct{}
}

// NewSub constructs a Sub; call Connect before Recv.
func NewSub(opts Options) *Sub {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Sub{
		opts:     opts,
		mon:      newMonitor(opts.MonitorCapacity),
		ctx:      ctx,
		cancel:   cancel,
		prefixes: make(map[string]struct{}),
	}
}

// Connect starts a reconnecting dial loop against raw, replaying every
// currently subscribed prefix each time a new connection completes its
// handshake.
func (s *Sub) Connect(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	dial := func(ctx context.Context) (*engine.Conn, error) {
		return dialConn(ctx, ep, api.SocketSub, s.opts, s.mon)
	}
	onConnected := func(c *engine.Conn) error {
		s.mu.Lock()
		prefixes := make([]string, 0, len(s.prefixes))
		for p := range s.prefixes {
			prefixes = append(prefixes, p)
		}
		s.mu.Unlock()
		for _, p := range prefixes {
			if err := c.SendSubscription([]byte(p), true); err != nil {
				return err
			}
		}
		return nil
	}
	r := engine.NewReconnector(dial, onConnected, engine.ReconnectOptions{
		MinBackoff: s.opts.ReconnectIVL,
		MaxBackoff: s.opts.ReconnectIVLMax,
	}, nil)
	go r.Run(s.ctx, func(c *engine.Conn) {
		s.mu.Lock()
		s.conn = c
		s.mu.Unlock()
	})
	return nil
}

// Subscribe adds prefix to the local subscription set and, if currently
// connected, sends a SUBSCRIBE frame immediately.
func (s *Sub) Subscribe(prefix []byte) error {
	s.mu.Lock()
	s.prefixes[string(prefix)] = struct{}{}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.SendSubscription(prefix, true)
}

// Unsubscribe removes prefix from the local subscription set and, if
// currently connected, sends an UNSUBSCRIBE frame immediately.
func (s *Sub) Unsubscribe(prefix []byte) error {
	s.mu.Lock()
	delete(s.prefixes, string(prefix))
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.SendSubscription(prefix, false)
}

func (s *Sub) matches(topic string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.prefixes {
		if len(topic) >= len(p) && topic[:len(p)] == p {
			return true
		}
	}
	return false
}

// Recv blocks for the next inbound message whose topic frame matches a
// subscribed prefix, discarding anything that doesn't.
func (s *Sub) Recv() ([][]byte, error) {
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()
		if conn == nil {
			return nil, api.ErrConnectionBroken()
		}
		frames, err := conn.Recv(s.ctx.Done())
		if err != nil {
			return nil, err
		}
		if len(frames) > 0 && s.matches(string(frames[0])) {
			return frames, nil
		}
	}
}

// Monitor exposes the socket's lifecycle event stream.
func (s *Sub) Monitor() <-chan api.MonitorEvent { return s.mon.Events() }

// Close stops the reconnect loop and tears down the current connection.
func (s *Sub) Close() error {
	s.cancel()
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// XSub is a Sub that performs no local filtering: every inbound message is
// returned to the caller, and the caller sends its own raw SUBSCRIBE /
// UNSUBSCRIBE frames via Send rather than through typed methods.
type XSub struct {
	opts Options
	mon  *monitor

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *engine.Conn
}

// NewXSub constructs an XSub; call Connect before Send/Recv.
func NewXSub(opts Options) *XSub {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &XSub{opts: opts, mon: newMonitor(opts.MonitorCapacity), ctx: ctx, cancel: cancel}
}

// Connect starts a reconnecting dial loop against raw.
func (x *XSub) Connect(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	dial := func(ctx context.Context) (*engine.Conn, error) {
		return dialConn(ctx, ep, api.SocketXSub, x.opts, x.mon)
	}
	r := engine.NewReconnector(dial, nil, engine.ReconnectOptions{
		MinBackoff: x.opts.ReconnectIVL,
		MaxBackoff: x.opts.ReconnectIVLMax,
	}, nil)
	go r.Run(x.ctx, func(c *engine.Conn) {
		x.mu.Lock()
		x.conn = c
		x.mu.Unlock()
	})
	return nil
}

// Send writes a raw frame (typically a SUBSCRIBE/UNSUBSCRIBE built with
// wire.EncodeSubscribe) to the upstream publisher.
func (x *XSub) Send(frames [][]byte) error {
	x.mu.Lock()
	conn := x.conn
	x.mu.Unlock()
	if conn == nil {
		return api.ErrConnectionBroken()
	}
	return conn.Send(frames)
}

// Recv blocks for the next inbound message, unfiltered.
func (x *XSub) Recv() ([][]byte, error) {
	x.mu.Lock()
	conn := x.conn
	x.mu.Unlock()
	if conn == nil {
		return nil, api.ErrConnectionBroken()
	}
	return conn.Recv(x.ctx.Done())
}

// Monitor exposes the socket's lifecycle event stream.
func (x *XSub) Monitor() <-chan api.MonitorEvent { return x.mon.Events() }

// Close stops the reconnect loop and tears down the current connection.
func (x *XSub) Close() error {
	x.cancel()
	x.mu.Lock()
	conn := x.conn
	x.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}
