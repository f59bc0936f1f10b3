// Package engine drives a session.Machine over a real connection: it owns
// the read loop, the outbound write queue, high-water-mark backpressure,
// and the out-of-band ZAP call the sans-I/O session machine cannot make
// itself. Reconnection with backoff lives alongside it in reconnect.go.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/bufpool"
	"github.com/monocoque/monocoque/session"
	"github.com/monocoque/monocoque/zapauth"
)

// DefaultSendHWM and DefaultRecvHWM bound the number of whole messages
// queued on a Conn before Send/SendBuffered return ErrWouldBlock, or the
// read loop blocks handing a received message to Recv's caller.
const (
	DefaultSendHWM = 1000
	DefaultRecvHWM = 1000
)

// Options configures one Conn.
type Options struct {
	SendHWM int
	RecvHWM int
	// ZAPTimeout bounds the out-of-band authentication call triggered by a
	// PLAIN/CURVE handshake; zero uses zapauth.DefaultTimeout.
	ZAPTimeout     time.Duration
	ReadBufferSize int
	// Pool supplies the Slabs the read loop and send path allocate from;
	// nil uses bufpool.Default() so connections in one process share one
	// set of size-classed free lists.
	Pool *bufpool.Pool
}

func (o Options) withDefaults() Options {
	if o.SendHWM <= 0 {
		o.SendHWM = DefaultSendHWM
	}
	if o.RecvHWM <= 0 {
		o.RecvHWM = DefaultRecvHWM
	}
	if o.ZAPTimeout <= 0 {
		o.ZAPTimeout = zapauth.DefaultTimeout
	}
	if o.ReadBufferSize <= 0 {
		o.ReadBufferSize = 64 * 1024
	}
	if o.Pool == nil {
		o.Pool = bufpool.Default()
	}
	return o
}

// Conn pairs one session.Machine with one live api.NetConn: it turns the
// machine's events into writes and channel deliveries, and turns Send calls
// into SendFrame events.
type Conn struct {
	nc      api.NetConn
	machine *session.Machine
	opts    Options
	logger  api.Logger

	writeMu sync.Mutex

	outMu    sync.Mutex
	outbound []bufpool.ImmutableView

	recvCh        chan [][]byte
	closeCh       chan struct{}
	handshakeDone chan struct{}
	handshakeOnce sync.Once
	errOnce       sync.Once
	firstErr      error
	poisoned      atomic.Bool

	peerSocketType api.SocketType
	peerIdentity   []byte
	state          atomic.Int32

	wg sync.WaitGroup
}

// State reports the connection's coarse lifecycle stage, for control.Stats
// snapshots and debug probes; it is not consulted by the engine itself.
func (c *Conn) State() api.ConnState { return api.ConnState(c.state.Load()) }

// NewConn constructs a Conn around an already-dialed or accepted
// connection and a freshly constructed session.Machine. Call Start to send
// the greeting and begin the read loop.
func NewConn(nc api.NetConn, machine *session.Machine, opts Options, logger api.Logger) *Conn {
	if logger == nil {
		logger = api.NopLogger{}
	}
	opts = opts.withDefaults()
	return &Conn{
		nc:            nc,
		machine:       machine,
		opts:          opts,
		logger:        logger,
		recvCh:        make(chan [][]byte, opts.RecvHWM),
		closeCh:       make(chan struct{}),
		handshakeDone: make(chan struct{}),
	}
}

// Start sends the ZMTP greeting and launches the read loop. Callers
// connect/accept the socket and construct the Machine with the right
// Role before calling Start.
func (c *Conn) Start() error {
	c.state.Store(int32(api.ConnGreeting))
	if !c.dispatch(c.machine.Start()) {
		return c.fatalErr()
	}
	c.state.Store(int32(api.ConnHandshaking))
	c.wg.Add(1)
	go c.readLoop()
	return nil
}

// Done reports when the connection has terminated, successfully or not.
func (c *Conn) Done() <-chan struct{} { return c.closeCh }

// WaitHandshake blocks until the ZMTP handshake completes or the
// connection fails, whichever happens first.
func (c *Conn) WaitHandshake() error {
	select {
	case <-c.handshakeDone:
		return nil
	case <-c.closeCh:
		return c.fatalErr()
	}
}

// PeerSocketType and PeerIdentity are only meaningful after WaitHandshake
// returns nil.
func (c *Conn) PeerSocketType() api.SocketType { return c.peerSocketType }
func (c *Conn) PeerIdentity() []byte           { return c.peerIdentity }

// SendBuffered encodes frames as one ZMTP multipart message and queues it
// for the next Flush, failing with ErrWouldBlock once SendHWM messages are
// already queued.
func (c *Conn) SendBuffered(frames [][]byte) error {
	if c.poisoned.Load() {
		return api.ErrConnectionBroken()
	}
	encoded, err := c.encodeMessage(frames)
	if err != nil {
		return err
	}
	c.outMu.Lock()
	defer c.outMu.Unlock()
	if len(c.outbound) >= c.opts.SendHWM {
		encoded.Release()
		return api.ErrWouldBlock()
	}
	c.outbound = append(c.outbound, encoded)
	return nil
}

// Flush writes every message queued by SendBuffered in one syscall-minimal
// pass, poisoning the connection if any write fails partway through. The
// pending views are handed to I/O as one bufpool.Batch, each wrapped for
// the write path and released back to its pool once written.
func (c *Conn) Flush() error {
	c.outMu.Lock()
	pending := c.outbound
	c.outbound = nil
	c.outMu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	batch := bufpool.NewBatch(len(pending))
	for _, v := range pending {
		batch.Append(v)
	}
	defer batch.Reset()

	bufs := make([][]byte, batch.Len())
	views := batch.Underlying()
	for i, v := range views {
		bufs[i] = bufpool.Wrap(v).Bytes()
	}
	err := c.writeBytes(bufs...)
	for _, v := range views {
		bufpool.Wrap(v).Release()
	}
	return err
}

// Send queues and immediately flushes one multipart message.
func (c *Conn) Send(frames [][]byte) error {
	if err := c.SendBuffered(frames); err != nil {
		return err
	}
	return c.Flush()
}

// SendBatch queues every message in messages and flushes them together,
// amortizing the write-side syscall cost across the batch.
func (c *Conn) SendBatch(messages [][][]byte) error {
	for _, frames := range messages {
		if err := c.SendBuffered(frames); err != nil {
			return err
		}
	}
	return c.Flush()
}

// SendSubscription writes a SUBSCRIBE/UNSUBSCRIBE control frame directly,
// bypassing the SendHWM queue — subscription changes are not
// backpressured by application message volume.
func (c *Conn) SendSubscription(prefix []byte, subscribe bool) error {
	if c.poisoned.Load() {
		return api.ErrConnectionBroken()
	}
	encoded, err := c.drainSendBytes(c.machine.SendSubscription(prefix, subscribe))
	if err != nil {
		return err
	}
	return c.writeBytes(encoded)
}

// Recv blocks until one multipart message has been received, the
// connection is closed, or stop fires.
func (c *Conn) Recv(stop <-chan struct{}) ([][]byte, error) {
	select {
	case frames := <-c.recvCh:
		return frames, nil
	case <-c.closeCh:
		return nil, c.fatalErr()
	case <-stop:
		return nil, api.ErrWouldBlock()
	}
}

// Close terminates the connection and waits for the read loop to exit.
func (c *Conn) Close() error {
	c.fail(api.ErrConnectionBroken())
	err := c.nc.Close()
	c.wg.Wait()
	return err
}

// encodeMessage drives the session machine to produce the wire bytes for
// one multipart message, then copies them into a pool-backed Slab and
// freezes it: every queued message from here to the wire is a single
// refcounted ImmutableView, not a GC-managed []byte.
func (c *Conn) encodeMessage(frames [][]byte) (bufpool.ImmutableView, error) {
	chunks := make([][]byte, 0, len(frames))
	total := 0
	for i, f := range frames {
		more := i < len(frames)-1
		chunk, err := c.drainSendBytes(c.machine.SendFrame(f, more))
		if err != nil {
			return bufpool.ImmutableView{}, err
		}
		chunks = append(chunks, chunk)
		total += len(chunk)
	}
	slab := c.opts.Pool.Alloc(total)
	enc := bufpool.NewEncoder(slab)
	for _, chunk := range chunks {
		if _, err := enc.Write(chunk); err != nil {
			enc.Discard()
			return bufpool.ImmutableView{}, api.ErrTransport(err)
		}
	}
	return enc.Freeze(), nil
}

// drainSendBytes concatenates every SendBytes event's payload, surfacing
// the first ProtocolError instead if the machine refused to encode.
func (c *Conn) drainSendBytes(events []session.Event) ([]byte, error) {
	var out []byte
	for _, ev := range events {
		switch e := ev.(type) {
		case session.SendBytes:
			out = append(out, e.Data...)
		case session.ProtocolError:
			return nil, e.Err
		}
	}
	return out, nil
}

func (c *Conn) writeBytes(bufs ...[]byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.poisoned.Load() {
		return api.ErrConnectionBroken()
	}
	// Poison guard: arm before writing, disarm only once every buffer has
	// been written in full. A short write or error leaves the connection
	// permanently poisoned rather than risk resending a partial frame.
	armed := true
	defer func() {
		if armed {
			c.poisoned.Store(true)
		}
	}()
	for _, b := range bufs {
		if len(b) == 0 {
			continue
		}
		if _, err := c.nc.Write(b); err != nil {
			return api.ErrTransport(err)
		}
	}
	armed = false
	return nil
}

// readLoop is the buffer pool's only production consumer on the receive
// side: each pass checks out a fresh Slab, hands it to the kernel via
// Pool.Read, and freezes exactly the initialized prefix into an
// ImmutableView before the session machine ever sees the bytes. The slab
// is never retained past the Release below — anything the machine needs
// to keep past this call (an in-progress multipart frame, say) is already
// copied out into its own storage by session.Machine.OnBytes.
func (c *Conn) readLoop() {
	defer c.wg.Done()
	ctx := context.Background()
	for {
		slab := c.opts.Pool.Alloc(c.opts.ReadBufferSize)
		slab, n, err := c.opts.Pool.Read(ctx, c.nc, slab)
		if n > 0 {
			view := bufpool.Freeze(&slab, n)
			ok := c.dispatch(c.machine.OnBytes(view.Bytes()))
			view.Release()
			if !ok {
				return
			}
		} else {
			slab.Discard()
		}
		if err != nil {
			c.fail(api.ErrTransport(err))
			return
		}
	}
}

// dispatch applies every event to the connection's state, returning false
// once the connection has been poisoned and no further processing should
// happen.
func (c *Conn) dispatch(events []session.Event) bool {
	for _, ev := range events {
		switch e := ev.(type) {
		case session.SendBytes:
			if err := c.writeBytes(e.Data); err != nil {
				c.fail(err)
				return false
			}
		case session.FrameReceived:
			select {
			case c.recvCh <- e.Frames:
			case <-c.closeCh:
				return false
			}
		case session.HandshakeComplete:
			c.peerSocketType = e.PeerSocketType
			c.peerIdentity = e.PeerIdentity
			c.state.Store(int32(api.ConnActive))
			c.handshakeOnce.Do(func() { close(c.handshakeDone) })
		case session.ZAPRequired:
			if !c.resolveZAP(e.Request) {
				return false
			}
		case session.ProtocolError:
			c.logger.Warnw("session protocol error", "err", e.Err)
			c.fail(e.Err)
			return false
		case session.Closed:
			c.fail(api.ErrConnectionBroken())
			return false
		}
	}
	return true
}

// resolveZAP performs the blocking out-of-band authentication call the
// sans-I/O session machine cannot make itself, then resumes it.
func (c *Conn) resolveZAP(req zapauth.Request) bool {
	handler := zapauth.Current()
	var resp zapauth.Response
	if handler == nil {
		resp = zapauth.Response{StatusCode: 500, StatusText: "no ZAP handler registered"}
	} else {
		done := make(chan zapauth.Response, 1)
		go func() { done <- handler.Authenticate(req) }()
		select {
		case resp = <-done:
		case <-time.After(c.opts.ZAPTimeout):
			resp = zapauth.Response{StatusCode: 500, StatusText: "ZAP handler timed out"}
		}
	}
	return c.dispatch(c.machine.ResumeZAP(resp))
}

func (c *Conn) fail(err error) {
	c.errOnce.Do(func() {
		c.firstErr = err
		c.poisoned.Store(true)
		c.state.Store(int32(api.ConnClosed))
		close(c.closeCh)
	})
}

func (c *Conn) fatalErr() error {
	if c.firstErr != nil {
		return c.firstErr
	}
	return api.ErrConnectionBroken()
}
