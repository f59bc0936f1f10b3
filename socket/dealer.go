package socket

import (
	"context"
	"sync"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/endpoint"
	"github.com/monocoque/monocoque/engine"
)

// Dealer is a client-initiated, reconnecting socket that passes inbound
// and outbound multipart messages through unchanged, with no routing
// envelope.
type Dealer struct {
	opts Options
	mon  *monitor

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *engine.Conn
}

// NewDealer constructs a Dealer; call Connect before Send/Recv.
func NewDealer(opts Options) *Dealer {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Dealer{opts: opts, mon: newMonitor(opts.MonitorCapacity), ctx: ctx, cancel: cancel}
}

// Connect starts a reconnecting dial loop against raw (e.g.
// "tcp://host:port"). It returns once the endpoint string has been parsed;
// the first connection attempt happens asynchronously.
func (d *Dealer) Connect(raw string) error {
	ep, err := endpoint.Parse(raw)
	if err != nil {
		return err
	}
	dial := func(ctx context.Context) (*engine.Conn, error) {
		return dialConn(ctx, ep, api.SocketDealer, d.opts, d.mon)
	}
	r := engine.NewReconnector(dial, nil, engine.ReconnectOptions{
		MinBackoff: d.opts.ReconnectIVL,
		MaxBackoff: d.opts.ReconnectIVLMax,
	}, nil)
	go r.Run(d.ctx, func(c *engine.Conn) {
		d.mu.Lock()
		d.conn = c
		d.mu.Unlock()
	})
	return nil
}

func (d *Dealer) current() (*engine.Conn, error) {
	d.mu.Lock()
	c := d.conn
	d.mu.Unlock()
	if c == nil {
		return nil, api.ErrConnectionBroken()
	}
	return c, nil
}

// Send queues and flushes one multipart message on the current connection.
func (d *Dealer) Send(frames [][]byte) error {
	c, err := d.current()
	if err != nil {
		return err
	}
	return c.Send(frames)
}

// SendBuffered queues a message without flushing.
func (d *Dealer) SendBuffered(frames [][]byte) error {
	c, err := d.current()
	if err != nil {
		return err
	}
	return c.SendBuffered(frames)
}

// Flush writes every message queued by SendBuffered.
func (d *Dealer) Flush() error {
	c, err := d.current()
	if err != nil {
		return err
	}
	return c.Flush()
}

// SendBatch queues and flushes every message in messages together.
func (d *Dealer) SendBatch(messages [][][]byte) error {
	c, err := d.current()
	if err != nil {
		return err
	}
	return c.SendBatch(messages)
}

// Recv blocks for the next inbound multipart message on the current
// connection.
func (d *Dealer) Recv() ([][]byte, error) {
	c, err := d.current()
	if err != nil {
		return nil, err
	}
	return c.Recv(d.ctx.Done())
}

// Monitor exposes the socket's lifecycle event stream.
func (d *Dealer) Monitor() <-chan api.MonitorEvent { return d.mon.Events() }

// Close stops the reconnect loop and tears down the current connection.
func (d *Dealer) Close() error {
	d.cancel()
	if c, err := d.current(); err == nil {
		return c.Close()
	}
	return nil
}
