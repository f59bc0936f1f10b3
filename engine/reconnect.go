package engine

import (
	"context"
	"math/rand"
	"time"

	"github.com/monocoque/monocoque/api"
)

// DefaultReconnectMinBackoff and DefaultReconnectMaxBackoff bound the
// exponential backoff applied between dial attempts for client-initiated
// socket types (DEALER, REQ, SUB, XSUB, PULL).
const (
	DefaultReconnectMinBackoff = 100 * time.Millisecond
	DefaultReconnectMaxBackoff = 30 * time.Second
)

// ReconnectOptions configures a Reconnector's backoff curve.
type ReconnectOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (o ReconnectOptions) withDefaults() ReconnectOptions {
	if o.MinBackoff <= 0 {
		o.MinBackoff = DefaultReconnectMinBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = DefaultReconnectMaxBackoff
	}
	return o
}

// NextBackoff returns the jittered delay before dial attempt number
// attempt (0-based): base doubles each attempt up to MaxBackoff, then a
// uniform +-25% jitter is applied so many reconnecting peers don't retry
// in lockstep.
func (o ReconnectOptions) NextBackoff(attempt int) time.Duration {
	o = o.withDefaults()
	base := o.MinBackoff
	for i := 0; i < attempt; i++ {
		if base >= o.MaxBackoff {
			base = o.MaxBackoff
			break
		}
		base *= 2
	}
	if base > o.MaxBackoff {
		base = o.MaxBackoff
	}
	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(float64(base) * jitter)
}

// DialFunc establishes one new Conn, performing transport dial plus the
// ZMTP greeting/handshake. It must return a Conn that has already had
// Start called.
type DialFunc func(ctx context.Context) (*Conn, error)

// Reconnector repeatedly dials with backoff for client-initiated socket
// types, handing each established Conn to a caller-supplied callback and
// re-dialing once that Conn terminates.
type Reconnector struct {
	opts        ReconnectOptions
	dial        DialFunc
	onConnected func(*Conn) error
	logger      api.Logger
}

// NewReconnector constructs a Reconnector. onConnected runs once per new
// Conn after its handshake completes — SUB/XSUB sockets use it to replay
// their active subscription set; other socket types may pass nil.
func NewReconnector(dial DialFunc, onConnected func(*Conn) error, opts ReconnectOptions, logger api.Logger) *Reconnector {
	if logger == nil {
		logger = api.NopLogger{}
	}
	return &Reconnector{opts: opts.withDefaults(), dial: dial, onConnected: onConnected, logger: logger}
}

// Run blocks until ctx is cancelled, invoking next with each newly
// established Conn and waiting for it to terminate before redialing.
func (r *Reconnector) Run(ctx context.Context, next func(*Conn)) {
	attempt := 0
	for ctx.Err() == nil {
		conn, err := r.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warnw("dial failed, backing off", "attempt", attempt, "err", err)
			r.sleep(ctx, attempt)
			attempt++
			continue
		}
		if err := conn.WaitHandshake(); err != nil {
			r.logger.Warnw("handshake failed, backing off", "attempt", attempt, "err", err)
			conn.Close()
			r.sleep(ctx, attempt)
			attempt++
			continue
		}
		if r.onConnected != nil {
			if err := r.onConnected(conn); err != nil {
				r.logger.Warnw("post-connect setup failed, backing off", "attempt", attempt, "err", err)
				conn.Close()
				r.sleep(ctx, attempt)
				attempt++
				continue
			}
		}
		attempt = 0
		next(conn)

		select {
		case <-conn.Done():
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

func (r *Reconnector) sleep(ctx context.Context, attempt int) {
	d := r.opts.NextBackoff(attempt)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
