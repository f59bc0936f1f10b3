// Package socket implements the pattern-specific wrappers over one or more
// engine.Conn: DEALER, ROUTER, REQ, REP, PUB, SUB, XPUB, XSUB, PUSH, PULL,
// and PAIR. Each type exposes the same connect/bind/accept/send/recv/
// monitor/close surface; the pattern-specific behavior lives in how it
// routes frames to and from its underlying connections.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package socket

import "time"

// Options configures one socket's handshake, backpressure, and
// pattern-specific behavior. Zero-value fields take the documented
// defaults in withDefaults.
type Options struct {
	Mechanism     string // "NULL" (default), "PLAIN", or "CURVE"
	Identity      []byte
	PlainUsername string
	PlainPassword string

	SendHWM int // default engine.DefaultSendHWM
	RecvHWM int // default engine.DefaultRecvHWM

	HandshakeTimeout time.Duration // default 10s
	ConnectTimeout   time.Duration // default 10s
	ReconnectIVL     time.Duration // default engine.DefaultReconnectMinBackoff
	ReconnectIVLMax  time.Duration // default engine.DefaultReconnectMaxBackoff

	TCPNoDelay bool // default true

	// RouterMandatory makes ROUTER.Send fail with host-unreachable instead
	// of silently dropping a message addressed to an unknown identity.
	RouterMandatory bool
	// RouterHandover lets a new connection claiming an already-registered
	// identity evict the old one instead of being rejected.
	RouterHandover bool

	// ReqRelaxed allows REQ.Send while AwaitingReply, abandoning the
	// outstanding request instead of failing invalid-state.
	ReqRelaxed bool
	// ReqCorrelate prepends a 4-byte big-endian request counter ahead of
	// the empty delimiter on every REQ send, and validates it on recv.
	ReqCorrelate bool

	// XPubVerbose delivers duplicate SUBSCRIBE notifications to the user
	// instead of suppressing them.
	XPubVerbose bool
	// XPubManual suppresses automatic subscription-index updates; the
	// user must call XPub.SubscribePeer/UnsubscribePeer explicitly.
	XPubManual bool

	// MonitorCapacity bounds the lossy event channel returned by Monitor.
	MonitorCapacity int // default 64

	// FanoutWorkers sizes PUB/XPUB's worker pool; <=0 uses runtime.NumCPU().
	FanoutWorkers int
	// FanoutSendTimeout caps how long a single slow PUB/XPUB subscriber
	// may stall a delivery before being poisoned.
	FanoutSendTimeout time.Duration // default pubsub.DefaultSendTimeout
}

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultConnectTimeout   = 10 * time.Second
	defaultMonitorCapacity  = 64
)

func (o Options) withDefaults() Options {
	if o.Mechanism == "" {
		o.Mechanism = "NULL"
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = defaultConnectTimeout
	}
	if o.MonitorCapacity <= 0 {
		o.MonitorCapacity = defaultMonitorCapacity
	}
	return o
}
