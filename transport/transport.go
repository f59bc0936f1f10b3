// Package transport provides the TCP/Unix dial and listen helpers the
// connection engine builds on, plus the platform-specific socket option
// tuning (TCP_NODELAY, keepalive) ZMTP connections want.
package transport

import (
	"context"
	"net"

	"github.com/monocoque/monocoque/endpoint"
)

// Options configures the socket-level knobs applied to a freshly dialed or
// accepted TCP connection. Zero values leave the OS default in place.
type Options struct {
	TCPNoDelay     bool
	KeepAlive      bool
	KeepAliveIdle  int // seconds
	KeepAliveIntvl int // seconds
	KeepAliveCount int
}

// Dial connects to ep, applying opts to TCP connections. IPC (Unix-domain)
// endpoints ignore opts.
func Dial(ctx context.Context, ep endpoint.Endpoint, opts Options) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, ep.Network(), ep.Address())
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		applyTCPOptions(tcpConn, opts)
	}
	return conn, nil
}

// Listener wraps net.Listener, applying Options to every accepted
// connection.
type Listener struct {
	net.Listener
	opts Options
}

// Listen binds ep, returning a Listener that tunes every Accept()ed
// connection per opts.
func Listen(ep endpoint.Endpoint, opts Options) (*Listener, error) {
	l, err := net.Listen(ep.Network(), ep.Address())
	if err != nil {
		return nil, err
	}
	return &Listener{Listener: l, opts: opts}, nil
}

// Accept waits for and returns the next connection, tuned per opts.
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		applyTCPOptions(tcpConn, l.opts)
	}
	return conn, nil
}
