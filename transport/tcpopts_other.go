//go:build !linux

package transport

import (
	"net"
	"time"
)

func secondsToDuration(s int) time.Duration { return time.Duration(s) * time.Second }

// applyTCPOptions falls back to the portable net.TCPConn knobs on
// platforms where we don't reach for golang.org/x/sys/unix's raw
// setsockopt surface.
func applyTCPOptions(conn *net.TCPConn, opts Options) {
	if opts.TCPNoDelay {
		conn.SetNoDelay(true)
	}
	if opts.KeepAlive {
		conn.SetKeepAlive(true)
		if opts.KeepAliveIdle > 0 {
			conn.SetKeepAlivePeriod(secondsToDuration(opts.KeepAliveIdle))
		}
	}
}
