//go:build linux

package transport

import (
	"net"

	"golang.org/x/sys/unix"
)

// applyTCPOptions sets TCP_NODELAY and keepalive parameters directly via
// the raw socket, the same setsockopt calls hioload-ws's Linux transport
// makes when it provisions a connection, rather than going through the
// coarser net.TCPConn.SetNoDelay/SetKeepAlive helpers.
func applyTCPOptions(conn *net.TCPConn, opts Options) {
	raw, err := conn.SyscallConn()
	if err != nil {
		return
	}
	raw.Control(func(fd uintptr) {
		if opts.TCPNoDelay {
			unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		}
		if opts.KeepAlive {
			unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)
			if opts.KeepAliveIdle > 0 {
				unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, opts.KeepAliveIdle)
			}
			if opts.KeepAliveIntvl > 0 {
				unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, opts.KeepAliveIntvl)
			}
			if opts.KeepAliveCount > 0 {
				unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, opts.KeepAliveCount)
			}
		}
	})
}
