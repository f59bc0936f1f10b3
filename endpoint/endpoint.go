// Package endpoint parses and renders the ZMTP transport endpoint strings
// used by bind/connect: tcp://host:port, tcp://[v6]:port, and
// ipc:///path/to/socket.
package endpoint

import (
	"net"
	"runtime"
	"strconv"
	"strings"

	"github.com/monocoque/monocoque/api"
)

// Scheme identifies the transport an Endpoint addresses.
type Scheme int

const (
	SchemeUnknown Scheme = iota
	SchemeTCP
	SchemeIPC
)

func (s Scheme) String() string {
	switch s {
	case SchemeTCP:
		return "tcp"
	case SchemeIPC:
		return "ipc"
	default:
		return "unknown"
	}
}

// Endpoint is a parsed bind/connect target.
type Endpoint struct {
	Scheme Scheme
	Host   string // TCP only
	Port   int    // TCP only
	Path   string // IPC only
}

// Network returns the net.Dial/net.Listen network name for this endpoint.
func (e Endpoint) Network() string {
	switch e.Scheme {
	case SchemeTCP:
		return "tcp"
	case SchemeIPC:
		return "unix"
	default:
		return ""
	}
}

// Address returns the net.Dial/net.Listen address for this endpoint.
func (e Endpoint) Address() string {
	switch e.Scheme {
	case SchemeTCP:
		return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
	case SchemeIPC:
		return e.Path
	default:
		return ""
	}
}

func (e Endpoint) String() string {
	switch e.Scheme {
	case SchemeTCP:
		return "tcp://" + e.Address()
	case SchemeIPC:
		return "ipc://" + e.Path
	default:
		return ""
	}
}

// Parse validates and decomposes an endpoint string. Unknown schemes are
// rejected; ipc:// is rejected outside Unix-like platforms.
func Parse(raw string) (Endpoint, error) {
	switch {
	case strings.HasPrefix(raw, "tcp://"):
		return parseTCP(raw[len("tcp://"):])
	case strings.HasPrefix(raw, "ipc://"):
		if runtime.GOOS == "windows" {
			return Endpoint{}, api.ErrEndpointInvalid("ipc:// is Unix-only")
		}
		path := raw[len("ipc://"):]
		if path == "" {
			return Endpoint{}, api.ErrEndpointInvalid("ipc:// requires a path")
		}
		return Endpoint{Scheme: SchemeIPC, Path: path}, nil
	default:
		return Endpoint{}, api.ErrEndpointInvalid("unknown or missing scheme in " + raw)
	}
}

func parseTCP(hostport string) (Endpoint, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Endpoint{}, api.ErrEndpointInvalid("malformed tcp host:port: " + err.Error())
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 0 || port > 65535 {
		return Endpoint{}, api.ErrEndpointInvalid("invalid tcp port: " + portStr)
	}
	return Endpoint{Scheme: SchemeTCP, Host: host, Port: port}, nil
}
