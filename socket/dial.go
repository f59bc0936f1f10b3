package socket

import (
	"context"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/endpoint"
	"github.com/monocoque/monocoque/engine"
	"github.com/monocoque/monocoque/session"
	"github.com/monocoque/monocoque/transport"
)

func buildMachine(role session.Role, socketType api.SocketType, opts Options) *session.Machine {
	return session.NewMachine(session.Config{
		Role:          role,
		Mechanism:     opts.Mechanism,
		SocketType:    socketType,
		Identity:      opts.Identity,
		PlainUsername: opts.PlainUsername,
		PlainPassword: opts.PlainPassword,
	})
}

func connEngineOptions(opts Options) engine.Options {
	return engine.Options{SendHWM: opts.SendHWM, RecvHWM: opts.RecvHWM}
}

// dialConn establishes a transport connection, runs the ZMTP handshake
// under opts.ConnectTimeout/opts.HandshakeTimeout, and returns a started,
// handshaken engine.Conn.
func dialConn(ctx context.Context, ep endpoint.Endpoint, socketType api.SocketType, opts Options, mon *monitor) (*engine.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, opts.ConnectTimeout)
	defer cancel()

	nc, err := transport.Dial(dialCtx, ep, transport.Options{TCPNoDelay: opts.TCPNoDelay})
	if err != nil {
		mon.emit(api.EventConnectFailed, ep.String(), err.Error())
		return nil, api.ErrTransport(err)
	}
	mon.emit(api.EventConnected, ep.String(), "")

	machine := buildMachine(session.RoleClient, socketType, opts)
	conn := engine.NewConn(nc, machine, connEngineOptions(opts), nil)
	if err := conn.Start(); err != nil {
		mon.emit(api.EventHandshakeFailed, ep.String(), err.Error())
		return nil, err
	}
	if err := waitHandshake(ctx, conn, opts, mon, ep.String()); err != nil {
		return nil, err
	}
	return conn, nil
}

func waitHandshake(ctx context.Context, conn *engine.Conn, opts Options, mon *monitor, ep string) error {
	hsCtx, cancel := context.WithTimeout(ctx, opts.HandshakeTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- conn.WaitHandshake() }()
	select {
	case err := <-done:
		if err != nil {
			mon.emit(api.EventHandshakeFailed, ep, err.Error())
			conn.Close()
			return err
		}
		mon.emit(api.EventHandshakeSucceeded, ep, "")
		return nil
	case <-hsCtx.Done():
		conn.Close()
		mon.emit(api.EventHandshakeFailed, ep, "handshake-timeout")
		return api.ErrHandshakeTimeout()
	}
}

// acceptor wraps a bound transport.Listener, handshaking each accepted
// connection with the owning socket's role and type.
type acceptor struct {
	ln         *transport.Listener
	ep         endpoint.Endpoint
	socketType api.SocketType
	opts       Options
	mon        *monitor
}

func bindAcceptor(ep endpoint.Endpoint, socketType api.SocketType, opts Options, mon *monitor) (*acceptor, error) {
	ln, err := transport.Listen(ep, transport.Options{TCPNoDelay: opts.TCPNoDelay})
	if err != nil {
		mon.emit(api.EventBindFailed, ep.String(), err.Error())
		return nil, api.ErrTransport(err)
	}
	mon.emit(api.EventBound, ep.String(), "")
	mon.emit(api.EventListening, ep.String(), "")
	return &acceptor{ln: ln, ep: ep, socketType: socketType, opts: opts, mon: mon}, nil
}

// accept blocks for the next incoming connection, starts its handshake,
// and returns immediately — the handshake itself proceeds asynchronously
// and its outcome is only observable via Monitor or the first Send/Recv.
func (a *acceptor) accept() (*engine.Conn, error) {
	nc, err := a.ln.Accept()
	if err != nil {
		return nil, api.ErrTransport(err)
	}
	a.mon.emit(api.EventAccepted, a.ep.String(), "")

	machine := buildMachine(session.RoleServer, a.socketType, a.opts)
	conn := engine.NewConn(nc, machine, connEngineOptions(a.opts), nil)
	if err := conn.Start(); err != nil {
		a.mon.emit(api.EventHandshakeFailed, a.ep.String(), err.Error())
		return nil, err
	}
	go func() {
		if err := conn.WaitHandshake(); err != nil {
			a.mon.emit(api.EventHandshakeFailed, a.ep.String(), err.Error())
			return
		}
		a.mon.emit(api.EventHandshakeSucceeded, a.ep.String(), "")
	}()
	return conn, nil
}

func (a *acceptor) Close() error { return a.ln.Close() }
