package engine

import (
	"net"
	"testing"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/session"
)

func newConnPair(t *testing.T, opts Options) (*Conn, *Conn) {
	t.Helper()
	c1, c2 := net.Pipe()
	clientMachine := session.NewMachine(session.Config{Role: session.RoleClient, Mechanism: "NULL", SocketType: api.SocketDealer})
	serverMachine := session.NewMachine(session.Config{Role: session.RoleServer, Mechanism: "NULL", SocketType: api.SocketRouter, Identity: []byte("srv")})

	client := NewConn(c1, clientMachine, opts, nil)
	server := NewConn(c2, serverMachine, opts, nil)

	errCh := make(chan error, 2)
	go func() { errCh <- client.Start() }()
	go func() { errCh <- server.Start() }()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}

	hsCh := make(chan error, 2)
	go func() { hsCh <- client.WaitHandshake() }()
	go func() { hsCh <- server.WaitHandshake() }()
	for i := 0; i < 2; i++ {
		if err := <-hsCh; err != nil {
			t.Fatalf("handshake failed: %v", err)
		}
	}
	return client, server
}

func TestConnHandshakeExposesPeerMetadata(t *testing.T) {
	client, server := newConnPair(t, Options{})
	defer client.Close()
	defer server.Close()

	if server.PeerSocketType() != api.SocketDealer {
		t.Fatalf("expected server to see peer socket type DEALER, got %v", server.PeerSocketType())
	}
	if client.PeerSocketType() != api.SocketRouter {
		t.Fatalf("expected client to see peer socket type ROUTER, got %v", client.PeerSocketType())
	}
	if string(client.PeerIdentity()) != "srv" {
		t.Fatalf("expected client to learn server identity, got %q", client.PeerIdentity())
	}
}

func TestConnSendRecvRoundTrip(t *testing.T) {
	client, server := newConnPair(t, Options{})
	defer client.Close()
	defer server.Close()

	if err := client.Send([][]byte{[]byte("hello"), []byte("world")}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	frames, err := server.Recv(nil)
	if err != nil {
		t.Fatalf("recv failed: %v", err)
	}
	if len(frames) != 2 || string(frames[0]) != "hello" || string(frames[1]) != "world" {
		t.Fatalf("unexpected frames: %v", frames)
	}
}

func TestConnSendBatch(t *testing.T) {
	client, server := newConnPair(t, Options{})
	defer client.Close()
	defer server.Close()

	batch := [][][]byte{
		{[]byte("one")},
		{[]byte("two")},
		{[]byte("three")},
	}
	if err := client.SendBatch(batch); err != nil {
		t.Fatalf("send batch failed: %v", err)
	}
	for _, want := range []string{"one", "two", "three"} {
		frames, err := server.Recv(nil)
		if err != nil {
			t.Fatalf("recv failed: %v", err)
		}
		if len(frames) != 1 || string(frames[0]) != want {
			t.Fatalf("expected %q, got %v", want, frames)
		}
	}
}

func TestSendBufferedRespectsSendHWM(t *testing.T) {
	client, server := newConnPair(t, Options{SendHWM: 1})
	defer client.Close()
	defer server.Close()

	if err := client.SendBuffered([][]byte{[]byte("a")}); err != nil {
		t.Fatalf("first buffered send failed: %v", err)
	}
	err := client.SendBuffered([][]byte{[]byte("b")})
	if !api.IsCode(err, api.ErrCodeWouldBlock) {
		t.Fatalf("expected ErrWouldBlock once SendHWM is exceeded, got %v", err)
	}
}

func TestConnSendAfterCloseIsConnectionBroken(t *testing.T) {
	client, server := newConnPair(t, Options{})
	defer server.Close()

	client.Close()
	err := client.Send([][]byte{[]byte("late")})
	if !api.IsCode(err, api.ErrCodeConnectionBroken) {
		t.Fatalf("expected ErrConnectionBroken after Close, got %v", err)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	c1, c2 := net.Pipe()
	pubMachine := session.NewMachine(session.Config{Role: session.RoleServer, Mechanism: "NULL", SocketType: api.SocketPub})
	subMachine := session.NewMachine(session.Config{Role: session.RoleClient, Mechanism: "NULL", SocketType: api.SocketSub})
	pub := NewConn(c1, pubMachine, Options{}, nil)
	sub := NewConn(c2, subMachine, Options{}, nil)

	errCh := make(chan error, 2)
	go func() { errCh <- pub.Start() }()
	go func() { errCh <- sub.Start() }()
	for i := 0; i < 2; i++ {
		if err := <-errCh; err != nil {
			t.Fatalf("Start failed: %v", err)
		}
	}
	hsCh := make(chan error, 2)
	go func() { hsCh <- pub.WaitHandshake() }()
	go func() { hsCh <- sub.WaitHandshake() }()
	for i := 0; i < 2; i++ {
		if err := <-hsCh; err != nil {
			t.Fatalf("handshake failed: %v", err)
		}
	}
	defer pub.Close()
	defer sub.Close()

	if err := sub.SendSubscription([]byte("topic."), true); err != nil {
		t.Fatalf("send subscription failed: %v", err)
	}
	frames, err := pub.Recv(nil)
	if err != nil {
		t.Fatalf("recv subscription frame failed: %v", err)
	}
	if len(frames) != 1 || frames[0][0] != 1 || string(frames[0][1:]) != "topic." {
		t.Fatalf("unexpected subscription frame: %v", frames)
	}
}
