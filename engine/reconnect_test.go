package engine

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/session"
)

func TestNextBackoffStaysWithinBounds(t *testing.T) {
	opts := ReconnectOptions{MinBackoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	for attempt := 0; attempt < 10; attempt++ {
		d := opts.NextBackoff(attempt)
		if d <= 0 {
			t.Fatalf("expected positive backoff at attempt %d, got %v", attempt, d)
		}
		if d > opts.MaxBackoff+opts.MaxBackoff/4+time.Millisecond {
			t.Fatalf("backoff exceeded max*1.25 at attempt %d: %v", attempt, d)
		}
	}
}

func TestNextBackoffAppliesJitter(t *testing.T) {
	opts := ReconnectOptions{MinBackoff: 100 * time.Millisecond, MaxBackoff: 10 * time.Second}
	seen := map[time.Duration]bool{}
	for i := 0; i < 20; i++ {
		seen[opts.NextBackoff(0)] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected jitter to produce varying backoff values across calls")
	}
}

func TestReconnectorRedialsAfterConnCloses(t *testing.T) {
	var attempts int32

	dial := func(ctx context.Context) (*Conn, error) {
		atomic.AddInt32(&attempts, 1)
		c1, c2 := net.Pipe()
		clientMachine := session.NewMachine(session.Config{Role: session.RoleClient, Mechanism: "NULL", SocketType: api.SocketDealer})
		serverMachine := session.NewMachine(session.Config{Role: session.RoleServer, Mechanism: "NULL", SocketType: api.SocketRouter})
		server := NewConn(c2, serverMachine, Options{}, nil)
		client := NewConn(c1, clientMachine, Options{}, nil)
		go server.Start()
		if err := client.Start(); err != nil {
			return nil, err
		}
		return client, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connected := make(chan *Conn, 8)
	r := NewReconnector(dial, nil, ReconnectOptions{MinBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}, nil)
	go r.Run(ctx, func(c *Conn) {
		connected <- c
		go func() {
			time.Sleep(2 * time.Millisecond)
			c.Close()
		}()
	})

	first := <-connected
	if first == nil {
		t.Fatal("expected a non-nil first connection")
	}
	second := <-connected
	if second == nil {
		t.Fatal("expected a non-nil second connection after reconnect")
	}
	if atomic.LoadInt32(&attempts) < 2 {
		t.Fatalf("expected at least 2 dial attempts, got %d", attempts)
	}
}
