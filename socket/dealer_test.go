package socket

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

func ipcEndpoint(t *testing.T) string {
	t.Helper()
	return "ipc://" + filepath.Join(t.TempDir(), fmt.Sprintf("sock-%d", time.Now().UnixNano()))
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}

func TestDealerRouterRoundTrip(t *testing.T) {
	ep := ipcEndpoint(t)

	router := NewRouter(Options{})
	if err := router.Bind(ep); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer router.Close()

	dealer := NewDealer(Options{Identity: []byte("cli")})
	if err := dealer.Connect(ep); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer dealer.Close()

	waitFor(t, 2*time.Second, func() bool {
		c, err := dealer.current()
		return err == nil && c != nil
	})

	if err := dealer.Send([][]byte{[]byte("ping")}); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	frames, err := router.Recv()
	if err != nil {
		t.Fatalf("router recv failed: %v", err)
	}
	if len(frames) != 3 || string(frames[0]) != "cli" || len(frames[1]) != 0 || string(frames[2]) != "ping" {
		t.Fatalf("unexpected envelope: %v", frames)
	}

	if err := router.Send([][]byte{[]byte("cli"), {}, []byte("pong")}); err != nil {
		t.Fatalf("router send failed: %v", err)
	}
	reply, err := dealer.Recv()
	if err != nil {
		t.Fatalf("dealer recv failed: %v", err)
	}
	if len(reply) != 1 || string(reply[0]) != "pong" {
		t.Fatalf("unexpected reply: %v", reply)
	}
}

func TestRouterSendToUnknownIdentityMandatory(t *testing.T) {
	ep := ipcEndpoint(t)
	router := NewRouter(Options{RouterMandatory: true})
	if err := router.Bind(ep); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer router.Close()

	err := router.Send([][]byte{[]byte("ghost"), {}, []byte("hi")})
	if err == nil {
		t.Fatalf("expected host-unreachable error for unknown identity")
	}
}

func TestRouterSendToUnknownIdentitySilentDrop(t *testing.T) {
	ep := ipcEndpoint(t)
	router := NewRouter(Options{})
	if err := router.Bind(ep); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer router.Close()

	if err := router.Send([][]byte{[]byte("ghost"), {}, []byte("hi")}); err != nil {
		t.Fatalf("expected silent drop, got error: %v", err)
	}
}
