package socket

import (
	"testing"
	"time"
)

func TestPubSubDeliversOnlyMatchingTopic(t *testing.T) {
	ep := ipcEndpoint(t)

	pub := NewPub(Options{})
	if err := pub.Bind(ep); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer pub.Close()

	sub := NewSub(Options{})
	if err := sub.Connect(ep); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer sub.Close()
	if err := sub.Subscribe([]byte("weather.")); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Let the subscription propagate to the publisher's index before
	// publishing, since there's no ack for SUBSCRIBE on the wire.
	time.Sleep(50 * time.Millisecond)

	for i := 0; i < 20; i++ {
		if err := pub.Send([][]byte{[]byte("weather.sf"), []byte("sunny")}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
		if err := pub.Send([][]byte{[]byte("sports.score"), []byte("1-0")}); err != nil {
			t.Fatalf("publish failed: %v", err)
		}
	}

	recvCh := make(chan [][]byte, 1)
	go func() {
		frames, err := sub.Recv()
		if err == nil {
			recvCh <- frames
		}
	}()

	select {
	case frames := <-recvCh:
		if len(frames) != 2 || string(frames[0]) != "weather.sf" || string(frames[1]) != "sunny" {
			t.Fatalf("unexpected delivery: %v", frames)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for matching delivery")
	}
}

func TestXSubReceivesUnfilteredAndSendsRawSubscribe(t *testing.T) {
	ep := ipcEndpoint(t)

	pub := NewPub(Options{})
	if err := pub.Bind(ep); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer pub.Close()

	xsub := NewXSub(Options{})
	if err := xsub.Connect(ep); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer xsub.Close()

	waitFor(t, 2*time.Second, func() bool {
		xsub.mu.Lock()
		defer xsub.mu.Unlock()
		return xsub.conn != nil
	})

	if err := xsub.Send([][]byte{{0x01}}); err != nil {
		t.Fatalf("raw subscribe send failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	if err := pub.Send([][]byte{[]byte("anything"), []byte("payload")}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	recvCh := make(chan [][]byte, 1)
	go func() {
		frames, err := xsub.Recv()
		if err == nil {
			recvCh <- frames
		}
	}()

	select {
	case frames := <-recvCh:
		if len(frames) != 2 || string(frames[0]) != "anything" {
			t.Fatalf("unexpected delivery: %v", frames)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unfiltered delivery")
	}
}
