package socket

import (
	"testing"
	"time"

	"github.com/monocoque/monocoque/api"
)

func TestReqRepRoundTrip(t *testing.T) {
	ep := ipcEndpoint(t)

	rep := NewRep(Options{})
	if err := rep.Bind(ep); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer rep.Close()

	req := NewReq(Options{})
	if err := req.Connect(ep); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer req.Close()

	waitFor(t, 2*time.Second, func() bool {
		req.mu.Lock()
		defer req.mu.Unlock()
		return req.conn != nil
	})

	if err := req.Send([][]byte{[]byte("question")}); err != nil {
		t.Fatalf("req send failed: %v", err)
	}

	request, err := rep.Recv()
	if err != nil {
		t.Fatalf("rep recv failed: %v", err)
	}
	if len(request) != 1 || string(request[0]) != "question" {
		t.Fatalf("unexpected request: %v", request)
	}

	if err := rep.Send([][]byte{[]byte("answer")}); err != nil {
		t.Fatalf("rep send failed: %v", err)
	}

	reply, err := req.Recv()
	if err != nil {
		t.Fatalf("req recv failed: %v", err)
	}
	if len(reply) != 1 || string(reply[0]) != "answer" {
		t.Fatalf("unexpected reply: %v", reply)
	}
}

func TestReqSendWhileAwaitingReplyFailsWithoutRelaxed(t *testing.T) {
	ep := ipcEndpoint(t)
	rep := NewRep(Options{})
	if err := rep.Bind(ep); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer rep.Close()

	req := NewReq(Options{})
	if err := req.Connect(ep); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer req.Close()

	waitFor(t, 2*time.Second, func() bool {
		req.mu.Lock()
		defer req.mu.Unlock()
		return req.conn != nil
	})

	if err := req.Send([][]byte{[]byte("first")}); err != nil {
		t.Fatalf("first send failed: %v", err)
	}
	err := req.Send([][]byte{[]byte("second")})
	if !api.IsCode(err, api.ErrCodeInvalidState) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

func TestRepSendWithoutRecvFails(t *testing.T) {
	rep := NewRep(Options{})
	err := rep.Send([][]byte{[]byte("unsolicited")})
	if !api.IsCode(err, api.ErrCodeInvalidState) {
		t.Fatalf("expected invalid-state error, got %v", err)
	}
}

// TestReqCorrelateMismatchIsProtocolError verifies that a reply lacking
// the expected correlation counter fails Recv immediately with a protocol
// error and closes the connection, rather than blocking forever waiting
// for a matching reply that will never arrive.
func TestReqCorrelateMismatchIsProtocolError(t *testing.T) {
	ep := ipcEndpoint(t)

	rep := NewRep(Options{ReqCorrelate: true})
	if err := rep.Bind(ep); err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	defer rep.Close()

	req := NewReq(Options{ReqCorrelate: true})
	if err := req.Connect(ep); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer req.Close()

	waitFor(t, 2*time.Second, func() bool {
		req.mu.Lock()
		defer req.mu.Unlock()
		return req.conn != nil
	})

	if err := req.Send([][]byte{[]byte("question")}); err != nil {
		t.Fatalf("req send failed: %v", err)
	}

	// Rep has no notion of req_correlate: it sees the raw wire frames,
	// counter tag included, and it's the application's job to echo it
	// back. Here the reply intentionally omits it.
	request, err := rep.Recv()
	if err != nil {
		t.Fatalf("rep recv failed: %v", err)
	}
	if len(request) != 2 || string(request[1]) != "question" {
		t.Fatalf("unexpected request: %v", request)
	}

	if err := rep.Send([][]byte{[]byte("answer")}); err != nil {
		t.Fatalf("rep send failed: %v", err)
	}

	_, err = req.Recv()
	if !api.IsCode(err, api.ErrCodeProtocolError) {
		t.Fatalf("expected protocol error, got %v", err)
	}
}
