package session

import (
	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/zapauth"
)

// Event is the sans-I/O output of a Machine transition. The engine switches
// on the concrete type.
type Event interface{ isSessionEvent() }

// SendBytes asks the engine to write Data to the wire verbatim.
type SendBytes struct{ Data []byte }

// FrameReceived carries one complete multipart message: Frames[i] are
// copies of the frame payloads in order, with the MORE sequence already
// validated and collapsed.
type FrameReceived struct{ Frames [][]byte }

// HandshakeComplete fires once READY has been exchanged in both
// directions; the session is now StateActive.
type HandshakeComplete struct {
	PeerSocketType api.SocketType
	PeerIdentity   []byte
}

// ProtocolError reports a wire-level violation or a refused operation. When
// OnBytes emits it the machine has closed and a Closed event follows;
// SendFrame and ResumeZAP can emit it alone.
type ProtocolError struct{ Err error }

// Closed marks the machine as terminally done; no further OnBytes/SendFrame
// calls are meaningful.
type Closed struct{}

// ZAPRequired is emitted by the server side of a PLAIN/CURVE handshake once
// credentials have been received; the engine must perform the (blocking,
// out-of-band) ZAP call and resume the machine via Machine.ResumeZAP.
type ZAPRequired struct{ Request zapauth.Request }

func (SendBytes) isSessionEvent()         {}
func (FrameReceived) isSessionEvent()     {}
func (HandshakeComplete) isSessionEvent() {}
func (ProtocolError) isSessionEvent()     {}
func (Closed) isSessionEvent()            {}
func (ZAPRequired) isSessionEvent()       {}
