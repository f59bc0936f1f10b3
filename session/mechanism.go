package session

import (
	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/wire"
	"github.com/monocoque/monocoque/zapauth"
)

// mechanismState tracks progress through the selected security mechanism's
// handshake, independent of the coarse State.
type mechanismState int

const (
	mechAwaitingPeer mechanismState = iota // sent our half, waiting on peer's HELLO/READY
	mechAwaitingZAP                        // server: credentials received, ZAP call in flight
	mechReadySent                          // our READY sent, waiting for peer's READY
	mechDone
)

// startMechanism is called once the greeting exchange completes. It emits
// whatever bytes this mechanism's handshake initiates.
func (m *Machine) startMechanism() []Event {
	switch m.cfg.Mechanism {
	case "NULL":
		m.mechanismSub = mechReadySent
		return []Event{SendBytes{Data: m.encodeReadyCommand()}}
	case "PLAIN":
		if m.cfg.Role == RoleClient {
			m.mechanismSub = mechAwaitingPeer
			return []Event{SendBytes{Data: m.encodeCommandFrame(encodePlainHello(m.cfg.PlainUsername, m.cfg.PlainPassword))}}
		}
		m.mechanismSub = mechAwaitingPeer
		return nil
	case "CURVE":
		return m.startCurve()
	default:
		m.state = StateClosed
		return []Event{ProtocolError{Err: api.ErrProtocol("unknown-mechanism", m.cfg.Mechanism)}, Closed{}}
	}
}

func (m *Machine) encodeReadyCommand() []byte {
	body := wire.EncodeReady(m.cfg.SocketType, m.cfg.Identity)
	return wire.Encode(nil, body, false, true)
}

func (m *Machine) encodeCommandFrame(body []byte) []byte {
	return wire.Encode(nil, body, false, true)
}

// feedFrames decodes complete wire frames from data and dispatches each to
// the mechanism or data-plane handler depending on state. It accumulates
// into events.
func (m *Machine) feedFrames(data []byte, events *[]Event) (bool, error) {
	return true, m.decoder.Feed(data, func(f wire.Frame) error {
		if f.Command {
			return m.handleCommandFrame(f, events)
		}
		return m.handleDataFrame(f, events)
	})
}

func (m *Machine) handleCommandFrame(f wire.Frame, events *[]Event) error {
	name, body, err := wire.ParseCommandName(f.Body)
	if err != nil {
		return err
	}
	switch name {
	case wire.CmdReady:
		meta, err := wire.DecodeReady(body)
		if err != nil {
			return err
		}
		m.peerMeta = meta
		m.peerReady = true
		return m.maybeCompleteHandshake(events)
	case wire.CmdHello:
		return m.handlePlainOrCurveHello(body, events)
	case wire.CmdWelcome:
		if m.cfg.Mechanism == "CURVE" {
			return m.handleCurveWelcome(body, events)
		}
		// PLAIN client: credentials accepted, proceed to READY.
		m.mechanismSub = mechReadySent
		*events = append(*events, SendBytes{Data: m.encodeReadyCommand()})
		return nil
	case wire.CmdInitiate:
		return m.handleCurveInitiate(body, events)
	case wire.CmdError:
		return api.ErrHandshakeFailed("peer sent ERROR during handshake")
	case wire.CmdPing:
		*events = append(*events, SendBytes{Data: m.encodeCommandFrame(wire.EncodePong(nil))})
		return nil
	case wire.CmdPong:
		return nil
	default:
		return api.ErrProtocol("unknown-command", name)
	}
}

func (m *Machine) handleDataFrame(f wire.Frame, events *[]Event) error {
	if m.state != StateActive {
		return api.ErrProtocol("unexpected-data-frame", "data frame before handshake completed")
	}
	plain, err := m.DecryptFrame(f.Body)
	if err != nil {
		return err
	}
	body := make([]byte, len(plain))
	copy(body, plain)
	m.inFlight = append(m.inFlight, body)
	if !f.More {
		frames := m.inFlight
		m.inFlight = nil
		*events = append(*events, FrameReceived{Frames: frames})
	}
	return nil
}

func (m *Machine) handlePlainOrCurveHello(body []byte, events *[]Event) error {
	switch m.cfg.Mechanism {
	case "PLAIN":
		if m.cfg.Role != RoleServer {
			return api.ErrProtocol("unexpected-hello", "HELLO received on client side")
		}
		username, password, err := decodePlainHello(body)
		if err != nil {
			return err
		}
		m.zap = &pendingZAP{req: zapauth.Request{
			Mechanism:   "PLAIN",
			Credentials: [][]byte{[]byte(username), []byte(password)},
		}}
		m.mechanismSub = mechAwaitingZAP
		*events = append(*events, ZAPRequired{Request: m.zap.req})
		return nil
	case "CURVE":
		return m.handleCurveHello(body, events)
	default:
		return api.ErrProtocol("unexpected-hello", "HELLO not valid for this mechanism")
	}
}

// ResumeZAP is called by the engine once the out-of-band ZAP handler has
// answered a ZAPRequired event.
func (m *Machine) ResumeZAP(resp zapauth.Response) []Event {
	if m.zap == nil {
		return []Event{ProtocolError{Err: api.ErrInvalidState("ResumeZAP without a pending ZAP request")}}
	}
	resumeCurve := m.zap.resumeCurve
	m.zap = nil
	if resp.StatusCode != 200 {
		m.state = StateClosed
		return []Event{
			SendBytes{Data: m.encodeCommandFrame(wire.EncodeError(resp.StatusText))},
			ProtocolError{Err: api.ErrHandshakeFailed(resp.StatusText)},
			Closed{},
		}
	}
	if resumeCurve {
		return m.finishCurveServerHandshake()
	}
	m.mechanismSub = mechReadySent
	return []Event{
		SendBytes{Data: m.encodeCommandFrame(wire.EncodeCommandName(nil, wire.CmdWelcome))},
		SendBytes{Data: m.encodeReadyCommand()},
	}
}

func (m *Machine) maybeCompleteHandshake(events *[]Event) error {
	if m.mechanismSub == mechReadySent && m.peerReady {
		m.mechanismSub = mechDone
		m.state = StateActive
		*events = append(*events, HandshakeComplete{PeerSocketType: m.peerMeta.SocketType, PeerIdentity: m.peerMeta.Identity})
	}
	return nil
}

// SendFrame encodes one frame of an application message for transmission.
// more indicates another frame follows in the same logical message.
// Returns an error event instead of a send if the session isn't active.
func (m *Machine) SendFrame(body []byte, more bool) []Event {
	if m.state != StateActive {
		return []Event{ProtocolError{Err: api.ErrInvalidState("SendFrame before handshake completed")}}
	}
	sealed, err := m.EncryptFrame(body)
	if err != nil {
		return []Event{ProtocolError{Err: api.Wrap(api.ErrCodeProtocolError, "curve-encrypt", err)}}
	}
	return []Event{SendBytes{Data: wire.Encode(nil, sealed, more, false)}}
}

// SendSubscription emits a SUBSCRIBE/UNSUBSCRIBE data frame, encrypted like
// any other data frame when the mechanism is CURVE.
func (m *Machine) SendSubscription(prefix []byte, subscribe bool) []Event {
	var body []byte
	if subscribe {
		body = wire.EncodeSubscribe(prefix)
	} else {
		body = wire.EncodeUnsubscribe(prefix)
	}
	return m.SendFrame(body, false)
}

// decodePlainHello parses the HELLO body as
// {username-len(1), username, password-len(1), password}.
func decodePlainHello(body []byte) (username, password string, err error) {
	if len(body) < 1 {
		return "", "", api.ErrProtocol("bad-hello", "empty HELLO body")
	}
	ulen := int(body[0])
	if len(body) < 1+ulen+1 {
		return "", "", api.ErrProtocol("bad-hello", "HELLO truncated")
	}
	username = string(body[1 : 1+ulen])
	rest := body[1+ulen:]
	plen := int(rest[0])
	if len(rest) < 1+plen {
		return "", "", api.ErrProtocol("bad-hello", "HELLO password truncated")
	}
	password = string(rest[1 : 1+plen])
	return username, password, nil
}

func encodePlainHello(username, password string) []byte {
	body := wire.EncodeCommandName(nil, wire.CmdHello)
	body = append(body, byte(len(username)))
	body = append(body, username...)
	body = append(body, byte(len(password)))
	body = append(body, password...)
	return body
}
