package session

import (
	"crypto/rand"
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/curve25519"

	"github.com/monocoque/monocoque/api"
	"github.com/monocoque/monocoque/wire"
	"github.com/monocoque/monocoque/zapauth"
)

// CurveKeyPair is a CURVE mechanism's long-term (or ephemeral) X25519
// keypair.
type CurveKeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateCurveKeyPair creates a new random X25519 keypair.
func GenerateCurveKeyPair() (CurveKeyPair, error) {
	var kp CurveKeyPair
	if _, err := rand.Read(kp.Private[:]); err != nil {
		return kp, err
	}
	pub, err := curve25519.X25519(kp.Private[:], curve25519.Basepoint)
	if err != nil {
		return kp, err
	}
	copy(kp.Public[:], pub)
	return kp, nil
}

// curveSession holds the ephemeral handshake material and, once
// established, the two per-direction AEAD ciphers used to protect every
// frame for the remainder of the connection.
type curveSession struct {
	ephemeral    CurveKeyPair
	peerEphemeral [32]byte

	encryptAEAD cipherAEAD
	decryptAEAD cipherAEAD
	sendCounter uint64
	recvCounter uint64
}

// cipherAEAD is the minimal surface Machine needs from
// chacha20poly1305.AEAD, kept narrow so tests can substitute a fake.
type cipherAEAD interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

func (m *Machine) startCurve() []Event {
	kp := m.cfg.CurveKeys
	if kp == nil {
		gen, err := GenerateCurveKeyPair()
		if err != nil {
			m.state = StateClosed
			return []Event{ProtocolError{Err: api.Wrap(api.ErrCodeHandshakeFailed, "curve-keygen", err)}, Closed{}}
		}
		kp = &gen
	}
	m.curve = &curveSession{ephemeral: *kp}
	if m.cfg.Role == RoleServer {
		m.mechanismSub = mechAwaitingPeer
		return nil // wait for client HELLO
	}
	m.mechanismSub = mechAwaitingPeer
	body := wire.EncodeCommandName(nil, wire.CmdHello)
	body = append(body, m.curve.ephemeral.Public[:]...)
	return []Event{SendBytes{Data: m.encodeCommandFrame(body)}}
}

func (m *Machine) handleCurveHello(body []byte, events *[]Event) error {
	if m.cfg.Role != RoleServer {
		return api.ErrProtocol("unexpected-hello", "HELLO received on CURVE client side")
	}
	if len(body) < 32 {
		return api.ErrProtocol("bad-hello", "CURVE HELLO missing client ephemeral key")
	}
	copy(m.curve.peerEphemeral[:], body[:32])
	if err := m.deriveCurveKeys(); err != nil {
		return api.Wrap(api.ErrCodeHandshakeFailed, "curve-derive", err)
	}
	welcome := wire.EncodeCommandName(nil, wire.CmdWelcome)
	welcome = append(welcome, m.curve.ephemeral.Public[:]...)
	*events = append(*events, SendBytes{Data: m.encodeCommandFrame(welcome)})
	m.mechanismSub = mechAwaitingPeer
	return nil
}

func (m *Machine) handleCurveWelcome(body []byte, events *[]Event) error {
	if m.cfg.Role != RoleClient {
		return api.ErrProtocol("unexpected-welcome", "WELCOME received on CURVE server side")
	}
	if len(body) < 32 {
		return api.ErrProtocol("bad-welcome", "CURVE WELCOME missing server ephemeral key")
	}
	copy(m.curve.peerEphemeral[:], body[:32])
	if err := m.deriveCurveKeys(); err != nil {
		return api.Wrap(api.ErrCodeHandshakeFailed, "curve-derive", err)
	}
	// INITIATE carries the client's long-term public key as the ZAP
	// credential; the server authenticates it out-of-band and may still
	// reject the connection with ERROR, but the client does not wait for
	// that before sending its own READY.
	initiate := wire.EncodeCommandName(nil, wire.CmdInitiate)
	initiate = append(initiate, m.curve.ephemeral.Public[:]...)
	*events = append(*events, SendBytes{Data: m.encodeCommandFrame(initiate)})
	m.mechanismSub = mechReadySent
	*events = append(*events, SendBytes{Data: m.encodeReadyCommand()})
	return nil
}

func (m *Machine) handleCurveInitiate(body []byte, events *[]Event) error {
	if m.cfg.Role != RoleServer {
		return api.ErrProtocol("unexpected-initiate", "INITIATE received on CURVE client side")
	}
	if len(body) < 32 {
		return api.ErrProtocol("bad-initiate", "CURVE INITIATE missing client long-term key")
	}
	clientLongTermKey := append([]byte(nil), body[:32]...)
	m.zap = &pendingZAP{req: zapauth.Request{
		Mechanism:   "CURVE",
		Credentials: [][]byte{clientLongTermKey},
	}, resumeCurve: true}
	*events = append(*events, ZAPRequired{Request: m.zap.req})
	m.mechanismSub = mechAwaitingZAP
	return nil
}

func (m *Machine) finishCurveServerHandshake() []Event {
	m.mechanismSub = mechReadySent
	events := []Event{SendBytes{Data: m.encodeReadyCommand()}}
	// The client sends its READY immediately after INITIATE rather than
	// waiting on this server's response, so it may already have arrived
	// and be sitting in m.peerReady by the time ZAP resolves.
	m.maybeCompleteHandshake(&events)
	return events
}

// deriveCurveKeys computes the shared X25519 secret and builds the two
// independent AEAD ciphers (client-to-server, server-to-client) keyed off
// it, per CurveZMQ's convention of never reusing a key across directions.
func (m *Machine) deriveCurveKeys() error {
	shared, err := curve25519.X25519(m.curve.ephemeral.Private[:], m.curve.peerEphemeral[:])
	if err != nil {
		return err
	}
	var c2sKey, s2cKey [chacha20poly1305.KeySize]byte
	copy(c2sKey[:], shared)
	copy(s2cKey[:], shared)
	s2cKey[0] ^= 0xFF // direction-separate the two keys derived from one ECDH secret

	c2s, err := chacha20poly1305.New(c2sKey[:])
	if err != nil {
		return err
	}
	s2c, err := chacha20poly1305.New(s2cKey[:])
	if err != nil {
		return err
	}
	if m.cfg.Role == RoleClient {
		m.curve.encryptAEAD, m.curve.decryptAEAD = c2s, s2c
	} else {
		m.curve.encryptAEAD, m.curve.decryptAEAD = s2c, c2s
	}
	return nil
}

func nonceFromCounter(counter uint64, nonceSize int) []byte {
	nonce := make([]byte, nonceSize)
	binary.BigEndian.PutUint64(nonce[nonceSize-8:], counter)
	return nonce
}

// EncryptFrame seals plaintext under the send direction's AEAD cipher and
// advances its counter. Only meaningful once the CURVE handshake has
// derived keys (state >= StateMechanism's key-derivation point).
func (m *Machine) EncryptFrame(plaintext []byte) ([]byte, error) {
	if m.curve == nil || m.curve.encryptAEAD == nil {
		return plaintext, nil
	}
	nonce := nonceFromCounter(m.curve.sendCounter, m.curve.encryptAEAD.NonceSize())
	m.curve.sendCounter++
	return m.curve.encryptAEAD.Seal(nil, nonce, plaintext, nil), nil
}

// DecryptFrame opens ciphertext under the receive direction's AEAD cipher
// and advances its counter. A MAC failure is a fatal protocol error per
// the wire-protocol design.
func (m *Machine) DecryptFrame(ciphertext []byte) ([]byte, error) {
	if m.curve == nil || m.curve.decryptAEAD == nil {
		return ciphertext, nil
	}
	nonce := nonceFromCounter(m.curve.recvCounter, m.curve.decryptAEAD.NonceSize())
	m.curve.recvCounter++
	plain, err := m.curve.decryptAEAD.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, api.ErrProtocol("curve-mac-failure", "CURVE frame authentication failed")
	}
	return plain, nil
}
