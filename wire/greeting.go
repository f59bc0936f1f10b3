package wire

import (
	"bytes"

	"github.com/monocoque/monocoque/api"
)

// GreetingSize is the fixed length of a ZMTP greeting.
const GreetingSize = 64

var signaturePrefix = [9]byte{0xFF, 0, 0, 0, 0, 0, 0, 0, 0}

const signatureSuffix = 0x7F

// Greeting is the decoded form of the 64-byte ZMTP greeting exchanged
// before any frame traffic.
type Greeting struct {
	VersionMajor byte
	VersionMinor byte
	Mechanism    string // "NULL", "PLAIN", or "CURVE"
	AsServer     bool
}

// EncodeGreeting renders g as the 64-byte wire form. Version is always
// written as 3.1; filler bytes are zero.
func EncodeGreeting(g Greeting) [GreetingSize]byte {
	var out [GreetingSize]byte
	copy(out[0:9], signaturePrefix[:])
	out[9] = signatureSuffix
	out[10] = 3
	out[11] = 1
	copy(out[12:32], g.Mechanism)
	if g.AsServer {
		out[32] = 1
	}
	return out
}

// DecodeGreeting validates and parses a received 64-byte greeting.
func DecodeGreeting(raw []byte) (Greeting, error) {
	if len(raw) != GreetingSize {
		return Greeting{}, api.ErrProtocol("bad-greeting", "greeting must be exactly 64 bytes")
	}
	if !bytes.Equal(raw[0:9], signaturePrefix[:]) || raw[9] != signatureSuffix {
		return Greeting{}, api.ErrProtocol("bad-signature", "greeting signature mismatch")
	}
	major := raw[10]
	if major != 3 {
		return Greeting{}, api.ErrProtocol("incompatible-version", "unsupported major version")
	}
	minor := raw[11]
	mech := string(bytes.TrimRight(raw[12:32], "\x00"))
	switch mech {
	case "NULL", "PLAIN", "CURVE":
	default:
		return Greeting{}, api.ErrProtocol("unknown-mechanism", mech)
	}
	asServer := raw[32] != 0
	return Greeting{VersionMajor: major, VersionMinor: minor, Mechanism: mech, AsServer: asServer}, nil
}
