package wire

import (
	"encoding/binary"

	"github.com/monocoque/monocoque/api"
)

// Command names recognized in the COMMAND-flagged frame body.
const (
	CmdReady      = "READY"
	CmdSubscribe  = "SUBSCRIBE"  // data-frame, NULL/PLAIN only; no COMMAND flag
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdHello      = "HELLO"
	CmdWelcome    = "WELCOME"
	CmdInitiate   = "INITIATE"
	CmdError      = "ERROR"
	CmdPing       = "PING"
	CmdPong       = "PONG"
)

// ParseCommandName reads the 1-byte length + name prefix shared by every
// COMMAND-flagged frame, returning the name and the remaining body.
func ParseCommandName(body []byte) (name string, rest []byte, err error) {
	if len(body) < 1 {
		return "", nil, api.ErrProtocol("short-command", "empty command frame")
	}
	n := int(body[0])
	if len(body) < 1+n {
		return "", nil, api.ErrProtocol("short-command", "command name truncated")
	}
	return string(body[1 : 1+n]), body[1+n:], nil
}

// EncodeCommandName prepends the 1-byte length + name prefix to dst.
func EncodeCommandName(dst []byte, name string) []byte {
	dst = append(dst, byte(len(name)))
	return append(dst, name...)
}

// Property is one READY/metadata key-value pair.
type Property struct {
	Name  string
	Value []byte
}

// ParseProperties decodes a sequence of
// {name-len(1), name, value-len(4 BE), value} entries until body is
// exhausted.
func ParseProperties(body []byte) ([]Property, error) {
	var props []Property
	for len(body) > 0 {
		if len(body) < 1 {
			return nil, api.ErrProtocol("bad-metadata", "truncated property name length")
		}
		nameLen := int(body[0])
		body = body[1:]
		if len(body) < nameLen+4 {
			return nil, api.ErrProtocol("bad-metadata", "truncated property name/value-length")
		}
		name := string(body[:nameLen])
		body = body[nameLen:]
		valLen := int(binary.BigEndian.Uint32(body[:4]))
		body = body[4:]
		if len(body) < valLen {
			return nil, api.ErrProtocol("bad-metadata", "truncated property value")
		}
		props = append(props, Property{Name: name, Value: body[:valLen]})
		body = body[valLen:]
	}
	return props, nil
}

// EncodeProperty appends one property entry to dst.
func EncodeProperty(dst []byte, name string, value []byte) []byte {
	dst = append(dst, byte(len(name)))
	dst = append(dst, name...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(value)))
	dst = append(dst, lenBuf[:]...)
	return append(dst, value...)
}

// ReadyMetadata is the decoded body of a READY command.
type ReadyMetadata struct {
	SocketType api.SocketType
	Identity   []byte
}

// EncodeReady builds the full COMMAND-flagged READY frame body (name prefix
// + properties): Socket-Type is mandatory; Identity is included only when
// non-empty.
func EncodeReady(socketType api.SocketType, identity []byte) []byte {
	body := EncodeCommandName(nil, CmdReady)
	body = EncodeProperty(body, "Socket-Type", []byte(socketType.String()))
	if len(identity) > 0 {
		body = EncodeProperty(body, "Identity", identity)
	}
	return body
}

// DecodeReady parses a READY command's properties. Socket-Type is
// mandatory; an Identity starting with 0x00 or exceeding 255 bytes is
// rejected.
func DecodeReady(body []byte) (ReadyMetadata, error) {
	props, err := ParseProperties(body)
	if err != nil {
		return ReadyMetadata{}, err
	}
	var meta ReadyMetadata
	var haveSocketType bool
	for _, p := range props {
		switch p.Name {
		case "Socket-Type":
			st, ok := api.ParseSocketType(string(p.Value))
			if !ok {
				return ReadyMetadata{}, api.ErrProtocol("bad-socket-type", string(p.Value))
			}
			meta.SocketType = st
			haveSocketType = true
		case "Identity":
			if len(p.Value) > 255 || (len(p.Value) > 0 && p.Value[0] == 0x00) {
				return ReadyMetadata{}, api.ErrProtocol("bad-identity", "identity malformed")
			}
			meta.Identity = p.Value
		default:
			// Unknown properties are ignored per the READY metadata rule.
		}
	}
	if !haveSocketType {
		return ReadyMetadata{}, api.ErrProtocol("missing-socket-type", "READY without Socket-Type")
	}
	return meta, nil
}

// Subscription byte markers for the SUBSCRIBE/UNSUBSCRIBE data frames
// exchanged (without the COMMAND flag) between SUB/XSUB and PUB/XPUB.
const (
	SubscribeMarker   byte = 0x01
	UnsubscribeMarker byte = 0x00
)

// EncodeSubscribe builds a `[0x01, prefix...]` data frame body.
func EncodeSubscribe(prefix []byte) []byte {
	out := make([]byte, 1+len(prefix))
	out[0] = SubscribeMarker
	copy(out[1:], prefix)
	return out
}

// EncodeUnsubscribe builds a `[0x00, prefix...]` data frame body.
func EncodeUnsubscribe(prefix []byte) []byte {
	out := make([]byte, 1+len(prefix))
	out[0] = UnsubscribeMarker
	copy(out[1:], prefix)
	return out
}

// DecodeSubscription parses a SUBSCRIBE/UNSUBSCRIBE data frame body.
// subscribe is false for UNSUBSCRIBE. An empty prefix means "all topics".
func DecodeSubscription(body []byte) (subscribe bool, prefix []byte, err error) {
	if len(body) < 1 {
		return false, nil, api.ErrProtocol("bad-subscription", "empty subscription frame")
	}
	switch body[0] {
	case SubscribeMarker:
		return true, body[1:], nil
	case UnsubscribeMarker:
		return false, body[1:], nil
	default:
		return false, nil, api.ErrProtocol("bad-subscription", "unknown subscription marker")
	}
}

// EncodePing builds a PING command body with the given ttl and context.
func EncodePing(ttl uint16, context []byte) []byte {
	body := EncodeCommandName(nil, CmdPing)
	var ttlBuf [2]byte
	binary.BigEndian.PutUint16(ttlBuf[:], ttl)
	body = append(body, ttlBuf[:]...)
	return append(body, context...)
}

// EncodePong builds a PONG command body echoing context.
func EncodePong(context []byte) []byte {
	body := EncodeCommandName(nil, CmdPong)
	return append(body, context...)
}

// EncodeError builds an ERROR command body carrying a human-readable reason.
func EncodeError(reason string) []byte {
	body := EncodeCommandName(nil, CmdError)
	body = append(body, byte(len(reason)))
	return append(body, reason...)
}
