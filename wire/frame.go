// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package wire

import (
	"encoding/binary"

	"github.com/monocoque/monocoque/api"
)

// Flag bits for the ZMTP frame header.
const (
	FlagMore    byte = 1 << 0
	FlagLong    byte = 1 << 1
	FlagCommand byte = 1 << 2
)

// DefaultMaxFramePayload is the protocol-error threshold for a single
// frame's declared length, guarding against a malicious or corrupt peer
// claiming an unbounded body.
const DefaultMaxFramePayload = 256 * 1024 * 1024

// StagingSize is the minimum staging buffer the decoder needs to absorb a
// frame header that straddles two reads (flags + 8-byte length).
const StagingSize = 256

// Frame is a single ZMTP wire frame: a flags byte and a body. Body is a
// zero-copy slice into the decoder's receive buffer; callers that need to
// retain it past the next decode call must copy it (or freeze it through
// bufpool before handing it further downstream).
type Frame struct {
	More    bool
	Command bool
	Body    []byte
}

// EncodedLen returns the wire size of a frame carrying a body of length n.
func EncodedLen(n int) int {
	if n < 256 {
		return 1 + 1 + n
	}
	return 1 + 8 + n
}

// Encode appends the wire encoding of a frame with the given body, more bit,
// and command bit to dst, returning the extended slice.
func Encode(dst []byte, body []byte, more bool, command bool) []byte {
	flags := byte(0)
	if more {
		flags |= FlagMore
	}
	if command {
		flags |= FlagCommand
	}
	n := len(body)
	if n < 256 {
		dst = append(dst, flags, byte(n))
	} else {
		flags |= FlagLong
		var lenBuf [8]byte
		binary.BigEndian.PutUint64(lenBuf[:], uint64(n))
		dst = append(dst, flags)
		dst = append(dst, lenBuf[:]...)
	}
	return append(dst, body...)
}

// DecodeResult tags the outcome of a single Decode call.
type DecodeResult int

const (
	// DecodeShort means buf does not yet hold a complete frame; the
	// caller must read more bytes and retry with the same (unconsumed)
	// prefix still in buf.
	DecodeShort DecodeResult = iota
	// DecodeOK means a frame was parsed; consumed reports how many bytes
	// of buf it occupied.
	DecodeOK
)

// Decode attempts to parse one frame from the head of buf. It never
// allocates: Frame.Body aliases buf. maxPayload is the protocol-error
// threshold (0 means DefaultMaxFramePayload).
func Decode(buf []byte, maxPayload int) (Frame, int, DecodeResult, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxFramePayload
	}
	if len(buf) < 2 {
		return Frame{}, 0, DecodeShort, nil
	}
	flags := buf[0]
	long := flags&FlagLong != 0
	var (
		bodyLen int
		headerLen int
	)
	if long {
		if len(buf) < 9 {
			return Frame{}, 0, DecodeShort, nil
		}
		n := binary.BigEndian.Uint64(buf[1:9])
		if n > uint64(maxPayload) {
			return Frame{}, 0, DecodeOK, api.ErrProtocol("length-overrun", "frame length exceeds configured maximum")
		}
		bodyLen = int(n)
		headerLen = 9
	} else {
		bodyLen = int(buf[1])
		headerLen = 2
	}
	total := headerLen + bodyLen
	if len(buf) < total {
		return Frame{}, 0, DecodeShort, nil
	}
	f := Frame{
		More:    flags&FlagMore != 0,
		Command: flags&FlagCommand != 0,
		Body:    buf[headerLen:total],
	}
	return f, total, DecodeOK, nil
}

// Decoder accumulates bytes across reads and yields complete frames,
// holding any unconsumed trailing bytes in a small staging buffer so the
// caller's read buffer can be reused immediately.
type Decoder struct {
	staging    []byte
	maxPayload int
}

// NewDecoder constructs a Decoder. maxPayload <= 0 uses
// DefaultMaxFramePayload.
func NewDecoder(maxPayload int) *Decoder {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxFramePayload
	}
	return &Decoder{staging: make([]byte, 0, StagingSize), maxPayload: maxPayload}
}

// Feed appends newly read bytes and drains as many complete frames as
// possible, invoking emit for each. It stops and retains any leftover
// partial frame in the staging buffer for the next Feed call. emit
// returning an error aborts the drain and is propagated.
func (d *Decoder) Feed(newBytes []byte, emit func(Frame) error) error {
	var buf []byte
	if len(d.staging) == 0 {
		buf = newBytes
	} else {
		buf = append(d.staging, newBytes...)
	}
	for {
		f, consumed, res, err := Decode(buf, d.maxPayload)
		if err != nil {
			return err
		}
		if res == DecodeShort {
			break
		}
		if err := emit(f); err != nil {
			return err
		}
		buf = buf[consumed:]
	}
	d.staging = append(d.staging[:0], buf...)
	return nil
}
