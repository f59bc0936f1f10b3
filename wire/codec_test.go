package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeIdempotence(t *testing.T) {
	lengths := []int{0, 1, 255, 256, 65535, 65536, 1 << 20}
	for _, n := range lengths {
		payload := bytes.Repeat([]byte{0xAB}, n)
		encoded := Encode(nil, payload, false, false)
		f, consumed, res, err := Decode(encoded, 0)
		if err != nil {
			t.Fatalf("length %d: unexpected error: %v", n, err)
		}
		if res != DecodeOK {
			t.Fatalf("length %d: expected DecodeOK", n)
		}
		if consumed != len(encoded) {
			t.Fatalf("length %d: consumed %d, want %d", n, consumed, len(encoded))
		}
		if !bytes.Equal(f.Body, payload) {
			t.Fatalf("length %d: payload mismatch", n)
		}
	}
}

func TestDecodeShortOnPartialHeader(t *testing.T) {
	_, _, res, err := Decode([]byte{0x00}, 0)
	if err != nil || res != DecodeShort {
		t.Fatalf("expected DecodeShort, got res=%v err=%v", res, err)
	}
}

func TestDecodeShortOnPartialPayload(t *testing.T) {
	encoded := Encode(nil, []byte("hello world"), false, false)
	_, _, res, err := Decode(encoded[:len(encoded)-2], 0)
	if err != nil || res != DecodeShort {
		t.Fatalf("expected DecodeShort, got res=%v err=%v", res, err)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	encoded := Encode(nil, make([]byte, 1024), false, false)
	_, _, _, err := Decode(encoded, 100)
	if err == nil {
		t.Fatal("expected length-overrun protocol error")
	}
}

func TestDecoderFeedAcrossFragmentedReads(t *testing.T) {
	msg1 := Encode(nil, []byte("part-one"), true, false)
	msg2 := Encode(nil, []byte("part-two"), false, false)
	whole := append(append([]byte{}, msg1...), msg2...)

	d := NewDecoder(0)
	var got [][]byte
	split := len(msg1) + 2
	if err := d.Feed(whole[:split], func(f Frame) error {
		got = append(got, append([]byte(nil), f.Body...))
		return nil
	}); err != nil {
		t.Fatalf("first feed: %v", err)
	}
	if err := d.Feed(whole[split:], func(f Frame) error {
		got = append(got, append([]byte(nil), f.Body...))
		return nil
	}); err != nil {
		t.Fatalf("second feed: %v", err)
	}
	if len(got) != 2 || string(got[0]) != "part-one" || string(got[1]) != "part-two" {
		t.Fatalf("unexpected frames: %v", got)
	}
}

func TestGreetingRoundTrip(t *testing.T) {
	g := Greeting{Mechanism: "CURVE", AsServer: true}
	raw := EncodeGreeting(g)
	decoded, err := DecodeGreeting(raw[:])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Mechanism != "CURVE" || !decoded.AsServer || decoded.VersionMajor != 3 || decoded.VersionMinor != 1 {
		t.Fatalf("unexpected decode: %+v", decoded)
	}
}

func TestSubscriptionRoundTrip(t *testing.T) {
	sub := EncodeSubscribe([]byte("topic"))
	ok, prefix, err := DecodeSubscription(sub)
	if err != nil || !ok || string(prefix) != "topic" {
		t.Fatalf("subscribe round trip failed: ok=%v prefix=%q err=%v", ok, prefix, err)
	}
	unsub := EncodeUnsubscribe([]byte("topic"))
	ok, prefix, err = DecodeSubscription(unsub)
	if err != nil || ok || string(prefix) != "topic" {
		t.Fatalf("unsubscribe round trip failed: ok=%v prefix=%q err=%v", ok, prefix, err)
	}
}
