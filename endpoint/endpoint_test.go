package endpoint

import "testing"

func TestParseTCP(t *testing.T) {
	e, err := Parse("tcp://127.0.0.1:5555")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Scheme != SchemeTCP || e.Host != "127.0.0.1" || e.Port != 5555 {
		t.Fatalf("unexpected parse: %+v", e)
	}
	if e.Network() != "tcp" || e.Address() != "127.0.0.1:5555" {
		t.Fatalf("unexpected network/address: %s %s", e.Network(), e.Address())
	}
}

func TestParseTCPv6(t *testing.T) {
	e, err := Parse("tcp://[::1]:5555")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Host != "::1" || e.Port != 5555 {
		t.Fatalf("unexpected parse: %+v", e)
	}
}

func TestParseIPC(t *testing.T) {
	e, err := Parse("ipc:///tmp/monocoque.sock")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Scheme != SchemeIPC || e.Path != "/tmp/monocoque.sock" {
		t.Fatalf("unexpected parse: %+v", e)
	}
}

func TestParseUnknownScheme(t *testing.T) {
	if _, err := Parse("udp://127.0.0.1:5555"); err == nil {
		t.Fatal("expected error for unknown scheme")
	}
}

func TestParseMissingScheme(t *testing.T) {
	if _, err := Parse("127.0.0.1:5555"); err == nil {
		t.Fatal("expected error for missing scheme")
	}
}
