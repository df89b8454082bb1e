package event

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	e := New(NameSetMedia, RolePlayer|RoleController, Payload{
		ResourceID: 7,
		BaseTime:   1234,
		Position:   5678,
	})

	got, err := Decode(e.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Name() != NameSetMedia {
		t.Fatalf("name = %q, want %q", got.Name(), NameSetMedia)
	}
	if got.Targets() != (RolePlayer | RoleController) {
		t.Fatalf("targets = %v", got.Targets())
	}
	if got.Payload().ResourceID != 7 {
		t.Fatalf("resource id = %d", got.Payload().ResourceID)
	}
}

func TestEncodeIsLineDelimited(t *testing.T) {
	e := New(NamePing, RoleAll, Payload{})
	buf := e.Encode()
	if buf[len(buf)-1] != '\n' {
		t.Fatalf("expected trailing newline, got %q", buf)
	}
}

func TestReaderStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(New(NamePlay, RolePlayer, Payload{}).Encode())
	buf.Write(New(NamePause, RolePlayer, Payload{}).Encode())

	r := NewReader(&buf)
	first, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if first.Name() != NamePlay {
		t.Fatalf("first = %q", first.Name())
	}
	second, err := r.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if second.Name() != NamePause {
		t.Fatalf("second = %q", second.Name())
	}
	if _, err := r.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestParseRolesSubstringMatch(t *testing.T) {
	r := ParseRoles("player-capture")
	if !r.Has(RolePlayer) || !r.Has(RoleCapture) {
		t.Fatalf("expected player and capture roles, got %v", r)
	}
	if r.Has(RoleController) {
		t.Fatalf("did not expect controller role in %v", r)
	}
}

func TestTargetedAt(t *testing.T) {
	e := New(NameVolume, RoleController, Payload{Volume: 5})
	if e.TargetedAt(RolePlayer) {
		t.Fatal("volume event should not target players")
	}
	if !e.TargetedAt(RoleController | RoleManager) {
		t.Fatal("expected controller-targeted event to match controller mask")
	}
}
