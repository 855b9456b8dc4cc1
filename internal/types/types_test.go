package types

import (
	"errors"
	"testing"
)

func TestProgramIDOf(t *testing.T) {
	a := ProgramIDOf([]Word{1, 2, 3, 99})
	b := ProgramIDOf([]Word{1, 2, 3, 99})
	c := ProgramIDOf([]Word{1, 2, 3, 98})

	if a != b {
		t.Error("equal images hashed to different IDs")
	}
	if a == c {
		t.Error("distinct images hashed to the same ID")
	}
	if a.IsZero() {
		t.Error("image hashed to the zero ID")
	}
	if !a.Equals(b) {
		t.Error("Equals() = false for equal IDs")
	}

	// Cell boundaries matter: [1,2] and [258] must not collide even though
	// their byte content could overlap under a variable-width encoding.
	if ProgramIDOf([]Word{1, 2}) == ProgramIDOf([]Word{258}) {
		t.Error("cell boundary collision")
	}
}

func TestProgramIDBase58RoundTrip(t *testing.T) {
	id := ProgramIDOf([]Word{109, 1, 204, -1, 99})

	parsed, err := ProgramIDFromBase58(id.String())
	if err != nil {
		t.Fatalf("ProgramIDFromBase58() error: %v", err)
	}
	if parsed != id {
		t.Error("base58 round trip changed the ID")
	}

	if _, err := ProgramIDFromBase58("abc"); !errors.Is(err, ErrInvalidProgramID) {
		t.Errorf("short input error = %v, want ErrInvalidProgramID", err)
	}
	if _, err := ProgramIDFromBase58("0OIl"); err == nil {
		t.Error("invalid base58 alphabet accepted")
	}
}

func TestProgramIDFromBytes(t *testing.T) {
	id := ProgramIDOf([]Word{99})

	parsed, err := ProgramIDFromBytes(id.Bytes())
	if err != nil {
		t.Fatalf("ProgramIDFromBytes() error: %v", err)
	}
	if parsed != id {
		t.Error("bytes round trip changed the ID")
	}

	if _, err := ProgramIDFromBytes([]byte{1, 2, 3}); !errors.Is(err, ErrInvalidProgramID) {
		t.Errorf("short input error = %v, want ErrInvalidProgramID", err)
	}
}

func TestProgramIDText(t *testing.T) {
	id := ProgramIDOf([]Word{1101, 2, 3, 0, 99})

	text, err := id.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error: %v", err)
	}
	var back ProgramID
	if err := back.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText() error: %v", err)
	}
	if back != id {
		t.Error("text round trip changed the ID")
	}
}

func TestPacketString(t *testing.T) {
	p := Packet{Dest: 255, X: 7, Y: -3}
	if got := p.String(); got != "(7,-3)->255" {
		t.Errorf("String() = %q, want %q", got, "(7,-3)->255")
	}
}
