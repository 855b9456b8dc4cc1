// Package types defines the core value types shared across intnet packages.
//
// Programs are content-addressed: a ProgramID is the blake3-256 digest of the
// program's initial memory image, rendered in base58 for display and storage keys.
package types

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

// Size constants for core types.
const (
	ProgramIDSize = 32
)

var (
	// ErrInvalidProgramID is returned when a program ID has invalid length.
	ErrInvalidProgramID = errors.New("invalid program id: must be 32 bytes")
)

// Word is one memory cell of the interpreter: a signed 64-bit integer.
type Word = int64

// ProgramID is the blake3-256 digest of a program's initial memory image.
type ProgramID [ProgramIDSize]byte

// ProgramIDFromBase58 parses a base58-encoded program ID.
func ProgramIDFromBase58(s string) (ProgramID, error) {
	var id ProgramID
	data, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("base58 decode: %w", err)
	}
	if len(data) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], data)
	return id, nil
}

// ProgramIDFromBytes creates a ProgramID from a byte slice.
func ProgramIDFromBytes(b []byte) (ProgramID, error) {
	var id ProgramID
	if len(b) != ProgramIDSize {
		return id, ErrInvalidProgramID
	}
	copy(id[:], b)
	return id, nil
}

// ProgramIDOf computes the ID of a program image. Cells are hashed in order,
// each as 8 little-endian bytes, so the ID is independent of source formatting.
func ProgramIDOf(image []Word) ProgramID {
	h := blake3.New()
	var buf [8]byte
	for _, w := range image {
		binary.LittleEndian.PutUint64(buf[:], uint64(w))
		h.Write(buf[:])
	}
	var id ProgramID
	h.Digest().Read(id[:])
	return id
}

// String returns the base58-encoded representation.
func (id ProgramID) String() string {
	return base58.Encode(id[:])
}

// IsZero returns true if the ID is all zeros.
func (id ProgramID) IsZero() bool {
	for _, b := range id {
		if b != 0 {
			return false
		}
	}
	return true
}

// Equals returns true if two program IDs are equal.
func (id ProgramID) Equals(other ProgramID) bool {
	return id == other
}

// Bytes returns the ID as a byte slice.
func (id ProgramID) Bytes() []byte {
	return id[:]
}

// MarshalText implements encoding.TextMarshaler.
func (id ProgramID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ProgramID) UnmarshalText(text []byte) error {
	parsed, err := ProgramIDFromBase58(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
