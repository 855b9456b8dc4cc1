// Package snapshot serializes suspended machines to disk and restores them.
//
// A snapshot captures a machine's execution state (memory, instruction
// pointer, relative base, halted flag) as a zstd-compressed gob stream with a
// SHA3-256 integrity checksum. A machine blocked on input can be snapshotted,
// carried across a process restart, and resumed at the exact instruction it
// suspended on. I/O queues are not part of a snapshot.
package snapshot

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"golang.org/x/crypto/sha3"

	"github.com/fortiblox/intnet/pkg/intcode"
)

// Snapshot errors.
var (
	// ErrBadMagic is returned when a file is not an intnet snapshot.
	ErrBadMagic = errors.New("not a snapshot file")

	// ErrChecksumMismatch is returned when the payload checksum does not
	// match the header. The snapshot is corrupt and cannot be restored.
	ErrChecksumMismatch = errors.New("snapshot checksum mismatch")
)

// magic identifies the snapshot file format.
var magic = []byte("INTSNAP1")

const checksumSize = 32

// Write serializes the machine's state to w.
// Layout: magic, SHA3-256 of the compressed payload, payload.
func Write(w io.Writer, vm *intcode.VM) error {
	var raw bytes.Buffer
	if err := gob.NewEncoder(&raw).Encode(vm.State()); err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	var compressed bytes.Buffer
	enc, err := zstd.NewWriter(&compressed)
	if err != nil {
		return fmt.Errorf("zstd writer: %w", err)
	}
	if _, err := enc.Write(raw.Bytes()); err != nil {
		enc.Close()
		return fmt.Errorf("compress state: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("flush compressor: %w", err)
	}

	sum := sha3.Sum256(compressed.Bytes())

	if _, err := w.Write(magic); err != nil {
		return err
	}
	if _, err := w.Write(sum[:]); err != nil {
		return err
	}
	if _, err := w.Write(compressed.Bytes()); err != nil {
		return err
	}
	return nil
}

// Read restores a machine from a snapshot stream. The restored VM has fresh,
// empty I/O queues; callers re-wire providers before resuming.
func Read(r io.Reader) (*intcode.VM, error) {
	header := make([]byte, len(magic)+checksumSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if !bytes.Equal(header[:len(magic)], magic) {
		return nil, ErrBadMagic
	}

	compressed, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}

	sum := sha3.Sum256(compressed)
	if !bytes.Equal(sum[:], header[len(magic):]) {
		return nil, ErrChecksumMismatch
	}

	dec, err := zstd.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	defer dec.Close()

	var st intcode.State
	if err := gob.NewDecoder(dec).Decode(&st); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return intcode.FromState(st)
}

// Save writes a snapshot to path, creating parent directories as needed.
// The file is written to a temporary name and renamed into place.
func Save(path string, vm *intcode.VM) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create snapshot: %w", err)
	}
	if err := Write(f, vm); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Load restores a machine from a snapshot file.
func Load(path string) (*intcode.VM, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Read(f)
}
