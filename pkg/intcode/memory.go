package intcode

import (
	"errors"
	"fmt"

	"github.com/fortiblox/intnet/internal/types"
)

// Memory errors.
var (
	// ErrNegativeAddress is returned on access to a negative address.
	// This is a domain fault: it indicates a malformed program or a decoder
	// bug, never a recoverable runtime condition.
	ErrNegativeAddress = errors.New("negative memory address")
)

// Memory is a growable store of signed 64-bit cells addressed from 0.
// Cells at or beyond the current extent read as 0; writing beyond the extent
// grows the store, zero-filling the gap. Each VM exclusively owns its Memory.
type Memory struct {
	cells []types.Word
}

// NewMemory creates a Memory initialized from an image. The image is copied.
func NewMemory(image []types.Word) *Memory {
	cells := make([]types.Word, len(image))
	copy(cells, image)
	return &Memory{cells: cells}
}

// Read returns the cell at addr. Reads beyond the current extent return 0
// and do not grow memory.
func (m *Memory) Read(addr types.Word) (types.Word, error) {
	if addr < 0 {
		return 0, fmt.Errorf("%w: read at %d", ErrNegativeAddress, addr)
	}
	if addr >= types.Word(len(m.cells)) {
		return 0, nil
	}
	return m.cells[addr], nil
}

// Write stores v at addr, growing memory as needed.
func (m *Memory) Write(addr types.Word, v types.Word) error {
	if addr < 0 {
		return fmt.Errorf("%w: write at %d", ErrNegativeAddress, addr)
	}
	if addr >= types.Word(len(m.cells)) {
		m.grow(addr + 1)
	}
	m.cells[addr] = v
	return nil
}

// grow extends the store to at least size cells, zero-filled.
func (m *Memory) grow(size types.Word) {
	if size <= types.Word(cap(m.cells)) {
		m.cells = m.cells[:size]
		return
	}
	// Amortized doubling keeps sequential extension O(1) per cell, which
	// matters for relative-base-heavy programs that walk memory upward.
	newCap := 2 * cap(m.cells)
	if types.Word(newCap) < size {
		newCap = int(size)
	}
	cells := make([]types.Word, size, newCap)
	copy(cells, m.cells)
	m.cells = cells
}

// Len returns the current extent in cells.
func (m *Memory) Len() int {
	return len(m.cells)
}

// Snapshot returns a copy of the current contents.
func (m *Memory) Snapshot() []types.Word {
	out := make([]types.Word, len(m.cells))
	copy(out, m.cells)
	return out
}
