// Package intcode implements the Intcode virtual machine.
//
// Intcode is a register-less interpreter over a flat, growable memory of
// signed 64-bit cells. A program is a comma-separated list of decimal integers
// forming the initial memory image; each cell decodes into an opcode plus
// per-parameter addressing modes (position, immediate, relative).
//
// The machine has one deliberate suspension point: an input instruction with
// no value available returns control to the caller with a Blocked result and
// leaves the instruction pointer unmoved, so the same instruction is retried
// on the next run. This is what lets one thread interleave many machines
// cooperatively, which the network package builds on.
package intcode

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/fortiblox/intnet/internal/types"
)

// Program errors.
var (
	// ErrEmptyProgram is returned when the source text contains no cells.
	ErrEmptyProgram = errors.New("empty program")
)

// Program is an immutable initial memory image, the result of parsing
// comma-separated decimal source text. It is never mutated after load; any
// number of VMs can be seeded from one Program.
type Program struct {
	image []types.Word

	idOnce sync.Once
	id     types.ProgramID
}

// Parse parses comma-separated decimal source text into a Program.
// Tokens may be negative; surrounding whitespace is tolerated. Any
// non-integer token fails parsing.
func Parse(text string) (*Program, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyProgram
	}

	tokens := strings.Split(text, ",")
	image := make([]types.Word, 0, len(tokens))
	for i, tok := range tokens {
		v, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse cell %d %q: %w", i, tok, err)
		}
		image = append(image, v)
	}

	return &Program{image: image}, nil
}

// FromImage creates a Program directly from a memory image.
// The slice is copied.
func FromImage(image []types.Word) (*Program, error) {
	if len(image) == 0 {
		return nil, ErrEmptyProgram
	}
	p := &Program{image: make([]types.Word, len(image))}
	copy(p.image, image)
	return p, nil
}

// Len returns the number of cells in the initial image.
func (p *Program) Len() int {
	return len(p.image)
}

// At returns the cell at index i of the initial image.
func (p *Program) At(i int) types.Word {
	return p.image[i]
}

// Image returns a copy of the initial memory image.
func (p *Program) Image() []types.Word {
	out := make([]types.Word, len(p.image))
	copy(out, p.image)
	return out
}

// ID returns the content address of the program. Computed once, on demand.
func (p *Program) ID() types.ProgramID {
	p.idOnce.Do(func() {
		p.id = types.ProgramIDOf(p.image)
	})
	return p.id
}

// Source renders the image back to canonical comma-separated text.
func (p *Program) Source() string {
	var sb strings.Builder
	for i, w := range p.image {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatInt(w, 10))
	}
	return sb.String()
}
