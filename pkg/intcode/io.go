package intcode

import (
	"bufio"
	"fmt"
	"io"

	"github.com/fortiblox/intnet/internal/types"
)

// Input is the consumable side of an I/O provider. Read removes and returns
// the next value in arrival order; ok is false when no value is available.
// A false return is the VM's suspension signal, not an error.
type Input interface {
	Read() (v types.Word, ok bool)
}

// Output is the producible side of an I/O provider. Write appends a value;
// it never blocks and never drops or reorders values.
type Output interface {
	Write(v types.Word)
}

// Queue is a strict FIFO of words implementing both provider sides. It is the
// isolated-queue variant, and doubles as a pipe: wiring one VM's Output and
// another VM's Input to the same Queue chains the two machines.
//
// The scheduling model is single-threaded and cooperative, so Queue does no
// locking.
type Queue struct {
	vals []types.Word
}

// NewQueue creates a queue pre-loaded with the given values, head first.
func NewQueue(vals ...types.Word) *Queue {
	q := &Queue{}
	q.vals = append(q.vals, vals...)
	return q
}

// Push appends a value to the tail.
func (q *Queue) Push(v types.Word) {
	q.vals = append(q.vals, v)
}

// Write implements Output. Identical to Push.
func (q *Queue) Write(v types.Word) {
	q.Push(v)
}

// Read implements Input: it removes and returns the head value.
func (q *Queue) Read() (types.Word, bool) {
	if len(q.vals) == 0 {
		return 0, false
	}
	v := q.vals[0]
	q.vals = q.vals[1:]
	return v, true
}

// Len returns the number of queued values.
func (q *Queue) Len() int {
	return len(q.vals)
}

// Drain removes and returns all queued values in FIFO order.
func (q *Queue) Drain() []types.Word {
	out := q.vals
	q.vals = nil
	return out
}

var (
	_ Input  = (*Queue)(nil)
	_ Output = (*Queue)(nil)
)

// Console is the interactive provider variant: input bytes come from a
// line-based external reader, output values are written as ASCII when they
// fit and as decimal numbers otherwise. Used to drive ASCII-speaking programs
// from a terminal.
type Console struct {
	br *bufio.Reader
	w  io.Writer
}

// NewConsole creates a console provider over the given reader and writer.
func NewConsole(r io.Reader, w io.Writer) *Console {
	return &Console{br: bufio.NewReader(r), w: w}
}

// Read implements Input: it returns the next input byte as a word.
// EOF reads as unavailable, which suspends the VM rather than faulting it.
func (c *Console) Read() (types.Word, bool) {
	b, err := c.br.ReadByte()
	if err != nil {
		return 0, false
	}
	return types.Word(b), true
}

// Write implements Output.
func (c *Console) Write(v types.Word) {
	if v >= 0 && v < 128 {
		fmt.Fprintf(c.w, "%c", rune(v))
		return
	}
	fmt.Fprintf(c.w, "%d\n", v)
}

var (
	_ Input  = (*Console)(nil)
	_ Output = (*Console)(nil)
)
