package intcode

import (
	"errors"
	"fmt"

	"github.com/fortiblox/intnet/internal/types"
)

// Opcodes. A raw cell W decodes as opcode = W mod 100.
const (
	OpNop  = 0  // no effect
	OpAdd  = 1  // c = a + b
	OpMul  = 2  // c = a * b
	OpInp  = 3  // c = next input value
	OpOut  = 4  // append a to output
	OpJnz  = 5  // if a != 0, ip = b
	OpJez  = 6  // if a == 0, ip = b
	OpTlt  = 7  // c = 1 if a < b else 0
	OpTeq  = 8  // c = 1 if a == b else 0
	OpRel  = 9  // relative base += a
	OpHalt = 99 // stop execution
)

// Mode is a parameter addressing mode. The mode digit for the i-th parameter
// (1-indexed) of cell W is (W / 10^(i+1)) mod 10.
type Mode uint8

// Addressing modes.
const (
	ModePosition  Mode = 0 // operand is an address to dereference
	ModeImmediate Mode = 1 // operand is the value itself; illegal as write target
	ModeRelative  Mode = 2 // operand + relative base is the address
)

// maxArity is the largest parameter count of any opcode.
const maxArity = 3

// Decode errors.
var (
	// ErrInvalidOpcode is returned on an unknown opcode. It signals a corrupt
	// image or a VM bug, not a runtime condition, so it is never retried.
	ErrInvalidOpcode = errors.New("invalid opcode")

	// ErrInvalidMode is returned on an unknown addressing mode digit.
	ErrInvalidMode = errors.New("invalid parameter mode")

	// ErrImmediateWrite is returned when a write-target parameter carries
	// immediate mode.
	ErrImmediateWrite = errors.New("immediate mode on write target")
)

// Instruction is a decoded memory cell: an opcode plus the addressing mode of
// each parameter.
type Instruction struct {
	Op    int
	Modes [maxArity]Mode
}

// opSpec fixes the parameter shape of an opcode: how many parameters it takes
// and which one (if any) is a write target.
type opSpec struct {
	arity    int
	writeArg int // parameter index that must resolve to an address, -1 if none
	name     string
}

var opSpecs = map[int]opSpec{
	OpNop:  {0, -1, "nop"},
	OpAdd:  {3, 2, "add"},
	OpMul:  {3, 2, "mul"},
	OpInp:  {1, 0, "inp"},
	OpOut:  {1, -1, "out"},
	OpJnz:  {2, -1, "jnz"},
	OpJez:  {2, -1, "jez"},
	OpTlt:  {3, 2, "tlt"},
	OpTeq:  {3, 2, "teq"},
	OpRel:  {1, -1, "rel"},
	OpHalt: {0, -1, "hlt"},
}

// Decode splits a raw cell into an opcode and per-parameter modes, validating
// the opcode, each mode digit, and the write-target mode restriction.
func Decode(w types.Word) (Instruction, error) {
	op := int(w % 100)
	spec, ok := opSpecs[op]
	if !ok {
		return Instruction{}, fmt.Errorf("%w: %d (cell %d)", ErrInvalidOpcode, op, w)
	}

	ins := Instruction{Op: op}
	digits := w / 100
	for i := 0; i < spec.arity; i++ {
		mode := Mode(digits % 10)
		digits /= 10
		if mode > ModeRelative {
			return Instruction{}, fmt.Errorf("%w: digit %d for %s parameter %d", ErrInvalidMode, mode, spec.name, i+1)
		}
		if i == spec.writeArg && mode == ModeImmediate {
			return Instruction{}, fmt.Errorf("%w: %s parameter %d", ErrImmediateWrite, spec.name, i+1)
		}
		ins.Modes[i] = mode
	}
	if digits != 0 {
		return Instruction{}, fmt.Errorf("%w: trailing mode digits in cell %d", ErrInvalidMode, w)
	}
	return ins, nil
}

// Arity returns the parameter count of the instruction's opcode.
func (ins Instruction) Arity() int {
	return opSpecs[ins.Op].arity
}

// Name returns the mnemonic of the instruction's opcode.
func (ins Instruction) Name() string {
	return opSpecs[ins.Op].name
}
