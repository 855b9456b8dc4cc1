package intcode

import (
	"errors"
	"fmt"

	"github.com/fortiblox/intnet/internal/types"
)

// Executor errors.
var (
	// ErrHalted is returned when stepping a machine that has already halted.
	ErrHalted = errors.New("machine halted")
)

// RunResult is the outcome of a call to Run or RunSteps. Control flow is
// data-driven: suspension is a result value, never an error or a panic.
type RunResult int

const (
	// Halted means the machine executed a halt instruction. Terminal.
	Halted RunResult = iota

	// Blocked means an input instruction found no value available. The
	// instruction pointer still addresses that instruction; supplying input
	// and re-running resumes exactly there.
	Blocked

	// Stepped means RunSteps exhausted its step budget before halting or
	// blocking.
	Stepped
)

// String returns the result name.
func (r RunResult) String() string {
	switch r {
	case Halted:
		return "halted"
	case Blocked:
		return "blocked"
	case Stepped:
		return "stepped"
	default:
		return fmt.Sprintf("RunResult(%d)", int(r))
	}
}

// VM is one Intcode machine: a memory image, an instruction pointer, a
// relative-base register and a pair of I/O providers. A VM exclusively owns
// its Memory; nothing is shared between instances.
type VM struct {
	prog *Program
	mem  *Memory

	ip     types.Word
	rel    types.Word
	halted bool

	in  Input
	out Output
}

// New creates a VM seeded from prog, with fresh isolated queues on both
// sides. The program is retained for Reset and is never mutated.
func New(prog *Program) *VM {
	return &VM{
		prog: prog,
		mem:  NewMemory(prog.image),
		in:   NewQueue(),
		out:  NewQueue(),
	}
}

// Clone duplicates memory and registers into an independent machine with
// fresh, empty I/O queues. One parsed Program can seed many runs this way
// without re-parsing source text.
func (vm *VM) Clone() *VM {
	return &VM{
		prog:   vm.prog,
		mem:    NewMemory(vm.mem.cells),
		ip:     vm.ip,
		rel:    vm.rel,
		halted: vm.halted,
		in:     NewQueue(),
		out:    NewQueue(),
	}
}

// Reset restores the machine to its freshly-constructed state: memory back to
// the program image, ip and relative base to 0, halted cleared, and both I/O
// queues replaced with empty ones. The Program itself is untouched.
func (vm *VM) Reset() {
	vm.mem = NewMemory(vm.prog.image)
	vm.ip = 0
	vm.rel = 0
	vm.halted = false
	vm.in = NewQueue()
	vm.out = NewQueue()
}

// Program returns the program this machine was seeded from.
func (vm *VM) Program() *Program {
	return vm.prog
}

// Halted reports whether the machine has executed a halt instruction.
func (vm *VM) Halted() bool {
	return vm.halted
}

// Input returns the current input provider.
func (vm *VM) Input() Input {
	return vm.in
}

// Output returns the current output provider.
func (vm *VM) Output() Output {
	return vm.out
}

// SetInput swaps the input provider. Legal at any time; this is how machines
// are re-wired into pipelines.
func (vm *VM) SetInput(in Input) {
	vm.in = in
}

// SetOutput swaps the output provider.
func (vm *VM) SetOutput(out Output) {
	vm.out = out
}

// Peek reads a memory cell directly, bypassing decode.
func (vm *VM) Peek(addr types.Word) (types.Word, error) {
	return vm.mem.Read(addr)
}

// Poke writes a memory cell directly. Used by callers that patch cells
// before running.
func (vm *VM) Poke(addr, v types.Word) error {
	return vm.mem.Write(addr, v)
}

// Run executes instructions until the machine halts or blocks on input.
func (vm *VM) Run() (RunResult, error) {
	return vm.run(-1)
}

// RunSteps executes at most n instructions. It returns Stepped when the
// budget runs out first.
func (vm *VM) RunSteps(n int) (RunResult, error) {
	if n < 0 {
		return 0, fmt.Errorf("negative step budget %d", n)
	}
	return vm.run(n)
}

// RunPatched writes noun and verb into cells 1 and 2, runs to halt, and
// returns the value left in cell 0. It fails if the machine blocks.
func (vm *VM) RunPatched(noun, verb types.Word) (types.Word, error) {
	if err := vm.mem.Write(1, noun); err != nil {
		return 0, err
	}
	if err := vm.mem.Write(2, verb); err != nil {
		return 0, err
	}
	res, err := vm.Run()
	if err != nil {
		return 0, err
	}
	if res != Halted {
		return 0, fmt.Errorf("machine %s before halting", res)
	}
	return vm.mem.Read(0)
}

// run is the main fetch-decode-execute loop. budget < 0 means unbounded.
func (vm *VM) run(budget int) (RunResult, error) {
	if vm.halted {
		return Halted, ErrHalted
	}

	steps := 0
	for {
		if budget >= 0 && steps >= budget {
			return Stepped, nil
		}

		cell, err := vm.mem.Read(vm.ip)
		if err != nil {
			return 0, fmt.Errorf("fetch at ip %d: %w", vm.ip, err)
		}
		ins, err := Decode(cell)
		if err != nil {
			return 0, fmt.Errorf("decode at ip %d: %w", vm.ip, err)
		}

		var args [maxArity]types.Word
		for i := 0; i < ins.Arity(); i++ {
			args[i], err = vm.mem.Read(vm.ip + 1 + types.Word(i))
			if err != nil {
				return 0, fmt.Errorf("fetch operand %d at ip %d: %w", i+1, vm.ip, err)
			}
		}

		switch ins.Op {
		case OpNop:
			// no effect

		case OpAdd:
			a, b, err := vm.loadPair(ins, args)
			if err != nil {
				return 0, err
			}
			if err := vm.store(ins, 2, args[2], a+b); err != nil {
				return 0, err
			}

		case OpMul:
			a, b, err := vm.loadPair(ins, args)
			if err != nil {
				return 0, err
			}
			if err := vm.store(ins, 2, args[2], a*b); err != nil {
				return 0, err
			}

		case OpInp:
			v, ok := vm.in.Read()
			if !ok {
				// The one suspension point: ip still addresses this
				// instruction, so a later run retries it.
				return Blocked, nil
			}
			if err := vm.store(ins, 0, args[0], v); err != nil {
				return 0, err
			}

		case OpOut:
			a, err := vm.load(ins.Modes[0], args[0])
			if err != nil {
				return 0, err
			}
			vm.out.Write(a)

		case OpJnz:
			a, b, err := vm.loadPair(ins, args)
			if err != nil {
				return 0, err
			}
			if a != 0 {
				vm.ip = b
				steps++
				continue
			}

		case OpJez:
			a, b, err := vm.loadPair(ins, args)
			if err != nil {
				return 0, err
			}
			if a == 0 {
				vm.ip = b
				steps++
				continue
			}

		case OpTlt:
			a, b, err := vm.loadPair(ins, args)
			if err != nil {
				return 0, err
			}
			var v types.Word
			if a < b {
				v = 1
			}
			if err := vm.store(ins, 2, args[2], v); err != nil {
				return 0, err
			}

		case OpTeq:
			a, b, err := vm.loadPair(ins, args)
			if err != nil {
				return 0, err
			}
			var v types.Word
			if a == b {
				v = 1
			}
			if err := vm.store(ins, 2, args[2], v); err != nil {
				return 0, err
			}

		case OpRel:
			a, err := vm.load(ins.Modes[0], args[0])
			if err != nil {
				return 0, err
			}
			vm.rel += a

		case OpHalt:
			vm.halted = true
			return Halted, nil
		}

		vm.ip += 1 + types.Word(ins.Arity())
		steps++
	}
}

// load resolves a read operand according to its mode.
func (vm *VM) load(mode Mode, operand types.Word) (types.Word, error) {
	switch mode {
	case ModePosition:
		return vm.mem.Read(operand)
	case ModeImmediate:
		return operand, nil
	case ModeRelative:
		return vm.mem.Read(operand + vm.rel)
	default:
		return 0, fmt.Errorf("%w: %d", ErrInvalidMode, mode)
	}
}

// loadPair resolves the first two operands of a binary instruction.
func (vm *VM) loadPair(ins Instruction, args [maxArity]types.Word) (types.Word, types.Word, error) {
	a, err := vm.load(ins.Modes[0], args[0])
	if err != nil {
		return 0, 0, err
	}
	b, err := vm.load(ins.Modes[1], args[1])
	if err != nil {
		return 0, 0, err
	}
	return a, b, nil
}

// store resolves a write-target operand to an address and writes v there.
// Immediate mode never reaches here; Decode rejects it on write targets.
func (vm *VM) store(ins Instruction, i int, operand, v types.Word) error {
	addr := operand
	if ins.Modes[i] == ModeRelative {
		addr = operand + vm.rel
	}
	return vm.mem.Write(addr, v)
}

// State is a serializable copy of a machine's execution state, sufficient to
// reconstruct a runnable VM. I/O queues are not part of the state.
type State struct {
	Image    []types.Word // original program image
	Memory   []types.Word // current memory contents
	IP       types.Word
	RelBase  types.Word
	IsHalted bool
}

// State captures the machine's current execution state.
func (vm *VM) State() State {
	return State{
		Image:    vm.prog.Image(),
		Memory:   vm.mem.Snapshot(),
		IP:       vm.ip,
		RelBase:  vm.rel,
		IsHalted: vm.halted,
	}
}

// FromState reconstructs a VM from a captured state, with fresh empty I/O
// queues.
func FromState(st State) (*VM, error) {
	prog, err := FromImage(st.Image)
	if err != nil {
		return nil, err
	}
	return &VM{
		prog:   prog,
		mem:    NewMemory(st.Memory),
		ip:     st.IP,
		rel:    st.RelBase,
		halted: st.IsHalted,
		in:     NewQueue(),
		out:    NewQueue(),
	}, nil
}
