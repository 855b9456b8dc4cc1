package network

import (
	"errors"
	"fmt"

	"github.com/fortiblox/intnet/internal/types"
	"github.com/fortiblox/intnet/pkg/intcode"
)

// Pipeline errors.
var (
	// ErrDeadlock is returned when every machine in a pipeline is blocked on
	// input and no queue holds a value, so no progress is possible.
	ErrDeadlock = errors.New("pipeline deadlocked")
)

// RunChain wires n clones of template in series: machine i's output queue is
// machine i+1's input queue. Each queue is seeded with its machine's phase
// setting, initial is pushed to the first, and the value emitted by the last
// machine after all halt is returned.
func RunChain(template *intcode.VM, phases []types.Word, initial types.Word) (types.Word, error) {
	vms, queues, err := wire(template, phases, false)
	if err != nil {
		return 0, err
	}
	queues[0].Push(initial)

	if err := drive(vms, queues); err != nil {
		return 0, err
	}
	return lastValue(queues[len(queues)-1])
}

// RunRing wires n clones of template in a loop: the last machine's output
// feeds the first machine's input. Machines run cooperatively, suspending on
// empty input, until all halt; the final value delivered back to the first
// queue is returned. This is the feedback-loop amplifier topology.
func RunRing(template *intcode.VM, phases []types.Word, initial types.Word) (types.Word, error) {
	vms, queues, err := wire(template, phases, true)
	if err != nil {
		return 0, err
	}
	queues[0].Push(initial)

	if err := drive(vms, queues); err != nil {
		return 0, err
	}
	return lastValue(queues[0])
}

// wire builds the clones and their connecting queues. queues[i] is the input
// of machine i; machine i writes to queues[i+1], and in ring mode the last
// machine writes back to queues[0]. In chain mode an extra tail queue
// collects the last machine's output.
func wire(template *intcode.VM, phases []types.Word, ring bool) ([]*intcode.VM, []*intcode.Queue, error) {
	n := len(phases)
	if n == 0 {
		return nil, nil, ErrNoMachines
	}

	nq := n
	if !ring {
		nq = n + 1
	}
	queues := make([]*intcode.Queue, nq)
	for i, phase := range phases {
		queues[i] = intcode.NewQueue(phase)
	}
	if !ring {
		queues[n] = intcode.NewQueue()
	}

	vms := make([]*intcode.VM, n)
	for i := 0; i < n; i++ {
		vm := template.Clone()
		vm.SetInput(queues[i])
		vm.SetOutput(queues[(i+1)%nq])
		vms[i] = vm
	}
	return vms, queues, nil
}

// drive interleaves the machines round-robin until all halt. A pass in which
// every live machine blocks without consuming or producing anything means the
// topology can never make progress again.
func drive(vms []*intcode.VM, queues []*intcode.Queue) error {
	for {
		allHalted := true
		progress := false

		for i, vm := range vms {
			if vm.Halted() {
				continue
			}
			allHalted = false

			before := queues[i].Len()
			res, err := vm.Run()
			if err != nil {
				return fmt.Errorf("machine %d: %w", i, err)
			}
			if res == intcode.Halted || queues[i].Len() != before {
				progress = true
			}
		}

		if allHalted {
			return nil
		}
		if !progress {
			return ErrDeadlock
		}
	}
}

// lastValue drains a queue and returns its final value.
func lastValue(q *intcode.Queue) (types.Word, error) {
	vals := q.Drain()
	if len(vals) == 0 {
		return 0, errors.New("pipeline produced no output")
	}
	return vals[len(vals)-1], nil
}
