// Package network implements the multi-machine packet network and its NAT
// recovery protocol.
//
// A Network owns N independently-cloned Intcode machines, each with a private
// inbound packet queue. The orchestrator is single-threaded: every round it
// visits machines in ascending address order, runs each until it blocks on
// input, and routes the packets it produced. It is the only code that touches
// more than one machine's state, and only between execution turns.
//
// When a full round moves no packets and every machine is blocked, the
// network is idle. The NAT then delivers its last-seen packet to machine 0;
// two consecutive idle deliveries with the same Y value terminate the run.
package network

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/intnet/internal/types"
	"github.com/fortiblox/intnet/pkg/intcode"
)

// Network errors.
var (
	// ErrBadDestination is returned when a machine emits a packet addressed
	// outside [0,N) and not to the NAT. It indicates a routing bug in the
	// interpreted program itself, so it is fatal.
	ErrBadDestination = errors.New("packet destination out of range")

	// ErrNoMachines is returned when constructing a network with no machines.
	ErrNoMachines = errors.New("network needs at least one machine")

	// ErrHalted is returned when every machine halts before the termination
	// protocol fires.
	ErrHalted = errors.New("all machines halted before termination")
)

// machine is one network node: a cloned VM plus its private packet queue.
type machine struct {
	vm     *intcode.VM
	inbox  *intcode.Queue
	outbox *intcode.Queue
}

// Network orchestrates N machines and the NAT controller.
type Network struct {
	machines []*machine

	// NAT state: the single stored packet, the Y of the first packet ever
	// addressed to 255, and the Y last delivered to machine 0 on idle.
	nat        *types.Packet
	firstNATY  *types.Word
	lastIdleY  *types.Word
	terminated bool
	finalY     types.Word
}

// New builds a network of n machines from a template VM. Each machine is an
// independent clone; its inbox is seeded with its own address, per the boot
// protocol the interpreted programs expect.
func New(template *intcode.VM, n int) (*Network, error) {
	if n <= 0 {
		return nil, ErrNoMachines
	}
	net := &Network{machines: make([]*machine, n)}
	for i := 0; i < n; i++ {
		m := &machine{
			vm:     template.Clone(),
			inbox:  intcode.NewQueue(types.Word(i)),
			outbox: intcode.NewQueue(),
		}
		m.vm.SetInput(m.inbox)
		m.vm.SetOutput(m.outbox)
		net.machines[i] = m
	}
	return net, nil
}

// Size returns the number of machines.
func (net *Network) Size() int {
	return len(net.machines)
}

// FirstNATY returns the Y of the first packet ever addressed to the NAT.
// Available as soon as that packet is routed, before any idle recovery.
func (net *Network) FirstNATY() (types.Word, bool) {
	if net.firstNATY == nil {
		return 0, false
	}
	return *net.firstNATY, true
}

// TerminationY returns the Y value that fired the termination protocol.
func (net *Network) TerminationY() (types.Word, bool) {
	if !net.terminated {
		return 0, false
	}
	return net.finalY, true
}

// Run drives rounds until the NAT delivers the same Y to machine 0 on two
// consecutive idle recoveries, and returns that Y. A guest program that never
// reaches a stable idle state runs until ctx is cancelled; the network itself
// imposes no timeout.
func (net *Network) Run(ctx context.Context) (types.Word, error) {
	for !net.terminated {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := net.round(); err != nil {
			return 0, err
		}
	}
	return net.finalY, nil
}

// round runs every machine once in address order, routes produced packets,
// and applies the NAT idle recovery when nothing moved.
func (net *Network) round() error {
	moved := false
	allHalted := true

	for addr, m := range net.machines {
		if m.vm.Halted() {
			continue
		}
		allHalted = false

		if m.inbox.Len() == 0 {
			m.inbox.Push(types.NoPacket)
		} else {
			// A pending packet counts as progress for idle detection.
			moved = true
		}

		res, err := m.vm.Run()
		if err != nil {
			return fmt.Errorf("machine %d: %w", addr, err)
		}
		if res == intcode.Halted && m.outbox.Len() == 0 {
			continue
		}

		sent, err := net.route(addr, m.outbox.Drain())
		if err != nil {
			return err
		}
		if sent {
			moved = true
		}
	}

	if allHalted {
		return ErrHalted
	}
	if moved {
		return nil
	}
	return net.idleRecovery()
}

// route delivers a machine's drained output in strict groups of three.
func (net *Network) route(from int, out []types.Word) (bool, error) {
	if len(out) == 0 {
		return false, nil
	}
	if len(out)%3 != 0 {
		return false, fmt.Errorf("machine %d: output not in packet triples (%d values)", from, len(out))
	}

	for i := 0; i < len(out); i += 3 {
		pkt := types.Packet{Dest: out[i], X: out[i+1], Y: out[i+2]}
		switch {
		case pkt.Dest == types.NATAddress:
			if net.firstNATY == nil {
				y := pkt.Y
				net.firstNATY = &y
			}
			// The NAT slot holds at most one packet; later ones overwrite.
			p := pkt
			net.nat = &p
		case pkt.Dest >= 0 && pkt.Dest < types.Word(len(net.machines)):
			inbox := net.machines[pkt.Dest].inbox
			inbox.Push(pkt.X)
			inbox.Push(pkt.Y)
		default:
			return false, fmt.Errorf("%w: machine %d sent %s", ErrBadDestination, from, pkt)
		}
	}
	return true, nil
}

// idleRecovery delivers the stored NAT packet to machine 0 and checks the
// termination condition against the previous idle delivery.
func (net *Network) idleRecovery() error {
	if net.nat == nil {
		// Idle with nothing stored: nothing to recover with. Treat as a
		// stalled guest program and keep spinning rounds; termination can
		// only come from a NAT packet.
		return nil
	}

	inbox := net.machines[0].inbox
	inbox.Push(net.nat.X)
	inbox.Push(net.nat.Y)

	if net.lastIdleY != nil && *net.lastIdleY == net.nat.Y {
		net.terminated = true
		net.finalY = net.nat.Y
		return nil
	}
	y := net.nat.Y
	net.lastIdleY = &y
	return nil
}
