// Package node provides the service layer tying intnet components together.
//
// A Node owns a program registry and a run store, and offers the high-level
// run operations: execute one machine to halt, drive a packet network to its
// NAT termination, or run a feedback-loop ring. Every completed run is
// recorded in the run store and its program cached in the registry, so
// results stay queryable by program ID after the process exits.
package node

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fortiblox/intnet/internal/types"
	"github.com/fortiblox/intnet/pkg/intcode"
	"github.com/fortiblox/intnet/pkg/network"
	"github.com/fortiblox/intnet/pkg/progdb"
	"github.com/fortiblox/intnet/pkg/runstore"
)

// Node errors.
var (
	ErrConfigInvalid = errors.New("invalid node configuration")
	ErrClosed        = errors.New("node is closed")
)

// StarvedError reports a single-machine run that blocked on input after
// consuming everything it was given. It carries the machine's suspended
// state, so callers can snapshot it or resume it with more input.
type StarvedError struct {
	Program  types.ProgramID
	Consumed int
	State    intcode.State
}

func (e *StarvedError) Error() string {
	return fmt.Sprintf("program %s blocked on input after %d values", e.Program, e.Consumed)
}

// Config holds node configuration.
type Config struct {
	// DataDir is the root directory for all node data. Subdirectories are
	// created for the program registry and the run store.
	DataDir string

	// InMemory keeps the program registry in memory (for testing).
	InMemory bool

	// Machines is the default machine count for network runs.
	Machines int

	// OnRunRecorded is called after each run record is stored.
	OnRunRecorded func(rec *runstore.Record)
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DataDir:  "./data",
		Machines: 50,
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("%w: data directory is required", ErrConfigInvalid)
	}
	if c.Machines <= 0 {
		return fmt.Errorf("%w: machine count must be positive", ErrConfigInvalid)
	}
	return nil
}

// Node is the intnet service: program registry, run store, and the run
// operations built on them.
type Node struct {
	config Config

	programs *progdb.DB
	runs     *runstore.Store

	mu     sync.Mutex
	closed bool
}

// New creates a node with the given configuration and opens its stores.
func New(config Config) (*Node, error) {
	if config.Machines == 0 {
		config.Machines = DefaultConfig().Machines
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	pcfg := progdb.DefaultConfig(filepath.Join(config.DataDir, "programs"))
	pcfg.InMemory = config.InMemory
	programs, err := progdb.Open(pcfg)
	if err != nil {
		return nil, fmt.Errorf("open program registry: %w", err)
	}

	// bbolt has no in-memory mode, so the run store always lives under
	// DataDir; tests point DataDir at t.TempDir.
	runsPath := filepath.Join(config.DataDir, "runs.db")
	runs, err := runstore.Open(runstore.DefaultConfig(runsPath))
	if err != nil {
		programs.Close()
		return nil, fmt.Errorf("open run store: %w", err)
	}

	return &Node{
		config:   config,
		programs: programs,
		runs:     runs,
	}, nil
}

// Programs returns the program registry.
func (n *Node) Programs() *progdb.DB {
	return n.programs
}

// Runs returns the run store.
func (n *Node) Runs() *runstore.Store {
	return n.runs
}

// RunProgram executes one machine seeded from prog, feeding it inputs, and
// runs it to halt. The collected outputs are recorded and returned.
func (n *Node) RunProgram(ctx context.Context, prog *intcode.Program, inputs ...types.Word) (*runstore.Record, error) {
	if err := n.check(); err != nil {
		return nil, err
	}

	vm := intcode.New(prog)
	vm.SetInput(intcode.NewQueue(inputs...))
	out := intcode.NewQueue()
	vm.SetOutput(out)

	started := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := vm.RunSteps(stepsPerSlice)
		if err != nil {
			return nil, fmt.Errorf("run program %s: %w", prog.ID(), err)
		}
		if res == intcode.Halted {
			break
		}
		if res == intcode.Blocked {
			return nil, &StarvedError{Program: prog.ID(), Consumed: len(inputs), State: vm.State()}
		}
	}

	rec := &runstore.Record{
		Program:    prog.ID(),
		Kind:       runstore.KindRun,
		Machines:   1,
		Outputs:    out.Drain(),
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	return rec, n.record(prog, rec)
}

// RunNetwork builds a packet network of machines from prog and drives it to
// NAT termination. Both NAT observations are recorded.
func (n *Node) RunNetwork(ctx context.Context, prog *intcode.Program, machines int) (*runstore.Record, error) {
	if err := n.check(); err != nil {
		return nil, err
	}
	if machines <= 0 {
		machines = n.config.Machines
	}

	net, err := network.New(intcode.New(prog), machines)
	if err != nil {
		return nil, err
	}

	started := time.Now()
	finalY, err := net.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("network run of %s: %w", prog.ID(), err)
	}

	rec := &runstore.Record{
		Program:    prog.ID(),
		Kind:       runstore.KindNetwork,
		Machines:   machines,
		FinalY:     &finalY,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if y, ok := net.FirstNATY(); ok {
		rec.FirstNATY = &y
	}
	return rec, n.record(prog, rec)
}

// RunRing runs prog as a feedback-loop ring with the given phase settings and
// records the converged value.
func (n *Node) RunRing(ctx context.Context, prog *intcode.Program, phases []types.Word, initial types.Word) (*runstore.Record, error) {
	if err := n.check(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	started := time.Now()
	final, err := network.RunRing(intcode.New(prog), phases, initial)
	if err != nil {
		return nil, fmt.Errorf("ring run of %s: %w", prog.ID(), err)
	}

	rec := &runstore.Record{
		Program:    prog.ID(),
		Kind:       runstore.KindRing,
		Machines:   len(phases),
		FinalY:     &final,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	return rec, n.record(prog, rec)
}

// stepsPerSlice bounds how long RunProgram executes between ctx checks.
const stepsPerSlice = 1 << 16

// record caches the program and persists the run record.
func (n *Node) record(prog *intcode.Program, rec *runstore.Record) error {
	if _, err := n.programs.Put(prog); err != nil {
		return fmt.Errorf("register program: %w", err)
	}
	if _, err := n.runs.Put(rec); err != nil {
		return fmt.Errorf("store run record: %w", err)
	}
	if n.config.OnRunRecorded != nil {
		n.config.OnRunRecorded(rec)
	}
	return nil
}

// check returns an error if the node is closed.
func (n *Node) check() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrClosed
	}
	return nil
}

// Close shuts down the node's stores.
func (n *Node) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true

	perr := n.programs.Close()
	rerr := n.runs.Close()
	if perr != nil {
		return perr
	}
	return rerr
}
