// intnet: Intcode machine runner and packet-network simulator.
//
// This is the main entry point for intnet. It executes a single Intcode
// program to halt, drives a packet network of N machines to its NAT
// termination, or runs a feedback-loop ring, recording every run in the
// node's data directory.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/fortiblox/intnet/internal/types"
	"github.com/fortiblox/intnet/pkg/intcode"
	"github.com/fortiblox/intnet/pkg/node"
	"github.com/fortiblox/intnet/pkg/snapshot"
)

// Version information
var (
	Version   = "0.1.0"
	GitCommit = "dev"
)

// Configuration flags
var (
	programPath = flag.String("program", "", "Path to the Intcode program file")
	mode        = flag.String("mode", "run", "Run mode: run, network, ring, console")
	machines    = flag.Int("machines", 50, "Machine count for network mode")
	phases      = flag.String("phases", "9,8,7,6,5", "Comma-separated phase settings for ring mode")
	initial     = flag.Int64("initial", 0, "Initial input value for ring mode")
	inputs      = flag.String("inputs", "", "Comma-separated input values for run mode")
	dataDir     = flag.String("data-dir", "./data", "Data directory for the program registry and run store")
	snapPath    = flag.String("snapshot", "", "Write a snapshot of the machine here if it blocks (run mode)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("intnet %s (%s)\n", Version, GitCommit)
		os.Exit(0)
	}

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	if *programPath == "" {
		log.Fatal("missing -program")
	}
	source, err := os.ReadFile(*programPath)
	if err != nil {
		log.Fatalf("Failed to read program: %v", err)
	}
	prog, err := intcode.Parse(string(source))
	if err != nil {
		log.Fatalf("Failed to parse program: %v", err)
	}
	log.Printf("Loaded program %s (%d cells)", prog.ID(), prog.Len())

	// Console mode needs no stores; handle it before opening the node.
	if *mode == "console" {
		if err := runConsole(prog); err != nil {
			log.Fatalf("Console run failed: %v", err)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	cfg := node.DefaultConfig()
	cfg.DataDir = *dataDir
	cfg.Machines = *machines
	n, err := node.New(cfg)
	if err != nil {
		log.Fatalf("Failed to open node: %v", err)
	}
	defer n.Close()

	switch *mode {
	case "run":
		vals, err := parseWords(*inputs)
		if err != nil {
			log.Fatalf("Bad -inputs: %v", err)
		}
		rec, err := n.RunProgram(ctx, prog, vals...)
		if err != nil {
			var starved *node.StarvedError
			if *snapPath != "" && errors.As(err, &starved) {
				saveSnapshot(starved.State)
			}
			log.Fatalf("Run failed: %v", err)
		}
		log.Printf("Run %d halted with %d outputs", rec.Seq, len(rec.Outputs))
		for _, v := range rec.Outputs {
			fmt.Println(v)
		}

	case "network":
		rec, err := n.RunNetwork(ctx, prog, *machines)
		if err != nil {
			log.Fatalf("Network run failed: %v", err)
		}
		if rec.FirstNATY != nil {
			log.Printf("First NAT packet Y: %d", *rec.FirstNATY)
		}
		log.Printf("Terminated with Y: %d", *rec.FinalY)
		fmt.Println(*rec.FinalY)

	case "ring":
		ph, err := parseWords(*phases)
		if err != nil {
			log.Fatalf("Bad -phases: %v", err)
		}
		rec, err := n.RunRing(ctx, prog, ph, *initial)
		if err != nil {
			log.Fatalf("Ring run failed: %v", err)
		}
		log.Printf("Ring converged: %d", *rec.FinalY)
		fmt.Println(*rec.FinalY)

	default:
		log.Fatalf("Unknown mode %q", *mode)
	}
}

// runConsole runs the program interactively over stdin/stdout.
func runConsole(prog *intcode.Program) error {
	vm := intcode.New(prog)
	console := intcode.NewConsole(os.Stdin, os.Stdout)
	vm.SetInput(console)
	vm.SetOutput(console)

	res, err := vm.Run()
	if err != nil {
		return err
	}
	if res == intcode.Blocked {
		return fmt.Errorf("machine blocked with input exhausted")
	}
	return nil
}

// saveSnapshot persists the suspended machine state carried by a starvation
// error, so the run can be resumed later with more input.
func saveSnapshot(st intcode.State) {
	vm, err := intcode.FromState(st)
	if err != nil {
		log.Printf("Snapshot failed: %v", err)
		return
	}
	if err := snapshot.Save(*snapPath, vm); err != nil {
		log.Printf("Snapshot failed: %v", err)
		return
	}
	log.Printf("Blocked machine snapshotted to %s", *snapPath)
}

// parseWords parses a comma-separated list of signed integers.
func parseWords(s string) ([]types.Word, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	vals := make([]types.Word, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", p, err)
		}
		vals = append(vals, v)
	}
	return vals, nil
}
