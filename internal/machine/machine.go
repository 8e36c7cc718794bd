// Package machine implements the abstract machine: process state (threads,
// call stacks, global pointers, the provenance-exposure set) and the
// transition relation evaluating expressions, statements and terminators
// against an injected Memory.
//
// The machine is generic over mem.Memory; nothing here hard-wires the
// reference backend. All nondeterminism is funneled through three pluggable
// points: the backend's address picker (daemonic), the provenance predictor
// (angelic), and the scheduler (interleaving).
package machine

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/mem"
	"github.com/minimach/minimach/internal/repr"
	"github.com/minimach/minimach/internal/ub"
)

// OutcomeKind classifies how a run ended.
type OutcomeKind int

const (
	// OutcomeStop is the clean, programmer-requested halt with a passed
	// leak check.
	OutcomeStop OutcomeKind = iota
	// OutcomeUB is undefined behavior with a diagnostic.
	OutcomeUB
	// OutcomeDeadlock means every live thread is blocked on a join. A stuck
	// machine is a form of non-termination made finite; it is neither UB
	// nor a clean stop.
	OutcomeDeadlock
	// OutcomeExhausted means the configured step budget ran out before the
	// machine terminated. Like OutcomeDeadlock it stands in for
	// non-termination and is not a semantic classification.
	OutcomeExhausted
)

// String returns the outcome kind's name.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeStop:
		return "stop"
	case OutcomeUB:
		return "undefined behavior"
	case OutcomeDeadlock:
		return "deadlock"
	case OutcomeExhausted:
		return "step budget exhausted"
	}
	return "?"
}

// Outcome is the terminal classification of a run.
type Outcome struct {
	Kind     OutcomeKind
	ExitCode int           // OutcomeStop only
	UB       *ub.Undefined // OutcomeUB only
}

// String renders the outcome for logs and the CLI.
func (o Outcome) String() string {
	switch o.Kind {
	case OutcomeStop:
		return fmt.Sprintf("machine stop (exit code %d)", o.ExitCode)
	case OutcomeUB:
		return o.UB.Error()
	}
	return o.Kind.String()
}

// Scheduler resolves the nondeterministic thread interleaving. Next picks
// one of the enabled thread ids for the next statement-granular step. No
// fairness is assumed; correctness must hold for every scheduler.
type Scheduler interface {
	Next(enabled []int) int
}

// roundRobin is the default scheduler.
type roundRobin struct {
	last int
}

func (s *roundRobin) Next(enabled []int) int {
	for _, id := range enabled {
		if id > s.last {
			s.last = id
			return id
		}
	}
	s.last = enabled[0]
	return enabled[0]
}

// Recorder receives the audit events of a run. Implementations must not
// influence execution; the trace package persists them to SQLite.
type Recorder interface {
	// RecordStep is called once per executed step.
	RecordStep(thread int, fn ir.FnName, block ir.BBName, stmt int)
	// RecordAccess is called once per successful memory access.
	RecordAccess(thread int, addr uint64, size uint64, write, atomic bool)
	// RecordOutcome is called exactly once, with the terminal classification.
	RecordOutcome(kind string, detail string)
}

// ProvenancePredictor resolves the angelic choice of an integer-to-pointer
// cast: given the address and the exposed tokens, predict the provenance
// that keeps the rest of the execution well-defined. "No provenance" is
// always an admissible prediction, so the candidate set is never empty.
type ProvenancePredictor interface {
	Predict(addr uint64, exposed []ir.Provenance) ir.Provenance
}

// FlatPredictor is the default predictor over the reference backend: it
// predicts the unique exposed token whose live allocation contains the
// address, and no provenance when zero or several tokens qualify.
type FlatPredictor struct {
	Mem *mem.FlatMemory
}

// Predict implements ProvenancePredictor.
func (p *FlatPredictor) Predict(addr uint64, exposed []ir.Provenance) ir.Provenance {
	var found ir.Provenance
	n := 0
	for _, prov := range exposed {
		base, size, live := p.Mem.AllocationBase(prov)
		if live && addr >= base && addr < base+size.Bytes() {
			found = prov
			n++
		}
	}
	if n == 1 {
		return found
	}
	return ir.NoProvenance
}

// nonePredictor is used when the backend is not the reference one and no
// predictor was injected.
type nonePredictor struct{}

func (nonePredictor) Predict(uint64, []ir.Provenance) ir.Provenance { return ir.NoProvenance }

// Machine is the process-wide state: the immutable program, the injected
// memory, the provenance-exposure set, and one call stack per thread. One
// Machine per run.
type Machine struct {
	prog  ir.Program
	mem   mem.Memory
	codec *repr.Codec

	threads []*thread
	exposed map[ir.Provenance]struct{}

	globals map[ir.GlobalName]ir.Pointer
	fnAddrs map[ir.FnName]ir.Pointer
	fnAt    map[uint64]ir.FnName

	predictor ProvenancePredictor
	sched     Scheduler
	rec       Recorder
	log       *slog.Logger

	stdout io.Writer
	stderr io.Writer

	oracle   *raceOracle
	maxSteps int
	steps    int
}

// Option configures a Machine.
type Option func(*Machine)

// WithScheduler replaces the default round-robin scheduler.
func WithScheduler(s Scheduler) Option {
	return func(m *Machine) { m.sched = s }
}

// WithPredictor replaces the provenance predictor.
func WithPredictor(p ProvenancePredictor) Option {
	return func(m *Machine) { m.predictor = p }
}

// WithRecorder attaches an audit recorder.
func WithRecorder(r Recorder) Option {
	return func(m *Machine) { m.rec = r }
}

// WithLogger attaches a structured logger. Default discards.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.log = l }
}

// WithStdout redirects the print intrinsic's output.
func WithStdout(w io.Writer) Option {
	return func(m *Machine) { m.stdout = w }
}

// WithStderr redirects the eprint intrinsic's output.
func WithStderr(w io.Writer) Option {
	return func(m *Machine) { m.stderr = w }
}

// WithMaxSteps bounds the number of steps; 0 means unbounded.
func WithMaxSteps(n int) Option {
	return func(m *Machine) { m.maxSteps = n }
}

// New creates a Machine over a well-formed program and a memory backend.
// The wf package checks well-formedness; New does not re-derive it.
//
// New allocates the globals and one address per function (for function
// pointers), then sets up the initial thread at the program's start
// function. Setup failures surface the backend's errors.
func New(prog ir.Program, memory mem.Memory, opts ...Option) (*Machine, error) {
	m := &Machine{
		prog:    prog,
		mem:     memory,
		codec:   repr.New(prog.Target),
		exposed: make(map[ir.Provenance]struct{}),
		globals: make(map[ir.GlobalName]ir.Pointer),
		fnAddrs: make(map[ir.FnName]ir.Pointer),
		fnAt:    make(map[uint64]ir.FnName),
		sched:   &roundRobin{last: -1},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		stdout:  io.Discard,
		stderr:  io.Discard,
		oracle:  newRaceOracle(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.predictor == nil {
		if fm, ok := memory.(*mem.FlatMemory); ok {
			m.predictor = &FlatPredictor{Mem: fm}
		} else {
			m.predictor = nonePredictor{}
		}
	}

	for name, g := range prog.Globals {
		p, err := m.mem.Allocate(mem.AllocGlobal, g.Size, g.Align)
		if err != nil {
			return nil, fmt.Errorf("allocating global %s: %w", name, err)
		}
		if g.Init != nil {
			bytes := make([]ir.AbstractByte, len(g.Init))
			for i, by := range g.Init {
				bytes[i] = ir.InitByte(by)
			}
			if err := m.mem.Store(p, bytes, g.Align); err != nil {
				return nil, fmt.Errorf("initializing global %s: %w", name, err)
			}
		}
		m.globals[name] = p
	}

	// Function pointers need distinct, never-dereferenced addresses.
	for name := range prog.Functions {
		p, err := m.mem.Allocate(mem.AllocGlobal, 1, ir.Align1)
		if err != nil {
			return nil, fmt.Errorf("allocating function address for %s: %w", name, err)
		}
		m.fnAddrs[name] = p
		m.fnAt[p.Addr] = name
	}

	start, ok := prog.Func(prog.Start)
	if !ok {
		return nil, fmt.Errorf("program has no start function %q", prog.Start)
	}
	t := newThread(0)
	f, err := m.pushFrame(t, start, nil, retAction{})
	if err != nil {
		return nil, fmt.Errorf("setting up the start frame: %w", err)
	}
	t.stack = append(t.stack, f)
	m.threads = append(m.threads, t)
	return m, nil
}

// Codec returns the machine's representation-relation codec.
func (m *Machine) Codec() *repr.Codec { return m.codec }

// Run invokes Step in a loop until termination: clean exit, UB, deadlock,
// or step-budget exhaustion. Context cancellation also ends the loop,
// reported as exhaustion.
func (m *Machine) Run(ctx context.Context) Outcome {
	out := m.runLoop(ctx)
	m.log.Info("machine terminated", "kind", out.Kind.String(), "steps", m.steps)
	if m.rec != nil {
		detail := ""
		switch out.Kind {
		case OutcomeStop:
			detail = fmt.Sprintf("exit code %d", out.ExitCode)
		case OutcomeUB:
			detail = out.UB.Error()
		}
		m.rec.RecordOutcome(out.Kind.String(), detail)
	}
	return out
}

func (m *Machine) runLoop(ctx context.Context) Outcome {
	for {
		if err := ctx.Err(); err != nil {
			return Outcome{Kind: OutcomeExhausted}
		}
		if m.maxSteps > 0 && m.steps >= m.maxSteps {
			return Outcome{Kind: OutcomeExhausted}
		}
		enabled := m.enabledThreads()
		if len(enabled) == 0 {
			if m.anyBlocked() {
				return Outcome{Kind: OutcomeDeadlock}
			}
			// All threads terminated without the exit intrinsic. The main
			// thread's return path already raised UB, so this state is
			// unreachable for well-formed input.
			panic("machine: all threads terminated without a terminal outcome")
		}
		id := m.sched.Next(enabled)
		if err := m.Step(id); err != nil {
			if s, ok := asStop(err); ok {
				return Outcome{Kind: OutcomeStop, ExitCode: s.ExitCode}
			}
			if u, ok := ub.AsUndefined(err); ok {
				m.log.Info("undefined behavior", "code", string(u.Code), "reason", u.Reason)
				return Outcome{Kind: OutcomeUB, UB: u}
			}
			panic(fmt.Sprintf("machine: step returned a non-terminal error: %v", err))
		}
	}
}

// Steps returns the number of steps executed so far.
func (m *Machine) Steps() int { return m.steps }

// enabledThreads returns ids of threads that can take a step, unblocking
// joins whose target has terminated.
func (m *Machine) enabledThreads() []int {
	var out []int
	for _, t := range m.threads {
		switch t.state {
		case threadEnabled:
			out = append(out, t.id)
		case threadBlocked:
			target := m.threads[t.joinTarget]
			if target.state == threadTerminated {
				out = append(out, t.id)
			}
		}
	}
	return out
}

func (m *Machine) anyBlocked() bool {
	for _, t := range m.threads {
		if t.state == threadBlocked {
			return true
		}
	}
	return false
}

// expose records a provenance token in the exposure set.
func (m *Machine) expose(prov ir.Provenance) {
	if !prov.None() {
		m.exposed[prov] = struct{}{}
	}
}

// exposedList returns the exposure set as a slice for the predictor.
func (m *Machine) exposedList() []ir.Provenance {
	out := make([]ir.Provenance, 0, len(m.exposed))
	for p := range m.exposed {
		out = append(out, p)
	}
	return out
}
