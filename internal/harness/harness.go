// Package harness runs conformance scenarios end to end: compile the CUE
// program, check well-formedness, execute it on the reference backend with
// scripted nondeterminism, and compare the terminal classification against
// the scenario's expectation. Golden files pin the full diagnostic output.
package harness

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/minimach/minimach/internal/ir"
	"github.com/minimach/minimach/internal/machine"
	"github.com/minimach/minimach/internal/mem"
	"github.com/minimach/minimach/internal/progfile"
	"github.com/minimach/minimach/internal/testutil"
	"github.com/minimach/minimach/internal/wf"
)

// DefaultMaxSteps bounds scenarios that do not set their own budget, so a
// looping fixture fails as "exhausted" instead of hanging the suite.
const DefaultMaxSteps = 100000

// Result is the outcome of running one scenario.
type Result struct {
	Scenario *Scenario

	// Outcome is the terminal classification name: one of the Expect*
	// scenario constants.
	Outcome string
	// Detail is the diagnostic: the UB message, the exit code, or the
	// ill-formedness reason.
	Detail string
	// UBCode is set for "ub" outcomes.
	UBCode string
	// ExitCode is set for "stop" outcomes.
	ExitCode int
	// Stdout is everything the program printed.
	Stdout string
	// Steps is the number of machine steps executed.
	Steps int

	// Errors lists expectation failures; empty means the scenario passed.
	Errors []string
}

// Passed reports whether the scenario's expectation held.
func (r *Result) Passed() bool { return len(r.Errors) == 0 }

// Run executes a scenario. An error means the harness itself failed (bad
// program file, unreadable scenario); an expectation mismatch is reported
// through Result.Errors instead.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	result := &Result{Scenario: scenario}

	prog, err := progfile.CompileFile(scenario.Program)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", scenario.Program, err)
	}

	if err := wf.Check(prog); err != nil {
		result.Outcome = ExpectIllFormed
		result.Detail = err.Error()
		evaluate(result)
		return result, nil
	}

	var memOpts []mem.Option
	if len(scenario.Addresses) > 0 {
		memOpts = append(memOpts, mem.WithPicker(&testutil.ScriptPicker{
			Addrs:    scenario.Addresses,
			Fallback: mem.NewBumpPicker(),
		}))
	}
	memory := mem.NewFlat(prog.Target, memOpts...)

	var stdout bytes.Buffer
	maxSteps := scenario.MaxSteps
	if maxSteps == 0 {
		maxSteps = DefaultMaxSteps
	}
	opts := []machine.Option{
		machine.WithStdout(&stdout),
		machine.WithMaxSteps(maxSteps),
	}
	if len(scenario.Scheduler) > 0 {
		opts = append(opts, machine.WithScheduler(&testutil.ScriptScheduler{Script: scenario.Scheduler}))
	}
	if len(scenario.Predict) > 0 {
		script := make([]ir.Provenance, len(scenario.Predict))
		for i, id := range scenario.Predict {
			if id >= 0 {
				script[i] = ir.Provenance{ID: uint64(id), Valid: true}
			}
		}
		opts = append(opts, machine.WithPredictor(&testutil.ScriptPredictor{Script: script}))
	}

	m, err := machine.New(*prog, memory, opts...)
	if err != nil {
		return nil, fmt.Errorf("machine setup: %w", err)
	}
	out := m.Run(ctx)
	result.Steps = m.Steps()
	result.Stdout = stdout.String()

	switch out.Kind {
	case machine.OutcomeStop:
		result.Outcome = ExpectStop
		result.ExitCode = out.ExitCode
		result.Detail = fmt.Sprintf("exit code %d", out.ExitCode)
	case machine.OutcomeUB:
		result.Outcome = ExpectUB
		result.UBCode = string(out.UB.Code)
		result.Detail = out.UB.Error()
	case machine.OutcomeDeadlock:
		result.Outcome = ExpectDeadlock
	case machine.OutcomeExhausted:
		result.Outcome = ExpectExhausted
	}

	evaluate(result)
	return result, nil
}

// evaluate compares the result against the scenario's expectation.
func evaluate(r *Result) {
	want := r.Scenario.Expect
	if r.Outcome != want.Outcome {
		r.Errors = append(r.Errors,
			fmt.Sprintf("outcome is %q, want %q (%s)", r.Outcome, want.Outcome, r.Detail))
		return
	}
	if want.Outcome == ExpectStop && r.ExitCode != want.ExitCode {
		r.Errors = append(r.Errors,
			fmt.Sprintf("exit code is %d, want %d", r.ExitCode, want.ExitCode))
	}
	if want.Outcome == ExpectUB && want.UBCode != "" && r.UBCode != want.UBCode {
		r.Errors = append(r.Errors,
			fmt.Sprintf("diagnostic code is %s, want %s (%s)", r.UBCode, want.UBCode, r.Detail))
	}
	if want.Stdout != "" && r.Stdout != want.Stdout {
		r.Errors = append(r.Errors,
			fmt.Sprintf("stdout is %q, want %q", r.Stdout, want.Stdout))
	}
}

// Report renders the result for golden comparison and CLI output. The
// format is line-oriented and stable.
func (r *Result) Report() string {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", r.Scenario.Name)
	fmt.Fprintf(&b, "outcome: %s\n", r.Outcome)
	if r.Detail != "" {
		fmt.Fprintf(&b, "detail: %s\n", r.Detail)
	}
	if r.Stdout != "" {
		fmt.Fprintf(&b, "stdout:\n%s", indent(r.Stdout))
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&b, "FAIL: %s\n", e)
	}
	return b.String()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	var b strings.Builder
	for _, l := range lines {
		b.WriteString("  " + l + "\n")
	}
	return b.String()
}
