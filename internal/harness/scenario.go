package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a program file, the scripts
// pinning down the machine's nondeterminism, and the expected terminal
// classification.
type Scenario struct {
	// Name uniquely identifies this scenario; golden files are keyed by it.
	Name string `yaml:"name"`

	// Description explains what this scenario exercises.
	Description string `yaml:"description"`

	// Program is the path to the CUE program file, relative to the
	// scenario file location.
	Program string `yaml:"program"`

	// Scheduler optionally scripts the thread interleaving as a sequence
	// of thread ids. Unset means the default round-robin scheduler.
	Scheduler []int `yaml:"scheduler,omitempty"`

	// Addresses optionally scripts the allocator's address choices, one
	// per allocation in order. Unset means the default bump picker.
	Addresses []uint64 `yaml:"addresses,omitempty"`

	// Predict optionally scripts the provenance predictions of int2ptr
	// casts, as indexes into the allocation order (-1 for none). Unset
	// means the default predictor.
	Predict []int `yaml:"predict,omitempty"`

	// MaxSteps bounds the run. 0 means the harness default.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Expect is the required expected terminal state.
	Expect Expectation `yaml:"expect"`
}

// Expectation describes how a scenario must end.
type Expectation struct {
	// Outcome is one of "stop", "ub", "deadlock", "exhausted".
	Outcome string `yaml:"outcome"`

	// ExitCode is checked for "stop" outcomes.
	ExitCode int `yaml:"exit_code,omitempty"`

	// UBCode is the expected diagnostic code for "ub" outcomes,
	// e.g. "OUT_OF_BOUNDS".
	UBCode string `yaml:"ub_code,omitempty"`

	// Stdout, when set, must equal the program's print output exactly.
	Stdout string `yaml:"stdout,omitempty"`
}

// Expected outcome names.
const (
	ExpectStop      = "stop"
	ExpectUB        = "ub"
	ExpectDeadlock  = "deadlock"
	ExpectExhausted = "exhausted"
	ExpectIllFormed = "ill-formed"
)

// LoadScenario reads and parses a scenario YAML file. The program path is
// resolved relative to the scenario file. Unknown fields are rejected to
// catch typos.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if !filepath.IsAbs(scenario.Program) && scenario.Program != "" {
		scenario.Program = filepath.Join(filepath.Dir(path), scenario.Program)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Program == "" {
		return fmt.Errorf("program is required")
	}
	if _, err := os.Stat(s.Program); os.IsNotExist(err) {
		return fmt.Errorf("program file not found: %s", s.Program)
	}
	switch s.Expect.Outcome {
	case ExpectStop, ExpectUB, ExpectDeadlock, ExpectExhausted, ExpectIllFormed:
	case "":
		return fmt.Errorf("expect.outcome is required")
	default:
		return fmt.Errorf("unknown expected outcome %q", s.Expect.Outcome)
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}
	return nil
}

// LoadDir loads every *.yaml scenario in a directory, sorted by filename.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("failed to list scenarios: %w", err)
	}
	out := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		s, err := LoadScenario(p)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		out = append(out, s)
	}
	return out, nil
}
