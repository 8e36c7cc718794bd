package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/unicode/norm"

	"github.com/minimach/minimach/internal/machine"
	"github.com/minimach/minimach/internal/mem"
	"github.com/minimach/minimach/internal/progfile"
	"github.com/minimach/minimach/internal/wf"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	MaxSteps int
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <program.cue>",
		Short: "Execute a program and report the outcome",
		Long: `Compile a CUE program file, check it for well-formedness, and execute
it on the abstract machine.

The program's print output is written to stdout. The exit code is 0 when
the program stops cleanly with exit code 0, and 1 otherwise (undefined
behavior, deadlock, an exhausted step budget, or a non-zero program exit
code).

Example:
  minimach run ./examples/hello.cue
  minimach run --max-steps 1000 ./examples/loop.cue --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "abort the run after this many steps (0 = unlimited)")

	return cmd
}

// runOutcome is the JSON payload for a completed run.
type runOutcome struct {
	Outcome  string `json:"outcome"`
	ExitCode int    `json:"exit_code,omitempty"`
	UBCode   string `json:"ub_code,omitempty"`
	Detail   string `json:"detail,omitempty"`
	Steps    int    `json:"steps"`
	Stdout   string `json:"stdout,omitempty"`
}

func runProgram(opts *RunOptions, path string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	slog.Debug("compiling program", "path", path)
	prog, err := progfile.CompileFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile program", err)
	}

	if err := wf.Check(prog); err != nil {
		return WrapExitError(ExitCommandError, "program is ill-formed", err)
	}
	slog.Debug("program checked", "functions", len(prog.Functions), "globals", len(prog.Globals))

	var stdout, stderr bytes.Buffer
	mopts := []machine.Option{
		machine.WithStdout(&stdout),
		machine.WithStderr(&stderr),
	}
	if opts.MaxSteps > 0 {
		mopts = append(mopts, machine.WithMaxSteps(opts.MaxSteps))
	}

	m, err := machine.New(*prog, mem.NewFlat(prog.Target), mopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize machine", err)
	}

	outcome := m.Run(cmdContext(cmd))

	// Program print output is normalized to NFC before rendering so that
	// byte-level differences in equivalent text do not leak into terminals
	// or golden files.
	out := norm.NFC.String(stdout.String())
	if out != "" && opts.Format != "json" {
		fmt.Fprint(cmd.OutOrStdout(), out)
	}
	if errOut := norm.NFC.String(stderr.String()); errOut != "" {
		fmt.Fprint(cmd.ErrOrStderr(), errOut)
	}

	result := runOutcome{
		Outcome:  outcome.Kind.String(),
		ExitCode: outcome.ExitCode,
		Steps:    m.Steps(),
		Stdout:   out,
	}
	if outcome.UB != nil {
		result.UBCode = string(outcome.UB.Code)
		result.Detail = outcome.UB.Reason
	}

	switch outcome.Kind {
	case machine.OutcomeStop:
		if opts.Format == "json" {
			if err := formatter.Success(result); err != nil {
				return err
			}
		} else {
			formatter.VerboseLog("outcome: %s (%d steps)", outcome, m.Steps())
		}
		if outcome.ExitCode != 0 {
			return NewExitError(ExitFailure, fmt.Sprintf("program exited with code %d", outcome.ExitCode))
		}
		return nil
	case machine.OutcomeUB:
		_ = formatter.Error(string(outcome.UB.Code), outcome.UB.Reason, nil)
		return NewExitError(ExitFailure, outcome.String())
	default:
		_ = formatter.Error(outcome.Kind.String(), outcome.String(), nil)
		return NewExitError(ExitFailure, outcome.String())
	}
}

// configureLogging sets the default slog handler based on the verbose flag.
func configureLogging(verbose bool) {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// cmdContext returns the command's context, falling back to Background.
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
