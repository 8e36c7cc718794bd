package cli

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/minimach/minimach/internal/machine"
	"github.com/minimach/minimach/internal/mem"
	"github.com/minimach/minimach/internal/progfile"
	"github.com/minimach/minimach/internal/trace"
	"github.com/minimach/minimach/internal/wf"
)

// TraceOptions holds flags for the trace command tree.
type TraceOptions struct {
	*RootOptions
	Database string
	MaxSteps int
	Accesses bool
}

// NewTraceCommand creates the trace command and its subcommands.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Record and inspect execution traces",
		Long: `Record program runs into a SQLite trace database and inspect them
afterwards. Every step and every memory access of a recorded run is
persisted, keyed by a run id.`,
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite trace database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newTraceRecordCommand(opts))
	cmd.AddCommand(newTraceListCommand(opts))
	cmd.AddCommand(newTraceShowCommand(opts))

	return cmd
}

func newTraceRecordCommand(opts *TraceOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "record <program.cue>",
		Short: "Execute a program and record its trace",
		Long: `Compile, check, and execute a program, recording every step and
memory access into the trace database. Prints the new run id.

Example:
  minimach trace record --db ./traces.db ./examples/counter.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return traceRecord(opts, args[0], cmd)
		},
	}

	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", 0, "abort the run after this many steps (0 = unlimited)")

	return cmd
}

func newTraceListCommand(opts *TraceOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List recorded runs, newest first",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return traceList(opts, cmd)
		},
	}
}

func newTraceShowCommand(opts *TraceOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "show <run-id>",
		Short:         "Show the step trail of a recorded run",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return traceShow(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Accesses, "accesses", false, "also show the memory-access trail")

	return cmd
}

// traceRecordResult is the JSON payload for trace record.
type traceRecordResult struct {
	RunID   string `json:"run_id"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
	Steps   int    `json:"steps"`
}

func traceRecord(opts *TraceOptions, path string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	prog, err := progfile.CompileFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compile program", err)
	}
	if err := wf.Check(prog); err != nil {
		return WrapExitError(ExitCommandError, "program is ill-formed", err)
	}

	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing trace database", "error", closeErr)
		}
	}()

	ctx := cmdContext(cmd)
	run, err := st.StartRun(ctx, path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start trace run", err)
	}

	var stdout, stderr bytes.Buffer
	mopts := []machine.Option{
		machine.WithStdout(&stdout),
		machine.WithStderr(&stderr),
		machine.WithRecorder(run),
	}
	if opts.MaxSteps > 0 {
		mopts = append(mopts, machine.WithMaxSteps(opts.MaxSteps))
	}

	m, err := machine.New(*prog, mem.NewFlat(prog.Target), mopts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize machine", err)
	}

	outcome := m.Run(ctx)
	if err := run.Err(); err != nil {
		return WrapExitError(ExitCommandError, "failed to record trace", err)
	}
	slog.Info("run recorded", "run_id", run.ID, "outcome", outcome.Kind, "steps", m.Steps())

	result := traceRecordResult{
		RunID:   run.ID,
		Outcome: outcome.Kind.String(),
		Detail:  outcome.String(),
		Steps:   m.Steps(),
	}
	if opts.Format == "json" {
		return formatter.Success(result)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s (%d steps)\n", run.ID, outcome, m.Steps())
	return nil
}

func traceList(opts *TraceOptions, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(cmdContext(cmd))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	if opts.Format == "json" {
		return formatter.Success(runs)
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no runs recorded")
		return nil
	}
	for _, r := range runs {
		outcome := r.Outcome
		if outcome == "" {
			outcome = "(in flight)"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s  %s\n", r.ID, r.StartedAt, r.Program, outcome)
	}
	return nil
}

// traceShowResult is the JSON payload for trace show.
type traceShowResult struct {
	Run      trace.RunInfo     `json:"run"`
	Steps    []trace.StepRow   `json:"steps"`
	Accesses []trace.AccessRow `json:"accesses,omitempty"`
}

func traceShow(opts *TraceOptions, runID string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := trace.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace database", err)
	}
	defer st.Close()

	ctx := cmdContext(cmd)
	info, err := st.GetRun(ctx, runID)
	if errors.Is(err, trace.ErrNoRun) {
		return NewExitError(ExitCommandError, fmt.Sprintf("no run with id %s", runID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	steps, err := st.ReadSteps(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read steps", err)
	}

	var accesses []trace.AccessRow
	if opts.Accesses {
		accesses, err = st.ReadAccesses(ctx, runID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read accesses", err)
		}
	}

	if opts.Format == "json" {
		return formatter.Success(traceShowResult{Run: info, Steps: steps, Accesses: accesses})
	}

	outcome := info.Outcome
	if outcome == "" {
		outcome = "(in flight)"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s, started %s, outcome %s\n", info.ID, info.Program, info.StartedAt, outcome)
	if info.Detail != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "detail: %s\n", info.Detail)
	}
	for _, s := range steps {
		fmt.Fprintf(cmd.OutOrStdout(), "%6d  t%d  %s / %s / stmt %d\n", s.Seq, s.Thread, s.Fn, s.Block, s.Stmt)
	}
	for _, a := range accesses {
		op := "read "
		if a.Write {
			op = "write"
		}
		mode := ""
		if a.Atomic {
			mode = "  atomic"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%6d  t%d  %s %#x+%d%s\n", a.Seq, a.Thread, op, a.Addr, a.Size, mode)
	}
	return nil
}
