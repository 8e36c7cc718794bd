package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minimach/minimach/internal/harness"
)

// ScenariosOptions holds flags for the scenarios command.
type ScenariosOptions struct {
	*RootOptions
}

// NewScenariosCommand creates the scenarios command.
func NewScenariosCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenariosOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenarios <dir>",
		Short: "Run a directory of YAML scenarios",
		Long: `Load every *.yaml scenario in the directory and run each one,
comparing the actual outcome against the scenario's expectation.

Scenarios pin down the machine's nondeterminism with scripted
schedulers, address pickers, and provenance predictions, so a scenario
either passes or fails deterministically.

Example:
  minimach scenarios ./scenarios
  minimach scenarios ./scenarios --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	return cmd
}

// scenarioResult is the per-scenario JSON payload.
type scenarioResult struct {
	Name    string   `json:"name"`
	Passed  bool     `json:"passed"`
	Outcome string   `json:"outcome"`
	Detail  string   `json:"detail,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

func runScenarios(opts *ScenariosOptions, dir string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenarios, err := harness.LoadDir(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenarios", err)
	}
	if len(scenarios) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("no scenarios found in %s", dir))
	}

	ctx := cmdContext(cmd)
	results := make([]scenarioResult, 0, len(scenarios))
	failed := 0
	for _, sc := range scenarios {
		res, err := harness.Run(ctx, sc)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("scenario %s failed to run", sc.Name), err)
		}
		if !res.Passed() {
			failed++
		}
		results = append(results, scenarioResult{
			Name:    sc.Name,
			Passed:  res.Passed(),
			Outcome: res.Outcome,
			Detail:  res.Detail,
			Errors:  res.Errors,
		})

		if opts.Format != "json" {
			if res.Passed() {
				fmt.Fprintf(cmd.OutOrStdout(), "PASS  %s\n", sc.Name)
				formatter.VerboseLog("%s", res.Report())
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s\n", sc.Name)
				fmt.Fprint(cmd.OutOrStdout(), res.Report())
			}
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(results); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "%d scenarios, %d failed\n", len(scenarios), failed)
	}

	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", failed, len(scenarios)))
	}
	return nil
}
