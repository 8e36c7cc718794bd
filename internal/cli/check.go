package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/minimach/minimach/internal/progfile"
	"github.com/minimach/minimach/internal/ub"
	"github.com/minimach/minimach/internal/wf"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <program.cue>...",
		Short: "Compile and statically check programs without running them",
		Long: `Compile each CUE program file and run the well-formedness checker
over it. Nothing is executed.

Exit code 0 means every program compiled and passed the checks; exit
code 1 means at least one program is ill-formed; exit code 2 means a
file could not be read or compiled.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkPrograms(opts, args, cmd)
		},
	}

	return cmd
}

// checkResult is the per-file JSON payload for the check command.
type checkResult struct {
	Path   string `json:"path"`
	OK     bool   `json:"ok"`
	Where  string `json:"where,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func checkPrograms(opts *CheckOptions, paths []string, cmd *cobra.Command) error {
	configureLogging(opts.Verbose)

	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	results := make([]checkResult, 0, len(paths))
	illFormed := 0
	for _, path := range paths {
		prog, err := progfile.CompileFile(path)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to compile %s", path), err)
		}

		res := checkResult{Path: path, OK: true}
		if err := wf.Check(prog); err != nil {
			res.OK = false
			illFormed++
			if ill, found := ub.AsIllFormed(err); found {
				res.Where = ill.Where
				res.Reason = ill.Reason
			} else {
				res.Reason = err.Error()
			}
		}
		results = append(results, res)

		if opts.Format != "json" {
			if res.OK {
				fmt.Fprintf(cmd.OutOrStdout(), "ok    %s\n", path)
			} else if res.Where != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %s: %s\n", path, res.Where, res.Reason)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "FAIL  %s: %s\n", path, res.Reason)
			}
		}
	}

	if opts.Format == "json" {
		if err := formatter.Success(results); err != nil {
			return err
		}
	}

	if illFormed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d programs ill-formed", illFormed, len(paths)))
	}
	return nil
}
