package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidemark/strata/internal/harness"
)

// RunResult is the run command's JSON payload.
type RunResult struct {
	Scenario string           `json:"scenario"`
	Passed   bool             `json:"passed"`
	Failure  string           `json:"failure,omitempty"`
	Trace    []map[string]any `json:"trace"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Run a scenario file against a fresh world",
		Long: `Run a declarative scenario against a fresh in-memory world.

Executes the scenario's steps in order, evaluates its assertions, and
prints the cycle trace. A failed assertion exits with code 1; a
malformed scenario exits with code 2.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(rootOpts, args[0], cmd)
		},
	}
}

func runScenario(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		_ = formatter.Error("E_SCENARIO", err.Error(), nil)
		return &ExitError{Code: ExitCommandError, Message: "load scenario", Err: err}
	}

	formatter.VerboseLog("running scenario %q (%d steps)", scenario.Name, len(scenario.Steps))
	result, runErr := harness.Run(scenario)
	if result == nil {
		// The scenario never got off the ground (bad schema, step error).
		_ = formatter.Error("E_RUN", runErr.Error(), nil)
		return &ExitError{Code: ExitCommandError, Message: "run scenario", Err: runErr}
	}

	out := RunResult{Scenario: scenario.Name, Passed: runErr == nil, Trace: result.Trace}
	if runErr != nil {
		out.Failure = runErr.Error()
	}

	if formatter.Format == "json" {
		if err := formatter.Success(out); err != nil {
			return err
		}
	} else {
		printTrace(formatter, &out)
	}

	if runErr != nil {
		return &ExitError{Code: ExitFailure, Message: "scenario failed", Err: runErr}
	}
	return nil
}

func printTrace(formatter *OutputFormatter, out *RunResult) {
	for _, event := range out.Trace {
		switch event["type"] {
		case "cycle":
			fmt.Fprintf(formatter.Writer, "cycle %v: %v (stats %v, %d conflict(s))\n",
				event["cycle"], event["state"], event["stats"], lenAny(event["conflicts"]))
		case "submit_rejected":
			fmt.Fprintf(formatter.Writer, "rejected: %v from %v\n", event["code"], event["namespace"])
		case "capture":
			fmt.Fprintf(formatter.Writer, "captured: %v entities, %v layers, %v assets\n",
				event["entities"], event["layers"], event["assets"])
		case "restore":
			fmt.Fprintln(formatter.Writer, "restored")
		}
	}
	if out.Passed {
		fmt.Fprintf(formatter.Writer, "✓ %s passed\n", out.Scenario)
	} else {
		fmt.Fprintf(formatter.Writer, "✗ %s failed: %s\n", out.Scenario, out.Failure)
	}
}

func lenAny(v any) int {
	if list, ok := v.([]any); ok {
		return len(list)
	}
	return 0
}
