package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tidemark/strata/internal/schema"
	"github.com/tidemark/strata/internal/schemac"
)

// SchemaIssue is one validation finding, positioned when the compiler
// could attribute it to a source location.
type SchemaIssue struct {
	File      string `json:"file"`
	Component string `json:"component,omitempty"`
	Field     string `json:"field,omitempty"`
	Line      int    `json:"line,omitempty"`
	Message   string `json:"message"`
}

// ValidationResult is the validate command's JSON payload.
type ValidationResult struct {
	Valid      bool          `json:"valid"`
	Components []string      `json:"components,omitempty"`
	Issues     []SchemaIssue `json:"issues,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <schema.cue>...",
		Short: "Validate component schema files",
		Long: `Validate CUE component schema files.

Compiles each file and reports malformed components, unknown field
types, and defaults that do not match their declared type. Duplicate
component names across files are also rejected.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	registry := schema.NewRegistry()
	var components []string
	var issues []SchemaIssue

	for _, path := range paths {
		formatter.VerboseLog("compiling %s", path)
		compiled, err := schemac.CompileFile(path)
		if err != nil {
			issues = append(issues, issueFromError(path, err))
			continue
		}
		for _, named := range compiled {
			if err := registry.Register(named.Name, named.Schema); err != nil {
				issues = append(issues, SchemaIssue{
					File:      path,
					Component: named.Name,
					Message:   err.Error(),
				})
				continue
			}
			components = append(components, named.Name)
		}
	}

	if len(issues) > 0 {
		return outputValidationIssues(formatter, components, issues)
	}

	if formatter.Format == "json" {
		if err := formatter.Success(ValidationResult{Valid: true, Components: components}); err != nil {
			return err
		}
		return nil
	}
	fmt.Fprintf(formatter.Writer, "✓ %d component(s) valid\n", len(components))
	return nil
}

// issueFromError maps a compile failure to a positioned issue when the
// error carries a source location.
func issueFromError(path string, err error) SchemaIssue {
	var ce *schemac.CompileError
	if errors.As(err, &ce) {
		issue := SchemaIssue{
			File:      path,
			Component: ce.Component,
			Field:     ce.Field,
			Message:   ce.Message,
		}
		if ce.Pos.IsValid() {
			issue.Line = ce.Pos.Line()
		}
		return issue
	}
	return SchemaIssue{File: path, Message: err.Error()}
}

func outputValidationIssues(formatter *OutputFormatter, components []string, issues []SchemaIssue) error {
	if formatter.Format == "json" {
		result := ValidationResult{Valid: false, Components: components, Issues: issues}
		if err := formatter.Success(result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d issue(s)", len(issues)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	for _, issue := range issues {
		where := issue.File
		if issue.Line > 0 {
			where = fmt.Sprintf("%s:%d", issue.File, issue.Line)
		}
		what := issue.Component
		if issue.Field != "" {
			what = issue.Component + "." + issue.Field
		}
		if what != "" {
			fmt.Fprintf(formatter.Writer, "  %s: %s: %s\n", where, what, issue.Message)
		} else {
			fmt.Fprintf(formatter.Writer, "  %s: %s\n", where, issue.Message)
		}
	}
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d issue(s)", len(issues)))
}
