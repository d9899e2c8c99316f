package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags shared by all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// NewRootCommand builds the strata command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	root := &cobra.Command{
		Use:   "strata",
		Short: "strata - shared world-state patch engine",
		Long:  "Tools for the strata patch layer: schema validation, scenario runs, and snapshot handling.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (json|text)")

	root.AddCommand(
		NewValidateCommand(opts),
		NewRunCommand(opts),
		NewSnapshotCommand(opts),
	)
	return root
}
