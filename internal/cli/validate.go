package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/TomKopp/KP-WME-sub000/internal/ir"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
}

// ValidateResult is the JSON payload of a successful validation.
type ValidateResult struct {
	Files      int            `json:"files"`
	Components []ComponentRow `json:"components"`
}

// ComponentRow summarizes one validated descriptor.
type ComponentRow struct {
	ID         string   `json:"id"`
	Migratable bool     `json:"migratable"`
	UI         bool     `json:"ui"`
	Channels   []string `json:"channels,omitempty"`
	Properties int      `json:"properties"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate <path>...",
		Short: "Validate component descriptors",
		Long: `Compile and validate CUE component descriptors without starting a
runtime. Directories are searched for .cue files recursively. Every
problem is reported, not only the first.

Example:
  mashupctl validate ./descriptors
  mashupctl validate map.cue list.cue --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}
	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	formatter.VerboseLog("Validating descriptors in %v", paths)

	result, errs := LoadDescriptorPaths(paths...)
	if len(errs) > 0 {
		return outputLoadErrors(formatter, errs)
	}

	out := ValidateResult{Files: len(result.Files)}
	for _, d := range result.Descriptors {
		formatter.VerboseLog("Validated component: %s", d.ComponentID)
		out.Components = append(out.Components, componentRow(d))
	}
	return formatter.Result(out, func(w io.Writer) error {
		for _, c := range out.Components {
			fmt.Fprintf(w, "  %s (migratable=%t, %d properties)\n", c.ID, c.Migratable, c.Properties)
		}
		_, err := fmt.Fprintf(w, "✓ All descriptors valid (%d components in %d files)\n", len(out.Components), out.Files)
		return err
	})
}

func componentRow(d ir.Descriptor) ComponentRow {
	return ComponentRow{
		ID:         d.ComponentID,
		Migratable: d.Migratable,
		UI:         d.UI,
		Channels:   d.Channels,
		Properties: len(d.Properties),
	}
}

// outputLoadErrors prints every load error and returns an ExitError named
// after the first one. Missing paths are command errors; anything found
// in the descriptors themselves is a validation failure.
func outputLoadErrors(formatter *OutputFormatter, errs []error) error {
	first := asLoadError(errs[0])
	code := ExitFailure
	if first.Code == ErrCodeNotFound {
		code = ExitCommandError
	}

	if formatter.Format == "json" {
		details := make([]*LoadError, 0, len(errs))
		for _, err := range errs {
			details = append(details, asLoadError(err))
		}
		if err := formatter.Error(first.Code, first.Message, details); err != nil {
			return err
		}
	} else {
		w := formatter.Writer
		fmt.Fprintf(w, "✗ Validation failed with %d error(s):\n", len(errs))
		for _, err := range errs {
			fmt.Fprintf(w, "  %v\n", err)
		}
	}
	return WrapExitError(code, "validation failed", first)
}

func asLoadError(err error) *LoadError {
	var le *LoadError
	if errors.As(err, &le) {
		return le
	}
	return &LoadError{Code: ErrCodeGeneric, Message: err.Error()}
}
