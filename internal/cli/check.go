package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hvcflow/internal/artifact"
	"github.com/roach88/hvcflow/internal/stage"
	"github.com/roach88/hvcflow/internal/validate"
)

// CheckOptions holds flags for the check subcommands.
type CheckOptions struct {
	*RootOptions
	Namer string // shell-quoted folder namer command; empty uses the default naming
}

// NewCheckCommand creates the check command with its extract and select
// subcommands.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate an existing stage output directory",
		Long: `Validate the output of a single extract or select run without invoking
any stage. Useful for inspecting directories left behind by a failed run.

Exit codes:
  0 - Output is consistent
  1 - Output violates a structural check
  2 - Command error (missing directory, unreadable config, etc.)`,
	}

	extract := &cobra.Command{
		Use:   "extract <dir>",
		Short: "Check an extract output directory",
		Example: `  hvcflow check extract /tmp/hvc/extract_output_0193...
  hvcflow check extract ./out --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckExtract(opts, args[0], cmd)
		},
	}

	sel := &cobra.Command{
		Use:   "select <config> <dir>",
		Short: "Check a select output directory against its config",
		Example: `  hvcflow check select test_select_svm.config.yml /tmp/hvc/select_output_0193...
  hvcflow check select select.yml ./out --namer "python name_folder.py"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheckSelect(opts, args[0], args[1], cmd)
		},
	}
	sel.Flags().StringVar(&opts.Namer, "namer", "", "command that prints the output folder name for a model")

	cmd.AddCommand(extract, sel)
	return cmd
}

func runCheckExtract(opts *CheckOptions, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if err := requireDir(dir); err != nil {
		return err
	}

	v := validate.New()
	v.Logger = newLogger(opts.RootOptions, cmd.ErrOrStderr())

	report, err := v.Extraction(dir)
	if err != nil {
		return checkFailure(formatter, err)
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	writeExtractionText(formatter.Writer, report)
	return nil
}

func runCheckSelect(opts *CheckOptions, configPath, dir string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if err := requireDir(dir); err != nil {
		return err
	}
	if _, err := os.Stat(configPath); err != nil {
		return WrapExitError(ExitCommandError, "select config not readable", err)
	}

	v := validate.New()
	v.Logger = newLogger(opts.RootOptions, cmd.ErrOrStderr())
	if opts.Namer != "" {
		namer, err := stage.NewCommandNamer(opts.Namer)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid --namer", err)
		}
		v.Namer = namer
	}

	report, err := v.Selection(cmd.Context(), configPath, dir)
	if err != nil {
		return checkFailure(formatter, err)
	}

	if opts.Format == "json" {
		return formatter.Success(report)
	}
	w := formatter.Writer
	fmt.Fprintf(w, "✓ selection output consistent: %s\n", dir)
	fmt.Fprintf(w, "  summary: %s\n", filepath.Base(report.SummaryFile))
	for _, m := range report.Models {
		fmt.Fprintf(w, "  %s -> %s\n", m.Model, m.Folder)
	}
	return nil
}

func writeExtractionText(w io.Writer, r *validate.ExtractionReport) {
	fmt.Fprintf(w, "✓ extraction output consistent: %s\n", r.Dir)
	fmt.Fprintf(w, "  mode: %s\n", r.Mode)
	for _, a := range r.Artifacts {
		if len(a.Tensor) > 0 {
			fmt.Fprintf(w, "  %s: %d labels, tensor rows %v\n", a.Name, a.Labels, a.Tensor)
			continue
		}
		fmt.Fprintf(w, "  %s: %d labels, %d rows\n", a.Name, a.Labels, a.Rows)
	}
	switch {
	case len(r.TensorKeys) > 0:
		fmt.Fprintf(w, "  tensor keys: %s\n", strings.Join(r.TensorKeys, ", "))
		fmt.Fprintf(w, "  summary: %s (%v)\n", filepath.Base(r.SummaryFile), r.SummaryTensorRows)
	default:
		if r.Columns > 0 {
			fmt.Fprintf(w, "  columns: %d\n", r.Columns)
		}
		fmt.Fprintf(w, "  summary: %s (%d rows)\n", filepath.Base(r.SummaryFile), r.SummaryRows)
	}
}

// checkFailure reports a validation error. Structural problems with the
// output exit 1; anything else is a command error.
func checkFailure(f *OutputFormatter, err error) error {
	var le *artifact.LoadError
	outputFault := errors.Is(err, validate.ErrInvariant) ||
		errors.Is(err, validate.ErrDiscovery) ||
		errors.As(err, &le)
	if !outputFault {
		return WrapExitError(ExitCommandError, "check failed", err)
	}

	var details any
	var ie *validate.InvariantError
	if errors.As(err, &ie) {
		details = map[string]string{
			"check":    ie.Check,
			"artifact": ie.Artifact,
			"expected": ie.Expected,
			"actual":   ie.Actual,
		}
	}
	if ferr := f.Error(ErrCodeCheck, err.Error(), details); ferr != nil {
		return ferr
	}
	return WrapExitError(ExitFailure, "output inconsistent", err)
}

func requireDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "output directory not found", err)
	}
	if !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("not a directory: %s", dir))
	}
	return nil
}
