package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/hvcflow/internal/harness"
	"github.com/roach88/hvcflow/internal/rewrite"
)

// RewriteOptions holds flags for the rewrite command.
type RewriteOptions struct {
	*RootOptions
	Subs        []string // match=placeholder=value
	OutputDir   string
	FeatureFile string
	Strict      bool
}

// SubstitutionResult reports how many lines one substitution rewrote.
type SubstitutionResult struct {
	Match       string `json:"match"`
	Placeholder string `json:"placeholder"`
	Value       string `json:"value"`
	Lines       int    `json:"lines"`
}

// RewriteResult is the payload of the rewrite command.
type RewriteResult struct {
	Source        string               `json:"source"`
	Destination   string               `json:"destination"`
	Substitutions []SubstitutionResult `json:"substitutions"`
}

// NewRewriteCommand creates the rewrite command.
func NewRewriteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RewriteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "rewrite <template> <destination>",
		Short: "Materialize a config template",
		Long: `Copy a config template to a new file, replacing placeholder literals on
the lines that contain a match token. The template is never modified.

Each --sub takes match=placeholder=value: on every line containing match,
every occurrence of placeholder becomes value. --output-dir and
--feature-file are shorthands for the standard pipeline placeholders.

Examples:
  hvcflow rewrite extract.config.yml out.yml --output-dir /tmp/hvc
  hvcflow rewrite select.config.yml out.yml \
    --feature-file /tmp/hvc/extract_output_x/summary_feature_file_created_00 \
    --output-dir /tmp/hvc --strict
  hvcflow rewrite t.yml out.yml --sub "data_dirs=replace with data_dir=./032212"`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRewrite(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Subs, "sub", nil, "substitution as match=placeholder=value (repeatable)")
	cmd.Flags().StringVar(&opts.OutputDir, "output-dir", "", "value for the output_dir placeholder")
	cmd.Flags().StringVar(&opts.FeatureFile, "feature-file", "", "value for the feature_file placeholder")
	cmd.Flags().BoolVar(&opts.Strict, "strict", false, "fail when a substitution rewrites no line")

	return cmd
}

func runRewrite(opts *RewriteOptions, src, dst string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	subs, err := opts.substitutions()
	if err != nil {
		return formatter.fail(ErrCodeArguments, WrapExitError(ExitCommandError, "invalid substitution", err))
	}
	if len(subs) == 0 {
		return formatter.fail(ErrCodeArguments, NewExitError(ExitCommandError, "no substitutions given (use --sub, --output-dir or --feature-file)"))
	}

	report, err := rewrite.Rewrite(src, dst, subs, rewrite.StrictIf(opts.Strict))
	if err != nil {
		if errors.Is(err, rewrite.ErrUnmatched) {
			if ferr := formatter.Error(ErrCodeRewrite, err.Error(), nil); ferr != nil {
				return ferr
			}
			return WrapExitError(ExitFailure, "placeholder not substituted", err)
		}
		return WrapExitError(ExitCommandError, "rewrite failed", err)
	}

	result := RewriteResult{Source: report.Source, Destination: report.Destination}
	for i, s := range subs {
		result.Substitutions = append(result.Substitutions, SubstitutionResult{
			Match:       s.Match,
			Placeholder: s.Placeholder,
			Value:       s.Value,
			Lines:       report.Lines[i],
		})
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "Wrote %s\n", dst)
	for _, s := range result.Substitutions {
		mark := "✓"
		if s.Lines == 0 {
			mark = "!"
		}
		fmt.Fprintf(w, "  %s %s: %d line(s)\n", mark, s.Match, s.Lines)
	}
	return nil
}

func (opts *RewriteOptions) substitutions() ([]rewrite.Substitution, error) {
	var subs []rewrite.Substitution
	if opts.FeatureFile != "" {
		subs = append(subs, rewrite.Substitution{
			Match:       harness.MatchFeatureFile,
			Placeholder: harness.DefaultFeatureFilePlaceholder,
			Value:       opts.FeatureFile,
		})
	}
	if opts.OutputDir != "" {
		subs = append(subs, rewrite.Substitution{
			Match:       harness.MatchOutputDir,
			Placeholder: harness.DefaultOutputDirPlaceholder,
			Value:       opts.OutputDir,
		})
	}
	for _, raw := range opts.Subs {
		s, err := parseSubstitution(raw)
		if err != nil {
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// parseSubstitution splits "match=placeholder=value". The value may itself
// contain '='.
func parseSubstitution(raw string) (rewrite.Substitution, error) {
	parts := strings.SplitN(raw, "=", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" {
		return rewrite.Substitution{}, fmt.Errorf("%q: want match=placeholder=value", raw)
	}
	return rewrite.Substitution{Match: parts[0], Placeholder: parts[1], Value: parts[2]}, nil
}
