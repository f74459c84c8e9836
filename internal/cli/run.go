package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/hvcflow/internal/harness"
	"github.com/roach88/hvcflow/internal/stage"
	"github.com/roach88/hvcflow/internal/store"
	"github.com/roach88/hvcflow/internal/validate"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	OutputRoot string
	Database   string
	Golden     string
	Update     bool
	FailFast   bool

	// Extract, Select and Namer override the collaborators built from the
	// workflow's command lines (for testing).
	Extract stage.Stage
	Select  stage.Stage
	Namer   stage.FolderNamer

	// Tokens overrides the run token generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Tokens harness.TokenGenerator
}

// RunSummary is the payload of the run command.
type RunSummary struct {
	Workflow   string                   `json:"workflow"`
	RunID      string                   `json:"run_id"`
	OutputRoot string                   `json:"output_root"`
	Pass       bool                     `json:"pass"`
	Passed     int                      `json:"passed"`
	Failed     int                      `json:"failed"`
	Skipped    int                      `json:"skipped"`
	Golden     string                   `json:"golden,omitempty"` // "match", "updated" or "mismatch"
	Scenarios  []harness.ScenarioResult `json:"scenarios"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <workflow>",
		Short: "Run an extract -> select workflow",
		Long: `Run every scenario of a workflow file against the configured pipeline
stages and validate what each stage writes.

For each scenario the extract config template is materialized with the
output root, the extract stage runs and its output is checked. Every select
template is then materialized with the resulting summary feature file, run
and checked. Stage command lines come from the workflow's extract_stage,
select_stage and namer fields.

Exit codes:
  0 - All scenarios passed (and the golden report matched)
  1 - One or more scenarios failed, or the golden report differs
  2 - Command error (bad workflow, unusable database, etc.)

Examples:
  hvcflow run testdata/workflows/main.yaml
  hvcflow run main.yaml --output-root /tmp/hvc --db ./hvcflow.db
  hvcflow run main.yaml --golden main.golden --update
  hvcflow run main.yaml --fail-fast --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.OutputRoot, "output-root", "", "directory stages write into (default: a new temporary directory)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run ledger (optional)")
	cmd.Flags().StringVar(&opts.Golden, "golden", "", "compare the run report against this golden file")
	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite the golden file instead of comparing")
	cmd.Flags().BoolVar(&opts.FailFast, "fail-fast", false, "stop at the first failed scenario")

	return cmd
}

func runWorkflow(opts *RunOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	formatter := opts.formatter(cmd)

	if opts.Update && opts.Golden == "" {
		return formatter.fail(ErrCodeArguments, NewExitError(ExitCommandError, "--update requires --golden"))
	}

	wf, err := harness.LoadWorkflow(path)
	if err != nil {
		return formatter.fail(ErrCodeWorkflow, WrapExitError(ExitCommandError, "failed to load workflow", err))
	}
	if opts.FailFast {
		wf.FailFast = true
	}
	formatter.VerboseLog("Loaded workflow %s with %d scenario(s)", wf.Name, len(wf.Scenarios))

	runner, err := opts.newRunner(wf, cmd, logger)
	if err != nil {
		return formatter.fail(ErrCodeWorkflow, WrapExitError(ExitCommandError, "failed to configure stages", err))
	}

	outputRoot := opts.OutputRoot
	if outputRoot == "" {
		outputRoot, err = os.MkdirTemp("", "hvcflow-")
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to create output root", err)
		}
	}

	ctx, cancel := signalContext(cmd, logger)
	defer cancel()

	if opts.Database != "" {
		logger.Debug("opening run ledger", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		last, err := st.LastSeq(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read run ledger", err)
		}
		runner.Ledger = st
		runner.Clock = harness.NewClockAt(last)
	}

	result, runErr := runner.Run(ctx, wf, outputRoot)
	if result == nil {
		return WrapExitError(ExitCommandError, "workflow aborted", runErr)
	}

	summary := summarize(result, outputRoot)
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			return reportRun(formatter, summary, ErrCodeFailed, WrapExitError(ExitFailure, "workflow interrupted", runErr))
		}
		return reportRun(formatter, summary, ErrCodeLedger, WrapExitError(ExitCommandError, "workflow aborted", runErr))
	}

	var failure *ExitError
	code := ErrCodeFailed
	if summary.Failed > 0 {
		failure = NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", summary.Failed))
	}

	if opts.Golden != "" {
		err := harness.CompareGolden(opts.Golden, result, opts.Update)
		switch {
		case err == nil && opts.Update:
			summary.Golden = "updated"
		case err == nil:
			summary.Golden = "match"
		case errors.Is(err, harness.ErrGoldenMismatch):
			summary.Golden = "mismatch"
			if failure == nil {
				code = ErrCodeGolden
				failure = WrapExitError(ExitFailure, "golden report mismatch (run with --update to regenerate)", err)
			}
		default:
			return reportRun(formatter, summary, ErrCodeGolden, WrapExitError(ExitCommandError, "golden comparison failed", err))
		}
	}

	return reportRun(formatter, summary, code, failure)
}

func (opts *RunOptions) newRunner(wf *harness.Workflow, cmd *cobra.Command, logger *slog.Logger) (*harness.Runner, error) {
	extract, err := commandStage(opts.Extract, "extract_stage", wf.ExtractStage, wf.Correlate, cmd, logger)
	if err != nil {
		return nil, err
	}
	sel, err := commandStage(opts.Select, "select_stage", wf.SelectStage, wf.Correlate, cmd, logger)
	if err != nil {
		return nil, err
	}

	namer := opts.Namer
	if namer == nil && wf.Namer != "" {
		cn, err := stage.NewCommandNamer(wf.Namer)
		if err != nil {
			return nil, fmt.Errorf("namer: %w", err)
		}
		namer = cn
	}

	v := validate.New()
	v.Logger = logger
	if namer != nil {
		v.Namer = namer
	}

	return &harness.Runner{
		Extract:   extract,
		Select:    sel,
		Validator: v,
		Tokens:    opts.Tokens,
		Logger:    logger,
	}, nil
}

// commandStage builds the stage for a workflow command line. Under token
// correlation the line must pass {token}, since the stage has to embed it in
// its output directory name for the runner to find that directory.
func commandStage(override stage.Stage, field, line, correlate string, cmd *cobra.Command, logger *slog.Logger) (stage.Stage, error) {
	if override != nil {
		return override, nil
	}
	if line == "" {
		return nil, fmt.Errorf("workflow does not set %s", field)
	}
	if correlate == harness.CorrelateToken && !strings.Contains(line, stage.ArgToken) {
		return nil, fmt.Errorf("%s does not pass %s, which correlate: %s requires (use correlate: %s for stages that cannot take a token)",
			field, stage.ArgToken, harness.CorrelateToken, harness.CorrelateMtime)
	}
	c, err := stage.NewCommand(line)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", field, err)
	}
	c.Stdout = cmd.ErrOrStderr()
	c.Logger = logger
	return c, nil
}

// signalContext derives a context that is cancelled on SIGINT or SIGTERM.
// Uses the command's context if available (for testing).
func signalContext(cmd *cobra.Command, logger *slog.Logger) (context.Context, context.CancelFunc) {
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Warn("received signal, stopping after the current stage", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}

func summarize(result *harness.Result, outputRoot string) RunSummary {
	s := RunSummary{
		Workflow:   result.Workflow,
		RunID:      result.RunID,
		OutputRoot: outputRoot,
		Pass:       result.Pass,
		Scenarios:  result.Scenarios,
	}
	s.Passed, s.Failed = result.Counts()
	for _, sc := range result.Scenarios {
		if sc.Skipped {
			s.Skipped++
		}
	}
	return s
}

// reportRun prints the run summary and returns failure unchanged so callers
// can propagate its exit code. code labels the failure in JSON output.
func reportRun(f *OutputFormatter, s RunSummary, code string, failure *ExitError) error {
	if f.Format == "json" {
		resp := CLIResponse{Status: "ok", Data: s, RunID: s.RunID}
		if failure != nil {
			resp.Status = "error"
			resp.Error = &CLIError{Code: code, Message: failure.Error()}
		}
		if err := f.encode(resp); err != nil {
			return err
		}
	} else {
		writeRunText(f.Writer, s)
		if failure != nil {
			fmt.Fprintf(f.Writer, "✗ %s\n", failure.Error())
		}
	}

	if failure != nil {
		return failure
	}
	return nil
}

func writeRunText(w io.Writer, s RunSummary) {
	for _, sc := range s.Scenarios {
		switch {
		case sc.Skipped:
			fmt.Fprintf(w, "- %s (skipped)\n", sc.Name)
		case sc.Pass:
			fmt.Fprintf(w, "✓ %s (%d select)\n", sc.Name, len(sc.Selects))
		default:
			fmt.Fprintf(w, "✗ %s\n", sc.Name)
			fmt.Fprintf(w, "  %s: %s\n", sc.Failure, sc.Error)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Workflow %s: %d passed, %d failed, %d skipped\n", s.Workflow, s.Passed, s.Failed, s.Skipped)
	fmt.Fprintf(w, "Output root: %s\n", s.OutputRoot)
	switch s.Golden {
	case "updated":
		fmt.Fprintln(w, "Golden report updated")
	case "match":
		fmt.Fprintln(w, "Golden report matches")
	case "mismatch":
		fmt.Fprintln(w, "Golden report differs")
	}
}
