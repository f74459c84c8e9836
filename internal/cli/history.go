package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/hvcflow/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Database string
	Limit    int
	RunID    string
	Scenario string // optional - filter stage runs to one scenario
}

// HistoryEntry is one workflow run with its stage runs.
type HistoryEntry struct {
	store.WorkflowRun
	Stages []store.StageRun `json:"stages,omitempty"`
}

// HistoryResult is the payload of the history command.
type HistoryResult struct {
	Runs []HistoryEntry `json:"runs"`
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded workflow runs",
		Long: `Show workflow runs recorded in a run ledger by "hvcflow run --db".

Runs are listed oldest first in logical sequence order. With --run, every
stage invocation of that run is listed too.

Examples:
  hvcflow history --db ./hvcflow.db
  hvcflow history --db ./hvcflow.db --limit 5
  hvcflow history --db ./hvcflow.db --run 0193... --scenario test_extract_svm`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite run ledger (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "number of most recent runs to show (0 for all)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "show stage runs for this run id")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "filter stage runs to a scenario")

	return cmd
}

func runHistory(opts *HistoryOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "run ledger not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runs, err := st.ReadRuns(ctx, opts.Limit)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read runs", err)
	}

	result := HistoryResult{Runs: []HistoryEntry{}}
	for _, r := range runs {
		if opts.RunID != "" && r.ID != opts.RunID {
			continue
		}
		entry := HistoryEntry{WorkflowRun: r}
		if opts.RunID != "" {
			stages, err := st.ReadStageRuns(ctx, r.ID)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read stage runs", err)
			}
			entry.Stages = filterScenario(stages, opts.Scenario)
		}
		result.Runs = append(result.Runs, entry)
	}

	if opts.RunID != "" && len(result.Runs) == 0 {
		return NewExitError(ExitCommandError, fmt.Sprintf("run not found: %s", opts.RunID))
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	writeHistoryText(formatter.Writer, result)
	return nil
}

func filterScenario(stages []store.StageRun, scenario string) []store.StageRun {
	if scenario == "" {
		return stages
	}
	out := stages[:0:0]
	for _, s := range stages {
		if s.Scenario == scenario {
			out = append(out, s)
		}
	}
	return out
}

func writeHistoryText(w io.Writer, result HistoryResult) {
	if len(result.Runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	for _, r := range result.Runs {
		fmt.Fprintf(w, "[%d] %s %s %s (%d passed, %d failed)\n", r.Seq, r.ID, r.Workflow, r.Status, r.Passed, r.Failed)
		for _, s := range r.Stages {
			fmt.Fprintf(w, "  [%d] %-7s %-8s %s %s %dms\n", s.Seq, s.Stage, s.Status, s.Scenario, s.ConfigPath, s.DurationMS)
			if s.Error != "" {
				fmt.Fprintf(w, "        %s\n", s.Error)
			}
		}
	}
}
