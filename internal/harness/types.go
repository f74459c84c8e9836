package harness

import (
	"github.com/roach88/hvcflow/internal/stage"
	"github.com/roach88/hvcflow/internal/validate"
)

// Result is the outcome of one workflow run.
type Result struct {
	Workflow string `json:"workflow"`
	RunID    string `json:"run_id"`

	// Pass is true when every scenario passed.
	Pass bool `json:"pass"`

	Scenarios []ScenarioResult `json:"scenarios"`

	// Errors holds one message per failed scenario. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// ScenarioResult is the outcome of one extract/select scenario.
type ScenarioResult struct {
	Name    string        `json:"name"`
	Pass    bool          `json:"pass"`
	Skipped bool          `json:"skipped,omitempty"`
	Extract *StageResult  `json:"extract,omitempty"`
	Selects []StageResult `json:"selects,omitempty"`

	// Failure classifies the error that aborted the scenario, e.g.
	// "invariant:summary_rows" or "stage:select".
	Failure string `json:"failure,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StageResult records one stage invocation and its validation.
type StageResult struct {
	Kind      stage.Kind `json:"kind"`
	Template  string     `json:"template"`
	Token     string     `json:"token,omitempty"`
	OutputDir string     `json:"output_dir,omitempty"`

	// Unmatched lists placeholder substitutions that rewrote no line.
	Unmatched []string `json:"unmatched,omitempty"`

	Extraction *validate.ExtractionReport `json:"extraction,omitempty"`
	Selection  *validate.SelectionReport  `json:"selection,omitempty"`
}

// NewResult creates a passing result with no scenarios.
func NewResult(workflow, runID string) *Result {
	return &Result{
		Workflow:  workflow,
		RunID:     runID,
		Pass:      true,
		Scenarios: []ScenarioResult{},
		Errors:    []string{},
	}
}

// Add appends a scenario outcome, failing the result if the scenario failed.
func (r *Result) Add(sr ScenarioResult) {
	r.Scenarios = append(r.Scenarios, sr)
	if !sr.Pass && !sr.Skipped {
		r.Pass = false
		r.Errors = append(r.Errors, sr.Name+": "+sr.Error)
	}
}

// Counts returns the number of passed and failed scenarios. Skipped
// scenarios count as neither.
func (r *Result) Counts() (passed, failed int) {
	for _, sc := range r.Scenarios {
		switch {
		case sc.Skipped:
		case sc.Pass:
			passed++
		default:
			failed++
		}
	}
	return passed, failed
}
