package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/hvcflow/internal/artifact"
	"github.com/roach88/hvcflow/internal/validate"
)

// Report is the machine-independent view of a Result: no run tokens,
// absolute paths or durations, so it can be compared against a golden file.
type Report struct {
	Workflow  string           `json:"workflow"`
	Pass      bool             `json:"pass"`
	Scenarios []ScenarioReport `json:"scenarios"`
}

// ScenarioReport summarizes one scenario.
type ScenarioReport struct {
	Name    string         `json:"name"`
	Pass    bool           `json:"pass"`
	Skipped bool           `json:"skipped,omitempty"`
	Failure string         `json:"failure,omitempty"`
	Extract *ExtractReport `json:"extract,omitempty"`
	Selects []SelectReport `json:"selects,omitempty"`
}

// ExtractReport summarizes a validated extraction.
type ExtractReport struct {
	Template          string                  `json:"template"`
	Mode              artifact.Mode           `json:"mode,omitempty"`
	Artifacts         []validate.ArtifactStat `json:"artifacts,omitempty"`
	Columns           int                     `json:"columns,omitempty"`
	TensorKeys        []string                `json:"tensor_keys,omitempty"`
	SummaryFile       string                  `json:"summary_file,omitempty"`
	SummaryRows       int                     `json:"summary_rows,omitempty"`
	SummaryTensorRows map[string]int          `json:"summary_tensor_rows,omitempty"`
	Unmatched         []string                `json:"unmatched,omitempty"`
}

// SelectReport summarizes a validated selection.
type SelectReport struct {
	Template  string                 `json:"template"`
	Models    []validate.ModelFolder `json:"models,omitempty"`
	Unmatched []string               `json:"unmatched,omitempty"`
}

// Report builds the golden view of r.
func (r *Result) Report() Report {
	rep := Report{Workflow: r.Workflow, Pass: r.Pass, Scenarios: []ScenarioReport{}}
	for _, sc := range r.Scenarios {
		sr := ScenarioReport{
			Name:    sc.Name,
			Pass:    sc.Pass,
			Skipped: sc.Skipped,
			Failure: sc.Failure,
		}
		if sc.Extract != nil {
			er := &ExtractReport{Template: sc.Extract.Template, Unmatched: sc.Extract.Unmatched}
			if x := sc.Extract.Extraction; x != nil {
				er.Mode = x.Mode
				er.Artifacts = x.Artifacts
				er.Columns = x.Columns
				er.TensorKeys = x.TensorKeys
				er.SummaryFile = filepath.Base(x.SummaryFile)
				er.SummaryRows = x.SummaryRows
				er.SummaryTensorRows = x.SummaryTensorRows
			}
			sr.Extract = er
		}
		for _, sel := range sc.Selects {
			s := SelectReport{Template: sel.Template, Unmatched: sel.Unmatched}
			if sel.Selection != nil {
				s.Models = sel.Selection.Models
			}
			sr.Selects = append(sr.Selects, s)
		}
		rep.Scenarios = append(rep.Scenarios, sr)
	}
	return rep
}

// MarshalReport encodes a report as indented JSON with a trailing newline.
func MarshalReport(rep Report) ([]byte, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs wf and compares the report against a golden file.
// The golden file is stored in testdata/golden/{wf.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// The Result is returned so callers can make further assertions. Test
// failure (via goldie) occurs if the report doesn't match the golden file.
func RunWithGolden(t *testing.T, runner *Runner, wf *Workflow, outputRoot string) (*Result, error) {
	t.Helper()

	result, err := runner.Run(context.Background(), wf, outputRoot)
	if err != nil {
		return result, err
	}
	return result, AssertGolden(t, wf.Name, result)
}

// AssertGolden compares an existing result's report against a golden file
// without re-running the workflow.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := MarshalReport(result.Report())
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}

// ErrGoldenMismatch is matched by errors.Is when a report differs from its
// golden file.
var ErrGoldenMismatch = errors.New("report differs from golden file")

// CompareGolden checks result's report against the golden file at path.
// With update set, the file is (re)written instead.
func CompareGolden(path string, result *Result, update bool) error {
	data, err := MarshalReport(result.Report())
	if err != nil {
		return err
	}

	if update {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return fmt.Errorf("write golden file: %w", err)
		}
		return nil
	}

	want, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read golden file: %w", err)
	}
	if bytes.Equal(want, data) {
		return nil
	}
	return fmt.Errorf("%w %s: %s", ErrGoldenMismatch, path, firstDiff(want, data))
}

// firstDiff describes the first differing line between two documents.
func firstDiff(want, got []byte) string {
	wl := strings.Split(string(want), "\n")
	gl := strings.Split(string(got), "\n")
	for i := 0; i < len(wl) || i < len(gl); i++ {
		var w, g string
		if i < len(wl) {
			w = wl[i]
		}
		if i < len(gl) {
			g = gl[i]
		}
		if w != g {
			return fmt.Sprintf("line %d: want %q, got %q", i+1, strings.TrimSpace(w), strings.TrimSpace(g))
		}
	}
	return "trailing bytes differ"
}
