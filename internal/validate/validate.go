// Package validate checks the on-disk output of the extract and select
// stages for structural consistency.
//
// Extraction output must satisfy:
//   - every features_from* artifact uses the same representation
//   - matrix rows (or each tensor's leading dimension) equal the label count
//   - matrices share a column count; tensor dicts share a key set
//   - exactly one summary_feature_file_* exists and its rows equal the sum of
//     the per-artifact rows (per tensor key in tensor mode)
//
// Selection output must hold exactly one summary_model_select_file* and one
// subdirectory per model declared in the select config.
package validate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/roach88/hvcflow/internal/artifact"
	"github.com/roach88/hvcflow/internal/hvcconfig"
	"github.com/roach88/hvcflow/internal/stage"
)

// File patterns produced by the pipeline stages.
const (
	FeaturePattern        = "features_from*"
	SummaryFeaturePattern = "summary_feature_file_*"
	SummarySelectPattern  = "summary_model_select_file*"
)

// ConfigParser reads one section of a pipeline config.
type ConfigParser func(path, section string) (*hvcconfig.Section, error)

// Validator checks stage output directories.
type Validator struct {
	Store  artifact.Store
	Namer  stage.FolderNamer
	Parse  ConfigParser
	Logger *slog.Logger
}

// New returns a Validator using the JSON artifact store, the default folder
// namer and hvcconfig.Parse.
func New() *Validator {
	return &Validator{
		Store:  artifact.JSONStore{},
		Namer:  stage.DefaultNamer,
		Parse:  hvcconfig.Parse,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// ArtifactStat summarizes one loaded feature artifact.
type ArtifactStat struct {
	Name   string         `json:"name"`
	Mode   artifact.Mode  `json:"mode"`
	Labels int            `json:"labels"`
	Rows   int            `json:"rows,omitempty"`
	Tensor map[string]int `json:"tensor_rows,omitempty"`
}

// ExtractionReport describes a validated extraction output directory.
type ExtractionReport struct {
	Dir         string         `json:"dir"`
	Mode        artifact.Mode  `json:"mode"`
	Artifacts   []ArtifactStat `json:"artifacts"`
	Columns     int            `json:"columns,omitempty"`
	TensorKeys  []string       `json:"tensor_keys,omitempty"`
	SummaryFile string         `json:"summary_file"`
	SummaryRows int            `json:"summary_rows,omitempty"`
	// SummaryTensorRows holds the summary's leading dimension per tensor key.
	SummaryTensorRows map[string]int `json:"summary_tensor_rows,omitempty"`
}

// Extraction validates the output directory of one extract invocation.
// A directory with no features_from* artifacts fails with a *DiscoveryError
// rather than passing vacuously: an extract stage that wrote nothing is a
// broken run.
func (v *Validator) Extraction(dir string) (*ExtractionReport, error) {
	files, err := artifact.Glob(dir, FeaturePattern)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, &DiscoveryError{Dir: dir, Pattern: FeaturePattern, Want: "at least one"}
	}

	arts := make([]artifact.Artifact, 0, len(files))
	for _, f := range files {
		a, err := v.Store.Load(f)
		if err != nil {
			return nil, err
		}
		arts = append(arts, a)
	}

	report := &ExtractionReport{Dir: dir, Mode: artifact.ModeNone}
	for _, a := range arts {
		report.Artifacts = append(report.Artifacts, statOf(a))
	}

	anyMatrix, anyTensor := false, false
	for _, a := range arts {
		switch a.Mode() {
		case artifact.ModeMatrix:
			anyMatrix = true
		case artifact.ModeTensor:
			anyTensor = true
		}
	}

	if anyMatrix {
		cols, err := checkMatrices(arts)
		if err != nil {
			return nil, err
		}
		report.Mode = artifact.ModeMatrix
		report.Columns = cols
	}
	if anyTensor {
		keys, err := checkTensorDicts(arts)
		if err != nil {
			return nil, err
		}
		report.Mode = artifact.ModeTensor
		report.TensorKeys = keys
	}

	summaries, err := artifact.Glob(dir, SummaryFeaturePattern)
	if err != nil {
		return nil, err
	}
	if len(summaries) != 1 {
		return nil, &DiscoveryError{Dir: dir, Pattern: SummaryFeaturePattern, Want: "exactly one", Found: baseNames(summaries)}
	}
	report.SummaryFile = summaries[0]

	summary, err := v.Store.Load(summaries[0])
	if err != nil {
		return nil, err
	}

	switch report.Mode {
	case artifact.ModeMatrix:
		rows, err := checkMatrixSummary(summary, arts)
		if err != nil {
			return nil, err
		}
		report.SummaryRows = rows
	case artifact.ModeTensor:
		rows, err := checkTensorSummary(summary, arts, report.TensorKeys)
		if err != nil {
			return nil, err
		}
		report.SummaryTensorRows = rows
	}

	v.logger().Debug("extraction output valid",
		"dir", dir,
		"mode", report.Mode,
		"artifacts", len(arts),
		"summary", filepath.Base(report.SummaryFile),
	)
	return report, nil
}

// ModelFolder pairs a declared model with its derived output folder.
type ModelFolder struct {
	Model  string `json:"model"`
	Folder string `json:"folder"`
}

// SelectionReport describes a validated selection output directory.
type SelectionReport struct {
	Dir         string        `json:"dir"`
	SummaryFile string        `json:"summary_file"`
	Models      []ModelFolder `json:"models"`
}

// Selection validates the output directory of one select invocation against
// the models declared in its config. Folder contents are not inspected.
func (v *Validator) Selection(ctx context.Context, configPath, dir string) (*SelectionReport, error) {
	summaries, err := artifact.Glob(dir, SummarySelectPattern)
	if err != nil {
		return nil, err
	}
	if len(summaries) != 1 {
		return nil, &DiscoveryError{Dir: dir, Pattern: SummarySelectPattern, Want: "exactly one", Found: baseNames(summaries)}
	}

	sec, err := v.Parse(configPath, hvcconfig.SectionSelect)
	if err != nil {
		return nil, fmt.Errorf("parse select config: %w", err)
	}

	subdirs, err := subdirectories(dir)
	if err != nil {
		return nil, err
	}

	report := &SelectionReport{Dir: dir, SummaryFile: summaries[0]}
	var missing []string
	for _, m := range sec.Models {
		folder, err := v.Namer.FolderName(ctx, m)
		if err != nil {
			return nil, fmt.Errorf("derive folder for model %q: %w", m.Name, err)
		}
		report.Models = append(report.Models, ModelFolder{Model: m.Name, Folder: folder})
		if !subdirs[folder] {
			missing = append(missing, folder)
		}
	}

	if len(missing) > 0 {
		return nil, &InvariantError{
			Check:    CheckModelFolders,
			Artifact: dir,
			Expected: fmt.Sprintf("model folders %v", folderNames(report.Models)),
			Actual:   fmt.Sprintf("missing %v (present: %v)", missing, sortedSet(subdirs)),
		}
	}

	v.logger().Debug("selection output valid", "dir", dir, "models", len(report.Models))
	return report, nil
}

func (v *Validator) logger() *slog.Logger {
	if v.Logger != nil {
		return v.Logger
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
