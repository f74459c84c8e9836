package testutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/roach88/hvcflow/internal/artifact"
)

// ExtractFixture describes the artifact tree of one extraction run.
//
// With Tensors nil the run is matrix based: one features_from* file per entry
// of Rows, each an Rows[i] x Cols matrix. With Tensors set, each file carries
// one tensor per key, shaped [Rows[i], dims...].
type ExtractFixture struct {
	Rows    []int
	Cols    int
	Tensors map[string][]int

	// SummaryDelta is added to the correct summary row count, so a non-zero
	// value produces an inconsistent summary.
	SummaryDelta int
	// ColsOverride replaces Cols for the artifact at the given index.
	ColsOverride map[int]int
	// NoSummary skips writing the summary file; ExtraSummaries writes more.
	NoSummary      bool
	ExtraSummaries int
}

// MatrixFixture is a matrix-based extraction run.
func MatrixFixture(cols int, rows ...int) ExtractFixture {
	return ExtractFixture{Rows: rows, Cols: cols}
}

// TensorFixture is a tensor-dict extraction run.
func TensorFixture(tensors map[string][]int, rows ...int) ExtractFixture {
	return ExtractFixture{Rows: rows, Tensors: tensors}
}

// WriteExtractOutput creates dir and fills it with the fixture's artifacts.
// It returns the summary file path ("" with NoSummary).
func WriteExtractOutput(dir string, fx ExtractFixture) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	total := 0
	for i, rows := range fx.Rows {
		total += rows
		a, err := fx.artifact(i, rows)
		if err != nil {
			return "", err
		}
		path := filepath.Join(dir, fmt.Sprintf("features_from_gy6or6_%02d", i))
		if err := artifact.Write(path, a); err != nil {
			return "", err
		}
	}

	if fx.NoSummary {
		return "", nil
	}

	summary, err := fx.artifact(-1, total+fx.SummaryDelta)
	if err != nil {
		return "", err
	}
	var first string
	for i := 0; i <= fx.ExtraSummaries; i++ {
		path := filepath.Join(dir, fmt.Sprintf("summary_feature_file_created_%02d", i))
		if err := artifact.Write(path, summary); err != nil {
			return "", err
		}
		if first == "" {
			first = path
		}
	}
	return first, nil
}

func (fx ExtractFixture) artifact(index, rows int) (artifact.Artifact, error) {
	if rows < 0 {
		rows = 0
	}
	labels := make([]string, rows)
	for i := range labels {
		labels[i] = string(rune('a' + i%26))
	}

	if fx.Tensors != nil {
		inputs := make(map[string]artifact.Array, len(fx.Tensors))
		for key, dims := range fx.Tensors {
			inputs[key] = artifact.Array{Shape: append([]int{rows}, dims...)}
		}
		return artifact.NewTensorDict("", labels, inputs)
	}

	cols := fx.Cols
	if c, ok := fx.ColsOverride[index]; ok {
		cols = c
	}
	return artifact.NewMatrix("", labels, artifact.Array{Shape: []int{rows, cols}})
}

// WriteSelectOutput creates dir with a summary_model_select_file and one
// subdirectory per folder name.
func WriteSelectOutput(dir string, folders ...string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	summary := filepath.Join(dir, "summary_model_select_file_created_00")
	if err := os.WriteFile(summary, []byte(`{"labels": []}`), 0644); err != nil {
		return err
	}
	for _, f := range folders {
		if err := os.MkdirAll(filepath.Join(dir, f), 0755); err != nil {
			return err
		}
	}
	return nil
}
