// Package artifact loads the keyed-mapping files written by the extraction
// stage and classifies them into typed variants.
//
// Every feature file carries a label sequence plus at most one feature
// representation:
//
//   - features: a 2-D matrix, one row per label (MatrixArtifact)
//   - neuralnets_input_dict: named tensors, leading dimension one per label
//     (TensorDictArtifact)
//
// A file with neither is a LabelsArtifact. The variant is fixed at load time so
// callers switch on the type instead of probing map keys.
package artifact

import (
	"fmt"
	"sort"
)

// Keys recognized in a persisted feature mapping.
const (
	KeyLabels  = "labels"
	KeyMatrix  = "features"
	KeyTensors = "neuralnets_input_dict"

	// legacyTensorKey is a misspelling seen in older tooling. It is rejected
	// rather than aliased so a mismatched writer surfaces immediately.
	legacyTensorKey = "neuralnet_inputs_dict"
)

// Mode names the feature representation of an artifact.
type Mode string

const (
	ModeNone   Mode = "none"
	ModeMatrix Mode = "matrix"
	ModeTensor Mode = "tensor"
)

// Artifact is one loaded feature mapping.
// Implementations: *MatrixArtifact, *TensorDictArtifact, *LabelsArtifact.
type Artifact interface {
	// Source is the file the artifact was loaded from (empty if built in memory).
	Source() string
	// Labels returns the per-sample label sequence.
	Labels() []string
	// Mode reports the representation.
	Mode() Mode

	sealed()
}

// Array is an n-dimensional numeric array. Data is row-major and may be nil
// when only the shape was persisted.
type Array struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data,omitempty"`
}

// Rows returns the leading dimension, or 0 for a scalar.
func (a Array) Rows() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[0]
}

// Size is the product of the shape.
func (a Array) Size() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

func (a Array) check() error {
	for i, d := range a.Shape {
		if d < 0 {
			return fmt.Errorf("negative dimension %d at axis %d", d, i)
		}
	}
	if a.Data != nil && len(a.Data) != a.Size() {
		return fmt.Errorf("data has %d elements, shape %v needs %d", len(a.Data), a.Shape, a.Size())
	}
	return nil
}

type base struct {
	source string
	labels []string
}

func (b *base) Source() string   { return b.source }
func (b *base) Labels() []string { return b.labels }
func (b *base) sealed()          {}

// MatrixArtifact carries a features matrix.
type MatrixArtifact struct {
	base
	Features Array
}

// NewMatrix builds a matrix artifact. The array must be 2-D.
func NewMatrix(source string, labels []string, features Array) (*MatrixArtifact, error) {
	if len(features.Shape) != 2 {
		return nil, fmt.Errorf("%s: features must be 2-D, got shape %v", KeyMatrix, features.Shape)
	}
	if err := features.check(); err != nil {
		return nil, fmt.Errorf("%s: %w", KeyMatrix, err)
	}
	return &MatrixArtifact{base: base{source: source, labels: labels}, Features: features}, nil
}

func (m *MatrixArtifact) Mode() Mode { return ModeMatrix }

// Rows is the number of feature rows.
func (m *MatrixArtifact) Rows() int { return m.Features.Shape[0] }

// Cols is the number of features per row.
func (m *MatrixArtifact) Cols() int { return m.Features.Shape[1] }

// TensorDictArtifact carries named neural-network input tensors.
type TensorDictArtifact struct {
	base
	Inputs map[string]Array
}

// NewTensorDict builds a tensor-dict artifact. Every tensor needs at least
// one dimension.
func NewTensorDict(source string, labels []string, inputs map[string]Array) (*TensorDictArtifact, error) {
	for _, key := range sortedKeys(inputs) {
		arr := inputs[key]
		if len(arr.Shape) == 0 {
			return nil, fmt.Errorf("%s[%s]: tensor has no leading dimension", KeyTensors, key)
		}
		if err := arr.check(); err != nil {
			return nil, fmt.Errorf("%s[%s]: %w", KeyTensors, key, err)
		}
	}
	return &TensorDictArtifact{base: base{source: source, labels: labels}, Inputs: inputs}, nil
}

func (t *TensorDictArtifact) Mode() Mode { return ModeTensor }

// Keys returns the tensor names, sorted.
func (t *TensorDictArtifact) Keys() []string { return sortedKeys(t.Inputs) }

// LabelsArtifact has labels but no feature representation.
type LabelsArtifact struct {
	base
}

// NewLabels builds an artifact without features.
func NewLabels(source string, labels []string) *LabelsArtifact {
	return &LabelsArtifact{base: base{source: source, labels: labels}}
}

func (l *LabelsArtifact) Mode() Mode { return ModeNone }

func sortedKeys(m map[string]Array) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
