package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Store loads artifacts from persisted files.
type Store interface {
	Load(path string) (Artifact, error)
}

// LoadError reports a file that could not be decoded into an artifact.
type LoadError struct {
	Path    string
	Message string
	Err     error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load artifact %s: %s: %v", e.Path, e.Message, e.Err)
	}
	return fmt.Sprintf("load artifact %s: %s", e.Path, e.Message)
}

func (e *LoadError) Unwrap() error { return e.Err }

// JSONStore reads and writes artifacts as JSON objects.
//
//	{"labels": ["a", "b"], "features": {"shape": [2, 3], "data": [...]}}
//	{"labels": [1, 2], "neuralnets_input_dict": {"spect": {"shape": [2, 64, 88]}}}
//
// Keys other than the recognized ones are ignored.
type JSONStore struct{}

// Load decodes the file at path.
func (JSONStore) Load(path string) (Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: "read failed", Err: err}
	}
	return Decode(path, data)
}

// Decode classifies a JSON mapping. source is recorded on the artifact.
func Decode(source string, data []byte) (Artifact, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &LoadError{Path: source, Message: "not a JSON object", Err: err}
	}

	if _, ok := raw[legacyTensorKey]; ok {
		return nil, &LoadError{Path: source, Message: fmt.Sprintf("unsupported key %q (expected %q)", legacyTensorKey, KeyTensors)}
	}

	labelsRaw, ok := raw[KeyLabels]
	if !ok {
		return nil, &LoadError{Path: source, Message: fmt.Sprintf("missing %q", KeyLabels)}
	}
	labels, err := decodeLabels(labelsRaw)
	if err != nil {
		return nil, &LoadError{Path: source, Message: "bad labels", Err: err}
	}

	matrixRaw, hasMatrix := raw[KeyMatrix]
	tensorRaw, hasTensors := raw[KeyTensors]

	switch {
	case hasMatrix && hasTensors:
		return nil, &LoadError{Path: source, Message: fmt.Sprintf("both %q and %q present", KeyMatrix, KeyTensors)}
	case hasMatrix:
		var arr Array
		if err := json.Unmarshal(matrixRaw, &arr); err != nil {
			return nil, &LoadError{Path: source, Message: "bad features", Err: err}
		}
		m, err := NewMatrix(source, labels, arr)
		if err != nil {
			return nil, &LoadError{Path: source, Message: "bad features", Err: err}
		}
		return m, nil
	case hasTensors:
		var inputs map[string]Array
		if err := json.Unmarshal(tensorRaw, &inputs); err != nil {
			return nil, &LoadError{Path: source, Message: "bad " + KeyTensors, Err: err}
		}
		td, err := NewTensorDict(source, labels, inputs)
		if err != nil {
			return nil, &LoadError{Path: source, Message: "bad " + KeyTensors, Err: err}
		}
		return td, nil
	default:
		return NewLabels(source, labels), nil
	}
}

// decodeLabels accepts strings, numbers and booleans. Non-string labels keep
// their JSON text, so 3 and "3" both become "3".
func decodeLabels(data json.RawMessage) ([]string, error) {
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		return nil, err
	}
	labels := make([]string, len(elems))
	for i, e := range elems {
		e = bytes.TrimSpace(e)
		switch {
		case len(e) == 0:
			return nil, fmt.Errorf("labels[%d]: empty", i)
		case e[0] == '"':
			if err := json.Unmarshal(e, &labels[i]); err != nil {
				return nil, fmt.Errorf("labels[%d]: %w", i, err)
			}
		case e[0] == '{' || e[0] == '[' || bytes.Equal(e, []byte("null")):
			return nil, fmt.Errorf("labels[%d]: unsupported value %s", i, e)
		default:
			labels[i] = string(e)
		}
	}
	return labels, nil
}

// Write persists a in the JSONStore format.
func Write(path string, a Artifact) error {
	doc := map[string]any{KeyLabels: nonNil(a.Labels())}
	switch v := a.(type) {
	case *MatrixArtifact:
		doc[KeyMatrix] = v.Features
	case *TensorDictArtifact:
		doc[KeyTensors] = v.Inputs
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write artifact: %w", err)
	}
	return nil
}

// Glob returns the files directly under dir whose base name matches pattern
// (filepath.Match syntax), sorted. Directories never match.
func Glob(dir, pattern string) ([]string, error) {
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(pattern, e.Name()); ok {
			matches = append(matches, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func nonNil(labels []string) []string {
	if labels == nil {
		return []string{}
	}
	return labels
}
