// Package hvcconfig reads the YAML config files consumed by the pipeline
// stages. A file holds one top-level mapping per stage:
//
//	extract:
//	  todo_list:
//	    - bird_ID: gy6or6
//	      output_dir: replace with tmp_output_dir
//	select:
//	  models:
//	    - model_name: knn
//	      hyperparameters: {k: 4}
//	      feature_list_indices: [0, 1, 2]
//	  todo_list:
//	    - feature_file: replace with feature_file
//	      output_dir: replace with tmp_output_dir
//
// Sections are checked against an embedded CUE schema before being decoded.
package hvcconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Section names.
const (
	SectionExtract = "extract"
	SectionSelect  = "select"
)

// ErrSectionNotFound is returned when the requested section is absent.
var ErrSectionNotFound = errors.New("config section not found")

// Section is one stage's configuration.
type Section struct {
	Name     string
	Models   []Model
	TodoList []Todo
	// Raw is the section as decoded from YAML, for keys the harness does not model.
	Raw map[string]any
}

// Todo is one entry of a section's todo_list.
type Todo struct {
	FeatureFile string         `yaml:"feature_file,omitempty"`
	OutputDir   string         `yaml:"output_dir,omitempty"`
	Extra       map[string]any `yaml:",inline"`
}

type sectionDoc struct {
	Models   []Model `yaml:"models"`
	TodoList []Todo  `yaml:"todo_list"`
}

// Parse reads path and returns the named section.
func Parse(path, section string) (*Section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	sec, err := ParseBytes(data, section)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return sec, nil
}

// ParseBytes parses config content and returns the named section.
func ParseBytes(data []byte, section string) (*Section, error) {
	var doc map[string]yaml.Node
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	if err := decoder.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	node, ok := doc[section]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSectionNotFound, section)
	}
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("section %q must be a mapping", section)
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return nil, fmt.Errorf("section %q: %w", section, err)
	}
	if err := checkSchema(section, raw); err != nil {
		return nil, err
	}

	var typed sectionDoc
	if err := node.Decode(&typed); err != nil {
		return nil, fmt.Errorf("section %q: %w", section, err)
	}

	return &Section{
		Name:     section,
		Models:   typed.Models,
		TodoList: typed.TodoList,
		Raw:      raw,
	}, nil
}

// OutputDirs returns the output_dir of every todo_list entry that sets one.
func (s *Section) OutputDirs() []string {
	var dirs []string
	for _, todo := range s.TodoList {
		if todo.OutputDir != "" {
			dirs = append(dirs, todo.OutputDir)
		}
	}
	return dirs
}
