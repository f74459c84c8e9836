package hvcconfig

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Model is one entry of the select section's models list.
type Model struct {
	Name            string
	Hyperparameters map[string]any
	// FeatureGroups is set when the model trains on named feature groups.
	FeatureGroups []string
	// FeatureListIndices is set when the model trains on explicit feature
	// columns. AllFeatures is set instead for feature_list_indices: all.
	FeatureListIndices []int
	AllFeatures        bool
	// Raw holds every key of the entry, including the ones above.
	Raw map[string]any
}

type modelDoc struct {
	Name               string         `yaml:"model_name"`
	Hyperparameters    map[string]any `yaml:"hyperparameters"`
	FeatureGroup       yaml.Node      `yaml:"feature_group"`
	FeatureListIndices yaml.Node      `yaml:"feature_list_indices"`
}

// UnmarshalYAML accepts feature_group as a string or a list of strings and
// feature_list_indices as a list of integers or the string "all".
func (m *Model) UnmarshalYAML(value *yaml.Node) error {
	var doc modelDoc
	if err := value.Decode(&doc); err != nil {
		return err
	}
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}

	out := Model{
		Name:            doc.Name,
		Hyperparameters: doc.Hyperparameters,
		Raw:             raw,
	}

	switch doc.FeatureGroup.Kind {
	case 0:
	case yaml.ScalarNode:
		out.FeatureGroups = []string{doc.FeatureGroup.Value}
	case yaml.SequenceNode:
		if err := doc.FeatureGroup.Decode(&out.FeatureGroups); err != nil {
			return fmt.Errorf("model %q: feature_group: %w", doc.Name, err)
		}
	default:
		return fmt.Errorf("model %q: feature_group must be a string or list", doc.Name)
	}

	switch doc.FeatureListIndices.Kind {
	case 0:
	case yaml.ScalarNode:
		if doc.FeatureListIndices.Value != "all" {
			return fmt.Errorf("model %q: feature_list_indices must be a list or \"all\"", doc.Name)
		}
		out.AllFeatures = true
	case yaml.SequenceNode:
		if err := doc.FeatureListIndices.Decode(&out.FeatureListIndices); err != nil {
			return fmt.Errorf("model %q: feature_list_indices: %w", doc.Name, err)
		}
	default:
		return fmt.Errorf("model %q: feature_list_indices must be a list or \"all\"", doc.Name)
	}

	*m = out
	return nil
}
