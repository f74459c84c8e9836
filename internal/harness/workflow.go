package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Workflow defines an ordered list of extract/select scenarios run against a
// shared output root.
type Workflow struct {
	// Name identifies this workflow in reports and the run ledger.
	Name string `yaml:"name"`

	// Description explains what this workflow exercises.
	Description string `yaml:"description,omitempty"`

	// ConfigDir is the directory config templates are resolved against.
	// Relative to the workflow file; defaults to the workflow file's directory.
	ConfigDir string `yaml:"config_dir,omitempty"`

	// Order is the selection processing order within a scenario:
	// "reverse" (last declared first) or "declared".
	Order string `yaml:"order,omitempty"`

	// Correlate selects how a stage's output directory is found after the
	// stage returns: "token" or "mtime".
	Correlate string `yaml:"correlate,omitempty"`

	// StrictPlaceholders fails a scenario when a placeholder substitution
	// rewrites no line of its template.
	StrictPlaceholders bool `yaml:"strict_placeholders,omitempty"`

	// FailFast stops the workflow at the first failed scenario.
	FailFast bool `yaml:"fail_fast,omitempty"`

	// ExtractStage, SelectStage and Namer are shell-quoted command lines used
	// by the CLI to build external collaborators.
	ExtractStage string `yaml:"extract_stage,omitempty"`
	SelectStage  string `yaml:"select_stage,omitempty"`
	Namer        string `yaml:"namer,omitempty"`

	// Placeholders overrides the placeholder literals found in templates.
	Placeholders Placeholders `yaml:"placeholders,omitempty"`

	// Scenarios run in declared order.
	Scenarios []Scenario `yaml:"scenarios"`
}

// Placeholders are the literal strings replaced in config templates.
type Placeholders struct {
	OutputDir   string `yaml:"output_dir,omitempty"`
	FeatureFile string `yaml:"feature_file,omitempty"`
}

// Scenario pairs one extract config template with the select config
// templates that consume its summary feature file.
type Scenario struct {
	Name    string   `yaml:"name,omitempty"`
	Extract string   `yaml:"extract"`
	Select  []string `yaml:"select"`
}

// Selection order values.
const (
	OrderReverse  = "reverse"
	OrderDeclared = "declared"
)

// Correlation values.
const (
	CorrelateToken = "token"
	CorrelateMtime = "mtime"
)

// Placeholder defaults and the line tokens they are matched on.
const (
	DefaultOutputDirPlaceholder   = "replace with tmp_output_dir"
	DefaultFeatureFilePlaceholder = "replace with feature_file"

	MatchOutputDir   = "output_dir"
	MatchFeatureFile = "feature_file"
)

// Selections returns the scenario's select templates in processing order.
func (s Scenario) Selections(order string) []string {
	out := make([]string, len(s.Select))
	if order == OrderDeclared {
		copy(out, s.Select)
		return out
	}
	for i, sel := range s.Select {
		out[len(out)-1-i] = sel
	}
	return out
}

// LoadWorkflow reads and parses a workflow YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or references missing config templates.
// Relative template paths resolve against ConfigDir.
func LoadWorkflow(path string) (*Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	return ParseWorkflow(data, filepath.Dir(path))
}

// ParseWorkflow parses workflow content, resolving relative paths against
// basePath.
func ParseWorkflow(data []byte, basePath string) (*Workflow, error) {
	// Strict field validation catches typos like "scenario:" vs "scenarios:"
	var wf Workflow
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&wf); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	wf.applyDefaults()

	configDir := wf.ConfigDir
	if !filepath.IsAbs(configDir) && basePath != "" {
		configDir = filepath.Join(basePath, configDir)
	}
	wf.ConfigDir = configDir
	for i := range wf.Scenarios {
		sc := &wf.Scenarios[i]
		sc.Extract = resolve(configDir, sc.Extract)
		for j := range sc.Select {
			sc.Select[j] = resolve(configDir, sc.Select[j])
		}
		if sc.Name == "" && sc.Extract != "" {
			sc.Name = scenarioName(sc.Extract)
		}
	}

	if err := validateWorkflow(&wf); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}
	return &wf, nil
}

func (wf *Workflow) applyDefaults() {
	if wf.Order == "" {
		wf.Order = OrderReverse
	}
	if wf.Correlate == "" {
		wf.Correlate = CorrelateToken
	}
	if wf.Placeholders.OutputDir == "" {
		wf.Placeholders.OutputDir = DefaultOutputDirPlaceholder
	}
	if wf.Placeholders.FeatureFile == "" {
		wf.Placeholders.FeatureFile = DefaultFeatureFilePlaceholder
	}
}

func resolve(dir, p string) string {
	if p == "" || filepath.IsAbs(p) || dir == "" {
		return p
	}
	return filepath.Join(dir, p)
}

// scenarioName derives "test_extract_knn" from ".../test_extract_knn.config.yml".
func scenarioName(template string) string {
	base := filepath.Base(template)
	if i := strings.Index(base, "."); i > 0 {
		return base[:i]
	}
	return base
}

// validateWorkflow checks that required fields are present and valid.
func validateWorkflow(wf *Workflow) error {
	if wf.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch wf.Order {
	case OrderReverse, OrderDeclared:
	default:
		return fmt.Errorf("order must be %q or %q, got %q", OrderReverse, OrderDeclared, wf.Order)
	}

	switch wf.Correlate {
	case CorrelateToken, CorrelateMtime:
	default:
		return fmt.Errorf("correlate must be %q or %q, got %q", CorrelateToken, CorrelateMtime, wf.Correlate)
	}

	if len(wf.Scenarios) == 0 {
		return fmt.Errorf("scenarios list is required and must be non-empty")
	}

	seen := make(map[string]bool, len(wf.Scenarios))
	for i, sc := range wf.Scenarios {
		if sc.Extract == "" {
			return fmt.Errorf("scenarios[%d]: extract is required", i)
		}
		if len(sc.Select) == 0 {
			return fmt.Errorf("scenarios[%d]: select list is required and must be non-empty", i)
		}
		if seen[sc.Name] {
			return fmt.Errorf("scenarios[%d]: duplicate scenario name %q", i, sc.Name)
		}
		seen[sc.Name] = true

		if err := requireFile(sc.Extract); err != nil {
			return fmt.Errorf("scenarios[%d].extract: %w", i, err)
		}
		for j, sel := range sc.Select {
			if err := requireFile(sel); err != nil {
				return fmt.Errorf("scenarios[%d].select[%d]: %w", i, j, err)
			}
		}
	}
	return nil
}

func requireFile(path string) error {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("config template not found: %s", path)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("config template is a directory: %s", path)
	}
	return nil
}
