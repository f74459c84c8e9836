package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/roach88/hvcflow/internal/hvcconfig"
)

// FolderNamer derives the output subfolder the select stage writes for a model.
type FolderNamer interface {
	FolderName(ctx context.Context, m hvcconfig.Model) (string, error)
}

// NamerFunc adapts a plain function to FolderNamer.
type NamerFunc func(m hvcconfig.Model) (string, error)

// FolderName calls f.
func (f NamerFunc) FolderName(_ context.Context, m hvcconfig.Model) (string, error) {
	return f(m)
}

// DefaultNamer names folders after the model and its feature selection:
//
//	knn + feature_list_indices [0 1 2] -> knn_ftr_list_inds_0_1_2
//	knn + feature_list_indices all     -> knn_ftr_list_inds_all
//	svm + feature_group [svm]          -> svm_ftr_grp_svm
//	flatwindow                         -> flatwindow
var DefaultNamer FolderNamer = NamerFunc(DefaultFolderName)

// DefaultFolderName implements DefaultNamer.
func DefaultFolderName(m hvcconfig.Model) (string, error) {
	if m.Name == "" {
		return "", fmt.Errorf("model has no model_name")
	}
	var b strings.Builder
	b.WriteString(m.Name)

	switch {
	case len(m.FeatureListIndices) > 0:
		b.WriteString("_ftr_list_inds")
		for _, idx := range m.FeatureListIndices {
			b.WriteString("_")
			b.WriteString(strconv.Itoa(idx))
		}
	case m.AllFeatures:
		b.WriteString("_ftr_list_inds_all")
	case len(m.FeatureGroups) > 0:
		b.WriteString("_ftr_grp_")
		b.WriteString(strings.Join(m.FeatureGroups, "_"))
	}
	return checkFolderName(b.String())
}

// CommandNamer delegates naming to an external process. The model entry is
// written to stdin as JSON; the trimmed stdout is the folder name.
type CommandNamer struct {
	Argv []string
}

// NewCommandNamer builds a CommandNamer from a shell-quoted command line.
func NewCommandNamer(line string) (*CommandNamer, error) {
	argv, err := ParseCommand(line)
	if err != nil {
		return nil, err
	}
	return &CommandNamer{Argv: argv}, nil
}

// FolderName runs the command for one model.
func (n *CommandNamer) FolderName(ctx context.Context, m hvcconfig.Model) (string, error) {
	if len(n.Argv) == 0 {
		return "", fmt.Errorf("folder namer: no command configured")
	}
	input, err := json.Marshal(m.Raw)
	if err != nil {
		return "", fmt.Errorf("encode model %q: %w", m.Name, err)
	}

	cmd := exec.CommandContext(ctx, n.Argv[0], n.Argv[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("folder namer for model %q: %w: %s", m.Name, err, strings.TrimSpace(stderr.String()))
	}
	return checkFolderName(strings.TrimSpace(stdout.String()))
}

// checkFolderName rejects names that are not a single path element.
func checkFolderName(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid model folder name %q", name)
	}
	return name, nil
}
