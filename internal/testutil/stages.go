package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/roach88/hvcflow/internal/hvcconfig"
	"github.com/roach88/hvcflow/internal/stage"
)

var untokened atomic.Int64

// outputDir picks the directory a fake stage writes into: under the first
// todo_list output_dir of the materialized config, else under the output root.
// The name embeds the run token when there is one.
func outputDir(sec *hvcconfig.Section, inv stage.Invocation) string {
	root := inv.OutputRoot
	if dirs := sec.OutputDirs(); len(dirs) > 0 {
		root = dirs[0]
	}
	suffix := inv.RunToken
	if suffix == "" {
		suffix = fmt.Sprintf("%06d", untokened.Add(1))
	}
	return filepath.Join(root, fmt.Sprintf("%s_output_%s", inv.Kind.Marker(), suffix))
}

// FakeExtract returns an extract stage that reads the materialized config and
// writes fx's artifacts into a fresh output directory.
func FakeExtract(fx ExtractFixture) stage.Stage {
	return stage.Func(func(ctx context.Context, inv stage.Invocation) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sec, err := hvcconfig.Parse(inv.ConfigPath, hvcconfig.SectionExtract)
		if err != nil {
			return err
		}
		_, err = WriteExtractOutput(outputDir(sec, inv), fx)
		return err
	})
}

// SelectOption tweaks FakeSelect.
type SelectOption func(*fakeSelect)

// SkipModels leaves out the folders of the named models.
func SkipModels(names ...string) SelectOption {
	return func(f *fakeSelect) {
		for _, n := range names {
			f.skip[n] = true
		}
	}
}

// NoSelectSummary omits the summary_model_select_file.
func NoSelectSummary() SelectOption {
	return func(f *fakeSelect) { f.noSummary = true }
}

type fakeSelect struct {
	namer     stage.FolderNamer
	skip      map[string]bool
	noSummary bool
}

// FakeSelect returns a select stage that requires every todo_list
// feature_file to exist, then writes a summary file and one folder per
// declared model, named by namer.
func FakeSelect(namer stage.FolderNamer, opts ...SelectOption) stage.Stage {
	f := &fakeSelect{namer: namer, skip: map[string]bool{}}
	for _, opt := range opts {
		opt(f)
	}
	return stage.Func(f.run)
}

func (f *fakeSelect) run(ctx context.Context, inv stage.Invocation) error {
	sec, err := hvcconfig.Parse(inv.ConfigPath, hvcconfig.SectionSelect)
	if err != nil {
		return err
	}
	for _, todo := range sec.TodoList {
		if _, err := os.Stat(todo.FeatureFile); err != nil {
			return fmt.Errorf("feature_file: %w", err)
		}
	}

	var folders []string
	for _, m := range sec.Models {
		if f.skip[m.Name] {
			continue
		}
		name, err := f.namer.FolderName(ctx, m)
		if err != nil {
			return err
		}
		folders = append(folders, name)
	}

	dir := outputDir(sec, inv)
	if err := WriteSelectOutput(dir, folders...); err != nil {
		return err
	}
	if f.noSummary {
		return os.Remove(filepath.Join(dir, "summary_model_select_file_created_00"))
	}
	return nil
}

// FailingStage returns a stage that always fails with err.
func FailingStage(err error) stage.Stage {
	return stage.Func(func(context.Context, stage.Invocation) error { return err })
}

// Template configs matching the fake stages.
const (
	ExtractTemplate = `extract:
  spect_params:
    ref: tachibana
  todo_list:
    - bird_ID: gy6or6
      file_format: evtaf
      data_dirs:
        - ./032212
      output_dir: replace with tmp_output_dir
      labelset: iabcdefghjk
`

	SelectTemplate = `select:
  num_replicates: 2
  num_train_samples:
    start: 50
    stop: 150
    step: 50
  models:
    - model_name: knn_k3
      hyperparameters:
        k: 3
    - model_name: svm_linear
      hyperparameters:
        C: 1
  todo_list:
    - feature_file: replace with feature_file
      output_dir: replace with tmp_output_dir
`
)

// WriteTemplates writes ExtractTemplate and SelectTemplate into dir and
// returns their paths.
func WriteTemplates(dir string) (extract, sel string, err error) {
	extract = filepath.Join(dir, "test_extract.config.yml")
	sel = filepath.Join(dir, "test_select.config.yml")
	if err = os.WriteFile(extract, []byte(ExtractTemplate), 0644); err != nil {
		return "", "", err
	}
	if err = os.WriteFile(sel, []byte(SelectTemplate), 0644); err != nil {
		return "", "", err
	}
	return extract, sel, nil
}

// ModelPrefixNamer names each folder "model_" + model_name.
var ModelPrefixNamer = stage.NamerFunc(func(m hvcconfig.Model) (string, error) {
	return "model_" + m.Name, nil
})
