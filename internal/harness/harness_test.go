package harness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/hvcflow/internal/stage"
	"github.com/roach88/hvcflow/internal/store"
	"github.com/roach88/hvcflow/internal/testutil"
	"github.com/roach88/hvcflow/internal/validate"
)

// testWorkflow writes the standard templates into a fresh config dir and
// returns a one-scenario workflow using them.
func testWorkflow(t *testing.T, name string) (*Workflow, string) {
	t.Helper()
	dir := t.TempDir()
	extract, sel, err := testutil.WriteTemplates(dir)
	require.NoError(t, err)

	wf := &Workflow{
		Name:      name,
		ConfigDir: dir,
		Scenarios: []Scenario{{Name: "test_extract", Extract: extract, Select: []string{sel}}},
	}
	wf.applyDefaults()
	return wf, dir
}

func newTestRunner(extract, sel stage.Stage) *Runner {
	v := validate.New()
	v.Namer = testutil.ModelPrefixNamer
	return &Runner{
		Extract:   extract,
		Select:    sel,
		Validator: v,
		Tokens:    testutil.NewSequenceTokens("tok"),
		Clock:     testutil.NewDeterministicClock(),
	}
}

func materializedLeft(t *testing.T, dir string) []string {
	t.Helper()
	left, err := filepath.Glob(filepath.Join(dir, "*.rewrite.yml"))
	require.NoError(t, err)
	return left
}

func TestRun_PassingScenario(t *testing.T) {
	wf, configDir := testWorkflow(t, "passing")
	root := t.TempDir()
	r := newTestRunner(
		testutil.FakeExtract(testutil.MatrixFixture(20, 10, 15, 7)),
		testutil.FakeSelect(testutil.ModelPrefixNamer),
	)

	result, err := r.Run(context.Background(), wf, root)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass)
	assert.Empty(t, result.Errors)
	assert.Equal(t, "tok-0001", result.RunID)
	require.Len(t, result.Scenarios, 1)

	sc := result.Scenarios[0]
	assert.True(t, sc.Pass)
	require.NotNil(t, sc.Extract)
	assert.Equal(t, "tok-0002", sc.Extract.Token)
	assert.Equal(t, filepath.Join(root, "extract_output_tok-0002"), sc.Extract.OutputDir)
	assert.Equal(t, 32, sc.Extract.Extraction.SummaryRows)

	require.Len(t, sc.Selects, 1)
	assert.Equal(t, filepath.Join(root, "select_output_tok-0003"), sc.Selects[0].OutputDir)
	assert.Len(t, sc.Selects[0].Selection.Models, 2)

	assert.Empty(t, materializedLeft(t, configDir), "materialized configs should be removed")
}

func TestRun_SummaryMismatchFailsScenario(t *testing.T) {
	wf, configDir := testWorkflow(t, "short_summary")
	fx := testutil.MatrixFixture(20, 10, 15, 7)
	fx.SummaryDelta = -2

	selectCalled := false
	r := newTestRunner(
		testutil.FakeExtract(fx),
		stage.Func(func(context.Context, stage.Invocation) error {
			selectCalled = true
			return nil
		}),
	)

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	sc := result.Scenarios[0]
	assert.Equal(t, "invariant:summary_rows", sc.Failure)
	assert.Contains(t, sc.Error, "Actual: 30 rows")
	assert.Empty(t, sc.Selects)
	assert.False(t, selectCalled)
	assert.Empty(t, materializedLeft(t, configDir))
}

func TestRun_MissingModelFolder(t *testing.T) {
	wf, configDir := testWorkflow(t, "missing_model")
	r := newTestRunner(
		testutil.FakeExtract(testutil.MatrixFixture(4, 3, 3)),
		testutil.FakeSelect(testutil.ModelPrefixNamer, testutil.SkipModels("svm_linear")),
	)

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.NoError(t, err)

	sc := result.Scenarios[0]
	assert.False(t, sc.Pass)
	assert.Equal(t, "invariant:model_folders", sc.Failure)
	assert.Contains(t, sc.Error, "model_svm_linear")
	require.Len(t, sc.Selects, 1)
	assert.Nil(t, sc.Selects[0].Selection)
	assert.Empty(t, materializedLeft(t, configDir))
}

func TestRun_TensorScenario(t *testing.T) {
	wf, _ := testWorkflow(t, "tensor")
	r := newTestRunner(
		testutil.FakeExtract(testutil.TensorFixture(map[string][]int{"flatwindow": {513, 88}}, 5, 6)),
		testutil.FakeSelect(testutil.ModelPrefixNamer),
	)

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, map[string]int{"flatwindow": 11}, result.Scenarios[0].Extract.Extraction.SummaryTensorRows)
}

// recordingStage wraps a stage and records the template each call consumed.
type recordingStage struct {
	mu    sync.Mutex
	inner stage.Stage
	seen  []string
}

func (s *recordingStage) Run(ctx context.Context, inv stage.Invocation) error {
	s.mu.Lock()
	s.seen = append(s.seen, filepath.Base(inv.ConfigPath))
	s.mu.Unlock()
	return s.inner.Run(ctx, inv)
}

func TestRun_SelectionOrder(t *testing.T) {
	tests := []struct {
		order string
		want  []string
	}{
		{OrderReverse, []string{"b_select.config.rewrite.yml", "a_select.config.rewrite.yml"}},
		{OrderDeclared, []string{"a_select.config.rewrite.yml", "b_select.config.rewrite.yml"}},
	}
	for _, tt := range tests {
		t.Run(tt.order, func(t *testing.T) {
			wf, dir := testWorkflow(t, "order")
			a := filepath.Join(dir, "a_select.config.yml")
			b := filepath.Join(dir, "b_select.config.yml")
			require.NoError(t, os.WriteFile(a, []byte(testutil.SelectTemplate), 0644))
			require.NoError(t, os.WriteFile(b, []byte(testutil.SelectTemplate), 0644))
			wf.Scenarios[0].Select = []string{a, b}
			wf.Order = tt.order

			sel := &recordingStage{inner: testutil.FakeSelect(testutil.ModelPrefixNamer)}
			r := newTestRunner(testutil.FakeExtract(testutil.MatrixFixture(2, 1)), sel)

			result, err := r.Run(context.Background(), wf, t.TempDir())
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Equal(t, tt.want, sel.seen)
		})
	}
}

// flakyExtract fails its first call and delegates afterwards.
func flakyExtract(inner stage.Stage) stage.Stage {
	calls := 0
	return stage.Func(func(ctx context.Context, inv stage.Invocation) error {
		calls++
		if calls == 1 {
			return errors.New("segmentation fault in feature extraction")
		}
		return inner.Run(ctx, inv)
	})
}

func twoScenarios(t *testing.T, wf *Workflow) {
	t.Helper()
	first := wf.Scenarios[0]
	second := first
	second.Name = "second"
	wf.Scenarios = []Scenario{first, second}
}

func TestRun_ContinuesAfterFailedScenario(t *testing.T) {
	wf, _ := testWorkflow(t, "continue")
	twoScenarios(t, wf)
	r := newTestRunner(
		flakyExtract(testutil.FakeExtract(testutil.MatrixFixture(2, 1))),
		testutil.FakeSelect(testutil.ModelPrefixNamer),
	)

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.NoError(t, err)

	require.Len(t, result.Scenarios, 2)
	assert.False(t, result.Pass)
	assert.Equal(t, "stage:extract", result.Scenarios[0].Failure)
	assert.Contains(t, result.Scenarios[0].Error, "segmentation fault")
	assert.True(t, result.Scenarios[1].Pass)

	passed, failed := result.Counts()
	assert.Equal(t, 1, passed)
	assert.Equal(t, 1, failed)
}

func TestRun_FailFastSkipsRemaining(t *testing.T) {
	wf, _ := testWorkflow(t, "fail_fast")
	twoScenarios(t, wf)
	wf.FailFast = true
	r := newTestRunner(
		flakyExtract(testutil.FakeExtract(testutil.MatrixFixture(2, 1))),
		testutil.FakeSelect(testutil.ModelPrefixNamer),
	)

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.NoError(t, err)

	require.Len(t, result.Scenarios, 2)
	assert.True(t, result.Scenarios[1].Skipped)
	assert.Len(t, result.Errors, 1)
}

func TestRun_MtimeCorrelation(t *testing.T) {
	wf, _ := testWorkflow(t, "mtime")
	wf.Correlate = CorrelateMtime
	r := newTestRunner(
		testutil.FakeExtract(testutil.MatrixFixture(3, 2, 2)),
		testutil.FakeSelect(testutil.ModelPrefixNamer),
	)

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Scenarios[0].Extract.Token)
	assert.Contains(t, filepath.Base(result.Scenarios[0].Extract.OutputDir), "extract_output_")
}

func TestRun_StageWithoutOutputFailsLocate(t *testing.T) {
	wf, _ := testWorkflow(t, "no_output")
	noop := stage.Func(func(context.Context, stage.Invocation) error { return nil })
	r := newTestRunner(noop, noop)

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "locate", result.Scenarios[0].Failure)
}

func TestRun_StrictPlaceholders(t *testing.T) {
	wf, dir := testWorkflow(t, "strict")
	bare := filepath.Join(dir, "bare_extract.config.yml")
	require.NoError(t, os.WriteFile(bare, []byte("extract:\n  todo_list:\n    - output_dir: /fixed\n"), 0644))
	wf.Scenarios[0].Extract = bare

	called := false
	extract := stage.Func(func(context.Context, stage.Invocation) error {
		called = true
		return nil
	})

	t.Run("strict_fails_before_invoking", func(t *testing.T) {
		wf.StrictPlaceholders = true
		result, err := newTestRunner(extract, extract).Run(context.Background(), wf, t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "placeholder", result.Scenarios[0].Failure)
		assert.False(t, called)
	})

	t.Run("lenient_records_unmatched", func(t *testing.T) {
		wf.StrictPlaceholders = false
		result, err := newTestRunner(extract, extract).Run(context.Background(), wf, t.TempDir())
		require.NoError(t, err)
		assert.True(t, called)
		assert.Equal(t, []string{MatchOutputDir}, result.Scenarios[0].Extract.Unmatched)
	})
}

func TestRun_CancelledContext(t *testing.T) {
	wf, _ := testWorkflow(t, "cancelled")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newTestRunner(
		testutil.FakeExtract(testutil.MatrixFixture(2, 1)),
		testutil.FakeSelect(testutil.ModelPrefixNamer),
	)
	result, err := r.Run(ctx, wf, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, result)
	assert.Empty(t, result.Scenarios)
}

func TestRun_CancelledDuringStage(t *testing.T) {
	wf, _ := testWorkflow(t, "cancel_mid")
	twoScenarios(t, wf)
	ctx, cancel := context.WithCancel(context.Background())

	extract := stage.Func(func(ctx context.Context, _ stage.Invocation) error {
		cancel()
		return ctx.Err()
	})
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close()

	r := newTestRunner(extract, testutil.FakeSelect(testutil.ModelPrefixNamer))
	r.Ledger = st

	result, err := r.Run(ctx, wf, t.TempDir())
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)

	runs, err := st.ReadRuns(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.StatusInterrupted, runs[0].Status)
	assert.Equal(t, 1, runs[0].Failed)

	stages, err := st.ReadStageRuns(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, store.StatusFailed, stages[0].Status)
}

func TestRun_RequiresStages(t *testing.T) {
	wf, _ := testWorkflow(t, "no_stages")
	_, err := (&Runner{}).Run(context.Background(), wf, t.TempDir())
	assert.Error(t, err)
}

func TestRun_RecordsLedger(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close()

	wf, _ := testWorkflow(t, "ledger")
	r := newTestRunner(
		testutil.FakeExtract(testutil.MatrixFixture(2, 1, 1)),
		testutil.FakeSelect(testutil.ModelPrefixNamer),
	)
	r.Ledger = st

	result, err := r.Run(ctx, wf, t.TempDir())
	require.NoError(t, err)
	require.True(t, result.Pass)

	runs, err := st.ReadRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, store.WorkflowRun{
		ID: "tok-0001", Workflow: "ledger", OutputRoot: runs[0].OutputRoot,
		Seq: 1, Status: store.StatusPassed, Passed: 1, Failed: 0,
	}, runs[0])

	stages, err := st.ReadStageRuns(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, "extract", stages[0].Stage)
	assert.Equal(t, int64(2), stages[0].Seq)
	assert.Equal(t, "select", stages[1].Stage)
	assert.Equal(t, int64(3), stages[1].Seq)
	assert.Equal(t, "test_select.config.rewrite.yml", stages[1].ConfigPath)
	assert.Equal(t, store.StatusPassed, stages[1].Status)
}

func TestRun_LedgerRecordsFailure(t *testing.T) {
	ctx := context.Background()
	st, err := store.Open(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	defer st.Close()

	wf, _ := testWorkflow(t, "ledger_fail")
	r := newTestRunner(testutil.FailingStage(errors.New("boom")), testutil.FakeSelect(testutil.ModelPrefixNamer))
	r.Ledger = st

	result, err := r.Run(ctx, wf, t.TempDir())
	require.NoError(t, err)
	assert.False(t, result.Pass)

	stages, err := st.ReadStageRuns(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, stages, 1)
	assert.Equal(t, store.StatusFailed, stages[0].Status)
	assert.Contains(t, stages[0].Error, "boom")

	runs, err := st.ReadRuns(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, runs[0].Status)
}

// failingLedger rejects stage writes and remembers how the run was closed.
type failingLedger struct {
	finished string
}

func (*failingLedger) BeginRun(context.Context, store.WorkflowRun) error { return nil }
func (*failingLedger) WriteStageRun(context.Context, store.StageRun) error {
	return errors.New("disk full")
}
func (l *failingLedger) FinishRun(_ context.Context, _, status string, _, _ int) error {
	l.finished = status
	return nil
}

func TestRun_LedgerFailureAbortsRun(t *testing.T) {
	wf, _ := testWorkflow(t, "ledger_broken")
	twoScenarios(t, wf)
	r := newTestRunner(
		testutil.FakeExtract(testutil.MatrixFixture(2, 1)),
		testutil.FakeSelect(testutil.ModelPrefixNamer),
	)
	ledger := &failingLedger{}
	r.Ledger = ledger

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.Len(t, result.Scenarios, 1)
	assert.Equal(t, store.StatusFailed, ledger.finished)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&validate.InvariantError{Check: validate.CheckMatrixCols}, "invariant:matrix_cols"},
		{&validate.DiscoveryError{Pattern: validate.SummaryFeaturePattern}, "discovery:summary_feature_file_*"},
		{&stage.Error{Kind: stage.KindSelect, Err: errors.New("x")}, "stage:select"},
		{context.Canceled, "cancelled"},
		{errors.New("other"), "error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classify(tt.err))
	}
}

func TestRun_MainWorkflow(t *testing.T) {
	wf, err := LoadWorkflow(filepath.Join("..", "..", "testdata", "workflows", "main.yaml"))
	require.NoError(t, err)
	// The real hvc stages cannot embed a run token.
	assert.Equal(t, CorrelateMtime, wf.Correlate)

	r := newTestRunner(
		testutil.FakeExtract(testutil.MatrixFixture(24, 12, 9)),
		testutil.FakeSelect(stage.DefaultNamer),
	)
	r.Validator = validate.New()
	r.WorkDir = t.TempDir()

	result, err := r.Run(context.Background(), wf, t.TempDir())
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	var names []string
	for _, sc := range result.Scenarios {
		names = append(names, sc.Name)
	}
	assert.Equal(t, []string{
		"test_extract_knn",
		"test_extract_multiple_feature_groups",
		"test_extract_svm",
		"test_extract_flatwindow",
	}, names)

	knn := result.Scenarios[0]
	require.Len(t, knn.Selects, 2)
	assert.Equal(t, "test_select_knn_ftr_grp.config.yml", knn.Selects[0].Template)
	assert.Equal(t, []validate.ModelFolder{{Model: "knn", Folder: "knn_ftr_grp_knn"}}, knn.Selects[0].Selection.Models)
	assert.Equal(t, "knn_ftr_list_inds_0_1_2_3_4_5_6_7_8", knn.Selects[1].Selection.Models[0].Folder)

	multi := result.Scenarios[1].Selects[0].Selection.Models
	assert.Equal(t, []validate.ModelFolder{
		{Model: "knn", Folder: "knn_ftr_grp_knn"},
		{Model: "svm", Folder: "svm_ftr_grp_svm"},
	}, multi)

	assert.Equal(t, "flatwindow", result.Scenarios[3].Selects[0].Selection.Models[0].Folder)

	left, err := filepath.Glob(filepath.Join(wf.ConfigDir, "*.rewrite.yml"))
	require.NoError(t, err)
	assert.Empty(t, left)
}
