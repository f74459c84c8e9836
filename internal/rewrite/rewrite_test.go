package rewrite

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const selectTemplate = `select:
  num_replicates: 3
  models:
    - model_name: knn
      feature_group: knn
  todo_list:
    - feature_file: replace with feature_file
      output_dir: replace with tmp_output_dir
      # output_dir notes: replace with tmp_output_dir
`

func writeTemplate(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test_select_knn.config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRewrite_SubstitutesOnMatchedLines(t *testing.T) {
	src := writeTemplate(t, selectTemplate)
	dst := filepath.Join(t.TempDir(), "out.yml")

	report, err := Rewrite(src, dst, []Substitution{
		{Match: "feature_file", Placeholder: "replace with feature_file", Value: "/tmp/summary_feature_file_1"},
		{Match: "output_dir", Placeholder: "replace with tmp_output_dir", Value: "/tmp/out"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, `select:
  num_replicates: 3
  models:
    - model_name: knn
      feature_group: knn
  todo_list:
    - feature_file: /tmp/summary_feature_file_1
      output_dir: /tmp/out
      # output_dir notes: /tmp/out
`, string(got))
	assert.Equal(t, []int{1, 2}, report.Lines)
}

func TestRewrite_NeverModifiesSource(t *testing.T) {
	src := writeTemplate(t, selectTemplate)
	dst := filepath.Join(t.TempDir(), "out.yml")

	_, err := Rewrite(src, dst, []Substitution{
		{Match: "output_dir", Placeholder: "replace with tmp_output_dir", Value: "/tmp/out"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(src)
	require.NoError(t, err)
	assert.Equal(t, selectTemplate, string(got))
}

func TestRewrite_UnmatchedLinesPassThrough(t *testing.T) {
	// No trailing newline and CRLF terminators must survive untouched.
	content := "a: replace with x\r\nb: keep\r\nc: replace with x"
	src := writeTemplate(t, content)
	dst := filepath.Join(t.TempDir(), "out.yml")

	_, err := Rewrite(src, dst, []Substitution{
		{Match: "b:", Placeholder: "replace with x", Value: "y"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, content, string(got))
}

func TestRewrite_PlaceholderOnlyReplacedOnMatchingLines(t *testing.T) {
	src := writeTemplate(t, "output_dir: replace with tmp_output_dir\nlog_dir: replace with tmp_output_dir\n")
	dst := filepath.Join(t.TempDir(), "out.yml")

	_, err := Rewrite(src, dst, []Substitution{
		{Match: "output_dir", Placeholder: "replace with tmp_output_dir", Value: "/out"},
	})
	require.NoError(t, err)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "output_dir: /out\nlog_dir: replace with tmp_output_dir\n", string(got))
}

func TestRewrite_ZeroMatchesIsSilentByDefault(t *testing.T) {
	src := writeTemplate(t, selectTemplate)
	dst := filepath.Join(t.TempDir(), "out.yml")

	report, err := Rewrite(src, dst, []Substitution{
		{Match: "spect_params", Placeholder: "replace me", Value: "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, report.Lines)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, selectTemplate, string(got))
}

func TestRewrite_StrictRejectsUnmatched(t *testing.T) {
	src := writeTemplate(t, selectTemplate)
	dst := filepath.Join(t.TempDir(), "out.yml")

	_, err := Rewrite(src, dst, []Substitution{
		{Match: "output_dir", Placeholder: "replace with tmp_output_dir", Value: "/out"},
		{Match: "spect_params", Placeholder: "replace me", Value: "x"},
	}, Strict())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnmatched))

	var ue *UnmatchedError
	require.True(t, errors.As(err, &ue))
	require.Len(t, ue.Subs, 1)
	assert.Equal(t, "spect_params", ue.Subs[0].Match)

	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr), "strict failure must not write a file")
}

func TestRewrite_RejectsInPlace(t *testing.T) {
	src := writeTemplate(t, selectTemplate)
	_, err := Rewrite(src, src, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "destination must differ")
}

func TestRewrite_RejectsEmptyPlaceholder(t *testing.T) {
	src := writeTemplate(t, selectTemplate)
	_, err := Rewrite(src, filepath.Join(t.TempDir(), "out.yml"), []Substitution{{Match: "output_dir"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty placeholder")
}

func TestRewrite_MatchesDecomposedUnicode(t *testing.T) {
	// "café" saved in NFD (e + combining acute) still matches an NFC token.
	src := writeTemplate(t, "cafe\u0301_dir: replace with dir\nother: replace with dir\n")
	dst := filepath.Join(t.TempDir(), "out.yml")

	report, err := Rewrite(src, dst, []Substitution{
		{Match: "caf\u00e9_dir", Placeholder: "replace with dir", Value: "/d"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, report.Lines)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "caf\u00e9_dir: /d\nother: replace with dir\n", string(got))
}

func TestRewrite_DecomposedPlaceholderOnASCIILine(t *testing.T) {
	ph := "replace with re\u0301pertoire"
	src := writeTemplate(t, "output_dir: "+ph+"\nfeature_file: "+ph+"\n")
	dst := filepath.Join(t.TempDir(), "out.yml")

	report, err := Rewrite(src, dst, []Substitution{
		{Match: "output_dir", Placeholder: ph, Value: "/out"},
	}, Strict())
	require.NoError(t, err)
	assert.Equal(t, []int{1}, report.Lines)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "output_dir: /out\nfeature_file: "+ph+"\n", string(got))
}

func TestRewrite_ComposedPlaceholderMatchesDecomposedLine(t *testing.T) {
	src := writeTemplate(t, "output_dir: replace with re\u0301pertoire\n")
	dst := filepath.Join(t.TempDir(), "out.yml")

	report, err := Rewrite(src, dst, []Substitution{
		{Match: "output_dir", Placeholder: "replace with r\u00e9pertoire", Value: "/out"},
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, report.Lines)

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "output_dir: /out\n", string(got))
}

func TestMaterialize_NameAndCleanup(t *testing.T) {
	src := writeTemplate(t, selectTemplate)
	dir := t.TempDir()

	m, err := Materialize(src, dir, []Substitution{
		{Match: "output_dir", Placeholder: "replace with tmp_output_dir", Value: "/out"},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "test_select_knn.config.rewrite.yml"), m.Path)
	assert.FileExists(t, m.Path)

	require.NoError(t, m.Close())
	assert.NoFileExists(t, m.Path)
	require.NoError(t, m.Close(), "second close is a no-op")
}

func TestMaterializedName(t *testing.T) {
	assert.Equal(t, "test_extract_svm.config.rewrite.yml", MaterializedName("/a/test_extract_svm.config.yml"))
	assert.Equal(t, "plain.rewrite", MaterializedName("plain"))
}
