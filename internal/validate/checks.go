package validate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/roach88/hvcflow/internal/artifact"
)

// checkMatrices requires every artifact to be a matrix whose rows match its
// labels, with one shared column count. Returns that column count.
func checkMatrices(arts []artifact.Artifact) (int, error) {
	cols := -1
	var first string
	for _, a := range arts {
		m, ok := a.(*artifact.MatrixArtifact)
		if !ok {
			return 0, &InvariantError{
				Check:    CheckMatrixMode,
				Artifact: name(a),
				Expected: "a features matrix, like the other artifacts of this run",
				Actual:   fmt.Sprintf("%s representation", a.Mode()),
			}
		}
		if m.Rows() != len(m.Labels()) {
			return 0, &InvariantError{
				Check:    CheckMatrixRows,
				Artifact: name(a),
				Expected: fmt.Sprintf("%d feature rows (one per label)", len(m.Labels())),
				Actual:   fmt.Sprintf("%d rows", m.Rows()),
			}
		}
		if cols == -1 {
			cols, first = m.Cols(), name(a)
			continue
		}
		if m.Cols() != cols {
			return 0, &InvariantError{
				Check:    CheckMatrixCols,
				Artifact: name(a),
				Expected: fmt.Sprintf("%d columns (as in %s)", cols, first),
				Actual:   fmt.Sprintf("%d columns", m.Cols()),
			}
		}
	}
	return cols, nil
}

// checkTensorDicts requires every artifact to be a tensor dict with the same
// key set, each tensor's leading dimension matching the labels. Returns the
// shared key set, sorted.
func checkTensorDicts(arts []artifact.Artifact) ([]string, error) {
	var keys []string
	var first string
	for _, a := range arts {
		td, ok := a.(*artifact.TensorDictArtifact)
		if !ok {
			return nil, &InvariantError{
				Check:    CheckTensorMode,
				Artifact: name(a),
				Expected: "a " + artifact.KeyTensors + ", like the other artifacts of this run",
				Actual:   fmt.Sprintf("%s representation", a.Mode()),
			}
		}
		if keys == nil {
			keys, first = td.Keys(), name(a)
		} else if !equalStrings(keys, td.Keys()) {
			return nil, &InvariantError{
				Check:    CheckTensorKeys,
				Artifact: name(a),
				Expected: fmt.Sprintf("tensor keys %v (as in %s)", keys, first),
				Actual:   fmt.Sprintf("tensor keys %v", td.Keys()),
			}
		}
		for _, key := range td.Keys() {
			if rows := td.Inputs[key].Rows(); rows != len(td.Labels()) {
				return nil, &InvariantError{
					Check:    CheckTensorRows,
					Artifact: name(a),
					Expected: fmt.Sprintf("%s leading dimension %d (one per label)", key, len(td.Labels())),
					Actual:   fmt.Sprintf("%d", rows),
				}
			}
		}
	}
	if keys == nil {
		keys = []string{}
	}
	return keys, nil
}

// checkMatrixSummary requires the summary matrix to hold exactly the sum of
// the per-artifact rows.
func checkMatrixSummary(summary artifact.Artifact, arts []artifact.Artifact) (int, error) {
	sm, ok := summary.(*artifact.MatrixArtifact)
	if !ok {
		return 0, &InvariantError{
			Check:    CheckSummaryMode,
			Artifact: name(summary),
			Expected: "a features matrix",
			Actual:   fmt.Sprintf("%s representation", summary.Mode()),
		}
	}
	total := 0
	for _, a := range arts {
		total += a.(*artifact.MatrixArtifact).Rows()
	}
	if sm.Rows() != total {
		return 0, &InvariantError{
			Check:    CheckSummaryRows,
			Artifact: name(summary),
			Expected: fmt.Sprintf("%d rows (sum over %d feature files)", total, len(arts)),
			Actual:   fmt.Sprintf("%d rows", sm.Rows()),
		}
	}
	return sm.Rows(), nil
}

// checkTensorSummary requires the summary to carry the shared key set and,
// per key, a leading dimension equal to the sum over all artifacts.
func checkTensorSummary(summary artifact.Artifact, arts []artifact.Artifact, keys []string) (map[string]int, error) {
	st, ok := summary.(*artifact.TensorDictArtifact)
	if !ok {
		return nil, &InvariantError{
			Check:    CheckSummaryMode,
			Artifact: name(summary),
			Expected: "a " + artifact.KeyTensors,
			Actual:   fmt.Sprintf("%s representation", summary.Mode()),
		}
	}
	if !equalStrings(keys, st.Keys()) {
		return nil, &InvariantError{
			Check:    CheckSummaryKeys,
			Artifact: name(summary),
			Expected: fmt.Sprintf("tensor keys %v", keys),
			Actual:   fmt.Sprintf("tensor keys %v", st.Keys()),
		}
	}

	rows := make(map[string]int, len(keys))
	for _, key := range keys {
		total := 0
		for _, a := range arts {
			total += a.(*artifact.TensorDictArtifact).Inputs[key].Rows()
		}
		got := st.Inputs[key].Rows()
		if got != total {
			return nil, &InvariantError{
				Check:    CheckSummaryTensorRows,
				Artifact: name(summary),
				Expected: fmt.Sprintf("%s leading dimension %d (sum over %d feature files)", key, total, len(arts)),
				Actual:   fmt.Sprintf("%d", got),
			}
		}
		rows[key] = got
	}
	return rows, nil
}

func statOf(a artifact.Artifact) ArtifactStat {
	s := ArtifactStat{Name: name(a), Mode: a.Mode(), Labels: len(a.Labels())}
	switch v := a.(type) {
	case *artifact.MatrixArtifact:
		s.Rows = v.Rows()
	case *artifact.TensorDictArtifact:
		s.Tensor = make(map[string]int, len(v.Inputs))
		for k, arr := range v.Inputs {
			s.Tensor[k] = arr.Rows()
		}
	}
	return s
}

// subdirectories returns the names of the directories directly under dir,
// following symlinks.
func subdirectories(dir string) (map[string]bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list selection output: %w", err)
	}
	out := make(map[string]bool)
	for _, e := range entries {
		if e.IsDir() {
			out[e.Name()] = true
			continue
		}
		if e.Type()&os.ModeSymlink != 0 {
			if info, err := os.Stat(filepath.Join(dir, e.Name())); err == nil && info.IsDir() {
				out[e.Name()] = true
			}
		}
	}
	return out, nil
}

func name(a artifact.Artifact) string {
	if a.Source() == "" {
		return "<memory>"
	}
	return filepath.Base(a.Source())
}

func baseNames(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = filepath.Base(p)
	}
	return out
}

func folderNames(models []ModelFolder) []string {
	out := make([]string, len(models))
	for i, m := range models {
		out[i] = m.Folder
	}
	return out
}

func sortedSet(set map[string]bool) string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return "[" + strings.Join(keys, " ") + "]"
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
