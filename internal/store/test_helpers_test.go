package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh ledger in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// beginTestRun records a workflow run with minimal fields.
func beginTestRun(t *testing.T, s *Store, id string, seq int64) {
	t.Helper()
	err := s.BeginRun(context.Background(), WorkflowRun{
		ID:         id,
		Workflow:   "main",
		OutputRoot: "/tmp/out",
		Seq:        seq,
	})
	if err != nil {
		t.Fatalf("BeginRun(%q) failed: %v", id, err)
	}
}

// createTestStageRun builds a passed stage record.
func createTestStageRun(id, runID string, seq int64) StageRun {
	return StageRun{
		ID:         id,
		RunID:      runID,
		Seq:        seq,
		Scenario:   "knn",
		Stage:      "extract",
		ConfigPath: "test_extract_knn.config.rewrite.yml",
		OutputDir:  "/tmp/out/extract_output_" + runID,
		Status:     StatusPassed,
		DurationMS: 12,
	}
}
