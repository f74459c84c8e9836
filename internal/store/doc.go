// Package store provides the SQLite-backed run ledger.
//
// Every workflow run is recorded in workflow_runs and every stage
// invocation in stage_runs, keyed by the run's correlation token.
//
// # Ordering
//
// All ordering uses seq INTEGER (the harness's logical clock), never
// timestamps. Queries include ORDER BY seq ASC, id ASC COLLATE BINARY so
// history output is identical across machines. A new run resumes the clock
// from LastSeq.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: stage_runs.run_id must reference a workflow run
package store
