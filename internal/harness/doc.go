// Package harness runs end-to-end regression workflows against the extract
// and select stages of a bioacoustic classification pipeline.
//
// # Workflow Format
//
// Workflows are defined in YAML files with the following structure:
//
//	name: main_workflow
//	description: "typical extract -> select workflow"
//	config_dir: ../configs
//	order: reverse            # or: declared
//	correlate: mtime          # or: token (stage commands must pass {token})
//	strict_placeholders: false
//	fail_fast: false
//	extract_stage: hvc-extract {config}
//	select_stage: hvc-select {config}
//	scenarios:
//	  - extract: test_extract_knn.config.yml
//	    select:
//	      - test_select_knn_ftr_list_inds.config.yml
//	      - test_select_knn_ftr_grp.config.yml
//
// Unknown fields are rejected. Template paths resolve against config_dir,
// which itself resolves against the workflow file's directory.
//
// # Scenario Execution
//
// For each scenario, in declared order:
//
//  1. The extract template is materialized with the output root substituted
//     on its output_dir line, and the extract stage is invoked.
//  2. The stage's output directory is located under the output root and
//     validated (validate.Validator.Extraction).
//  3. Each select template is materialized with the summary feature file and
//     the output root substituted, the select stage is invoked, and its output
//     directory is located and validated (validate.Validator.Selection).
//
// Materialized configs are removed after each stage on every path. The first
// error aborts the scenario; later scenarios still run unless fail_fast is set.
//
// # Deterministic Testing
//
// Runner takes a TokenGenerator and a Sequencer, so tests substitute
// testutil.SequenceTokens and testutil.DeterministicClock. Result.Report
// drops tokens, absolute paths and durations; RunWithGolden compares it
// against testdata/golden/{name}.golden.
package harness
