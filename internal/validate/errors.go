package validate

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDiscovery is matched by errors.Is for every *DiscoveryError.
var ErrDiscovery = errors.New("artifact discovery failed")

// ErrInvariant is matched by errors.Is for every *InvariantError.
var ErrInvariant = errors.New("structural invariant violated")

// DiscoveryError is returned when a file pattern that must match exactly once
// (or at least once) matched a different number of files.
type DiscoveryError struct {
	Dir     string
	Pattern string
	Want    string // "exactly one", "at least one"
	Found   []string
}

func (e *DiscoveryError) Error() string {
	msg := fmt.Sprintf("%v: expected %s %s in %s, found %d", ErrDiscovery, e.Want, e.Pattern, e.Dir, len(e.Found))
	if len(e.Found) > 0 {
		msg += ": " + strings.Join(e.Found, ", ")
	}
	return msg
}

func (e *DiscoveryError) Unwrap() error { return ErrDiscovery }

// InvariantError describes an artifact whose shape disagrees with its peers,
// its labels or the run summary.
type InvariantError struct {
	Check    string // short check identifier, e.g. "matrix_rows"
	Artifact string // file the violation was found in
	Expected string
	Actual   string
}

func (e *InvariantError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "invariant failed: %s", e.Check)
	if e.Artifact != "" {
		fmt.Fprintf(&buf, " (%s)", e.Artifact)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

func (e *InvariantError) Unwrap() error { return ErrInvariant }

// Check identifiers used in InvariantError.Check.
const (
	CheckMatrixMode        = "matrix_mode"
	CheckMatrixRows        = "matrix_rows"
	CheckMatrixCols        = "matrix_cols"
	CheckTensorMode        = "tensor_mode"
	CheckTensorKeys        = "tensor_keys"
	CheckTensorRows        = "tensor_rows"
	CheckSummaryMode       = "summary_mode"
	CheckSummaryRows       = "summary_rows"
	CheckSummaryKeys       = "summary_keys"
	CheckSummaryTensorRows = "summary_tensor_rows"
	CheckModelFolders      = "model_folders"
)
