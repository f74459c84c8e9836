// Package stage invokes the external pipeline stages (feature extraction and
// model selection) and the model folder-naming collaborator.
//
// A stage consumes one materialized config file and writes a new output
// directory under the output root. Invocations block until the stage returns.
package stage

import (
	"context"
	"fmt"
)

// Kind identifies a pipeline stage.
type Kind string

const (
	KindExtract Kind = "extract"
	KindSelect  Kind = "select"
)

// Marker is the substring every output directory of the stage carries.
func (k Kind) Marker() string { return string(k) }

// Invocation is a single stage call.
type Invocation struct {
	Kind       Kind
	ConfigPath string
	OutputRoot string
	// RunToken correlates the call with the directory it produces. Stages that
	// support correlation embed it in the output directory name.
	RunToken string
}

// Stage runs one pipeline stage to completion.
type Stage interface {
	Run(ctx context.Context, inv Invocation) error
}

// Func adapts an ordinary function to the Stage interface.
type Func func(ctx context.Context, inv Invocation) error

// Run calls f.
func (f Func) Run(ctx context.Context, inv Invocation) error {
	return f(ctx, inv)
}

// Error wraps a failure reported by a stage.
type Error struct {
	Kind   Kind
	Config string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s stage failed for %s: %v", e.Kind, e.Config, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
