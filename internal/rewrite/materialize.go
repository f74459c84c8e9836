package rewrite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Materialized is a single-use config produced from a template.
// Close removes it; it is safe to call Close more than once.
type Materialized struct {
	Path   string
	Report *Report
	closed bool
}

// MaterializedName returns the file name a template is materialized under:
// "extract.config.yml" becomes "extract.config.rewrite.yml".
func MaterializedName(template string) string {
	base := filepath.Base(template)
	ext := filepath.Ext(base)
	return strings.TrimSuffix(base, ext) + ".rewrite" + ext
}

// Materialize rewrites template into dir and returns a handle owning the
// written file.
func Materialize(template, dir string, subs []Substitution, opts ...Option) (*Materialized, error) {
	if dir == "" {
		dir = filepath.Dir(template)
	}
	dst := filepath.Join(dir, MaterializedName(template))

	report, err := Rewrite(template, dst, subs, opts...)
	if err != nil {
		return nil, err
	}
	return &Materialized{Path: dst, Report: report}, nil
}

// Close deletes the materialized file. A file already gone is not an error.
func (m *Materialized) Close() error {
	if m == nil || m.closed {
		return nil
	}
	m.closed = true
	if err := os.Remove(m.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove materialized config: %w", err)
	}
	return nil
}
