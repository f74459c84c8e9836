// Package rewrite materializes pipeline config templates by substituting
// run-time values for placeholder literals.
//
// Substitution is line oriented. A Substitution names a Match token; on every
// line containing that token, each occurrence of Placeholder is replaced by
// Value. Lines without a match pass through untouched, terminators included.
//
//	subs := []rewrite.Substitution{
//	    {Match: "output_dir", Placeholder: "replace with tmp_output_dir", Value: root},
//	}
//	report, err := rewrite.Rewrite("extract.config.yml", "extract.config.rewrite.yml", subs)
//
// The source file is never modified. By default a substitution that matches
// no line is a no-op; pass Strict() to turn that into an *UnmatchedError.
package rewrite

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Substitution replaces Placeholder with Value on lines containing Match.
type Substitution struct {
	Match       string
	Placeholder string
	Value       string
}

// Report counts rewritten lines per substitution, in substitution order.
type Report struct {
	Source      string
	Destination string
	Lines       []int
}

// Unmatched returns the substitutions that rewrote no line.
func (r *Report) Unmatched(subs []Substitution) []Substitution {
	var out []Substitution
	for i, n := range r.Lines {
		if n == 0 && i < len(subs) {
			out = append(out, subs[i])
		}
	}
	return out
}

// ErrUnmatched is matched by errors.Is for every *UnmatchedError.
var ErrUnmatched = errors.New("placeholder not substituted")

// UnmatchedError is returned in strict mode when a substitution's Match token
// (or its Placeholder on the matched lines) never occurs in the source.
type UnmatchedError struct {
	Source string
	Subs   []Substitution
}

func (e *UnmatchedError) Error() string {
	parts := make([]string, len(e.Subs))
	for i, s := range e.Subs {
		parts[i] = fmt.Sprintf("%s=%q", s.Match, s.Placeholder)
	}
	return fmt.Sprintf("%s: %v: %s", e.Source, ErrUnmatched, strings.Join(parts, ", "))
}

func (e *UnmatchedError) Unwrap() error { return ErrUnmatched }

type options struct {
	strict bool
}

// Option configures Rewrite and Materialize.
type Option func(*options)

// Strict fails the rewrite when a substitution changes no line.
func Strict() Option {
	return func(o *options) { o.strict = true }
}

// StrictIf is Strict when on is true.
func StrictIf(on bool) Option {
	return func(o *options) { o.strict = o.strict || on }
}

// Rewrite reads src, applies subs and writes the result to dst.
func Rewrite(src, dst string, subs []Substitution, opts ...Option) (*Report, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if filepath.Clean(src) == filepath.Clean(dst) {
		return nil, fmt.Errorf("rewrite %s: destination must differ from source", src)
	}

	for i, sub := range subs {
		if sub.Placeholder == "" {
			return nil, fmt.Errorf("rewrite %s: substitution %d (%s): empty placeholder", src, i, sub.Match)
		}
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("rewrite: read template: %w", err)
	}

	out, counts := apply(string(data), subs)
	report := &Report{Source: src, Destination: dst, Lines: counts}

	if o.strict {
		if missing := report.Unmatched(subs); len(missing) > 0 {
			return nil, &UnmatchedError{Source: src, Subs: missing}
		}
	}

	if err := os.WriteFile(dst, []byte(out), 0644); err != nil {
		return nil, fmt.Errorf("rewrite: write %s: %w", dst, err)
	}
	return report, nil
}

// apply runs every substitution over the lines of text. Lines keep their
// original terminators so untouched lines round-trip exactly. A line is
// compared in its stored form first and in NFC only when that fails; it is
// rewritten in whichever form matched.
func apply(text string, subs []Substitution) (string, []int) {
	lines := strings.SplitAfter(text, "\n")
	counts := make([]int, len(subs))

	for i, s := range subs {
		nfcMatch := norm.NFC.String(s.Match)
		nfcPlaceholder := norm.NFC.String(s.Placeholder)
		for j, line := range lines {
			placeholder := s.Placeholder
			if !strings.Contains(line, s.Match) || !strings.Contains(line, placeholder) {
				nfc := norm.NFC.String(line)
				if !strings.Contains(nfc, nfcMatch) || !strings.Contains(nfc, nfcPlaceholder) {
					continue
				}
				line, placeholder = nfc, nfcPlaceholder
			}
			lines[j] = strings.ReplaceAll(line, placeholder, s.Value)
			counts[i]++
		}
	}
	return strings.Join(lines, ""), counts
}
