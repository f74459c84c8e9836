// Package locate finds the output directory a pipeline stage produced under a
// shared output root.
//
// Two strategies are offered. Latest picks the most recently modified
// directory whose name contains a marker ("extract", "select"); equal
// modification times fall back to the lexicographically largest name. ByToken
// requires the directory name to also contain the run token the stage was
// handed, which removes the dependence on timestamps entirely.
package locate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is matched by errors.Is for every *NotFoundError.
var ErrNotFound = errors.New("no matching output directory")

// NotFoundError is returned when no directory matches.
type NotFoundError struct {
	Root   string
	Marker string
	Token  string
}

func (e *NotFoundError) Error() string {
	if e.Token != "" {
		return fmt.Sprintf("%v under %s (marker %q, token %q)", ErrNotFound, e.Root, e.Marker, e.Token)
	}
	return fmt.Sprintf("%v under %s (marker %q)", ErrNotFound, e.Root, e.Marker)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// AmbiguousError is returned by ByToken when several directories carry the
// same token.
type AmbiguousError struct {
	Root       string
	Marker     string
	Token      string
	Candidates []string
}

func (e *AmbiguousError) Error() string {
	return fmt.Sprintf("%d directories under %s match marker %q and token %q: %s",
		len(e.Candidates), e.Root, e.Marker, e.Token, strings.Join(e.Candidates, ", "))
}

// Candidate is a directory considered by the locator.
type Candidate struct {
	Path    string
	Name    string
	ModTime time.Time
}

// Candidates lists the directories directly under root whose name contains
// marker. Symlinks to directories count; hidden entries do not.
func Candidates(root, marker string) ([]Candidate, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("list output root: %w", err)
	}

	var out []Candidate
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || !strings.Contains(name, marker) {
			continue
		}
		path := filepath.Join(root, name)
		info, err := os.Stat(path)
		if err != nil {
			// Dangling symlink or entry removed since ReadDir.
			continue
		}
		if !info.IsDir() {
			continue
		}
		out = append(out, Candidate{Path: path, Name: name, ModTime: info.ModTime()})
	}
	return out, nil
}

// Latest returns the newest directory under root whose name contains marker.
func Latest(root, marker string) (string, error) {
	cands, err := Candidates(root, marker)
	if err != nil {
		return "", err
	}
	if len(cands) == 0 {
		return "", &NotFoundError{Root: root, Marker: marker}
	}

	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].ModTime.Equal(cands[j].ModTime) {
			return cands[i].ModTime.Before(cands[j].ModTime)
		}
		return cands[i].Name < cands[j].Name
	})
	return cands[len(cands)-1].Path, nil
}

// ByToken returns the single directory under root whose name contains both
// marker and token.
func ByToken(root, marker, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("locate %s: empty run token", marker)
	}
	cands, err := Candidates(root, marker)
	if err != nil {
		return "", err
	}

	var matched []string
	for _, c := range cands {
		if strings.Contains(c.Name, token) {
			matched = append(matched, c.Path)
		}
	}
	switch len(matched) {
	case 0:
		return "", &NotFoundError{Root: root, Marker: marker, Token: token}
	case 1:
		return matched[0], nil
	default:
		sort.Strings(matched)
		return "", &AmbiguousError{Root: root, Marker: marker, Token: token, Candidates: matched}
	}
}
