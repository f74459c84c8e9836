package testutil

import (
	"fmt"
	"sync"
)

// SequenceTokens hands out run tokens "<prefix>-0001", "<prefix>-0002", ...
//
// Stage output directories embed the token, so deterministic tokens give
// deterministic directory names and stable golden reports. Satisfies
// harness.TokenGenerator.
type SequenceTokens struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceTokens creates a generator. An empty prefix becomes "run".
func NewSequenceTokens(prefix string) *SequenceTokens {
	if prefix == "" {
		prefix = "run"
	}
	return &SequenceTokens{prefix: prefix}
}

// Generate returns the next token.
func (g *SequenceTokens) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Issued returns how many tokens were handed out.
func (g *SequenceTokens) Issued() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}
