package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequentialSessions generates predictable sandbox session IDs
// ("<prefix>-1", "<prefix>-2", ...) so ledger contents are stable in tests.
//
// Thread-safety: safe for concurrent use.
type SequentialSessions struct {
	prefix string
	n      atomic.Int64
}

// NewSequentialSessions creates a generator. An empty prefix becomes
// "test-session".
func NewSequentialSessions(prefix string) *SequentialSessions {
	if prefix == "" {
		prefix = "test-session"
	}
	return &SequentialSessions{prefix: prefix}
}

// Generate returns the next session ID.
func (g *SequentialSessions) Generate() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.n.Add(1))
}
