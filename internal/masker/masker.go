// Package masker registers sensitive literal strings and redacts them from
// any text that passes through it. Every byte of job output (step logs,
// subprocess streams, diagnostic messages) is filtered here before it
// reaches a handler or the orchestration service.
package masker

import (
	"net/url"
	"sort"
	"strings"
	"sync"
)

// Replacement is what a masked value is rewritten to in output.
const Replacement = "***"

// minSecretLen guards against registering values so short that masking them
// would shred ordinary output (e.g. a one-character "secret").
const minSecretLen = 3

// Masker holds the set of registered secret literals. Safe for concurrent
// use: steps register secrets while the invoker streams output.
type Masker struct {
	mu      sync.RWMutex
	secrets []string
}

// New returns an empty Masker.
func New() *Masker {
	return &Masker{}
}

// Add registers a literal value for redaction. Values shorter than three
// characters are ignored. URL-encoded forms of the value are registered too,
// because credentials embedded in remote URLs surface percent-encoded in
// git's own error output.
func (m *Masker) Add(value string) {
	if len(value) < minSecretLen {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.insert(value)
	if escaped := url.QueryEscape(value); escaped != value {
		m.insert(escaped)
	}
}

// insert adds value keeping the slice sorted longest-first so that
// overlapping secrets mask correctly (the longer match wins). Caller holds
// the write lock.
func (m *Masker) insert(value string) {
	for _, existing := range m.secrets {
		if existing == value {
			return
		}
	}
	m.secrets = append(m.secrets, value)
	sort.Slice(m.secrets, func(i, j int) bool {
		return len(m.secrets[i]) > len(m.secrets[j])
	})
}

// Mask returns s with every registered secret replaced.
func (m *Masker) Mask(s string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, secret := range m.secrets {
		s = strings.ReplaceAll(s, secret, Replacement)
	}
	return s
}

// Len reports how many literals are registered. Used by tests and by the
// sync driver's invariant checks.
func (m *Masker) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets)
}
