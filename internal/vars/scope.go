// Package vars implements the hierarchical variable scope bound to execution
// contexts. Each scope overlays its parent: steps see job variables, task
// steps of the same task share one overlay, and writes never leak upward.
package vars

import (
	"sort"
	"strings"
	"sync"

	"github.com/vk/rigrunner/internal/masker"
)

// Scope is a name→value mapping with secret tracking. Lookup falls through
// to the parent scope; Set always writes the local layer.
type Scope struct {
	mu      sync.RWMutex
	parent  *Scope
	values  map[string]string
	secrets map[string]struct{}
	masker  *masker.Masker
}

// NewScope creates a root scope. Secret values set on this scope or any
// child are registered with m so all job output redacts them.
func NewScope(m *masker.Masker) *Scope {
	return &Scope{
		values:  map[string]string{},
		secrets: map[string]struct{}{},
		masker:  m,
	}
}

// NewChild creates an overlay scope sharing the parent's masker.
func (s *Scope) NewChild() *Scope {
	return &Scope{
		parent:  s,
		values:  map[string]string{},
		secrets: map[string]struct{}{},
		masker:  s.masker,
	}
}

// Get resolves name in this scope or any ancestor. Names are
// case-insensitive, matching how build variables are addressed.
func (s *Scope) Get(name string) (string, bool) {
	key := strings.ToLower(name)
	for scope := s; scope != nil; scope = scope.parent {
		scope.mu.RLock()
		value, ok := scope.values[key]
		scope.mu.RUnlock()
		if ok {
			return value, true
		}
	}
	return "", false
}

// Set stores a plain value in the local layer.
func (s *Scope) Set(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[strings.ToLower(name)] = value
}

// SetSecret stores a value and registers it for masking.
func (s *Scope) SetSecret(name, value string) {
	s.mu.Lock()
	s.values[strings.ToLower(name)] = value
	s.secrets[strings.ToLower(name)] = struct{}{}
	s.mu.Unlock()

	if s.masker != nil {
		s.masker.Add(value)
	}
}

// IsSecret reports whether name was set as a secret in this scope or any
// ancestor.
func (s *Scope) IsSecret(name string) bool {
	key := strings.ToLower(name)
	for scope := s; scope != nil; scope = scope.parent {
		scope.mu.RLock()
		_, ok := scope.secrets[key]
		scope.mu.RUnlock()
		if ok {
			return true
		}
	}
	return false
}

// Names returns the sorted set of variable names visible from this scope.
func (s *Scope) Names() []string {
	seen := map[string]struct{}{}
	for scope := s; scope != nil; scope = scope.parent {
		scope.mu.RLock()
		for name := range scope.values {
			seen[name] = struct{}{}
		}
		scope.mu.RUnlock()
	}

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
