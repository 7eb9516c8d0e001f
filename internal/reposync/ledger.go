package reposync

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

// configEntry is one transient git-config mutation applied during a run.
type configEntry struct {
	key   string
	value string
}

// ConfigLedger records every config mutation so cleanup can revert each one
// precisely. Recording happens before the mutation is applied: a partial
// failure must still leave a reversal scheduled.
type ConfigLedger struct {
	mu      sync.Mutex
	entries []configEntry
}

// Record notes that key was (or is about to be) set to value.
func (l *ConfigLedger) Record(key, value string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, configEntry{key: key, value: value})
}

// Entries returns a copy of the recorded mutations in application order.
func (l *ConfigLedger) Entries() []configEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]configEntry{}, l.entries...)
}

// Len reports how many mutations are recorded.
func (l *ConfigLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// patchConfigFile is the last-resort reversal: rewrite the on-disk config
// with every line containing the secret value removed. Structured unset
// failed, and an embedded credential must never survive the job.
func patchConfigFile(path, value string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s for credential scrub: %w", path, err)
	}

	lines := strings.Split(string(raw), "\n")
	kept := lines[:0]
	removed := 0
	for _, line := range lines {
		if value != "" && strings.Contains(line, value) {
			removed++
			continue
		}
		kept = append(kept, line)
	}
	if removed == 0 {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(kept, "\n")), info.Mode().Perm()); err != nil {
		return fmt.Errorf("rewriting %s: %w", path, err)
	}
	return nil
}
