package ledger

import (
	"context"
	"fmt"
	"sync"

	"github.com/txn2/config-store/pkg/backend"
)

// Memory is an in-process Ledger. It is the default index when no
// database is configured, and being derived it loses nothing on restart:
// the engine rebuilds it from backend history on demand.
type Memory struct {
	mu      sync.RWMutex
	records map[string][]VersionRecord
}

// NewMemory creates an empty in-process ledger.
func NewMemory() *Memory {
	return &Memory{records: make(map[string][]VersionRecord)}
}

func key(project, name string) string {
	return project + "/" + name
}

// Record appends a version entry for the config.
func (m *Memory) Record(_ context.Context, project, name string, rec VersionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(project, name)
	for _, existing := range m.records[k] {
		if existing.ID == rec.ID {
			return fmt.Errorf("%w: %s for %s", ErrDuplicateVersion, rec.ID, k)
		}
	}
	m.records[k] = append(m.records[k], rec)
	return nil
}

// List returns all versions oldest to newest.
func (m *Memory) List(_ context.Context, project, name string) ([]VersionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs, ok := m.records[key(project, name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, project, name)
	}
	out := make([]VersionRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// Latest returns the newest record.
func (m *Memory) Latest(_ context.Context, project, name string) (VersionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.records[key(project, name)]
	if len(recs) == 0 {
		return VersionRecord{}, fmt.Errorf("%w: %s/%s", ErrNotFound, project, name)
	}
	return recs[len(recs)-1], nil
}

// Exists reports whether the config has any recorded history.
func (m *Memory) Exists(_ context.Context, project, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records[key(project, name)]) > 0, nil
}

// Rebuild replaces the config's index with records derived from backend
// history.
func (m *Memory) Rebuild(_ context.Context, project, name string, commits []backend.Commit) error {
	recs := make([]VersionRecord, 0, len(commits))
	for _, c := range commits {
		recs = append(recs, FromCommit(c))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[key(project, name)] = recs
	return nil
}

var _ Ledger = (*Memory)(nil)
