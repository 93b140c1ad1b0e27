package jobstore

import (
	"context"
	"sync"

	"github.com/clincite/clincite/internal/job"
)

// MemoryTier is the in-process cache tier. It is always configured and
// protects its map with a mutex; cross-process consistency comes from the
// durable tiers, not from here.
type MemoryTier struct {
	mu   sync.RWMutex
	recs map[string]*job.Record
}

// NewMemoryTier creates an empty in-process tier.
func NewMemoryTier() *MemoryTier {
	return &MemoryTier{recs: make(map[string]*job.Record)}
}

func (m *MemoryTier) Name() string { return "memory" }

func (m *MemoryTier) Write(_ context.Context, rec *job.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.ID] = clone(rec)
	return nil
}

func (m *MemoryTier) Read(_ context.Context, id string) (*job.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.recs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

// Len returns the number of cached records. Used by tests.
func (m *MemoryTier) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}
