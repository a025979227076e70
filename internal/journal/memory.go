// Package journal keeps an append-only record of tracking outcomes.
package journal

import (
	"context"
	"sync"

	"github.com/notionviews/agent/internal/tracking"
)

// Memory provides an in-memory journal for development/testing.
type Memory struct {
	mu      sync.RWMutex
	records []tracking.ViewRecord
}

// NewMemory constructs a Memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends a view record.
func (m *Memory) Record(_ context.Context, record tracking.ViewRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

// Recent returns up to limit records, newest first.
func (m *Memory) Recent(_ context.Context, limit int) ([]tracking.ViewRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.records) {
		limit = len(m.records)
	}
	out := make([]tracking.ViewRecord, 0, limit)
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.records[i])
	}
	return out, nil
}
