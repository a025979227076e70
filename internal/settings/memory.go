// Package settings persists the agent settings blob.
package settings

import (
	"context"
	"sync"

	"github.com/notionviews/agent/internal/tracking"
)

// MemoryStore provides an in-memory implementation for development/testing.
type MemoryStore struct {
	mu       sync.RWMutex
	settings tracking.Settings
}

// NewMemoryStore constructs a MemoryStore seeded with the given defaults.
func NewMemoryStore(defaults tracking.Settings) *MemoryStore {
	return &MemoryStore{settings: defaults}
}

// Load returns the current settings.
func (s *MemoryStore) Load(_ context.Context) (tracking.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings, nil
}

// Save overwrites the settings wholesale.
func (s *MemoryStore) Save(_ context.Context, settings tracking.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = settings
	return nil
}
