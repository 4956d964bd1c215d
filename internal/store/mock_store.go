// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	commands []*CommandRecord // append order
	closed   bool

	// RecordErr, when set, is returned by RecordCommand.
	RecordErr error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// RecordCommand appends a copy of rec.
func (m *MockStore) RecordCommand(ctx context.Context, rec *CommandRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecordErr != nil {
		return m.RecordErr
	}
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now().UTC()
	}

	// Make a copy to avoid external modification
	r := *rec
	m.commands = append(m.commands, &r)
	return nil
}

// ListCommands returns copies of matching records, newest first.
func (m *MockStore) ListCommands(ctx context.Context, f CommandFilter) ([]*CommandRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limit := normalizeLimit(f.Limit)
	out := []*CommandRecord{}
	for i := len(m.commands) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.commands[i]
		if f.Node != "" && rec.Node != f.Node {
			continue
		}
		r := *rec
		out = append(out, &r)
	}
	return out, nil
}

// GetCommand returns the most recent record for a correlation id.
func (m *MockStore) GetCommand(ctx context.Context, commandID string) (*CommandRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := len(m.commands) - 1; i >= 0; i-- {
		if m.commands[i].CommandID == commandID {
			r := *m.commands[i]
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// Close marks the store closed.
func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Commands returns copies of every record in insertion order.
func (m *MockStore) Commands() []CommandRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]CommandRecord, len(m.commands))
	for i, rec := range m.commands {
		out[i] = *rec
	}
	return out
}

// Closed reports whether Close was called.
func (m *MockStore) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Ensure MockStore implements Store
var _ Store = (*MockStore)(nil)
