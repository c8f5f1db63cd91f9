package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MockStorage is an in-memory implementation of Storage for testing.
type MockStorage struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	pingError error
}

// Ensure MockStorage implements Storage interface
var _ Storage = (*MockStorage)(nil)

// NewMockStorage creates a new mock storage
func NewMockStorage() *MockStorage {
	return &MockStorage{
		sessions: make(map[uuid.UUID]*Session),
	}
}

// SetPingError configures the mock to fail on ping with the given error
func (m *MockStorage) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingError = err
}

// Ping mocks storage ping
func (m *MockStorage) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pingError
}

// Close mocks storage close
func (m *MockStorage) Close() error {
	return nil
}

// SaveSession stores a session in memory
func (m *MockStorage) SaveSession(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session cannot be nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	session.UpdatedAt = time.Now()
	m.sessions[session.ID] = session
	return nil
}

// LoadSession returns a stored session, or (nil, nil) when not found
func (m *MockStorage) LoadSession(ctx context.Context, id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	session, exists := m.sessions[id]
	if !exists {
		return nil, nil
	}
	return session, nil
}

// DeleteSession removes a stored session
func (m *MockStorage) DeleteSession(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}
