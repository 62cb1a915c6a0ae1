package userstore

import (
	"context"
	"sync"
)

// Compile-time assertion: *MemStore satisfies Backend.
var _ Backend = (*MemStore)(nil)

// MemStore implements Backend using Go maps. Thread-safe via sync.RWMutex.
// A separate slice keeps insertion order for List.
type MemStore struct {
	mu       sync.RWMutex
	users    map[int64]User
	byEmail  map[string]int64
	orderIDs []int64
	lastID   int64
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{
		users:   make(map[int64]User),
		byEmail: make(map[string]int64),
	}
}

// InitSchema is a no-op for the in-memory store.
func (m *MemStore) InitSchema(_ context.Context) error {
	return nil
}

// List returns all users in insertion order.
func (m *MemStore) List(_ context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]User, 0, len(m.orderIDs))
	for _, id := range m.orderIDs {
		out = append(out, m.users[id])
	}
	return out, nil
}

// Get returns the user with the given ID, or nil if not found.
func (m *MemStore) Get(_ context.Context, id int64) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// GetByEmail returns the user holding email, or nil if not found.
func (m *MemStore) GetByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byEmail[email]
	if !ok {
		return nil, nil
	}
	u := m.users[id]
	return &u, nil
}

// Insert stores a new user under the next ID. The email check and the write
// happen under one lock.
func (m *MemStore) Insert(_ context.Context, name, email string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byEmail[email]; exists {
		return User{}, ErrConflict
	}
	m.lastID++
	u := User{ID: m.lastID, Name: name, Email: email}
	m.users[u.ID] = u
	m.byEmail[email] = u.ID
	m.orderIDs = append(m.orderIDs, u.ID)
	return u, nil
}

// Replace overwrites an existing user in place, keeping its list position.
func (m *MemStore) Replace(_ context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	old, ok := m.users[u.ID]
	if !ok {
		return ErrNotFound
	}
	if owner, exists := m.byEmail[u.Email]; exists && owner != u.ID {
		return ErrConflict
	}
	delete(m.byEmail, old.Email)
	m.byEmail[u.Email] = u.ID
	m.users[u.ID] = u
	return nil
}

// Delete removes the user with the given ID.
func (m *MemStore) Delete(_ context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return false, nil
	}
	delete(m.users, id)
	delete(m.byEmail, u.Email)
	for i, oid := range m.orderIDs {
		if oid == id {
			m.orderIDs = append(m.orderIDs[:i], m.orderIDs[i+1:]...)
			break
		}
	}
	return true, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error {
	return nil
}
