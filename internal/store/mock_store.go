// ABOUTME: Mock PairingStore implementation for testing
// ABOUTME: In-memory records with optional error injection for fault-path tests

package store

import (
	"context"
	"sync"
	"time"
)

// MockPairingStore is an in-memory PairingStore implementation for testing.
// Set FailWith to make every method return that error, which lets handler
// tests exercise the transient-fault path without a broken database.
type MockPairingStore struct {
	mu       sync.RWMutex
	pairings map[string]*PairingRecord // keyed by device ID

	// FailWith, when non-nil, is returned by every method.
	FailWith error
}

// NewMockPairingStore creates a new MockPairingStore.
func NewMockPairingStore() *MockPairingStore {
	return &MockPairingStore{
		pairings: make(map[string]*PairingRecord),
	}
}

var _ PairingStore = (*MockPairingStore)(nil)

// CreatePairing stores a new pending record.
func (m *MockPairingStore) CreatePairing(ctx context.Context, rec *PairingRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	if _, exists := m.pairings[rec.DeviceID]; exists {
		return ErrAlreadyExists
	}
	// Make a copy to avoid external modification
	r := *rec
	r.Status = PairingStatusPending
	m.pairings[r.DeviceID] = &r
	return nil
}

// GetPairing retrieves a record by device ID.
func (m *MockPairingStore) GetPairing(ctx context.Context, deviceID string) (*PairingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	rec, ok := m.pairings[deviceID]
	if !ok {
		return nil, ErrNotFound
	}
	r := *rec
	return &r, nil
}

// GetPairingByToken retrieves the active record holding the token.
func (m *MockPairingStore) GetPairingByToken(ctx context.Context, token string) (*PairingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	for _, rec := range m.pairings {
		if rec.Status == PairingStatusActive && rec.DeviceToken != nil && *rec.DeviceToken == token {
			r := *rec
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// ConfirmPairing transitions pending→active under the store lock.
func (m *MockPairingStore) ConfirmPairing(ctx context.Context, deviceID, token, label string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	rec, ok := m.pairings[deviceID]
	if !ok {
		return ErrNotFound
	}
	switch rec.Status {
	case PairingStatusActive:
		return ErrAlreadyActive
	case PairingStatusRevoked:
		return ErrRevoked
	}
	now := time.Now()
	rec.Status = PairingStatusActive
	rec.DeviceToken = &token
	rec.Label = label
	rec.ConfirmedAt = &now
	return nil
}

// RevokePairing transitions pending|active→revoked and clears the token.
func (m *MockPairingStore) RevokePairing(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	rec, ok := m.pairings[deviceID]
	if !ok {
		return ErrNotFound
	}
	if rec.Status == PairingStatusRevoked {
		return ErrInvalidTransition
	}
	rec.Status = PairingStatusRevoked
	rec.DeviceToken = nil
	return nil
}

// TouchLastSeen updates last_seen_at.
func (m *MockPairingStore) TouchLastSeen(ctx context.Context, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return m.FailWith
	}
	rec, ok := m.pairings[deviceID]
	if !ok {
		return ErrNotFound
	}
	rec.LastSeenAt = time.Now()
	return nil
}

// ListPendingPairings returns all pending records.
func (m *MockPairingStore) ListPendingPairings(ctx context.Context) ([]*PairingRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.FailWith != nil {
		return nil, m.FailWith
	}
	var recs []*PairingRecord
	for _, rec := range m.pairings {
		if rec.Status == PairingStatusPending {
			r := *rec
			recs = append(recs, &r)
		}
	}
	return recs, nil
}

// DeleteStalePendingPairings removes pending records idle since the cutoff.
func (m *MockPairingStore) DeleteStalePendingPairings(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return 0, m.FailWith
	}
	var deleted int64
	for id, rec := range m.pairings {
		if rec.Status == PairingStatusPending && !rec.LastSeenAt.After(cutoff) {
			delete(m.pairings, id)
			deleted++
		}
	}
	return deleted, nil
}
