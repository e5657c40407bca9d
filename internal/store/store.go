// ABOUTME: Store interface and data types for pulse-gateway persistence
// ABOUTME: Defines PairingRecord, operator types and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when trying to register a device ID that already has a record
var ErrAlreadyExists = errors.New("pairing already exists")

// ErrAlreadyActive is returned when confirming a pairing that another actor already confirmed
var ErrAlreadyActive = errors.New("pairing already active")

// ErrRevoked is returned when confirming a pairing that has been revoked
var ErrRevoked = errors.New("pairing revoked")

// ErrInvalidTransition is returned for any state change attempted on a revoked record
var ErrInvalidTransition = errors.New("invalid pairing state transition")

// PairingStatus represents the state of a pairing record
type PairingStatus string

const (
	PairingStatusPending PairingStatus = "pending"
	PairingStatusActive  PairingStatus = "active"
	PairingStatusRevoked PairingStatus = "revoked"
)

// PairingRecord is the durable state for one device identity's attempt
// to associate with an account. The device token is set exactly once,
// on the pending→active transition, and cleared on revocation.
type PairingRecord struct {
	DeviceID    string
	Status      PairingStatus
	DeviceToken *string // set iff Status == PairingStatusActive
	DisplayName string  // client-supplied at registration
	DeviceClass string  // client-supplied at registration (e.g. "mac", "ios")
	Label       string  // human-chosen at confirmation, overrides DisplayName for display
	CreatedAt   time.Time
	ConfirmedAt *time.Time
	LastSeenAt  time.Time
}

// PairingStore defines operations on pairing records. Status and token are
// only ever written through CreatePairing, ConfirmPairing and RevokePairing.
type PairingStore interface {
	// CreatePairing inserts a new pending record. Returns ErrAlreadyExists
	// if any record (including a revoked one) holds the device ID.
	CreatePairing(ctx context.Context, rec *PairingRecord) error

	// GetPairing retrieves a record by device ID.
	GetPairing(ctx context.Context, deviceID string) (*PairingRecord, error)

	// GetPairingByToken retrieves the active record holding the given device token.
	GetPairingByToken(ctx context.Context, token string) (*PairingRecord, error)

	// ConfirmPairing atomically transitions pending→active and assigns the
	// token. The status check and the write happen in one conditional
	// update; when the record is not pending the loser observes
	// ErrAlreadyActive or ErrRevoked, never a second token.
	ConfirmPairing(ctx context.Context, deviceID, token, label string) error

	// RevokePairing transitions pending|active→revoked and clears the token.
	// Returns ErrInvalidTransition if the record is already revoked.
	RevokePairing(ctx context.Context, deviceID string) error

	// TouchLastSeen updates last_seen_at for the record.
	TouchLastSeen(ctx context.Context, deviceID string) error

	// ListPendingPairings returns all pending records, newest first.
	ListPendingPairings(ctx context.Context) ([]*PairingRecord, error)

	// DeleteStalePendingPairings removes pending records with no activity
	// since the cutoff. Returns the number of records removed.
	DeleteStalePendingPairings(ctx context.Context, cutoff time.Time) (int64, error)
}

// Store combines all persistence interfaces
type Store interface {
	PairingStore
	OperatorStore

	// Close releases database resources
	Close() error
}
