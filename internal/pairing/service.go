// ABOUTME: Registration, confirmation, revocation and poll logic for device pairing
// ABOUTME: Owns token generation and input validation; transitions go through the store

package pairing

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/pulselog/pulse-gateway/internal/store"
)

// ErrValidation wraps all malformed-input failures so callers can
// distinguish them from state-transition errors.
var ErrValidation = errors.New("validation failed")

// Device ID validation: UUID-shaped or any opaque token of reasonable length
var deviceIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.:-]{7,127}$`)

// Display names and labels: printable, bounded
const maxNameLength = 64

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9 ._'-]*$`)

// deviceTokenBytes is the entropy of a device token (256 bits)
const deviceTokenBytes = 32

// Metadata carries the client-supplied descriptive attributes for a device.
// Non-authoritative: never used for authorization decisions.
type Metadata struct {
	DisplayName string
	DeviceClass string
}

// PollResult is what an unpaired device learns from one status check
type PollResult struct {
	Paired bool
	Token  string
}

// Service implements the pairing handshake on top of a PairingStore
type Service struct {
	store  store.PairingStore
	logger *slog.Logger
}

// New creates a pairing service
func New(s store.PairingStore) *Service {
	return &Service{
		store:  s,
		logger: slog.Default().With("component", "pairing"),
	}
}

// Register creates a pending pairing record for a client-generated device
// identity. A second call for the same identity fails with
// store.ErrAlreadyExists; the client treats that as "already registered,
// start polling".
func (s *Service) Register(ctx context.Context, deviceID string, meta Metadata) (*store.PairingRecord, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return nil, err
	}
	if err := validateName("display_name", meta.DisplayName); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	rec := &store.PairingRecord{
		DeviceID:    deviceID,
		Status:      store.PairingStatusPending,
		DisplayName: meta.DisplayName,
		DeviceClass: meta.DeviceClass,
		CreatedAt:   now,
		LastSeenAt:  now,
	}
	if err := s.store.CreatePairing(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Info("device registered",
		"device_id", deviceID,
		"device_class", meta.DeviceClass,
	)
	return rec, nil
}

// Confirm performs the pending→active transition and issues the device
// token. Called only from an authenticated operator context; the operator
// identity is recorded in logs, not on the record. The generated token is
// not returned: the device retrieves it by polling, which keeps the secret
// out of the confirming session's response and logs.
func (s *Service) Confirm(ctx context.Context, operatorID, deviceID, label string) error {
	if err := validateDeviceID(deviceID); err != nil {
		return err
	}
	if err := validateName("label", label); err != nil {
		return err
	}

	token, err := generateDeviceToken()
	if err != nil {
		return fmt.Errorf("generating device token: %w", err)
	}

	// The store discards the token unless this call wins the pending→active
	// race, so a losing confirm leaks nothing.
	if err := s.store.ConfirmPairing(ctx, deviceID, token, label); err != nil {
		return err
	}

	s.logger.Info("pairing confirmed",
		"device_id", deviceID,
		"operator_id", operatorID,
	)
	return nil
}

// Revoke permanently disables a pairing and clears its token. Reachable by
// an operator or by the device bearing its own token.
func (s *Service) Revoke(ctx context.Context, deviceID string) error {
	if err := validateDeviceID(deviceID); err != nil {
		return err
	}
	if err := s.store.RevokePairing(ctx, deviceID); err != nil {
		return err
	}
	s.logger.Info("pairing revoked", "device_id", deviceID)
	return nil
}

// Poll reports whether the device has been confirmed and, once it has,
// returns the issued token. Retrieval is idempotent: every poll after
// confirmation returns the same token, so a dropped response never orphans
// a confirmed pairing. A revoked record answers exactly like a pending one;
// a poller holding a dead identity learns nothing beyond "not paired".
func (s *Service) Poll(ctx context.Context, deviceID string) (PollResult, error) {
	if err := validateDeviceID(deviceID); err != nil {
		return PollResult{}, err
	}

	rec, err := s.store.GetPairing(ctx, deviceID)
	if err != nil {
		return PollResult{}, err
	}

	if err := s.store.TouchLastSeen(ctx, deviceID); err != nil {
		// The record existed a moment ago; treat a vanished record as the
		// caller's NotFound, anything else as a storage fault.
		return PollResult{}, err
	}

	if rec.Status == store.PairingStatusActive && rec.DeviceToken != nil {
		return PollResult{Paired: true, Token: *rec.DeviceToken}, nil
	}
	return PollResult{Paired: false}, nil
}

// Identify resolves a bearer device token to its active pairing record and
// touches last_seen_at. This is the authorization primitive for all
// post-pairing device traffic.
func (s *Service) Identify(ctx context.Context, token string) (*store.PairingRecord, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrValidation)
	}
	rec, err := s.store.GetPairingByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.store.TouchLastSeen(ctx, rec.DeviceID); err != nil {
		return nil, err
	}
	return rec, nil
}

// ListPending returns pending records for the confirm UI
func (s *Service) ListPending(ctx context.Context) ([]*store.PairingRecord, error) {
	return s.store.ListPendingPairings(ctx)
}

// ExpireStale removes pending records idle since before now-ttl
func (s *Service) ExpireStale(ctx context.Context, ttl time.Duration) (int64, error) {
	cutoff := time.Now().Add(-ttl)
	deleted, err := s.store.DeleteStalePendingPairings(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if deleted > 0 {
		s.logger.Info("expired stale pending pairings", "count", deleted, "ttl", ttl)
	}
	return deleted, nil
}

func validateDeviceID(deviceID string) error {
	if deviceID == "" {
		return fmt.Errorf("%w: device_id required", ErrValidation)
	}
	if !deviceIDPattern.MatchString(deviceID) {
		return fmt.Errorf("%w: device_id must be 8-128 characters (alphanumeric, '-', '_', '.', ':')", ErrValidation)
	}
	return nil
}

func validateName(field, value string) error {
	if len(value) > maxNameLength {
		return fmt.Errorf("%w: %s exceeds %d characters", ErrValidation, field, maxNameLength)
	}
	if !namePattern.MatchString(value) {
		return fmt.Errorf("%w: %s contains invalid characters", ErrValidation, field)
	}
	return nil
}

// generateDeviceToken returns 256 bits of randomness, base64url encoded.
// The token is the device's durable bearer credential; treat like a password.
func generateDeviceToken() (string, error) {
	buf := make([]byte, deviceTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
