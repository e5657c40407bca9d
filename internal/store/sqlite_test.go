// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers pairing lifecycle, conditional transitions, and stale-record cleanup

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	return s
}

func newTestPairing(deviceID string) *PairingRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &PairingRecord{
		DeviceID:    deviceID,
		DisplayName: "Test Monitor",
		DeviceClass: "mac",
		CreatedAt:   now,
		LastSeenAt:  now,
	}
}

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndGetPairing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	rec := newTestPairing("dev-1")
	if err := s.CreatePairing(ctx, rec); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}

	got, err := s.GetPairing(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetPairing failed: %v", err)
	}
	if got.Status != PairingStatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
	if got.DeviceToken != nil {
		t.Errorf("pending record has a token: %q", *got.DeviceToken)
	}
	if got.DisplayName != "Test Monitor" || got.DeviceClass != "mac" {
		t.Errorf("metadata mismatch: %+v", got)
	}
	if got.ConfirmedAt != nil {
		t.Error("pending record has confirmed_at set")
	}
}

func TestGetPairing_NotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	_, err := s.GetPairing(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreatePairing_Duplicate(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("first CreatePairing failed: %v", err)
	}
	err := s.CreatePairing(ctx, newTestPairing("dev-1"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unique", errors.New("constraint failed: UNIQUE constraint failed: pairings.device_id (1555)"), true},
		{"not null", errors.New("constraint failed: NOT NULL constraint failed: pairings.status (1299)"), false},
		{"check", errors.New("constraint failed: CHECK constraint failed: pairings (275)"), false},
		{"unrelated", errors.New("database is locked"), false},
	}
	for _, tt := range tests {
		if got := isUniqueViolation(tt.err); got != tt.want {
			t.Errorf("%s: isUniqueViolation = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestCreatePairing_RevokedIDStaysBurned(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}
	if err := s.RevokePairing(ctx, "dev-1"); err != nil {
		t.Fatalf("RevokePairing failed: %v", err)
	}

	// A revoked identity cannot be re-registered
	err := s.CreatePairing(ctx, newTestPairing("dev-1"))
	if !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
}

func TestConfirmPairing(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}
	if err := s.ConfirmPairing(ctx, "dev-1", "tok-secret", "Kitchen Mac"); err != nil {
		t.Fatalf("ConfirmPairing failed: %v", err)
	}

	got, err := s.GetPairing(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetPairing failed: %v", err)
	}
	if got.Status != PairingStatusActive {
		t.Errorf("status = %q, want active", got.Status)
	}
	if got.DeviceToken == nil || *got.DeviceToken != "tok-secret" {
		t.Errorf("token = %v, want tok-secret", got.DeviceToken)
	}
	if got.Label != "Kitchen Mac" {
		t.Errorf("label = %q, want Kitchen Mac", got.Label)
	}
	if got.ConfirmedAt == nil {
		t.Error("confirmed_at not set on active record")
	}
}

func TestConfirmPairing_NotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	err := s.ConfirmPairing(context.Background(), "missing", "tok", "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestConfirmPairing_AlreadyActive(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}
	if err := s.ConfirmPairing(ctx, "dev-1", "tok-1", ""); err != nil {
		t.Fatalf("first confirm failed: %v", err)
	}

	err := s.ConfirmPairing(ctx, "dev-1", "tok-2", "")
	if !errors.Is(err, ErrAlreadyActive) {
		t.Errorf("err = %v, want ErrAlreadyActive", err)
	}

	// Losing confirm must not have replaced the token
	got, err := s.GetPairing(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetPairing failed: %v", err)
	}
	if got.DeviceToken == nil || *got.DeviceToken != "tok-1" {
		t.Errorf("token = %v, want tok-1", got.DeviceToken)
	}
}

func TestConfirmPairing_Revoked(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}
	if err := s.RevokePairing(ctx, "dev-1"); err != nil {
		t.Fatalf("RevokePairing failed: %v", err)
	}

	err := s.ConfirmPairing(ctx, "dev-1", "tok", "")
	if !errors.Is(err, ErrRevoked) {
		t.Errorf("err = %v, want ErrRevoked", err)
	}
}

func TestConfirmPairing_Concurrent(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.ConfirmPairing(ctx, "dev-1", fmt.Sprintf("tok-%d", i), "")
		}(i)
	}
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyActive):
			losses++
		default:
			t.Errorf("unexpected confirm error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
	if losses != n-1 {
		t.Errorf("losses = %d, want %d", losses, n-1)
	}

	got, err := s.GetPairing(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetPairing failed: %v", err)
	}
	if got.Status != PairingStatusActive || got.DeviceToken == nil {
		t.Errorf("record after race: status=%q token=%v", got.Status, got.DeviceToken)
	}
}

func TestRevokePairing_ClearsToken(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}
	if err := s.ConfirmPairing(ctx, "dev-1", "tok", ""); err != nil {
		t.Fatalf("ConfirmPairing failed: %v", err)
	}
	if err := s.RevokePairing(ctx, "dev-1"); err != nil {
		t.Fatalf("RevokePairing failed: %v", err)
	}

	got, err := s.GetPairing(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetPairing failed: %v", err)
	}
	if got.Status != PairingStatusRevoked {
		t.Errorf("status = %q, want revoked", got.Status)
	}
	if got.DeviceToken != nil {
		t.Errorf("revoked record still has token %q", *got.DeviceToken)
	}
}

func TestRevokePairing_RevokedIsTerminal(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}
	if err := s.RevokePairing(ctx, "dev-1"); err != nil {
		t.Fatalf("RevokePairing failed: %v", err)
	}

	err := s.RevokePairing(ctx, "dev-1")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("err = %v, want ErrInvalidTransition", err)
	}
}

func TestRevokePairing_NotFound(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()

	err := s.RevokePairing(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetPairingByToken(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	if err := s.CreatePairing(ctx, newTestPairing("dev-1")); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}
	if err := s.ConfirmPairing(ctx, "dev-1", "tok-abc", ""); err != nil {
		t.Fatalf("ConfirmPairing failed: %v", err)
	}

	got, err := s.GetPairingByToken(ctx, "tok-abc")
	if err != nil {
		t.Fatalf("GetPairingByToken failed: %v", err)
	}
	if got.DeviceID != "dev-1" {
		t.Errorf("device_id = %q, want dev-1", got.DeviceID)
	}

	if _, err := s.GetPairingByToken(ctx, "bogus"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	// Revoked tokens no longer resolve
	if err := s.RevokePairing(ctx, "dev-1"); err != nil {
		t.Fatalf("RevokePairing failed: %v", err)
	}
	if _, err := s.GetPairingByToken(ctx, "tok-abc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err after revoke = %v, want ErrNotFound", err)
	}
}

func TestTouchLastSeen(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	rec := newTestPairing("dev-1")
	rec.LastSeenAt = time.Now().Add(-time.Hour)
	rec.CreatedAt = rec.LastSeenAt
	if err := s.CreatePairing(ctx, rec); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}

	if err := s.TouchLastSeen(ctx, "dev-1"); err != nil {
		t.Fatalf("TouchLastSeen failed: %v", err)
	}

	got, err := s.GetPairing(ctx, "dev-1")
	if err != nil {
		t.Fatalf("GetPairing failed: %v", err)
	}
	if !got.LastSeenAt.After(rec.LastSeenAt) {
		t.Errorf("last_seen_at not advanced: %v", got.LastSeenAt)
	}

	if err := s.TouchLastSeen(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListPendingPairings(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	for _, id := range []string{"dev-1", "dev-2", "dev-3"} {
		if err := s.CreatePairing(ctx, newTestPairing(id)); err != nil {
			t.Fatalf("CreatePairing(%s) failed: %v", id, err)
		}
	}
	if err := s.ConfirmPairing(ctx, "dev-2", "tok", ""); err != nil {
		t.Fatalf("ConfirmPairing failed: %v", err)
	}

	pending, err := s.ListPendingPairings(ctx)
	if err != nil {
		t.Fatalf("ListPendingPairings failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	for _, rec := range pending {
		if rec.DeviceID == "dev-2" {
			t.Error("active record returned in pending list")
		}
	}
}

func TestDeleteStalePendingPairings(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	stale := newTestPairing("dev-stale")
	stale.LastSeenAt = time.Now().Add(-2 * time.Hour)
	if err := s.CreatePairing(ctx, stale); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}

	fresh := newTestPairing("dev-fresh")
	if err := s.CreatePairing(ctx, fresh); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}

	// Active records are never expired regardless of last_seen_at
	oldActive := newTestPairing("dev-active")
	oldActive.LastSeenAt = time.Now().Add(-2 * time.Hour)
	if err := s.CreatePairing(ctx, oldActive); err != nil {
		t.Fatalf("CreatePairing failed: %v", err)
	}
	if err := s.ConfirmPairing(ctx, "dev-active", "tok", ""); err != nil {
		t.Fatalf("ConfirmPairing failed: %v", err)
	}

	deleted, err := s.DeleteStalePendingPairings(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("DeleteStalePendingPairings failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("deleted = %d, want 1", deleted)
	}

	if _, err := s.GetPairing(ctx, "dev-stale"); !errors.Is(err, ErrNotFound) {
		t.Errorf("stale record still present: %v", err)
	}
	if _, err := s.GetPairing(ctx, "dev-fresh"); err != nil {
		t.Errorf("fresh record removed: %v", err)
	}
	if _, err := s.GetPairing(ctx, "dev-active"); err != nil {
		t.Errorf("active record removed: %v", err)
	}
}
