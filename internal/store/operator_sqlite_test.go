// ABOUTME: Tests for operator user and session persistence
// ABOUTME: Covers account creation, username lookup, and session expiry

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCreateAndGetOperator(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	op := &Operator{
		ID:           "op-1",
		Username:     "alice",
		PasswordHash: "$2a$10$fakehash",
		CreatedAt:    time.Now(),
	}
	if err := s.CreateOperator(ctx, op); err != nil {
		t.Fatalf("CreateOperator failed: %v", err)
	}

	got, err := s.GetOperatorByUsername(ctx, "alice")
	if err != nil {
		t.Fatalf("GetOperatorByUsername failed: %v", err)
	}
	if got.ID != "op-1" || got.PasswordHash != "$2a$10$fakehash" {
		t.Errorf("operator mismatch: %+v", got)
	}

	count, err := s.CountOperators(ctx)
	if err != nil {
		t.Fatalf("CountOperators failed: %v", err)
	}
	if count != 1 {
		t.Errorf("count = %d, want 1", count)
	}
}

func TestCreateOperator_DuplicateUsername(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	op := &Operator{ID: "op-1", Username: "alice", PasswordHash: "h", CreatedAt: time.Now()}
	if err := s.CreateOperator(ctx, op); err != nil {
		t.Fatalf("CreateOperator failed: %v", err)
	}

	dup := &Operator{ID: "op-2", Username: "alice", PasswordHash: "h", CreatedAt: time.Now()}
	if err := s.CreateOperator(ctx, dup); !errors.Is(err, ErrUsernameExists) {
		t.Errorf("err = %v, want ErrUsernameExists", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	op := &Operator{ID: "op-1", Username: "alice", PasswordHash: "h", CreatedAt: time.Now()}
	if err := s.CreateOperator(ctx, op); err != nil {
		t.Fatalf("CreateOperator failed: %v", err)
	}

	session := &Session{
		ID:         "sess-1",
		OperatorID: "op-1",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	got, err := s.GetSession(ctx, "sess-1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.OperatorID != "op-1" {
		t.Errorf("operator_id = %q, want op-1", got.OperatorID)
	}

	if err := s.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, err := s.GetSession(ctx, "sess-1"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestGetSession_Expired(t *testing.T) {
	s := newTestStore(t)
	defer s.Close()
	ctx := context.Background()

	session := &Session{
		ID:         "sess-old",
		OperatorID: "op-1",
		CreatedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt:  time.Now().Add(-time.Hour),
	}
	if err := s.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if _, err := s.GetSession(ctx, "sess-old"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}

	if err := s.DeleteExpiredSessions(ctx); err != nil {
		t.Fatalf("DeleteExpiredSessions failed: %v", err)
	}
}
