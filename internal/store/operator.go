// ABOUTME: Operator user and session types and store interface
// ABOUTME: Backs username/password login for the confirm/revoke web surface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrOperatorNotFound is returned when an operator user doesn't exist.
var ErrOperatorNotFound = errors.New("operator not found")

// ErrSessionNotFound is returned when a session doesn't exist or is expired.
var ErrSessionNotFound = errors.New("session not found")

// ErrUsernameExists is returned when trying to create an operator with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// Operator represents a human who may confirm and revoke pairings.
type Operator struct {
	ID           string
	Username     string
	PasswordHash string // bcrypt hash
	CreatedAt    time.Time
}

// Session represents an authenticated operator browser session.
type Session struct {
	ID         string
	OperatorID string
	CreatedAt  time.Time
	ExpiresAt  time.Time
}

// OperatorStore defines the interface for operator-related persistence.
type OperatorStore interface {
	CreateOperator(ctx context.Context, op *Operator) error
	GetOperator(ctx context.Context, id string) (*Operator, error)
	GetOperatorByUsername(ctx context.Context, username string) (*Operator, error)
	CountOperators(ctx context.Context) (int, error)

	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSession(ctx context.Context, id string) error
	DeleteExpiredSessions(ctx context.Context) error
}
