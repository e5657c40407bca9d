// ABOUTME: SQLite implementation of operator user and session persistence
// ABOUTME: Backs login for the human confirm/revoke surface

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Ensure SQLiteStore implements OperatorStore
var _ OperatorStore = (*SQLiteStore)(nil)

// CreateOperator creates a new operator user
func (s *SQLiteStore) CreateOperator(ctx context.Context, op *Operator) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operators (id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, op.ID, op.Username, op.PasswordHash, op.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUsernameExists
		}
		return fmt.Errorf("creating operator: %w", err)
	}
	s.logger.Info("created operator", "id", op.ID, "username", op.Username)
	return nil
}

// GetOperator retrieves an operator by ID
func (s *SQLiteStore) GetOperator(ctx context.Context, id string) (*Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM operators WHERE id = ?
	`, id)
	return scanOperator(row)
}

// GetOperatorByUsername retrieves an operator by username
func (s *SQLiteStore) GetOperatorByUsername(ctx context.Context, username string) (*Operator, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, created_at
		FROM operators WHERE username = ?
	`, username)
	return scanOperator(row)
}

// CountOperators returns the number of operator users
func (s *SQLiteStore) CountOperators(ctx context.Context) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM operators`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting operators: %w", err)
	}
	return count, nil
}

func scanOperator(row *sql.Row) (*Operator, error) {
	var op Operator
	var createdAt string
	err := row.Scan(&op.ID, &op.Username, &op.PasswordHash, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrOperatorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning operator: %w", err)
	}
	op.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &op, nil
}

// CreateSession creates a new operator session
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, operator_id, created_at, expires_at)
		VALUES (?, ?, ?, ?)
	`, session.ID, session.OperatorID,
		session.CreatedAt.UTC().Format(time.RFC3339),
		session.ExpiresAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetSession retrieves a non-expired session by ID
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	row := s.db.QueryRowContext(ctx, `
		SELECT id, operator_id, created_at, expires_at
		FROM sessions WHERE id = ? AND expires_at > ?
	`, id, now)

	var session Session
	var createdAt, expiresAt string
	err := row.Scan(&session.ID, &session.OperatorID, &createdAt, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}
	session.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	session.ExpiresAt, _ = time.Parse(time.RFC3339, expiresAt)
	return &session, nil
}

// DeleteSession removes a session by ID
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// DeleteExpiredSessions removes all expired sessions
func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, now)
	if err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		s.logger.Debug("deleted expired sessions", "count", rows)
	}
	return nil
}
