// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides pairing/operator persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	// Wait instead of failing when a concurrent writer holds the lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS pairings (
			device_id TEXT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending',
			device_token TEXT,
			display_name TEXT NOT NULL DEFAULT '',
			device_class TEXT NOT NULL DEFAULT '',
			label TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			confirmed_at DATETIME,
			last_seen_at DATETIME NOT NULL
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_pairings_token
			ON pairings(device_token) WHERE device_token IS NOT NULL;

		CREATE INDEX IF NOT EXISTS idx_pairings_status
			ON pairings(status, last_seen_at);

		CREATE TABLE IF NOT EXISTS operators (
			id TEXT PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);

		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			operator_id TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			expires_at DATETIME NOT NULL,
			FOREIGN KEY (operator_id) REFERENCES operators(id)
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_expires
			ON sessions(expires_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ensure SQLiteStore implements the interfaces
var _ Store = (*SQLiteStore)(nil)
var _ PairingStore = (*SQLiteStore)(nil)

// CreatePairing inserts a new pending record for the device ID.
// Any existing record for the same ID, revoked ones included, makes this
// fail with ErrAlreadyExists: a revoked identity is never resurrected and
// the client must generate a fresh one.
func (s *SQLiteStore) CreatePairing(ctx context.Context, rec *PairingRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pairings (device_id, status, display_name, device_class, created_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, rec.DeviceID, PairingStatusPending, rec.DisplayName, rec.DeviceClass,
		rec.CreatedAt.UTC().Format(time.RFC3339),
		rec.LastSeenAt.UTC().Format(time.RFC3339))
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("creating pairing: %w", err)
	}
	s.logger.Debug("created pairing", "device_id", rec.DeviceID)
	return nil
}

// GetPairing retrieves a pairing record by device ID
func (s *SQLiteStore) GetPairing(ctx context.Context, deviceID string) (*PairingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, status, device_token, display_name, device_class, label,
		       created_at, confirmed_at, last_seen_at
		FROM pairings WHERE device_id = ?
	`, deviceID)
	return scanPairing(row)
}

// GetPairingByToken retrieves the active pairing holding the given device token
func (s *SQLiteStore) GetPairingByToken(ctx context.Context, token string) (*PairingRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT device_id, status, device_token, display_name, device_class, label,
		       created_at, confirmed_at, last_seen_at
		FROM pairings WHERE device_token = ? AND status = ?
	`, token, PairingStatusActive)
	return scanPairing(row)
}

// ConfirmPairing transitions a pending record to active and assigns the token.
// The status check and the write are a single conditional UPDATE, so two
// concurrent confirms produce exactly one active transition; the loser is
// told what state the record is actually in.
func (s *SQLiteStore) ConfirmPairing(ctx context.Context, deviceID, token, label string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE pairings
		SET status = ?, device_token = ?, label = ?, confirmed_at = ?
		WHERE device_id = ? AND status = ?
	`, PairingStatusActive, token, label, now, deviceID, PairingStatusPending)
	if err != nil {
		return fmt.Errorf("confirming pairing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Lost the race or the record never existed; re-read to report which.
		rec, getErr := s.GetPairing(ctx, deviceID)
		if getErr != nil {
			return getErr
		}
		switch rec.Status {
		case PairingStatusActive:
			return ErrAlreadyActive
		case PairingStatusRevoked:
			return ErrRevoked
		default:
			return fmt.Errorf("confirming pairing: unexpected status %q", rec.Status)
		}
	}
	s.logger.Info("confirmed pairing", "device_id", deviceID)
	return nil
}

// RevokePairing transitions a pending or active record to revoked and clears the token
func (s *SQLiteStore) RevokePairing(ctx context.Context, deviceID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE pairings
		SET status = ?, device_token = NULL
		WHERE device_id = ? AND status IN (?, ?)
	`, PairingStatusRevoked, deviceID, PairingStatusPending, PairingStatusActive)
	if err != nil {
		return fmt.Errorf("revoking pairing: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		rec, getErr := s.GetPairing(ctx, deviceID)
		if getErr != nil {
			return getErr
		}
		if rec.Status == PairingStatusRevoked {
			return ErrInvalidTransition
		}
		return fmt.Errorf("revoking pairing: unexpected status %q", rec.Status)
	}
	s.logger.Info("revoked pairing", "device_id", deviceID)
	return nil
}

// TouchLastSeen updates last_seen_at for the record
func (s *SQLiteStore) TouchLastSeen(ctx context.Context, deviceID string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE pairings SET last_seen_at = ? WHERE device_id = ?
	`, now, deviceID)
	if err != nil {
		return fmt.Errorf("touching last_seen: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListPendingPairings returns all pending records, newest first
func (s *SQLiteStore) ListPendingPairings(ctx context.Context) ([]*PairingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT device_id, status, device_token, display_name, device_class, label,
		       created_at, confirmed_at, last_seen_at
		FROM pairings
		WHERE status = ?
		ORDER BY created_at DESC
	`, PairingStatusPending)
	if err != nil {
		return nil, fmt.Errorf("listing pending pairings: %w", err)
	}
	defer rows.Close()

	var recs []*PairingRecord
	for rows.Next() {
		rec, err := scanPairingRows(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// DeleteStalePendingPairings removes pending records with no activity since the cutoff
func (s *SQLiteStore) DeleteStalePendingPairings(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM pairings WHERE status = ? AND last_seen_at <= ?
	`, PairingStatusPending, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("deleting stale pendings: %w", err)
	}
	rowsAffected, _ := result.RowsAffected()
	if rowsAffected > 0 {
		s.logger.Debug("deleted stale pending pairings", "count", rowsAffected)
	}
	return rowsAffected, nil
}

// isUniqueViolation checks if the error is a SQLite UNIQUE constraint violation
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPairingFrom(sc rowScanner) (*PairingRecord, error) {
	var rec PairingRecord
	var createdAt, lastSeenAt string
	var confirmedAt, token sql.NullString

	err := sc.Scan(&rec.DeviceID, &rec.Status, &token, &rec.DisplayName, &rec.DeviceClass,
		&rec.Label, &createdAt, &confirmedAt, &lastSeenAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning pairing: %w", err)
	}

	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeenAt)

	if token.Valid {
		rec.DeviceToken = &token.String
	}
	if confirmedAt.Valid {
		t, _ := time.Parse(time.RFC3339, confirmedAt.String)
		rec.ConfirmedAt = &t
	}

	return &rec, nil
}

func scanPairing(row *sql.Row) (*PairingRecord, error) {
	return scanPairingFrom(row)
}

func scanPairingRows(rows *sql.Rows) (*PairingRecord, error) {
	return scanPairingFrom(rows)
}
