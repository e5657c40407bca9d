// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces:
//
//   - PairingStore: Pairing record lifecycle (create, confirm, revoke, poll bookkeeping)
//   - OperatorStore: Operator accounts and browser sessions
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # Data Models
//
//   - PairingRecord: One device identity's attempt to associate with the
//     account. Status walks pending → active (confirm) or → revoked, and
//     revoked is terminal. The device token column is non-null exactly while
//     the record is active.
//   - Operator: Human account allowed to confirm and revoke pairings.
//   - Session: Browser session for an operator.
//
// # Transition Semantics
//
// ConfirmPairing and RevokePairing are conditional updates: the status guard
// and the write happen in one SQL statement. Two concurrent confirms for the
// same device produce exactly one active transition and one token; the loser
// gets ErrAlreadyActive (or ErrRevoked) from a follow-up read. No code path
// outside these two methods writes status or device_token.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// Database file locations:
//
//   - Production: /var/lib/pulse-gateway/gateway.db
//   - Development: ~/.local/share/pulse/gateway.db
//   - Testing: :memory: (in-memory database)
//
// # Error Handling
//
// Sentinel errors (ErrNotFound, ErrAlreadyExists, ErrAlreadyActive,
// ErrRevoked, ErrInvalidTransition) classify every illegal operation; any
// other error from a store method is a storage fault and must be surfaced to
// callers as transient, never as one of the sentinels.
//
// All methods accept context.Context for cancellation support.
package store
