// ABOUTME: Operator login and cookie-backed browser sessions
// ABOUTME: Implements the auth.Authenticator interface for the confirm/revoke surface

package websession

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pulselog/pulse-gateway/internal/auth"
	"github.com/pulselog/pulse-gateway/internal/store"
)

// Username validation regex: alphanumeric + underscores, 3-32 characters
var usernameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]{2,31}$`)

const (
	// SessionCookieName is the name of the session cookie
	SessionCookieName = "pulse_session"

	// SessionDuration is how long sessions last
	SessionDuration = 7 * 24 * time.Hour

	// dummyPasswordHash is a well-formed bcrypt hash compared against when the
	// username is unknown, so that path costs a real bcrypt comparison. It must
	// stay a valid 60-char hash: a malformed one makes bcrypt bail out early.
	dummyPasswordHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
)

// ErrInvalidCredentials is returned for a bad username or password
var ErrInvalidCredentials = errors.New("invalid credentials")

// Manager handles operator login, logout, and session validation
type Manager struct {
	store  store.OperatorStore
	logger *slog.Logger
}

// New creates a session manager
func New(s store.OperatorStore) *Manager {
	return &Manager{
		store:  s,
		logger: slog.Default().With("component", "websession"),
	}
}

// Authenticate implements auth.Authenticator using the session cookie
func (m *Manager) Authenticate(r *http.Request) (string, error) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return "", auth.ErrUnauthorized
	}
	session, err := m.store.GetSession(r.Context(), cookie.Value)
	if err != nil {
		return "", auth.ErrUnauthorized
	}
	return session.OperatorID, nil
}

// CreateOperator creates an operator account with a bcrypt password hash
func (m *Manager) CreateOperator(ctx context.Context, username, password string) (*store.Operator, error) {
	if !usernameRegex.MatchString(username) {
		return nil, errors.New("username must be 3-32 characters, alphanumeric or underscore, starting with a letter")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	op := &store.Operator{
		ID:           newSecureID(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    time.Now(),
	}
	if err := m.store.CreateOperator(ctx, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Login verifies credentials and creates a session, setting the cookie
func (m *Manager) Login(w http.ResponseWriter, r *http.Request, username, password string) error {
	op, err := m.store.GetOperatorByUsername(r.Context(), username)
	if err != nil {
		// Burn a comparison anyway so username probing costs the same
		bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte(password))
		return ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword([]byte(op.PasswordHash), []byte(password)); err != nil {
		m.logger.Warn("failed login attempt", "username", username)
		return ErrInvalidCredentials
	}

	session := &store.Session{
		ID:         newSecureID(),
		OperatorID: op.ID,
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(SessionDuration),
	}
	if err := m.store.CreateSession(r.Context(), session); err != nil {
		return err
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    session.ID,
		Path:     "/",
		Expires:  session.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	m.logger.Info("operator logged in", "operator_id", op.ID, "username", username)
	return nil
}

// Logout deletes the session and clears the cookie
func (m *Manager) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		if err := m.store.DeleteSession(r.Context(), cookie.Value); err != nil {
			m.logger.Warn("failed to delete session", "error", err)
		}
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// loginRequest is the JSON body for POST /auth/login
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HandleLogin is the JSON login endpoint for the browser frontend
func (m *Manager) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
		return
	}

	if err := m.Login(w, r, req.Username, req.Password); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
			return
		}
		m.logger.Error("login failed", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

// HandleLogout is the logout endpoint
func (m *Manager) HandleLogout(w http.ResponseWriter, r *http.Request) {
	m.Logout(w, r)
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

// RegisterRoutes mounts the session endpoints on the mux
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/auth/login", m.HandleLogin)
	mux.HandleFunc("/auth/logout", m.HandleLogout)
}

// newSecureID returns 32 bytes of randomness, base64url encoded
func newSecureID() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err) // crypto/rand failure is not recoverable
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}
