// ABOUTME: Tests for operator login and cookie session validation
// ABOUTME: Covers credential checks, cookie issuance, logout, and the Authenticator contract

package websession

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pulselog/pulse-gateway/internal/auth"
	"github.com/pulselog/pulse-gateway/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return New(s), s
}

func TestCreateOperator(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	op, err := m.CreateOperator(ctx, "alice", "correct horse battery")
	require.NoError(t, err)
	assert.Equal(t, "alice", op.Username)
	assert.NotEmpty(t, op.ID)
	// Stored as a bcrypt hash, never plaintext
	assert.True(t, strings.HasPrefix(op.PasswordHash, "$2"))
}

func TestCreateOperator_Validation(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateOperator(ctx, "x", "longenoughpassword")
	assert.Error(t, err)

	_, err = m.CreateOperator(ctx, "alice", "short")
	assert.Error(t, err)

	_, err = m.CreateOperator(ctx, "9starts_with_digit", "longenoughpassword")
	assert.Error(t, err)
}

func TestLoginAndAuthenticate(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	op, err := m.CreateOperator(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	require.NoError(t, m.Login(w, r, "alice", "correct horse battery"))

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, SessionCookieName, cookies[0].Name)
	assert.True(t, cookies[0].HttpOnly)

	// The cookie authenticates subsequent requests
	r2 := httptest.NewRequest(http.MethodPost, "/pairing/confirm", nil)
	r2.AddCookie(cookies[0])
	operatorID, err := m.Authenticate(r2)
	require.NoError(t, err)
	assert.Equal(t, op.ID, operatorID)
}

func TestLogin_BadPassword(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateOperator(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	err = m.Login(w, r, "alice", "wrong password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Empty(t, w.Result().Cookies())
}

func TestLogin_UnknownUser(t *testing.T) {
	m, _ := newTestManager(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	err := m.Login(w, r, "nobody", "whatever password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestDummyHashBurnsRealComparison(t *testing.T) {
	// The unknown-username path must pay for a full bcrypt comparison. If the
	// dummy hash is malformed, bcrypt rejects it with a format error before
	// doing any work, which makes username probing observable through timing.
	err := bcrypt.CompareHashAndPassword([]byte(dummyPasswordHash), []byte("whatever password"))
	assert.ErrorIs(t, err, bcrypt.ErrMismatchedHashAndPassword)
}

func TestAuthenticate_NoCookie(t *testing.T) {
	m, _ := newTestManager(t)

	r := httptest.NewRequest(http.MethodGet, "/pairing/pending", nil)
	_, err := m.Authenticate(r)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestAuthenticate_BogusSession(t *testing.T) {
	m, _ := newTestManager(t)

	r := httptest.NewRequest(http.MethodGet, "/pairing/pending", nil)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "forged"})
	_, err := m.Authenticate(r)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestLogout(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateOperator(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	require.NoError(t, m.Login(w, r, "alice", "correct horse battery"))
	sessionCookie := w.Result().Cookies()[0]

	w2 := httptest.NewRecorder()
	r2 := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	r2.AddCookie(sessionCookie)
	m.Logout(w2, r2)

	r3 := httptest.NewRequest(http.MethodGet, "/pairing/pending", nil)
	r3.AddCookie(sessionCookie)
	_, err = m.Authenticate(r3)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)
}

func TestHandleLogin_JSON(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateOperator(ctx, "alice", "correct horse battery")
	require.NoError(t, err)

	body := strings.NewReader(`{"username":"alice","password":"correct horse battery"}`)
	r := httptest.NewRequest(http.MethodPost, "/auth/login", body)
	w := httptest.NewRecorder()
	m.HandleLogin(w, r)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Result().Cookies())

	// Wrong password over HTTP
	body = strings.NewReader(`{"username":"alice","password":"nope nope nope"}`)
	r = httptest.NewRequest(http.MethodPost, "/auth/login", body)
	w = httptest.NewRecorder()
	m.HandleLogin(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
