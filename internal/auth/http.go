// ABOUTME: HTTP authentication for the operator-only endpoints
// ABOUTME: Chains session providers and exposes the operator identity via context

package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/pulselog/pulse-gateway/internal/store"
)

// ErrUnauthorized is returned when no provider can authenticate the request
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves an HTTP request to an operator identity. The
// browser-session provider and the bearer-token provider both implement it;
// the gateway decides which are installed.
type Authenticator interface {
	Authenticate(r *http.Request) (operatorID string, err error)
}

// contextKey is a custom type for context keys to avoid collisions
type contextKey string

const operatorContextKey contextKey = "operator_id"

// OperatorFromContext retrieves the authenticated operator ID, if any
func OperatorFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(operatorContextKey).(string)
	return id, ok
}

// WithOperator returns a context carrying the operator ID
func WithOperator(ctx context.Context, operatorID string) context.Context {
	return context.WithValue(ctx, operatorContextKey, operatorID)
}

// ExtractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func ExtractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// OperatorLookup looks up operators by ID.
type OperatorLookup interface {
	GetOperator(ctx context.Context, id string) (*store.Operator, error)
}

// BearerAuthenticator authenticates requests carrying an operator JWT in the
// Authorization header. Used by the admin CLI and scripts; browsers use the
// cookie-session provider instead.
type BearerAuthenticator struct {
	verifier  TokenVerifier
	operators OperatorLookup
}

// NewBearerAuthenticator creates a bearer-token operator authenticator
func NewBearerAuthenticator(verifier TokenVerifier, operators OperatorLookup) *BearerAuthenticator {
	return &BearerAuthenticator{verifier: verifier, operators: operators}
}

// Authenticate verifies the bearer JWT and confirms the operator still exists
func (a *BearerAuthenticator) Authenticate(r *http.Request) (string, error) {
	token, errMsg := ExtractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return "", ErrUnauthorized
	}
	operatorID, err := a.verifier.Verify(token)
	if err != nil {
		return "", ErrUnauthorized
	}
	if _, err := a.operators.GetOperator(r.Context(), operatorID); err != nil {
		return "", ErrUnauthorized
	}
	return operatorID, nil
}

// Multi tries each authenticator in order and returns the first success
type Multi []Authenticator

// Authenticate implements Authenticator
func (m Multi) Authenticate(r *http.Request) (string, error) {
	for _, a := range m {
		if id, err := a.Authenticate(r); err == nil {
			return id, nil
		}
	}
	return "", ErrUnauthorized
}

// RequireOperator wraps a handler, rejecting requests that no installed
// session provider can authenticate. The operator ID travels in the context.
func RequireOperator(authn Authenticator, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		operatorID, err := authn.Authenticate(r)
		if err != nil {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"unauthorized"}`))
			return
		}
		next(w, r.WithContext(WithOperator(r.Context(), operatorID)))
	}
}
