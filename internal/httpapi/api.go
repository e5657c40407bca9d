// ABOUTME: HTTP handlers for the pairing endpoints and their JSON error mapping
// ABOUTME: Maps store sentinel errors to distinguishable codes; storage faults stay transient

package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/pulselog/pulse-gateway/internal/auth"
	"github.com/pulselog/pulse-gateway/internal/pairing"
	"github.com/pulselog/pulse-gateway/internal/store"
)

// RegisterRequest is the JSON request body for POST /pairing/register.
type RegisterRequest struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
}

// RecordSummary is the public-safe view of a pairing record. It never
// carries the device token; the token travels only in StatusResponse.
type RecordSummary struct {
	DeviceID    string  `json:"device_id"`
	Status      string  `json:"status"`
	DisplayName string  `json:"display_name,omitempty"`
	DeviceClass string  `json:"device_class,omitempty"`
	Label       string  `json:"label,omitempty"`
	CreatedAt   string  `json:"created_at"`
	ConfirmedAt *string `json:"confirmed_at,omitempty"`
	LastSeenAt  string  `json:"last_seen_at"`
}

// StatusResponse is the JSON response for GET /pairing/status.
type StatusResponse struct {
	Paired bool    `json:"paired"`
	Token  *string `json:"token"`
}

// ConfirmRequest is the JSON request body for POST /pairing/confirm.
type ConfirmRequest struct {
	DeviceID string `json:"device_id"`
	Label    string `json:"label,omitempty"`
}

// RevokeRequest is the JSON request body for POST /pairing/revoke.
type RevokeRequest struct {
	DeviceID string `json:"device_id"`
}

// PendingListResponse is the JSON response for GET /pairing/pending.
type PendingListResponse struct {
	Pending []RecordSummary `json:"pending"`
}

// errorBody is the uniform JSON error envelope.
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// API exposes the pairing service over HTTP
type API struct {
	pairings  *pairing.Service
	operators auth.Authenticator
	logger    *slog.Logger
}

// New creates the HTTP API. operators authenticates the human-only endpoints.
func New(pairings *pairing.Service, operators auth.Authenticator) *API {
	return &API{
		pairings:  pairings,
		operators: operators,
		logger:    slog.Default().With("component", "httpapi"),
	}
}

// RegisterRoutes mounts all pairing endpoints on the mux
func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /pairing/register", a.handleRegister)
	mux.HandleFunc("GET /pairing/status", a.handleStatus)
	mux.HandleFunc("POST /pairing/confirm", auth.RequireOperator(a.operators, a.handleConfirm))
	mux.HandleFunc("GET /pairing/pending", auth.RequireOperator(a.operators, a.handlePending))
	mux.HandleFunc("POST /pairing/revoke", a.handleRevoke)
	mux.HandleFunc("GET /agent/verify", a.handleVerify)
	mux.HandleFunc("GET /healthz", a.handleHealth)
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	rec, err := a.pairings.Register(r.Context(), req.DeviceID, pairing.Metadata{
		DisplayName: req.DisplayName,
		DeviceClass: req.DeviceClass,
	})
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, summarize(rec))
}

func (a *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")
	if deviceID == "" {
		writeError(w, http.StatusBadRequest, "device_id required", "validation")
		return
	}

	result, err := a.pairings.Poll(r.Context(), deviceID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	resp := StatusResponse{Paired: result.Paired}
	if result.Paired {
		resp.Token = &result.Token
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleConfirm(w http.ResponseWriter, r *http.Request) {
	operatorID, _ := auth.OperatorFromContext(r.Context())

	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	if err := a.pairings.Confirm(r.Context(), operatorID, req.DeviceID, req.Label); err != nil {
		a.writeServiceError(w, err)
		return
	}

	// Deliberately no token in the response: the device retrieves it by
	// polling, which keeps the secret out of the browser session.
	writeJSON(w, http.StatusOK, map[string]bool{"confirmed": true})
}

func (a *API) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req RevokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", "validation")
		return
	}

	if !a.authorizeRevoke(r, req.DeviceID) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "unauthorized")
		return
	}

	if err := a.pairings.Revoke(r.Context(), req.DeviceID); err != nil {
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"revoked": true})
}

// authorizeRevoke allows an authenticated operator, or the device itself
// presenting the token bound to the device ID it wants to forget.
func (a *API) authorizeRevoke(r *http.Request, deviceID string) bool {
	if _, err := a.operators.Authenticate(r); err == nil {
		return true
	}

	token, errMsg := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return false
	}
	rec, err := a.pairings.Identify(r.Context(), token)
	if err != nil {
		return false
	}
	return rec.DeviceID == deviceID
}

func (a *API) handlePending(w http.ResponseWriter, r *http.Request) {
	recs, err := a.pairings.ListPending(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}

	resp := PendingListResponse{Pending: []RecordSummary{}}
	for _, rec := range recs {
		resp.Pending = append(resp.Pending, summarize(rec))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleVerify(w http.ResponseWriter, r *http.Request) {
	token, errMsg := auth.ExtractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		writeError(w, http.StatusUnauthorized, errMsg, "unauthorized")
		return
	}

	rec, err := a.pairings.Identify(r.Context(), token)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, pairing.ErrValidation) {
			// Invalid and revoked tokens are indistinguishable to the caller
			writeError(w, http.StatusUnauthorized, "invalid or revoked device token", "unauthorized")
			return
		}
		a.writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summarize(rec))
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeServiceError maps service/store errors onto the HTTP error taxonomy.
// Anything unclassified is a storage fault and reported transient, never as
// NotFound or Revoked.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pairing.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error(), "validation")
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "unknown device_id", "not_found")
	case errors.Is(err, store.ErrAlreadyExists):
		writeError(w, http.StatusConflict, "device already registered", "already_exists")
	case errors.Is(err, store.ErrAlreadyActive):
		writeError(w, http.StatusConflict, "pairing already confirmed", "already_active")
	case errors.Is(err, store.ErrRevoked):
		writeError(w, http.StatusConflict, "pairing has been revoked", "revoked")
	case errors.Is(err, store.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid state transition", "invalid_transition")
	default:
		a.logger.Error("storage error", "error", err)
		writeError(w, http.StatusServiceUnavailable, "temporarily unavailable, retry", "transient")
	}
}

func summarize(rec *store.PairingRecord) RecordSummary {
	s := RecordSummary{
		DeviceID:    rec.DeviceID,
		Status:      string(rec.Status),
		DisplayName: rec.DisplayName,
		DeviceClass: rec.DeviceClass,
		Label:       rec.Label,
		CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
		LastSeenAt:  rec.LastSeenAt.UTC().Format(time.RFC3339),
	}
	if rec.ConfirmedAt != nil {
		confirmed := rec.ConfirmedAt.UTC().Format(time.RFC3339)
		s.ConfirmedAt = &confirmed
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, errorBody{Error: msg, Code: code})
}
