// ABOUTME: Client-side pairing API and fixed-interval poll loop for the agent
// ABOUTME: Polls until confirmed, bounded by a maximum wait, tolerating transient faults

package poller

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultInterval is the pause between status checks
	DefaultInterval = 3 * time.Second

	// DefaultMaxWait bounds the whole wait for confirmation
	DefaultMaxWait = 15 * time.Minute
)

// ErrTimeout is returned when the human never confirmed within MaxWait
var ErrTimeout = errors.New("pairing not confirmed in time")

// ErrNotRegistered is returned when the gateway has no record of the device
var ErrNotRegistered = errors.New("device not registered")

// Client talks to the gateway's pairing endpoints
type Client struct {
	// BaseURL is the gateway root, e.g. "http://gateway.local:8080"
	BaseURL string

	// HTTPClient defaults to a client with a 10s timeout
	HTTPClient *http.Client

	logger *slog.Logger
}

// NewClient creates a pairing API client for the given gateway URL
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "poller"),
	}
}

type registerRequest struct {
	DeviceID    string `json:"device_id"`
	DisplayName string `json:"display_name,omitempty"`
	DeviceClass string `json:"device_class,omitempty"`
}

type statusResponse struct {
	Paired bool    `json:"paired"`
	Token  *string `json:"token"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Register announces the device identity to the gateway. An already-registered
// identity is not an error: it means a previous run got this far, and the
// caller should proceed straight to polling.
func (c *Client) Register(ctx context.Context, deviceID, displayName, deviceClass string) error {
	body, err := json.Marshal(registerRequest{
		DeviceID:    deviceID,
		DisplayName: displayName,
		DeviceClass: deviceClass,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/pairing/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("registering device: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		c.logger.Info("device registered", "device_id", deviceID)
		return nil
	case http.StatusConflict:
		c.logger.Info("device already registered, resuming", "device_id", deviceID)
		return nil
	default:
		return fmt.Errorf("registering device: %s", readError(resp))
	}
}

// Poll performs one status check. Returns the token once paired.
func (c *Client) Poll(ctx context.Context, deviceID string) (paired bool, token string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.BaseURL+"/pairing/status?device_id="+deviceID, nil)
	if err != nil {
		return false, "", err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return false, "", fmt.Errorf("polling status: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var status statusResponse
		if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
			return false, "", fmt.Errorf("decoding status: %w", err)
		}
		if status.Paired && status.Token != nil {
			return true, *status.Token, nil
		}
		return false, "", nil
	case http.StatusNotFound:
		return false, "", ErrNotRegistered
	default:
		return false, "", fmt.Errorf("polling status: %s", readError(resp))
	}
}

// Revoke tells the gateway to forget the device's own credential
func (c *Client) Revoke(ctx context.Context, deviceID, token string) error {
	body, err := json.Marshal(map[string]string{"device_id": deviceID})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/pairing/revoke", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("revoking pairing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoking pairing: %s", readError(resp))
	}
	return nil
}

// Verify checks that a stored token still authorizes the device
func (c *Client) Verify(ctx context.Context, token string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/agent/verify", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("verifying token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("verifying token: %s", readError(resp))
	}
	return nil
}

// Poller waits for a human to confirm the pairing
type Poller struct {
	Client *Client

	// Interval between polls; DefaultInterval if zero
	Interval time.Duration

	// MaxWait bounds the whole loop; DefaultMaxWait if zero
	MaxWait time.Duration
}

// WaitForConfirmation polls at a fixed interval until the pairing is
// confirmed, the wait bound is hit, or the context is canceled. Transient
// gateway errors don't abort the loop; an unknown device identity does.
func (p *Poller) WaitForConfirmation(ctx context.Context, deviceID string) (string, error) {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	maxWait := p.MaxWait
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}

	ctx, cancel := context.WithTimeout(ctx, maxWait)
	defer cancel()

	logger := slog.Default().With("component", "poller", "device_id", deviceID)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		paired, token, err := p.Client.Poll(ctx, deviceID)
		switch {
		case err == nil && paired:
			logger.Info("pairing confirmed")
			return token, nil
		case errors.Is(err, ErrNotRegistered):
			return "", err
		case err != nil:
			// Transient failures keep the loop alive; cancellation is
			// reported by the select below.
			if ctx.Err() == nil {
				logger.Warn("poll failed, will retry", "error", err)
			}
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return "", ErrTimeout
			}
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

func readError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil || len(data) == 0 {
		return resp.Status
	}
	var body errorResponse
	if json.Unmarshal(data, &body) == nil && body.Error != "" {
		return fmt.Sprintf("%s (%s)", body.Error, resp.Status)
	}
	return resp.Status
}
