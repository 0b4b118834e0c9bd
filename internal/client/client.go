// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package client talks to a licensor activation server from the licensed
// application and verifies license artifacts offline.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/licensor/internal/signer"
)

const requestTimeout = 30 * time.Second

var (
	ErrServerNotConfigured = errors.New("activation server URL not configured")
	ErrLimitExceeded       = errors.New("activation limit exceeded")
	ErrInvalidKey          = errors.New("invalid product key")
	ErrLicenseInactive     = errors.New("license is not active")
	ErrRejected            = errors.New("activation rejected")
)

// APIError is a non-2xx answer from the server
type APIError struct {
	StatusCode int
	Outcome    string
	Message    string
}

func (e *APIError) Error() string {
	if e.Outcome != "" {
		return fmt.Sprintf("activation server returned %d (%s): %s", e.StatusCode, e.Outcome, e.Message)
	}
	return fmt.Sprintf("activation server returned %d: %s", e.StatusCode, e.Message)
}

// Is lets callers match on the outcome tag
func (e *APIError) Is(target error) bool {
	switch e.Outcome {
	case "limit_exceeded":
		return target == ErrLimitExceeded
	case "invalid_key":
		return target == ErrInvalidKey
	case "license_inactive":
		return target == ErrLicenseInactive
	case "rejected":
		return target == ErrRejected
	}
	return false
}

// Activation is the server view of one activation
type Activation struct {
	ID            string            `json:"id"`
	LicenseID     string            `json:"licenseId"`
	Kind          string            `json:"kind"`
	ClientID      string            `json:"clientId,omitempty"`
	SessionID     string            `json:"sessionId,omitempty"`
	Signature     string            `json:"activationSignature,omitempty"`
	Status        string            `json:"status"`
	LastHeartbeat *time.Time        `json:"lastHeartbeat,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type LicenseInfo struct {
	ID         string    `json:"id"`
	ProductID  string    `json:"productId"`
	Model      string    `json:"model"`
	ValidFrom  time.Time `json:"validFrom"`
	ValidTo    time.Time `json:"validTo"`
	Features   []string  `json:"features,omitempty"`
	MinVersion string    `json:"minVersion,omitempty"`
	MaxVersion string    `json:"maxVersion,omitempty"`
	Status     string    `json:"status"`
}

// Result is returned by every activation call
type Result struct {
	Outcome    string       `json:"outcome"`
	License    *LicenseInfo `json:"license,omitempty"`
	Activation *Activation  `json:"activation,omitempty"`
	Used       int          `json:"used"`
	Capacity   int          `json:"capacity"`
}

// Client calls the activation endpoints of one server for one product
type Client struct {
	httpClient *http.Client
	baseURL    string
	productID  string
}

func NewClient(baseURL, productID string) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		productID:  productID,
	}
}

// SetHTTPClient replaces the default client, e.g. to add TLS settings
func (c *Client) SetHTTPClient(httpClient *http.Client) {
	c.httpClient = httpClient
}

func (c *Client) IsClientConfigured() bool {
	return c.baseURL != "" && c.httpClient != nil
}

// Activate binds clientID to the license behind productKey
func (c *Client) Activate(ctx context.Context, productKey, clientID string, metadata map[string]string) (*Result, error) {
	log.Debug().
		Str("productKey", maskKey(productKey)).
		Str("clientID", clientID).
		Msg("Activating product key")

	result, err := c.post(ctx, "/api/activations", map[string]any{
		"productId":  c.productID,
		"productKey": productKey,
		"clientId":   clientID,
		"metadata":   metadata,
	})
	if err != nil {
		log.Error().Err(err).Str("productKey", maskKey(productKey)).Msg("Failed to activate product key")
		return nil, err
	}

	log.Info().
		Str("outcome", result.Outcome).
		Int("used", result.Used).
		Int("capacity", result.Capacity).
		Msg("Product key activated")
	return result, nil
}

func (c *Client) Heartbeat(ctx context.Context, signature string) (*Result, error) {
	return c.post(ctx, "/api/activations/"+url.PathEscape(signature)+"/heartbeat", nil)
}

func (c *Client) Deactivate(ctx context.Context, signature string) (*Result, error) {
	return c.post(ctx, "/api/activations/"+url.PathEscape(signature)+"/deactivate", nil)
}

// AllocateSlot claims a concurrent user slot for sessionID
func (c *Client) AllocateSlot(ctx context.Context, productKey, clientID, sessionID string) (*Result, error) {
	return c.post(ctx, "/api/slots", map[string]any{
		"productId":  c.productID,
		"productKey": productKey,
		"clientId":   clientID,
		"sessionId":  sessionID,
	})
}

func (c *Client) SlotHeartbeat(ctx context.Context, signature string) (*Result, error) {
	return c.post(ctx, "/api/slots/"+url.PathEscape(signature)+"/heartbeat", nil)
}

func (c *Client) ReleaseSlot(ctx context.Context, signature string) (*Result, error) {
	return c.post(ctx, "/api/slots/"+url.PathEscape(signature)+"/release", nil)
}

func (c *Client) post(ctx context.Context, path string, body any) (*Result, error) {
	if !c.IsClientConfigured() {
		return nil, ErrServerNotConfigured
	}

	var reader io.Reader = http.NoBody
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach activation server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload struct {
			Error   string `json:"error"`
			Outcome string `json:"outcome"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
			apiErr.Outcome = payload.Outcome
		}
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &result, nil
}

// VerifyOffline checks a license artifact without contacting the server.
// When trusted public keys are given the artifact must be signed by one of
// them. The license must also be inside its validity window at now, which
// includes validFrom and excludes validTo.
func VerifyOffline(licenseKey string, now time.Time, trusted ...string) (map[string]any, error) {
	artifact, err := signer.VerifyArtifact(strings.TrimSpace(licenseKey), trusted...)
	if err != nil {
		return nil, err
	}

	fields, err := artifact.Fields()
	if err != nil {
		return nil, err
	}

	validFrom, err := fieldTime(fields, "validFrom")
	if err != nil {
		return nil, err
	}
	validTo, err := fieldTime(fields, "validTo")
	if err != nil {
		return nil, err
	}

	if now.Before(validFrom) || !now.Before(validTo) {
		return fields, ErrLicenseInactive
	}

	return fields, nil
}

func fieldTime(fields map[string]any, name string) (time.Time, error) {
	raw, ok := fields[name].(string)
	if !ok {
		return time.Time{}, fmt.Errorf("%w: missing %s", signer.ErrMalformedArtifact, name)
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: invalid %s", signer.ErrMalformedArtifact, name)
	}
	return t, nil
}

// maskKey masks a key for logging (shows first 8 chars + ***)
func maskKey(key string) string {
	if len(key) <= 8 {
		return "***"
	}
	return key[:8] + "***"
}
