// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/licensor/internal/activation"
	"github.com/autobrr/licensor/internal/api"
	"github.com/autobrr/licensor/internal/database"
	"github.com/autobrr/licensor/internal/generation"
	"github.com/autobrr/licensor/internal/keyvault"
	"github.com/autobrr/licensor/internal/models"
	"github.com/autobrr/licensor/internal/signer"
)

type server struct {
	url     string
	factory *generation.Factory
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()

	db, err := database.New(filepath.Join(t.TempDir(), "client.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	licenses := models.NewLicenseStore(db.Conn())
	activations := models.NewActivationStore(db.Conn())
	directory := models.NewDirectoryStore(db.Conn())

	vault, err := keyvault.New(models.NewKeyPairStore(db.Conn()), bytes.Repeat([]byte{9}, 32), keyvault.Config{Algorithm: signer.AlgorithmEd25519})
	require.NoError(t, err)
	t.Cleanup(vault.Close)

	now := time.Now().UTC()
	require.NoError(t, directory.CreateProduct(ctx, &models.Product{ID: "product-1", Name: "Widget Studio", CreatedAt: now}))
	require.NoError(t, directory.CreateConsumer(ctx, &models.Consumer{ID: "consumer-1", Name: "Acme Ops", Email: "ops@acme.test", CreatedAt: now}))

	factory := generation.NewFactory(vault, licenses, activations, directory, generation.Options{DefaultValidity: 30 * 24 * time.Hour})
	engine := activation.NewEngine(licenses, activations, activation.Options{})

	router := api.NewRouter(&api.Dependencies{
		DB:             db,
		Vault:          vault,
		Factory:        factory,
		Engine:         engine,
		LicenseStore:   licenses,
		DirectoryStore: directory,
	})

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)

	return &server{url: ts.URL, factory: factory}
}

func (s *server) issue(t *testing.T, model models.LicenseModel, maxActivations, maxUsers int) *models.ProductLicense {
	t.Helper()

	license, err := s.factory.Generate(context.Background(), &generation.Request{
		ProductID:          "product-1",
		ConsumerID:         "consumer-1",
		Model:              model,
		MaxActivations:     maxActivations,
		MaxConcurrentUsers: maxUsers,
	}, "release-bot")
	require.NoError(t, err)
	return license
}

func TestNewClient(t *testing.T) {
	client := NewClient("https://licensing.example.com/", "product-1")
	require.NotNil(t, client)
	require.NotNil(t, client.httpClient)

	assert.Equal(t, requestTimeout, client.httpClient.Timeout)
	assert.Equal(t, "https://licensing.example.com", client.baseURL)
	assert.True(t, client.IsClientConfigured())
}

func TestUnconfiguredClient(t *testing.T) {
	client := NewClient("", "product-1")
	assert.False(t, client.IsClientConfigured())

	_, err := client.Activate(context.Background(), "ABCD-EFGH-JKLM-NPQR", "device-a", nil)
	assert.ErrorIs(t, err, ErrServerNotConfigured)
}

func TestActivationRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newServer(t)
	license := s.issue(t, models.LicenseModelOnlineKey, 1, 0)

	client := NewClient(s.url, "product-1")

	result, err := client.Activate(ctx, license.ProductKey, "device-a", map[string]string{"hostname": "build-01"})
	require.NoError(t, err)
	assert.Equal(t, "activated", result.Outcome)
	require.NotNil(t, result.Activation)
	require.NotEmpty(t, result.Activation.Signature)
	assert.Equal(t, "active", result.Activation.Status)
	require.NotNil(t, result.License)
	assert.Equal(t, license.ID, result.License.ID)

	_, err = client.Activate(ctx, license.ProductKey, "device-b", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrLimitExceeded)

	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)

	heartbeat, err := client.Heartbeat(ctx, result.Activation.Signature)
	require.NoError(t, err)
	assert.Equal(t, "heartbeat", heartbeat.Outcome)

	released, err := client.Deactivate(ctx, result.Activation.Signature)
	require.NoError(t, err)
	assert.Equal(t, "deactivated", released.Outcome)
	assert.Equal(t, 0, released.Used)

	_, err = client.Activate(ctx, license.ProductKey, "device-b", nil)
	require.NoError(t, err)
}

func TestActivateWrongKey(t *testing.T) {
	s := newServer(t)
	client := NewClient(s.url, "product-1")

	_, err := client.Activate(context.Background(), "ZZZZ-ZZZZ-ZZZZ-ZZZZ", "device-a", nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestSlotRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newServer(t)
	license := s.issue(t, models.LicenseModelVolumetric, 3, 1)

	client := NewClient(s.url, "product-1")

	slot, err := client.AllocateSlot(ctx, license.ProductKey, "workstation-1", "session-1")
	require.NoError(t, err)
	assert.Equal(t, "slot_allocated", slot.Outcome)
	assert.Equal(t, 1, slot.Capacity)

	_, err = client.AllocateSlot(ctx, license.ProductKey, "workstation-2", "session-2")
	assert.ErrorIs(t, err, ErrLimitExceeded)

	_, err = client.SlotHeartbeat(ctx, slot.Activation.Signature)
	require.NoError(t, err)

	released, err := client.ReleaseSlot(ctx, slot.Activation.Signature)
	require.NoError(t, err)
	assert.Equal(t, "slot_released", released.Outcome)
}

func TestVerifyOffline(t *testing.T) {
	s := newServer(t)
	license := s.issue(t, models.LicenseModelFileBased, 0, 0)

	fields, err := VerifyOffline(license.LicenseKey, time.Now())
	require.NoError(t, err)
	assert.Equal(t, license.ID, fields["id"])

	_, err = VerifyOffline(license.LicenseKey, time.Now(), license.PublicKey)
	require.NoError(t, err)

	other, err := signer.GenerateKeyPair(rand.Reader, signer.AlgorithmEd25519, 0)
	require.NoError(t, err)
	_, err = VerifyOffline(license.LicenseKey, time.Now(), other.PublicKeyPEM)
	assert.ErrorIs(t, err, signer.ErrUntrustedPublicKey)

	_, err = VerifyOffline(license.LicenseKey, license.ValidTo.Add(time.Hour))
	assert.ErrorIs(t, err, ErrLicenseInactive)

	_, err = VerifyOffline(license.LicenseKey, license.ValidFrom.Add(-time.Second))
	assert.ErrorIs(t, err, ErrLicenseInactive)

	_, err = VerifyOffline("not-a-license", time.Now())
	assert.ErrorIs(t, err, signer.ErrMalformedArtifact)
}

func TestVerifyOfflineValidityBoundaries(t *testing.T) {
	s := newServer(t)
	license := s.issue(t, models.LicenseModelFileBased, 0, 0)

	// artifact timestamps are second precision
	validFrom := license.ValidFrom.Truncate(time.Second)
	validTo := license.ValidTo.Truncate(time.Second)

	tests := []struct {
		name  string
		at    time.Time
		valid bool
	}{
		{name: "at_valid_from", at: validFrom, valid: true},
		{name: "one_second_before_valid_to", at: validTo.Add(-time.Second), valid: true},
		{name: "at_valid_to", at: validTo, valid: false},
		{name: "one_second_after_valid_to", at: validTo.Add(time.Second), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyOffline(license.LicenseKey, tt.at)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrLicenseInactive)
			}

			stored := *license
			stored.ValidFrom, stored.ValidTo = validFrom, validTo
			assert.Equal(t, tt.valid, stored.IsValidAt(tt.at), "server and offline checks disagree")
		})
	}
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "***", maskKey("short"))
	assert.Equal(t, "ABCD-EFG***", maskKey("ABCD-EFGH-JKLM-NPQR"))
}
