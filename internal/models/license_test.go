// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLicenseModel(t *testing.T) {
	tests := []struct {
		input    string
		expected LicenseModel
		wantErr  bool
	}{
		{input: "file_based", expected: LicenseModelFileBased},
		{input: "File-Based", expected: LicenseModelFileBased},
		{input: "fileBased", expected: LicenseModelFileBased},
		{input: " online_key ", expected: LicenseModelOnlineKey},
		{input: "online-key", expected: LicenseModelOnlineKey},
		{input: "volumetric", expected: LicenseModelVolumetric},
		{input: "VOLUME", expected: LicenseModelVolumetric},
		{input: "subscription", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			model, err := ParseLicenseModel(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, model)
		})
	}
}

func TestRequiresActivation(t *testing.T) {
	assert.False(t, LicenseModelFileBased.RequiresActivation())
	assert.True(t, LicenseModelOnlineKey.RequiresActivation())
	assert.True(t, LicenseModelVolumetric.RequiresActivation())
}

func TestActivationTransitions(t *testing.T) {
	all := []ActivationStatus{
		ActivationStatusPending,
		ActivationStatusActive,
		ActivationStatusInactive,
		ActivationStatusSuspended,
		ActivationStatusExpired,
		ActivationStatusRevoked,
	}

	allowed := map[ActivationStatus][]ActivationStatus{
		ActivationStatusPending:   {ActivationStatusActive, ActivationStatusRevoked},
		ActivationStatusActive:    {ActivationStatusInactive, ActivationStatusSuspended, ActivationStatusExpired, ActivationStatusRevoked},
		ActivationStatusInactive:  {ActivationStatusActive, ActivationStatusRevoked},
		ActivationStatusSuspended: {ActivationStatusInactive, ActivationStatusRevoked},
		ActivationStatusExpired:   {ActivationStatusRevoked},
	}

	for _, from := range all {
		for _, to := range all {
			expected := false
			for _, ok := range allowed[from] {
				if ok == to {
					expected = true
				}
			}
			assert.Equal(t, expected, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}
}

func TestLicenseTransitions(t *testing.T) {
	assert.True(t, LicenseStatusActive.CanTransitionTo(LicenseStatusSuspended))
	assert.True(t, LicenseStatusSuspended.CanTransitionTo(LicenseStatusActive))
	assert.True(t, LicenseStatusExpired.CanTransitionTo(LicenseStatusRevoked))
	assert.False(t, LicenseStatusExpired.CanTransitionTo(LicenseStatusActive))
	assert.False(t, LicenseStatusRevoked.CanTransitionTo(LicenseStatusActive))
	assert.False(t, LicenseStatusRevoked.CanTransitionTo(LicenseStatusRevoked))
}

func TestSignedFields(t *testing.T) {
	tier := "tier-pro"
	license := &ProductLicense{
		ID:             "lic-1",
		ProductID:      "product-1",
		ConsumerID:     "consumer-1",
		TierID:         &tier,
		Model:          LicenseModelOnlineKey,
		ValidFrom:      time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600)),
		ValidTo:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		IssuedAt:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		Features:       []string{"sso", "audit"},
		ProductKey:     "ABCD-EFGH-JKLM-NPQR",
		MaxActivations: 3,
		KeyID:          "key-1",
		Status:         LicenseStatusRevoked,
		LicenseKey:     "LIC1.x.y.z",
	}

	fields := license.SignedFields()

	assert.Equal(t, "2024-12-31T23:00:00Z", fields["validFrom"])
	assert.Equal(t, []string{"audit", "sso"}, fields["features"])
	assert.Equal(t, "tier-pro", fields["tierId"])
	assert.Equal(t, 3, fields["maxActivations"])
	assert.NotContains(t, fields, "status")
	assert.NotContains(t, fields, "licenseKey")
	assert.NotContains(t, fields, "maxConcurrentUsers")
	assert.NotContains(t, fields, "minVersion")

	// The caller's slice is left untouched
	assert.Equal(t, []string{"sso", "audit"}, license.Features)
}

func TestIsValidAt(t *testing.T) {
	license := &ProductLicense{
		Status:    LicenseStatusActive,
		ValidFrom: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		ValidTo:   time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC),
	}

	assert.True(t, license.IsValidAt(license.ValidFrom))
	assert.True(t, license.IsValidAt(license.ValidTo.Add(-time.Second)))
	assert.False(t, license.IsValidAt(license.ValidTo))
	assert.False(t, license.IsValidAt(license.ValidFrom.Add(-time.Second)))

	license.Status = LicenseStatusSuspended
	assert.False(t, license.IsValidAt(license.ValidFrom))
}

func TestSupportsVersion(t *testing.T) {
	license := &ProductLicense{MinVersion: "2.0.0", MaxVersion: "2.9.9"}

	tests := []struct {
		version  string
		expected bool
		wantErr  bool
	}{
		{version: "2.0.0", expected: true},
		{version: "2.4.1", expected: true},
		{version: "v2.9.9", expected: true},
		{version: "1.9.9", expected: false},
		{version: "3.0.0", expected: false},
		{version: "not-a-version", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			ok, err := license.SupportsVersion(tt.version)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ok)
		})
	}

	unbounded := &ProductLicense{}
	ok, err := unbounded.SupportsVersion("99.0.0")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestActivationCap(t *testing.T) {
	license := &ProductLicense{MaxActivations: 3, MaxConcurrentUsers: 25}
	assert.Equal(t, 3, license.ActivationCap(ActivationKindDevice))
	assert.Equal(t, 25, license.ActivationCap(ActivationKindSlot))
}

func TestActivationClone(t *testing.T) {
	original := &ProductActivation{ID: "a", Metadata: map[string]string{"host": "one"}}
	clone := original.Clone()
	clone.Metadata["host"] = "two"
	clone.Status = ActivationStatusActive

	assert.Equal(t, "one", original.Metadata["host"])
	assert.Empty(t, original.Status)
}
