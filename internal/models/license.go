// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
)

// LicenseModel is the activation paradigm a license is issued under
type LicenseModel string

const (
	LicenseModelFileBased  LicenseModel = "file_based"
	LicenseModelOnlineKey  LicenseModel = "online_key"
	LicenseModelVolumetric LicenseModel = "volumetric"
)

// LicenseModels lists every supported model in a stable order
var LicenseModels = []LicenseModel{
	LicenseModelFileBased,
	LicenseModelOnlineKey,
	LicenseModelVolumetric,
}

// ParseLicenseModel accepts the canonical tag as well as the
// dash and camel case spellings used by older clients.
func ParseLicenseModel(s string) (LicenseModel, error) {
	normalized := strings.ToLower(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "-", "_")

	switch normalized {
	case "file_based", "filebased", "file":
		return LicenseModelFileBased, nil
	case "online_key", "onlinekey", "online":
		return LicenseModelOnlineKey, nil
	case "volumetric", "volume":
		return LicenseModelVolumetric, nil
	}

	return "", fmt.Errorf("unknown license model %q", s)
}

func (m LicenseModel) String() string {
	return string(m)
}

// RequiresActivation reports whether clients must call the activation server
func (m LicenseModel) RequiresActivation() bool {
	return m == LicenseModelOnlineKey || m == LicenseModelVolumetric
}

// LicenseStatus is the soft-delete lifecycle state of an issued license
type LicenseStatus string

const (
	LicenseStatusActive    LicenseStatus = "active"
	LicenseStatusSuspended LicenseStatus = "suspended"
	LicenseStatusExpired   LicenseStatus = "expired"
	LicenseStatusRevoked   LicenseStatus = "revoked"
)

var licenseTransitions = map[LicenseStatus][]LicenseStatus{
	LicenseStatusActive:    {LicenseStatusSuspended, LicenseStatusExpired, LicenseStatusRevoked},
	LicenseStatusSuspended: {LicenseStatusActive, LicenseStatusExpired, LicenseStatusRevoked},
	LicenseStatusExpired:   {LicenseStatusRevoked},
	LicenseStatusRevoked:   {},
}

// CanTransitionTo reports whether the license status table allows s -> next
func (s LicenseStatus) CanTransitionTo(next LicenseStatus) bool {
	for _, allowed := range licenseTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ProductLicense represents an issued, signed license
type ProductLicense struct {
	ID                 string            `json:"id"`
	ProductID          string            `json:"productId"`
	ConsumerID         string            `json:"consumerId"`
	TierID             *string           `json:"tierId,omitempty"`
	Model              LicenseModel      `json:"model"`
	ValidFrom          time.Time         `json:"validFrom"`
	ValidTo            time.Time         `json:"validTo"`
	MinVersion         string            `json:"minVersion,omitempty"`
	MaxVersion         string            `json:"maxVersion,omitempty"`
	Features           []string          `json:"features,omitempty"`
	ProductKey         string            `json:"productKey,omitempty"`
	MaxActivations     int               `json:"maxActivations,omitempty"`
	MaxConcurrentUsers int               `json:"maxConcurrentUsers,omitempty"`
	LicenseKey         string            `json:"licenseKey"`
	PublicKey          string            `json:"publicKey"`
	Signature          string            `json:"signature"`
	KeyID              string            `json:"keyId"`
	Status             LicenseStatus     `json:"status"`
	IssuedBy           string            `json:"issuedBy"`
	IssuedAt           time.Time         `json:"issuedAt"`
	RevokedAt          *time.Time        `json:"revokedAt,omitempty"`
	RevocationReason   *string           `json:"revocationReason,omitempty"`
	SuspensionReason   *string           `json:"suspensionReason,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	CreatedAt          time.Time         `json:"createdAt"`
	UpdatedAt          time.Time         `json:"updatedAt"`
}

// SignedFields returns the attributes covered by the license signature.
// Status, revocation and the artifact itself are excluded because they
// change after issuance or are produced by signing.
func (l *ProductLicense) SignedFields() map[string]any {
	fields := map[string]any{
		"id":         l.ID,
		"productId":  l.ProductID,
		"consumerId": l.ConsumerID,
		"model":      string(l.Model),
		"validFrom":  formatTimestamp(l.ValidFrom),
		"validTo":    formatTimestamp(l.ValidTo),
		"issuedAt":   formatTimestamp(l.IssuedAt),
		"issuedBy":   l.IssuedBy,
		"keyId":      l.KeyID,
	}

	if l.TierID != nil && *l.TierID != "" {
		fields["tierId"] = *l.TierID
	}
	if l.MinVersion != "" {
		fields["minVersion"] = l.MinVersion
	}
	if l.MaxVersion != "" {
		fields["maxVersion"] = l.MaxVersion
	}
	if len(l.Features) > 0 {
		features := append([]string(nil), l.Features...)
		sort.Strings(features)
		fields["features"] = features
	}
	if l.ProductKey != "" {
		fields["productKey"] = l.ProductKey
	}
	if l.MaxActivations > 0 {
		fields["maxActivations"] = l.MaxActivations
	}
	if l.MaxConcurrentUsers > 0 {
		fields["maxConcurrentUsers"] = l.MaxConcurrentUsers
	}
	if len(l.Metadata) > 0 {
		metadata := make(map[string]string, len(l.Metadata))
		for k, v := range l.Metadata {
			metadata[k] = v
		}
		fields["metadata"] = metadata
	}

	return fields
}

// IsValidAt returns true if the license is active and inside its validity window
func (l *ProductLicense) IsValidAt(t time.Time) bool {
	if l.Status != LicenseStatusActive {
		return false
	}
	return !t.Before(l.ValidFrom) && t.Before(l.ValidTo)
}

// SupportsVersion checks a product version against the min/max bounds
func (l *ProductLicense) SupportsVersion(version string) (bool, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false, fmt.Errorf("invalid product version %q: %w", version, err)
	}

	if l.MinVersion != "" {
		minVersion, err := semver.NewVersion(l.MinVersion)
		if err != nil {
			return false, fmt.Errorf("invalid minimum version %q: %w", l.MinVersion, err)
		}
		if v.LessThan(minVersion) {
			return false, nil
		}
	}

	if l.MaxVersion != "" {
		maxVersion, err := semver.NewVersion(l.MaxVersion)
		if err != nil {
			return false, fmt.Errorf("invalid maximum version %q: %w", l.MaxVersion, err)
		}
		if v.GreaterThan(maxVersion) {
			return false, nil
		}
	}

	return true, nil
}

// ActivationCap returns the capacity enforced for the given activation kind
func (l *ProductLicense) ActivationCap(kind ActivationKind) int {
	if kind == ActivationKindSlot {
		return l.MaxConcurrentUsers
	}
	return l.MaxActivations
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
