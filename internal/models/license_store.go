// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var ErrLicenseNotFound = errors.New("license not found")

type LicenseStore struct {
	db *sql.DB
}

func NewLicenseStore(db *sql.DB) *LicenseStore {
	return &LicenseStore{db: db}
}

const licenseColumns = `id, product_id, consumer_id, tier_id, model, valid_from, valid_to,
		       min_version, max_version, features, product_key, max_activations,
		       max_concurrent_users, license_key, public_key, signature, key_id, status,
		       issued_by, issued_at, revoked_at, revocation_reason, suspension_reason,
		       metadata, created_at, updated_at`

func (s *LicenseStore) Save(ctx context.Context, license *ProductLicense) error {
	features, err := encodeJSON(license.Features)
	if err != nil {
		return fmt.Errorf("failed to encode features: %w", err)
	}

	metadata, err := encodeJSON(license.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO licenses (` + licenseColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		license.ID,
		license.ProductID,
		license.ConsumerID,
		license.TierID,
		string(license.Model),
		license.ValidFrom.UTC(),
		license.ValidTo.UTC(),
		license.MinVersion,
		license.MaxVersion,
		features,
		nullString(license.ProductKey),
		license.MaxActivations,
		license.MaxConcurrentUsers,
		license.LicenseKey,
		license.PublicKey,
		license.Signature,
		license.KeyID,
		string(license.Status),
		license.IssuedBy,
		license.IssuedAt.UTC(),
		utcPtr(license.RevokedAt),
		license.RevocationReason,
		license.SuspensionReason,
		metadata,
		license.CreatedAt.UTC(),
		license.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert license: %w", err)
	}

	return nil
}

func (s *LicenseStore) Get(ctx context.Context, id string) (*ProductLicense, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE id = ?`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}

	return license, nil
}

func (s *LicenseStore) GetByProductKey(ctx context.Context, productKey string) (*ProductLicense, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses WHERE product_key = ?`

	license, err := scanLicense(s.db.QueryRowContext(ctx, query, productKey))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLicenseNotFound
	}
	if err != nil {
		return nil, err
	}

	return license, nil
}

// List returns licenses newest first, optionally filtered by product
func (s *LicenseStore) List(ctx context.Context, productID string) ([]*ProductLicense, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses`
	var args []any
	if productID != "" {
		query += ` WHERE product_id = ?`
		args = append(args, productID)
	}
	query += ` ORDER BY issued_at DESC`

	return s.queryLicenses(ctx, query, args...)
}

// ListExpirable returns non-terminal licenses whose validity window has closed
func (s *LicenseStore) ListExpirable(ctx context.Context, now time.Time) ([]*ProductLicense, error) {
	query := `SELECT ` + licenseColumns + ` FROM licenses
		WHERE status IN (?, ?) AND valid_to <= ?
		ORDER BY valid_to`

	return s.queryLicenses(ctx, query, string(LicenseStatusActive), string(LicenseStatusSuspended), now.UTC())
}

// UpdateStatus changes the lifecycle status at the given time. revoked_at
// and revocation_reason are only set for Revoked, suspension_reason only for
// Suspended. Signed fields are never touched here.
func (s *LicenseStore) UpdateStatus(ctx context.Context, id string, status LicenseStatus, at time.Time, reason *string) error {
	query := `
		UPDATE licenses
		SET status = ?, revoked_at = ?, revocation_reason = ?, suspension_reason = ?, updated_at = ?
		WHERE id = ?
	`

	var (
		revokedAt        *time.Time
		revocationReason *string
		suspensionReason *string
	)
	switch status {
	case LicenseStatusRevoked:
		revokedAt = &at
		revocationReason = reason
	case LicenseStatusSuspended:
		suspensionReason = reason
	}

	result, err := s.db.ExecContext(ctx, query, string(status), utcPtr(revokedAt), revocationReason, suspensionReason, at.UTC(), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrLicenseNotFound
	}

	return nil
}

func (s *LicenseStore) CountByStatus(ctx context.Context) (map[LicenseStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM licenses GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[LicenseStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[LicenseStatus(status)] = count
	}

	return counts, rows.Err()
}

func (s *LicenseStore) queryLicenses(ctx context.Context, query string, args ...any) ([]*ProductLicense, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var licenses []*ProductLicense
	for rows.Next() {
		license, err := scanLicense(rows)
		if err != nil {
			return nil, err
		}
		licenses = append(licenses, license)
	}

	return licenses, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLicense(row rowScanner) (*ProductLicense, error) {
	license := &ProductLicense{}
	var (
		model      string
		status     string
		features   sql.NullString
		metadata   sql.NullString
		productKey sql.NullString
	)

	err := row.Scan(
		&license.ID,
		&license.ProductID,
		&license.ConsumerID,
		&license.TierID,
		&model,
		&license.ValidFrom,
		&license.ValidTo,
		&license.MinVersion,
		&license.MaxVersion,
		&features,
		&productKey,
		&license.MaxActivations,
		&license.MaxConcurrentUsers,
		&license.LicenseKey,
		&license.PublicKey,
		&license.Signature,
		&license.KeyID,
		&status,
		&license.IssuedBy,
		&license.IssuedAt,
		&license.RevokedAt,
		&license.RevocationReason,
		&license.SuspensionReason,
		&metadata,
		&license.CreatedAt,
		&license.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	license.Model = LicenseModel(model)
	license.Status = LicenseStatus(status)
	license.ProductKey = productKey.String

	if err := decodeJSON(features, &license.Features); err != nil {
		return nil, fmt.Errorf("failed to decode features: %w", err)
	}
	if err := decodeJSON(metadata, &license.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return license, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(s sql.NullString, v any) error {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), v)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
