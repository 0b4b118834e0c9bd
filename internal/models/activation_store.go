// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrActivationNotFound = errors.New("activation not found")

type ActivationStore struct {
	db *sql.DB
}

func NewActivationStore(db *sql.DB) *ActivationStore {
	return &ActivationStore{db: db}
}

const activationColumns = `id, license_id, kind, product_key, client_id, session_id,
		       activation_signature, status, activation_start, activation_end,
		       last_heartbeat, metadata, created_at, updated_at`

func (s *ActivationStore) Create(ctx context.Context, activation *ProductActivation) error {
	metadata, err := encodeJSON(activation.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO activations (` + activationColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		activation.ID,
		activation.LicenseID,
		string(activation.Kind),
		activation.ProductKey,
		activation.ClientID,
		activation.SessionID,
		nullString(activation.ActivationSignature),
		string(activation.Status),
		utcPtr(activation.ActivationStart),
		utcPtr(activation.ActivationEnd),
		utcPtr(activation.LastHeartbeat),
		metadata,
		activation.CreatedAt.UTC(),
		activation.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert activation: %w", err)
	}

	return nil
}

func (s *ActivationStore) Get(ctx context.Context, id string) (*ProductActivation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE id = ?`
	return s.queryOne(ctx, query, id)
}

func (s *ActivationStore) GetBySignature(ctx context.Context, signature string) (*ProductActivation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE activation_signature = ?`
	return s.queryOne(ctx, query, signature)
}

func (s *ActivationStore) ListByLicense(ctx context.Context, licenseID string) ([]*ProductActivation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations WHERE license_id = ? ORDER BY created_at`
	return s.queryMany(ctx, query, licenseID)
}

// FindForClient returns the most recent activation a client holds on a license
func (s *ActivationStore) FindForClient(ctx context.Context, licenseID string, kind ActivationKind, clientID, sessionID string) (*ProductActivation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations
		WHERE license_id = ? AND kind = ? AND client_id = ? AND session_id = ?
		ORDER BY created_at DESC
		LIMIT 1`
	return s.queryOne(ctx, query, licenseID, string(kind), clientID, sessionID)
}

// FindUnclaimed returns a pending shell created at issuance that no client owns yet
func (s *ActivationStore) FindUnclaimed(ctx context.Context, licenseID string, kind ActivationKind) (*ProductActivation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations
		WHERE license_id = ? AND kind = ? AND status = ? AND client_id = ''
		ORDER BY created_at
		LIMIT 1`
	return s.queryOne(ctx, query, licenseID, string(kind), string(ActivationStatusPending))
}

func (s *ActivationStore) Update(ctx context.Context, activation *ProductActivation) error {
	metadata, err := encodeJSON(activation.Metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		UPDATE activations
		SET client_id = ?, session_id = ?, activation_signature = ?, status = ?,
		    activation_start = ?, activation_end = ?, last_heartbeat = ?,
		    metadata = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		activation.ClientID,
		activation.SessionID,
		nullString(activation.ActivationSignature),
		string(activation.Status),
		utcPtr(activation.ActivationStart),
		utcPtr(activation.ActivationEnd),
		utcPtr(activation.LastHeartbeat),
		metadata,
		activation.UpdatedAt.UTC(),
		activation.ID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrActivationNotFound
	}

	return nil
}

func (s *ActivationStore) CountActive(ctx context.Context, licenseID string, kind ActivationKind) (int, error) {
	query := `SELECT COUNT(*) FROM activations WHERE license_id = ? AND kind = ? AND status = ?`

	var count int
	err := s.db.QueryRowContext(ctx, query, licenseID, string(kind), string(ActivationStatusActive)).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

// ListStale returns active activations of a kind whose heartbeat predates before
func (s *ActivationStore) ListStale(ctx context.Context, kind ActivationKind, before time.Time) ([]*ProductActivation, error) {
	query := `SELECT ` + activationColumns + ` FROM activations
		WHERE kind = ? AND status = ? AND last_heartbeat < ?
		ORDER BY license_id, last_heartbeat`
	return s.queryMany(ctx, query, string(kind), string(ActivationStatusActive), before.UTC())
}

func (s *ActivationStore) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, status, COUNT(*) FROM activations GROUP BY kind, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var kind, status string
		var count int
		if err := rows.Scan(&kind, &status, &count); err != nil {
			return nil, err
		}
		counts = append(counts, StatusCount{
			Kind:   ActivationKind(kind),
			Status: ActivationStatus(status),
			Count:  count,
		})
	}

	return counts, rows.Err()
}

func (s *ActivationStore) queryOne(ctx context.Context, query string, args ...any) (*ProductActivation, error) {
	activation, err := scanActivation(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrActivationNotFound
	}
	if err != nil {
		return nil, err
	}
	return activation, nil
}

func (s *ActivationStore) queryMany(ctx context.Context, query string, args ...any) ([]*ProductActivation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activations []*ProductActivation
	for rows.Next() {
		activation, err := scanActivation(rows)
		if err != nil {
			return nil, err
		}
		activations = append(activations, activation)
	}

	return activations, rows.Err()
}

func scanActivation(row rowScanner) (*ProductActivation, error) {
	activation := &ProductActivation{}
	var (
		kind      string
		status    string
		signature sql.NullString
		metadata  sql.NullString
	)

	err := row.Scan(
		&activation.ID,
		&activation.LicenseID,
		&kind,
		&activation.ProductKey,
		&activation.ClientID,
		&activation.SessionID,
		&signature,
		&status,
		&activation.ActivationStart,
		&activation.ActivationEnd,
		&activation.LastHeartbeat,
		&metadata,
		&activation.CreatedAt,
		&activation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	activation.Kind = ActivationKind(kind)
	activation.Status = ActivationStatus(status)
	activation.ActivationSignature = signature.String

	if err := decodeJSON(metadata, &activation.Metadata); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}

	return activation, nil
}
