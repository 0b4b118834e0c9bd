// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrKeyPairNotFound      = errors.New("key pair not found")
	ErrActiveKeyPairExists  = errors.New("product already has an active key pair")
	ErrNoActiveKeyPairFound = errors.New("product has no active key pair")
)

// KeyPair is a product's signing material. PrivateKey holds PEM in memory;
// the store persists whatever the caller put there, which is sealed.
type KeyPair struct {
	KeyID         string     `json:"keyId"`
	ProductID     string     `json:"productId"`
	Algorithm     string     `json:"algorithm"`
	KeySize       int        `json:"keySize"`
	PublicKey     string     `json:"publicKey"`
	PrivateKey    string     `json:"-"`
	IsActive      bool       `json:"isActive"`
	CreatedAt     time.Time  `json:"createdAt"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
}

type KeyPairStore struct {
	db *sql.DB
}

func NewKeyPairStore(db *sql.DB) *KeyPairStore {
	return &KeyPairStore{db: db}
}

const keyPairColumns = `key_id, product_id, algorithm, key_size, public_key, private_key,
		       is_active, created_at, deactivated_at`

func (s *KeyPairStore) GetActive(ctx context.Context, productID string) (*KeyPair, error) {
	query := `SELECT ` + keyPairColumns + ` FROM key_pairs WHERE product_id = ? AND is_active = 1`

	kp, err := scanKeyPair(s.db.QueryRowContext(ctx, query, productID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyPairNotFound
	}
	if err != nil {
		return nil, err
	}

	return kp, nil
}

func (s *KeyPairStore) GetByKeyID(ctx context.Context, keyID string) (*KeyPair, error) {
	query := `SELECT ` + keyPairColumns + ` FROM key_pairs WHERE key_id = ?`

	kp, err := scanKeyPair(s.db.QueryRowContext(ctx, query, keyID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyPairNotFound
	}
	if err != nil {
		return nil, err
	}

	return kp, nil
}

// ListByProduct returns active and archived pairs, newest first
func (s *KeyPairStore) ListByProduct(ctx context.Context, productID string) ([]*KeyPair, error) {
	query := `SELECT ` + keyPairColumns + ` FROM key_pairs WHERE product_id = ? ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pairs []*KeyPair
	for rows.Next() {
		kp, err := scanKeyPair(rows)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, kp)
	}

	return pairs, rows.Err()
}

// InsertActive stores the first active pair of a product. The partial unique
// index on (product_id) WHERE is_active = 1 rejects a second active pair.
func (s *KeyPairStore) InsertActive(ctx context.Context, kp *KeyPair) error {
	if err := insertKeyPair(ctx, s.db, kp); err != nil {
		if isUniqueViolation(err) {
			return ErrActiveKeyPairExists
		}
		return err
	}
	return nil
}

// Rotate archives the current active pair and activates next in one transaction
func (s *KeyPairStore) Rotate(ctx context.Context, productID string, next *KeyPair) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx,
		`UPDATE key_pairs SET is_active = 0, deactivated_at = ? WHERE product_id = ? AND is_active = 1`,
		next.CreatedAt.UTC(), productID,
	); err != nil {
		return fmt.Errorf("failed to archive active key pair: %w", err)
	}

	if err = insertKeyPair(ctx, tx, next); err != nil {
		return fmt.Errorf("failed to insert rotated key pair: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit key rotation: %w", err)
	}

	return nil
}

// Deactivate archives the active pair without replacing it
func (s *KeyPairStore) Deactivate(ctx context.Context, productID string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE key_pairs SET is_active = 0, deactivated_at = ? WHERE product_id = ? AND is_active = 1`,
		at.UTC(), productID,
	)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrNoActiveKeyPairFound
	}

	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertKeyPair(ctx context.Context, db execer, kp *KeyPair) error {
	query := `
		INSERT INTO key_pairs (` + keyPairColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.ExecContext(ctx, query,
		kp.KeyID,
		kp.ProductID,
		kp.Algorithm,
		kp.KeySize,
		kp.PublicKey,
		kp.PrivateKey,
		kp.IsActive,
		kp.CreatedAt.UTC(),
		utcPtr(kp.DeactivatedAt),
	)
	return err
}

func scanKeyPair(row rowScanner) (*KeyPair, error) {
	kp := &KeyPair{}
	err := row.Scan(
		&kp.KeyID,
		&kp.ProductID,
		&kp.Algorithm,
		&kp.KeySize,
		&kp.PublicKey,
		&kp.PrivateKey,
		&kp.IsActive,
		&kp.CreatedAt,
		&kp.DeactivatedAt,
	)
	if err != nil {
		return nil, err
	}
	return kp, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
