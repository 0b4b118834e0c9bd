// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package database

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationIdempotency(t *testing.T) {
	ctx := t.Context()

	// Create temp directory for test database
	tmpDir, err := os.MkdirTemp("", "licensor-test-idempotent-*")
	require.NoError(t, err)
	defer os.RemoveAll(tmpDir)

	dbPath := filepath.Join(tmpDir, "test.db")

	// Initialize database first time
	db1, err := New(dbPath)
	require.NoError(t, err, "Failed to initialize database first time")

	// Count migrations applied
	var count1 int
	err = db1.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations").Scan(&count1)
	require.NoError(t, err, "Failed to count migrations")
	db1.Close()

	// Initialize database second time (should be idempotent)
	db2, err := New(dbPath)
	require.NoError(t, err, "Failed to initialize database second time")
	defer db2.Close()

	// Count migrations applied again
	var count2 int
	err = db2.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM migrations").Scan(&count2)
	require.NoError(t, err, "Failed to count migrations")

	assert.Equal(t, count1, count2, "Migration count should be the same after re-initialization")
	assert.Equal(t, 3, count2, "Should have exactly 3 migrations applied")
}

func TestSingleActiveKeyPairPerProduct(t *testing.T) {
	ctx := t.Context()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO key_pairs (key_id, product_id, algorithm, key_size, public_key, private_key, is_active, created_at)
		VALUES (?, 'product-1', 'rsa', 2048, 'pub', 'priv', ?, CURRENT_TIMESTAMP)`

	_, err = db.Conn().ExecContext(ctx, insert, "key-1", true)
	require.NoError(t, err)

	_, err = db.Conn().ExecContext(ctx, insert, "key-2", true)
	require.Error(t, err, "second active key pair must be rejected")
	assert.Contains(t, err.Error(), "UNIQUE constraint failed")

	// Archived pairs are unrestricted
	_, err = db.Conn().ExecContext(ctx, insert, "key-3", false)
	require.NoError(t, err)
	_, err = db.Conn().ExecContext(ctx, insert, "key-4", false)
	require.NoError(t, err)
}

func TestForeignKeysEnforced(t *testing.T) {
	ctx := t.Context()

	db, err := New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Conn().ExecContext(ctx,
		`INSERT INTO activations (id, license_id, status, created_at, updated_at)
		 VALUES ('act-1', 'missing-license', 'pending', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FOREIGN KEY constraint failed")

	require.NoError(t, db.Ping(ctx))
}
