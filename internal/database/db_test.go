package database

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := New(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, db.Migrate())
	return db
}

func TestMigrate_Idempotent(t *testing.T) {
	db := newTestDB(t)

	// Running the schema twice must not fail.
	require.NoError(t, db.Migrate())

	// Spot-check a few tables exist.
	for _, table := range []string{"symbols", "daily_bars", "sync_errors", "audit_reports", "task_status"} {
		var name string
		err := db.Conn().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

func TestWithTransaction_Commit(t *testing.T) {
	db := newTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec("INSERT INTO watchlist (code) VALUES ('600519')")
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM watchlist").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransaction_RollbackOnError(t *testing.T) {
	db := newTestDB(t)

	sentinel := errors.New("boom")
	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec("INSERT INTO watchlist (code) VALUES ('600519')"); err != nil {
			return err
		}
		return sentinel
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, sentinel)

	var count int
	require.NoError(t, db.Conn().QueryRow("SELECT COUNT(*) FROM watchlist").Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_RecoverPanic(t *testing.T) {
	db := newTestDB(t)

	err := WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestNew_PoolSizeFollowsConfig(t *testing.T) {
	db, err := New(Config{
		Path:         filepath.Join(t.TempDir(), "pool.db"),
		MaxOpenConns: 16,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Equal(t, 16, db.Conn().Stats().MaxOpenConnections)
}

func TestHealthCheck(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.HealthCheck(context.Background()))
	require.NoError(t, db.QuickCheck(context.Background()))
}

func TestSyncErrors_OneOpenRowPerTarget(t *testing.T) {
	db := newTestDB(t)

	_, err := db.Conn().Exec(
		"INSERT INTO sync_errors (task_name, target_code, error_kind, message) VALUES ('daily_quotes', '600519', 'upstream_unavailable', 'x')")
	require.NoError(t, err)

	// A second unresolved row for the same (task, target) violates the
	// partial unique index.
	_, err = db.Conn().Exec(
		"INSERT INTO sync_errors (task_name, target_code, error_kind, message) VALUES ('daily_quotes', '600519', 'rate_limited', 'y')")
	require.Error(t, err)

	// Resolving the open row frees the slot.
	_, err = db.Conn().Exec("UPDATE sync_errors SET resolved_at = datetime('now')")
	require.NoError(t, err)
	_, err = db.Conn().Exec(
		"INSERT INTO sync_errors (task_name, target_code, error_kind, message) VALUES ('daily_quotes', '600519', 'rate_limited', 'y')")
	require.NoError(t, err)
}
