package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLedgerDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(Config{
		Path:    filepath.Join(t.TempDir(), "ledger.db"),
		Profile: ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, db.Migrate())
	return db
}

func TestMigrate_CreatesLedgerTables(t *testing.T) {
	db := newLedgerDB(t)

	for _, table := range []string{"registry", "strategies", "encrypted_inputs", "audit_events"} {
		var name string
		err := db.Conn().QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// Applying twice is a no-op.
	require.NoError(t, db.Migrate())
}

func TestMigrate_UnknownNameIsSkipped(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "other.db"), Name: "other"})
	require.NoError(t, err)
	defer db.Close()

	assert.NoError(t, db.Migrate())
	assert.Equal(t, ProfileStandard, db.Profile())
}

func TestAuditEvents_AreAppendOnly(t *testing.T) {
	db := newLedgerDB(t)

	_, err := db.Conn().Exec(`INSERT INTO audit_events (event_type, actor, payload, created_at) VALUES ('X', 'a', x'00', 1)`)
	require.NoError(t, err)

	_, err = db.Conn().Exec(`UPDATE audit_events SET event_type = 'Y'`)
	assert.Error(t, err)

	_, err = db.Conn().Exec(`DELETE FROM audit_events`)
	assert.Error(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db := newLedgerDB(t)
	boom := errors.New("boom")

	err := WithTransaction(context.Background(), db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO audit_events (event_type, actor, payload, created_at) VALUES ('X', 'a', x'00', 1)`)
		require.NoError(t, err)
		return boom
	})
	assert.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&count))
	assert.Equal(t, 0, count)
}

func TestWithTransaction_RecoversPanic(t *testing.T) {
	db := newLedgerDB(t)

	err := WithTransaction(context.Background(), db.Conn(), func(tx *sql.Tx) error {
		panic("unexpected")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in transaction")
}

func TestWithTransaction_Commits(t *testing.T) {
	db := newLedgerDB(t)

	err := WithTransaction(context.Background(), db.Conn(), func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO audit_events (event_type, actor, payload, created_at) VALUES ('X', 'a', x'00', 1)`)
		return err
	})
	require.NoError(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM audit_events`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestHealthAndMaintenance(t *testing.T) {
	db := newLedgerDB(t)
	ctx := context.Background()

	assert.NoError(t, db.QuickCheck(ctx))
	assert.NoError(t, db.HealthCheck(ctx))
	assert.NoError(t, db.WALCheckpoint(""))
	assert.Error(t, db.WALCheckpoint("BOGUS"))

	stats, err := db.GetStats()
	require.NoError(t, err)
	assert.Positive(t, stats.PageSize)

	snapshot := filepath.Join(t.TempDir(), "snap", "ledger.db")
	require.NoError(t, db.SnapshotTo(ctx, snapshot))
	info, err := os.Stat(snapshot)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}
