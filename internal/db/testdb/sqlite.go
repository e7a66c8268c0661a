package testdb

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/nftwatch/nftwatch/internal/db"
	"github.com/stretchr/testify/require"
)

func SetupTestDB(t *testing.T) (*sql.DB, func()) {
	sqlDB, err := db.OpenSqlite(filepath.Join(t.TempDir(), "sqlite", "test.db"))
	require.NoError(t, err)

	cleanup := func() {
		sqlDB.Close()
	}
	return sqlDB, cleanup
}

func SetupTestBadger(t *testing.T) (*badger.DB, func()) {
	bdb, err := db.OpenBadgerInMemory()
	require.NoError(t, err)

	cleanup := func() {
		bdb.Close()
	}
	return bdb, cleanup
}
