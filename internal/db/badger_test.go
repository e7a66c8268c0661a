package db

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func putGet(t *testing.T, db *badger.DB, key, value string) string {
	t.Helper()
	require.NoError(t, db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	}))
	var got string
	require.NoError(t, db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		got = string(val)
		return err
	}))
	return got
}

func TestOpenBadger(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "state", "badger")

	db, err := OpenBadger(dbPath)
	require.NoError(t, err)
	assert.Equal(t, `{"anchor":"H1"}`, putGet(t, db, "nftwatch:stream:sale", `{"anchor":"H1"}`))
	require.NoError(t, db.Close())

	info, err := os.Stat(filepath.Dir(dbPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.LessOrEqual(t, info.Mode().Perm(), os.FileMode(0o755))

	reopened, err := OpenBadger(dbPath)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte("nftwatch:stream:sale"))
		return err
	}))
}

func TestOpenBadger_ParentIsAFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(parent, []byte("{}"), 0o644))

	db, err := OpenBadger(filepath.Join(parent, "nested", "badger"))
	require.Error(t, err)
	assert.Nil(t, db)
	assert.ErrorContains(t, err, "failed to create directory")
}

func TestOpenBadger_SecondOpenIsRejected(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "badger")

	first, err := OpenBadger(dbPath)
	require.NoError(t, err)
	defer first.Close()

	second, err := OpenBadger(dbPath)
	require.Error(t, err)
	assert.Nil(t, second)
	assert.ErrorContains(t, err, "failed to open BadgerDB")
}

func TestOpenBadgerInMemory(t *testing.T) {
	db, err := OpenBadgerInMemory()
	require.NoError(t, err)
	defer db.Close()

	assert.True(t, db.Opts().InMemory)
	assert.Equal(t, "v", putGet(t, db, "k", "v"))
}

func TestZapAdapter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	adapter := zapAdapter{zap.New(core)}

	adapter.Errorf("compaction failed: %s", "disk full")
	adapter.Warningf("value log %d truncated", 3)
	adapter.Infof("replaying %s", "wal")
	adapter.Debugf("noisy %s", "detail")

	entries := logs.AllUntimed()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "compaction failed: disk full", entries[0].Message)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "value log 3 truncated", entries[1].Message)
	assert.Equal(t, zapcore.InfoLevel, entries[2].Level)
}
