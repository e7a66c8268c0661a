package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nftwatch/nftwatch/internal/config"
	"github.com/nftwatch/nftwatch/internal/db/testdb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func storesUnderTest(t *testing.T) map[string]Store {
	sqlDB, sqlCleanup := testdb.SetupTestDB(t)
	t.Cleanup(sqlCleanup)
	bdb, badgerCleanup := testdb.SetupTestBadger(t)
	t.Cleanup(badgerCleanup)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   NewFileStore(filepath.Join(t.TempDir(), "data", "state.json")),
		"badger": NewBadgerStore(bdb, false),
		"sqlite": NewSqliteStore(sqlDB, false),
	}
}

func TestStores_LoadMissing(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			snap, found, err := store.Load(context.Background(), "sale")
			require.NoError(t, err)
			assert.False(t, found)
			assert.Equal(t, StreamSnapshot{}, snap)
		})
	}
}

func TestStores_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			sale := StreamSnapshot{Anchor: "h3", Seeded: true, Seen: []string{"h1", "h2", "h3"}}
			mint := StreamSnapshot{Seeded: true}

			require.NoError(t, store.Save(ctx, "sale", sale))
			require.NoError(t, store.Save(ctx, "mint", mint))

			got, found, err := store.Load(ctx, "sale")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, sale, got)

			got, found, err = store.Load(ctx, "mint")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, "", got.Anchor)
			assert.True(t, got.Seeded)
			assert.Empty(t, got.Seen)

			// overwrite shrinks the seen list
			sale2 := StreamSnapshot{Anchor: "h4", Seeded: true, Seen: []string{"h4"}}
			require.NoError(t, store.Save(ctx, "sale", sale2))
			got, _, err = store.Load(ctx, "sale")
			require.NoError(t, err)
			assert.Equal(t, sale2, got)

			require.NoError(t, store.Close())
		})
	}
}

func TestStores_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func(i int) {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						h := fmt.Sprintf("h%d-%d", i, j)
						assert.NoError(t, store.Save(ctx, "sale", StreamSnapshot{Anchor: h, Seeded: true, Seen: []string{h}}))
						_, _, err := store.Load(ctx, "sale")
						assert.NoError(t, err)
					}
				}(i)
			}
			wg.Wait()

			got, found, err := store.Load(ctx, "sale")
			require.NoError(t, err)
			assert.True(t, found)
			assert.Equal(t, []string{got.Anchor}, got.Seen)
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	seen := []string{"a"}
	require.NoError(t, store.Save(ctx, "sale", StreamSnapshot{Seen: seen}))
	seen[0] = "mutated"

	got, _, err := store.Load(ctx, "sale")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, got.Seen)
}

func TestFileStore_ReadsLegacyFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"seen_sales":["s1","s2"],"seen_mints":[]}`), 0o644))

	store := NewFileStore(path)
	sale, found, err := store.Load(context.Background(), "sale")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, StreamSnapshot{Seeded: true, Seen: []string{"s1", "s2"}}, sale)

	_, found, err = store.Load(context.Background(), "mint")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStore_WritesBothFormats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store := NewFileStore(path)
	require.NoError(t, store.Save(context.Background(), "sale", StreamSnapshot{Anchor: "s2", Seeded: true, Seen: []string{"s1", "s2"}}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"seen_sales": [`)
	assert.Contains(t, string(data), `"seen_mints": []`)
	assert.Contains(t, string(data), `"anchor": "s2"`)
	assert.NoFileExists(t, path+".tmp")

	// a fresh store reads the new format back
	reread := NewFileStore(path)
	snap, found, err := reread.Load(context.Background(), "sale")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "s2", snap.Anchor)
}

func TestFileStore_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	_, _, err := NewFileStore(path).Load(context.Background(), "sale")
	assert.ErrorContains(t, err, "parse state file")
	assert.ErrorIs(t, err, ErrCorruptState)

	_, _, err = NewFileStore(t.TempDir()).Load(context.Background(), "sale")
	assert.ErrorContains(t, err, "is a directory")
}

func TestFileStore_CorruptFileIsReplaced(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json`), 0o644))

	store := NewFileStore(path)
	_, found, err := store.Load(ctx, "sale")
	require.ErrorIs(t, err, ErrCorruptState)
	assert.False(t, found)

	kept, err := os.ReadFile(path + ".corrupt")
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(kept))

	snap := StreamSnapshot{Anchor: "H2", Seeded: true, Seen: []string{"H1", "H2"}}
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(ctx, "sale", snap))
	}

	got, found, err := store.Load(ctx, "sale")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, snap, got)

	reopened, found, err := NewFileStore(path).Load(ctx, "sale")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, snap, reopened)
}

func TestFileStore_SaveAfterCorruptLoadOnFreshStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte(`[1,2`), 0o644))

	store := NewFileStore(path)
	require.NoError(t, store.Save(ctx, "mint", StreamSnapshot{Seeded: true}))

	got, found, err := NewFileStore(path).Load(ctx, "mint")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, got.Seeded)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		backend string
		path    string
		want    any
	}{
		{config.StateBackendFile, filepath.Join(dir, "state.json"), &FileStore{}},
		{config.StateBackendBadger, filepath.Join(dir, "badger"), &BadgerStore{}},
		{config.StateBackendSqlite, filepath.Join(dir, "state.db"), &SqliteStore{}},
		{config.StateBackendMemory, "", &MemoryStore{}},
	}
	for _, tc := range cases {
		t.Run(tc.backend, func(t *testing.T) {
			store, err := Open(config.Config{StateBackend: tc.backend, StatePath: tc.path})
			require.NoError(t, err)
			assert.IsType(t, tc.want, store)
			require.NoError(t, store.Save(context.Background(), "mint", StreamSnapshot{Seeded: true}))
			require.NoError(t, store.Close())
		})
	}

	_, err := Open(config.Config{StateBackend: "redis"})
	assert.ErrorContains(t, err, `unknown state backend "redis"`)
}
