package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"
)

const badgerPrefix = "nftwatch:stream:"

type BadgerStore struct {
	db     *badger.DB
	ownsDB bool
}

// NewBadgerStore wraps db. When ownsDB is set, Close closes db as well.
func NewBadgerStore(db *badger.DB, ownsDB bool) *BadgerStore {
	return &BadgerStore{db: db, ownsDB: ownsDB}
}

func (b *BadgerStore) Load(_ context.Context, stream string) (StreamSnapshot, bool, error) {
	var snap StreamSnapshot
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(badgerPrefix + stream))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &snap)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return StreamSnapshot{}, false, nil
	} else if err != nil {
		return StreamSnapshot{}, false, fmt.Errorf("failed to load %s state: %w", stream, err)
	}
	return snap, true, nil
}

func (b *BadgerStore) Save(_ context.Context, stream string, snap StreamSnapshot) error {
	val, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to encode %s state: %w", stream, err)
	}
	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(badgerPrefix+stream), val)
	})
	if err != nil {
		return fmt.Errorf("failed to save %s state: %w", stream, err)
	}
	return nil
}

func (b *BadgerStore) Close() error {
	if b.ownsDB {
		return b.db.Close()
	}
	return nil
}
