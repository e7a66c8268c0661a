package state

import (
	"context"
	"fmt"

	"github.com/nftwatch/nftwatch/internal/config"
	"github.com/nftwatch/nftwatch/internal/db"
)

// Store persists one snapshot per stream name. Implementations are safe for
// concurrent use.
type Store interface {
	// Load reports found=false for a stream that was never saved.
	Load(ctx context.Context, stream string) (snap StreamSnapshot, found bool, err error)
	Save(ctx context.Context, stream string, snap StreamSnapshot) error
	Close() error
}

// Open builds the store selected by STATE_BACKEND.
func Open(cfg config.Config) (Store, error) {
	switch cfg.StateBackend {
	case config.StateBackendFile:
		return NewFileStore(cfg.StatePath), nil
	case config.StateBackendBadger:
		bdb, err := db.OpenBadger(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		return NewBadgerStore(bdb, true), nil
	case config.StateBackendSqlite:
		sqlDB, err := db.OpenSqlite(cfg.StatePath)
		if err != nil {
			return nil, err
		}
		return NewSqliteStore(sqlDB, true), nil
	case config.StateBackendMemory:
		return NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown state backend %q", cfg.StateBackend)
}

func clone(snap StreamSnapshot) StreamSnapshot {
	out := snap
	if snap.Seen != nil {
		out.Seen = append([]string(nil), snap.Seen...)
	}
	return out
}
