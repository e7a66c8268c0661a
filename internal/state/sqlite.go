package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nftwatch/nftwatch/internal/db"
)

type SqliteStore struct {
	// pragmas such as busy_timeout only reach one pooled connection, so
	// access is serialized here
	mu     sync.Mutex
	db     *sql.DB
	ownsDB bool
}

// NewSqliteStore expects a database migrated by db.OpenSqlite.
func NewSqliteStore(sqlDB *sql.DB, ownsDB bool) *SqliteStore {
	return &SqliteStore{db: sqlDB, ownsDB: ownsDB}
}

func (s *SqliteStore) Load(ctx context.Context, stream string) (StreamSnapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type loaded struct {
		snap  StreamSnapshot
		found bool
	}
	res, err := db.TxRunner(ctx, s.db, func(tx *sql.Tx) (loaded, error) {
		var out loaded
		var seeded int
		err := tx.QueryRowContext(ctx, `SELECT anchor, seeded FROM stream_state WHERE stream = ?`, stream).
			Scan(&out.snap.Anchor, &seeded)
		if errors.Is(err, sql.ErrNoRows) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out.found = true
		out.snap.Seeded = seeded != 0

		rows, err := tx.QueryContext(ctx, `SELECT hash FROM seen_hashes WHERE stream = ? ORDER BY position ASC`, stream)
		if err != nil {
			return out, err
		}
		defer rows.Close()
		for rows.Next() {
			var h string
			if err := rows.Scan(&h); err != nil {
				return out, err
			}
			out.snap.Seen = append(out.snap.Seen, h)
		}
		return out, rows.Err()
	})
	if err != nil {
		return StreamSnapshot{}, false, fmt.Errorf("failed to load %s state: %w", stream, err)
	}
	return res.snap, res.found, nil
}

func (s *SqliteStore) Save(ctx context.Context, stream string, snap StreamSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := db.TxRunner(ctx, s.db, func(tx *sql.Tx) (struct{}, error) {
		seeded := 0
		if snap.Seeded {
			seeded = 1
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO stream_state (stream, anchor, seeded, updated_at) VALUES (?, ?, ?, ?)
			ON CONFLICT(stream) DO UPDATE SET anchor = excluded.anchor, seeded = excluded.seeded, updated_at = excluded.updated_at`,
			stream, snap.Anchor, seeded, time.Now().Unix())
		if err != nil {
			return struct{}{}, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM seen_hashes WHERE stream = ?`, stream); err != nil {
			return struct{}{}, err
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO seen_hashes (stream, position, hash) VALUES (?, ?, ?)`)
		if err != nil {
			return struct{}{}, err
		}
		defer stmt.Close()
		for i, h := range snap.Seen {
			if _, err := stmt.ExecContext(ctx, stream, i, h); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fmt.Errorf("failed to save %s state: %w", stream, err)
	}
	return nil
}

func (s *SqliteStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}
	return nil
}
