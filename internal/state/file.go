package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrCorruptState = errors.New("state file is corrupt")

type fileDocument struct {
	Streams   map[string]StreamSnapshot `json:"streams"`
	UpdatedAt string                    `json:"updated_at,omitempty"`
	SeenSales []string                  `json:"seen_sales"`
	SeenMints []string                  `json:"seen_mints"`
}

// FileStore keeps every stream in one JSON document. Writes go to a
// temporary file that is renamed over the original.
type FileStore struct {
	path string

	mu      sync.Mutex
	loaded  bool
	streams map[string]StreamSnapshot
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (f *FileStore) Load(_ context.Context, stream string) (StreamSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.ensureLoaded(); err != nil {
		return StreamSnapshot{}, false, err
	}
	snap, ok := f.streams[stream]
	return clone(snap), ok, nil
}

func (f *FileStore) Save(_ context.Context, stream string, snap StreamSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	// a corrupt file was already moved aside, so writing starts over
	if err := f.ensureLoaded(); err != nil && !f.loaded {
		return err
	}
	f.streams[stream] = clone(snap)
	return f.write()
}

func (f *FileStore) Close() error {
	return nil
}

func (f *FileStore) ensureLoaded() error {
	if f.loaded {
		return nil
	}
	streams, err := readDocument(f.path)
	if errors.Is(err, ErrCorruptState) {
		f.quarantine(err)
		f.streams = map[string]StreamSnapshot{}
		f.loaded = true
		return err
	}
	if err != nil {
		return err
	}
	f.streams = streams
	f.loaded = true
	return nil
}

func readDocument(path string) (map[string]StreamSnapshot, error) {
	streams := map[string]StreamSnapshot{}

	stat, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return streams, nil
		}
		return nil, fmt.Errorf("stat state file: %w", err)
	}
	if stat.IsDir() {
		return nil, fmt.Errorf("state path %s is a directory", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse state file: %w", ErrCorruptState, err)
	}

	for name, snap := range doc.Streams {
		streams[name] = snap
	}
	legacy := map[string][]string{"sale": doc.SeenSales, "mint": doc.SeenMints}
	for name, seen := range legacy {
		if _, ok := streams[name]; ok || len(seen) == 0 {
			continue
		}
		// hashes only, no anchor: everything not yet seen is new
		streams[name] = StreamSnapshot{Seeded: true, Seen: seen}
	}
	return streams, nil
}

// quarantine moves an unreadable state file to <path>.corrupt so the next
// write does not destroy it.
func (f *FileStore) quarantine(cause error) {
	corruptPath := f.path + ".corrupt"
	if err := os.Rename(f.path, corruptPath); err != nil {
		zap.L().Error("Failed to move corrupt state file aside", zap.String("path", f.path), zap.Error(err))
		return
	}
	zap.L().Error("State file is corrupt, starting with empty state",
		zap.String("path", f.path),
		zap.String("moved_to", corruptPath),
		zap.Error(cause),
	)
}

func (f *FileStore) write() error {
	// seen_sales and seen_mints keep the file readable by older deployments
	doc := fileDocument{
		Streams:   f.streams,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano),
		SeenSales: nonNil(f.streams["sale"].Seen),
		SeenMints: nonNil(f.streams["mint"].Seen),
	}

	dir := filepath.Dir(f.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmpPath := f.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write state tmp: %w", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
