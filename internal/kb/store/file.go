package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// lockRetry is how often a blocked FileStore retries its lock.
const lockRetry = 50 * time.Millisecond

// FileStore keeps the snapshot in a single JSON file.
//
// Writes go to a temp file in the same directory and are renamed over the
// target while holding an exclusive lock on <path>.lock, so a reader never
// sees a half-written file and two processes never interleave saves. Lock
// takes a separate <path>.edit.lock for whole load-change-save sequences.
type FileStore struct {
	path   string
	lock   *flock.Flock
	edit   *editLock
	logger *log.Logger
}

// OpenFile returns a store backed by path. The file need not exist yet.
func OpenFile(path string, logger *log.Logger) (*FileStore, error) {
	if logger == nil {
		logger = defaultLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshot directory: %w", err)
	}
	return &FileStore{
		path:   path,
		lock:   flock.New(path + ".lock"),
		edit:   newEditLock(path + ".edit.lock"),
		logger: logger,
	}, nil
}

// Path returns the snapshot file path.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) statePath() string {
	return s.path + ".sync.json"
}

// Close releases the lock file handles.
func (s *FileStore) Close() error {
	return errors.Join(s.lock.Close(), s.edit.close())
}

// Lock implements Locker.
func (s *FileStore) Lock(ctx context.Context) (func(), error) {
	return s.edit.lock(ctx)
}

func (s *FileStore) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	var (
		locked bool
		err    error
	)
	if exclusive {
		locked, err = s.lock.TryLockContext(ctx, lockRetry)
	} else {
		locked, err = s.lock.TryRLockContext(ctx, lockRetry)
	}
	if err != nil {
		return fmt.Errorf("failed to acquire snapshot lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("failed to acquire snapshot lock: %s is held by another process", s.lock.Path())
	}
	defer func() { _ = s.lock.Unlock() }()
	return fn()
}

// writeAtomic writes data to path through a temp file and rename.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}

// Save replaces the snapshot file with doc.
func (s *FileStore) Save(ctx context.Context, doc *schema.Document) error {
	data, err := doc.EncodeIndent()
	if err != nil {
		return err
	}
	return s.withLock(ctx, true, func() error {
		return writeAtomic(s.path, append(data, '\n'))
	})
}

// Load reads the snapshot file. A missing file yields an empty document.
func (s *FileStore) Load(ctx context.Context) (*schema.Document, error) {
	var data []byte
	err := s.withLock(ctx, false, func() error {
		var err error
		// #nosec G304 - path is configured by the operator
		data, err = os.ReadFile(s.path)
		if errors.Is(err, fs.ErrNotExist) {
			data, err = nil, nil
		}
		return err
	})
	if err != nil {
		return schema.NewDocument(), fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decodeSnapshot(s.logger, s.path, data), nil
}

// SaveSyncState writes the sync baseline to the sidecar file.
func (s *FileStore) SaveSyncState(ctx context.Context, st SyncState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sync state: %w", err)
	}
	return s.withLock(ctx, true, func() error {
		return writeAtomic(s.statePath(), append(data, '\n'))
	})
}

// LoadSyncState reads the sidecar file. A missing or unreadable sidecar
// yields the zero value.
func (s *FileStore) LoadSyncState(ctx context.Context) (SyncState, error) {
	var data []byte
	err := s.withLock(ctx, false, func() error {
		var err error
		data, err = os.ReadFile(s.statePath())
		if errors.Is(err, fs.ErrNotExist) {
			data, err = nil, nil
		}
		return err
	})
	if err != nil {
		return SyncState{}, fmt.Errorf("failed to read sync state: %w", err)
	}
	if data == nil {
		return SyncState{}, nil
	}

	var st SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		s.logger.Printf("Warning: discarding malformed sync state in %s: %v", s.statePath(), err)
		return SyncState{}, nil
	}
	return st, nil
}

func marshalStrings(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal: %w", err)
	}
	return data, nil
}

func unmarshalStrings(data []byte) ([]string, error) {
	var v []string
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
