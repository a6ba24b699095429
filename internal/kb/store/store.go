// Package store keeps a durable local snapshot of the knowledge-base document.
//
// Two backends are provided:
//
//   - SQLiteStore: a key/value table in an embedded SQLite database (WAL mode).
//     The document lives under KeyDocument; UI expansion state under
//     KeyExpandedState; sync bookkeeping in its own table.
//   - FileStore: a single JSON file, replaced atomically under a file lock.
//
// Load never fails on bad data. A missing or malformed snapshot yields an
// empty document so the application always starts.
package store

import (
	"context"
	"io"
	"log"
	"os"
	"time"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// Keys used in the key/value table.
const (
	KeyDocument      = "techData"
	KeyExpandedState = "expandedState"
)

// Store snapshots and restores the document.
type Store interface {
	// Save overwrites the snapshot with doc.
	Save(ctx context.Context, doc *schema.Document) error

	// Load returns the snapshot. The document is never nil: missing or
	// malformed data yields an empty document and a nil error. A non-nil
	// error means the backend itself failed; the empty document is still
	// returned so callers can continue.
	Load(ctx context.Context) (*schema.Document, error)

	Close() error
}

// SyncState is the sync bookkeeping kept next to the snapshot so a restarted
// process resumes with the same baseline.
type SyncState struct {
	// LastTag is the remote version tag last observed or written.
	LastTag string `json:"last_tag"`

	// LastSync is when the last cycle completed without error.
	LastSync time.Time `json:"last_sync"`

	// LastWrite is when the last remote write succeeded.
	LastWrite time.Time `json:"last_write"`
}

// StateStore is implemented by stores that can persist SyncState.
type StateStore interface {
	SaveSyncState(ctx context.Context, st SyncState) error
	LoadSyncState(ctx context.Context) (SyncState, error)
}

// defaultLogger returns the logger used when a caller passes nil.
func defaultLogger() *log.Logger {
	return log.New(os.Stderr, "[store] ", log.LstdFlags)
}

// discardLogger is used by tests that do not care about log output.
func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// decodeSnapshot turns raw snapshot bytes into a document, logging and
// falling back to an empty document on malformed data.
func decodeSnapshot(logger *log.Logger, source string, data []byte) *schema.Document {
	if len(data) == 0 {
		return schema.NewDocument()
	}
	doc, err := schema.Decode(data)
	if err != nil {
		logger.Printf("Warning: discarding malformed snapshot in %s: %v", source, err)
		return schema.NewDocument()
	}
	return doc
}
