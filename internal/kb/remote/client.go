// Package remote reads and writes the knowledge-base document as one versioned
// blob.
//
// Every backend exposes the same two calls: Fetch returns the document with
// an opaque version tag, and Write replaces it only if the caller's expected
// tag still matches. An empty expected tag is a blind create. Backends never
// retry; that policy belongs to the sync orchestrator.
//
// Tags are git blob hashes of the indented JSON, so a tag from the GitHub
// backend, the git backend or the Redis backend all look alike.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/go-git/go-git/v5/plumbing"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// DefaultTimeout bounds a single remote call.
const DefaultTimeout = 30 * time.Second

// Snapshot is a fetched document and the tag identifying its revision.
type Snapshot struct {
	Document *schema.Document
	Tag      string
}

// Client is a versioned blob store for the document.
type Client interface {
	// Fetch returns the current remote revision. When the blob exists but is
	// malformed, Fetch returns a Snapshot with Tag set and a nil Document,
	// together with an error matching both ErrNotFound and ErrMalformed.
	Fetch(ctx context.Context) (*Snapshot, error)

	// Write stores doc if the remote tag equals expectedTag and returns the
	// new tag. An empty expectedTag creates the blob and fails with
	// ErrVersionConflict if one already exists.
	Write(ctx context.Context, doc *schema.Document, expectedTag string) (string, error)
}

// Verifier is implemented by clients that can check credentials without
// touching the blob.
type Verifier interface {
	Verify(ctx context.Context) error
}

// Messenger is implemented by clients that record a message with each write
// (a commit message). The sync orchestrator uses it to tell automatic saves
// from manual ones.
type Messenger interface {
	WriteWithMessage(ctx context.Context, doc *schema.Document, expectedTag, message string) (string, error)
}

// AutoSaveMessage returns the commit message for a scheduled save.
func AutoSaveMessage(t time.Time) string {
	return "Auto-save: " + t.UTC().Format(time.RFC3339)
}

// ManualSaveMessage returns the commit message for a save the user asked for.
func ManualSaveMessage(t time.Time) string {
	return "Update: " + t.UTC().Format(time.RFC3339)
}

// ComputeTag returns the git blob hash of data.
func ComputeTag(data []byte) string {
	return plumbing.ComputeHash(plumbing.BlobObject, data).String()
}

// encodeBlob returns the indented JSON stored remotely and its tag.
func encodeBlob(doc *schema.Document) ([]byte, string, error) {
	if doc == nil {
		doc = schema.NewDocument()
	}
	if err := doc.Validate(); err != nil {
		return nil, "", fmt.Errorf("refusing to write invalid document: %w", err)
	}
	data, err := doc.EncodeIndent()
	if err != nil {
		return nil, "", err
	}
	return data, ComputeTag(data), nil
}

// decodeBlob parses a fetched blob. A parse failure is reported as both
// ErrNotFound and ErrMalformed.
func decodeBlob(data []byte, tag string) (*Snapshot, error) {
	doc, err := schema.Decode(data)
	if err != nil {
		return &Snapshot{Tag: tag}, fmt.Errorf("%w: %w: %v", ErrNotFound, ErrMalformed, err)
	}
	return &Snapshot{Document: doc, Tag: tag}, nil
}

// withTimeout applies d (or DefaultTimeout) unless ctx already has an
// earlier deadline.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}
