package remote

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// Memory is an in-process Client with the same version semantics as the
// network backends. It is used for offline mode and in tests.
type Memory struct {
	mu       sync.Mutex
	data     []byte
	tag      string
	messages []string

	fetchErr error
	writeErr error

	fetches int
	writes  int
	now     func() time.Time
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{now: time.Now}
}

// Fetch returns the stored document.
func (m *Memory) Fetch(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyContext(ctx, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if m.data == nil {
		return nil, fmt.Errorf("%w: memory store is empty", ErrNotFound)
	}
	return decodeBlob(m.data, m.tag)
}

// Write stores doc with an auto-save message.
func (m *Memory) Write(ctx context.Context, doc *schema.Document, expectedTag string) (string, error) {
	return m.WriteWithMessage(ctx, doc, expectedTag, AutoSaveMessage(m.now()))
}

// WriteWithMessage stores doc if the current tag equals expectedTag.
func (m *Memory) WriteWithMessage(ctx context.Context, doc *schema.Document, expectedTag, message string) (string, error) {
	data, tag, err := encodeBlob(doc)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", classifyContext(ctx, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.writes++
	if m.writeErr != nil {
		return "", m.writeErr
	}
	if m.tag != expectedTag {
		return "", fmt.Errorf("%w: expected %q, remote is at %q", ErrVersionConflict, expectedTag, m.tag)
	}
	m.data, m.tag = data, tag
	m.messages = append(m.messages, message)
	return tag, nil
}

// Put replaces the stored document unconditionally, as another writer would,
// and returns the new tag.
func (m *Memory) Put(doc *schema.Document) string {
	data, tag, err := encodeBlob(doc)
	if err != nil {
		panic(fmt.Sprintf("remote: Put with invalid document: %v", err))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data, m.tag = data, tag
	return tag
}

// PutRaw stores arbitrary bytes, e.g. a corrupt blob, and returns its tag.
func (m *Memory) PutRaw(data []byte) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append([]byte{}, data...)
	m.tag = ComputeTag(m.data)
	return m.tag
}

// Document decodes the stored blob, or returns nil when empty or corrupt.
func (m *Memory) Document() *schema.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return nil
	}
	doc, err := schema.Decode(m.data)
	if err != nil {
		return nil
	}
	return doc
}

// Tag returns the current tag, empty when nothing is stored.
func (m *Memory) Tag() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tag
}

// FailFetch makes every Fetch return err until cleared with nil.
func (m *Memory) FailFetch(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// FailWrite makes every Write return err until cleared with nil.
func (m *Memory) FailWrite(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// Calls returns how many Fetch and Write calls were made.
func (m *Memory) Calls() (fetches, writes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches, m.writes
}

// Messages returns the messages of successful writes, oldest first.
func (m *Memory) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.messages...)
}

// String identifies the store in logs.
func (m *Memory) String() string {
	return "memory"
}
