// Package tree owns the in-memory knowledge-base document.
//
// A Tree is the single mutable copy of the document for a process. The
// persistence adapter, the sync orchestrator and the CLI all receive the same
// *Tree; none of them keep their own copy across calls.
//
// Nodes are addressed two ways:
//
//   - by path: a sequence of sibling indexes from the root. Paths shift on any
//     structural edit, so use them only for an immediate follow-up call.
//   - by id: stable for the node's lifetime. Anything that crosses a blocking
//     call (a prompt, a network round trip) should hold the id and call
//     FindByID or PathTo afterwards.
//
// Every mutation is applied synchronously under the tree lock and then
// reported to the OnChange hooks, outside the lock.
package tree

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

var (
	// ErrNotFound is returned when a path or id does not resolve.
	ErrNotFound = errors.New("node not found")

	// ErrInvalidName is returned when a name is empty after trimming.
	ErrInvalidName = errors.New("name must not be empty")

	// ErrWrongKind is returned when an operation targets the other variant,
	// e.g. adding a checklist item to a category.
	ErrWrongKind = errors.New("operation not valid for node kind")
)

// Id prefixes for new nodes.
const (
	PrefixCategory    = "cat_"
	PrefixSubcategory = "node_"
	PrefixTechnology  = "tech_"
)

// Change describes a mutation reported to OnChange hooks.
type Change struct {
	Op string // add, remove, rename, toggle, checklist, content, media, link, replace, merge
	ID string // affected node, empty for replace
}

// Tree is the process-wide document.
type Tree struct {
	mu    sync.RWMutex
	doc   *schema.Document
	hooks []func(Change)
	newID func(prefix string) string
}

// New returns a tree owning doc. A nil doc starts empty.
func New(doc *schema.Document) *Tree {
	if doc == nil {
		doc = schema.NewDocument()
	}
	if doc.Categories == nil {
		doc.Categories = []*schema.Node{}
	}
	return &Tree{
		doc:   doc,
		newID: func(prefix string) string { return prefix + uuid.NewString() },
	}
}

// OnChange registers fn to run after every mutation. Hooks run on the
// mutating goroutine after the lock is released.
func (t *Tree) OnChange(fn func(Change)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

func (t *Tree) notify(c Change) {
	t.mu.RLock()
	hooks := append([]func(Change){}, t.hooks...)
	t.mu.RUnlock()
	for _, fn := range hooks {
		fn(c)
	}
}

// Snapshot returns a deep copy of the current document.
func (t *Tree) Snapshot() *schema.Document {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.doc.Clone()
}

// Replace swaps in doc wholesale (import, pull). doc must validate.
func (t *Tree) Replace(doc *schema.Document) error {
	if doc == nil {
		doc = schema.NewDocument()
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("failed to replace document: %w", err)
	}
	t.mu.Lock()
	t.doc = doc.Clone()
	if t.doc.Categories == nil {
		t.doc.Categories = []*schema.Node{}
	}
	t.mu.Unlock()

	t.notify(Change{Op: "replace"})
	return nil
}

// Update runs fn against the live document under the write lock. fn returns
// the document that replaces it; returning the argument keeps it. The result
// must validate or the tree is left unchanged.
func (t *Tree) Update(op string, fn func(live *schema.Document) (*schema.Document, error)) error {
	t.mu.Lock()
	next, err := fn(t.doc)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if next == nil {
		next = schema.NewDocument()
	}
	if err := next.Validate(); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("update produced an invalid document: %w", err)
	}
	t.doc = next
	t.mu.Unlock()

	t.notify(Change{Op: op})
	return nil
}

// Stats summarises the current document.
func (t *Tree) Stats() schema.Stats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.doc.Stats()
}

// siblings returns a pointer to the sibling slice at path so callers can
// insert and remove. Caller holds the lock.
func (t *Tree) siblings(path []int) (*[]*schema.Node, error) {
	cur := &t.doc.Categories
	for depth, idx := range path {
		if idx < 0 || idx >= len(*cur) {
			return nil, fmt.Errorf("%w: index %d out of range at depth %d", ErrNotFound, idx, depth)
		}
		n := (*cur)[idx]
		if !n.IsCategory() {
			return nil, fmt.Errorf("%w: %s at depth %d has no children", ErrNotFound, n.ID, depth)
		}
		cur = &n.Children
	}
	return cur, nil
}

// nodeAt returns the node at index within the siblings at path. Caller holds
// the lock.
func (t *Tree) nodeAt(path []int, index int) (*schema.Node, error) {
	sib, err := t.siblings(path)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(*sib) {
		return nil, fmt.Errorf("%w: index %d out of range", ErrNotFound, index)
	}
	return (*sib)[index], nil
}

// findByID returns the live node with id. Caller holds the lock.
func (t *Tree) findByID(id string) (*schema.Node, error) {
	var found *schema.Node
	t.doc.Walk(func(n *schema.Node) bool {
		if n.ID == id {
			found = n
			return false
		}
		return true
	})
	if found == nil {
		return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
	}
	return found, nil
}

// Resolve returns copies of the sibling nodes at path. An empty path yields the
// top-level categories. Any out-of-range index, or a step into a node without
// children, yields ErrNotFound.
func (t *Tree) Resolve(path []int) ([]*schema.Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	sib, err := t.siblings(path)
	if err != nil {
		return nil, err
	}
	out := make([]*schema.Node, len(*sib))
	for i, n := range *sib {
		out[i] = n.Clone()
	}
	return out, nil
}

// NodeAt returns a copy of the node at index within the siblings at path.
func (t *Tree) NodeAt(path []int, index int) (*schema.Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, err := t.nodeAt(path, index)
	if err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// FindByID returns a copy of the node with id.
func (t *Tree) FindByID(id string) (*schema.Node, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, err := t.findByID(id)
	if err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// PathTo returns the current path of the node with id: the sibling path plus
// the node's own index as the last element.
func (t *Tree) PathTo(id string) ([]int, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p := t.pathOf(id); p != nil {
		return p, nil
	}
	return nil, fmt.Errorf("%w: id %s", ErrNotFound, id)
}

// TechnologyRef is a technology with its current path, for link pickers.
type TechnologyRef struct {
	ID   string
	Name string
	Path []int
}

// Technologies returns every technology in document order.
func (t *Tree) Technologies() []TechnologyRef {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []TechnologyRef
	var visit func(nodes []*schema.Node, prefix []int)
	visit = func(nodes []*schema.Node, prefix []int) {
		for i, n := range nodes {
			p := append(append([]int{}, prefix...), i)
			switch n.Kind() {
			case schema.KindTechnology:
				out = append(out, TechnologyRef{ID: n.ID, Name: n.Name, Path: p})
			case schema.KindCategory:
				visit(n.Children, p)
			}
		}
	}
	visit(t.doc.Categories, nil)
	return out
}

func cleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	return name, nil
}
