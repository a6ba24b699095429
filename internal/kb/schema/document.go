package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the root container: an ordered forest of categories.
type Document struct {
	Categories []*Node `json:"categories"`
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{Categories: []*Node{}}
}

// Validate checks every node, global id uniqueness and acyclicity.
func (d *Document) Validate() error {
	ids := make(map[string]struct{})
	seen := make(map[*Node]struct{})

	var visit func(nodes []*Node) error
	visit = func(nodes []*Node) error {
		for _, n := range nodes {
			if n == nil {
				return fmt.Errorf("%w: nil node", ErrInvalid)
			}
			if _, ok := seen[n]; ok {
				return fmt.Errorf("%w: node %s appears twice in the tree", ErrInvalid, n.ID)
			}
			seen[n] = struct{}{}

			if err := n.Validate(); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalid, err)
			}
			if _, ok := ids[n.ID]; ok {
				return fmt.Errorf("%w: duplicate id %s", ErrInvalid, n.ID)
			}
			ids[n.ID] = struct{}{}

			if err := visit(n.Children); err != nil {
				return err
			}
		}
		return nil
	}

	return visit(d.Categories)
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return NewDocument()
	}
	c := &Document{Categories: make([]*Node, len(d.Categories))}
	for i, n := range d.Categories {
		c.Categories[i] = n.Clone()
	}
	return c
}

// Equal reports whether d and other encode to the same canonical JSON.
func (d *Document) Equal(other *Document) bool {
	a, errA := d.Encode()
	b, errB := other.Encode()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Walk visits every node depth-first in document order.
// Returning false from fn stops the walk.
func (d *Document) Walk(fn func(*Node) bool) {
	for _, n := range d.Categories {
		if !n.Walk(fn) {
			return
		}
	}
}

// IDs returns the set of node ids in use.
func (d *Document) IDs() map[string]struct{} {
	ids := make(map[string]struct{})
	d.Walk(func(n *Node) bool {
		ids[n.ID] = struct{}{}
		return true
	})
	return ids
}

// Progress returns the mean progress of the top-level categories.
func (d *Document) Progress() float64 {
	if len(d.Categories) == 0 {
		return 0
	}
	var total float64
	for _, n := range d.Categories {
		p, _ := n.Progress()
		total += p
	}
	return total / float64(len(d.Categories))
}

// Stats summarises the document's size.
type Stats struct {
	Categories     int     `json:"categories"`
	Technologies   int     `json:"technologies"`
	ChecklistItems int     `json:"checklist_items"`
	ItemsCompleted int     `json:"items_completed"`
	Progress       float64 `json:"progress"`
}

// Stats counts categories, technologies and checklist items.
func (d *Document) Stats() Stats {
	var s Stats
	d.Walk(func(n *Node) bool {
		switch n.Kind() {
		case KindCategory:
			s.Categories++
		case KindTechnology:
			s.Technologies++
			s.ChecklistItems += len(n.Checklist)
			for _, item := range n.Checklist {
				if item.Completed {
					s.ItemsCompleted++
				}
			}
		}
		return true
	})
	s.Progress = d.Progress()
	return s
}

// Encode returns the compact JSON form used for local snapshots.
func (d *Document) Encode() ([]byte, error) {
	data, err := json.Marshal(d.normalized())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}

// EncodeIndent returns the two-space indented JSON form used for the remote
// blob and exports.
func (d *Document) EncodeIndent() ([]byte, error) {
	data, err := json.MarshalIndent(d.normalized(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal document: %w", err)
	}
	return data, nil
}

// normalized makes a nil category slice encode as [] instead of null.
func (d *Document) normalized() *Document {
	if d == nil {
		return NewDocument()
	}
	if d.Categories == nil {
		return &Document{Categories: []*Node{}}
	}
	return d
}

// fillMissingIDs gives id-less nodes (older exports) a positional id so they
// survive validation. The id is stable for a given input.
func fillMissingIDs(nodes []*Node, prefix string) {
	for i, n := range nodes {
		if n == nil {
			continue
		}
		p := fmt.Sprintf("%s_%d", prefix, i)
		if n.ID == "" {
			n.ID = p
		}
		fillMissingIDs(n.Children, p)
	}
}

// renameDuplicateIDs gives a node whose id was already used earlier in the
// document (in depth-first order) a new id derived from the old one. Older
// clients copied merged nodes together with their ids; the first holder
// keeps the id and links keep pointing at it.
func renameDuplicateIDs(nodes []*Node) {
	taken := make(map[string]struct{})
	var collect func(nodes []*Node)
	collect = func(nodes []*Node) {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			taken[n.ID] = struct{}{}
			collect(n.Children)
		}
	}
	collect(nodes)

	seen := make(map[string]struct{})
	var visit func(nodes []*Node)
	visit = func(nodes []*Node) {
		for _, n := range nodes {
			if n == nil {
				continue
			}
			if _, dup := seen[n.ID]; dup {
				for k := 1; ; k++ {
					id := fmt.Sprintf("%s_%d", n.ID, k)
					if _, ok := taken[id]; !ok {
						n.ID = id
						taken[id] = struct{}{}
						break
					}
				}
			}
			seen[n.ID] = struct{}{}
			visit(n.Children)
		}
	}
	visit(nodes)
}

// Decode parses a document. Missing "categories" yields an empty document;
// missing and duplicate ids are filled in or renamed. Input that is not JSON
// or that still fails Validate returns an error wrapping ErrMalformed.
func Decode(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrMalformed)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Categories == nil {
		doc.Categories = []*Node{}
	}
	fillMissingIDs(doc.Categories, "legacy")
	renameDuplicateIDs(doc.Categories)
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &doc, nil
}
