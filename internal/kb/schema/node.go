package schema

import (
	"errors"
	"fmt"
	"strings"
)

// Kind discriminates the two node variants.
type Kind string

const (
	// KindCategory is a container node with ordered children.
	KindCategory Kind = "category"

	// KindTechnology is a leaf node with a checklist and knowledge content.
	KindTechnology Kind = "technology"
)

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindCategory, KindTechnology:
		return true
	default:
		return false
	}
}

// String returns the wire name of the kind.
func (k Kind) String() string {
	return string(k)
}

// Errors returned by validation and decoding.
var (
	// ErrMalformed is returned when a document cannot be decoded.
	ErrMalformed = errors.New("malformed document")

	// ErrInvalid is returned when a decoded document breaks a structural rule.
	ErrInvalid = errors.New("invalid document")
)

// ChecklistItem is one entry of a technology's checklist.
// Items are identified by Text.
type ChecklistItem struct {
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
}

// MediaAsset is an embedded binary attachment stored as a data URL.
type MediaAsset struct {
	Name     string `json:"name"`
	Type     string `json:"type"` // image, video
	Data     string `json:"data"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Link is a cross-reference from one technology to another.
// Path is a positional hint recorded at link time; ID is authoritative.
type Link struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Path []int  `json:"path,omitempty"`
}

// Node is a category or a technology.
//
// Children is only meaningful on categories. Completed, Checklist, Content,
// Media and Links are only meaningful on technologies. Completed is ignored
// once the checklist is non-empty.
type Node struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type Kind   `json:"type"`

	// ===== Category =====
	Children []*Node `json:"children,omitempty"`

	// ===== Technology =====
	Completed bool            `json:"completed,omitempty"`
	Checklist []ChecklistItem `json:"checklist,omitempty"`
	Content   string          `json:"content,omitempty"`
	Media     []MediaAsset    `json:"media,omitempty"`
	Links     []Link          `json:"links,omitempty"`
}

// NewCategory returns an empty category.
func NewCategory(id, name string) *Node {
	return &Node{ID: id, Name: name, Type: KindCategory, Children: []*Node{}}
}

// NewTechnology returns a technology with no checklist.
func NewTechnology(id, name string) *Node {
	return &Node{ID: id, Name: name, Type: KindTechnology}
}

// Kind returns the node's discriminant.
func (n *Node) Kind() Kind {
	return n.Type
}

// IsCategory reports whether n is a category.
func (n *Node) IsCategory() bool {
	return n.Type == KindCategory
}

// IsTechnology reports whether n is a technology.
func (n *Node) IsTechnology() bool {
	return n.Type == KindTechnology
}

// Key returns the merge identity of a child node: name and kind.
func (n *Node) Key() string {
	return string(n.Type) + "\x00" + n.Name
}

// HasChecklistItem reports whether the checklist already contains text.
func (n *Node) HasChecklistItem(text string) bool {
	for _, item := range n.Checklist {
		if item.Text == text {
			return true
		}
	}
	return false
}

// Validate checks the fields of a single node (not its descendants).
func (n *Node) Validate() error {
	if n.ID == "" {
		return fmt.Errorf("id is required")
	}
	if strings.TrimSpace(n.Name) == "" {
		return fmt.Errorf("name is required (id %s)", n.ID)
	}
	switch n.Kind() {
	case KindCategory:
		if len(n.Checklist) > 0 || n.Content != "" || len(n.Media) > 0 || len(n.Links) > 0 {
			return fmt.Errorf("category %s carries technology fields", n.ID)
		}
	case KindTechnology:
		if len(n.Children) > 0 {
			return fmt.Errorf("technology %s has children", n.ID)
		}
	default:
		return fmt.Errorf("unknown node type %q (id %s)", n.Type, n.ID)
	}
	return nil
}

// Clone returns a deep copy of n and its descendants.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = child.Clone()
		}
	}
	if n.Checklist != nil {
		c.Checklist = append([]ChecklistItem{}, n.Checklist...)
	}
	if n.Media != nil {
		c.Media = append([]MediaAsset{}, n.Media...)
	}
	if n.Links != nil {
		c.Links = make([]Link, len(n.Links))
		for i, l := range n.Links {
			c.Links[i] = Link{ID: l.ID, Name: l.Name}
			if l.Path != nil {
				c.Links[i].Path = append([]int{}, l.Path...)
			}
		}
	}
	return &c
}

// Progress returns the completion percentage of n.
//
// A technology with a checklist reports its completion ratio; without one it
// reports 100 or 0 from Completed. A category reports the mean of its
// children and 0 when it has none. hasChecklist is true when any technology
// in the subtree has checklist items.
func (n *Node) Progress() (percent float64, hasChecklist bool) {
	switch n.Kind() {
	case KindTechnology:
		if len(n.Checklist) > 0 {
			done := 0
			for _, item := range n.Checklist {
				if item.Completed {
					done++
				}
			}
			return float64(done) / float64(len(n.Checklist)) * 100, true
		}
		if n.Completed {
			return 100, false
		}
		return 0, false
	case KindCategory:
		if len(n.Children) == 0 {
			return 0, false
		}
		var total float64
		for _, child := range n.Children {
			p, has := child.Progress()
			total += p
			if has {
				hasChecklist = true
			}
		}
		return total / float64(len(n.Children)), hasChecklist
	default:
		return 0, false
	}
}

// Walk visits n and its descendants depth-first in document order.
// Returning false from fn stops the walk.
func (n *Node) Walk(fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, child := range n.Children {
		if !child.Walk(fn) {
			return false
		}
	}
	return true
}
