// Package merge reconciles a remote copy of the knowledge-base document into
// the local one.
//
// The merge only adds. Every category, technology and checklist item present
// on either side is present in the result; nothing local is removed or
// overwritten, so a deletion made on one side never propagates and a stale
// remote copy can bring deleted entries back.
//
// Identity keys:
//
//   - top-level categories: name
//   - children: name and type
//   - checklist items: text
//   - media: name and MIME type
//   - links: target id
//
// Matching recurses at every depth: a subcategory present on both sides has
// its children merged the same way, not only the technologies directly under
// a top-level category, so the result holds both sides at every level.
//
// Renaming anything reads as a delete plus an add, which the merge turns into
// a duplicate. Completion conflicts on a checklist item keep the local state.
// Rich content is merged by presence only: remote content fills an empty
// local body and is otherwise ignored.
package merge

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// idNamespace seeds the replacement ids for copied nodes whose id is already
// taken.
var idNamespace = uuid.MustParse("6f1c8a3e-2b4d-4e8f-9a61-3c5d7e9f0b12")

// Stats counts what the merge added to the local document.
type Stats struct {
	Categories int `json:"categories"` // top-level categories appended
	Nodes      int `json:"nodes"`      // child subtrees appended
	Items      int `json:"items"`      // checklist items appended
	Media      int `json:"media"`      // media assets appended
	Links      int `json:"links"`      // links appended
	Content    int `json:"content"`    // empty bodies filled from remote
	Remapped   int `json:"remapped"`   // copied nodes given a new id
}

// Changed reports whether the merge added anything.
func (s Stats) Changed() bool {
	return s.Categories+s.Nodes+s.Items+s.Media+s.Links+s.Content > 0
}

// String summarises the counts for logs.
func (s Stats) String() string {
	if !s.Changed() {
		return "no changes"
	}
	var parts []string
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, what))
		}
	}
	add(s.Categories, "categories")
	add(s.Nodes, "nodes")
	add(s.Items, "checklist items")
	add(s.Media, "media")
	add(s.Links, "links")
	add(s.Content, "content bodies")
	return "added " + strings.Join(parts, ", ")
}

// Result is the merged document and what was added.
type Result struct {
	Document *schema.Document
	Stats    Stats
}

// Run merges remote into a copy of local. Neither input is modified. A nil
// remote yields a copy of local.
func Run(local, remote *schema.Document) *Result {
	out := local.Clone()
	m := &merger{
		ids:   out.IDs(),
		remap: make(map[string]string),
	}
	if remote != nil {
		m.mergeTopLevel(out, remote)
		m.fixCopiedLinks()
	}
	return &Result{Document: out, Stats: m.stats}
}

type merger struct {
	ids    map[string]struct{}
	remap  map[string]string // original id -> replacement, for copied nodes
	copies []*schema.Node    // roots of subtrees copied from remote
	seq    int
	stats  Stats
}

func (m *merger) mergeTopLevel(out, remote *schema.Document) {
	for _, rc := range remote.Categories {
		if rc == nil {
			continue
		}
		lc := findTopLevel(out.Categories, rc)
		if lc == nil {
			out.Categories = append(out.Categories, m.copyTree(rc))
			m.stats.Categories++
			continue
		}
		m.mergeNode(lc, rc)
	}
}

// findTopLevel matches a remote top-level node by name. Categories are the
// only expected top-level kind; anything else is matched by name and type.
func findTopLevel(nodes []*schema.Node, r *schema.Node) *schema.Node {
	for _, n := range nodes {
		if n.Name != r.Name {
			continue
		}
		if n.IsCategory() && r.IsCategory() {
			return n
		}
		if n.Type == r.Type {
			return n
		}
	}
	return nil
}

// mergeNode merges r into its matched local counterpart l. Both share a kind.
func (m *merger) mergeNode(l, r *schema.Node) {
	switch l.Kind() {
	case schema.KindCategory:
		m.mergeChildren(l, r)
	case schema.KindTechnology:
		m.mergeTechnology(l, r)
	}
}

func (m *merger) mergeChildren(l, r *schema.Node) {
	for _, rc := range r.Children {
		if rc == nil {
			continue
		}
		var match *schema.Node
		for _, lc := range l.Children {
			if lc.Key() == rc.Key() {
				match = lc
				break
			}
		}
		if match == nil {
			l.Children = append(l.Children, m.copyTree(rc))
			m.stats.Nodes++
			continue
		}
		m.mergeNode(match, rc)
	}
}

func (m *merger) mergeTechnology(l, r *schema.Node) {
	for _, item := range r.Checklist {
		if !l.HasChecklistItem(item.Text) {
			l.Checklist = append(l.Checklist, item)
			m.stats.Items++
		}
	}

	if l.Content == "" && r.Content != "" {
		l.Content = r.Content
		m.stats.Content++
	}

	for _, asset := range r.Media {
		if !hasMedia(l.Media, asset) {
			l.Media = append(l.Media, asset)
			m.stats.Media++
		}
	}

	for _, link := range r.Links {
		if !hasLink(l.Links, link.ID) {
			c := link
			c.Path = append([]int(nil), link.Path...)
			l.Links = append(l.Links, c)
			m.stats.Links++
		}
	}
}

func hasMedia(media []schema.MediaAsset, a schema.MediaAsset) bool {
	for _, x := range media {
		if x.Name == a.Name && x.MimeType == a.MimeType {
			return true
		}
	}
	return false
}

func hasLink(links []schema.Link, id string) bool {
	for _, l := range links {
		if l.ID == id {
			return true
		}
	}
	return false
}

// copyTree deep-copies a remote subtree, replacing any id already used in the
// merged document.
func (m *merger) copyTree(r *schema.Node) *schema.Node {
	c := r.Clone()
	c.Walk(func(n *schema.Node) bool {
		if _, taken := m.ids[n.ID]; taken || n.ID == "" {
			old := n.ID
			n.ID = m.freshID(n)
			if old != "" {
				m.remap[old] = n.ID
			}
			m.stats.Remapped++
		}
		m.ids[n.ID] = struct{}{}
		return true
	})
	m.copies = append(m.copies, c)
	return c
}

// freshID derives a replacement id from the original id and a per-call
// sequence, so the same inputs always produce the same ids.
func (m *merger) freshID(n *schema.Node) string {
	prefix := idPrefix(n)
	for {
		m.seq++
		id := prefix + uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s#%d", n.ID, m.seq))).String()
		if _, taken := m.ids[id]; !taken {
			return id
		}
	}
}

func idPrefix(n *schema.Node) string {
	if i := strings.IndexByte(n.ID, '_'); i > 0 {
		return n.ID[:i+1]
	}
	switch n.Kind() {
	case schema.KindTechnology:
		return "tech_"
	default:
		return "node_"
	}
}

// fixCopiedLinks points links inside copied subtrees at the replacement ids.
func (m *merger) fixCopiedLinks() {
	if len(m.remap) == 0 {
		return
	}
	for _, root := range m.copies {
		root.Walk(func(n *schema.Node) bool {
			for i, l := range n.Links {
				if id, ok := m.remap[l.ID]; ok {
					n.Links[i].ID = id
				}
			}
			return true
		})
	}
}
