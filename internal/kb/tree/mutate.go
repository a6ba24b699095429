package tree

import (
	"fmt"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// mutate runs fn under the write lock and notifies hooks when it succeeds.
// fn returns the id of the affected node.
func (t *Tree) mutate(op string, fn func() (string, error)) (string, error) {
	t.mu.Lock()
	id, err := fn()
	t.mu.Unlock()
	if err != nil {
		return "", err
	}
	t.notify(Change{Op: op, ID: id})
	return id, nil
}

// AddCategory appends a top-level category and returns its id.
func (t *Tree) AddCategory(name string) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return t.mutate("add", func() (string, error) {
		n := schema.NewCategory(t.newID(PrefixCategory), name)
		t.doc.Categories = append(t.doc.Categories, n)
		return n.ID, nil
	})
}

// AddSubcategory appends a category to the siblings at path.
func (t *Tree) AddSubcategory(path []int, name string) (string, error) {
	return t.addChild(path, name, schema.KindCategory)
}

// AddTechnology appends a technology to the siblings at path. path must be
// non-empty; technologies never sit at the top level.
func (t *Tree) AddTechnology(path []int, name string) (string, error) {
	if len(path) == 0 {
		return "", fmt.Errorf("%w: technologies must live inside a category", ErrWrongKind)
	}
	return t.addChild(path, name, schema.KindTechnology)
}

func (t *Tree) addChild(path []int, name string, kind schema.Kind) (string, error) {
	name, err := cleanName(name)
	if err != nil {
		return "", err
	}
	return t.mutate("add", func() (string, error) {
		sib, err := t.siblings(path)
		if err != nil {
			return "", err
		}
		var n *schema.Node
		switch kind {
		case schema.KindCategory:
			n = schema.NewCategory(t.newID(PrefixSubcategory), name)
		case schema.KindTechnology:
			n = schema.NewTechnology(t.newID(PrefixTechnology), name)
		default:
			return "", fmt.Errorf("unknown node type %q", kind)
		}
		*sib = append(*sib, n)
		return n.ID, nil
	})
}

// Remove deletes the node at index within the siblings at path, along with
// all of its descendants.
func (t *Tree) Remove(path []int, index int) error {
	_, err := t.mutate("remove", func() (string, error) {
		sib, err := t.siblings(path)
		if err != nil {
			return "", err
		}
		if index < 0 || index >= len(*sib) {
			return "", fmt.Errorf("%w: index %d out of range", ErrNotFound, index)
		}
		id := (*sib)[index].ID
		*sib = append((*sib)[:index], (*sib)[index+1:]...)
		return id, nil
	})
	return err
}

// Rename changes the name of the node at index within the siblings at path.
func (t *Tree) Rename(path []int, index int, name string) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	_, err = t.mutate("rename", func() (string, error) {
		n, err := t.nodeAt(path, index)
		if err != nil {
			return "", err
		}
		n.Name = name
		return n.ID, nil
	})
	return err
}

// ToggleCompleted flips the completed flag of a technology. The flag has no
// effect on progress once the technology has checklist items.
func (t *Tree) ToggleCompleted(path []int, index int) (bool, error) {
	var state bool
	_, err := t.mutate("toggle", func() (string, error) {
		n, err := t.technologyAt(path, index)
		if err != nil {
			return "", err
		}
		n.Completed = !n.Completed
		state = n.Completed
		return n.ID, nil
	})
	return state, err
}

func (t *Tree) technologyAt(path []int, index int) (*schema.Node, error) {
	n, err := t.nodeAt(path, index)
	if err != nil {
		return nil, err
	}
	if !n.IsTechnology() {
		return nil, fmt.Errorf("%w: %s is a %s", ErrWrongKind, n.ID, n.Type)
	}
	return n, nil
}

func (t *Tree) technologyByID(id string) (*schema.Node, error) {
	n, err := t.findByID(id)
	if err != nil {
		return nil, err
	}
	if !n.IsTechnology() {
		return nil, fmt.Errorf("%w: %s is a %s", ErrWrongKind, n.ID, n.Type)
	}
	return n, nil
}

// AddChecklistItem appends an unchecked item to a technology's checklist.
func (t *Tree) AddChecklistItem(path []int, techIndex int, text string) error {
	text, err := cleanName(text)
	if err != nil {
		return err
	}
	_, err = t.mutate("checklist", func() (string, error) {
		n, err := t.technologyAt(path, techIndex)
		if err != nil {
			return "", err
		}
		n.Checklist = append(n.Checklist, schema.ChecklistItem{Text: text})
		return n.ID, nil
	})
	return err
}

func checklistItem(n *schema.Node, itemIndex int) (*schema.ChecklistItem, error) {
	if itemIndex < 0 || itemIndex >= len(n.Checklist) {
		return nil, fmt.Errorf("%w: checklist item %d of %s", ErrNotFound, itemIndex, n.ID)
	}
	return &n.Checklist[itemIndex], nil
}

// RemoveChecklistItem deletes one checklist item.
func (t *Tree) RemoveChecklistItem(path []int, techIndex, itemIndex int) error {
	_, err := t.mutate("checklist", func() (string, error) {
		n, err := t.technologyAt(path, techIndex)
		if err != nil {
			return "", err
		}
		if _, err := checklistItem(n, itemIndex); err != nil {
			return "", err
		}
		n.Checklist = append(n.Checklist[:itemIndex], n.Checklist[itemIndex+1:]...)
		return n.ID, nil
	})
	return err
}

// EditChecklistItem replaces the text of one checklist item.
func (t *Tree) EditChecklistItem(path []int, techIndex, itemIndex int, text string) error {
	text, err := cleanName(text)
	if err != nil {
		return err
	}
	_, err = t.mutate("checklist", func() (string, error) {
		n, err := t.technologyAt(path, techIndex)
		if err != nil {
			return "", err
		}
		item, err := checklistItem(n, itemIndex)
		if err != nil {
			return "", err
		}
		item.Text = text
		return n.ID, nil
	})
	return err
}

// ToggleChecklistItem flips one item and returns its new state.
func (t *Tree) ToggleChecklistItem(path []int, techIndex, itemIndex int) (bool, error) {
	var state bool
	_, err := t.mutate("checklist", func() (string, error) {
		n, err := t.technologyAt(path, techIndex)
		if err != nil {
			return "", err
		}
		item, err := checklistItem(n, itemIndex)
		if err != nil {
			return "", err
		}
		item.Completed = !item.Completed
		state = item.Completed
		return n.ID, nil
	})
	return state, err
}

// SetChecklistItem sets one item's completed state.
func (t *Tree) SetChecklistItem(path []int, techIndex, itemIndex int, completed bool) error {
	_, err := t.mutate("checklist", func() (string, error) {
		n, err := t.technologyAt(path, techIndex)
		if err != nil {
			return "", err
		}
		item, err := checklistItem(n, itemIndex)
		if err != nil {
			return "", err
		}
		item.Completed = completed
		return n.ID, nil
	})
	return err
}

// SetContent stores the rich-text body of a technology.
func (t *Tree) SetContent(id, html string) error {
	_, err := t.mutate("content", func() (string, error) {
		n, err := t.technologyByID(id)
		if err != nil {
			return "", err
		}
		n.Content = html
		return n.ID, nil
	})
	return err
}

// AddMedia attaches an asset to a technology.
func (t *Tree) AddMedia(id string, asset schema.MediaAsset) error {
	if asset.Name == "" || asset.Data == "" {
		return fmt.Errorf("media asset needs a name and data")
	}
	_, err := t.mutate("media", func() (string, error) {
		n, err := t.technologyByID(id)
		if err != nil {
			return "", err
		}
		n.Media = append(n.Media, asset)
		return n.ID, nil
	})
	return err
}

// RemoveMedia detaches the asset at index.
func (t *Tree) RemoveMedia(id string, index int) error {
	_, err := t.mutate("media", func() (string, error) {
		n, err := t.technologyByID(id)
		if err != nil {
			return "", err
		}
		if index < 0 || index >= len(n.Media) {
			return "", fmt.Errorf("%w: media %d of %s", ErrNotFound, index, id)
		}
		n.Media = append(n.Media[:index], n.Media[index+1:]...)
		return n.ID, nil
	})
	return err
}

// ToggleLink adds a link from id to targetID, or removes it if present.
// It returns true when the link now exists.
func (t *Tree) ToggleLink(id, targetID string) (bool, error) {
	if id == targetID {
		return false, fmt.Errorf("%w: a technology cannot link to itself", ErrWrongKind)
	}
	var linked bool
	_, err := t.mutate("link", func() (string, error) {
		n, err := t.technologyByID(id)
		if err != nil {
			return "", err
		}
		for i, l := range n.Links {
			if l.ID == targetID {
				n.Links = append(n.Links[:i], n.Links[i+1:]...)
				return n.ID, nil
			}
		}
		target, err := t.technologyByID(targetID)
		if err != nil {
			return "", err
		}
		n.Links = append(n.Links, schema.Link{ID: target.ID, Name: target.Name, Path: t.pathOf(target.ID)})
		linked = true
		return n.ID, nil
	})
	return linked, err
}

// pathOf is PathTo without locking. Caller holds the lock.
func (t *Tree) pathOf(id string) []int {
	var search func(nodes []*schema.Node, prefix []int) []int
	search = func(nodes []*schema.Node, prefix []int) []int {
		for i, n := range nodes {
			p := append(append([]int{}, prefix...), i)
			if n.ID == id {
				return p
			}
			if found := search(n.Children, p); found != nil {
				return found
			}
		}
		return nil
	}
	return search(t.doc.Categories, nil)
}
