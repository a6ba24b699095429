package tree

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// setupTree returns a tree with deterministic ids:
//
//	Languages (cat_1)
//	  Go (tech_2)
//	  Scripting (node_3)
//	    Python (tech_4)
//	Databases (cat_5)
func setupTree(t *testing.T) *Tree {
	t.Helper()

	tr := New(nil)
	seq := 0
	tr.newID = func(prefix string) string {
		seq++
		return fmt.Sprintf("%s%d", prefix, seq)
	}

	mustAdd := func(id string, err error) string {
		t.Helper()
		if err != nil {
			t.Fatalf("setup failed: %v", err)
		}
		return id
	}

	mustAdd(tr.AddCategory("Languages"))
	mustAdd(tr.AddTechnology([]int{0}, "Go"))
	mustAdd(tr.AddSubcategory([]int{0}, "Scripting"))
	mustAdd(tr.AddTechnology([]int{0, 1}, "Python"))
	mustAdd(tr.AddCategory("Databases"))
	return tr
}

func TestResolve(t *testing.T) {
	tr := setupTree(t)

	tests := []struct {
		name      string
		path      []int
		wantNames []string
		wantErr   bool
	}{
		{name: "root", path: nil, wantNames: []string{"Languages", "Databases"}},
		{name: "first level", path: []int{0}, wantNames: []string{"Go", "Scripting"}},
		{name: "second level", path: []int{0, 1}, wantNames: []string{"Python"}},
		{name: "empty category", path: []int{1}, wantNames: []string{}},
		{name: "out of range top", path: []int{2}, wantErr: true},
		{name: "negative index", path: []int{-1}, wantErr: true},
		{name: "out of range deep", path: []int{0, 5}, wantErr: true},
		{name: "through technology", path: []int{0, 0}, wantErr: true},
		{name: "past leaf", path: []int{0, 1, 0, 0}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			nodes, err := tr.Resolve(tt.path)
			if tt.wantErr {
				if !errors.Is(err, ErrNotFound) {
					t.Fatalf("Resolve(%v) error = %v, want ErrNotFound", tt.path, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%v) failed: %v", tt.path, err)
			}
			got := []string{}
			for _, n := range nodes {
				got = append(got, n.Name)
			}
			if !reflect.DeepEqual(got, tt.wantNames) {
				t.Errorf("Resolve(%v) = %v, want %v", tt.path, got, tt.wantNames)
			}
		})
	}
}

func TestResolve_ReturnsCopies(t *testing.T) {
	tr := setupTree(t)

	nodes, err := tr.Resolve(nil)
	if err != nil {
		t.Fatalf("Resolve() failed: %v", err)
	}
	nodes[0].Name = "Mutated"

	n, _ := tr.NodeAt(nil, 0)
	if n.Name != "Languages" {
		t.Errorf("live tree changed through Resolve result: %q", n.Name)
	}
}

func TestFindByIDAndPathTo(t *testing.T) {
	tr := setupTree(t)

	n, err := tr.FindByID("tech_4")
	if err != nil {
		t.Fatalf("FindByID() failed: %v", err)
	}
	if n.Name != "Python" {
		t.Errorf("FindByID() name = %q, want Python", n.Name)
	}

	path, err := tr.PathTo("tech_4")
	if err != nil {
		t.Fatalf("PathTo() failed: %v", err)
	}
	if !reflect.DeepEqual(path, []int{0, 1, 0}) {
		t.Errorf("PathTo() = %v, want [0 1 0]", path)
	}

	if _, err := tr.FindByID("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("FindByID(missing) error = %v, want ErrNotFound", err)
	}
	if _, err := tr.PathTo("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("PathTo(missing) error = %v, want ErrNotFound", err)
	}
}

func TestPathTo_ShiftsAfterRemove(t *testing.T) {
	tr := setupTree(t)

	if err := tr.Remove([]int{0}, 0); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	path, err := tr.PathTo("tech_4")
	if err != nil {
		t.Fatalf("PathTo() failed: %v", err)
	}
	if !reflect.DeepEqual(path, []int{0, 0, 0}) {
		t.Errorf("PathTo() after remove = %v, want [0 0 0]", path)
	}
}

func TestTechnologies(t *testing.T) {
	tr := setupTree(t)

	refs := tr.Technologies()
	if len(refs) != 2 {
		t.Fatalf("got %d technologies, want 2", len(refs))
	}
	if refs[0].Name != "Go" || refs[1].Name != "Python" {
		t.Errorf("order = %s, %s; want Go, Python", refs[0].Name, refs[1].Name)
	}
	if !reflect.DeepEqual(refs[1].Path, []int{0, 1, 0}) {
		t.Errorf("Python path = %v, want [0 1 0]", refs[1].Path)
	}
}

func TestAdd_Validation(t *testing.T) {
	tr := setupTree(t)

	if _, err := tr.AddCategory("   "); !errors.Is(err, ErrInvalidName) {
		t.Errorf("AddCategory(blank) error = %v, want ErrInvalidName", err)
	}
	if _, err := tr.AddTechnology(nil, "Top"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("AddTechnology(top level) error = %v, want ErrWrongKind", err)
	}
	if _, err := tr.AddTechnology([]int{9}, "X"); !errors.Is(err, ErrNotFound) {
		t.Errorf("AddTechnology(bad path) error = %v, want ErrNotFound", err)
	}

	id, err := tr.AddCategory("  Tools  ")
	if err != nil {
		t.Fatalf("AddCategory() failed: %v", err)
	}
	if !strings.HasPrefix(id, PrefixCategory) {
		t.Errorf("category id %q lacks prefix %q", id, PrefixCategory)
	}
	n, _ := tr.FindByID(id)
	if n.Name != "Tools" {
		t.Errorf("name = %q, want trimmed Tools", n.Name)
	}
}

func TestNew_DefaultIDsAreUnique(t *testing.T) {
	tr := New(nil)
	a, _ := tr.AddCategory("A")
	b, _ := tr.AddCategory("B")
	if a == b {
		t.Errorf("ids collide: %s", a)
	}
	if err := tr.Snapshot().Validate(); err != nil {
		t.Errorf("snapshot invalid: %v", err)
	}
}

func TestRemove_DropsDescendants(t *testing.T) {
	tr := setupTree(t)

	if err := tr.Remove(nil, 0); err != nil {
		t.Fatalf("Remove() failed: %v", err)
	}
	if _, err := tr.FindByID("tech_4"); !errors.Is(err, ErrNotFound) {
		t.Error("descendant survived removal of its category")
	}
	if err := tr.Remove(nil, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove(out of range) error = %v, want ErrNotFound", err)
	}
}

func TestRenameAndToggle(t *testing.T) {
	tr := setupTree(t)

	if err := tr.Rename([]int{0}, 0, "Golang"); err != nil {
		t.Fatalf("Rename() failed: %v", err)
	}
	n, _ := tr.FindByID("tech_2")
	if n.Name != "Golang" {
		t.Errorf("name = %q, want Golang", n.Name)
	}

	done, err := tr.ToggleCompleted([]int{0}, 0)
	if err != nil || !done {
		t.Fatalf("ToggleCompleted() = %v, %v; want true, nil", done, err)
	}
	if _, err := tr.ToggleCompleted(nil, 0); !errors.Is(err, ErrWrongKind) {
		t.Errorf("ToggleCompleted(category) error = %v, want ErrWrongKind", err)
	}
}

func TestChecklistOperations(t *testing.T) {
	tr := setupTree(t)
	path := []int{0}

	for _, text := range []string{"syntax", "concurrency", "generics"} {
		if err := tr.AddChecklistItem(path, 0, text); err != nil {
			t.Fatalf("AddChecklistItem(%q) failed: %v", text, err)
		}
	}

	if state, err := tr.ToggleChecklistItem(path, 0, 0); err != nil || !state {
		t.Fatalf("ToggleChecklistItem() = %v, %v; want true, nil", state, err)
	}
	if err := tr.SetChecklistItem(path, 0, 1, true); err != nil {
		t.Fatalf("SetChecklistItem() failed: %v", err)
	}
	if err := tr.EditChecklistItem(path, 0, 2, "type params"); err != nil {
		t.Fatalf("EditChecklistItem() failed: %v", err)
	}
	if err := tr.RemoveChecklistItem(path, 0, 1); err != nil {
		t.Fatalf("RemoveChecklistItem() failed: %v", err)
	}
	if err := tr.RemoveChecklistItem(path, 0, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("RemoveChecklistItem(out of range) error = %v, want ErrNotFound", err)
	}

	n, _ := tr.FindByID("tech_2")
	want := []schema.ChecklistItem{
		{Text: "syntax", Completed: true},
		{Text: "type params", Completed: false},
	}
	if !reflect.DeepEqual(n.Checklist, want) {
		t.Errorf("checklist = %+v, want %+v", n.Checklist, want)
	}
}

func TestContentMediaLinks(t *testing.T) {
	tr := setupTree(t)

	if err := tr.SetContent("tech_2", "<p>notes</p>"); err != nil {
		t.Fatalf("SetContent() failed: %v", err)
	}
	if err := tr.SetContent("cat_1", "x"); !errors.Is(err, ErrWrongKind) {
		t.Errorf("SetContent(category) error = %v, want ErrWrongKind", err)
	}

	asset := schema.MediaAsset{Name: "a.png", Type: "image", Data: "data:image/png;base64,AA==", MimeType: "image/png"}
	if err := tr.AddMedia("tech_2", asset); err != nil {
		t.Fatalf("AddMedia() failed: %v", err)
	}
	if err := tr.AddMedia("tech_2", schema.MediaAsset{Name: "empty"}); err == nil {
		t.Error("AddMedia() accepted an asset with no data")
	}

	linked, err := tr.ToggleLink("tech_2", "tech_4")
	if err != nil || !linked {
		t.Fatalf("ToggleLink() = %v, %v; want true, nil", linked, err)
	}

	n, _ := tr.FindByID("tech_2")
	if n.Content != "<p>notes</p>" || len(n.Media) != 1 || len(n.Links) != 1 {
		t.Fatalf("technology = %+v", n)
	}
	if n.Links[0].Name != "Python" || !reflect.DeepEqual(n.Links[0].Path, []int{0, 1, 0}) {
		t.Errorf("link = %+v", n.Links[0])
	}

	linked, err = tr.ToggleLink("tech_2", "tech_4")
	if err != nil || linked {
		t.Fatalf("second ToggleLink() = %v, %v; want false, nil", linked, err)
	}
	if err := tr.RemoveMedia("tech_2", 0); err != nil {
		t.Fatalf("RemoveMedia() failed: %v", err)
	}

	n, _ = tr.FindByID("tech_2")
	if len(n.Media) != 0 || len(n.Links) != 0 {
		t.Errorf("media/links not removed: %+v", n)
	}
}

func TestOnChange(t *testing.T) {
	tr := setupTree(t)

	var changes []Change
	tr.OnChange(func(c Change) { changes = append(changes, c) })

	_, _ = tr.AddCategory("Tools")
	_ = tr.Rename(nil, 0, "Langs")
	_ = tr.Remove(nil, 99) // fails, no notification

	if len(changes) != 2 {
		t.Fatalf("got %d changes, want 2: %+v", len(changes), changes)
	}
	if changes[0].Op != "add" || changes[1].Op != "rename" || changes[1].ID != "cat_1" {
		t.Errorf("changes = %+v", changes)
	}
}

func TestReplaceAndUpdate(t *testing.T) {
	tr := setupTree(t)

	doc := schema.NewDocument()
	doc.Categories = append(doc.Categories, schema.NewCategory("c1", "Only"))
	if err := tr.Replace(doc); err != nil {
		t.Fatalf("Replace() failed: %v", err)
	}
	doc.Categories[0].Name = "changed after replace"
	if n, _ := tr.NodeAt(nil, 0); n.Name != "Only" {
		t.Errorf("Replace kept a reference to the caller's document")
	}

	bad := &schema.Document{Categories: []*schema.Node{{ID: "x", Name: "X", Type: "folder"}}}
	if err := tr.Replace(bad); err == nil {
		t.Error("Replace() accepted an invalid document")
	}

	err := tr.Update("merge", func(live *schema.Document) (*schema.Document, error) {
		next := live.Clone()
		next.Categories = append(next.Categories, schema.NewCategory("c1", "Duplicate id"))
		return next, nil
	})
	if err == nil {
		t.Error("Update() accepted a document with duplicate ids")
	}
	if len(tr.Snapshot().Categories) != 1 {
		t.Error("failed Update changed the tree")
	}
}
