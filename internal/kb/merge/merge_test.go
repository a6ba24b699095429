package merge

import (
	"fmt"
	"math/rand"
	"reflect"
	"testing"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

func tech(id, name string, items ...schema.ChecklistItem) *schema.Node {
	n := schema.NewTechnology(id, name)
	n.Checklist = items
	return n
}

func cat(id, name string, children ...*schema.Node) *schema.Node {
	n := schema.NewCategory(id, name)
	n.Children = append(n.Children, children...)
	return n
}

func doc(categories ...*schema.Node) *schema.Document {
	return &schema.Document{Categories: categories}
}

func item(text string, done bool) schema.ChecklistItem {
	return schema.ChecklistItem{Text: text, Completed: done}
}

func TestRun_Scenario(t *testing.T) {
	local := doc(
		cat("cat_l", "Languages",
			tech("tech_go_l", "Go", item("learn syntax", true)),
		),
	)
	remote := doc(
		cat("cat_r", "Languages",
			tech("tech_go_r", "Go", item("learn syntax", true), item("learn concurrency", false)),
		),
		cat("cat_db", "Databases"),
	)

	first := Run(local, remote)
	merged := first.Document

	if len(merged.Categories) != 2 || merged.Categories[1].Name != "Databases" {
		t.Fatalf("categories = %v, want Languages then Databases", names(merged.Categories))
	}
	goNode := merged.Categories[0].Children[0]
	want := []schema.ChecklistItem{item("learn syntax", true), item("learn concurrency", false)}
	if !reflect.DeepEqual(goNode.Checklist, want) {
		t.Errorf("Go checklist = %+v, want %+v", goNode.Checklist, want)
	}
	if goNode.ID != "tech_go_l" {
		t.Errorf("matched node id = %s, want local id kept", goNode.ID)
	}
	if first.Stats.Categories != 1 || first.Stats.Items != 1 {
		t.Errorf("stats = %+v, want 1 category and 1 item", first.Stats)
	}

	second := Run(merged, remote)
	if !second.Document.Equal(merged) {
		t.Error("second merge changed the result")
	}
	if second.Stats.Changed() {
		t.Errorf("second merge stats = %+v, want no changes", second.Stats)
	}
}

func TestRun_SelfIsIdentity(t *testing.T) {
	for i, d := range sampleDocuments() {
		t.Run(fmt.Sprintf("doc%d", i), func(t *testing.T) {
			res := Run(d, d)
			if !res.Document.Equal(d) {
				t.Error("merge(D, D) != D")
			}
			if res.Stats.Changed() {
				t.Errorf("merge(D, D) stats = %+v", res.Stats)
			}
		})
	}
}

func TestRun_NoDeletionPropagation(t *testing.T) {
	local := doc(
		cat("c1", "Languages",
			tech("t1", "Go", item("a", true), item("b", false)),
			tech("t2", "Rust"),
		),
		cat("c2", "Databases"),
	)

	removals := map[string]func(d *schema.Document){
		"category":       func(d *schema.Document) { d.Categories = d.Categories[:1] },
		"technology":     func(d *schema.Document) { d.Categories[0].Children = d.Categories[0].Children[:1] },
		"checklist item": func(d *schema.Document) { d.Categories[0].Children[0].Checklist = d.Categories[0].Children[0].Checklist[:1] },
	}

	for name, remove := range removals {
		t.Run(name, func(t *testing.T) {
			remote := local.Clone()
			remove(remote)
			if res := Run(local, remote); !res.Document.Equal(local) {
				t.Error("remote deletion was applied to local")
			}
		})
	}
}

func TestRun_CompletionConflictFavorsLocal(t *testing.T) {
	local := doc(cat("c", "L", tech("t", "Go", item("syntax", false))))
	remote := doc(cat("c", "L", tech("t", "Go", item("syntax", true))))

	res := Run(local, remote)
	if res.Document.Categories[0].Children[0].Checklist[0].Completed {
		t.Error("remote completion state overwrote local")
	}
}

func TestRun_TechnologyCompletedFlagKept(t *testing.T) {
	l := tech("t", "Go")
	r := tech("t", "Go")
	r.Completed = true

	res := Run(doc(cat("c", "L", l)), doc(cat("c", "L", r)))
	if res.Document.Categories[0].Children[0].Completed {
		t.Error("remote completed flag overwrote local")
	}
}

func TestRun_IdentityIsNameAndType(t *testing.T) {
	local := doc(cat("c", "L", tech("t1", "Go")))
	remote := doc(cat("c", "L", cat("n1", "Go"), tech("t2", "Go renamed")))

	res := Run(local, remote)
	children := res.Document.Categories[0].Children
	if len(children) != 3 {
		t.Fatalf("children = %v, want 3 (kind mismatch and rename both duplicate)", names(children))
	}
	if !children[1].IsCategory() || children[2].Name != "Go renamed" {
		t.Errorf("children = %v", names(children))
	}
}

func TestRun_RecursesIntoSubcategories(t *testing.T) {
	local := doc(cat("c", "L", cat("n", "Scripting", tech("t1", "Python", item("a", true)))))
	remote := doc(cat("c", "L", cat("n", "Scripting",
		tech("t1", "Python", item("a", false), item("b", false)),
		tech("t2", "Ruby"),
	)))

	res := Run(local, remote)
	sub := res.Document.Categories[0].Children[0]
	if len(sub.Children) != 2 {
		t.Fatalf("subcategory children = %v, want Python and Ruby", names(sub.Children))
	}
	if got := sub.Children[0].Checklist; !reflect.DeepEqual(got, []schema.ChecklistItem{item("a", true), item("b", false)}) {
		t.Errorf("Python checklist = %+v", got)
	}
}

func TestRun_RichContent(t *testing.T) {
	png := schema.MediaAsset{Name: "diagram.png", Type: "image", Data: "data:image/png;base64,AA==", MimeType: "image/png"}
	mp4 := schema.MediaAsset{Name: "talk.mp4", Type: "video", Data: "data:video/mp4;base64,AA==", MimeType: "video/mp4"}

	l := tech("t", "Go")
	l.Media = []schema.MediaAsset{png}
	l.Links = []schema.Link{{ID: "x", Name: "X"}}

	r := tech("t", "Go")
	r.Content = "<p>remote notes</p>"
	r.Media = []schema.MediaAsset{png, mp4}
	r.Links = []schema.Link{{ID: "x", Name: "X"}, {ID: "y", Name: "Y", Path: []int{0, 1}}}

	res := Run(doc(cat("c", "L", l)), doc(cat("c", "L", r)))
	got := res.Document.Categories[0].Children[0]

	if got.Content != "<p>remote notes</p>" {
		t.Errorf("content = %q, want remote content adopted", got.Content)
	}
	if len(got.Media) != 2 || len(got.Links) != 2 {
		t.Errorf("media = %d, links = %d; want 2, 2", len(got.Media), len(got.Links))
	}
	if res.Stats.Content != 1 || res.Stats.Media != 1 || res.Stats.Links != 1 {
		t.Errorf("stats = %+v", res.Stats)
	}

	// Non-empty local content is never replaced.
	l2 := tech("t", "Go")
	l2.Content = "<p>local</p>"
	res = Run(doc(cat("c", "L", l2)), doc(cat("c", "L", r)))
	if res.Document.Categories[0].Children[0].Content != "<p>local</p>" {
		t.Error("remote content replaced local content")
	}
}

func TestRun_InputsNotMutated(t *testing.T) {
	local := doc(cat("c", "L", tech("t", "Go", item("a", true))))
	remote := doc(cat("c", "L", tech("t", "Go", item("b", false))), cat("d", "DB"))
	localBefore := local.Clone()
	remoteBefore := remote.Clone()

	_ = Run(local, remote)

	if !local.Equal(localBefore) {
		t.Error("Run modified local")
	}
	if !remote.Equal(remoteBefore) {
		t.Error("Run modified remote")
	}
}

func TestRun_CollidingIDsAreReplaced(t *testing.T) {
	local := doc(cat("cat_1", "Languages", tech("tech_1", "Go")))
	// Remote renamed the category; its copy collides on every id.
	linked := tech("tech_2", "Rust")
	linked.Links = []schema.Link{{ID: "tech_1", Name: "Go"}}
	remote := doc(cat("cat_1", "Programming", tech("tech_1", "Go"), linked))

	res := Run(local, remote)
	if err := res.Document.Validate(); err != nil {
		t.Fatalf("merged document invalid: %v", err)
	}

	copied := res.Document.Categories[1]
	if copied.ID == "cat_1" || copied.Children[0].ID == "tech_1" {
		t.Errorf("colliding ids kept: %s, %s", copied.ID, copied.Children[0].ID)
	}
	if copied.Children[1].ID != "tech_2" {
		t.Errorf("non-colliding id changed: %s", copied.Children[1].ID)
	}
	if got := copied.Children[1].Links[0].ID; got != copied.Children[0].ID {
		t.Errorf("link inside copy = %s, want it to follow the replaced id %s", got, copied.Children[0].ID)
	}
	if res.Stats.Remapped != 2 {
		t.Errorf("remapped = %d, want 2", res.Stats.Remapped)
	}

	again := Run(local, remote)
	if !again.Document.Equal(res.Document) {
		t.Error("replacement ids are not deterministic")
	}
}

func TestRun_NilInputs(t *testing.T) {
	local := doc(cat("c", "L"))
	if res := Run(local, nil); !res.Document.Equal(local) {
		t.Error("Run(local, nil) != local")
	}
	if res := Run(nil, local); !res.Document.Equal(local) {
		t.Error("Run(nil, remote) != remote")
	}
}

// TestRun_Superset checks on random documents that every identity key from
// both sides survives the merge.
func TestRun_Superset(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		local := randomDocument(rng, "l")
		remote := randomDocument(rng, "r")

		res := Run(local, remote)
		if err := res.Document.Validate(); err != nil {
			t.Fatalf("iteration %d: merged document invalid: %v", i, err)
		}

		got := keys(res.Document)
		for k := range keys(local) {
			if _, ok := got[k]; !ok {
				t.Fatalf("iteration %d: local key %q lost", i, k)
			}
		}
		for k := range keys(remote) {
			if _, ok := got[k]; !ok {
				t.Fatalf("iteration %d: remote key %q missing", i, k)
			}
		}

		again := Run(res.Document, remote)
		if !again.Document.Equal(res.Document) {
			t.Fatalf("iteration %d: merge is not stable on rerun", i)
		}
	}
}

// keys returns identity paths: names joined down the tree, plus checklist
// item texts.
func keys(d *schema.Document) map[string]struct{} {
	out := make(map[string]struct{})
	var visit func(nodes []*schema.Node, prefix string)
	visit = func(nodes []*schema.Node, prefix string) {
		for _, n := range nodes {
			k := prefix + "/" + string(n.Type) + ":" + n.Name
			out[k] = struct{}{}
			for _, it := range n.Checklist {
				out[k+"#"+it.Text] = struct{}{}
			}
			visit(n.Children, k)
		}
	}
	visit(d.Categories, "")
	return out
}

func randomDocument(rng *rand.Rand, side string) *schema.Document {
	names := []string{"A", "B", "C"}
	seq := 0
	id := func(prefix string) string {
		seq++
		return fmt.Sprintf("%s_%s%d", prefix, side, seq)
	}

	var build func(depth int) []*schema.Node
	build = func(depth int) []*schema.Node {
		var out []*schema.Node
		used := map[string]bool{}
		for i := rng.Intn(3); i >= 0; i-- {
			name := names[rng.Intn(len(names))]
			if depth > 0 && rng.Intn(2) == 0 {
				if used["t"+name] {
					continue
				}
				used["t"+name] = true
				n := tech(id("tech"), name)
				for j := rng.Intn(3); j > 0; j-- {
					text := names[rng.Intn(len(names))]
					if !n.HasChecklistItem(text) {
						n.Checklist = append(n.Checklist, item(text, rng.Intn(2) == 0))
					}
				}
				out = append(out, n)
				continue
			}
			if used["c"+name] {
				continue
			}
			used["c"+name] = true
			c := cat(id("cat"), name)
			if depth < 2 {
				c.Children = append(c.Children, build(depth+1)...)
			}
			out = append(out, c)
		}
		return out
	}
	return doc(build(0)...)
}

func sampleDocuments() []*schema.Document {
	rng := rand.New(rand.NewSource(7))
	out := []*schema.Document{schema.NewDocument()}
	for i := 0; i < 5; i++ {
		out = append(out, randomDocument(rng, "s"))
	}
	return out
}

func names(nodes []*schema.Node) []string {
	out := make([]string, len(nodes))
	for i, n := range nodes {
		out[i] = string(n.Type) + ":" + n.Name
	}
	return out
}
