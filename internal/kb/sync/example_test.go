package sync_test

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/Bestie123/PromAi/internal/kb/remote"
	"github.com/Bestie123/PromAi/internal/kb/schema"
	"github.com/Bestie123/PromAi/internal/kb/store"
	"github.com/Bestie123/PromAi/internal/kb/sync"
	"github.com/Bestie123/PromAi/internal/kb/tree"
)

// This example runs one cycle against an in-memory remote.
func ExampleNew() {
	dir, err := os.MkdirTemp("", "kbsync-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	local, err := store.OpenFile(filepath.Join(dir, "kb.json"), log.New(io.Discard, "", 0))
	if err != nil {
		log.Fatal(err)
	}
	defer local.Close()

	doc := schema.NewDocument()
	doc.Categories = append(doc.Categories, schema.NewCategory("cat_1", "Languages"))

	cfg := sync.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	s := sync.New(tree.New(doc), local, remote.NewMemory(), cfg)

	report, err := s.Cycle(context.Background(), sync.Options{})
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println("created:", report.Created)
	fmt.Println("wrote:", report.Wrote)
	// Output:
	// created: true
	// wrote: true
}

// This example merges a remote that another device changed.
func ExampleSyncer_PullMerge() {
	mem := remote.NewMemory()
	theirs := schema.NewDocument()
	theirs.Categories = append(theirs.Categories, schema.NewCategory("cat_9", "Databases"))
	mem.Put(theirs)

	ours := schema.NewDocument()
	ours.Categories = append(ours.Categories, schema.NewCategory("cat_1", "Languages"))
	t := tree.New(ours)

	dir, err := os.MkdirTemp("", "kbsync-example")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)
	local, err := store.OpenFile(filepath.Join(dir, "kb.json"), log.New(io.Discard, "", 0))
	if err != nil {
		log.Fatal(err)
	}
	defer local.Close()

	cfg := sync.DefaultConfig()
	cfg.Logger = log.New(io.Discard, "", 0)
	report, err := sync.New(t, local, mem, cfg).PullMerge(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(report.Merged)
	for _, c := range t.Snapshot().Categories {
		fmt.Println(c.Name)
	}
	// Output:
	// added 1 categories
	// Languages
	// Databases
}
