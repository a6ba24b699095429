package remote

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

func TestGitRepo_Contract(t *testing.T) {
	g, err := NewGitRepo(GitRepoConfig{Dir: filepath.Join(t.TempDir(), "kb")})
	if err != nil {
		t.Fatalf("NewGitRepo() failed: %v", err)
	}
	runClientContract(t, g)

	history, err := g.History(0)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("got %d commits, want 2", len(history))
	}
	if !strings.HasPrefix(history[0], "Auto-save: ") {
		t.Errorf("latest commit message = %q, want Auto-save prefix", history[0])
	}
}

func TestGitRepo_CommitsToConfiguredBranch(t *testing.T) {
	dir := t.TempDir()
	g, err := NewGitRepo(GitRepoConfig{Dir: dir, Branch: "kb", Path: "data/tech-data.json"})
	if err != nil {
		t.Fatalf("NewGitRepo() failed: %v", err)
	}

	tag, err := g.Write(context.Background(), docWith("Languages"), "")
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}

	repo, err := git.PlainOpen(dir)
	if err != nil {
		t.Fatalf("PlainOpen() failed: %v", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName("kb"), true)
	if err != nil {
		t.Fatalf("branch kb missing: %v", err)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		t.Fatal(err)
	}
	file, err := commit.File("data/tech-data.json")
	if err != nil {
		t.Fatalf("file missing from commit: %v", err)
	}
	if file.Hash.String() != tag {
		t.Errorf("blob hash = %s, want tag %s", file.Hash, tag)
	}
}

func TestGitRepo_ExternalCommitIsConflict(t *testing.T) {
	dir := t.TempDir()
	ours, _ := NewGitRepo(GitRepoConfig{Dir: dir})
	theirs, _ := NewGitRepo(GitRepoConfig{Dir: dir})
	ctx := context.Background()

	tag, err := ours.Write(ctx, docWith("A"), "")
	if err != nil {
		t.Fatalf("Write() failed: %v", err)
	}
	if _, err := theirs.Write(ctx, docWith("A", "B"), tag); err != nil {
		t.Fatalf("other writer failed: %v", err)
	}
	if _, err := ours.Write(ctx, docWith("A", "C"), tag); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("Write() with stale tag error = %v, want ErrVersionConflict", err)
	}
}
