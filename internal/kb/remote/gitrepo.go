package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// GitRepoConfig locates the blob in a local git repository.
type GitRepoConfig struct {
	Dir    string // repository root (with a worktree)
	Branch string // default main
	Path   string // default tech-data.json
	Author string // commit author name, default kbsync
}

// GitRepo stores the document as a file committed to a local repository.
// The tag is the blob hash of the file at the branch head.
type GitRepo struct {
	cfg GitRepoConfig
	mu  sync.Mutex
	now func() time.Time
}

// NewGitRepo returns a client for cfg. The repository is created on the
// first write if Dir does not hold one.
func NewGitRepo(cfg GitRepoConfig) (*GitRepo, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: git repository directory required", ErrConfiguration)
	}
	if cfg.Branch == "" {
		cfg.Branch = "main"
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	cfg.Path = path.Clean(filepath.ToSlash(cfg.Path))
	if cfg.Author == "" {
		cfg.Author = defaultUserAgent
	}
	return &GitRepo{cfg: cfg, now: time.Now}, nil
}

// head returns the current file blob at the branch head. A missing
// repository, branch or file yields a nil file and no error.
func (g *GitRepo) head() (*git.Repository, *object.File, error) {
	repo, err := git.PlainOpen(g.cfg.Dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open repo: %w", err)
	}

	ref, err := repo.Reference(plumbing.NewBranchReferenceName(g.cfg.Branch), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return repo, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("resolve branch %s: %w", g.cfg.Branch, err)
	}

	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, nil, fmt.Errorf("load commit object: %w", err)
	}
	file, err := commitObj.File(g.cfg.Path)
	if errors.Is(err, object.ErrFileNotFound) {
		return repo, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load %s from commit: %w", g.cfg.Path, err)
	}
	return repo, file, nil
}

// Fetch reads the file at the branch head.
func (g *GitRepo) Fetch(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, classifyContext(ctx, err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	_, file, err := g.head()
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, fmt.Errorf("%w: %s on branch %s", ErrNotFound, g.cfg.Path, g.cfg.Branch)
	}

	reader, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("open content reader: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read content bytes: %w", err)
	}
	return decodeBlob(data, file.Hash.String())
}

// Write stores doc with an auto-save commit message.
func (g *GitRepo) Write(ctx context.Context, doc *schema.Document, expectedTag string) (string, error) {
	return g.WriteWithMessage(ctx, doc, expectedTag, AutoSaveMessage(g.now()))
}

// WriteWithMessage commits doc to the branch if the file's current blob hash
// equals expectedTag.
func (g *GitRepo) WriteWithMessage(ctx context.Context, doc *schema.Document, expectedTag, message string) (string, error) {
	data, tag, err := encodeBlob(doc)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", classifyContext(ctx, err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	repo, file, err := g.head()
	if err != nil {
		return "", err
	}
	current := ""
	if file != nil {
		current = file.Hash.String()
	}
	if current != expectedTag {
		return "", fmt.Errorf("%w: expected %q, remote is at %q", ErrVersionConflict, expectedTag, current)
	}

	if repo == nil {
		if err := os.MkdirAll(g.cfg.Dir, 0o755); err != nil {
			return "", fmt.Errorf("create repo dir: %w", err)
		}
		repo, err = git.PlainInit(g.cfg.Dir, false)
		if err != nil {
			return "", fmt.Errorf("init repo: %w", err)
		}
	}
	if err := g.checkoutBranch(repo); err != nil {
		return "", err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return "", fmt.Errorf("open worktree: %w", err)
	}
	target := filepath.Join(worktree.Filesystem.Root(), filepath.FromSlash(g.cfg.Path))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("create content dir: %w", err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", g.cfg.Path, err)
	}
	if _, err := worktree.Add(g.cfg.Path); err != nil {
		return "", fmt.Errorf("git add content: %w", err)
	}
	_, err = worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  g.cfg.Author,
			Email: g.cfg.Author + "@localhost",
			When:  g.now(),
		},
	})
	if err != nil {
		return "", fmt.Errorf("commit content: %w", err)
	}
	return tag, nil
}

// checkoutBranch points HEAD at the configured branch, creating it from the
// current head when it does not exist yet.
func (g *GitRepo) checkoutBranch(repo *git.Repository) error {
	branchRef := plumbing.NewBranchReferenceName(g.cfg.Branch)

	if _, err := repo.Head(); errors.Is(err, plumbing.ErrReferenceNotFound) {
		// Unborn repository: the first commit creates the branch.
		if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, branchRef)); err != nil {
			return fmt.Errorf("set HEAD to %s: %w", g.cfg.Branch, err)
		}
		return nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if _, err := repo.Reference(branchRef, true); err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Create: true}); err != nil {
				return fmt.Errorf("create branch checkout %s: %w", g.cfg.Branch, err)
			}
			return nil
		}
		return fmt.Errorf("resolve branch %s: %w", g.cfg.Branch, err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Branch: branchRef, Force: true}); err != nil {
		return fmt.Errorf("checkout branch %s: %w", g.cfg.Branch, err)
	}
	return nil
}

// History returns up to limit commit messages touching the branch, newest
// first.
func (g *GitRepo) History(limit int) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := git.PlainOpen(g.cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(plumbing.NewBranchReferenceName(g.cfg.Branch), true)
	if err != nil {
		return nil, fmt.Errorf("resolve branch %s: %w", g.cfg.Branch, err)
	}
	iter, err := repo.Log(&git.LogOptions{From: ref.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	var out []string
	err = iter.ForEach(func(c *object.Commit) error {
		out = append(out, c.Message)
		if limit > 0 && len(out) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return out, nil
}

// String identifies the blob location in logs.
func (g *GitRepo) String() string {
	return fmt.Sprintf("git:%s/%s@%s", g.cfg.Dir, g.cfg.Path, g.cfg.Branch)
}
