package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/Bestie123/PromAi/internal/kb/merge"
	"github.com/Bestie123/PromAi/internal/kb/remote"
	"github.com/Bestie123/PromAi/internal/kb/schema"
	"github.com/Bestie123/PromAi/internal/kb/store"
	"github.com/Bestie123/PromAi/internal/kb/tree"
)

// Config holds configuration for the syncer.
type Config struct {
	// MinSpacing is the minimum time between two successful writes. Cycles
	// started sooner are skipped unless forced.
	MinSpacing time.Duration

	// Policy decides what happens when a write is rejected.
	Policy ConflictPolicy

	// Resolver is asked under PolicyPrompt. A nil Resolver declines.
	Resolver Resolver

	// SharedStore marks the store as written by other processes too. Each
	// operation then re-reads it under the store's edit lock and holds the
	// lock until the merged document is saved. The tree must not carry
	// edits that were never saved to the store.
	SharedStore bool

	// Logger for sync activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		MinSpacing: 30 * time.Second,
		Policy:     PolicyMergeRetry,
		Logger:     log.New(os.Stderr, "[sync] ", log.LstdFlags),
	}
}

// syncer implements the Syncer interface.
type syncer struct {
	tree   *tree.Tree
	store  store.Store
	client remote.Client
	cfg    *Config
	logger *log.Logger
	now    func() time.Time

	busy atomic.Bool

	mu     gosync.Mutex
	status Status
}

// New creates a Syncer over the shared tree, its local store and a remote
// client.
//
// If cfg is nil, DefaultConfig() is used.
//
// Example:
//
//	t := tree.New(doc)
//	s := sync.New(t, localStore, client, nil)
//	if err := s.Restore(ctx); err != nil {
//	    return err
//	}
//	report, err := s.Cycle(ctx, sync.Options{})
func New(t *tree.Tree, st store.Store, client remote.Client, cfg *Config) Syncer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = DefaultConfig().Logger
	}
	if !cfg.Policy.IsValid() {
		cfg.Policy = PolicyMergeRetry
	}
	return &syncer{
		tree:   t,
		store:  st,
		client: client,
		cfg:    cfg,
		logger: cfg.Logger,
		now:    time.Now,
		status: Status{State: StateIdle},
	}
}

// Restore implements Syncer.Restore.
func (s *syncer) Restore(ctx context.Context) error {
	ss, ok := s.store.(store.StateStore)
	if !ok {
		return nil
	}
	st, err := ss.LoadSyncState(ctx)
	if err != nil {
		return fmt.Errorf("failed to restore sync state: %w", err)
	}

	s.mu.Lock()
	s.status.LastTag = st.LastTag
	s.status.LastSync = st.LastSync
	s.status.LastWrite = st.LastWrite
	s.mu.Unlock()

	if st.LastTag != "" {
		s.logger.Printf("Restored baseline %s (last write %s)", shortTag(st.LastTag), formatWhen(st.LastWrite))
	}
	return nil
}

// Status implements Syncer.Status.
func (s *syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Cycle implements Syncer.Cycle.
func (s *syncer) Cycle(ctx context.Context, opts Options) (*Report, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.release()

	start := s.now()
	report := &Report{State: StateIdle}

	if !opts.Force && s.cfg.MinSpacing > 0 {
		lastWrite := s.Status().LastWrite
		if since := start.Sub(lastWrite); !lastWrite.IsZero() && since < s.cfg.MinSpacing {
			report.Skipped = fmt.Sprintf("last write %s ago, minimum spacing is %s",
				since.Round(time.Second), s.cfg.MinSpacing)
			report.Deferred = true
			return report, nil
		}
	}

	s.update(func(st *Status) { st.Cycles++ })
	err := s.run(ctx, opts, report)
	s.finish(ctx, report, start, err)
	return report, err
}

func (s *syncer) run(ctx context.Context, opts Options, report *Report) error {
	expected, err := s.check(ctx, report)
	if err != nil {
		return err
	}
	err = s.write(ctx, opts, expected, report)
	if err == nil || !errors.Is(err, remote.ErrVersionConflict) {
		return err
	}
	return s.resolveConflict(ctx, opts, expected, err, report)
}

// check fetches the remote revision, merges it when its tag moved, and
// returns the tag the next write must expect.
func (s *syncer) check(ctx context.Context, report *Report) (string, error) {
	s.setState(StateChecking)

	var (
		remoteDoc *schema.Document
		tag       string
	)
	snap, err := s.client.Fetch(ctx)
	switch {
	case err == nil:
		tag = snap.Tag
		if snap.Tag != s.Status().LastTag {
			remoteDoc = snap.Document
		}
	case errors.Is(err, remote.ErrMalformed):
		s.logger.Printf("Warning: remote document is unreadable and will be replaced: %v", err)
		if snap != nil {
			tag = snap.Tag
		}
	case errors.Is(err, remote.ErrNotFound):
		s.logger.Printf("Remote document not found, it will be created")
	default:
		return "", fmt.Errorf("failed to fetch remote document: %w", err)
	}

	if err := s.mergeRemote(ctx, remoteDoc, report); err != nil {
		return "", err
	}
	if remoteDoc != nil {
		s.update(func(st *Status) { st.LastTag = tag })
	}
	return tag, nil
}

// lockStore takes the store's edit lock when the store is shared.
func (s *syncer) lockStore(ctx context.Context) (func(), error) {
	l, ok := s.store.(store.Locker)
	if !s.cfg.SharedStore || !ok {
		return func() {}, nil
	}
	unlock, err := l.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to lock local store: %w", err)
	}
	return unlock, nil
}

// reload replaces the tree with the stored document when another process
// saved a different one. The caller holds the store lock.
func (s *syncer) reload(ctx context.Context, report *Report) error {
	if !s.cfg.SharedStore {
		return nil
	}
	stored, err := s.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload local store: %w", err)
	}
	if stored.Equal(s.tree.Snapshot()) {
		return nil
	}
	if err := s.tree.Replace(stored); err != nil {
		return fmt.Errorf("failed to apply stored document: %w", err)
	}
	report.Reloaded = true
	s.logger.Println("Reloaded local store after an external change")
	return nil
}

// mergeRemote brings the tree up to date with a shared store, folds
// remoteDoc (if any) into it and persists the result. Reading the store and
// saving the merge happen under one hold of the store lock.
func (s *syncer) mergeRemote(ctx context.Context, remoteDoc *schema.Document, report *Report) error {
	unlock, err := s.lockStore(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.reload(ctx, report); err != nil {
		return err
	}
	if remoteDoc == nil {
		return nil
	}

	s.setState(StateMerging)

	var stats merge.Stats
	err = s.tree.Update("merge", func(live *schema.Document) (*schema.Document, error) {
		res := merge.Run(live, remoteDoc)
		stats = res.Stats
		if !stats.Changed() {
			return live, nil
		}
		return res.Document, nil
	})
	if err != nil {
		return fmt.Errorf("failed to apply merge: %w", err)
	}

	report.Merged = addStats(report.Merged, stats)
	s.update(func(st *Status) { st.Merges++ })

	if !stats.Changed() {
		return nil
	}
	if err := s.store.Save(ctx, s.tree.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist merged document: %w", err)
	}
	s.logger.Printf("Merged remote changes: %s", stats)
	return nil
}

func addStats(acc *merge.Stats, s merge.Stats) *merge.Stats {
	if acc == nil {
		return &s
	}
	acc.Categories += s.Categories
	acc.Nodes += s.Nodes
	acc.Items += s.Items
	acc.Media += s.Media
	acc.Links += s.Links
	acc.Content += s.Content
	acc.Remapped += s.Remapped
	return acc
}

// write sends the current document guarded by expected. It captures the
// snapshot at this moment; later edits go out with the next cycle.
func (s *syncer) write(ctx context.Context, opts Options, expected string, report *Report) error {
	s.setState(StateWriting)
	doc := s.tree.Snapshot()

	if expected != "" {
		if tag, err := blobTag(doc); err == nil && tag == expected {
			report.Tag = expected
			if report.Skipped == "" {
				report.Skipped = "remote already up to date"
			}
			return nil
		}
	}

	tag, err := s.put(ctx, doc, expected, opts.Manual)
	if err != nil {
		return fmt.Errorf("failed to write remote document: %w", err)
	}

	report.Skipped = ""
	report.Wrote = true
	report.Tag = tag
	if expected == "" {
		report.Created = true
	}
	now := s.now()
	s.update(func(st *Status) {
		st.LastTag = tag
		st.LastWrite = now
		st.Writes++
	})
	s.logger.Printf("Wrote remote document %s", shortTag(tag))
	return nil
}

func (s *syncer) put(ctx context.Context, doc *schema.Document, expected string, manual bool) (string, error) {
	if m, ok := s.client.(remote.Messenger); ok && manual {
		return m.WriteWithMessage(ctx, doc, expected, remote.ManualSaveMessage(s.now()))
	}
	return s.client.Write(ctx, doc, expected)
}

func blobTag(doc *schema.Document) (string, error) {
	data, err := doc.EncodeIndent()
	if err != nil {
		return "", err
	}
	return remote.ComputeTag(data), nil
}

// resolveConflict applies the conflict policy to a rejected write. At most
// one retry is made.
func (s *syncer) resolveConflict(ctx context.Context, opts Options, expected string, cause error, report *Report) error {
	s.update(func(st *Status) { st.Conflicts++ })
	s.logger.Printf("Write rejected, remote moved past %s", shortTag(expected))

	retry := false
	switch s.cfg.Policy {
	case PolicyMergeRetry:
		retry = true
	case PolicyPrompt:
		if s.cfg.Resolver != nil {
			ok, err := s.cfg.Resolver(ctx, Conflict{ExpectedTag: expected, Err: cause})
			if err != nil {
				s.logger.Printf("Warning: conflict prompt failed: %v", err)
			}
			retry = ok && err == nil
		}
	case PolicyPause:
	}

	if !retry {
		report.Paused = true
		return fmt.Errorf("%w: %w", ErrConflictUnresolved, cause)
	}

	report.Retried = true
	next, err := s.check(ctx, report)
	if err != nil {
		return err
	}
	if err := s.write(ctx, opts, next, report); err != nil {
		if errors.Is(err, remote.ErrVersionConflict) {
			s.update(func(st *Status) { st.Conflicts++ })
			report.Paused = true
			return fmt.Errorf("%w: retry after merge also conflicted: %w", ErrConflictUnresolved, err)
		}
		return err
	}
	return nil
}

// Pull implements Syncer.Pull.
func (s *syncer) Pull(ctx context.Context) (*Report, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.release()

	start := s.now()
	report := &Report{State: StateIdle}
	err := s.pull(ctx, report)
	s.finish(ctx, report, start, err)
	return report, err
}

func (s *syncer) pull(ctx context.Context, report *Report) error {
	s.setState(StateChecking)
	snap, err := s.client.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch remote document: %w", err)
	}

	unlock, err := s.lockStore(ctx)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.tree.Replace(snap.Document); err != nil {
		return err
	}
	if err := s.store.Save(ctx, s.tree.Snapshot()); err != nil {
		return fmt.Errorf("failed to persist pulled document: %w", err)
	}
	s.update(func(st *Status) { st.LastTag = snap.Tag })
	report.Tag = snap.Tag
	s.logger.Printf("Replaced local document with remote %s", shortTag(snap.Tag))
	return nil
}

// PullMerge implements Syncer.PullMerge.
func (s *syncer) PullMerge(ctx context.Context) (*Report, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.release()

	start := s.now()
	report := &Report{State: StateIdle}
	err := s.pullMerge(ctx, report)
	s.finish(ctx, report, start, err)
	return report, err
}

func (s *syncer) pullMerge(ctx context.Context, report *Report) error {
	s.setState(StateChecking)
	snap, err := s.client.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch remote document: %w", err)
	}
	if err := s.mergeRemote(ctx, snap.Document, report); err != nil {
		return err
	}
	s.update(func(st *Status) { st.LastTag = snap.Tag })
	report.Tag = snap.Tag
	return nil
}

// Push implements Syncer.Push.
func (s *syncer) Push(ctx context.Context, force bool) (*Report, error) {
	if !force {
		return s.Cycle(ctx, Options{Force: true, Manual: true})
	}
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer s.release()

	start := s.now()
	report := &Report{State: StateIdle}
	err := s.forcePush(ctx, report)
	s.finish(ctx, report, start, err)
	return report, err
}

// forcePush overwrites the remote at whatever revision it currently holds.
func (s *syncer) forcePush(ctx context.Context, report *Report) error {
	s.setState(StateChecking)
	current := ""
	snap, err := s.client.Fetch(ctx)
	switch {
	case err == nil, errors.Is(err, remote.ErrMalformed):
		if snap != nil {
			current = snap.Tag
		}
	case errors.Is(err, remote.ErrNotFound):
	default:
		return fmt.Errorf("failed to fetch remote document: %w", err)
	}

	if err := s.mergeRemote(ctx, nil, report); err != nil {
		return err
	}
	if current != "" {
		s.logger.Printf("Overwriting remote %s without merging", shortTag(current))
	}
	return s.write(ctx, Options{Force: true, Manual: true}, current, report)
}

// finish records the outcome of an operation and persists the baseline.
func (s *syncer) finish(ctx context.Context, report *Report, start time.Time, err error) {
	now := s.now()
	report.Took = now.Sub(start)

	s.update(func(st *Status) {
		if err != nil {
			st.Failures++
			st.LastError = err.Error()
			return
		}
		st.LastError = ""
		st.LastSync = now
	})

	if err != nil {
		report.State = StateFailed
		s.logger.Printf("Sync failed: %v", err)
	}
	if report.Tag == "" {
		report.Tag = s.Status().LastTag
	}

	s.persist(context.WithoutCancel(ctx))
}

func (s *syncer) persist(ctx context.Context) {
	ss, ok := s.store.(store.StateStore)
	if !ok {
		return
	}
	st := s.Status()
	err := ss.SaveSyncState(ctx, store.SyncState{
		LastTag:   st.LastTag,
		LastSync:  st.LastSync,
		LastWrite: st.LastWrite,
	})
	if err != nil {
		s.logger.Printf("Warning: failed to save sync state: %v", err)
	}
}

func (s *syncer) release() {
	s.setState(StateIdle)
	s.busy.Store(false)
}

func (s *syncer) setState(state State) {
	s.update(func(st *Status) { st.State = state })
}

func (s *syncer) update(fn func(st *Status)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.status)
}

func shortTag(tag string) string {
	if tag == "" {
		return "(none)"
	}
	if len(tag) > 7 {
		return tag[:7]
	}
	return tag
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
