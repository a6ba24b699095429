package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Bestie123/PromAi/internal/kb/remote"
	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
	"github.com/Bestie123/PromAi/internal/kb/tree"
)

// Config holds configuration for the daemon.
type Config struct {
	// Interval is how often a cycle runs while enabled.
	Interval time.Duration

	// Debounce is how long the tree must stay quiet after an edit before a
	// cycle runs. Every edit re-arms the timer.
	Debounce time.Duration

	// CallTimeout bounds a single remote call. A cycle makes at most four
	// (fetch, write, refetch, write).
	CallTimeout time.Duration

	// MaxAuthFailures is how many consecutive auth failures stop the
	// schedule.
	MaxAuthFailures int

	// SharedStore says other processes save to the syncer's store. Their
	// edits reach the tree only inside a cycle, so Flush then always runs
	// one.
	SharedStore bool

	// Logger for daemon activity
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Interval:        2 * time.Minute,
		Debounce:        10 * time.Second,
		CallTimeout:     30 * time.Second,
		MaxAuthFailures: 3,
		Logger:          log.New(os.Stderr, "[daemon] ", log.LstdFlags),
	}
}

// Daemon schedules sync cycles: on a fixed interval, after edits settle, on
// demand and once more when the session ends.
type Daemon struct {
	syncer kbsync.Syncer
	tree   *tree.Tree
	config *Config
	sinks  sinks

	touch   chan struct{}
	pending atomic.Bool

	mu           sync.Mutex
	enabled      bool
	halted       error
	authFailures int
	cancel       context.CancelFunc
	wg           sync.WaitGroup

	watcher *FileWatcher
	watchWg sync.WaitGroup
}

// New creates a daemon driving s. Edits to t re-arm the debounce timer;
// merges applied by the syncer itself do not.
//
// Use Enable() to start the schedule.
func New(s kbsync.Syncer, t *tree.Tree, config *Config) (*Daemon, error) {
	if s == nil {
		return nil, fmt.Errorf("syncer cannot be nil")
	}
	if t == nil {
		return nil, fmt.Errorf("tree cannot be nil")
	}
	if config == nil {
		config = DefaultConfig()
	}
	def := DefaultConfig()
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	if config.MaxAuthFailures <= 0 {
		config.MaxAuthFailures = def.MaxAuthFailures
	}

	d := &Daemon{
		syncer: s,
		tree:   t,
		config: config,
		touch:  make(chan struct{}, 1),
	}
	t.OnChange(func(c tree.Change) {
		if c.Op != "merge" {
			d.Touch()
		}
	})
	return d, nil
}

// AddSink registers a receiver for daemon events.
func (d *Daemon) AddSink(s EventSink) {
	d.sinks.add(s)
}

// Enable starts the interval and debounce loops. It clears a previous halt.
func (d *Daemon) Enable() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enabled {
		return
	}
	if d.halted != nil {
		d.config.Logger.Printf("Clearing previous halt: %v", d.halted)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.enabled = true
	d.halted = nil
	d.authFailures = 0
	d.cancel = cancel

	d.wg.Add(2)
	go d.intervalLoop(ctx)
	go d.debounceLoop(ctx)

	d.config.Logger.Printf("Automatic sync enabled (every %s, debounce %s)", d.config.Interval, d.config.Debounce)
}

// Disable stops both loops and waits for an in-flight cycle to finish.
func (d *Daemon) Disable() {
	if !d.stop(nil) {
		return
	}
	d.wg.Wait()
	d.config.Logger.Println("Automatic sync disabled")
}

// stop cancels the loops without waiting. It is safe to call from a loop
// goroutine. It reports whether the daemon was enabled.
func (d *Daemon) stop(reason error) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.enabled {
		return false
	}
	d.enabled = false
	d.halted = reason
	d.cancel()
	return true
}

// Enabled reports whether the schedule is running.
func (d *Daemon) Enabled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.enabled
}

// Halted returns why the schedule stopped itself, or nil.
func (d *Daemon) Halted() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.halted
}

// Touch records a local edit and re-arms the debounce timer.
func (d *Daemon) Touch() {
	d.pending.Store(true)
	select {
	case d.touch <- struct{}{}:
	default:
	}
}

// Pending reports whether edits were made since the last successful cycle.
func (d *Daemon) Pending() bool {
	return d.pending.Load()
}

// Now runs a manual cycle, ignoring the spacing floor.
func (d *Daemon) Now(ctx context.Context) (*kbsync.Report, error) {
	return d.run(ctx, kbsync.Options{Force: true, Manual: true})
}

// Flush runs a final forced cycle if there are unsynced edits. It is meant
// for session end and is best effort: a busy syncer is not waited for.
func (d *Daemon) Flush(ctx context.Context) (*kbsync.Report, error) {
	if !d.pending.Load() && !d.config.SharedStore {
		return &kbsync.Report{State: kbsync.StateIdle, Skipped: "no unsynced edits"}, nil
	}
	d.config.Logger.Println("Flushing unsynced edits")
	return d.run(ctx, kbsync.Options{Force: true})
}

// Close disables the schedule and stops the file watcher.
func (d *Daemon) Close() error {
	d.Disable()

	d.mu.Lock()
	fw := d.watcher
	d.watcher = nil
	d.mu.Unlock()

	if fw == nil {
		return nil
	}
	err := fw.Stop()
	d.watchWg.Wait()
	return err
}

func (d *Daemon) intervalLoop(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.scheduled(ctx)
		}
	}
}

func (d *Daemon) debounceLoop(ctx context.Context) {
	defer d.wg.Done()

	timer := time.NewTimer(d.config.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.touch:
			timer.Reset(d.config.Debounce)
		case <-timer.C:
			d.scheduled(ctx)
		}
	}
}

// scheduled runs a cycle unless the loop was cancelled meanwhile.
func (d *Daemon) scheduled(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	_, _ = d.run(context.Background(), kbsync.Options{})
}

// run executes one cycle and applies the error policy. The cycle gets its
// own deadline and is not cancelled by Disable, so a write already sent is
// seen through.
func (d *Daemon) run(ctx context.Context, opts kbsync.Options) (*kbsync.Report, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*d.config.CallTimeout)
	defer cancel()

	wasPending := d.pending.Swap(false)
	report, err := d.syncer.Cycle(ctx, opts)
	if wasPending && (err != nil || report.Deferred) {
		d.pending.Store(true)
	}
	d.handle(report, err)
	return report, err
}

func (d *Daemon) handle(report *kbsync.Report, err error) {
	now := time.Now()
	logger := d.config.Logger

	switch {
	case err == nil:
		d.resetAuth()
		if report.Reloaded {
			d.sinks.emit(Event{Kind: EventReloaded, Time: now})
		}
		if report.Merged != nil && report.Merged.Changed() {
			d.sinks.emit(Event{Kind: EventMerged, Time: now, Tag: report.Tag, Stats: report.Merged})
		}
		if report.Wrote {
			d.sinks.emit(Event{Kind: EventWritten, Time: now, Tag: report.Tag, Stats: report.Merged})
		} else if report.Skipped != "" {
			logger.Printf("Cycle skipped: %s", report.Skipped)
		}

	case errors.Is(err, kbsync.ErrBusy):
		logger.Println("Cycle already running, request coalesced")

	case errors.Is(err, remote.ErrConfiguration):
		d.stop(err)
		logger.Printf("Sync configuration is invalid, schedule halted: %v", err)
		d.sinks.emit(Event{Kind: EventDisabled, Time: now, Err: err})

	case errors.Is(err, remote.ErrAuth):
		if n := d.authFailure(); n >= d.config.MaxAuthFailures {
			d.stop(err)
			logger.Printf("Authentication failed %d times in a row, schedule halted", n)
			d.sinks.emit(Event{Kind: EventAuthDisabled, Time: now, Err: err})
			return
		}
		logger.Printf("Authentication failed, will retry: %v", err)
		d.sinks.emit(Event{Kind: EventFailed, Time: now, Err: err})

	case errors.Is(err, kbsync.ErrConflictUnresolved):
		d.resetAuth()
		if report != nil && report.Paused {
			d.stop(err)
			logger.Println("Conflict not resolved, automatic sync paused")
		}
		d.sinks.emit(Event{Kind: EventConflict, Time: now, Err: err})

	default:
		d.resetAuth()
		logger.Printf("Cycle failed, will retry next interval: %v", err)
		d.sinks.emit(Event{Kind: EventFailed, Time: now, Err: err})
	}
}

func (d *Daemon) authFailure() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authFailures++
	return d.authFailures
}

func (d *Daemon) resetAuth() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.authFailures = 0
}

// WatchFile marks the tree as edited when the document file at path is
// written, so the debounce timer runs a cycle soon after another process
// saves. The cycle itself re-reads the store (sync.Config.SharedStore).
func (d *Daemon) WatchFile(path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.watcher != nil {
		return fmt.Errorf("already watching %s", d.watcher.path)
	}

	fw, err := NewFileWatcher()
	if err != nil {
		return err
	}
	if err := fw.Start(path); err != nil {
		_ = fw.Stop()
		return err
	}
	d.watcher = fw

	d.watchWg.Add(1)
	go d.watchLoop(fw)

	d.config.Logger.Printf("Watching: %s", path)
	return nil
}

func (d *Daemon) watchLoop(fw *FileWatcher) {
	defer d.watchWg.Done()

	events, errs := fw.Events(), fw.Errors()
	for events != nil || errs != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op == OpWrite {
				d.config.Logger.Printf("Store changed on disk: %s", ev.Path)
				d.Touch()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			d.config.Logger.Printf("Watcher error: %v", err)
		}
	}
}
