package sync

import (
	"context"
	"errors"
	"time"

	"github.com/Bestie123/PromAi/internal/kb/merge"
)

// Errors returned by Syncer.
var (
	// ErrBusy is returned when a cycle is already in flight. The call is
	// dropped, not queued.
	ErrBusy = errors.New("sync already in progress")

	// ErrConflictUnresolved is returned when a write conflict could not be
	// settled automatically: the merge-and-retry attempt conflicted again,
	// the policy is to pause, or the resolver declined.
	ErrConflictUnresolved = errors.New("version conflict not resolved")
)

// State is a step of the cycle state machine.
type State string

const (
	StateIdle     State = "idle"
	StateChecking State = "checking"
	StateMerging  State = "merging"
	StateWriting  State = "writing"
	StateFailed   State = "failed"
)

// ConflictPolicy says what a cycle does when its write is rejected because
// the remote moved on.
type ConflictPolicy string

const (
	// PolicyMergeRetry refetches, merges, persists and retries the write
	// exactly once.
	PolicyMergeRetry ConflictPolicy = "merge-retry"

	// PolicyPause reports the conflict and asks the scheduler to pause.
	PolicyPause ConflictPolicy = "pause"

	// PolicyPrompt asks the Resolver; yes means merge-retry, no means pause.
	PolicyPrompt ConflictPolicy = "prompt"
)

// IsValid reports whether p is a known policy.
func (p ConflictPolicy) IsValid() bool {
	switch p {
	case PolicyMergeRetry, PolicyPause, PolicyPrompt:
		return true
	default:
		return false
	}
}

// Conflict describes a rejected write.
type Conflict struct {
	ExpectedTag string
	Err         error
}

// Resolver decides whether to merge the remote changes and retry.
type Resolver func(ctx context.Context, c Conflict) (bool, error)

// Options adjusts a single cycle.
type Options struct {
	// Force ignores the minimum spacing between writes.
	Force bool

	// Manual marks the write as user-initiated (commit message "Update: ...").
	Manual bool
}

// Report describes how a cycle ended.
type Report struct {
	State    State         // StateIdle or StateFailed
	Skipped  string        // why the cycle did nothing, empty if it ran
	Deferred bool          // skipped by the spacing floor before checking the remote
	Created  bool          // the remote blob did not exist and was created
	Wrote    bool          // a write succeeded
	Merged   *merge.Stats  // non-nil when remote changes were merged
	Reloaded bool          // the store was changed by another process and re-read
	Tag      string        // tag after the cycle
	Retried  bool          // a conflict was merged and retried
	Paused   bool          // the conflict policy asks the scheduler to pause
	Took     time.Duration // wall time of the cycle
}

// Status is a point-in-time view of the syncer.
type Status struct {
	State     State     `json:"state"`
	LastTag   string    `json:"last_tag"`
	LastSync  time.Time `json:"last_sync"`
	LastWrite time.Time `json:"last_write"`
	LastError string    `json:"last_error,omitempty"`

	Cycles    int `json:"cycles"`
	Writes    int `json:"writes"`
	Merges    int `json:"merges"`
	Conflicts int `json:"conflicts"`
	Failures  int `json:"failures"`
}

// Syncer reconciles the local tree with the remote blob.
//
// At most one operation runs at a time; a call made while another is in
// flight returns ErrBusy immediately.
type Syncer interface {
	// Cycle runs Checking, an optional Merging, then Writing.
	//
	// The cycle is skipped when the last successful write is more recent
	// than the minimum spacing, unless opts.Force is set. It also skips the
	// write when the local document already matches the remote blob.
	//
	// Example:
	//   report, err := syncer.Cycle(ctx, sync.Options{})
	Cycle(ctx context.Context, opts Options) (*Report, error)

	// Pull replaces the local document with the remote one.
	Pull(ctx context.Context) (*Report, error)

	// PullMerge merges the remote document into the local one without
	// writing back.
	PullMerge(ctx context.Context) (*Report, error)

	// Push saves the local document now. A normal push is a forced cycle. A
	// forced push overwrites the remote at its current tag without merging.
	Push(ctx context.Context, force bool) (*Report, error)

	// Restore loads the persisted baseline (last tag and times), if the
	// store keeps one.
	Restore(ctx context.Context) error

	// Status returns counters and the current baseline.
	Status() Status
}

