// Package sync reconciles the local knowledge-base tree with the remote blob.
//
// Overview
//
// The remote holds a single versioned document. Every write is guarded by the
// tag the writer last observed, so a concurrent writer is detected instead of
// overwritten. The syncer runs one cycle at a time:
//
//	Idle ──► Checking ──► Merging ──► Writing ──► Idle
//	            │            (only when       │
//	            │             the tag moved)  │
//	            └────────► Failed ◄───────────┘
//
// Checking fetches the remote. A missing remote is created with a blind write.
// An unreadable remote is replaced. When the remote tag differs from the last
// tag this syncer observed, Merging folds the remote into the live tree with
// an accretive union (see package merge) and persists the result locally.
// Writing then sends the current tree, unless it already matches the remote
// byte for byte.
//
// Conflicts
//
// A rejected write is handled by the configured policy:
//
//	merge-retry  refetch, merge, persist and retry once
//	pause        stop and report; the scheduler pauses automatic cycles
//	prompt       ask the Resolver; yes is merge-retry, no is pause
//
// A retry that conflicts again is reported as ErrConflictUnresolved.
//
// Shared Stores
//
// With Config.SharedStore other processes may save to the same store. Each
// operation then takes the store's edit lock (store.Locker) after the fetch,
// replaces the tree with the stored document if it changed, merges, saves
// and only then releases the lock. Writers outside the syncer must hold the
// same lock from their load to their save.
//
// Usage
//
//	t := tree.New(doc)
//	s := sync.New(t, localStore, client, sync.DefaultConfig())
//	if err := s.Restore(ctx); err != nil {
//	    return err
//	}
//	report, err := s.Cycle(ctx, sync.Options{})
//
// Manual operations:
//
//	s.Pull(ctx)            // replace local with remote
//	s.PullMerge(ctx)       // merge remote into local, no write
//	s.Push(ctx, false)     // forced cycle with a manual commit message
//	s.Push(ctx, true)      // overwrite remote without merging
//
// Thread Safety
//
// All methods are safe for concurrent use. Operations never overlap: a call
// made while another is running returns ErrBusy immediately. The tree may be
// edited during a cycle; edits made after the write snapshot go out with the
// next cycle.
package sync
