package store

import (
	"context"
	"fmt"

	"github.com/gofrs/flock"
)

// Locker is implemented by stores that other processes may write to. Lock
// holds an exclusive edit lock until unlock is called; a load, change and
// save made under it cannot interleave with another holder's.
//
// The lock is not reentrant.
type Locker interface {
	Lock(ctx context.Context) (unlock func(), err error)
}

// editLock serialises read-modify-write cycles on one snapshot. The
// semaphore covers goroutines sharing a store; the file lock covers other
// processes.
type editLock struct {
	sem  chan struct{}
	file *flock.Flock
}

func newEditLock(path string) *editLock {
	return &editLock{
		sem:  make(chan struct{}, 1),
		file: flock.New(path),
	}
}

func (l *editLock) lock(ctx context.Context) (func(), error) {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("failed to acquire edit lock: %w", ctx.Err())
	}

	locked, err := l.file.TryLockContext(ctx, lockRetry)
	if err != nil || !locked {
		<-l.sem
		if err == nil {
			err = fmt.Errorf("%s is held by another process", l.file.Path())
		}
		return nil, fmt.Errorf("failed to acquire edit lock: %w", err)
	}
	return func() {
		_ = l.file.Unlock()
		<-l.sem
	}, nil
}

func (l *editLock) close() error {
	return l.file.Close()
}
