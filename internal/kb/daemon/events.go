package daemon

import (
	"log"
	"sync"
	"time"

	"github.com/Bestie123/PromAi/internal/kb/merge"
)

// EventKind names something the daemon reports to its sinks.
type EventKind string

const (
	EventWritten      EventKind = "written"       // a cycle wrote the remote
	EventMerged       EventKind = "merged"        // remote changes were merged locally
	EventConflict     EventKind = "conflict"      // a conflict could not be settled; schedule paused
	EventFailed       EventKind = "failed"        // a cycle failed and will be retried
	EventDisabled     EventKind = "disabled"      // schedule halted by a configuration error
	EventAuthDisabled EventKind = "auth_disabled" // schedule halted after repeated auth failures
	EventReloaded     EventKind = "reloaded"      // a cycle re-read a store changed by another process
)

// Event is one report from the daemon.
type Event struct {
	Kind  EventKind
	Time  time.Time
	Tag   string
	Stats *merge.Stats
	Err   error
}

// EventSink receives daemon events. HandleEvent must not block for long; it
// runs on the goroutine that finished the cycle.
type EventSink interface {
	HandleEvent(Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(Event)

// HandleEvent calls f(e).
func (f SinkFunc) HandleEvent(e Event) { f(e) }

// LogSink writes events that need attention to a logger.
type LogSink struct {
	Logger *log.Logger
}

// HandleEvent logs conflicts and halts. Routine events are already logged by
// the daemon.
func (s LogSink) HandleEvent(e Event) {
	switch e.Kind {
	case EventConflict:
		s.Logger.Printf("Automatic sync paused by a conflict, run a manual sync to resolve: %v", e.Err)
	case EventDisabled:
		s.Logger.Printf("Automatic sync stopped, fix the configuration and re-enable: %v", e.Err)
	case EventAuthDisabled:
		s.Logger.Printf("Automatic sync stopped, credentials were rejected: %v", e.Err)
	}
}

// sinks fans events out to registered sinks.
type sinks struct {
	mu   sync.RWMutex
	list []EventSink
}

func (s *sinks) add(sink EventSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = append(s.list, sink)
}

func (s *sinks) emit(e Event) {
	s.mu.RLock()
	list := append([]EventSink(nil), s.list...)
	s.mu.RUnlock()

	for _, sink := range list {
		sink.HandleEvent(e)
	}
}
