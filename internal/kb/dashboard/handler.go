package dashboard

import (
	"encoding/json"
	"log"
	"time"

	"github.com/Bestie123/PromAi/internal/kb/daemon"
	"github.com/Bestie123/PromAi/internal/kb/merge"
	"github.com/Bestie123/PromAi/internal/kb/schema"
	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
	"github.com/Bestie123/PromAi/internal/kb/tree"
)

// SyncEventData describes a daemon event.
type SyncEventData struct {
	Tag    string       `json:"tag,omitempty"`
	Merged *merge.Stats `json:"merged,omitempty"`
	Error  string       `json:"error,omitempty"`
	Reason string       `json:"reason,omitempty"` // for sync_disabled: configuration or auth
}

// StatsData contains document progress and sync counters
type StatsData struct {
	schema.Stats
	Sync *kbsync.Status `json:"sync,omitempty"`
}

// Handler turns daemon events into dashboard messages. It implements
// daemon.EventSink.
type Handler struct {
	server *Server
	tree   *tree.Tree
	status func() kbsync.Status
	logger *log.Logger
}

// NewHandler creates a handler broadcasting to server. status may be nil.
// The handler also provides the server's welcome message and /status payload.
func NewHandler(server *Server, t *tree.Tree, status func() kbsync.Status, logger *log.Logger) *Handler {
	if logger == nil {
		logger = server.logger
	}
	h := &Handler{
		server: server,
		tree:   t,
		status: status,
		logger: logger,
	}
	server.SetWelcome(h.statsMessage)
	server.SetStatus(func() any { return h.Stats() })
	return h
}

// HandleEvent implements daemon.EventSink.
func (h *Handler) HandleEvent(e daemon.Event) {
	var typ MessageType
	data := SyncEventData{Tag: e.Tag, Merged: e.Stats}
	if e.Err != nil {
		data.Error = e.Err.Error()
	}

	switch e.Kind {
	case daemon.EventWritten:
		typ = MessageTypeWritten
	case daemon.EventMerged:
		typ = MessageTypeMerged
	case daemon.EventConflict:
		typ = MessageTypeConflict
	case daemon.EventFailed:
		typ = MessageTypeFailed
	case daemon.EventDisabled:
		typ = MessageTypeDisabled
		data.Reason = "configuration"
	case daemon.EventAuthDisabled:
		typ = MessageTypeDisabled
		data.Reason = "auth"
	case daemon.EventReloaded:
		typ = MessageTypeReloaded
	default:
		h.logger.Printf("Ignoring unknown event %q", e.Kind)
		return
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		h.logger.Printf("Failed to marshal event data: %v", err)
		return
	}
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	h.server.Broadcast(Message{Type: typ, Timestamp: ts, Data: dataJSON})
	h.server.Broadcast(h.statsMessage())
}

// Stats returns the current document statistics and sync status.
func (h *Handler) Stats() StatsData {
	out := StatsData{Stats: h.tree.Stats()}
	if h.status != nil {
		s := h.status()
		out.Sync = &s
	}
	return out
}

func (h *Handler) statsMessage() Message {
	msg := Message{Type: MessageTypeStats, Timestamp: time.Now()}
	dataJSON, err := json.Marshal(h.Stats())
	if err != nil {
		h.logger.Printf("Failed to marshal stats: %v", err)
		return msg
	}
	msg.Data = dataJSON
	return msg
}
