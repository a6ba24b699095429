package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/Bestie123/PromAi/internal/kb/daemon"
	"github.com/Bestie123/PromAi/internal/kb/merge"
	"github.com/Bestie123/PromAi/internal/kb/schema"
	kbsync "github.com/Bestie123/PromAi/internal/kb/sync"
	"github.com/Bestie123/PromAi/internal/kb/tree"
)

func setupServer(t *testing.T) *Server {
	t.Helper()
	server := NewServer(&Config{
		Port:   0,
		Logger: log.New(io.Discard, "", 0),
	})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	t.Cleanup(func() { _ = server.Stop() })
	return server
}

func dial(t *testing.T, server *Server) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws://"+server.GetAddr()+"/ws", nil)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("Failed to read message: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

func waitForClients(t *testing.T, server *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for server.ClientCount() != n {
		if time.Now().After(deadline) {
			t.Fatalf("client count = %d, want %d", server.ClientCount(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func sampleTree() *tree.Tree {
	tech := schema.NewTechnology("tech_1", "Go")
	tech.Checklist = []schema.ChecklistItem{
		{Text: "goroutines", Completed: true},
		{Text: "generics"},
	}
	cat := schema.NewCategory("cat_1", "Languages")
	cat.Children = []*schema.Node{tech}
	return tree.New(&schema.Document{Categories: []*schema.Node{cat}})
}

func TestServerStartStop(t *testing.T) {
	server := NewServer(&Config{Port: 0, Logger: log.New(io.Discard, "", 0)})
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	if addr := server.GetAddr(); addr == "" {
		t.Fatal("Server address is empty")
	}
	if err := server.Stop(); err != nil {
		t.Fatalf("Failed to stop server: %v", err)
	}
}

func TestWebSocketWelcome(t *testing.T) {
	server := setupServer(t)
	conn := dial(t, server)

	msg := readMessage(t, conn)
	if msg.Type != MessageTypeStats {
		t.Errorf("welcome type = %s, want %s", msg.Type, MessageTypeStats)
	}
	waitForClients(t, server, 1)
}

func TestHandler_BroadcastsEvents(t *testing.T) {
	server := setupServer(t)
	status := kbsync.Status{State: kbsync.StateIdle, LastTag: "abc123", Writes: 4}
	h := NewHandler(server, sampleTree(), func() kbsync.Status { return status }, nil)

	conn := dial(t, server)
	welcome := readMessage(t, conn)

	var stats StatsData
	if err := json.Unmarshal(welcome.Data, &stats); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if stats.Technologies != 1 || stats.ChecklistItems != 2 || stats.Progress != 50 {
		t.Errorf("stats = %+v", stats.Stats)
	}
	if stats.Sync == nil || stats.Sync.Writes != 4 {
		t.Errorf("sync status = %+v", stats.Sync)
	}
	waitForClients(t, server, 1)

	tests := []struct {
		event      daemon.Event
		wantType   MessageType
		wantReason string
	}{
		{daemon.Event{Kind: daemon.EventWritten, Tag: "def456"}, MessageTypeWritten, ""},
		{daemon.Event{Kind: daemon.EventMerged, Stats: &merge.Stats{Items: 2}}, MessageTypeMerged, ""},
		{daemon.Event{Kind: daemon.EventConflict, Err: errors.New("conflict")}, MessageTypeConflict, ""},
		{daemon.Event{Kind: daemon.EventFailed, Err: errors.New("timeout")}, MessageTypeFailed, ""},
		{daemon.Event{Kind: daemon.EventDisabled, Err: errors.New("no token")}, MessageTypeDisabled, "configuration"},
		{daemon.Event{Kind: daemon.EventAuthDisabled, Err: errors.New("401")}, MessageTypeDisabled, "auth"},
		{daemon.Event{Kind: daemon.EventReloaded}, MessageTypeReloaded, ""},
	}

	for _, tt := range tests {
		t.Run(string(tt.event.Kind), func(t *testing.T) {
			h.HandleEvent(tt.event)

			msg := readMessage(t, conn)
			if msg.Type != tt.wantType {
				t.Fatalf("type = %s, want %s", msg.Type, tt.wantType)
			}
			var data SyncEventData
			if err := json.Unmarshal(msg.Data, &data); err != nil {
				t.Fatal(err)
			}
			if data.Reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", data.Reason, tt.wantReason)
			}
			if tt.event.Err != nil && data.Error != tt.event.Err.Error() {
				t.Errorf("error = %q", data.Error)
			}

			if next := readMessage(t, conn); next.Type != MessageTypeStats {
				t.Errorf("follow-up type = %s, want stats", next.Type)
			}
		})
	}
}

func TestStatusEndpoint(t *testing.T) {
	server := setupServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status without handler = %d", resp.StatusCode)
	}

	NewHandler(server, sampleTree(), nil, nil)

	resp, err = http.Get("http://" + server.GetAddr() + "/status")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stats StatsData
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatal(err)
	}
	if stats.Categories != 1 || stats.Sync != nil {
		t.Errorf("stats = %+v", stats)
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := setupServer(t)

	resp, err := http.Get("http://" + server.GetAddr() + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("health = %v", body)
	}
}

func TestClientDisconnect(t *testing.T) {
	server := setupServer(t)
	conn := dial(t, server)
	readMessage(t, conn)
	waitForClients(t, server, 1)

	_ = conn.Close(websocket.StatusNormalClosure, "bye")
	waitForClients(t, server, 0)
}
