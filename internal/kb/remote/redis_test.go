package remote

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	r, err := NewRedis("redis://"+s.Addr(), "", time.Second)
	if err != nil {
		t.Fatalf("failed to create redis client: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r, s
}

func TestRedis_Contract(t *testing.T) {
	r, s := setupTestRedis(t)
	runClientContract(t, r)

	if !s.Exists(DefaultRedisKey + ":sha") {
		t.Error("tag key was not written")
	}

	history, err := r.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History() failed: %v", err)
	}
	if len(history) != 2 || !strings.HasPrefix(history[0], "Auto-save: ") {
		t.Errorf("history = %v", history)
	}
}

func TestRedis_MissingTagKeyFallsBackToHash(t *testing.T) {
	r, s := setupTestRedis(t)

	data, tag, err := encodeBlob(docWith("Languages"))
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Set(DefaultRedisKey, string(data)); err != nil {
		t.Fatal(err)
	}

	snap, err := r.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch() failed: %v", err)
	}
	if snap.Tag != tag {
		t.Errorf("tag = %s, want computed %s", snap.Tag, tag)
	}

	if _, err := r.Write(context.Background(), docWith("Languages", "Go"), tag); err != nil {
		t.Errorf("Write() with computed tag failed: %v", err)
	}
}

func TestRedis_Unreachable(t *testing.T) {
	s := miniredis.RunT(t)
	r, err := NewRedis("redis://"+s.Addr(), "kb", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("NewRedis() failed: %v", err)
	}
	defer r.Close()

	s.Close()

	if _, err := r.Fetch(context.Background()); !errors.Is(err, ErrNetwork) {
		t.Errorf("Fetch() against closed server error = %v, want ErrNetwork", err)
	}
}

func TestRedis_AuthRequired(t *testing.T) {
	s := miniredis.RunT(t)
	s.RequireAuth("hunter2")

	_, err := NewRedis("redis://"+s.Addr(), "kb", time.Second)
	if !errors.Is(err, ErrAuth) {
		t.Errorf("NewRedis() without password error = %v, want ErrAuth", err)
	}
}
