package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Bestie123/PromAi/internal/kb/schema"
)

// DefaultRedisKey is the key holding the document.
const DefaultRedisKey = "kb:tech-data"

// logLength caps the commit-message list kept next to the document.
const logLength = 100

// Redis stores the document under one key and its tag under <key>:sha.
// Writes run inside WATCH/MULTI so a concurrent writer aborts the
// transaction instead of being overwritten.
type Redis struct {
	client  *redis.Client
	key     string
	timeout time.Duration
	now     func() time.Time
}

// NewRedis connects to redisURL (redis://host:port/db) and checks the
// connection.
func NewRedis(redisURL, key string, timeout time.Duration) (*Redis, error) {
	if redisURL == "" {
		return nil, fmt.Errorf("%w: redis url required", ErrConfiguration)
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%w: parse redis url: %v", ErrConfiguration, err)
	}
	r := NewRedisWithClient(redis.NewClient(opts), key, timeout)

	ctx, cancel := withTimeout(context.Background(), r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		_ = r.client.Close()
		return nil, r.classify(ctx, "connect", err)
	}
	return r, nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(client *redis.Client, key string, timeout time.Duration) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key, timeout: timeout, now: time.Now}
}

func (r *Redis) shaKey() string { return r.key + ":sha" }
func (r *Redis) logKey() string { return r.key + ":log" }

// classify maps redis errors onto the taxonomy.
func (r *Redis) classify(ctx context.Context, op string, err error) error {
	if c := classifyContext(ctx, err); c != err {
		return fmt.Errorf("%s: %w", op, c)
	}
	msg := err.Error()
	if strings.HasPrefix(msg, "NOAUTH") || strings.HasPrefix(msg, "WRONGPASS") || strings.HasPrefix(msg, "NOPERM") {
		return fmt.Errorf("%w: %s: %v", ErrAuth, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrNetwork, op, err)
}

// Fetch reads the document and its tag.
func (r *Redis) Fetch(ctx context.Context) (*Snapshot, error) {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	vals, err := r.client.MGet(ctx, r.key, r.shaKey()).Result()
	if err != nil {
		return nil, r.classify(ctx, "fetch", err)
	}
	data, ok := vals[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: key %s", ErrNotFound, r.key)
	}
	tag, _ := vals[1].(string)
	if tag == "" {
		tag = ComputeTag([]byte(data))
	}
	return decodeBlob([]byte(data), tag)
}

// Write stores doc with an auto-save message.
func (r *Redis) Write(ctx context.Context, doc *schema.Document, expectedTag string) (string, error) {
	return r.WriteWithMessage(ctx, doc, expectedTag, AutoSaveMessage(r.now()))
}

// WriteWithMessage stores doc if the stored tag equals expectedTag and
// appends message to the key's log.
func (r *Redis) WriteWithMessage(ctx context.Context, doc *schema.Document, expectedTag, message string) (string, error) {
	data, tag, err := encodeBlob(doc)
	if err != nil {
		return "", err
	}

	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()

	errConflict := errors.New("tag mismatch")
	var current string

	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		vals, err := tx.MGet(ctx, r.key, r.shaKey()).Result()
		if err != nil {
			return err
		}
		if s, ok := vals[0].(string); ok {
			current, _ = vals[1].(string)
			if current == "" {
				current = ComputeTag([]byte(s))
			}
		}
		if current != expectedTag {
			return errConflict
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.key, data, 0)
			pipe.Set(ctx, r.shaKey(), tag, 0)
			pipe.LPush(ctx, r.logKey(), message)
			pipe.LTrim(ctx, r.logKey(), 0, logLength-1)
			return nil
		})
		return err
	}, r.key, r.shaKey())

	switch {
	case err == nil:
		return tag, nil
	case errors.Is(err, errConflict):
		return "", fmt.Errorf("%w: expected %q, remote is at %q", ErrVersionConflict, expectedTag, current)
	case errors.Is(err, redis.TxFailedErr):
		return "", fmt.Errorf("%w: concurrent write to %s", ErrVersionConflict, r.key)
	default:
		return "", r.classify(ctx, "write", err)
	}
}

// Verify pings the server.
func (r *Redis) Verify(ctx context.Context) error {
	ctx, cancel := withTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return r.classify(ctx, "verify", err)
	}
	return nil
}

// History returns up to limit write messages, newest first.
func (r *Redis) History(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > logLength {
		limit = logLength
	}
	msgs, err := r.client.LRange(ctx, r.logKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, r.classify(ctx, "history", err)
	}
	return msgs, nil
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// String identifies the blob location in logs.
func (r *Redis) String() string {
	return fmt.Sprintf("redis:%s/%s", r.client.Options().Addr, r.key)
}
