package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestFixedWindowAllow(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	allowed, count, err := client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 1 {
		t.Fatalf("expected first request allowed with count 1, got allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expected expire for first increment")
	}

	allowed, count, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed || count != 2 {
		t.Fatalf("unexpected second call state allowed=%v count=%d", allowed, count)
	}
	if len(mock.expireCalls) != 1 {
		t.Fatalf("expire should not be set again")
	}

	allowed, _, err = client.FixedWindowAllow(ctx, "test-scope", 2, time.Second)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed {
		t.Fatalf("expected limit reached")
	}
}

func TestCompareAndDeleteOnlyRemovesOwnedKey(t *testing.T) {
	ctx := context.Background()
	mock := newMockCmdable()
	client := &Client{store: mock}

	if err := client.Set(ctx, "kd:lock:cron", "owner-a", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	deleted, err := client.CompareAndDelete(ctx, "kd:lock:cron", "owner-b")
	if err != nil {
		t.Fatalf("compare and delete: %v", err)
	}
	if deleted {
		t.Fatal("foreign owner must not delete the lock")
	}
	deleted, err = client.CompareAndDelete(ctx, "kd:lock:cron", "owner-a")
	if err != nil {
		t.Fatalf("compare and delete: %v", err)
	}
	if !deleted {
		t.Fatal("owner should delete the lock")
	}
	if _, err := client.Get(ctx, "kd:lock:cron"); err != redis.Nil {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestPublishRecordsMessage(t *testing.T) {
	mock := newMockCmdable()
	client := &Client{store: mock}
	if err := client.Publish(context.Background(), client.ChannelName("fulfillment"), "wake"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := mock.published["kd:channel:fulfillment"]; len(got) != 1 || got[0] != "wake" {
		t.Fatalf("unexpected published messages %v", got)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if _, err := client.Subscribe(context.Background(), "x"); err == nil {
		t.Fatal("expected subscribe to require a live connection")
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	if got := client.IdempotencyKey("scope", "id"); got != "kd:idempotency:scope:id" {
		t.Fatalf("unexpected idempotency key %s", got)
	}
	if got := client.RateLimitKey("scope"); got != "kd:rate_limit:scope" {
		t.Fatalf("unexpected rate limit key %s", got)
	}
	if got := client.CounterKey("hits"); got != "kd:counter:hits" {
		t.Fatalf("unexpected counter key %s", got)
	}
	if got := client.LockKey("cron"); got != "kd:lock:cron" {
		t.Fatalf("unexpected lock key %s", got)
	}
	if got := client.AlertKey("invalid_signature", 42); got != "kd:alert:invalid_signature:42" {
		t.Fatalf("unexpected alert key %s", got)
	}
	if got := client.IdempotencyKey("scope", " "); got != "kd:idempotency:scope" {
		t.Fatalf("blank parts should be skipped, got %s", got)
	}
}

type mockCmdable struct {
	data        map[string]string
	incr        map[string]int64
	published   map[string][]string
	expireCalls []expireCall
}

type expireCall struct {
	key string
	ttl time.Duration
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{
		data:      make(map[string]string),
		incr:      make(map[string]int64),
		published: make(map[string][]string),
	}
}

func (m *mockCmdable) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	m.data[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Incr(ctx context.Context, key string) *redis.IntCmd {
	m.incr[key]++
	return redis.NewIntResult(m.incr[key], nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, expireCall{key: key, ttl: expiration})
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}

func (m *mockCmdable) Publish(ctx context.Context, channel string, message any) *redis.IntCmd {
	m.published[channel] = append(m.published[channel], fmt.Sprint(message))
	return redis.NewIntResult(1, nil)
}

// the only script in use is compareAndDelete, so every eval runs its semantics
func (m *mockCmdable) compareAndDelete(keys []string, args ...any) *redis.Cmd {
	if len(keys) != 1 || len(args) != 1 {
		return redis.NewCmdResult(nil, fmt.Errorf("unexpected script call"))
	}
	if m.data[keys[0]] == fmt.Sprint(args[0]) {
		delete(m.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (m *mockCmdable) Eval(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args...)
}

func (m *mockCmdable) EvalSha(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args...)
}

func (m *mockCmdable) EvalRO(ctx context.Context, script string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args...)
}

func (m *mockCmdable) EvalShaRO(ctx context.Context, sha1 string, keys []string, args ...any) *redis.Cmd {
	return m.compareAndDelete(keys, args...)
}

func (m *mockCmdable) ScriptExists(ctx context.Context, hashes ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult(make([]bool, len(hashes)), nil)
}

func (m *mockCmdable) ScriptLoad(ctx context.Context, script string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}
