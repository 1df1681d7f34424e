package redis

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mockCmdable struct {
	values      map[string]string
	expireCalls []string
}

func newMockCmdable() *mockCmdable {
	return &mockCmdable{values: map[string]string{}}
}

func (m *mockCmdable) Ping(ctx context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *mockCmdable) Set(ctx context.Context, key string, value any, _ time.Duration) *redis.StatusCmd {
	m.values[key] = fmt.Sprint(value)
	return redis.NewStatusResult("OK", nil)
}

func (m *mockCmdable) Get(ctx context.Context, key string) *redis.StringCmd {
	value, ok := m.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(value, nil)
}

func (m *mockCmdable) SetNX(ctx context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.values[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.values[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Expire(ctx context.Context, key string, _ time.Duration) *redis.BoolCmd {
	m.expireCalls = append(m.expireCalls, key)
	return redis.NewBoolResult(true, nil)
}

func (m *mockCmdable) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	var removed int64
	for _, key := range keys {
		if _, ok := m.values[key]; ok {
			delete(m.values, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func TestSetNXOnlyFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	ok, err := client.SetNX(ctx, "lock-key", "owner-a", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected first SetNX to win")
	}

	ok, err = client.SetNX(ctx, "lock-key", "owner-b", time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected second SetNX to lose")
	}

	value, err := client.Get(ctx, "lock-key")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if value != "owner-a" {
		t.Fatalf("expected owner-a to hold the key, got %q", value)
	}
}

func TestGetMissingKeyReturnsNil(t *testing.T) {
	client := &Client{store: newMockCmdable()}

	_, err := client.Get(context.Background(), "absent")
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil, got %v", err)
	}
}

func TestDelRemovesKey(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMockCmdable()}

	if err := client.Set(ctx, "key", "value", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := client.Del(ctx, "key"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := client.Get(ctx, "key"); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected key gone, got %v", err)
	}
}

func TestLockKeyNamespacing(t *testing.T) {
	client := &Client{}

	got := client.LockKey("subscription", "abc-123")
	want := "subbox:lock:subscription:abc-123"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}

	if err := client.Set(context.Background(), "k", "v", 0); err == nil {
		t.Fatal("expected error from uninitialized client")
	}
	if err := client.Ping(context.Background()); err == nil {
		t.Fatal("expected ping error from uninitialized client")
	}
}
