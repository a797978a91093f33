package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
)

func TestIncrWithTTLStartsWindowOnFirstHit(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore()
	client := &Client{store: store}
	key := client.RateLimitKey("checkout:203.0.113.7")

	for want := int64(1); want <= 3; want++ {
		count, err := client.IncrWithTTL(ctx, key, 1500*time.Millisecond)
		if err != nil {
			t.Fatalf("incr %d: %v", want, err)
		}
		if count != want {
			t.Fatalf("expected count %d, got %d", want, count)
		}
	}
	if len(store.expiries) != 1 {
		t.Fatalf("expected a single expiry for the window, got %d", len(store.expiries))
	}
	if store.expiries[key] != 1500*time.Millisecond {
		t.Fatalf("unexpected window length %s", store.expiries[key])
	}
}

func TestReleaseIfOwnerKeepsAnotherHoldersLock(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMemoryStore()}
	key := client.CronLockKey("prod")

	if ok, err := client.SetNX(ctx, key, "replica-b", time.Minute); err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}
	released, err := client.ReleaseIfOwner(ctx, key, "replica-a")
	if err != nil {
		t.Fatalf("release by stale holder: %v", err)
	}
	if released {
		t.Fatal("stale holder released a lock it does not own")
	}
	if owner, _ := client.Get(ctx, key); owner != "replica-b" {
		t.Fatalf("expected replica-b to keep the lock, got %q", owner)
	}

	released, err = client.ReleaseIfOwner(ctx, key, "replica-b")
	if err != nil || !released {
		t.Fatalf("owner release: released=%v err=%v", released, err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected lock gone, got %v", err)
	}
}

func TestSetNXClaimsWebhookEventOnce(t *testing.T) {
	ctx := context.Background()
	client := &Client{store: newMemoryStore()}
	key := client.WebhookEventKey("creem", "evt_1")

	first, err := client.SetNX(ctx, key, "processing", time.Hour)
	if err != nil || !first {
		t.Fatalf("expected first claim to succeed, got %v %v", first, err)
	}
	second, err := client.SetNX(ctx, key, "processing", time.Hour)
	if err != nil || second {
		t.Fatalf("expected duplicate claim to fail, got %v %v", second, err)
	}

	if err := client.Del(ctx, key); err != nil {
		t.Fatalf("del failed: %v", err)
	}
	if _, err := client.Get(ctx, key); !errors.Is(err, redis.Nil) {
		t.Fatalf("expected redis.Nil after delete, got %v", err)
	}
}

func TestKeyBuilders(t *testing.T) {
	client := &Client{}
	cases := map[string]string{
		client.IdempotencyKey("user:42", "chk-1"):   "qb:idempotency:user:42:chk-1",
		client.IdempotencyKey("", "chk-1"):          "qb:idempotency:chk-1",
		client.RateLimitKey("download:203.0.113.7"): "qb:rate_limit:download:203.0.113.7",
		client.WebhookEventKey("creem", "evt_9"):    "qb:webhook:creem:evt_9",
		client.CronLockKey("prod"):                  "qb:cron:prod:lock",
		client.CronLockKey(" "):                     "qb:cron:local:lock",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("expected %s, got %s", want, got)
		}
	}
}

func TestOptionsFromConfig(t *testing.T) {
	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:         "redis://:secret@cache.internal:6380/2",
		Address:     "localhost:6379",
		PoolSize:    20,
		DialTimeout: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if opts.Addr != "cache.internal:6380" || opts.DB != 2 || opts.Password != "secret" {
		t.Fatalf("url settings not applied: %+v", opts)
	}
	if opts.PoolSize != 20 || opts.DialTimeout != 3*time.Second {
		t.Fatalf("pool settings not filled: pool=%d dial=%s", opts.PoolSize, opts.DialTimeout)
	}

	opts, err = optionsFromConfig(config.RedisConfig{Address: "localhost:6379", DB: 1})
	if err != nil {
		t.Fatalf("address config: %v", err)
	}
	if opts.Addr != "localhost:6379" || opts.DB != 1 {
		t.Fatalf("unexpected address options: %+v", opts)
	}
}

func TestUninitializedClientErrors(t *testing.T) {
	client := &Client{}
	ctx := context.Background()
	if _, err := client.Get(ctx, "k"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized from Get, got %v", err)
	}
	if _, err := client.IncrWithTTL(ctx, "k", time.Second); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized from IncrWithTTL, got %v", err)
	}
	if _, err := client.ReleaseIfOwner(ctx, "k", "owner"); !errors.Is(err, errNotInitialized) {
		t.Fatalf("expected not initialized from ReleaseIfOwner, got %v", err)
	}
}

// memoryStore runs the client's two scripts natively, keyed by their SHA.
type memoryStore struct {
	redis.Scripter
	data     map[string]string
	expiries map[string]time.Duration
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		data:     make(map[string]string),
		expiries: make(map[string]time.Duration),
	}
}

func (m *memoryStore) EvalSha(_ context.Context, sha string, keys []string, args ...any) *redis.Cmd {
	key := keys[0]
	switch sha {
	case windowIncr.Hash():
		n, _ := strconv.ParseInt(m.data[key], 10, 64)
		n++
		m.data[key] = strconv.FormatInt(n, 10)
		if ms := args[0].(int64); n == 1 && ms > 0 {
			m.expiries[key] = time.Duration(ms) * time.Millisecond
		}
		return redis.NewCmdResult(n, nil)
	case ownerRelease.Hash():
		if current, ok := m.data[key]; ok && current == args[0] {
			delete(m.data, key)
			return redis.NewCmdResult(int64(1), nil)
		}
		return redis.NewCmdResult(int64(0), nil)
	}
	return redis.NewCmdResult(nil, fmt.Errorf("unexpected script %s", sha))
}

func (m *memoryStore) Ping(context.Context) *redis.StatusCmd {
	return redis.NewStatusResult("PONG", nil)
}

func (m *memoryStore) Get(_ context.Context, key string) *redis.StringCmd {
	v, ok := m.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	if _, exists := m.data[key]; exists {
		return redis.NewBoolResult(false, nil)
	}
	m.data[key] = fmt.Sprint(value)
	return redis.NewBoolResult(true, nil)
}

func (m *memoryStore) Del(_ context.Context, keys ...string) *redis.IntCmd {
	for _, key := range keys {
		delete(m.data, key)
	}
	return redis.NewIntResult(int64(len(keys)), nil)
}
