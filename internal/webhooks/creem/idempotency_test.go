package creemwebhook

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryClaims struct {
	mu   sync.Mutex
	keys map[string]time.Duration
	err  error
}

func newMemoryClaims() *memoryClaims {
	return &memoryClaims{keys: map[string]time.Duration{}}
}

func (m *memoryClaims) SetNX(_ context.Context, key string, _ any, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = ttl
	return true, nil
}

func (m *memoryClaims) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func (m *memoryClaims) WebhookEventKey(provider, eventID string) string {
	return "qb:webhook:" + provider + ":" + eventID
}

func (m *memoryClaims) held(eventID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keys[m.WebhookEventKey(provider, eventID)]
	return ok
}

func TestIdempotencyGuardClaimsOnce(t *testing.T) {
	store := newMemoryClaims()
	guard, err := NewIdempotencyGuard(store, 72*time.Hour)
	require.NoError(t, err)
	ctx := context.Background()

	claimed, err := guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Equal(t, 72*time.Hour, store.keys["qb:webhook:creem:evt_1"])

	claimed, err = guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, claimed)

	require.NoError(t, guard.Release(ctx, "evt_1"))
	claimed, err = guard.Claim(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotencyGuardErrors(t *testing.T) {
	_, err := NewIdempotencyGuard(nil, time.Hour)
	assert.Error(t, err)
	_, err = NewIdempotencyGuard(newMemoryClaims(), 0)
	assert.Error(t, err)

	store := newMemoryClaims()
	store.err = errors.New("redis down")
	guard, err := NewIdempotencyGuard(store, time.Hour)
	require.NoError(t, err)
	_, err = guard.Claim(context.Background(), "evt")
	assert.ErrorContains(t, err, "redis down")
	_, err = guard.Claim(context.Background(), "")
	assert.Error(t, err)
}
