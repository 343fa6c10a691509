package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/wizarding-anonymous/comms_platform/backend/services/session-service/internal/config"
)

type memAttemptCache struct {
	mu       sync.Mutex
	counts   map[string]int64
	failWith error
}

func newMemAttemptCache() *memAttemptCache {
	return &memAttemptCache{counts: make(map[string]int64)}
}

func (c *memAttemptCache) Increment(ctx context.Context, identifier string, window time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return 0, c.failWith
	}
	c.counts[identifier]++
	return c.counts[identifier], nil
}

func (c *memAttemptCache) Get(ctx context.Context, identifier string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return 0, c.failWith
	}
	return c.counts[identifier], nil
}

func (c *memAttemptCache) TTL(ctx context.Context, identifier string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return 0, c.failWith
	}
	if _, ok := c.counts[identifier]; !ok {
		return 0, nil
	}
	return 7 * time.Minute, nil
}

func (c *memAttemptCache) Delete(ctx context.Context, identifier string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	delete(c.counts, identifier)
	return nil
}

func newBruteForceFixture(enabled bool) (*BruteForceService, *memAttemptCache) {
	cache := newMemAttemptCache()
	svc := NewBruteForceService(cache, config.BruteForceConfig{
		Enabled:     enabled,
		MaxAttempts: 5,
		Window:      15 * time.Minute,
	}, zap.NewNop())
	return svc, cache
}

func TestBruteForce_AllowsBelowThreshold(t *testing.T) {
	svc, _ := newBruteForceFixture(true)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		decision := svc.Check(ctx, "user:1.2.3.4")
		assert.True(t, decision.Allowed)
		svc.RecordFailure(ctx, "user:1.2.3.4")
	}
}

func TestBruteForce_BlocksAtThresholdWithRetryAfter(t *testing.T) {
	svc, _ := newBruteForceFixture(true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RecordFailure(ctx, "user:1.2.3.4")
	}

	decision := svc.Check(ctx, "user:1.2.3.4")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 7*time.Minute, decision.RetryAfter)
}

func TestBruteForce_ClearResetsCounter(t *testing.T) {
	svc, _ := newBruteForceFixture(true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RecordFailure(ctx, "user:1.2.3.4")
	}
	assert.False(t, svc.Check(ctx, "user:1.2.3.4").Allowed)

	svc.Clear(ctx, "user:1.2.3.4")
	assert.True(t, svc.Check(ctx, "user:1.2.3.4").Allowed)
}

func TestBruteForce_IdentifiersAreIndependent(t *testing.T) {
	svc, _ := newBruteForceFixture(true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RecordFailure(ctx, "alice:1.2.3.4")
	}

	assert.False(t, svc.Check(ctx, "alice:1.2.3.4").Allowed)
	assert.True(t, svc.Check(ctx, "bob:1.2.3.4").Allowed)
	assert.True(t, svc.Check(ctx, "alice:5.6.7.8").Allowed)
}

func TestBruteForce_CacheOutageFailsOpen(t *testing.T) {
	svc, cache := newBruteForceFixture(true)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		svc.RecordFailure(ctx, "user:1.2.3.4")
	}
	cache.failWith = errors.New("redis timeout")

	decision := svc.Check(ctx, "user:1.2.3.4")
	assert.True(t, decision.Allowed)
}

func TestBruteForce_DisabledGuardNeverBlocks(t *testing.T) {
	svc, cache := newBruteForceFixture(false)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		svc.RecordFailure(ctx, "user:1.2.3.4")
	}

	assert.True(t, svc.Check(ctx, "user:1.2.3.4").Allowed)
	assert.Empty(t, cache.counts)
}
