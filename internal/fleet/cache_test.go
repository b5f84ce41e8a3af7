package fleet

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sabakan-dev/sabakan/internal/config"
	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// gatedProducer blocks every invocation until release is closed.
type gatedProducer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newGatedProducer() *gatedProducer {
	return &gatedProducer{started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedProducer) produce(ctx context.Context) (status.FleetStatus, error) {
	g.calls.Add(1)
	g.once.Do(func() { close(g.started) })
	<-g.release

	var f status.FleetStatus
	f.Set("a", status.Ok(nil, nil, status.DiskReport{}, nil))
	return f, ctx.Err()
}

func TestCache_ConcurrentSameKeyRunsOnce(t *testing.T) {
	cache := NewCache(time.Minute, nil)
	g := newGatedProducer()

	var wg sync.WaitGroup
	results := make([]status.FleetStatus, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = cache.FetchCached(context.Background(), "k", g.produce)
		}(i)
		if i == 0 {
			<-g.started
		}
	}

	time.Sleep(50 * time.Millisecond)
	close(g.release)
	wg.Wait()

	assert.Equal(t, int32(1), g.calls.Load())
	for i := range results {
		require.NoError(t, errs[i])
		assert.Equal(t, 1, results[i].Len())
	}
}

func TestCache_DifferentKeysAreIndependent(t *testing.T) {
	cache := NewCache(time.Minute, nil)
	g := newGatedProducer()

	var wg sync.WaitGroup
	for _, key := range []string{"k1", "k2"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			_, err := cache.FetchCached(context.Background(), key, g.produce)
			assert.NoError(t, err)
		}(key)
	}

	require.Eventually(t, func() bool { return g.calls.Load() == 2 }, time.Second, 5*time.Millisecond,
		"second key doesn't wait for the first")
	close(g.release)
	wg.Wait()
	assert.Equal(t, 2, cache.Len())
}

func TestCache_TTL(t *testing.T) {
	cache := NewCache(10*time.Second, nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	calls := 0
	produce := func(context.Context) (status.FleetStatus, error) {
		calls++
		return status.FleetStatus{CollectedAt: now}, nil
	}

	ctx := context.Background()
	_, err := cache.FetchCached(ctx, "k", produce)
	require.NoError(t, err)
	_, err = cache.FetchCached(ctx, "k", produce)
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "fresh entry is reused")

	now = now.Add(10 * time.Second)
	_, err = cache.FetchCached(ctx, "k", produce)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "expired entry is refetched")

	cache.Invalidate("k")
	_, err = cache.FetchCached(ctx, "k", produce)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	cache.Clear()
	assert.Zero(t, cache.Len())
}

func TestCache_ZeroTTLOnlySharesInFlight(t *testing.T) {
	cache := NewCache(0, nil)
	calls := 0
	produce := func(context.Context) (status.FleetStatus, error) {
		calls++
		return status.FleetStatus{}, nil
	}

	for i := 0; i < 3; i++ {
		_, err := cache.FetchCached(context.Background(), "k", produce)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, calls)
}

func TestCache_ErrorStoresNothing(t *testing.T) {
	cache := NewCache(time.Minute, nil)
	fail := errors.New(errors.ErrConfig, "bad credentials", "")

	calls := 0
	produce := func(context.Context) (status.FleetStatus, error) {
		calls++
		if calls == 1 {
			return status.FleetStatus{}, fail
		}
		return status.FleetStatus{}, nil
	}

	_, err := cache.FetchCached(context.Background(), "k", produce)
	assert.ErrorIs(t, err, fail)
	assert.Zero(t, cache.Len())

	_, err = cache.FetchCached(context.Background(), "k", produce)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "a failed fetch is retried on the next call")
}

func TestCache_PanicBecomesConcurrencyError(t *testing.T) {
	cache := NewCache(time.Minute, nil)

	_, err := cache.FetchCached(context.Background(), "k", func(context.Context) (status.FleetStatus, error) {
		panic("boom")
	})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConcurrency))
	assert.Contains(t, err.Error(), "boom")
	assert.Zero(t, cache.Len())
}

func TestCache_CallerCancelDoesNotCancelProducer(t *testing.T) {
	cache := NewCache(time.Minute, nil)
	g := newGatedProducer()

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cache.FetchCached(ctx, "k", g.produce)
		firstErr <- err
	}()
	<-g.started

	secondErr := make(chan error, 1)
	go func() {
		_, err := cache.FetchCached(context.Background(), "k", g.produce)
		secondErr <- err
	}()

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled, "cancelled caller stops waiting")

	close(g.release)
	assert.NoError(t, <-secondErr, "producer ctx is not cancelled by the first caller")
	assert.Equal(t, int32(1), g.calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestKey(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.SSH.User = "alice"
	cfg.SSH.SecretKeyPath = "/home/alice/.ssh/id_rsa"
	servers := []config.Server{testServer("a"), testServer("b")}

	k1, err := Key(cfg, servers)
	require.NoError(t, err)
	k2, err := Key(cfg, servers)
	require.NoError(t, err)
	assert.Equal(t, k1, k2, "key is stable")

	cfg.SSH.Passphrase = "hunter2"
	k3, err := Key(cfg, servers)
	require.NoError(t, err)
	assert.Equal(t, k1, k3, "passphrase is not part of the key")
	assert.NotContains(t, k3, "hunter2")

	reordered, err := Key(cfg, []config.Server{testServer("b"), testServer("a")})
	require.NoError(t, err)
	assert.NotEqual(t, k1, reordered, "server order matters")

	subset, err := Key(cfg, servers[:1])
	require.NoError(t, err)
	assert.NotEqual(t, k1, subset)

	cfg.Timeout.Command = time.Minute
	slower, err := Key(cfg, servers)
	require.NoError(t, err)
	assert.NotEqual(t, k1, slower)

	cfg.SSH.ConfigPath = "/etc/ssh/ssh_config"
	aliased, err := Key(cfg, servers)
	require.NoError(t, err)
	assert.NotEqual(t, slower, aliased, "the ssh config used for aliases matters")
}
