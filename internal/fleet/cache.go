package fleet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mitchellh/hashstructure/v2"
	"github.com/sabakan-dev/sabakan/internal/config"
	"github.com/sabakan-dev/sabakan/internal/errors"
	"github.com/sabakan-dev/sabakan/internal/logger"
	"github.com/sabakan-dev/sabakan/internal/status"
	"golang.org/x/sync/singleflight"
)

// Producer computes a fresh FleetStatus, normally Collector.Fetch bound to a
// server list.
type Producer func(ctx context.Context) (status.FleetStatus, error)

type cacheEntry struct {
	value    status.FleetStatus
	storedAt time.Time
}

// Cache memoizes fleet fetches by key for a TTL. Concurrent requests for a
// key share one running Producer; requests for different keys don't wait on
// each other.
type Cache struct {
	ttl   time.Duration
	log   logger.Logger
	now   func() time.Time
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

// NewCache creates a cache whose entries stay fresh for ttl. With ttl <= 0
// nothing is served from storage and only in-flight fetches are shared.
func NewCache(ttl time.Duration, log logger.Logger) *Cache {
	if log == nil {
		log = logger.Noop()
	}
	return &Cache{
		ttl:     ttl,
		log:     log,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// FetchCached returns the fresh entry for key, or runs produce to make one.
// If a fetch for key is already running the call joins it.
//
// produce runs detached from ctx cancellation so one caller giving up doesn't
// fail the others; a caller whose ctx ends gets ctx's error right away. A
// failed fetch stores nothing and drops any older entry for key. A panic in
// produce is returned to every joined caller as an ErrConcurrency error.
func (c *Cache) FetchCached(ctx context.Context, key string, produce Producer) (status.FleetStatus, error) {
	if v, ok := c.lookup(key); ok {
		c.log.Debug("cache hit for %s", key)
		return v, nil
	}

	ch := c.group.DoChan(key, func() (any, error) {
		return c.produce(ctx, key, produce)
	})

	select {
	case <-ctx.Done():
		return status.FleetStatus{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return status.FleetStatus{}, res.Err
		}
		return res.Val.(status.FleetStatus), nil
	}
}

func (c *Cache) produce(ctx context.Context, key string, produce Producer) (v any, err error) {
	// A fetch for key may have finished between lookup and DoChan.
	if fresh, ok := c.lookup(key); ok {
		return fresh, nil
	}

	defer func() {
		if r := recover(); r != nil {
			c.Invalidate(key)
			err = errors.New(errors.ErrConcurrency,
				fmt.Sprintf("Fleet fetch failed unexpectedly: %v", r),
				"Try again; if it keeps happening run with --verbose and report the log.")
		}
	}()

	c.log.Debug("cache miss for %s, fetching", key)
	fleet, err := produce(context.WithoutCancel(ctx))
	if err != nil {
		c.Invalidate(key)
		return nil, err
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{value: fleet, storedAt: c.now()}
	c.mu.Unlock()
	return fleet, nil
}

func (c *Cache) lookup(key string) (status.FleetStatus, bool) {
	if c.ttl <= 0 {
		return status.FleetStatus{}, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return status.FleetStatus{}, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		return status.FleetStatus{}, false
	}
	return e.value, true
}

// Invalidate drops the entry for key.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]cacheEntry)
	c.mu.Unlock()
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// keyFields is everything that changes the result of a fetch. The
// passphrase is not part of it.
type keyFields struct {
	User           string
	SecretKeyPath  string
	KnownHostsPath string
	StrictHostKey  bool
	SSHConfigPath  string
	Timeouts       config.TimeoutConfig
	Servers        []config.Server
}

// Key fingerprints the identity, timeouts and ordered servers of a fetch.
func Key(cfg *config.Config, servers []config.Server) (string, error) {
	fields := keyFields{
		User:           cfg.SSH.User,
		SecretKeyPath:  cfg.SSH.SecretKeyPath,
		KnownHostsPath: cfg.SSH.KnownHostsPath,
		StrictHostKey:  cfg.SSH.StrictHostKey,
		SSHConfigPath:  cfg.SSH.ConfigPath,
		Timeouts:       cfg.Timeout,
		Servers:        servers,
	}

	h, err := hashstructure.Hash(fields, hashstructure.FormatV2, nil)
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig, "Couldn't fingerprint the fetch", "")
	}
	return fmt.Sprintf("fleet-%016x", h), nil
}
