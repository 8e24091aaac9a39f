// Package cache holds the client's view of server state. Each resource key
// has two slots: the last value the server confirmed and a flag telling
// whether a mutation touching the key is in flight. Nothing unconfirmed is
// ever stored.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/medguard/internal/apperr"
)

type Key string

// Resource keys, named after the endpoints they mirror.
const (
	KeyMedications       Key = "medications"
	KeyGuardiansSent     Key = "guardians"
	KeyGuardiansReceived Key = "guardians/for"
)

// FetchFunc loads the current server value of a key.
type FetchFunc func(ctx context.Context) (any, error)

type entry struct {
	fetch     FetchFunc
	value     any
	confirmed bool
	fetchedAt time.Time
	gen       uint64
	pending   int
}

type Config struct {
	// MaxAge bounds how long a confirmed value is served. Zero keeps values
	// until they are invalidated.
	MaxAge time.Duration
}

type Cache struct {
	mu       sync.Mutex
	cfg      Config
	entries  map[Key]*entry
	inflight map[string]struct{}
	group    singleflight.Group
	now      func() time.Time
	logger   *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Cache {
	return &Cache{
		cfg:      cfg,
		entries:  make(map[Key]*entry),
		inflight: make(map[string]struct{}),
		now:      time.Now,
		logger:   logger,
	}
}

// Register binds a key to the function that fetches it.
func (c *Cache) Register(key Key, fetch FetchFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(key)
	e.fetch = fetch
}

func (c *Cache) entry(key Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
	}
	return e
}

func (c *Cache) fresh(e *entry) bool {
	if !e.confirmed {
		return false
	}
	return c.cfg.MaxAge == 0 || c.now().Sub(e.fetchedAt) < c.cfg.MaxAge
}

// Get returns the confirmed value of key, fetching it when absent. Concurrent
// callers for the same key share one fetch.
func (c *Cache) Get(ctx context.Context, key Key) (any, error) {
	c.mu.Lock()
	e := c.entry(key)
	if c.fresh(e) {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	fetch := e.fetch
	c.mu.Unlock()

	if fetch == nil {
		return nil, fmt.Errorf("cache: no fetcher registered for %q", key)
	}

	// A response superseded by an invalidation is refetched once so the
	// caller never sees state older than what was confirmed.
	var res flight
	for attempt := 0; attempt < 2; attempt++ {
		v, err, shared := c.group.Do(string(key), func() (any, error) {
			return c.fetch(ctx, key, fetch)
		})
		if shared {
			c.logger.Debug("coalesced read", "key", key)
		}
		if err != nil {
			return nil, err
		}
		res = v.(flight)
		if !res.superseded {
			break
		}
	}
	return res.value, nil
}

type flight struct {
	value      any
	superseded bool
}

func (c *Cache) fetch(ctx context.Context, key Key, fetch FetchFunc) (any, error) {
	c.mu.Lock()
	gen := c.entry(key).gen
	c.mu.Unlock()

	// Reads are not cancelled by one caller going away; the result may
	// serve the others sharing the flight.
	v, err := fetch(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(key)
	if e.gen != gen {
		// Invalidated while in flight: the response describes a state
		// older than the one the caller asked about.
		c.logger.Debug("discarding superseded response", "key", key)
		return flight{value: v, superseded: true}, nil
	}
	e.value = v
	e.confirmed = true
	e.fetchedAt = c.now()
	return flight{value: v}, nil
}

// Peek returns the confirmed value without fetching.
func (c *Cache) Peek(key Key) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || !c.fresh(e) {
		return nil, false
	}
	return e.value, true
}

// Pending reports whether a mutation affecting key is in flight.
func (c *Cache) Pending(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	return ok && e.pending > 0
}

// Invalidate drops the confirmed value of every key in one step, so no
// reader sees some of them refreshed and others stale.
func (c *Cache) Invalidate(keys ...Key) {
	c.mu.Lock()
	for _, k := range keys {
		e := c.entry(k)
		e.value = nil
		e.confirmed = false
		e.gen++
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.group.Forget(string(k))
	}
}

// Refresh invalidates keys and fetches them again concurrently.
func (c *Cache) Refresh(ctx context.Context, keys ...Key) error {
	c.Invalidate(keys...)
	g, ctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		g.Go(func() error {
			_, err := c.Get(ctx, k)
			return err
		})
	}
	return g.Wait()
}

// Clear forgets every value and in-flight marker, keeping fetchers.
func (c *Cache) Clear() {
	c.mu.Lock()
	keys := make([]Key, 0, len(c.entries))
	for k, e := range c.entries {
		e.value = nil
		e.confirmed = false
		e.gen++
		keys = append(keys, k)
	}
	c.mu.Unlock()
	for _, k := range keys {
		c.group.Forget(string(k))
	}
}

// Mutation describes one write against the server.
type Mutation struct {
	// Lock identifies the operation; a second mutation with the same lock
	// is rejected while the first is in flight.
	Lock string
	// Affects lists the keys invalidated once the server confirms.
	Affects []Key
	Do      func(ctx context.Context) error
}

var errNoOp = errors.New("cache: mutation has no Do func")

// Mutate runs m. The write is not cancellable once started. On success the
// affected keys are invalidated together; on failure the cache is left at
// its last confirmed state.
func (c *Cache) Mutate(ctx context.Context, m Mutation) error {
	if m.Do == nil {
		return errNoOp
	}

	c.mu.Lock()
	if _, busy := c.inflight[m.Lock]; busy {
		c.mu.Unlock()
		return apperr.New(apperr.ErrInFlight, "")
	}
	c.inflight[m.Lock] = struct{}{}
	for _, k := range m.Affects {
		c.entry(k).pending++
	}
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, m.Lock)
		for _, k := range m.Affects {
			c.entry(k).pending--
		}
		c.mu.Unlock()
	}()

	if err := m.Do(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	c.Invalidate(m.Affects...)
	return nil
}

// Load is a typed Get.
func Load[T any](ctx context.Context, c *Cache, key Key) (T, error) {
	var zero T
	v, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: %q holds %T", key, v)
	}
	return t, nil
}
