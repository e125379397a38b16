// Package sessioncache fronts the authoritative session fetch with a short-lived
// cache so that many readers asking for the session at once cost one backend call.
package sessioncache

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/telemetry"
	"github.com/wolfeidau/authkeeper/internal/tokenclock"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a fetched session is served from cache.
const DefaultTTL = 30 * time.Second

// Fetcher performs the authoritative session read.
type Fetcher func(ctx context.Context) (*models.Session, error)

// Cache holds the last fetched session for TTL.
//
// Every Store or Invalidate starts a new generation. A fetch started in an older
// generation never overwrites the cache, so a sign out recorded with Store(nil)
// can't be undone by a read that was already in flight.
type Cache struct {
	fetch   Fetcher
	ttl     time.Duration
	clock   tokenclock.Clock
	metrics *telemetry.Metrics

	mu        sync.Mutex
	value     *models.Session
	fetchedAt time.Time
	valid     bool
	gen       uint64

	group singleflight.Group
}

// New creates a cache over fetch, ttl <= 0 uses DefaultTTL.
func New(fetch Fetcher, ttl time.Duration, clock tokenclock.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if clock == nil {
		clock = tokenclock.Real()
	}
	return &Cache{
		fetch:   fetch,
		ttl:     ttl,
		clock:   clock,
		metrics: telemetry.GetMetrics(),
	}
}

// Get returns the cached session if it was fetched less than TTL ago, otherwise it
// fetches, caches and returns a fresh one. Incomplete sessions are returned as nil.
// A reader whose ctx ends stops waiting, the fetch carries on for the others.
func (c *Cache) Get(ctx context.Context) (*models.Session, error) {
	c.mu.Lock()
	if c.valid && c.clock.Now().Sub(c.fetchedAt) < c.ttl {
		value := c.value
		c.mu.Unlock()
		c.metrics.SessionCacheHitsTotal.Add(ctx, 1)
		return value, nil
	}
	gen := c.gen
	c.mu.Unlock()

	c.metrics.SessionCacheMissesTotal.Add(ctx, 1)

	// the shared fetch must not end with the reader which started it
	fetchCtx := context.WithoutCancel(ctx)

	// readers of the same generation share one fetch
	ch := c.group.DoChan(strconv.FormatUint(gen, 10), func() (any, error) {
		session, err := c.fetch(fetchCtx)
		if err != nil {
			return nil, err
		}
		if !session.IsComplete() {
			session = nil
		}

		c.mu.Lock()
		defer c.mu.Unlock()

		if c.gen != gen {
			log.Debug().Msg("discarding session fetched before invalidation")
			if c.valid {
				return c.value, nil
			}
			return session, nil
		}

		c.value = session
		c.fetchedAt = c.clock.Now()
		c.valid = true

		return session, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		session, _ := res.Val.(*models.Session)
		return session, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Store records a session known to be current, nil records a signed out state.
func (c *Cache) Store(session *models.Session) {
	if !session.IsComplete() {
		session = nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.value = session
	c.fetchedAt = c.clock.Now()
	c.valid = true
}

// Invalidate makes the next Get bypass the cache.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.value = nil
	c.valid = false
}
