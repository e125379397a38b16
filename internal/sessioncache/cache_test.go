package sessioncache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wolfeidau/authkeeper/internal/models"
	"github.com/wolfeidau/authkeeper/internal/tokenclock/fakeclock"
)

var start = time.Unix(1_700_000_000, 0)

type countingFetcher struct {
	calls   atomic.Int64
	session atomic.Pointer[models.Session]
	err     error
}

func (f *countingFetcher) fetch(ctx context.Context) (*models.Session, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.session.Load(), nil
}

func newSession(id string) *models.Session {
	return &models.Session{AccessToken: "access-" + id, RefreshToken: "refresh-" + id}
}

func TestCache_ServesWithinTTL(t *testing.T) {
	ctx := context.Background()
	clock := fakeclock.New(start)
	fetcher := &countingFetcher{}
	fetcher.session.Store(newSession("1"))

	cache := New(fetcher.fetch, 0, clock)

	first, err := cache.Get(ctx)
	require.NoError(t, err)
	clock.Advance(29 * time.Second)
	second, err := cache.Get(ctx)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), fetcher.calls.Load())

	fetcher.session.Store(newSession("2"))
	clock.Advance(time.Second)

	third, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-2", third.AccessToken)
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestCache_Invalidate(t *testing.T) {
	ctx := context.Background()
	fetcher := &countingFetcher{}
	fetcher.session.Store(newSession("1"))
	cache := New(fetcher.fetch, time.Minute, fakeclock.New(start))

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	cache.Invalidate()
	_, err = cache.Get(ctx)
	require.NoError(t, err)

	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestCache_StoreNilHidesBackendSession(t *testing.T) {
	ctx := context.Background()
	fetcher := &countingFetcher{}
	fetcher.session.Store(newSession("1"))
	cache := New(fetcher.fetch, time.Minute, fakeclock.New(start))

	_, err := cache.Get(ctx)
	require.NoError(t, err)

	// signed out locally while the backend still reports the session
	cache.Store(nil)

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int64(1), fetcher.calls.Load())
}

func TestCache_IncompleteSessionIsAbsent(t *testing.T) {
	fetcher := &countingFetcher{}
	fetcher.session.Store(&models.Session{AccessToken: "only-access"})
	cache := New(fetcher.fetch, time.Minute, fakeclock.New(start))

	got, err := cache.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)

	cache.Store(&models.Session{RefreshToken: "only-refresh"})
	got, err = cache.Get(context.Background())
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_FetchErrorNotCached(t *testing.T) {
	ctx := context.Background()
	fetcher := &countingFetcher{err: errors.New("backend down")}
	cache := New(fetcher.fetch, time.Minute, fakeclock.New(start))

	_, err := cache.Get(ctx)
	require.Error(t, err)

	fetcher.err = nil
	fetcher.session.Store(newSession("1"))

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "access-1", got.AccessToken)
	assert.Equal(t, int64(2), fetcher.calls.Load())
}

func TestCache_FetchInFlightDuringStoreIsDiscarded(t *testing.T) {
	ctx := context.Background()
	clock := fakeclock.New(start)

	entered := make(chan struct{})
	unblock := make(chan struct{})
	stale := newSession("stale")

	cache := New(func(ctx context.Context) (*models.Session, error) {
		close(entered)
		<-unblock
		return stale, nil
	}, time.Minute, clock)

	result := make(chan *models.Session, 1)
	go func() {
		got, _ := cache.Get(ctx)
		result <- got
	}()

	<-entered
	cache.Store(nil)
	close(unblock)

	assert.Nil(t, <-result, "in-flight read must not resurrect a signed out session")

	got, err := cache.Get(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCache_ConcurrentMissesShareFetch(t *testing.T) {
	ctx := context.Background()

	var calls atomic.Int64
	unblock := make(chan struct{})
	cache := New(func(ctx context.Context) (*models.Session, error) {
		calls.Add(1)
		<-unblock
		return newSession("1"), nil
	}, time.Minute, fakeclock.New(start))

	const readers = 8
	var wg sync.WaitGroup
	wg.Add(readers)
	for range readers {
		go func() {
			defer wg.Done()
			_, err := cache.Get(ctx)
			assert.NoError(t, err)
		}()
	}

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(unblock)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
}

func TestCache_CancelledReaderDoesNotFailSharedFetch(t *testing.T) {
	entered := make(chan struct{})
	unblock := make(chan struct{})
	cache := New(func(ctx context.Context) (*models.Session, error) {
		close(entered)
		select {
		case <-unblock:
			return newSession("1"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}, time.Minute, fakeclock.New(start))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := make(chan error, 1)
	go func() {
		_, err := cache.Get(ctx)
		first <- err
	}()
	<-entered

	second := make(chan *models.Session, 1)
	go func() {
		got, err := cache.Get(context.Background())
		assert.NoError(t, err)
		second <- got
	}()
	time.Sleep(20 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(unblock)

	got := <-second
	require.NotNil(t, got)
	assert.Equal(t, "access-1", got.AccessToken)
}
