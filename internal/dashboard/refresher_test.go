package dashboard

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadline/internal/overdue"
)

type fakeSummarizer struct {
	calls   atomic.Int32
	err     error
	release chan struct{}
}

func (f *fakeSummarizer) Summary(ctx context.Context, actorID string, _ time.Time) (overdue.Summary, error) {
	n := f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if err := ctx.Err(); err != nil {
		return overdue.Summary{}, err
	}
	if f.err != nil {
		return overdue.Summary{}, f.err
	}
	return overdue.Summary{Date: actorID, TotalStale: int(n)}, nil
}

func quietLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func TestSummaryServesFromCacheWithinTTL(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.Now = func() time.Time { return now }
	fake := &fakeSummarizer{}
	r := &Refresher{Summarizer: fake, Cache: cache, TTL: 15 * time.Second, Log: quietLogger()}
	ctx := context.Background()

	first, err := r.Summary(ctx, "u1")
	require.NoError(t, err)
	second, err := r.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, fake.calls.Load())

	now = now.Add(15 * time.Second)
	third, err := r.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, third.TotalStale)
}

func TestSummaryKeepsActorsApart(t *testing.T) {
	r := &Refresher{Summarizer: &fakeSummarizer{}, Cache: NewMemoryCache(), Log: quietLogger()}
	a, err := r.Summary(context.Background(), "u1")
	require.NoError(t, err)
	b, err := r.Summary(context.Background(), "u2")
	require.NoError(t, err)
	assert.Equal(t, "u1", a.Date)
	assert.Equal(t, "u2", b.Date)
}

func TestSummaryCoalescesConcurrentRequests(t *testing.T) {
	fake := &fakeSummarizer{release: make(chan struct{})}
	r := &Refresher{Summarizer: fake, Cache: NewMemoryCache(), Log: quietLogger()}

	const n = 8
	var wg sync.WaitGroup
	results := make([]overdue.Summary, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, err := r.Summary(context.Background(), "u1")
			assert.NoError(t, err)
			results[i] = s
		}(i)
	}
	require.Eventually(t, func() bool { return fake.calls.Load() == 1 }, time.Second, time.Millisecond)
	// Let the waiters pile onto the in-flight pass before releasing it.
	time.Sleep(20 * time.Millisecond)
	close(fake.release)
	wg.Wait()

	for _, s := range results {
		assert.NotZero(t, s.TotalStale)
	}
	assert.LessOrEqual(t, fake.calls.Load(), int32(2))
}

func TestSummaryErrorsAreNotCached(t *testing.T) {
	fake := &fakeSummarizer{err: overdue.ErrSourceUnavailable}
	r := &Refresher{Summarizer: fake, Cache: NewMemoryCache(), Log: quietLogger()}
	ctx := context.Background()

	_, err := r.Summary(ctx, "u1")
	require.ErrorIs(t, err, overdue.ErrSourceUnavailable)

	fake.err = nil
	s, err := r.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalStale)
}

func TestInvalidateForcesFreshPass(t *testing.T) {
	fake := &fakeSummarizer{}
	r := &Refresher{Summarizer: fake, Cache: NewMemoryCache(), Log: quietLogger()}
	ctx := context.Background()

	_, err := r.Summary(ctx, "u1")
	require.NoError(t, err)
	r.Invalidate()
	s, err := r.Summary(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, s.TotalStale)
}

type brokenCache struct{}

func (brokenCache) Get(context.Context, string) (overdue.Summary, bool, error) {
	return overdue.Summary{}, false, errors.New("connection refused")
}

func (brokenCache) Set(context.Context, string, overdue.Summary, time.Duration) error {
	return errors.New("connection refused")
}

func (brokenCache) Delete(context.Context, string) error { return nil }

func TestSummarySurvivesCacheOutage(t *testing.T) {
	log, hook := test.NewNullLogger()
	r := &Refresher{Summarizer: &fakeSummarizer{}, Cache: brokenCache{}, Log: log}
	s, err := r.Summary(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalStale)
	assert.Len(t, hook.AllEntries(), 2)
}

func TestRunRefreshesUntilCancelled(t *testing.T) {
	fake := &fakeSummarizer{}
	r := &Refresher{Summarizer: fake, Cache: NewMemoryCache(), Interval: 5 * time.Millisecond, Log: quietLogger()}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx, func(context.Context) ([]string, error) { return []string{"u1", "u2"}, nil })
		close(done)
	}()
	require.Eventually(t, func() bool { return fake.calls.Load() >= 4 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}

func TestMemoryCacheDelete(t *testing.T) {
	c := NewMemoryCache()
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "k", overdue.Summary{TotalMissed: 1}, time.Minute))
	require.NoError(t, c.Delete(ctx, "k"))
	_, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryCacheDropsExpiredGenerations(t *testing.T) {
	now := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)
	cache := NewMemoryCache()
	cache.Now = func() time.Time { return now }
	r := &Refresher{Summarizer: &fakeSummarizer{}, Cache: cache, TTL: 15 * time.Second, Log: quietLogger()}
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		for _, id := range []string{"u1", "u2", "u3"} {
			_, err := r.Summary(ctx, id)
			require.NoError(t, err)
		}
		r.Invalidate()
	}
	now = now.Add(time.Minute)
	_, err := r.Summary(ctx, "u1")
	require.NoError(t, err)

	cache.mu.Lock()
	defer cache.mu.Unlock()
	assert.Len(t, cache.items, 1)
}

func TestCancelledCallerDoesNotFailSharedPass(t *testing.T) {
	fake := &fakeSummarizer{release: make(chan struct{})}
	r := &Refresher{Summarizer: fake, Cache: NewMemoryCache(), Log: quietLogger()}

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := r.Summary(firstCtx, "u1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return fake.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		s   overdue.Summary
		err error
	}
	second := make(chan result, 1)
	go func() {
		s, err := r.Summary(context.Background(), "u1")
		second <- result{s, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller kept waiting")
	}

	close(fake.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, "u1", res.s.Date)
	case <-time.After(time.Second):
		t.Fatal("shared pass did not finish")
	}
}

func TestSharedPassIsBounded(t *testing.T) {
	r := &Refresher{Summarizer: blockingSummarizer{}, PassTimeout: 10 * time.Millisecond, Log: quietLogger()}
	_, err := r.Summary(context.Background(), "u1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type blockingSummarizer struct{}

func (blockingSummarizer) Summary(ctx context.Context, _ string, _ time.Time) (overdue.Summary, error) {
	<-ctx.Done()
	return overdue.Summary{}, ctx.Err()
}
