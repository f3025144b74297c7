package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wyntrades-ai/defi-yields-mcp/internal/model"
)

// fakeFetcher counts calls and can block until released or fail on demand.
type fakeFetcher struct {
	calls   int64
	block   chan struct{}
	failErr error
	pools   []model.Pool
}

func (f *fakeFetcher) FetchPools(ctx context.Context) (*model.Dataset, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.failErr != nil {
		return nil, f.failErr
	}
	return &model.Dataset{Pools: f.pools, FetchedAt: time.Now().UTC()}, nil
}

func TestSnapshotFetchesOnce(t *testing.T) {
	fetcher := &fakeFetcher{pools: []model.Pool{{Chain: "Ethereum", Pool: "STETH"}}}
	c := New(fetcher, time.Minute, nil)

	ds, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ds.Pools) != 1 {
		t.Fatalf("expected 1 pool, got %d", len(ds.Pools))
	}

	// second snapshot must not hit upstream again
	if _, err := c.Snapshot(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&fetcher.calls); got != 1 {
		t.Fatalf("expected 1 upstream call, got %d", got)
	}
}

func TestConcurrentRefreshSingleUpstreamCall(t *testing.T) {
	fetcher := &fakeFetcher{block: make(chan struct{})}
	c := New(fetcher, time.Minute, nil)

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]*model.Dataset, waiters)
	errs := make([]error, waiters)

	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Refresh(context.Background(), true)
		}(i)
	}

	// let all waiters attach to the in-flight fetch, then release it
	time.Sleep(50 * time.Millisecond)
	close(fetcher.block)
	wg.Wait()

	if got := atomic.LoadInt64(&fetcher.calls); got != 1 {
		t.Fatalf("expected exactly 1 upstream call, got %d", got)
	}
	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d error: %v", i, errs[i])
		}
		if results[i] != results[0] {
			t.Fatalf("waiter %d received a different dataset", i)
		}
	}
}

func TestRefreshFailureKeepsPreviousDataset(t *testing.T) {
	fetcher := &fakeFetcher{pools: []model.Pool{{Chain: "Ethereum", Pool: "STETH"}}}
	c := New(fetcher, time.Nanosecond, nil)

	good, err := c.Refresh(context.Background(), true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetcher.failErr = errors.New("upstream down")
	if _, err := c.Refresh(context.Background(), true); err == nil {
		t.Fatalf("expected refresh error")
	}

	ds, err := c.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ds != good {
		t.Fatalf("failed refresh must not replace the cached dataset")
	}
}

func TestRefreshNotForcedSkipsFreshCache(t *testing.T) {
	fetcher := &fakeFetcher{}
	c := New(fetcher, time.Minute, nil)

	if _, err := c.Refresh(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := c.Refresh(context.Background(), false); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := atomic.LoadInt64(&fetcher.calls); got != 1 {
		t.Fatalf("non-forced refresh on a fresh cache should not call upstream, got %d calls", got)
	}

	if _, err := c.Refresh(context.Background(), true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := atomic.LoadInt64(&fetcher.calls); got != 2 {
		t.Fatalf("forced refresh should call upstream, got %d calls", got)
	}
}

func TestAgeZeroBeforeFirstFetch(t *testing.T) {
	c := New(&fakeFetcher{}, time.Minute, nil)
	if age := c.Age(); age != 0 {
		t.Fatalf("expected zero age before first fetch, got %v", age)
	}
}
