package priceseries

import (
	"sync/atomic"
	"time"
)

// Source is the external price store interface (spec §6): given a ticker it
// returns its ordered daily series, and it can report the latest date known
// for a probe ticker.
type Source interface {
	FetchSeries(ticker string) (*Series, error)
	LatestDate(probeTicker string) (time.Time, error)
}

// snapshot is the immutable value swapped wholesale under Cache, per the
// spec §9 design note: "expose as a process-wide component with explicit
// initialize/clear/setTTL operations, and an atomic-swap snapshot read; not
// a hidden singleton."
type snapshot struct {
	series map[string]*Series
	at     time.Time
}

// Cache is an in-memory, TTL-bounded snapshot of per-ticker price series.
// Readers take a lock-free snapshot; writers replace it wholesale via
// atomic.Pointer, so no fine-grained per-ticker locking is required.
type Cache struct {
	ptr    atomic.Pointer[snapshot]
	ttl    atomic.Int64 // nanoseconds
	source Source
}

// NewCache builds an (initially empty) cache over source with the given TTL.
func NewCache(source Source, ttl time.Duration) *Cache {
	c := &Cache{source: source}
	c.ttl.Store(int64(ttl))
	empty := &snapshot{series: map[string]*Series{}, at: time.Time{}}
	c.ptr.Store(empty)
	return c
}

// SetTTL updates the snapshot's time-to-live.
func (c *Cache) SetTTL(ttl time.Duration) {
	c.ttl.Store(int64(ttl))
}

// Clear discards the current snapshot, forcing the next Get to refetch.
func (c *Cache) Clear() {
	c.ptr.Store(&snapshot{series: map[string]*Series{}, at: time.Time{}})
}

// Initialize eagerly populates the cache for the given tickers.
func (c *Cache) Initialize(tickers []string) error {
	_, err := c.refresh(tickers)
	return err
}

// Get returns the series for ticker, refreshing the whole snapshot if it has
// expired. A cache miss for a ticker not covered by the current snapshot
// also triggers a refresh covering just that ticker, merged into a new
// snapshot.
func (c *Cache) Get(ticker string) (*Series, error) {
	snap := c.ptr.Load()
	if c.expired(snap) && len(snap.series) > 0 {
		tickers := make([]string, 0, len(snap.series)+1)
		for t := range snap.series {
			tickers = append(tickers, t)
		}
		if _, ok := snap.series[ticker]; !ok {
			tickers = append(tickers, ticker)
		}
		next, err := c.refresh(tickers)
		if err != nil {
			return nil, err
		}
		return next.series[ticker], nil
	}
	if s, ok := snap.series[ticker]; ok {
		return s, nil
	}
	return c.fetchAndMerge(ticker)
}

func (c *Cache) expired(snap *snapshot) bool {
	ttl := time.Duration(c.ttl.Load())
	if ttl <= 0 {
		return false
	}
	return time.Since(snap.at) > ttl
}

func (c *Cache) fetchAndMerge(ticker string) (*Series, error) {
	s, err := c.source.FetchSeries(ticker)
	if err != nil {
		return nil, err
	}

	for {
		old := c.ptr.Load()
		next := &snapshot{series: make(map[string]*Series, len(old.series)+1), at: time.Now()}
		for k, v := range old.series {
			next.series[k] = v
		}
		next.series[ticker] = s
		if c.ptr.CompareAndSwap(old, next) {
			return s, nil
		}
	}
}

func (c *Cache) refresh(tickers []string) (*snapshot, error) {
	next := &snapshot{series: make(map[string]*Series, len(tickers)), at: time.Now()}
	for _, t := range tickers {
		s, err := c.source.FetchSeries(t)
		if err != nil {
			return nil, err
		}
		next.series[t] = s
	}
	c.ptr.Store(next)
	return next, nil
}
