package priceseries

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	inflight atomic.Int32
	maxSeen  atomic.Int32
	fail     string
}

func (f *fakeSource) FetchSeries(ticker string) (*Series, error) {
	if ticker == f.fail {
		return nil, fmt.Errorf("boom: %s", ticker)
	}
	n := f.inflight.Add(1)
	defer f.inflight.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return &Series{Ticker: ticker, Bars: []Bar{{Date: day(0), AdjClose: 1}}}, nil
}

func (f *fakeSource) LatestDate(string) (time.Time, error) { return day(0), nil }

func TestPool_FetchAll_RespectsBoundedConcurrency(t *testing.T) {
	src := &fakeSource{}
	pool := NewPool(src, 2)

	tickers := []string{"A", "B", "C", "D", "E", "F"}
	results, err := pool.FetchAll(context.Background(), tickers)
	require.NoError(t, err)
	assert.Len(t, results, len(tickers))
	assert.LessOrEqual(t, src.maxSeen.Load(), int32(2))
}

func TestPool_FetchAll_PropagatesError(t *testing.T) {
	src := &fakeSource{fail: "BAD"}
	pool := NewPool(src, 4)

	_, err := pool.FetchAll(context.Background(), []string{"A", "BAD", "C"})
	require.Error(t, err)
}
