package resultcache

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backtest/internal/database"
	"github.com/aristath/backtest/internal/evaluator"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	db, err := database.New(database.Config{
		Path:    filepath.Join(t.TempDir(), "resultcache.db"),
		Profile: database.ProfileCache,
		Name:    "resultcache_test",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cache, err := New(db, zerologDiscard())
	require.NoError(t, err)
	return cache
}

func sampleBacktestResult() *evaluator.BacktestResult {
	return &evaluator.BacktestResult{
		EquityCurve: []evaluator.EquityPoint{
			{Date: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Equity: 1.0},
			{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Equity: 1.01},
		},
		DailyReturns: []float64{0.01},
		AvgTurnover:  0.1,
		AvgHoldings:  1,
	}
}

func TestBacktestCache_PutThenGetRoundTrips(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	key := BacktestKey{BotID: "bot-1", PayloadHash: "hash-a", DataDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, cache.PutBacktest(ctx, key, sampleBacktestResult()))

	got, ok, err := cache.GetBacktest(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, got.EquityCurve, 2)
	assert.InDelta(t, 1.01, got.EquityCurve[1].Equity, 1e-9)
}

func TestBacktestCache_MissReturnsFalseNoError(t *testing.T) {
	cache := newTestCache(t)
	got, ok, err := cache.GetBacktest(context.Background(), BacktestKey{BotID: "nope", PayloadHash: "x", DataDate: time.Now()})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestBacktestCache_PutIsLastWriteWins(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	key := BacktestKey{BotID: "bot-1", PayloadHash: "hash-a", DataDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}

	require.NoError(t, cache.PutBacktest(ctx, key, sampleBacktestResult()))
	second := sampleBacktestResult()
	second.AvgTurnover = 0.5
	require.NoError(t, cache.PutBacktest(ctx, key, second))

	got, ok, err := cache.GetBacktest(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.InDelta(t, 0.5, got.AvgTurnover, 1e-9)
}

func TestInvalidateBot_OnlyRemovesOwnedEntries(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	keyA := BacktestKey{BotID: "bot-a", PayloadHash: "h1", DataDate: time.Now()}
	keyB := BacktestKey{BotID: "bot-b", PayloadHash: "h2", DataDate: time.Now()}
	require.NoError(t, cache.PutBacktest(ctx, keyA, sampleBacktestResult()))
	require.NoError(t, cache.PutBacktest(ctx, keyB, sampleBacktestResult()))

	require.NoError(t, cache.InvalidateBot(ctx, "bot-a"))

	_, ok, err := cache.GetBacktest(ctx, keyA)
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = cache.GetBacktest(ctx, keyB)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestInvalidateAll_ClearsEveryTable(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	key := BacktestKey{BotID: "bot-a", PayloadHash: "h1", DataDate: time.Now()}
	require.NoError(t, cache.PutBacktest(ctx, key, sampleBacktestResult()))
	require.NoError(t, cache.PutBenchmark(ctx, BenchmarkKey{Ticker: "SPY", DataDate: time.Now()}, sampleBenchmarkSet()))

	require.NoError(t, cache.InvalidateAll(ctx))

	_, ok, err := cache.GetBacktest(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckAndTriggerDailyRefresh_OnlyTriggersOnNewCalendarDay(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()
	day1 := time.Date(2024, 3, 1, 9, 0, 0, 0, time.Local)

	triggered, err := cache.CheckAndTriggerDailyRefresh(ctx, day1)
	require.NoError(t, err)
	assert.False(t, triggered, "first-ever call only seeds state")

	triggered, err = cache.CheckAndTriggerDailyRefresh(ctx, day1.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, triggered, "same calendar day must not re-trigger")

	key := BacktestKey{BotID: "bot-a", PayloadHash: "h1", DataDate: day1}
	require.NoError(t, cache.PutBacktest(ctx, key, sampleBacktestResult()))

	day2 := day1.AddDate(0, 0, 1)
	triggered, err = cache.CheckAndTriggerDailyRefresh(ctx, day2)
	require.NoError(t, err)
	assert.True(t, triggered, "first call of a new calendar day must invalidate")

	_, ok, err := cache.GetBacktest(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok, "entries from before the refresh must be gone")
}
