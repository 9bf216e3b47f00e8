package sanity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backtest/internal/metrics"
)

func fixedReturns(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		// deterministic pseudo-random-looking but reproducible series
		out[i] = 0.0005 * float64((i*37)%23-11)
	}
	return out
}

func fixedDates(n int) []time.Time {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func TestRun_MonteCarloMedianIsReproducibleAcrossRuns(t *testing.T) {
	returns := fixedReturns(300)
	dates := fixedDates(300)
	cfg := DefaultConfig()
	cfg.Iterations = 200

	r1, err := Run(dates, returns, nil, cfg)
	require.NoError(t, err)
	r2, err := Run(dates, returns, nil, cfg)
	require.NoError(t, err)

	assert.Equal(t, r1.MonteCarlo.Quantiles.P50, r2.MonteCarlo.Quantiles.P50)
}

func TestRun_RejectsShortReturnSeries(t *testing.T) {
	returns := fixedReturns(10)
	dates := fixedDates(10)
	_, err := Run(dates, returns, nil, DefaultConfig())
	require.Error(t, err)
}

func TestRun_KFoldShardsCoverFullSeries(t *testing.T) {
	returns := fixedReturns(107)
	dates := fixedDates(107)
	cfg := DefaultConfig()
	cfg.Shards = 10

	report, err := Run(dates, returns, nil, cfg)
	require.NoError(t, err)
	assert.Len(t, report.Shards, 10)
}

func TestRun_StrategyBetasOmitsUnalignedBenchmarks(t *testing.T) {
	returns := fixedReturns(300)
	dates := fixedDates(300)

	spyReturns := fixedReturns(300)
	benchmarks := map[string]metrics.DatedReturns{
		"SPY": {Dates: dates, Returns: spyReturns},
	}

	report, err := Run(dates, returns, benchmarks, DefaultConfig())
	require.NoError(t, err)
	_, ok := report.StrategyBetas["SPY"]
	assert.True(t, ok)
	_, ok = report.StrategyBetas["QQQ"]
	assert.False(t, ok)
}

// TestRun_StrategyBetasRequiresFiftyAlignedDays covers spec §4.5: a
// benchmark aligned on fewer than 50 days must be omitted even though
// metrics.Beta itself only requires 2 aligned days to compute.
func TestRun_StrategyBetasRequiresFiftyAlignedDays(t *testing.T) {
	returns := fixedReturns(300)
	dates := fixedDates(300)

	benchmarks := map[string]metrics.DatedReturns{
		"SPY": {Dates: dates[:49], Returns: fixedReturns(49)},
	}

	report, err := Run(dates, returns, benchmarks, DefaultConfig())
	require.NoError(t, err)
	_, ok := report.StrategyBetas["SPY"]
	assert.False(t, ok, "49 aligned days is below the 50-day floor")
}
