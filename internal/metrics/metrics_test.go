package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func days(n int) []time.Time {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func TestCAGR_DoublingOverOneYear(t *testing.T) {
	cagr := CAGR(1.0, 2.0, tradingDaysPerYear)
	assert.InDelta(t, 1.0, cagr, 1e-9)
}

func TestMaxDrawdown_SimplePeakTrough(t *testing.T) {
	equity := []float64{1.0, 1.2, 0.9, 1.1}
	dd := MaxDrawdown(equity)
	assert.InDelta(t, 0.25, dd, 1e-9) // (1.2-0.9)/1.2
}

func TestWinRate(t *testing.T) {
	returns := []float64{0.01, -0.02, 0.03, 0.0, -0.01}
	assert.InDelta(t, 0.4, WinRate(returns), 1e-9)
}

func TestBeta_SelfComparisonIsOne(t *testing.T) {
	dates := days(60)
	returns := make([]float64, 60)
	for i := range returns {
		returns[i] = 0.001 * float64(i%5-2)
	}
	beta, err := Beta(dates, returns, dates, returns)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, beta, 1e-9)
}

func TestBeta_InsufficientAlignedDays(t *testing.T) {
	dates := days(5)
	returns := []float64{0.01, 0.02, -0.01, 0.0, 0.01}
	otherDates := []time.Time{dates[0]}
	otherReturns := []float64{0.01}
	_, err := Beta(dates, returns, otherDates, otherReturns)
	require.Error(t, err)
}

func TestCompute_FullSet(t *testing.T) {
	dates := days(60)
	equity := make([]float64, 60)
	returns := make([]float64, 59)
	equity[0] = 1.0
	for i := 1; i < 60; i++ {
		// non-constant returns, so the benchmark (the same series) has
		// nonzero variance and a defined beta of 1.
		returns[i-1] = 0.001 * float64(1+i%3)
		equity[i] = equity[i-1] * (1 + returns[i-1])
	}

	set, err := Compute(dates, equity, returns, 0.1, 3.0, Options{
		Benchmark: DatedReturns{Dates: dates[1:], Returns: returns},
	})
	require.NoError(t, err)
	assert.Greater(t, set.CAGR, 0.0)
	assert.InDelta(t, 1.0, set.BetaSPY, 1e-6)
	assert.Equal(t, 0.1, set.AvgTurnover)
	assert.Equal(t, 3.0, set.AvgHoldings)
}
