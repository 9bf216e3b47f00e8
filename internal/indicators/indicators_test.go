package indicators

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backtest/internal/priceseries"
)

func seriesOf(ticker string, closes []float64) *priceseries.Series {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]priceseries.Bar, len(closes))
	for i, c := range closes {
		bars[i] = priceseries.Bar{
			Date:     start.AddDate(0, 0, i),
			Open:     c,
			High:     c,
			Low:      c,
			Close:    c,
			AdjClose: c,
		}
	}
	return &priceseries.Series{Ticker: ticker, Bars: bars}
}

func TestEval_PRICE(t *testing.T) {
	s := seriesOf("SPY", []float64{100, 101, 102})
	v, err := Eval("PRICE", nil, s, 2)
	require.NoError(t, err)
	assert.Equal(t, 102.0, v)
}

func TestEval_CUM_RET(t *testing.T) {
	s := seriesOf("SPY", []float64{100, 110})
	v, err := Eval("CUM_RET", map[string]float64{"n": 2}, s, 1)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, v, 1e-9)
}

func TestEval_MAX_DD(t *testing.T) {
	s := seriesOf("SPY", []float64{100, 120, 90})
	v, err := Eval("MAX_DD", map[string]float64{"n": 3}, s, 2)
	require.NoError(t, err)
	assert.InDelta(t, 0.25, v, 1e-9)
}

func TestEval_STDEV_InsufficientHistoryReturnsDataInsufficient(t *testing.T) {
	s := seriesOf("SPY", []float64{100, 101})
	_, err := Eval("STDEV", map[string]float64{"n": 10}, s, 1)
	require.Error(t, err)
}

func TestEval_UnknownIndicatorIsConfigError(t *testing.T) {
	s := seriesOf("SPY", []float64{100})
	_, err := Eval("NOT_REAL", nil, s, 0)
	require.Error(t, err)
}

func TestEval_INV_VOL_ZeroVolatilityErrors(t *testing.T) {
	s := seriesOf("SPY", []float64{100, 100, 100, 100})
	_, err := Eval("INV_VOL", map[string]float64{"n": 3}, s, 3)
	require.Error(t, err)
}

func TestLookback_UsesNPlusOne(t *testing.T) {
	n, err := Lookback("SMA", map[string]float64{"n": 20})
	require.NoError(t, err)
	assert.Equal(t, 21, n)
}

func TestLookback_PriceNeedsOneBar(t *testing.T) {
	n, err := Lookback("PRICE", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLookback_MissingParamErrors(t *testing.T) {
	_, err := Lookback("SMA", nil)
	require.Error(t, err)
}
