package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_MinVarianceOnAntiCorrelatedPair(t *testing.T) {
	n := 80
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		v := 0.01 * float64(i%5-2)
		a[i] = v
		b[i] = -v
	}

	result, err := Run(map[string][]float64{"A": a, "B": b}, Config{Metric: MetricVolatility, MaxWeight: 1.0})
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.Weights["A"], 0.05)
	assert.InDelta(t, 0.5, result.Weights["B"], 0.05)
	assert.InDelta(t, 1.0, result.Weights["A"]+result.Weights["B"], 1e-6)
	assert.Less(t, result.Metrics.Volatility, 0.01)
}

func TestRun_WeightsRespectMaxWeightCap(t *testing.T) {
	n := 80
	returns := map[string][]float64{}
	for _, name := range []string{"A", "B", "C"} {
		r := make([]float64, n)
		for i := range r {
			r[i] = 0.001 * float64(i%7-3)
		}
		returns[name] = r
	}

	result, err := Run(returns, Config{Metric: MetricVolatility, MaxWeight: 0.5})
	require.NoError(t, err)

	var sum float64
	for _, w := range result.Weights {
		assert.GreaterOrEqual(t, w, -1e-9)
		assert.LessOrEqual(t, w, 0.5+1e-9)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}

func TestRun_InsufficientStrategiesErrors(t *testing.T) {
	_, err := Run(map[string][]float64{"A": make([]float64, 80)}, Config{Metric: MetricVolatility})
	require.Error(t, err)
}

func TestRun_BetaMetricRequiresStrategyBetas(t *testing.T) {
	n := 80
	returns := map[string][]float64{
		"A": make([]float64, n),
		"B": make([]float64, n),
	}
	_, err := Run(returns, Config{Metric: MetricBeta})
	require.Error(t, err)
}

func TestRun_PortfolioCVaR95IsNegativeForVolatileStrategy(t *testing.T) {
	n := 80
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		v := 0.02 * float64(i%5-2)
		a[i] = v
		b[i] = v * 1.1
	}

	result, err := Run(map[string][]float64{"A": a, "B": b}, Config{Metric: MetricVolatility, MaxWeight: 1.0})
	require.NoError(t, err)
	assert.Less(t, result.PortfolioCVaR95, 0.0)
}

func TestRun_CorrelationMetricProducesValidSimplex(t *testing.T) {
	n := 80
	a := make([]float64, n)
	b := make([]float64, n)
	c := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = 0.01 * float64(i%5-2)
		b[i] = a[i] // perfectly correlated with A
		c[i] = -a[i]
	}

	result, err := Run(map[string][]float64{"A": a, "B": b, "C": c}, Config{Metric: MetricCorrelation, MaxWeight: 1.0})
	require.NoError(t, err)

	var sum float64
	for _, w := range result.Weights {
		assert.GreaterOrEqual(t, w, -1e-9)
		sum += w
	}
	assert.InDelta(t, 1.0, sum, 1e-6)
}
