package resultcache

import (
	"io"

	"github.com/rs/zerolog"

	"github.com/aristath/backtest/internal/metrics"
)

func zerologDiscard() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func sampleBenchmarkSet() *metrics.Set {
	return &metrics.Set{CAGR: 0.08, Volatility: 0.15, Sharpe: 0.5}
}
