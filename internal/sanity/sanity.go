// Package sanity implements the sanity report (spec §4.5): a moving-block
// bootstrap Monte Carlo study and a K-fold shard analysis over a strategy's
// daily-return series, plus per-benchmark betas by date-aligned
// intersection. Grounded in the teacher's deterministic-seed patterns
// (trader-go's scheduler and backtest snapshotting favor reproducibility)
// and built on gonum.org/v1/gonum/stat for the per-sample statistics, the
// same library the metrics package uses.
package sanity

import (
	"math/rand"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/backtest/internal/engineerr"
	"github.com/aristath/backtest/internal/metrics"
)

const minReturnSeriesLength = 50

// minBetaAlignedDays is the spec §4.5 floor on date-aligned days between a
// strategy and a benchmark before a beta is reported for that benchmark.
const minBetaAlignedDays = 50

// Config controls both studies (spec §4.5 defaults).
type Config struct {
	Seed           int64
	BlockSize      int     // B, default 7
	HorizonYears   int     // Y, default 5 (N = 252*Y)
	Iterations     int     // I, default 200
	Shards         int     // S, default 10
	RiskFreeRate   float64 // passed through to per-sample metrics
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{Seed: 42, BlockSize: 7, HorizonYears: 5, Iterations: 200, Shards: 10, RiskFreeRate: metrics.DefaultRiskFreeRate}
}

func (c Config) withDefaults() Config {
	if c.BlockSize <= 0 {
		c.BlockSize = 7
	}
	if c.HorizonYears <= 0 {
		c.HorizonYears = 5
	}
	if c.Iterations <= 0 {
		c.Iterations = 200
	}
	if c.Shards <= 0 {
		c.Shards = 10
	}
	if c.RiskFreeRate == 0 {
		c.RiskFreeRate = metrics.DefaultRiskFreeRate
	}
	return c
}

// SampleMetrics is the per-sample/per-shard metric set computed during
// both studies (a narrower set than metrics.Set since drawn/shard samples
// have no aligned benchmark).
type SampleMetrics struct {
	CAGR        float64
	MaxDrawdown float64
	Sharpe      float64
	Volatility  float64
}

// Quantiles summarizes a distribution of SampleMetrics' CAGR at the fixed
// probability points spec §4.5 names.
type Quantiles struct {
	P5, P25, P50, P75, P95 float64
}

// MonteCarloResult is the moving-block bootstrap study's output.
type MonteCarloResult struct {
	Samples   []SampleMetrics
	Quantiles Quantiles
}

// ShardResult is one contiguous shard's metrics, tagged with its index.
type ShardResult struct {
	Index   int
	Metrics SampleMetrics
}

// Report is the full sanity report (spec §3 SanityReport).
type Report struct {
	MonteCarlo     MonteCarloResult
	Shards         []ShardResult
	StrategyBetas  map[string]float64
}

// BenchmarkTickers is the fixed benchmark universe strategyBetas is
// computed against (spec §4.5).
var BenchmarkTickers = []string{"SPY", "QQQ", "VTI", "DIA", "DBC", "DBO", "GLD", "BND", "TLT", "GBTC"}

// Run computes the full sanity report from a strategy's dated daily
// returns and a set of benchmark dated daily returns keyed by ticker.
func Run(dates []time.Time, returns []float64, benchmarks map[string]metrics.DatedReturns, cfg Config) (*Report, error) {
	if len(returns) < minReturnSeriesLength {
		return nil, engineerr.New(engineerr.KindDataInsufficient, "daily-return series shorter than 50 days")
	}
	cfg = cfg.withDefaults()

	mc, err := monteCarlo(returns, cfg)
	if err != nil {
		return nil, err
	}

	shards, err := kFoldShards(returns, cfg)
	if err != nil {
		return nil, err
	}

	betas := map[string]float64{}
	for _, ticker := range BenchmarkTickers {
		bench, ok := benchmarks[ticker]
		if !ok {
			continue
		}
		if alignedDayCount(dates, bench.Dates) < minBetaAlignedDays {
			continue // spec §4.5: beta requires at least 50 aligned days, not metrics.Beta's general 2-day floor
		}
		beta, err := metrics.Beta(dates, returns, bench.Dates, bench.Returns)
		if err != nil {
			continue // omit this benchmark rather than fail the whole report
		}
		betas[ticker] = beta
	}

	return &Report{MonteCarlo: *mc, Shards: shards, StrategyBetas: betas}, nil
}

// alignedDayCount counts dates present in both series, mirroring the
// date-intersection metrics.Beta performs internally.
func alignedDayCount(strategyDates, benchDates []time.Time) int {
	benchSet := make(map[time.Time]bool, len(benchDates))
	for _, d := range benchDates {
		benchSet[d] = true
	}
	count := 0
	for _, d := range strategyDates {
		if benchSet[d] {
			count++
		}
	}
	return count
}

// monteCarlo draws I moving-block bootstrap samples of length N = 252*Y
// from returns, using block size B, and computes per-sample metrics.
func monteCarlo(returns []float64, cfg Config) (*MonteCarloResult, error) {
	n := 252 * cfg.HorizonYears
	rng := rand.New(rand.NewSource(cfg.Seed))

	samples := make([]SampleMetrics, cfg.Iterations)
	cagrs := make([]float64, cfg.Iterations)
	for i := 0; i < cfg.Iterations; i++ {
		drawn := drawBlockBootstrap(returns, n, cfg.BlockSize, rng)
		m := sampleMetricsFromReturns(drawn, cfg.RiskFreeRate)
		samples[i] = m
		cagrs[i] = m.CAGR
	}

	return &MonteCarloResult{Samples: samples, Quantiles: quantilesOf(cagrs)}, nil
}

// drawBlockBootstrap draws ceil(n/blockSize) blocks of blockSize
// consecutive returns, uniformly with replacement, concatenates them, and
// truncates to exactly n values (spec §4.5).
func drawBlockBootstrap(returns []float64, n, blockSize int, rng *rand.Rand) []float64 {
	if blockSize > len(returns) {
		blockSize = len(returns)
	}
	numBlocks := (n + blockSize - 1) / blockSize
	out := make([]float64, 0, numBlocks*blockSize)
	maxStart := len(returns) - blockSize
	for b := 0; b < numBlocks; b++ {
		start := 0
		if maxStart > 0 {
			start = rng.Intn(maxStart + 1)
		}
		out = append(out, returns[start:start+blockSize]...)
	}
	return out[:n]
}

func sampleMetricsFromReturns(returns []float64, riskFreeRate float64) SampleMetrics {
	equity := make([]float64, len(returns)+1)
	equity[0] = 1.0
	for i, r := range returns {
		equity[i+1] = equity[i] * (1 + r)
	}
	cagr := metrics.CAGR(equity[0], equity[len(equity)-1], float64(len(returns)))
	vol := metrics.Volatility(returns)
	maxDD := metrics.MaxDrawdown(equity)
	sharpe := metrics.Sharpe(cagr, vol, riskFreeRate)
	return SampleMetrics{CAGR: cagr, MaxDrawdown: maxDD, Sharpe: sharpe, Volatility: vol}
}

func quantilesOf(values []float64) Quantiles {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return Quantiles{
		P5:  quantileAt(sorted, 0.05),
		P25: quantileAt(sorted, 0.25),
		P50: quantileAt(sorted, 0.50),
		P75: quantileAt(sorted, 0.75),
		P95: quantileAt(sorted, 0.95),
	}
}

func quantileAt(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	return stat.Quantile(q, stat.Empirical, sorted, nil)
}

// kFoldShards splits returns into S contiguous, (as close to) equal shards
// and computes the same metric set per shard (spec §4.5).
func kFoldShards(returns []float64, cfg Config) ([]ShardResult, error) {
	shards := cfg.Shards
	if shards > len(returns) {
		shards = len(returns)
	}
	if shards <= 0 {
		return nil, engineerr.New(engineerr.KindDataInsufficient, "no shards to compute")
	}

	base := len(returns) / shards
	remainder := len(returns) % shards

	out := make([]ShardResult, 0, shards)
	start := 0
	for i := 0; i < shards; i++ {
		size := base
		if i < remainder {
			size++
		}
		if size == 0 {
			continue
		}
		slice := returns[start : start+size]
		out = append(out, ShardResult{Index: i, Metrics: sampleMetricsFromReturns(slice, cfg.RiskFreeRate)})
		start += size
	}
	return out, nil
}
