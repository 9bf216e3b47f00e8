// Package metrics derives the aggregate performance statistics (spec §4.4)
// from an evaluator equity curve and daily-return series: CAGR, volatility,
// Sharpe, Sortino, Calmar, Treynor, beta, win rate, turnover, and holdings.
// Grounded in the teacher's pkg/formulas (stats.go, sharpe.go, drawdown.go),
// generalized from live-trading telemetry to pure historical series and
// ported onto gonum.org/v1/gonum/stat in place of hand-rolled mean/stdev.
package metrics

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/backtest/internal/engineerr"
)

const (
	tradingDaysPerYear = 252
	// DefaultRiskFreeRate is the annual risk-free rate used when the caller
	// doesn't override it (spec §4.4: "4%/yr by default").
	DefaultRiskFreeRate = 0.04
)

// Set is the full metrics bundle computed for one equity curve.
type Set struct {
	CAGR           float64
	Volatility     float64
	MaxDrawdown    float64
	Sharpe         float64
	Sortino        float64
	Calmar         float64
	Treynor        float64
	BetaSPY        float64
	WinRate        float64
	AvgTurnover    float64
	AvgHoldings    float64
}

// Options configures the risk-free rate and the benchmark series used for
// beta/Treynor. SPY (or whatever the caller supplies as the benchmark) is
// aligned to the strategy's dated returns by date intersection, not
// position, per spec §4.4.
type Options struct {
	RiskFreeRate float64
	// Benchmark, if non-nil, supplies dated daily returns for beta/Treynor.
	Benchmark DatedReturns
}

// DatedReturns pairs a date with a daily return, the unit both the
// evaluator's allocation dates and benchmark series are expressed in.
type DatedReturns struct {
	Dates   []time.Time
	Returns []float64
}

// Compute derives a full Set from an equity curve (equityCurve[0] == 1.0 at
// the first evaluable day) and its daily returns (length == len(equity)-1),
// with dates aligned 1:1 to equity for benchmark alignment.
func Compute(dates []time.Time, equity []float64, returns []float64, avgTurnover, avgHoldings float64, opts Options) (*Set, error) {
	if len(equity) < 2 {
		return nil, engineerr.New(engineerr.KindDataInsufficient, "equity curve has fewer than 2 points")
	}
	if len(returns) != len(equity)-1 {
		return nil, engineerr.New(engineerr.KindEvaluator, "daily returns length must be equity curve length minus one")
	}

	rf := opts.RiskFreeRate
	if rf == 0 {
		rf = DefaultRiskFreeRate
	}

	n := float64(len(returns))
	cagr := CAGR(equity[0], equity[len(equity)-1], n)
	vol := Volatility(returns)
	maxDD := MaxDrawdown(equity)
	sharpe := Sharpe(cagr, vol, rf)
	sortino := Sortino(returns, rf)
	calmar := Calmar(cagr, maxDD)
	winRate := WinRate(returns)

	set := &Set{
		CAGR:        cagr,
		Volatility:  vol,
		MaxDrawdown: maxDD,
		Sharpe:      sharpe,
		Sortino:     sortino,
		Calmar:      calmar,
		WinRate:     winRate,
		AvgTurnover: avgTurnover,
		AvgHoldings: avgHoldings,
	}

	if opts.Benchmark.Returns != nil {
		beta, err := Beta(dates[1:], returns, opts.Benchmark.Dates, opts.Benchmark.Returns)
		if err != nil {
			return nil, err
		}
		set.BetaSPY = beta
		set.Treynor = Treynor(cagr, rf, beta)
	}

	return set, nil
}

// CAGR is (equity_end/equity_start)^(252/N) - 1.
func CAGR(start, end, n float64) float64 {
	if start <= 0 || n <= 0 {
		return 0
	}
	return math.Pow(end/start, tradingDaysPerYear/n) - 1
}

// Volatility is the annualized sample standard deviation of daily returns.
func Volatility(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil) * math.Sqrt(tradingDaysPerYear)
}

// MaxDrawdown is the largest peak-to-trough decline of the equity curve.
func MaxDrawdown(equity []float64) float64 {
	if len(equity) == 0 {
		return 0
	}
	maxDD := 0.0
	peak := equity[0]
	for _, v := range equity {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			if dd := (peak - v) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}

// Sharpe is (CAGR - r_f) / Volatility.
func Sharpe(cagr, volatility, riskFreeRate float64) float64 {
	if volatility == 0 {
		return 0
	}
	return (cagr - riskFreeRate) / volatility
}

// Sortino is (mean(returns)*252 - r_f) / (stdev(returns|returns<0) * sqrt(252)).
func Sortino(returns []float64, riskFreeRate float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	annualizedMean := stat.Mean(returns, nil) * tradingDaysPerYear

	var downside []float64
	for _, r := range returns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) < 2 {
		return 0
	}
	downsideDev := stat.StdDev(downside, nil) * math.Sqrt(tradingDaysPerYear)
	if downsideDev == 0 {
		return 0
	}
	return (annualizedMean - riskFreeRate) / downsideDev
}

// Calmar is CAGR / MaxDrawdown.
func Calmar(cagr, maxDrawdown float64) float64 {
	if maxDrawdown == 0 {
		return 0
	}
	return cagr / maxDrawdown
}

// Treynor is (CAGR - r_f) / Beta(SPY).
func Treynor(cagr, riskFreeRate, beta float64) float64 {
	if beta == 0 {
		return 0
	}
	return (cagr - riskFreeRate) / beta
}

// WinRate is the fraction of positive daily returns.
func WinRate(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return float64(wins) / float64(len(returns))
}

// Beta computes cov(aligned strategy, aligned benchmark) / var(aligned
// benchmark), aligning the two dated return series by date intersection
// (spec §4.4: "Alignment is by date intersection, not positional").
func Beta(strategyDates []time.Time, strategyReturns []float64, benchDates []time.Time, benchReturns []float64) (float64, error) {
	if len(strategyDates) != len(strategyReturns) || len(benchDates) != len(benchReturns) {
		return 0, engineerr.New(engineerr.KindEvaluator, "dated return series must have matching lengths")
	}

	benchByDate := make(map[time.Time]float64, len(benchDates))
	for i, d := range benchDates {
		benchByDate[d] = benchReturns[i]
	}

	var x, y []float64 // x = strategy, y = benchmark, aligned
	for i, d := range strategyDates {
		if v, ok := benchByDate[d]; ok {
			x = append(x, strategyReturns[i])
			y = append(y, v)
		}
	}
	if len(x) < 2 {
		return 0, engineerr.New(engineerr.KindDataInsufficient, "fewer than 2 aligned days for beta computation")
	}

	varBench := stat.Variance(y, nil)
	if varBench == 0 {
		return 0, engineerr.New(engineerr.KindEvaluator, "benchmark variance is zero, beta undefined")
	}
	return stat.Covariance(x, y, nil) / varBench, nil
}
