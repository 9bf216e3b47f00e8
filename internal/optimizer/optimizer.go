// Package optimizer implements the portfolio optimizer (spec §4.6): given a
// set of strategies' daily-return series, it builds a covariance/
// correlation matrix and solves a constrained allocation under one of
// {min-variance, max-Sharpe, min-|beta|, min-avg-correlation}.
//
// Grounded in the teacher's mean-variance optimizer
// (internal/modules/optimization/mv_optimizer.go): gonum.org/v1/gonum/mat
// for the covariance matrix, gonum.org/v1/gonum/optimize's Nelder-Mead
// method for the derivative-free correlation objective (run over weights
// passed through the simplex projection, with no penalty term), and the
// teacher's own bounds-projection helper generalized into the spec's simplex
// projection (clamp to [0, maxWeight], renormalize, spread excess mass
// equally among positions under the cap, or equally among the capped
// positions when none is under it).
package optimizer

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/backtest/internal/engineerr"
	"github.com/aristath/backtest/internal/metrics"
)

const (
	minAlignedDays  = 50
	minStrategies   = 2
	learningRate    = 0.01
	iterations      = 1000
	gradientEpsilon = 1e-6
)

// Metric selects the optimization objective.
type Metric string

const (
	MetricCorrelation Metric = "correlation"
	MetricVolatility  Metric = "volatility"
	MetricSharpe      Metric = "sharpe"
	MetricBeta        Metric = "beta"
)

// Config configures one optimizer run.
type Config struct {
	Metric       Metric
	MaxWeight    float64
	RiskFreeRate float64
	// StrategyBetas supplies each strategy's beta (e.g. vs SPY), required
	// for Metric == MetricBeta; optional otherwise.
	StrategyBetas map[string]float64
}

// Result is the optimizer's output (spec §4.6 step 4).
type Result struct {
	Weights map[string]float64
	Metrics metrics.Set
	// PortfolioCVaR95 is the historical CVaR at the 95% confidence level
	// (the mean return of the worst 5% of days), reported informationally
	// alongside the chosen objective -- the spec's optimizer has no CVaR
	// non-goal, so this only adds information. Grounded in the teacher's
	// validateCVaR check (optimization/mv_optimizer.go), simplified from its
	// Monte-Carlo covariance simulation to a direct empirical tail average
	// over the already-computed combined return series.
	PortfolioCVaR95 float64
}

// Run aligns returns by truncation to the shortest tail (anchored at the
// most recent common end), builds covariance/correlation, and solves the
// chosen objective via projected gradient descent (or, for the
// correlation-minimizing metric, a derivative-free Nelder-Mead pass).
func Run(returns map[string][]float64, cfg Config) (*Result, error) {
	if cfg.MaxWeight <= 0 {
		cfg.MaxWeight = 1.0
	}
	if cfg.RiskFreeRate == 0 {
		cfg.RiskFreeRate = metrics.DefaultRiskFreeRate
	}

	names, aligned, err := alignTails(returns)
	if err != nil {
		return nil, err
	}
	n := len(names)

	covMatrix := covariance(aligned)
	corrMatrix := correlation(aligned)
	meanReturns := make([]float64, n)
	for i, r := range aligned {
		meanReturns[i] = stat.Mean(r, nil)
	}

	var betas []float64
	if cfg.Metric == MetricBeta {
		betas = make([]float64, n)
		for i, name := range names {
			b, ok := cfg.StrategyBetas[name]
			if !ok {
				return nil, engineerr.New(engineerr.KindConfig, fmt.Sprintf("missing beta for strategy %q, required for min-|beta| objective", name))
			}
			betas[i] = b
		}
	}

	var weights []float64
	switch cfg.Metric {
	case MetricCorrelation:
		weights = minimizeCorrelationNelderMead(corrMatrix, n, cfg.MaxWeight)
	case MetricSharpe:
		weights = projectedGradientDescent(n, cfg.MaxWeight, func(w []float64) float64 {
			return -sharpeObjective(w, meanReturns, covMatrix, cfg.RiskFreeRate)
		})
	case MetricBeta:
		weights = projectedGradientDescent(n, cfg.MaxWeight, func(w []float64) float64 {
			return math.Abs(dot(w, betas))
		})
	default: // volatility / min-variance
		weights = projectedGradientDescent(n, cfg.MaxWeight, func(w []float64) float64 {
			return quadForm(w, covMatrix)
		})
	}

	out := make(map[string]float64, n)
	for i, name := range names {
		out[name] = weights[i]
	}

	portfolioReturns := combine(aligned, weights)
	equity := make([]float64, len(portfolioReturns)+1)
	equity[0] = 1.0
	for i, r := range portfolioReturns {
		equity[i+1] = equity[i] * (1 + r)
	}
	cagr := metrics.CAGR(equity[0], equity[len(equity)-1], float64(len(portfolioReturns)))
	vol := metrics.Volatility(portfolioReturns)
	maxDD := metrics.MaxDrawdown(equity)
	sharpe := metrics.Sharpe(cagr, vol, cfg.RiskFreeRate)

	var betaSPY float64
	if spyBeta, ok := cfg.StrategyBetas["SPY"]; ok {
		betaSPY = spyBeta
	} else {
		for i, name := range names {
			if name == "SPY" {
				betaSPY = weights[i]
			}
		}
	}

	return &Result{
		Weights: out,
		Metrics: metrics.Set{
			CAGR:        cagr,
			Volatility:  vol,
			MaxDrawdown: maxDD,
			Sharpe:      sharpe,
			BetaSPY:     betaSPY,
		},
		PortfolioCVaR95: historicalCVaR(portfolioReturns, 0.95),
	}, nil
}

// historicalCVaR returns the mean return of the worst (1-confidence)
// fraction of days in returns -- the empirical tail-average CVaR.
func historicalCVaR(returns []float64, confidence float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	sorted := append([]float64(nil), returns...)
	sort.Float64s(sorted)

	tailSize := int(math.Ceil(float64(len(sorted)) * (1 - confidence)))
	if tailSize < 1 {
		tailSize = 1
	}
	if tailSize > len(sorted) {
		tailSize = len(sorted)
	}

	var sum float64
	for _, r := range sorted[:tailSize] {
		sum += r
	}
	return sum / float64(tailSize)
}

// alignTails truncates every strategy's return series to the shortest
// length among them, keeping each series' most recent common-end tail
// (spec §4.6 step 1), and requires at least 2 strategies with >=50 aligned
// days.
func alignTails(returns map[string][]float64) ([]string, [][]float64, error) {
	names := make([]string, 0, len(returns))
	for name, r := range returns {
		if len(r) >= minAlignedDays {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	if len(names) < minStrategies {
		return nil, nil, engineerr.New(engineerr.KindDataInsufficient, "fewer than 2 strategies with at least 50 aligned days")
	}

	minLen := len(returns[names[0]])
	for _, name := range names {
		if l := len(returns[name]); l < minLen {
			minLen = l
		}
	}

	aligned := make([][]float64, len(names))
	for i, name := range names {
		r := returns[name]
		aligned[i] = append([]float64(nil), r[len(r)-minLen:]...)
	}
	return names, aligned, nil
}

func covariance(aligned [][]float64) *mat.SymDense {
	n := len(aligned)
	m := len(aligned[0])
	data := mat.NewDense(m, n, nil)
	for i, r := range aligned {
		for j, v := range r {
			data.Set(j, i, v)
		}
	}
	var cov mat.SymDense
	stat.CovarianceMatrix(&cov, data, nil)
	return &cov
}

func correlation(aligned [][]float64) *mat.SymDense {
	n := len(aligned)
	m := len(aligned[0])
	data := mat.NewDense(m, n, nil)
	for i, r := range aligned {
		for j, v := range r {
			data.Set(j, i, v)
		}
	}
	var corr mat.SymDense
	stat.CorrelationMatrix(&corr, data, nil)
	return &corr
}

func quadForm(w []float64, cov *mat.SymDense) float64 {
	n := len(w)
	var sum float64
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			sum += w[i] * w[j] * cov.At(i, j)
		}
	}
	return sum
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func sharpeObjective(w, meanReturns []float64, cov *mat.SymDense, riskFreeRate float64) float64 {
	annualizedReturn := dot(w, meanReturns) * 252
	variance := quadForm(w, cov)
	if variance <= 0 {
		return 0
	}
	volatility := math.Sqrt(variance * 252)
	return (annualizedReturn - riskFreeRate) / volatility
}

// projectedGradientDescent runs spec §4.6 step 3: gradient descent with a
// numerical central-difference gradient, learning rate 0.01, for 1000
// iterations, projecting onto the simplex after every step.
func projectedGradientDescent(n int, maxWeight float64, objective func([]float64) float64) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1.0 / float64(n)
	}
	w = projectSimplex(w, maxWeight)

	grad := make([]float64, n)
	for iter := 0; iter < iterations; iter++ {
		numericalGradient(objective, w, grad)
		for i := range w {
			w[i] -= learningRate * grad[i]
		}
		w = projectSimplex(w, maxWeight)
	}
	return w
}

func numericalGradient(f func([]float64) float64, w, grad []float64) {
	for i := range w {
		orig := w[i]
		w[i] = orig + gradientEpsilon
		up := f(w)
		w[i] = orig - gradientEpsilon
		down := f(w)
		w[i] = orig
		grad[i] = (up - down) / (2 * gradientEpsilon)
	}
}

// projectSimplex clamps each weight to [0, maxWeight] and renormalizes to
// sum to 1. If the cap is tight (every weight already at the cap or
// clamping leaves no headroom), remaining mass is distributed equally
// among the capped positions (spec §4.6 step 3).
func projectSimplex(w []float64, maxWeight float64) []float64 {
	n := len(w)
	out := make([]float64, n)
	for i, v := range w {
		out[i] = math.Max(0, math.Min(maxWeight, v))
	}

	var sum float64
	for _, v := range out {
		sum += v
	}

	if sum <= 0 {
		// degenerate: distribute equally, respecting the cap.
		each := math.Min(maxWeight, 1.0/float64(n))
		for i := range out {
			out[i] = each
		}
		return redistributeToSumOne(out, maxWeight)
	}

	scale := 1.0 / sum
	for i := range out {
		out[i] *= scale
	}
	return redistributeToSumOne(out, maxWeight)
}

// redistributeToSumOne fixes up rounding/cap interactions from a plain
// rescale: if rescaling pushed any weight back over maxWeight, clamp it and
// spread the excess equally among the positions still under the cap. When
// no position is under the cap, the excess is spread equally among all
// (capped) positions so the weights still sum to 1.
func redistributeToSumOne(w []float64, maxWeight float64) []float64 {
	for pass := 0; pass < len(w)+1; pass++ {
		var excess float64
		uncapped := 0
		for i, v := range w {
			if v > maxWeight {
				excess += v - maxWeight
				w[i] = maxWeight
			} else if v < maxWeight {
				uncapped++
			}
		}
		if excess <= 1e-12 {
			break
		}
		if uncapped == 0 {
			share := excess / float64(len(w))
			for i := range w {
				w[i] += share
			}
			break
		}
		share := excess / float64(uncapped)
		for i, v := range w {
			if v < maxWeight {
				w[i] = math.Min(maxWeight, v+share)
			}
		}
	}
	return w
}

// minimizeCorrelationNelderMead minimizes mean pairwise absolute
// correlation, weighted by w_i*w_j, using a derivative-free Nelder-Mead
// pass (the teacher's optimization package falls back to a gonum/optimize
// method rather than deriving a closed-form gradient for every objective).
func minimizeCorrelationNelderMead(corr *mat.SymDense, n int, maxWeight float64) []float64 {
	problem := optimize.Problem{
		Func: func(x []float64) float64 {
			w := projectSimplex(append([]float64(nil), x...), maxWeight)
			var weightedSum, totalWeight float64
			for i := 0; i < n; i++ {
				for j := 0; j < n; j++ {
					if i == j {
						continue
					}
					weightedSum += w[i] * w[j] * math.Abs(corr.At(i, j))
					totalWeight += w[i] * w[j]
				}
			}
			if totalWeight <= 0 {
				return 0
			}
			return weightedSum / totalWeight
		},
	}

	initial := make([]float64, n)
	for i := range initial {
		initial[i] = 1.0 / float64(n)
	}

	result, err := optimize.Minimize(problem, initial, &optimize.Settings{}, &optimize.NelderMead{})
	if err != nil || result == nil {
		return projectSimplex(initial, maxWeight)
	}
	return projectSimplex(result.X, maxWeight)
}

func combine(aligned [][]float64, weights []float64) []float64 {
	m := len(aligned[0])
	out := make([]float64, m)
	for i, r := range aligned {
		for t, v := range r {
			out[t] += weights[i] * v
		}
	}
	return out
}
