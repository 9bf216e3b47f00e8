// Package evaluator implements the backtest evaluator (spec §4.2): it walks
// a compressed strategy tree day by day over historical prices, producing
// an equity curve, daily returns, and per-day allocations.
package evaluator

import (
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/backtest/internal/engineerr"
	"github.com/aristath/backtest/internal/indicators"
	"github.com/aristath/backtest/internal/priceseries"
	"github.com/aristath/backtest/internal/tree"
	"github.com/aristath/backtest/internal/utils"
)

// Mode selects the return-accounting convention.
type Mode string

const (
	ModeCC Mode = "CC" // close-to-close
	ModeOC Mode = "OC" // open-to-open, using the prior day's allocation
)

// minEvaluableDays is the spec §4.2/§7 threshold: fewer than 50 evaluable
// days after warm-up is a data-insufficient error.
const minEvaluableDays = 50

// Config configures one evaluator run.
type Config struct {
	Mode     Mode
	CostBps  float64
	Log      zerolog.Logger
	// MarketCaps optionally supplies per-ticker market capitalizations for
	// `market-cap` weighting. When a ticker is required by a position using
	// market-cap weighting and has no entry here, that position falls back
	// to equal weighting and logs a warning (market-cap data is an external
	// security-master concern out of scope per spec §1).
	MarketCaps map[string]float64
	// Overlays names additional indicator series to record alongside the
	// equity curve purely for charting (spec §4.2 `indicatorOverlays`); a
	// day where the named indicator isn't yet warm is simply omitted from
	// that overlay's series.
	Overlays []OverlayRequest
}

// OverlayRequest names one indicator series the evaluator should record
// day by day into BacktestResult.Overlays[Label].
type OverlayRequest struct {
	Label string
	Ref   tree.IndicatorRef
}

// Allocation maps ticker to portfolio weight; unallocated weight is cash.
type Allocation map[string]float64

// EquityPoint is one day of the equity curve.
type EquityPoint struct {
	Date   time.Time
	Equity float64
}

// OverlayPoint is one point of a named indicator overlay series, kept for
// charting only (spec §4.2 `indicatorOverlays`).
type OverlayPoint struct {
	Date  time.Time
	Value float64
}

// BacktestResult is the output of a full evaluator run (spec §3).
type BacktestResult struct {
	EquityCurve      []EquityPoint
	DailyReturns     []float64
	Allocations      map[time.Time]Allocation
	AllocationDates  []time.Time // preserves day order for Allocations
	AvgTurnover      float64
	AvgHoldings      float64
	CompressionStats tree.Stats
	Overlays         map[string][]OverlayPoint
}

// Summary renders a one-line description in the teacher's post-operation
// logging style.
func (r *BacktestResult) Summary() string {
	if len(r.EquityCurve) == 0 {
		return "backtest produced no evaluable days"
	}
	last := r.EquityCurve[len(r.EquityCurve)-1]
	return fmtSummary(len(r.EquityCurve), last.Equity, r.AvgTurnover, r.AvgHoldings)
}

// PriceProvider is the subset of priceseries.Cache the evaluator depends on.
type PriceProvider interface {
	Get(ticker string) (*priceseries.Series, error)
}

// Run evaluates compressed over the data available from provider and
// returns a BacktestResult.
func Run(compressed *tree.Compressed, provider PriceProvider, cfg Config) (*BacktestResult, error) {
	timer := utils.NewTimer("evaluator.Run", cfg.Log)
	defer timer.Stop()

	required := compressed.TickerLocations[compressed.Tree.ID]
	if len(required) == 0 {
		return nil, engineerr.New(engineerr.KindStructural, "tree has no reachable tickers")
	}

	series := make(map[string]*priceseries.Series, len(required))
	for ticker := range required {
		s, err := provider.Get(ticker)
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindDataMissing, "failed to fetch required ticker", err).WithTicker(ticker)
		}
		series[ticker] = s
	}

	calendar := priceseries.IntersectCalendars(series)
	warmup, err := warmupDays(compressed.Tree)
	if err != nil {
		return nil, err
	}
	if len(calendar) <= warmup {
		return nil, engineerr.New(engineerr.KindDataInsufficient, "no evaluable days remain after warm-up")
	}
	calendar = calendar[warmup:]
	if len(calendar) < minEvaluableDays {
		return nil, engineerr.New(engineerr.KindDataInsufficient, "fewer than 50 evaluable days after warm-up")
	}

	idx := buildDateIndex(series, calendar)

	ec := newEvalContext(series, idx, cfg.MarketCaps, compressed.StaticNodes, cfg.Log)

	result := &BacktestResult{
		Allocations: map[time.Time]Allocation{},
		Overlays:    map[string][]OverlayPoint{},
	}

	var (
		previous      Allocation
		equity        = 1.0
		turnoverSum   float64
		holdingsSum   float64
	)

	for i, date := range calendar {
		ec.date = date
		ec.beginDay()
		alloc, err := evalNode(ec, compressed.Tree, 1.0)
		if err != nil {
			return nil, err
		}
		ec.endDay()
		if err := validateAllocation(alloc, compressed.Tree.ID); err != nil {
			return nil, err
		}

		turnover := turnoverBetween(previous, alloc)
		turnoverSum += turnover
		holdingsSum += float64(len(alloc))

		if i == 0 {
			result.EquityCurve = append(result.EquityCurve, EquityPoint{Date: date, Equity: equity})
		} else {
			prevDate := calendar[i-1]
			cost := turnover * cfg.CostBps * 1e-4

			var ret float64
			switch cfg.Mode {
			case ModeOC:
				ret = weightedReturn(previous, series, prevDate, date, func(b priceseries.Bar) float64 { return b.Open })
			default:
				ret = weightedReturn(alloc, series, prevDate, date, func(b priceseries.Bar) float64 { return b.AdjClose })
			}

			equity = equity * (1 - cost) * (1 + ret)
			if math.IsNaN(equity) || math.IsInf(equity, 0) {
				return nil, engineerr.New(engineerr.KindEvaluator, "equity became non-finite").WithNode(compressed.Tree.ID)
			}

			result.EquityCurve = append(result.EquityCurve, EquityPoint{Date: date, Equity: equity})
			result.DailyReturns = append(result.DailyReturns, equity/result.EquityCurve[i-1].Equity-1)
		}

		result.Allocations[date] = alloc
		result.AllocationDates = append(result.AllocationDates, date)
		previous = alloc

		for _, req := range cfg.Overlays {
			if v, err := resolveRef(ec, req.Ref); err == nil {
				result.Overlays[req.Label] = append(result.Overlays[req.Label], OverlayPoint{Date: date, Value: v})
			}
		}
	}

	n := float64(len(calendar))
	result.AvgTurnover = turnoverSum / n
	result.AvgHoldings = holdingsSum / n
	result.CompressionStats = compressed.Stats

	return result, nil
}

func turnoverBetween(old, new_ Allocation) float64 {
	seen := map[string]bool{}
	var sum float64
	for t, w := range new_ {
		sum += math.Abs(w - old[t])
		seen[t] = true
	}
	for t, w := range old {
		if !seen[t] {
			sum += math.Abs(w)
		}
	}
	return sum / 2
}

// weightedReturn computes Σ alloc[t] * (price(date)/price(prevDate) - 1)
// using the given bar field selector (AdjClose for CC, Open for OC).
func weightedReturn(alloc Allocation, series map[string]*priceseries.Series, prevDate, date time.Time, field func(priceseries.Bar) float64) float64 {
	var ret float64
	for ticker, w := range alloc {
		if w == 0 {
			continue
		}
		s := series[ticker]
		curIdx, ok := s.IndexOf(date)
		if !ok {
			continue
		}
		prevIdx, ok := s.IndexOf(prevDate)
		if !ok {
			continue
		}
		prevPrice := field(s.Bars[prevIdx])
		curPrice := field(s.Bars[curIdx])
		if prevPrice == 0 {
			continue
		}
		ret += w * (curPrice/prevPrice - 1)
	}
	return ret
}

func validateAllocation(alloc Allocation, nodeID string) error {
	var sum float64
	for ticker, w := range alloc {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return engineerr.New(engineerr.KindEvaluator, "non-finite weight").WithNode(nodeID).WithTicker(ticker)
		}
		if w < -1e-9 {
			return engineerr.New(engineerr.KindEvaluator, "negative weight").WithNode(nodeID).WithTicker(ticker)
		}
		sum += w
	}
	if sum > 1+1e-6 {
		return engineerr.New(engineerr.KindEvaluator, "weights sum to more than 1 after normalization tolerance").WithNode(nodeID)
	}
	return nil
}

// buildDateIndex precomputes, for every ticker, a date->bar-index lookup
// limited to the evaluation calendar, avoiding a binary search per node
// evaluation per day.
func buildDateIndex(series map[string]*priceseries.Series, calendar []time.Time) map[string]map[time.Time]int {
	out := make(map[string]map[time.Time]int, len(series))
	for ticker, s := range series {
		m := make(map[time.Time]int, len(calendar))
		for _, d := range calendar {
			if i, ok := s.IndexOf(d); ok {
				m[d] = i
			}
		}
		out[ticker] = m
	}
	return out
}

func warmupDays(root *tree.Node) (int, error) {
	refs := collectIndicatorRefs(root)
	warmup := 1
	for _, ref := range refs {
		n, err := lookbackFor(ref)
		if err != nil {
			return 0, err
		}
		if n > warmup {
			warmup = n
		}
	}
	return warmup, nil
}

func collectIndicatorRefs(n *tree.Node) []tree.IndicatorRef {
	if n == nil {
		return nil
	}
	var out []tree.IndicatorRef
	if n.Kind == tree.KindIndicator {
		for _, c := range n.Conditions {
			out = append(out, c.Left)
			if c.RHSIndicator != nil {
				out = append(out, *c.RHSIndicator)
			}
		}
	}
	if n.Kind == tree.KindPosition && n.Weighting == tree.WeightingInverseVol {
		out = append(out, tree.IndicatorRef{Name: string(indicators.INV_VOL), Params: map[string]float64{"n": defaultInverseVolWindow}})
	}
	for _, c := range n.Children() {
		out = append(out, collectIndicatorRefs(c)...)
	}
	return out
}

func fmtSummary(days int, equity, avgTurnover, avgHoldings float64) string {
	return fmt.Sprintf("backtest over %d days: final equity %.4f, avg turnover %.4f, avg holdings %.2f", days, equity, avgTurnover, avgHoldings)
}
