package evaluator

import (
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/backtest/internal/engineerr"
	"github.com/aristath/backtest/internal/indicators"
	"github.com/aristath/backtest/internal/priceseries"
	"github.com/aristath/backtest/internal/tree"
)

// defaultInverseVolWindow is the lookback used for market-cap-free
// inverse-volatility position weighting when a position node doesn't carry
// an explicit window (the tree model has no per-position indicator params;
// spec §3 leaves the exact window unspecified for this weighting mode).
const defaultInverseVolWindow = 20.0

// evalContext carries the per-run, per-day state node evaluation needs:
// resolved price series, the date->index lookup, and the branch-history
// double buffer that lets a condition reference "branch:<nodeID>"'s value
// from the previous evaluated day (spec §3: conditions may reference a
// branch's accumulated historical value; same-day values aren't causally
// available across arbitrary tree order, so branch references resolve
// against the prior day).
type evalContext struct {
	series      map[string]*priceseries.Series
	idxByDate   map[string]map[time.Time]int
	marketCaps  map[string]float64
	staticNodes map[string]bool
	log         zerolog.Logger

	date time.Time

	branchRead  map[string]float64
	branchWrite map[string]float64

	funcState map[string]Allocation
}

func newEvalContext(series map[string]*priceseries.Series, idxByDate map[string]map[time.Time]int, marketCaps map[string]float64, staticNodes map[string]bool, log zerolog.Logger) *evalContext {
	return &evalContext{
		series:      series,
		idxByDate:   idxByDate,
		marketCaps:  marketCaps,
		staticNodes: staticNodes,
		log:         log,
		branchRead:  map[string]float64{},
		funcState:   map[string]Allocation{},
	}
}

func (ec *evalContext) beginDay() {
	ec.branchWrite = map[string]float64{}
}

func (ec *evalContext) endDay() {
	ec.branchRead = ec.branchWrite
}

func (ec *evalContext) idxFor(ticker string) (int, bool) {
	byDate, ok := ec.idxByDate[ticker]
	if !ok {
		return 0, false
	}
	i, ok := byDate[ec.date]
	return i, ok
}

// evalNode recursively evaluates n, scaling its own output by weight, and
// returns the resulting per-ticker allocation (spec §4.2 step 4a).
func evalNode(ec *evalContext, n *tree.Node, weight float64) (Allocation, error) {
	if weight <= 0 {
		return Allocation{}, nil
	}
	switch n.Kind {
	case tree.KindPosition:
		return evalPosition(ec, n, weight)
	case tree.KindBasic:
		return evalBasic(ec, n, weight)
	case tree.KindIndicator:
		return evalIndicatorGate(ec, n, weight)
	case tree.KindFunction:
		return evalFunction(ec, n, weight)
	default:
		return nil, engineerr.New(engineerr.KindStructural, "unknown node kind").WithNode(n.ID)
	}
}

func evalPosition(ec *evalContext, n *tree.Node, weight float64) (Allocation, error) {
	tickers := make([]string, 0, len(n.Tickers))
	for _, t := range n.Tickers {
		if t != "" && t != tree.EmptyTicker {
			tickers = append(tickers, t)
		}
	}
	out := Allocation{}
	if len(tickers) == 0 {
		return out, nil
	}

	switch n.Weighting {
	case tree.WeightingUserSpecified:
		var sum float64
		for _, t := range tickers {
			sum += n.UserWeights[t]
		}
		if sum <= 0 {
			return nil, engineerr.New(engineerr.KindEvaluator, "user-specified weights sum to zero").WithNode(n.ID)
		}
		for _, t := range tickers {
			out[t] = weight * n.UserWeights[t] / sum
		}
		return out, nil

	case tree.WeightingMarketCap:
		var sum float64
		caps := make(map[string]float64, len(tickers))
		missing := false
		for _, t := range tickers {
			c, ok := ec.marketCaps[t]
			if !ok || c <= 0 {
				missing = true
				break
			}
			caps[t] = c
			sum += c
		}
		if missing || sum <= 0 {
			ec.log.Warn().Str("node", n.ID).Msg("market-cap weighting requested but caps unavailable, falling back to equal weight")
			return equalWeight(tickers, weight), nil
		}
		for _, t := range tickers {
			out[t] = weight * caps[t] / sum
		}
		return out, nil

	case tree.WeightingInverseVol:
		invVols := make(map[string]float64, len(tickers))
		var sum float64
		for _, t := range tickers {
			s, ok := ec.series[t]
			if !ok {
				return nil, engineerr.New(engineerr.KindDataMissing, "ticker not in resolved price set").WithTicker(t).WithNode(n.ID)
			}
			idx, ok := ec.idxFor(t)
			if !ok {
				return nil, engineerr.New(engineerr.KindDataMissing, "no bar for evaluation date").WithTicker(t).WithNode(n.ID)
			}
			v, err := indicators.Eval(string(indicators.INV_VOL), map[string]float64{"n": defaultInverseVolWindow}, s, idx)
			if err != nil {
				return nil, err
			}
			invVols[t] = v
			sum += v
		}
		if sum <= 0 {
			return equalWeight(tickers, weight), nil
		}
		for _, t := range tickers {
			out[t] = weight * invVols[t] / sum
		}
		return out, nil

	default: // equal, or unrecognized falls back to equal
		return equalWeight(tickers, weight), nil
	}
}

func equalWeight(tickers []string, weight float64) Allocation {
	out := make(Allocation, len(tickers))
	each := weight / float64(len(tickers))
	for _, t := range tickers {
		out[t] += each
	}
	return out
}

// evalBasic splits weight equally across n's children. The node's own
// Weighting and UserWeights are not applied here; non-equal weightings take
// effect only on position nodes.
func evalBasic(ec *evalContext, n *tree.Node, weight float64) (Allocation, error) {
	children := n.Children()
	if len(children) == 0 {
		return Allocation{}, nil
	}
	out := Allocation{}
	each := weight / float64(len(children))
	for _, child := range children {
		sub, err := evalNode(ec, child, each)
		if err != nil {
			return nil, err
		}
		mergeInto(out, sub)
	}
	return out, nil
}

func mergeInto(dst, src Allocation) {
	for t, w := range src {
		dst[t] += w
	}
}

func evalIndicatorGate(ec *evalContext, n *tree.Node, weight float64) (Allocation, error) {
	taken, err := evalConditions(ec, n)
	if err != nil {
		return nil, err
	}
	var branchValue float64
	if taken {
		branchValue = 1
	}
	ec.branchWrite[n.ID] = branchValue

	if taken {
		if n.Then == nil {
			return Allocation{}, nil
		}
		return evalNode(ec, n.Then, weight)
	}
	if n.Else == nil {
		return Allocation{}, nil
	}
	return evalNode(ec, n.Else, weight)
}

// evalConditions ANDs all conditions in n.Conditions, treating members that
// share a non-zero ORGroup as an OR-group unioned before the AND.
func evalConditions(ec *evalContext, n *tree.Node) (bool, error) {
	groups := map[int][]bool{}
	order := []int{}
	for _, cond := range n.Conditions {
		result, err := evalOneCondition(ec, cond)
		if err != nil {
			return false, err
		}
		if _, seen := groups[cond.ORGroup]; !seen {
			order = append(order, cond.ORGroup)
		}
		groups[cond.ORGroup] = append(groups[cond.ORGroup], result)
	}

	for _, g := range order {
		results := groups[g]
		if g == 0 {
			for _, r := range results {
				if !r {
					return false, nil
				}
			}
			continue
		}
		anyTrue := false
		for _, r := range results {
			if r {
				anyTrue = true
				break
			}
		}
		if !anyTrue {
			return false, nil
		}
	}
	return true, nil
}

func evalOneCondition(ec *evalContext, cond tree.Condition) (bool, error) {
	lhs, err := resolveRef(ec, cond.Left)
	if err != nil {
		return false, err
	}

	var rhs float64
	if cond.RHSIndicator != nil {
		rhs, err = resolveRef(ec, *cond.RHSIndicator)
		if err != nil {
			return false, err
		}
	} else if cond.RHSLiteral != nil {
		rhs = *cond.RHSLiteral
	} else {
		return false, engineerr.New(engineerr.KindStructural, "condition has neither RHSLiteral nor RHSIndicator")
	}

	switch cond.Comparator {
	case tree.CmpLT:
		return lhs < rhs, nil
	case tree.CmpLE:
		return lhs <= rhs, nil
	case tree.CmpGT:
		return lhs > rhs, nil
	case tree.CmpGE:
		return lhs >= rhs, nil
	case tree.CmpEQ:
		return lhs == rhs, nil
	default:
		return false, engineerr.New(engineerr.KindConfig, "unknown comparator")
	}
}

func resolveRef(ec *evalContext, ref tree.IndicatorRef) (float64, error) {
	if ref.Branch != "" {
		slot := strings.TrimPrefix(ref.Branch, "branch:")
		return ec.branchRead[slot], nil
	}

	s, ok := ec.series[ref.Ticker]
	if !ok {
		return 0, engineerr.New(engineerr.KindDataMissing, "indicator references unresolved ticker").WithTicker(ref.Ticker)
	}
	idx, ok := ec.idxFor(ref.Ticker)
	if !ok {
		return 0, engineerr.New(engineerr.KindDataMissing, "no bar for evaluation date").WithTicker(ref.Ticker)
	}
	return indicators.Eval(ref.Name, ref.Params, s, idx)
}

func lookbackFor(ref tree.IndicatorRef) (int, error) {
	if ref.Branch != "" {
		return 1, nil
	}
	return indicators.Lookback(ref.Name, ref.Params)
}

func evalFunction(ec *evalContext, n *tree.Node, weight float64) (Allocation, error) {
	if n.Child == nil {
		return Allocation{}, nil
	}
	in, err := evalNode(ec, n.Child, weight)
	if err != nil {
		return nil, err
	}

	switch n.FuncName {
	case "filter-below":
		threshold := n.FuncParams["threshold"]
		return renormalize(filterBelow(in, threshold*weight), weight), nil

	case "top-k":
		k := int(n.FuncParams["k"])
		if k <= 0 {
			return in, nil
		}
		return renormalize(topK(in, k), weight), nil

	case "rebalance-trigger":
		bandwidth := n.FuncParams["bandwidth"]
		prev, hasPrev := ec.funcState[n.ID]
		if !hasPrev || driftExceeds(prev, in, bandwidth) {
			ec.funcState[n.ID] = in
			return in, nil
		}
		return prev, nil

	default:
		return nil, engineerr.New(engineerr.KindConfig, "unknown function name").WithNode(n.ID)
	}
}

func filterBelow(alloc Allocation, thresholdAbs float64) Allocation {
	out := Allocation{}
	for t, w := range alloc {
		if w >= thresholdAbs {
			out[t] = w
		}
	}
	return out
}

func topK(alloc Allocation, k int) Allocation {
	type pair struct {
		ticker string
		weight float64
	}
	pairs := make([]pair, 0, len(alloc))
	for t, w := range alloc {
		pairs = append(pairs, pair{t, w})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].weight != pairs[j].weight {
			return pairs[i].weight > pairs[j].weight
		}
		return pairs[i].ticker < pairs[j].ticker
	})
	if k > len(pairs) {
		k = len(pairs)
	}
	out := Allocation{}
	for _, p := range pairs[:k] {
		out[p.ticker] = p.weight
	}
	return out
}

func renormalize(alloc Allocation, targetSum float64) Allocation {
	var sum float64
	for _, w := range alloc {
		sum += w
	}
	if sum <= 0 {
		return alloc
	}
	out := make(Allocation, len(alloc))
	for t, w := range alloc {
		out[t] = w * targetSum / sum
	}
	return out
}

func driftExceeds(prev, next Allocation, bandwidth float64) bool {
	seen := map[string]bool{}
	for t, w := range next {
		d := w - prev[t]
		if d < 0 {
			d = -d
		}
		if d > bandwidth {
			return true
		}
		seen[t] = true
	}
	for t, w := range prev {
		if seen[t] {
			continue
		}
		if w > bandwidth {
			return true
		}
	}
	return false
}
