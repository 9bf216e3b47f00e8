package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rsiCondition(ticker string, threshold float64) Condition {
	rhs := threshold
	return Condition{
		Left:       IndicatorRef{Name: "RSI", Ticker: ticker, Params: map[string]float64{"n": 14}},
		Comparator: CmpLT,
		RHSLiteral: &rhs,
	}
}

func position(id string, tickers ...string) *Node {
	return &Node{ID: id, Kind: KindPosition, Tickers: tickers, Weighting: WeightingEqual}
}

// TestCompress_PrunesEmptyBranches covers spec scenario 3: a basic node with
// two Empty positions and one real position collapses to that position alone.
func TestCompress_PrunesEmptyBranches(t *testing.T) {
	tree := &Node{
		ID:        "root",
		Kind:      KindBasic,
		Weighting: WeightingEqual,
		Next: []*Node{
			position("p1", EmptyTicker),
			position("p2", "AAPL"),
			position("p3", EmptyTicker),
		},
	}

	out, err := Compress(tree)
	require.NoError(t, err)

	require.Equal(t, KindPosition, out.Tree.Kind)
	assert.Equal(t, []string{"AAPL"}, out.Tree.Tickers)
	assert.Equal(t, 4, out.Stats.OriginalNodes)
	assert.Equal(t, 1, out.Stats.CompressedNodes)
}

// TestCompress_MergesGateChains covers spec scenario 2: a nested gate chain
// with structurally equivalent `then` branches merges into one gate with an
// OR-grouped condition set.
func TestCompress_MergesGateChains(t *testing.T) {
	innerGate := &Node{
		ID:         "inner",
		Kind:       KindIndicator,
		Conditions: []Condition{rsiCondition("QQQ", 30)},
		Then:       position("inner-then", "TQQQ"),
		Else:       position("inner-else", "BIL"),
	}
	outerGate := &Node{
		ID:         "outer",
		Kind:       KindIndicator,
		Conditions: []Condition{rsiCondition("SPY", 30)},
		Then:       position("outer-then", "TQQQ"),
		Else:       innerGate,
	}

	out, err := Compress(outerGate)
	require.NoError(t, err)

	require.Equal(t, KindIndicator, out.Tree.Kind)
	require.Len(t, out.Tree.Conditions, 2)
	assert.NotEqual(t, 0, out.Tree.Conditions[0].ORGroup)
	assert.Equal(t, out.Tree.Conditions[0].ORGroup, out.Tree.Conditions[1].ORGroup,
		"merged conditions must share one OR-group so the outer and nested gates OR together")
	require.NotNil(t, out.Tree.Else)
	assert.Equal(t, KindPosition, out.Tree.Else.Kind)
	assert.Equal(t, []string{"BIL"}, out.Tree.Else.Tickers)
	assert.Equal(t, 1, out.Stats.GateChainsMerged)
}

// TestCompress_CollapsesSingleEqualChild covers the single-child collapse
// rule independent of empty-branch pruning.
func TestCompress_CollapsesSingleEqualChild(t *testing.T) {
	tree := &Node{
		ID:        "root",
		Kind:      KindBasic,
		Weighting: WeightingEqual,
		Next:      []*Node{position("only", "SPY")},
	}

	out, err := Compress(tree)
	require.NoError(t, err)

	assert.Equal(t, KindPosition, out.Tree.Kind)
	assert.Equal(t, "only", out.Tree.ID)
}

// TestCompress_DoesNotCollapseWeightedSingleChild ensures the collapse rule
// only fires for equal weighting: a single-child basic node whose weighting
// is user-specified or inverse-vol is kept as it is.
func TestCompress_DoesNotCollapseWeightedSingleChild(t *testing.T) {
	tree := &Node{
		ID:        "root",
		Kind:      KindBasic,
		Weighting: WeightingUserSpecified,
		Next:      []*Node{position("only", "SPY")},
	}

	out, err := Compress(tree)
	require.NoError(t, err)

	assert.Equal(t, KindBasic, out.Tree.Kind)
	assert.Equal(t, "root", out.Tree.ID)
}

// TestCompress_Idempotent asserts compress(compress(T)) == compress(T).
func TestCompress_Idempotent(t *testing.T) {
	innerGate := &Node{
		ID:         "inner",
		Kind:       KindIndicator,
		Conditions: []Condition{rsiCondition("QQQ", 30)},
		Then:       position("inner-then", "TQQQ"),
		Else:       position("inner-else", "BIL"),
	}
	tree := &Node{
		ID:        "root",
		Kind:      KindBasic,
		Weighting: WeightingEqual,
		Next: []*Node{
			position("p-empty", EmptyTicker),
			{
				ID:         "outer",
				Kind:       KindIndicator,
				Conditions: []Condition{rsiCondition("SPY", 30)},
				Then:       position("outer-then", "TQQQ"),
				Else:       innerGate,
			},
		},
	}

	first, err := Compress(tree)
	require.NoError(t, err)

	second, err := Compress(first.Tree)
	require.NoError(t, err)

	assert.True(t, StructuralEqual(first.Tree, second.Tree))
	assert.Equal(t, first.Stats.CompressedNodes, second.Stats.CompressedNodes)
	assert.Equal(t, 0, second.Stats.GateChainsMerged, "re-compressing an already-merged tree must find nothing further to merge")
}

func TestCompress_TickerLocationsAndStaticNodes(t *testing.T) {
	tree := &Node{
		ID:        "root",
		Kind:      KindBasic,
		Weighting: WeightingEqual,
		Next: []*Node{
			position("p1", "AAPL", "MSFT"),
			{
				ID:         "gate",
				Kind:       KindIndicator,
				Conditions: []Condition{rsiCondition("SPY", 30)},
				Then:       position("gate-then", "TQQQ"),
				Else:       position("gate-else", "BIL"),
			},
		},
	}

	out, err := Compress(tree)
	require.NoError(t, err)

	rootLocations := out.TickerLocations[out.Tree.ID]
	assert.True(t, rootLocations["AAPL"])
	assert.True(t, rootLocations["MSFT"])
	assert.True(t, rootLocations["TQQQ"])
	assert.True(t, rootLocations["BIL"])
	assert.True(t, rootLocations["SPY"], "gate condition tickers are part of the node's ticker location set")

	assert.False(t, out.StaticNodes[out.Tree.ID], "root is not static because one branch routes through a gate")
}

func TestCompress_RejectsCycle(t *testing.T) {
	a := &Node{ID: "a", Kind: KindBasic, Weighting: WeightingEqual}
	b := &Node{ID: "b", Kind: KindBasic, Weighting: WeightingEqual}
	a.Next = []*Node{b}
	b.Next = []*Node{a}

	_, err := Compress(a)
	require.Error(t, err)
}

func TestCompress_RejectsAllEmptyTree(t *testing.T) {
	tree := position("root", EmptyTicker)

	_, err := Compress(tree)
	require.Error(t, err)
}
