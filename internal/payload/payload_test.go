package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/backtest/internal/tree"
)

func sampleTree() *tree.Node {
	return &tree.Node{
		ID:   "gate",
		Kind: tree.KindIndicator,
		Conditions: []tree.Condition{{
			Left:       tree.IndicatorRef{Name: "RSI", Ticker: "SPY", Params: map[string]float64{"n": 14}},
			Comparator: tree.CmpLT,
			RHSLiteral: floatPtr(30),
		}},
		Then: &tree.Node{ID: "then", Kind: tree.KindPosition, Tickers: []string{"TQQQ"}, Weighting: tree.WeightingEqual},
		Else: &tree.Node{ID: "else", Kind: tree.KindPosition, Tickers: []string{"BIL"}, Weighting: tree.WeightingEqual},
	}
}

func floatPtr(v float64) *float64 { return &v }

func TestFromTree_ToTree_RoundTrips(t *testing.T) {
	original := sampleTree()
	canonical := FromTree(original)
	back := ToTree(canonical)

	assert.Equal(t, original.ID, back.ID)
	assert.Equal(t, original.Kind, back.Kind)
	assert.Equal(t, original.Then.Tickers, back.Then.Tickers)
	assert.Equal(t, original.Else.Tickers, back.Else.Tickers)
	assert.Equal(t, original.Conditions[0].Left.Name, back.Conditions[0].Left.Name)
}

func TestMarshal_IsDeterministic(t *testing.T) {
	canonical := FromTree(sampleTree())
	a, err := Marshal(canonical)
	require.NoError(t, err)
	b, err := Marshal(canonical)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUnmarshal_RejectsGzipPrefix(t *testing.T) {
	_, err := Unmarshal([]byte{0x1f, 0x8b, 0x08, 0x00})
	require.Error(t, err)
}

func TestToTree_AssignsSyntheticIDWhenMissing(t *testing.T) {
	n := &Node{Kind: string(tree.KindPosition), Tickers: []string{"SPY"}, Weighting: string(tree.WeightingEqual)}
	out := ToTree(n)
	assert.NotEmpty(t, out.ID)
}

func TestBacktestHashAndSanityHash_NeverCollide(t *testing.T) {
	canonical := FromTree(sampleTree())
	data, err := Marshal(canonical)
	require.NoError(t, err)

	bt, err := BacktestHash(data, "CC", 10)
	require.NoError(t, err)
	sn, err := SanityHash(data, "CC", 10)
	require.NoError(t, err)

	assert.NotEqual(t, bt, sn)
}

func TestBacktestHash_DiffersByModeAndCost(t *testing.T) {
	canonical := FromTree(sampleTree())
	data, err := Marshal(canonical)
	require.NoError(t, err)

	cc, err := BacktestHash(data, "CC", 10)
	require.NoError(t, err)
	oc, err := BacktestHash(data, "OC", 10)
	require.NoError(t, err)
	assert.NotEqual(t, cc, oc)

	diffCost, err := BacktestHash(data, "CC", 20)
	require.NoError(t, err)
	assert.NotEqual(t, cc, diffCost)
}
