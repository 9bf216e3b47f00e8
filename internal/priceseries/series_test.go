package priceseries

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(offset int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func TestSeries_IndexOf(t *testing.T) {
	s := &Series{Ticker: "SPY", Bars: []Bar{
		{Date: day(0), AdjClose: 1},
		{Date: day(1), AdjClose: 2},
		{Date: day(2), AdjClose: 3},
	}}

	idx, ok := s.IndexOf(day(1))
	require.True(t, ok)
	assert.Equal(t, 1, idx)

	_, ok = s.IndexOf(day(5))
	assert.False(t, ok)
}

func TestSeries_Window(t *testing.T) {
	s := &Series{Ticker: "SPY", Bars: []Bar{
		{Date: day(0), AdjClose: 1},
		{Date: day(1), AdjClose: 2},
		{Date: day(2), AdjClose: 3},
	}}

	window, ok := s.Window(2, 2)
	require.True(t, ok)
	assert.Equal(t, []float64{2, 3}, window)

	_, ok = s.Window(1, 5)
	assert.False(t, ok, "fewer than n bars available must report not-warm")
}

func TestIntersectCalendars(t *testing.T) {
	a := &Series{Ticker: "A", Bars: []Bar{{Date: day(0)}, {Date: day(1)}, {Date: day(2)}}}
	b := &Series{Ticker: "B", Bars: []Bar{{Date: day(1)}, {Date: day(2)}, {Date: day(3)}}}

	common := IntersectCalendars(map[string]*Series{"A": a, "B": b})
	require.Len(t, common, 2)
	assert.True(t, common[0].Equal(day(1)))
	assert.True(t, common[1].Equal(day(2)))
}
