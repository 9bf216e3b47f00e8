// Package priceseries models a ticker's historical OHLCV series and the
// read-only access patterns the indicator registry and backtest evaluator
// need over it (spec §2, §6, §9 design note on the price store).
package priceseries

import (
	"sort"
	"time"
)

// Bar is one trading day's OHLCV record for a ticker. AdjClose is used for
// return calculations; the unadjusted OHLC fields are carried for display
// only, the same split the teacher's universe.DailyPrice keeps between
// close/high/low/open and a separately tracked adjusted series.
type Bar struct {
	Date     time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	AdjClose float64
}

// Series is an ordered, strictly-increasing-by-date sequence of Bars for one
// ticker.
type Series struct {
	Ticker string
	Bars   []Bar
}

// IndexOf returns the position of date within the series, and whether it was
// found. Bars are assumed sorted ascending by Date, so this binary searches.
func (s *Series) IndexOf(date time.Time) (int, bool) {
	i := sort.Search(len(s.Bars), func(i int) bool {
		return !s.Bars[i].Date.Before(date)
	})
	if i < len(s.Bars) && s.Bars[i].Date.Equal(date) {
		return i, true
	}
	return i, false
}

// Window returns the AdjClose values of the `n` bars ending at (and
// including) idx, oldest first. Returns false if fewer than n bars are
// available, which the caller interprets as "not warm yet".
func (s *Series) Window(idx, n int) ([]float64, bool) {
	if idx < 0 || idx >= len(s.Bars) {
		return nil, false
	}
	start := idx - n + 1
	if start < 0 {
		return nil, false
	}
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = s.Bars[start+i].AdjClose
	}
	return out, true
}

// AdjCloses returns the AdjClose values of every bar up to and including
// idx, oldest first.
func (s *Series) AdjCloses(idx int) []float64 {
	if idx < 0 || idx >= len(s.Bars) {
		return nil
	}
	out := make([]float64, idx+1)
	for i := 0; i <= idx; i++ {
		out[i] = s.Bars[i].AdjClose
	}
	return out
}

// FirstDate and LastDate report the series' date bounds. The zero Series
// (no bars) returns the zero time for both.
func (s *Series) FirstDate() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[0].Date
}

func (s *Series) LastDate() time.Time {
	if len(s.Bars) == 0 {
		return time.Time{}
	}
	return s.Bars[len(s.Bars)-1].Date
}

// IntersectCalendars returns the sorted dates common to every series, used
// by the evaluator to determine the shared trading-day calendar across the
// required ticker set (spec §4.2 step 2).
func IntersectCalendars(all map[string]*Series) []time.Time {
	if len(all) == 0 {
		return nil
	}
	counts := map[time.Time]int{}
	for _, s := range all {
		seen := map[time.Time]bool{}
		for _, b := range s.Bars {
			if !seen[b.Date] {
				counts[b.Date]++
				seen[b.Date] = true
			}
		}
	}
	n := len(all)
	var dates []time.Time
	for d, c := range counts {
		if c == n {
			dates = append(dates, d)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates
}
