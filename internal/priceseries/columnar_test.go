package priceseries

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, ticker, content string) {
	t.Helper()
	path := filepath.Join(dir, ticker+".csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestColumnarSource_FetchSeries(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "SPY", "Date,Open,High,Low,Close,Adj Close\n"+
		"2024-01-01,100,101,99,100.5,100.5\n"+
		"2024-01-02,100.5,102,100,101.5,101.5\n")

	src := NewColumnarSource(dir, zerolog.Nop())
	series, err := src.FetchSeries("spy")
	require.NoError(t, err)
	require.Len(t, series.Bars, 2)
	require.Equal(t, "SPY", series.Ticker)
	require.InDelta(t, 101.5, series.Bars[1].AdjClose, 1e-9)
}

func TestColumnarSource_MissingFileIsDataMissing(t *testing.T) {
	dir := t.TempDir()
	src := NewColumnarSource(dir, zerolog.Nop())
	_, err := src.FetchSeries("NOPE")
	require.Error(t, err)
}

func TestColumnarSource_LatestDate(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "SPY", "Date,Open,High,Low,Close,Adj Close\n"+
		"2024-01-01,100,101,99,100.5,100.5\n"+
		"2024-01-02,100.5,102,100,101.5,101.5\n")

	src := NewColumnarSource(dir, zerolog.Nop())
	latest, err := src.LatestDate("SPY")
	require.NoError(t, err)
	require.Equal(t, 2024, latest.Year())
	require.Equal(t, 2, latest.Day())
}
