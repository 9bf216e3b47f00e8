package priceseries

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/backtest/internal/engineerr"
)

// ColumnarSource reads one-file-per-ticker OHLCV data off disk, the "ticker
// price on disk" external interface from spec §6: columns
// Date, Open, High, Low, Close, Adj Close, date as the primary sort key.
// Grounded in the pack's CSV-backed data service
// (services.DataService.GetTickerData), adapted from JSON API responses to
// a plain in-process Source.
type ColumnarSource struct {
	dir string
	log zerolog.Logger
}

// NewColumnarSource builds a ColumnarSource reading "<dir>/<TICKER>.csv"
// files.
func NewColumnarSource(dir string, log zerolog.Logger) *ColumnarSource {
	return &ColumnarSource{dir: dir, log: log.With().Str("component", "columnar_source").Logger()}
}

func (c *ColumnarSource) path(ticker string) string {
	return filepath.Join(c.dir, strings.ToUpper(ticker)+".csv")
}

// FetchSeries reads and parses the on-disk CSV for ticker.
func (c *ColumnarSource) FetchSeries(ticker string) (*Series, error) {
	f, err := os.Open(c.path(ticker))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, engineerr.Wrap(engineerr.KindDataMissing, "ticker has no on-disk price file", err).WithTicker(ticker)
		}
		return nil, engineerr.Wrap(engineerr.KindDataMissing, "failed to open price file", err).WithTicker(ticker)
	}
	defer f.Close()

	series, err := parseCSV(ticker, f)
	if err != nil {
		return nil, err
	}
	if len(series.Bars) == 0 {
		return nil, engineerr.New(engineerr.KindDataMissing, "price file has no rows").WithTicker(ticker)
	}
	return series, nil
}

// LatestDate reports the max date in probeTicker's file, used by the result
// cache's data-date key (spec §4.3).
func (c *ColumnarSource) LatestDate(probeTicker string) (time.Time, error) {
	s, err := c.FetchSeries(probeTicker)
	if err != nil {
		return time.Time{}, err
	}
	return s.LastDate(), nil
}

var csvColumns = []string{"date", "open", "high", "low", "close", "adj close"}

func parseCSV(ticker string, r io.Reader) (*Series, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, engineerr.Wrap(engineerr.KindDataMissing, "failed to read CSV header", err).WithTicker(ticker)
	}

	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, want := range csvColumns {
		if _, ok := col[want]; !ok {
			return nil, engineerr.New(engineerr.KindDataMissing, fmt.Sprintf("price file missing column %q", want)).WithTicker(ticker)
		}
	}

	var bars []Bar
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindDataMissing, "failed to read CSV row", err).WithTicker(ticker)
		}

		date, err := time.Parse("2006-01-02", strings.TrimSpace(row[col["date"]]))
		if err != nil {
			return nil, engineerr.Wrap(engineerr.KindDataMissing, "failed to parse date column", err).WithTicker(ticker)
		}

		bar := Bar{Date: date}
		fields := []struct {
			name string
			dst  *float64
		}{
			{"open", &bar.Open},
			{"high", &bar.High},
			{"low", &bar.Low},
			{"close", &bar.Close},
			{"adj close", &bar.AdjClose},
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[col[f.name]]), 64)
			if err != nil {
				return nil, engineerr.Wrap(engineerr.KindDataMissing, fmt.Sprintf("failed to parse %s column", f.name), err).WithTicker(ticker)
			}
			*f.dst = v
		}
		bars = append(bars, bar)
	}

	return &Series{Ticker: strings.ToUpper(ticker), Bars: bars}, nil
}
