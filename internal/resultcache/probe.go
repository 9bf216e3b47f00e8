package resultcache

import (
	"sync/atomic"
	"time"

	"github.com/aristath/backtest/internal/priceseries"
)

// DataDateProbeTTL is the spec §4.3/§5 fixed 60-second cache lifetime for
// the data-date probe.
const DataDateProbeTTL = 60 * time.Second

type probeSnapshot struct {
	date time.Time
	at   time.Time
}

// DataDateProbe wraps a price source's LatestDate lookup with a 60-second
// timestamped cache (spec §5: "Data-date probe: cached for 60 seconds with
// a simple timestamped value"), grounded in the same atomic-swap pattern as
// priceseries.Cache.
type DataDateProbe struct {
	source priceseries.Source
	ticker string
	ptr    atomic.Pointer[probeSnapshot]
}

// NewDataDateProbe builds a probe over source, using probeTicker as the
// reference ticker whose latest bar defines the current data date.
func NewDataDateProbe(source priceseries.Source, probeTicker string) *DataDateProbe {
	return &DataDateProbe{source: source, ticker: probeTicker}
}

// DataDate returns the cached data date, refreshing it from the source if
// the cached value is older than DataDateProbeTTL.
func (p *DataDateProbe) DataDate(now time.Time) (time.Time, error) {
	if snap := p.ptr.Load(); snap != nil && now.Sub(snap.at) < DataDateProbeTTL {
		return snap.date, nil
	}

	date, err := p.source.LatestDate(p.ticker)
	if err != nil {
		return time.Time{}, err
	}
	p.ptr.Store(&probeSnapshot{date: date, at: now})
	return date, nil
}
