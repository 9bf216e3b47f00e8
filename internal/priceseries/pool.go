package priceseries

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Pool bounds the number of concurrent fetches against a Source to `size`
// independent query handles, matching the spec §9 design note: ""async" I/O
// on the price store: specify as a set of independent query handles with
// bounded pool size; the evaluator owns no cross-day concurrency." Batch
// fetches fan out across the pool and join results (spec §5).
type Pool struct {
	source Source
	size   int
}

// NewPool builds a Pool of the given handle count over source. size is
// clamped to at least 1.
func NewPool(source Source, size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{source: source, size: size}
}

// FetchAll fetches every requested ticker's series, fanning the work out
// across the pool's bounded concurrency and joining results. The first
// error cancels the group's context: fetches that have not started yet
// return without fetching, fetches already running complete, and the first
// error is returned.
func (p *Pool) FetchAll(ctx context.Context, tickers []string) (map[string]*Series, error) {
	results := make(map[string]*Series, len(tickers))
	var mu chan struct{} // acts as a single-slot mutex guarding `results`
	mu = make(chan struct{}, 1)
	mu <- struct{}{}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.size)

	for _, ticker := range tickers {
		ticker := ticker
		g.Go(func() error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			series, err := p.source.FetchSeries(ticker)
			if err != nil {
				return err
			}
			<-mu
			results[ticker] = series
			mu <- struct{}{}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
