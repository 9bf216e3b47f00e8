// Command backtest is the engine's CLI entrypoint: it loads a strategy
// payload from disk, evaluates it against an on-disk price store, and
// prints the resulting metrics, sanity report, and cache status.
//
// Grounded in the teacher's cmd/server/main.go startup sequence --
// config.Load, logger construction, database.New + Migrate, scheduler
// start/stop around a graceful-shutdown signal wait -- adapted from a
// long-running HTTP server to a single-shot CLI run (no server package,
// since spec §1 scopes this engine to the evaluation core, not its
// transport surface).
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/aristath/backtest/internal/config"
	"github.com/aristath/backtest/internal/database"
	"github.com/aristath/backtest/internal/engineerr"
	"github.com/aristath/backtest/internal/evaluator"
	"github.com/aristath/backtest/internal/logging"
	"github.com/aristath/backtest/internal/metrics"
	"github.com/aristath/backtest/internal/optimizer"
	"github.com/aristath/backtest/internal/payload"
	"github.com/aristath/backtest/internal/priceseries"
	"github.com/aristath/backtest/internal/resultcache"
	"github.com/aristath/backtest/internal/sanity"
	"github.com/aristath/backtest/internal/tree"
	"github.com/aristath/backtest/internal/utils"
)

func main() {
	var (
		payloadPath    = flag.String("payload", "", "path to a strategy payload JSON file")
		priceDir       = flag.String("price-dir", "", "directory of <TICKER>.csv price files")
		botID          = flag.String("bot-id", "default", "strategy id, used as the cache key's bot id")
		mode           = flag.String("mode", string(evaluator.ModeCC), "accounting mode: CC or OC")
		costBps        = flag.Float64("cost-bps", 0, "per-rebalance transaction cost in basis points")
		skipSanity     = flag.Bool("skip-sanity", false, "skip the Monte-Carlo/K-fold sanity report")
		benchmarks     = flag.String("benchmarks", "SPY", "comma-separated benchmark tickers for the sanity report's beta study and the optimizer pass")
		skipOptimize   = flag.Bool("skip-optimize", false, "skip the optimizer pass that allocates between the strategy and its benchmarks")
		optimizeMetric = flag.String("optimize-metric", string(optimizer.MetricVolatility), "optimizer objective: volatility, sharpe, beta, or correlation")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.DevMode})
	logging.SetGlobalLogger(log)

	if *payloadPath == "" || *priceDir == "" {
		log.Fatal().Msg("both -payload and -price-dir are required")
	}

	raw, err := os.ReadFile(*payloadPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read strategy payload")
	}
	canonical, err := payload.Unmarshal(raw)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse strategy payload")
	}
	root := payload.ToTree(canonical)

	compressed, err := tree.Compress(root)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compress strategy tree")
	}

	source := priceseries.NewColumnarSource(*priceDir, log)
	priceCache := priceseries.NewCache(source, 0)

	db, err := database.New(database.Config{
		Path:    cfg.DataDir + "/resultcache.db",
		Profile: database.ProfileCache,
		Name:    "resultcache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open result cache database")
	}
	defer db.Close()

	cache, err := resultcache.New(db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize result cache")
	}

	sched := resultcache.NewRefreshScheduler(cache, log)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("failed to start result cache scheduler")
	}
	defer sched.Stop()

	ctx := context.Background()
	if _, err := cache.CheckAndTriggerDailyRefresh(ctx, time.Now()); err != nil {
		log.Warn().Err(err).Msg("daily refresh check failed; continuing with possibly-stale cache")
	}

	dataDate, err := source.LatestDate("SPY")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to probe data date")
	}

	canonicalJSON, err := payload.Marshal(canonical)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to canonicalize strategy payload")
	}
	hash, err := payload.BacktestHash(canonicalJSON, *mode, *costBps)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to hash strategy payload")
	}

	key := resultcache.BacktestKey{BotID: *botID, PayloadHash: hash, DataDate: dataDate}

	result, fromCache, err := cache.GetBacktest(ctx, key)
	if err != nil {
		log.Warn().Err(err).Msg("result cache read failed; evaluating uncached")
	}
	if result == nil {
		result, err = evaluator.Run(compressed, priceCache, evaluator.Config{
			Mode:    evaluator.Mode(*mode),
			CostBps: *costBps,
			Log:     log,
		})
		if err != nil {
			if engineerr.Is(err, engineerr.KindDataInsufficient) {
				log.Fatal().Err(err).Msg("not enough evaluable history for this strategy")
			}
			log.Fatal().Err(err).Msg("backtest evaluation failed")
		}
		if err := cache.PutBacktest(ctx, key, result); err != nil {
			log.Warn().Err(err).Msg("failed to write backtest result to cache")
		}
	}

	dates := make([]time.Time, len(result.EquityCurve))
	equity := make([]float64, len(result.EquityCurve))
	for i, p := range result.EquityCurve {
		dates[i] = p.Date
		equity[i] = p.Equity
	}

	metricSet, err := metrics.Compute(dates, equity, result.DailyReturns, result.AvgTurnover, result.AvgHoldings, metrics.Options{RiskFreeRate: cfg.RiskFreeRate})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to compute metrics")
	}

	report := struct {
		FromCache bool              `json:"fromCache"`
		Summary   string            `json:"summary"`
		Metrics   *metrics.Set      `json:"metrics"`
		Sanity    *sanity.Report    `json:"sanity,omitempty"`
		Optimizer *optimizer.Result `json:"optimizer,omitempty"`
	}{
		FromCache: fromCache,
		Summary:   result.Summary(),
		Metrics:   metricSet,
	}

	runMetrics := &utils.PerformanceMetrics{OperationName: "backtest.run"}

	benchmarkSeries := map[string]metrics.DatedReturns{}
	benchmarkTickers := utils.ParseCSV(*benchmarks)
	for _, ticker := range benchmarkTickers {
		s, err := priceCache.Get(ticker)
		if err != nil {
			log.Warn().Err(err).Str("ticker", ticker).Msg("failed to load benchmark series; omitting from sanity/optimizer passes")
			continue
		}
		benchmarkSeries[ticker] = datedReturnsFromSeries(s)
	}

	if !*skipSanity {
		stopSanity := utils.OperationTimer("sanity.run", log)
		sanityReport, err := sanity.Run(dates[1:], result.DailyReturns, benchmarkSeries, sanity.Config{RiskFreeRate: cfg.RiskFreeRate, Seed: cfg.MonteCarloSeed, Iterations: cfg.MonteCarloIterations, BlockSize: cfg.MonteCarloBlockSize, HorizonYears: int(cfg.MonteCarloYears), Shards: cfg.KFoldShards})
		stopSanity()
		if err != nil {
			log.Warn().Err(err).Msg("sanity report failed; omitting from output")
		} else {
			report.Sanity = sanityReport
		}
	}

	if !*skipOptimize && len(benchmarkSeries) > 0 {
		optimizerReturns := map[string][]float64{*botID: result.DailyReturns}
		for ticker, dr := range benchmarkSeries {
			optimizerReturns[ticker] = dr.Returns
		}

		start := time.Now()
		optResult, err := optimizer.Run(optimizerReturns, optimizer.Config{
			Metric:       optimizer.Metric(*optimizeMetric),
			RiskFreeRate: cfg.RiskFreeRate,
		})
		recordCall(runMetrics, time.Since(start))
		if err != nil {
			log.Warn().Err(err).Msg("optimizer pass failed; omitting from output")
		} else {
			report.Optimizer = optResult
		}
	}

	runMetrics.LogMetrics(log)

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to render output")
	}
	fmt.Println(string(out))
}

// recordCall folds one call's duration into an aggregated PerformanceMetrics,
// maintaining min/max/avg incrementally.
func recordCall(pm *utils.PerformanceMetrics, d time.Duration) {
	pm.CallCount++
	pm.TotalDuration += d
	if pm.CallCount == 1 || d < pm.MinDuration {
		pm.MinDuration = d
	}
	if d > pm.MaxDuration {
		pm.MaxDuration = d
	}
	pm.AvgDuration = pm.TotalDuration / time.Duration(pm.CallCount)
}

// datedReturnsFromSeries converts a benchmark's adjusted-close series into
// the dated daily-return shape the sanity report's beta study aligns
// against.
func datedReturnsFromSeries(s *priceseries.Series) metrics.DatedReturns {
	if len(s.Bars) < 2 {
		return metrics.DatedReturns{}
	}
	dates := make([]time.Time, 0, len(s.Bars)-1)
	returns := make([]float64, 0, len(s.Bars)-1)
	prev := s.Bars[0].AdjClose
	for _, bar := range s.Bars[1:] {
		if prev != 0 {
			dates = append(dates, bar.Date)
			returns = append(returns, bar.AdjClose/prev-1)
		}
		prev = bar.AdjClose
	}
	return metrics.DatedReturns{Dates: dates, Returns: returns}
}
