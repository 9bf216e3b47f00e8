// Package resultcache implements the content-addressed result cache (spec
// §4.3): a relational store, keyed by strategy-payload-hash plus evaluation
// settings plus the latest-data-date, holding backtest results, sanity
// reports, and per-ticker benchmark metrics. The whole cache is invalidated
// on the first request of a new local calendar day.
//
// Grounded in the teacher's sqlite wrapper (internal/database/db.go) for
// connection/PRAGMA handling, and its scheduler
// (trader-go/internal/scheduler/scheduler.go) for the daily-refresh job
// shape. Entries are encoded with vmihailenco/msgpack/v5 rather than JSON,
// matching spec §9's "blob/text result column" and giving the cache its own
// wire format independent of internal/payload's canonical JSON.
package resultcache

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/backtest/internal/database"
	"github.com/aristath/backtest/internal/engineerr"
	"github.com/aristath/backtest/internal/evaluator"
	"github.com/aristath/backtest/internal/metrics"
	"github.com/aristath/backtest/internal/sanity"
	"github.com/aristath/backtest/internal/utils"
)

const dateLayout = "2006-01-02"

// BacktestKey identifies one cached backtest entry (spec §4.3).
type BacktestKey struct {
	BotID       string
	PayloadHash string
	DataDate    time.Time
}

// SanityKey identifies one cached sanity report.
type SanityKey struct {
	BotID       string
	PayloadHash string
	DataDate    time.Time
}

// BenchmarkKey identifies one cached per-ticker benchmark metrics entry.
type BenchmarkKey struct {
	Ticker   string
	DataDate time.Time
}

// Cache is the sqlite-backed result store.
type Cache struct {
	db  *database.DB
	log zerolog.Logger

	mu sync.Mutex
}

// New opens (and migrates) a result cache over db.
func New(db *database.DB, log zerolog.Logger) (*Cache, error) {
	c := &Cache{db: db, log: log.With().Str("component", "resultcache").Logger()}
	if err := c.migrate(); err != nil {
		return nil, engineerr.Wrap(engineerr.KindCache, "failed to migrate result cache schema", err)
	}
	return c, nil
}

func (c *Cache) migrate() error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := c.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// GetBacktest looks up a cached backtest result. A cache-storage failure is
// reported via the KindCache error so the caller can degrade to uncached
// evaluation per spec §7's "never a hard failure" policy; a clean miss
// returns (nil, false, nil).
func (c *Cache) GetBacktest(ctx context.Context, key BacktestKey) (*evaluator.BacktestResult, bool, error) {
	var blob []byte
	row := c.db.QueryRowContext(ctx,
		`SELECT result FROM backtest_results WHERE bot_id = ? AND payload_hash = ? AND data_date = ?`,
		key.BotID, key.PayloadHash, key.DataDate.Format(dateLayout))
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, engineerr.Wrap(engineerr.KindCache, "backtest cache read failed", err)
	}
	var result evaluator.BacktestResult
	if err := msgpack.Unmarshal(blob, &result); err != nil {
		return nil, false, engineerr.Wrap(engineerr.KindCache, "backtest cache entry corrupt", err)
	}
	return &result, true, nil
}

// PutBacktest stores a backtest result, last-write-wins (spec §4.3/§5: no
// per-key inflight-dedup is required; duplicate concurrent writes are
// acceptable since both computations are deterministic).
func (c *Cache) PutBacktest(ctx context.Context, key BacktestKey, result *evaluator.BacktestResult) error {
	blob, err := msgpack.Marshal(result)
	if err != nil {
		return engineerr.Wrap(engineerr.KindCache, "failed to encode backtest result", err)
	}
	done := utils.MeasureDBQuery("resultcache.put_backtest", c.log)
	res, err := c.db.ExecContext(ctx,
		`INSERT INTO backtest_results (bot_id, payload_hash, data_date, result, computed_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (bot_id, payload_hash, data_date) DO UPDATE SET result = excluded.result, computed_at = excluded.computed_at`,
		key.BotID, key.PayloadHash, key.DataDate.Format(dateLayout), blob, time.Now().UTC().Format(time.RFC3339))
	rows, _ := rowsAffectedOf(res)
	done(rows)
	if err != nil {
		return engineerr.Wrap(engineerr.KindCache, "backtest cache write failed", err)
	}
	return nil
}

func rowsAffectedOf(res sql.Result) (int64, error) {
	if res == nil {
		return 0, nil
	}
	return res.RowsAffected()
}

// GetSanity looks up a cached sanity report.
func (c *Cache) GetSanity(ctx context.Context, key SanityKey) (*sanity.Report, bool, error) {
	var blob []byte
	row := c.db.QueryRowContext(ctx,
		`SELECT result FROM sanity_results WHERE bot_id = ? AND payload_hash = ? AND data_date = ?`,
		key.BotID, key.PayloadHash, key.DataDate.Format(dateLayout))
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, engineerr.Wrap(engineerr.KindCache, "sanity cache read failed", err)
	}
	var report sanity.Report
	if err := msgpack.Unmarshal(blob, &report); err != nil {
		return nil, false, engineerr.Wrap(engineerr.KindCache, "sanity cache entry corrupt", err)
	}
	return &report, true, nil
}

// PutSanity stores a sanity report.
func (c *Cache) PutSanity(ctx context.Context, key SanityKey, report *sanity.Report) error {
	blob, err := msgpack.Marshal(report)
	if err != nil {
		return engineerr.Wrap(engineerr.KindCache, "failed to encode sanity report", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO sanity_results (bot_id, payload_hash, data_date, result, computed_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (bot_id, payload_hash, data_date) DO UPDATE SET result = excluded.result, computed_at = excluded.computed_at`,
		key.BotID, key.PayloadHash, key.DataDate.Format(dateLayout), blob, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return engineerr.Wrap(engineerr.KindCache, "sanity cache write failed", err)
	}
	return nil
}

// GetBenchmark looks up cached per-ticker benchmark metrics.
func (c *Cache) GetBenchmark(ctx context.Context, key BenchmarkKey) (*metrics.Set, bool, error) {
	var blob []byte
	row := c.db.QueryRowContext(ctx,
		`SELECT result FROM benchmark_results WHERE ticker = ? AND data_date = ?`,
		key.Ticker, key.DataDate.Format(dateLayout))
	if err := row.Scan(&blob); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, engineerr.Wrap(engineerr.KindCache, "benchmark cache read failed", err)
	}
	var set metrics.Set
	if err := msgpack.Unmarshal(blob, &set); err != nil {
		return nil, false, engineerr.Wrap(engineerr.KindCache, "benchmark cache entry corrupt", err)
	}
	return &set, true, nil
}

// PutBenchmark stores per-ticker benchmark metrics.
func (c *Cache) PutBenchmark(ctx context.Context, key BenchmarkKey, set *metrics.Set) error {
	blob, err := msgpack.Marshal(set)
	if err != nil {
		return engineerr.Wrap(engineerr.KindCache, "failed to encode benchmark metrics", err)
	}
	_, err = c.db.ExecContext(ctx,
		`INSERT INTO benchmark_results (ticker, data_date, result, computed_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (ticker, data_date) DO UPDATE SET result = excluded.result, computed_at = excluded.computed_at`,
		key.Ticker, key.DataDate.Format(dateLayout), blob, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return engineerr.Wrap(engineerr.KindCache, "benchmark cache write failed", err)
	}
	return nil
}

// InvalidateBot purges every entry (backtest and sanity) owned by botID,
// the "individual entries purged when the owning strategy is deleted"
// lifecycle rule (spec §3).
func (c *Cache) InvalidateBot(ctx context.Context, botID string) error {
	if _, err := c.db.ExecContext(ctx, `DELETE FROM backtest_results WHERE bot_id = ?`, botID); err != nil {
		return engineerr.Wrap(engineerr.KindCache, "failed to invalidate bot backtest entries", err)
	}
	if _, err := c.db.ExecContext(ctx, `DELETE FROM sanity_results WHERE bot_id = ?`, botID); err != nil {
		return engineerr.Wrap(engineerr.KindCache, "failed to invalidate bot sanity entries", err)
	}
	return nil
}

// InvalidateAll purges every entry in every table (admin invalidation, or
// the daily-refresh step).
func (c *Cache) InvalidateAll(ctx context.Context) error {
	for _, table := range []string{"backtest_results", "sanity_results", "benchmark_results"} {
		if _, err := c.db.ExecContext(ctx, `DELETE FROM `+table); err != nil {
			return engineerr.Wrap(engineerr.KindCache, "failed to invalidate "+table, err)
		}
	}
	return nil
}

// CheckAndTriggerDailyRefresh implements spec §4.3/§5's daily-refresh
// contract: on the first call of a new local calendar day, invalidate all
// entries and record the new refresh date; subsequent calls on the same
// day are no-ops. Returns whether a refresh was triggered.
func (c *Cache) CheckAndTriggerDailyRefresh(ctx context.Context, now time.Time) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	today := now.Local().Format(dateLayout)

	var lastRefresh string
	row := c.db.QueryRowContext(ctx, `SELECT last_refresh_date FROM cache_refresh_state WHERE id = 1`)
	err := row.Scan(&lastRefresh)
	switch {
	case err == sql.ErrNoRows:
		// first run ever: seed the row, no invalidation needed yet.
		if _, err := c.db.ExecContext(ctx, `INSERT INTO cache_refresh_state (id, last_refresh_date) VALUES (1, ?)`, today); err != nil {
			return false, engineerr.Wrap(engineerr.KindCache, "failed to seed cache refresh state", err)
		}
		return false, nil
	case err != nil:
		return false, engineerr.Wrap(engineerr.KindCache, "failed to read cache refresh state", err)
	}

	if lastRefresh == today {
		return false, nil
	}

	if err := c.InvalidateAll(ctx); err != nil {
		return false, err
	}
	if _, err := c.db.ExecContext(ctx, `UPDATE cache_refresh_state SET last_refresh_date = ? WHERE id = 1`, today); err != nil {
		return false, engineerr.Wrap(engineerr.KindCache, "failed to record cache refresh date", err)
	}

	c.log.Info().Str("date", today).Msg("daily result cache refresh triggered")
	return true, nil
}
