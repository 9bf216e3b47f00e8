package resultcache

// schema creates the three result tables (spec §4.3/§9): backtest, sanity,
// and benchmark, each keyed by its own column set plus a blob result and a
// computed-at timestamp. Kept inline rather than in a schemas/ directory
// file, since this cache has exactly one schema and no per-database
// variation to select between.
const schema = `
CREATE TABLE IF NOT EXISTS backtest_results (
	bot_id       TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	data_date    TEXT NOT NULL,
	result       BLOB NOT NULL,
	computed_at  TEXT NOT NULL,
	PRIMARY KEY (bot_id, payload_hash, data_date)
);

CREATE TABLE IF NOT EXISTS sanity_results (
	bot_id       TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	data_date    TEXT NOT NULL,
	result       BLOB NOT NULL,
	computed_at  TEXT NOT NULL,
	PRIMARY KEY (bot_id, payload_hash, data_date)
);

CREATE TABLE IF NOT EXISTS benchmark_results (
	ticker       TEXT NOT NULL,
	data_date    TEXT NOT NULL,
	result       BLOB NOT NULL,
	computed_at  TEXT NOT NULL,
	PRIMARY KEY (ticker, data_date)
);

CREATE TABLE IF NOT EXISTS cache_refresh_state (
	id               INTEGER PRIMARY KEY CHECK (id = 1),
	last_refresh_date TEXT NOT NULL
);
`
