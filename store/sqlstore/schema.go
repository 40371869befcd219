package sqlstore

// Monetary columns are TEXT in SQLite (decimal strings, no float affinity)
// and NUMERIC in Postgres. Timestamps are RFC3339 UTC text in both; insertion
// order comes from pos.

const sqliteSchema = `
	-- Accounts (balance is a cache of the journal)
	CREATE TABLE IF NOT EXISTS accounts (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'both',
		balance TEXT NOT NULL DEFAULT '0',
		total_sales TEXT NOT NULL DEFAULT '0',
		total_purchases TEXT NOT NULL DEFAULT '0',
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- Items
	CREATE TABLE IF NOT EXISTS items (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		stock_quantity INTEGER NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	-- Journal (append-only except for the active -> cancelled flip)
	CREATE TABLE IF NOT EXISTS entries (
		pos INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		document_number TEXT NOT NULL,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL,
		account_id TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		currency TEXT NOT NULL,
		fx_rate TEXT NOT NULL,
		amount_base TEXT NOT NULL,
		status TEXT NOT NULL,
		reversal_of TEXT,
		document_date TEXT NOT NULL,
		note TEXT,
		reason TEXT,
		idempotency_key TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS entries_document_number_key
		ON entries(tenant_id, document_number);
	CREATE UNIQUE INDEX IF NOT EXISTS entries_idempotency_key_key
		ON entries(tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL;

	-- CRITICAL: At most one reversal per document, even under concurrent cancels
	CREATE UNIQUE INDEX IF NOT EXISTS entries_reversal_of_key
		ON entries(tenant_id, reversal_of) WHERE reversal_of IS NOT NULL;

	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(tenant_id, account_id, pos);

	-- Document counters
	CREATE TABLE IF NOT EXISTS doc_sequences (
		tenant_id TEXT NOT NULL,
		series_key TEXT NOT NULL,
		period INTEGER NOT NULL,
		seq INTEGER NOT NULL,
		PRIMARY KEY (tenant_id, series_key, period)
	);

	-- Outbox
	CREATE TABLE IF NOT EXISTS outbox_events (
		pos INTEGER PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		event_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		published_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox_events(pos) WHERE published_at IS NULL;
`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS accounts (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		display_name TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL DEFAULT 'both',
		balance NUMERIC NOT NULL DEFAULT 0,
		total_sales NUMERIC NOT NULL DEFAULT 0,
		total_purchases NUMERIC NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS items (
		tenant_id TEXT NOT NULL,
		id TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL DEFAULT '',
		stock_quantity BIGINT NOT NULL DEFAULT 0 CHECK (stock_quantity >= 0),
		updated_at TEXT NOT NULL,
		PRIMARY KEY (tenant_id, id)
	);

	CREATE TABLE IF NOT EXISTS entries (
		pos BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		document_number TEXT NOT NULL,
		kind TEXT NOT NULL,
		direction TEXT NOT NULL,
		account_id TEXT NOT NULL,
		lines_json TEXT NOT NULL,
		currency TEXT NOT NULL,
		fx_rate NUMERIC NOT NULL,
		amount_base NUMERIC NOT NULL,
		status TEXT NOT NULL,
		reversal_of TEXT,
		document_date TEXT NOT NULL,
		note TEXT,
		reason TEXT,
		idempotency_key TEXT,
		created_by TEXT,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS entries_document_number_key
		ON entries(tenant_id, document_number);
	CREATE UNIQUE INDEX IF NOT EXISTS entries_idempotency_key_key
		ON entries(tenant_id, idempotency_key) WHERE idempotency_key IS NOT NULL;
	CREATE UNIQUE INDEX IF NOT EXISTS entries_reversal_of_key
		ON entries(tenant_id, reversal_of) WHERE reversal_of IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_entries_account
		ON entries(tenant_id, account_id, pos);

	CREATE TABLE IF NOT EXISTS doc_sequences (
		tenant_id TEXT NOT NULL,
		series_key TEXT NOT NULL,
		period INTEGER NOT NULL,
		seq BIGINT NOT NULL,
		PRIMARY KEY (tenant_id, series_key, period)
	);

	CREATE TABLE IF NOT EXISTS outbox_events (
		pos BIGSERIAL PRIMARY KEY,
		id TEXT NOT NULL UNIQUE,
		tenant_id TEXT NOT NULL,
		topic TEXT NOT NULL,
		event_key TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		published_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_outbox_pending
		ON outbox_events(pos) WHERE published_at IS NULL;
`
