package storage

import (
	"context"
	"fmt"
	"sort"

	"github.com/jmoiron/sqlx"

	"ap-reconciliation-engine/pkg/errors"
	"ap-reconciliation-engine/pkg/logger"
)

// Migration is one versioned schema step. Migrations are applied in
// version order, each inside its own transaction, and recorded in
// schema_migrations.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "transactions",
		SQL: `
CREATE TABLE IF NOT EXISTS transactions (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	amount          NUMERIC(18,2) NOT NULL,
	currency        CHAR(3) NOT NULL,
	direction       TEXT NOT NULL,
	value_date      DATE NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	reference       TEXT NOT NULL DEFAULT '',
	counterparty    TEXT NOT NULL DEFAULT '',
	source          TEXT NOT NULL,
	source_id       TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'pending',
	matched_with    TEXT[] NOT NULL DEFAULT '{}',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_transactions_org_status ON transactions (organization_id, status);
CREATE INDEX IF NOT EXISTS idx_transactions_value_date ON transactions (value_date);`,
	},
	{
		Version: 2,
		Name:    "matches",
		SQL: `
CREATE TABLE IF NOT EXISTS matches (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	source_txn_id   TEXT NOT NULL,
	target_txn_ids  TEXT[] NOT NULL,
	internal_txn_id TEXT NOT NULL DEFAULT '',
	score           INT NOT NULL,
	breakdown       JSONB NOT NULL,
	match_type      TEXT NOT NULL,
	needs_review    BOOLEAN NOT NULL DEFAULT FALSE,
	is_split        BOOLEAN NOT NULL DEFAULT FALSE,
	fee_amount      NUMERIC(18,2),
	fee_currency    CHAR(3),
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_matches_org ON matches (organization_id);`,
	},
	{
		Version: 3,
		Name:    "patterns",
		SQL: `
CREATE TABLE IF NOT EXISTS patterns (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	source_pattern  TEXT NOT NULL,
	target_pattern  TEXT NOT NULL,
	confidence      DOUBLE PRECISION NOT NULL,
	match_count     BIGINT NOT NULL DEFAULT 0,
	last_used       TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_updated    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_patterns_org ON patterns (organization_id);`,
	},
	{
		Version: 4,
		Name:    "exceptions",
		SQL: `
CREATE TABLE IF NOT EXISTS exceptions (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL,
	transaction_id   TEXT NOT NULL DEFAULT '',
	type             TEXT NOT NULL,
	priority         TEXT NOT NULL,
	description      TEXT NOT NULL DEFAULT '',
	near_match_ids   TEXT[] NOT NULL DEFAULT '{}',
	ai_explanation   TEXT NOT NULL DEFAULT '',
	suggested_action TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'open',
	resolved_by      TEXT NOT NULL DEFAULT '',
	resolution_notes TEXT NOT NULL DEFAULT '',
	resolved_at      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_exceptions_org_status ON exceptions (organization_id, status);`,
	},
	{
		Version: 5,
		Name:    "draft_journal_entries",
		SQL: `
CREATE TABLE IF NOT EXISTS draft_journal_entries (
	id               TEXT PRIMARY KEY,
	organization_id  TEXT NOT NULL,
	match_id         TEXT NOT NULL,
	lines            JSONB NOT NULL,
	status           TEXT NOT NULL DEFAULT 'draft',
	erp_document_ref TEXT NOT NULL DEFAULT '',
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_drafts_org_status ON draft_journal_entries (organization_id, status);`,
	},
	{
		Version: 6,
		Name:    "recurring_rules",
		SQL: `
CREATE TABLE IF NOT EXISTS recurring_rules (
	id                   TEXT PRIMARY KEY,
	organization_id      TEXT NOT NULL,
	vendor               TEXT NOT NULL,
	vendor_aliases       TEXT[] NOT NULL DEFAULT '{}',
	expected_frequency   TEXT NOT NULL,
	expected_amount      NUMERIC(18,2) NOT NULL,
	expected_currency    CHAR(3) NOT NULL,
	tolerance_pct        DOUBLE PRECISION NOT NULL DEFAULT 0,
	require_amount_match BOOLEAN NOT NULL DEFAULT FALSE,
	action               TEXT NOT NULL,
	default_gl_code      TEXT NOT NULL DEFAULT '',
	enabled              BOOLEAN NOT NULL DEFAULT TRUE,
	last_invoice_date    DATE,
	next_expected_date   DATE,
	total_invoices       BIGINT NOT NULL DEFAULT 0,
	total_amount         NUMERIC(18,2) NOT NULL DEFAULT 0,
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_recurring_org_enabled ON recurring_rules (organization_id, enabled);`,
	},
	{
		Version: 7,
		Name:    "audit_events",
		SQL: `
CREATE TABLE IF NOT EXISTS audit_events (
	id              TEXT PRIMARY KEY,
	organization_id TEXT NOT NULL,
	operation_id    TEXT NOT NULL,
	entity_type     TEXT NOT NULL,
	entity_id       TEXT NOT NULL,
	action          TEXT NOT NULL,
	from_state      TEXT NOT NULL DEFAULT '',
	to_state        TEXT NOT NULL DEFAULT '',
	actor_type      TEXT NOT NULL,
	actor_id        TEXT NOT NULL DEFAULT '',
	reason          TEXT NOT NULL DEFAULT '',
	metadata        JSONB,
	occurred_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_audit_entity ON audit_events (entity_type, entity_id, occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_operation ON audit_events (operation_id);`,
	},
}

// Migrations returns the schema steps in version order
func Migrations() []Migration {
	out := make([]Migration, len(migrations))
	copy(out, migrations)
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

// Migrate applies every pending migration in order
func Migrate(ctx context.Context, db *sqlx.DB) error {
	log := logger.WithComponent("storage")

	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version    INT PRIMARY KEY,
	name       TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`); err != nil {
		return mapQueryError("create schema_migrations", err)
	}

	applied := make(map[int]bool)
	var versions []int
	if err := db.SelectContext(ctx, &versions, `SELECT version FROM schema_migrations`); err != nil {
		return mapQueryError("read schema_migrations", err)
	}
	for _, v := range versions {
		applied[v] = true
	}

	for _, m := range Migrations() {
		if applied[m.Version] {
			continue
		}

		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return mapQueryError("begin migration", err)
		}

		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return errors.StorageError(errors.CodeStorageError,
				fmt.Sprintf("apply migration %d (%s)", m.Version, m.Name), err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			tx.Rollback()
			return mapQueryError("record migration", err)
		}
		if err := tx.Commit(); err != nil {
			return mapQueryError("commit migration", err)
		}

		log.WithFields(logger.Fields{
			"version": m.Version,
			"name":    m.Name,
		}).Info("Applied schema migration")
	}

	return nil
}
