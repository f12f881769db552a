// Package postgres provides a PostgreSQL-backed [finance.Store].
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	tx, _ := store.AddTransaction(ctx, finance.Transaction{Type: finance.Expense, Amount: 500})
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Ledger DDL: transactions and goals
// ─────────────────────────────────────────────────────────────────────────────

const ddlLedger = `
CREATE TABLE IF NOT EXISTS transactions (
    id           TEXT             PRIMARY KEY,
    type         TEXT             NOT NULL CHECK (type IN ('income', 'expense')),
    category     TEXT             NOT NULL DEFAULT 'General',
    amount       DOUBLE PRECISION NOT NULL DEFAULT 0,
    description  TEXT             NOT NULL DEFAULT '',
    date         TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_transactions_date
    ON transactions (date DESC);

CREATE TABLE IF NOT EXISTS goals (
    id                    TEXT             PRIMARY KEY,
    title                 TEXT             NOT NULL,
    current_amount        DOUBLE PRECISION NOT NULL DEFAULT 0,
    target_amount         DOUBLE PRECISION NOT NULL DEFAULT 0,
    icon                  TEXT             NOT NULL DEFAULT '',
    color                 TEXT             NOT NULL DEFAULT '',
    monthly_contribution  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at            TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS profile (
    id              INT              PRIMARY KEY CHECK (id = 1),
    monthly_income  DOUBLE PRECISION NOT NULL DEFAULT 0
);
`

// ─────────────────────────────────────────────────────────────────────────────
// Audit DDL: conversations and snapshots
// ─────────────────────────────────────────────────────────────────────────────

const ddlAudit = `
CREATE TABLE IF NOT EXISTS conversations (
    id          TEXT         PRIMARY KEY,
    prompt      TEXT         NOT NULL,
    response    TEXT         NOT NULL,
    user_phone  TEXT         NOT NULL DEFAULT 'anonymous',
    context     JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversations_created_at
    ON conversations (created_at);

CREATE TABLE IF NOT EXISTS financial_snapshots (
    id           BIGSERIAL    PRIMARY KEY,
    user_phone   TEXT         NOT NULL DEFAULT 'anonymous',
    reason       TEXT         NOT NULL DEFAULT '',
    summary      JSONB        NOT NULL,
    captured_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// Migrate creates all tables and indexes if they do not exist. It is
// idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []struct {
		name string
		ddl  string
	}{
		{"ledger", ddlLedger},
		{"audit", ddlAudit},
	} {
		if _, err := pool.Exec(ctx, stmt.ddl); err != nil {
			return fmt.Errorf("migrate %s: %w", stmt.name, err)
		}
	}
	return nil
}
