package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/nivest/pkg/finance"
)

var _ finance.Store = (*Store)(nil)

// Store is a PostgreSQL-backed finance store holding a single
// [pgxpool.Pool]. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore opens a connection pool to dsn, pings it and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks connectivity. Used by the readiness check.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// AddTransaction implements [finance.Store].
func (s *Store) AddTransaction(ctx context.Context, t finance.Transaction) (finance.Transaction, error) {
	if err := t.Validate(); err != nil {
		return finance.Transaction{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	const q = `
		INSERT INTO transactions (id, type, category, amount, description, date)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, q, t.ID, string(t.Type), t.Category, t.Amount, t.Description, t.Date); err != nil {
		return finance.Transaction{}, fmt.Errorf("postgres store: add transaction: %w", err)
	}
	return t, nil
}

// AddGoal implements [finance.Store].
func (s *Store) AddGoal(ctx context.Context, g finance.Goal) (finance.Goal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO goals (id, title, current_amount, target_amount, icon, color, monthly_contribution)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.pool.Exec(ctx, q, g.ID, g.Title, g.CurrentAmount, g.TargetAmount, g.Icon, g.Color, g.MonthlyContribution); err != nil {
		return finance.Goal{}, fmt.Errorf("postgres store: add goal: %w", err)
	}
	return g, nil
}

// LogInteraction implements [finance.Store].
func (s *Store) LogInteraction(ctx context.Context, i finance.Interaction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.UserPhone == "" {
		i.UserPhone = finance.DefaultUserPhone
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	if i.Context == nil {
		i.Context = map[string]any{}
	}
	ctxJSON, err := json.Marshal(i.Context)
	if err != nil {
		return fmt.Errorf("postgres store: marshal interaction context: %w", err)
	}
	const q = `
		INSERT INTO conversations (id, prompt, response, user_phone, context, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := s.pool.Exec(ctx, q, i.ID, i.Prompt, i.Response, i.UserPhone, ctxJSON, i.CreatedAt); err != nil {
		return fmt.Errorf("postgres store: log interaction: %w", err)
	}
	return nil
}

// Transactions implements [finance.Store].
func (s *Store) Transactions(ctx context.Context) ([]finance.Transaction, error) {
	const q = `
		SELECT id, type, category, amount, description, date
		FROM   transactions
		ORDER  BY date DESC, id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list transactions: %w", err)
	}
	txs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (finance.Transaction, error) {
		var t finance.Transaction
		var typ string
		err := row.Scan(&t.ID, &typ, &t.Category, &t.Amount, &t.Description, &t.Date)
		t.Type = finance.TransactionType(typ)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan transactions: %w", err)
	}
	return txs, nil
}

// Goals implements [finance.Store].
func (s *Store) Goals(ctx context.Context) ([]finance.Goal, error) {
	const q = `
		SELECT id, title, current_amount, target_amount, icon, color, monthly_contribution
		FROM   goals
		ORDER  BY created_at, id`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list goals: %w", err)
	}
	goals, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (finance.Goal, error) {
		var g finance.Goal
		err := row.Scan(&g.ID, &g.Title, &g.CurrentAmount, &g.TargetAmount, &g.Icon, &g.Color, &g.MonthlyContribution)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan goals: %w", err)
	}
	return goals, nil
}

// MonthlyIncome implements [finance.Store].
func (s *Store) MonthlyIncome(ctx context.Context) (float64, error) {
	var income float64
	err := s.pool.QueryRow(ctx, `SELECT monthly_income FROM profile WHERE id = 1`).Scan(&income)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("postgres store: monthly income: %w", err)
	}
	return income, nil
}

// SetMonthlyIncome implements [finance.Store].
func (s *Store) SetMonthlyIncome(ctx context.Context, amount float64) error {
	const q = `
		INSERT INTO profile (id, monthly_income) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET monthly_income = EXCLUDED.monthly_income`
	if _, err := s.pool.Exec(ctx, q, amount); err != nil {
		return fmt.Errorf("postgres store: set monthly income: %w", err)
	}
	return nil
}

// SaveSnapshot implements [finance.Store]. The summary figures are stored as
// one JSONB document.
func (s *Store) SaveSnapshot(ctx context.Context, snap finance.Snapshot) error {
	summary, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("postgres store: marshal snapshot: %w", err)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.UserPhone == "" {
		snap.UserPhone = finance.DefaultUserPhone
	}
	const q = `
		INSERT INTO financial_snapshots (user_phone, reason, summary, captured_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, q, snap.UserPhone, snap.Reason, summary, snap.CreatedAt); err != nil {
		return fmt.Errorf("postgres store: save snapshot: %w", err)
	}
	return nil
}
