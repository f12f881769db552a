// Package finance defines the personal-finance records the voice assistant
// writes and the [Store] interface that persists them.
//
// Two implementations exist: [MemStore] for single-process use and tests, and
// the postgres subpackage for durable storage. Both are safe for concurrent
// use.
package finance

import (
	"context"
	"errors"
	"time"
)

// TransactionType is the direction of a money movement.
type TransactionType string

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// DefaultUserPhone tags interactions recorded without a known user.
const DefaultUserPhone = "anonymous"

// ErrInvalidRecord is returned when a record fails validation before it is
// stored.
var ErrInvalidRecord = errors.New("finance: invalid record")

// Transaction is one income or expense entry.
type Transaction struct {
	ID          string          `json:"id"`
	Type        TransactionType `json:"type"`
	Category    string          `json:"category"`
	Amount      float64         `json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `json:"date"`
}

// Validate checks the fields a store relies on.
func (t Transaction) Validate() error {
	if t.Type != Income && t.Type != Expense {
		return errors.Join(ErrInvalidRecord, errors.New("transaction type must be income or expense"))
	}
	if t.Amount < 0 {
		return errors.Join(ErrInvalidRecord, errors.New("transaction amount must not be negative"))
	}
	return nil
}

// Goal is a savings target.
type Goal struct {
	ID                  string  `json:"id"`
	Title               string  `json:"title"`
	CurrentAmount       float64 `json:"currentAmount"`
	TargetAmount        float64 `json:"targetAmount"`
	Icon                string  `json:"icon"`
	Color               string  `json:"color"`
	MonthlyContribution float64 `json:"monthlyContribution"`
}

// Interaction is one logged prompt/response exchange.
type Interaction struct {
	ID        string         `json:"id"`
	Prompt    string         `json:"prompt"`
	Response  string         `json:"response"`
	UserPhone string         `json:"userPhone"`
	Context   map[string]any `json:"context"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Snapshot is a point-in-time summary of the user's finances.
type Snapshot struct {
	Reason          string    `json:"reason"`
	UserPhone       string    `json:"userPhone"`
	TotalIncome     float64   `json:"totalIncome"`
	TotalExpenses   float64   `json:"totalExpenses"`
	MonthlyIncome   float64   `json:"monthlyIncome"`
	RemainingBudget float64   `json:"remainingBudget"`
	GoalsCount      int       `json:"goalsCount"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Store persists finance records. Add methods assign ID and timestamps when
// they are empty and return the stored record.
type Store interface {
	AddTransaction(ctx context.Context, t Transaction) (Transaction, error)
	AddGoal(ctx context.Context, g Goal) (Goal, error)
	LogInteraction(ctx context.Context, i Interaction) error

	// Transactions returns all transactions, newest first.
	Transactions(ctx context.Context) ([]Transaction, error)

	// Goals returns all goals in creation order.
	Goals(ctx context.Context) ([]Goal, error)

	// MonthlyIncome returns the configured monthly income, or zero.
	MonthlyIncome(ctx context.Context) (float64, error)
	SetMonthlyIncome(ctx context.Context, amount float64) error

	SaveSnapshot(ctx context.Context, s Snapshot) error
}
