package finance

import (
	"context"
	"fmt"
	"time"
)

// Summarize computes a snapshot from raw records. When monthlyIncome is zero
// the total recorded income stands in for it.
func Summarize(txs []Transaction, goals []Goal, monthlyIncome float64) Snapshot {
	var s Snapshot
	for _, t := range txs {
		switch t.Type {
		case Income:
			s.TotalIncome += t.Amount
		case Expense:
			s.TotalExpenses += t.Amount
		}
	}
	if monthlyIncome == 0 {
		monthlyIncome = s.TotalIncome
	}
	s.MonthlyIncome = monthlyIncome
	s.RemainingBudget = monthlyIncome - s.TotalExpenses
	s.GoalsCount = len(goals)
	return s
}

// Capture summarizes the store's current state and saves the snapshot with
// the given reason (e.g. "transaction-added").
func Capture(ctx context.Context, store Store, reason string) (Snapshot, error) {
	s, err := Current(ctx, store)
	if err != nil {
		return Snapshot{}, err
	}
	s.Reason = reason
	if err := store.SaveSnapshot(ctx, s); err != nil {
		return Snapshot{}, fmt.Errorf("finance: save snapshot: %w", err)
	}
	return s, nil
}

// Current summarizes the store without persisting anything.
func Current(ctx context.Context, store Store) (Snapshot, error) {
	txs, err := store.Transactions(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("finance: list transactions: %w", err)
	}
	goals, err := store.Goals(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("finance: list goals: %w", err)
	}
	income, err := store.MonthlyIncome(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("finance: monthly income: %w", err)
	}
	s := Summarize(txs, goals, income)
	s.UserPhone = DefaultUserPhone
	s.CreatedAt = time.Now().UTC()
	return s, nil
}
