package finance_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/nivest/pkg/finance"
)

func TestSummarize(t *testing.T) {
	t.Parallel()
	txs := []finance.Transaction{
		{Type: finance.Income, Amount: 40000},
		{Type: finance.Expense, Amount: 500},
		{Type: finance.Expense, Amount: 1500},
	}
	goals := []finance.Goal{{Title: "Bike"}}

	s := finance.Summarize(txs, goals, 50000)
	if s.TotalIncome != 40000 || s.TotalExpenses != 2000 {
		t.Errorf("totals = %v / %v", s.TotalIncome, s.TotalExpenses)
	}
	if s.MonthlyIncome != 50000 || s.RemainingBudget != 48000 || s.GoalsCount != 1 {
		t.Errorf("snapshot = %+v", s)
	}

	// Without a configured income the recorded income stands in.
	if s := finance.Summarize(txs, nil, 0); s.MonthlyIncome != 40000 || s.RemainingBudget != 38000 {
		t.Errorf("fallback snapshot = %+v", s)
	}
}

func TestMemStore(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := finance.NewMemStore()

	first, err := m.AddTransaction(ctx, finance.Transaction{Type: finance.Expense, Amount: 500, Category: "Food"})
	if err != nil {
		t.Fatalf("AddTransaction: %v", err)
	}
	if first.ID == "" || first.Date.IsZero() {
		t.Errorf("stored transaction = %+v, want ID and Date", first)
	}
	second, _ := m.AddTransaction(ctx, finance.Transaction{Type: finance.Income, Amount: 100})

	txs, _ := m.Transactions(ctx)
	if len(txs) != 2 || txs[0].ID != second.ID {
		t.Errorf("Transactions not newest first: %+v", txs)
	}

	if _, err := m.AddTransaction(ctx, finance.Transaction{Type: "refund"}); !errors.Is(err, finance.ErrInvalidRecord) {
		t.Errorf("invalid type err = %v", err)
	}

	if err := m.LogInteraction(ctx, finance.Interaction{Prompt: "p", Response: "r"}); err != nil {
		t.Fatalf("LogInteraction: %v", err)
	}
	if got := m.Interactions(); len(got) != 1 || got[0].UserPhone != finance.DefaultUserPhone {
		t.Errorf("interactions = %+v", got)
	}
}

func TestCapture(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	m := finance.NewMemStore()
	_ = m.SetMonthlyIncome(ctx, 30000)
	_, _ = m.AddTransaction(ctx, finance.Transaction{Type: finance.Expense, Amount: 1000})
	_, _ = m.AddGoal(ctx, finance.Goal{Title: "Laptop", TargetAmount: 80000})

	s, err := finance.Capture(ctx, m, "transaction-added")
	if err != nil {
		t.Fatalf("Capture: %v", err)
	}
	if s.Reason != "transaction-added" || s.RemainingBudget != 29000 || s.GoalsCount != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if saved := m.Snapshots(); len(saved) != 1 || saved[0].Reason != "transaction-added" {
		t.Errorf("saved = %+v", saved)
	}
}
