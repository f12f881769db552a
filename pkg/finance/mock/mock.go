// Package mock provides a test double for the finance.Store interface.
//
// Store records every call and can inject per-method errors. It does not
// keep state beyond the call records; list methods return the configured
// fixtures.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/nivest/pkg/finance"
)

// Store is a mock implementation of finance.Store.
type Store struct {
	mu sync.Mutex

	// AddTransactionErr, if non-nil, is returned by AddTransaction.
	AddTransactionErr error
	// AddGoalErr, if non-nil, is returned by AddGoal.
	AddGoalErr error
	// LogInteractionErr, if non-nil, is returned by LogInteraction.
	LogInteractionErr error
	// SaveSnapshotErr, if non-nil, is returned by SaveSnapshot.
	SaveSnapshotErr error

	// TransactionsResult and GoalsResult are returned by the list methods.
	TransactionsResult []finance.Transaction
	GoalsResult        []finance.Goal
	Income             float64

	// Call records.
	AddTransactionCalls []finance.Transaction
	AddGoalCalls        []finance.Goal
	InteractionCalls    []finance.Interaction
	SnapshotCalls       []finance.Snapshot
}

// AddTransaction records the call.
func (s *Store) AddTransaction(_ context.Context, t finance.Transaction) (finance.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AddTransactionCalls = append(s.AddTransactionCalls, t)
	if s.AddTransactionErr != nil {
		return finance.Transaction{}, s.AddTransactionErr
	}
	return t, nil
}

// AddGoal records the call.
func (s *Store) AddGoal(_ context.Context, g finance.Goal) (finance.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.AddGoalCalls = append(s.AddGoalCalls, g)
	if s.AddGoalErr != nil {
		return finance.Goal{}, s.AddGoalErr
	}
	return g, nil
}

// LogInteraction records the call.
func (s *Store) LogInteraction(_ context.Context, i finance.Interaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.InteractionCalls = append(s.InteractionCalls, i)
	return s.LogInteractionErr
}

// Transactions returns TransactionsResult.
func (s *Store) Transactions(context.Context) ([]finance.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.TransactionsResult, nil
}

// Goals returns GoalsResult.
func (s *Store) Goals(context.Context) ([]finance.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.GoalsResult, nil
}

// MonthlyIncome returns Income.
func (s *Store) MonthlyIncome(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Income, nil
}

// SetMonthlyIncome sets Income.
func (s *Store) SetMonthlyIncome(_ context.Context, amount float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Income = amount
	return nil
}

// SaveSnapshot records the call.
func (s *Store) SaveSnapshot(_ context.Context, snap finance.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SnapshotCalls = append(s.SnapshotCalls, snap)
	return s.SaveSnapshotErr
}

// Interactions returns a copy of InteractionCalls. Thread-safe.
func (s *Store) Interactions() []finance.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]finance.Interaction(nil), s.InteractionCalls...)
}

// Counts returns the number of AddTransaction, AddGoal and LogInteraction
// calls. Thread-safe.
func (s *Store) Counts() (transactions, goals, interactions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.AddTransactionCalls), len(s.AddGoalCalls), len(s.InteractionCalls)
}

var _ finance.Store = (*Store)(nil)
