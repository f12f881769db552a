package finance

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory [Store].
type MemStore struct {
	mu            sync.RWMutex
	transactions  []Transaction
	goals         []Goal
	interactions  []Interaction
	snapshots     []Snapshot
	monthlyIncome float64
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore { return &MemStore{} }

// AddTransaction implements Store.
func (m *MemStore) AddTransaction(_ context.Context, t Transaction) (Transaction, error) {
	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Date.IsZero() {
		t.Date = time.Now().UTC()
	}
	m.mu.Lock()
	m.transactions = append(m.transactions, t)
	m.mu.Unlock()
	return t, nil
}

// AddGoal implements Store.
func (m *MemStore) AddGoal(_ context.Context, g Goal) (Goal, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	m.mu.Lock()
	m.goals = append(m.goals, g)
	m.mu.Unlock()
	return g, nil
}

// LogInteraction implements Store.
func (m *MemStore) LogInteraction(_ context.Context, i Interaction) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.UserPhone == "" {
		i.UserPhone = DefaultUserPhone
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	i.Context = maps.Clone(i.Context)
	m.mu.Lock()
	m.interactions = append(m.interactions, i)
	m.mu.Unlock()
	return nil
}

// Transactions implements Store.
func (m *MemStore) Transactions(context.Context) ([]Transaction, error) {
	m.mu.RLock()
	out := slices.Clone(m.transactions)
	m.mu.RUnlock()
	slices.Reverse(out)
	return out, nil
}

// Goals implements Store.
func (m *MemStore) Goals(context.Context) ([]Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.goals), nil
}

// MonthlyIncome implements Store.
func (m *MemStore) MonthlyIncome(context.Context) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.monthlyIncome, nil
}

// SetMonthlyIncome implements Store.
func (m *MemStore) SetMonthlyIncome(_ context.Context, amount float64) error {
	m.mu.Lock()
	m.monthlyIncome = amount
	m.mu.Unlock()
	return nil
}

// SaveSnapshot implements Store.
func (m *MemStore) SaveSnapshot(_ context.Context, s Snapshot) error {
	m.mu.Lock()
	m.snapshots = append(m.snapshots, s)
	m.mu.Unlock()
	return nil
}

// Interactions returns the logged interactions in order.
func (m *MemStore) Interactions() []Interaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.interactions)
}

// Snapshots returns the saved snapshots in order.
func (m *MemStore) Snapshots() []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.snapshots)
}
