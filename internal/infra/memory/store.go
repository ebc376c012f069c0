// Package memory is an in-process LedgerStore. It backs local development
// (STORE_BACKEND=memory) and the service/handler tests. Data is lost on
// restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/port"
)

// Store keeps every table in maps guarded by one mutex, so multi-row
// writes (financed purchases, transfers, settles) are atomic.
type Store struct {
	mu           sync.RWMutex
	operations   map[string]domain.Operation
	installments map[string]domain.Installment
	cards        map[string]domain.Card
	programs     map[string]domain.Program
	overrides    map[string]domain.ManualAdjustment // owner|program
	goals        map[string]domain.Goal             // owner|month
}

var _ port.LedgerStore = (*Store)(nil)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		operations:   make(map[string]domain.Operation),
		installments: make(map[string]domain.Installment),
		cards:        make(map[string]domain.Card),
		programs:     make(map[string]domain.Program),
		overrides:    make(map[string]domain.ManualAdjustment),
		goals:        make(map[string]domain.Goal),
	}
}

func key(a, b string) string {
	return a + "|" + b
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// ============================================================
// Operations
// ============================================================

func (s *Store) ListOperations(_ context.Context, ownerID string, filter domain.OperationFilter) ([]domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Operation, 0)
	for _, op := range s.operations {
		if op.OwnerID != ownerID {
			continue
		}
		if filter.Type != "" && op.Type != filter.Type {
			continue
		}
		if filter.ProgramID != "" && op.ProgramID != filter.ProgramID {
			continue
		}
		if filter.From != nil && op.Date.Before(*filter.From) {
			continue
		}
		if filter.To != nil && op.Date.After(*filter.To) {
			continue
		}
		result = append(result, op)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.Before(b.Date.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return result, nil
}

func (s *Store) GetOperation(_ context.Context, ownerID, operationID string) (*domain.Operation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	op, ok := s.operations[operationID]
	if !ok || op.OwnerID != ownerID {
		return nil, &domain.ErrNotFound{Resource: "operation", ID: operationID}
	}
	return &op, nil
}

func (s *Store) CreateOperation(_ context.Context, op *domain.Operation) (*domain.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operations[op.ID]; exists {
		return nil, &domain.ErrConflict{Message: "operation already exists: " + op.ID}
	}
	stored := *op
	s.operations[op.ID] = stored
	return &stored, nil
}

func (s *Store) CreateFinancedPurchase(_ context.Context, op *domain.Operation, installments []domain.Installment) (*domain.Operation, []domain.Installment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.operations[op.ID]; exists {
		return nil, nil, &domain.ErrConflict{Message: "operation already exists: " + op.ID}
	}
	for _, inst := range installments {
		if _, exists := s.installments[inst.ID]; exists {
			return nil, nil, &domain.ErrConflict{Message: "installment already exists: " + inst.ID}
		}
	}

	stored := *op
	s.operations[op.ID] = stored
	out := make([]domain.Installment, len(installments))
	for i, inst := range installments {
		s.installments[inst.ID] = inst
		out[i] = inst
	}
	return &stored, out, nil
}

func (s *Store) CreateTransfer(_ context.Context, out, in *domain.Operation) (*domain.Operation, *domain.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range []string{out.ID, in.ID} {
		if _, exists := s.operations[id]; exists {
			return nil, nil, &domain.ErrConflict{Message: "operation already exists: " + id}
		}
	}
	o, i := *out, *in
	s.operations[o.ID] = o
	s.operations[i.ID] = i
	return &o, &i, nil
}

func (s *Store) DeleteOperation(_ context.Context, ownerID, operationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.operations[operationID]
	if !ok || op.OwnerID != ownerID {
		return &domain.ErrNotFound{Resource: "operation", ID: operationID}
	}

	doomed := map[string]bool{op.ID: true}
	if op.TransferGroupID != nil {
		for id, other := range s.operations {
			if other.OwnerID == ownerID && other.TransferGroupID != nil && *other.TransferGroupID == *op.TransferGroupID {
				doomed[id] = true
			}
		}
	}

	for id := range doomed {
		delete(s.operations, id)
	}
	for id, inst := range s.installments {
		if doomed[inst.OperationID] {
			delete(s.installments, id)
		}
	}
	return nil
}

func (s *Store) MarkSalesReceived(_ context.Context, ownerID string, ids []string, receivedAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		op, ok := s.operations[id]
		if !ok || op.OwnerID != ownerID || op.Type != domain.OpSale || op.Status == domain.StatusReceived {
			continue
		}
		at := receivedAt
		op.Status = domain.StatusReceived
		op.ReceivedAt = &at
		s.operations[id] = op
		n++
	}
	return n, nil
}

// ============================================================
// Installments
// ============================================================

func (s *Store) ListInstallments(_ context.Context, ownerID string, filter domain.InstallmentFilter) ([]domain.Installment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Installment, 0)
	for _, inst := range s.installments {
		if inst.OwnerID != ownerID {
			continue
		}
		if filter.CardID != "" && inst.CardID != filter.CardID {
			continue
		}
		if filter.DueMonth != "" && inst.DueMonth != filter.DueMonth {
			continue
		}
		if filter.OperationID != "" && inst.OperationID != filter.OperationID {
			continue
		}
		if filter.UnpaidOnly && inst.Paid {
			continue
		}
		result = append(result, inst)
	}
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if a.DueMonth != b.DueMonth {
			return a.DueMonth < b.DueMonth
		}
		if a.OperationID != b.OperationID {
			return a.OperationID < b.OperationID
		}
		return a.Sequence < b.Sequence
	})
	return result, nil
}

func (s *Store) SettleInstallments(_ context.Context, ownerID, cardID string, month domain.Month, paidAt time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, inst := range s.installments {
		if inst.OwnerID != ownerID || inst.CardID != cardID || inst.DueMonth != month || inst.Paid {
			continue
		}
		at := paidAt
		inst.Paid = true
		inst.PaidAt = &at
		s.installments[id] = inst
		n++
	}
	return n, nil
}

// ============================================================
// Cards
// ============================================================

func (s *Store) CreateCard(_ context.Context, card *domain.Card) (*domain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *card
	s.cards[card.ID] = stored
	return &stored, nil
}

func (s *Store) ListCards(_ context.Context, ownerID string) ([]domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Card, 0)
	for _, c := range s.cards {
		if c.OwnerID == ownerID {
			result = append(result, c)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) GetCard(_ context.Context, ownerID, cardID string) (*domain.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[cardID]
	if !ok || c.OwnerID != ownerID {
		return nil, &domain.ErrNotFound{Resource: "card", ID: cardID}
	}
	return &c, nil
}

func (s *Store) DeleteCard(_ context.Context, ownerID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cards[cardID]
	if !ok || c.OwnerID != ownerID {
		return &domain.ErrNotFound{Resource: "card", ID: cardID}
	}
	for _, inst := range s.installments {
		if inst.OwnerID == ownerID && inst.CardID == cardID && !inst.Paid {
			return &domain.ErrConflict{Message: "card has unpaid installments"}
		}
	}
	delete(s.cards, cardID)
	return nil
}

// ============================================================
// Programs, overrides, goals
// ============================================================

func (s *Store) CreateProgram(_ context.Context, program *domain.Program) (*domain.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *program
	s.programs[program.ID] = stored
	return &stored, nil
}

func (s *Store) ListPrograms(_ context.Context, ownerID string) ([]domain.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Program, 0)
	for _, p := range s.programs {
		if p.OwnerID == ownerID {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (s *Store) GetProgram(_ context.Context, ownerID, programID string) (*domain.Program, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.programs[programID]
	if !ok || p.OwnerID != ownerID {
		return nil, &domain.ErrNotFound{Resource: "program", ID: programID}
	}
	return &p, nil
}

func (s *Store) ListOverrides(_ context.Context, ownerID string) ([]domain.ManualAdjustment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ManualAdjustment, 0)
	for _, adj := range s.overrides {
		if adj.OwnerID == ownerID {
			result = append(result, adj)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProgramID < result[j].ProgramID })
	return result, nil
}

func (s *Store) UpsertOverride(_ context.Context, adj *domain.ManualAdjustment) (*domain.ManualAdjustment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *adj
	s.overrides[key(adj.OwnerID, adj.ProgramID)] = stored
	return &stored, nil
}

func (s *Store) UpsertGoal(_ context.Context, goal *domain.Goal) (*domain.Goal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *goal
	s.goals[key(goal.OwnerID, string(goal.Month))] = stored
	return &stored, nil
}

func (s *Store) GetGoal(_ context.Context, ownerID string, month domain.Month) (*domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.goals[key(ownerID, string(month))]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "goal", ID: string(month)}
	}
	return &g, nil
}

func (s *Store) ListGoals(_ context.Context, ownerID string) ([]domain.Goal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Goal, 0)
	for _, g := range s.goals {
		if g.OwnerID == ownerID {
			result = append(result, g)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Month < result[j].Month })
	return result, nil
}
