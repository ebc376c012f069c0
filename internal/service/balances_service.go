package service

import (
	"context"
	"strings"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/engine"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ============================================================
// Programs
// ============================================================

func (s *MilesService) CreateProgram(ctx context.Context, ownerID string, req *domain.ProgramRequest) (*domain.Program, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.CreateProgram")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}

	program, err := s.store.CreateProgram(ctx, &domain.Program{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		Kind:      strings.TrimSpace(req.Kind),
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("program created", zap.String("owner_id", ownerID), zap.String("program_id", program.ID))
	return program, nil
}

func (s *MilesService) ListPrograms(ctx context.Context, ownerID string) ([]domain.Program, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.ListPrograms")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.ListPrograms(ctx, ownerID)
}

// ============================================================
// Balances
// ============================================================

// Balances derives every program's balance from the operation log.
// Registered programs without operations are listed with zero balances.
func (s *MilesService) Balances(ctx context.Context, ownerID string) ([]domain.ProgramBalance, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.Balances")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	programs, err := s.store.ListPrograms(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return withProgramNames(engine.ComputeBalances(snap.Operations, snap.overrideMap()), programs), nil
}

func withProgramNames(balances map[string]domain.ProgramBalance, programs []domain.Program) []domain.ProgramBalance {
	for _, p := range programs {
		b, ok := balances[p.ID]
		if !ok {
			b = domain.ProgramBalance{ProgramID: p.ID}
		}
		b.ProgramName = p.Name
		balances[p.ID] = b
	}
	return engine.SortedBalances(balances)
}

// SetManualBalanceOverride pins the displayed balance of a program to
// value. The calculated balance keeps being derived from the log.
func (s *MilesService) SetManualBalanceOverride(ctx context.Context, ownerID, programID string, value decimal.Decimal) (*domain.ManualAdjustment, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.SetManualBalanceOverride")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if value.IsNegative() {
		return nil, &domain.ErrValidation{Field: "value", Message: "must not be negative"}
	}
	if err := s.requireProgram(ctx, ownerID, "program_id", programID); err != nil {
		return nil, err
	}

	adj, err := s.store.UpsertOverride(ctx, &domain.ManualAdjustment{
		OwnerID:     ownerID,
		ProgramID:   programID,
		Value:       value,
		UseOverride: true,
		UpdatedAt:   s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	s.invalidate(ownerID)
	s.logger.Info("balance override set",
		zap.String("owner_id", ownerID),
		zap.String("program_id", programID),
		zap.String("value", value.String()),
	)
	return adj, nil
}

// ClearManualBalanceOverride switches the override off, keeping the last
// manual value for reference.
func (s *MilesService) ClearManualBalanceOverride(ctx context.Context, ownerID, programID string) (*domain.ManualAdjustment, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.ClearManualBalanceOverride")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	overrides, err := s.store.ListOverrides(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var current *domain.ManualAdjustment
	for i := range overrides {
		if overrides[i].ProgramID == programID {
			current = &overrides[i]
			break
		}
	}
	if current == nil {
		return nil, &domain.ErrNotFound{Resource: "balance override", ID: programID}
	}
	if !current.UseOverride {
		return current, nil
	}

	current.UseOverride = false
	current.UpdatedAt = s.now().UTC()
	adj, err := s.store.UpsertOverride(ctx, current)
	if err != nil {
		return nil, err
	}

	s.invalidate(ownerID)
	s.logger.Info("balance override cleared", zap.String("owner_id", ownerID), zap.String("program_id", programID))
	return adj, nil
}
