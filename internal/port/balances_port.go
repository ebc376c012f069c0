package port

import (
	"context"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
)

// ProgramStore handles loyalty program registration.
type ProgramStore interface {
	CreateProgram(ctx context.Context, program *domain.Program) (*domain.Program, error)
	ListPrograms(ctx context.Context, ownerID string) ([]domain.Program, error)
	GetProgram(ctx context.Context, ownerID, programID string) (*domain.Program, error)
}

// BalanceOverrideStore handles manual balance adjustments, one per program.
type BalanceOverrideStore interface {
	ListOverrides(ctx context.Context, ownerID string) ([]domain.ManualAdjustment, error)
	UpsertOverride(ctx context.Context, adj *domain.ManualAdjustment) (*domain.ManualAdjustment, error)
}

// GoalStore handles monthly goals, one per (owner, month).
type GoalStore interface {
	UpsertGoal(ctx context.Context, goal *domain.Goal) (*domain.Goal, error)
	GetGoal(ctx context.Context, ownerID string, month domain.Month) (*domain.Goal, error)
	ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error)
}
