package supabase

import (
	"context"
	"net/http"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
)

// ============================================================
// Programs, balance overrides and goals
// ============================================================

const (
	tablePrograms  = "programs"
	tableOverrides = "balance_overrides"
	tableGoals     = "goals"
)

func (c *Client) CreateProgram(ctx context.Context, program *domain.Program) (*domain.Program, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateProgram")
	defer span.End()

	var rows []domain.Program
	if err := c.write(ctx, http.MethodPost, tablePrograms, program, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return program, nil
	}
	return &rows[0], nil
}

func (c *Client) ListPrograms(ctx context.Context, ownerID string) ([]domain.Program, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListPrograms")
	defer span.End()

	rows := []domain.Program{}
	if err := c.get(ctx, query(tablePrograms, append(ownerFilter(ownerID), "order", "name.asc")...), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) GetProgram(ctx context.Context, ownerID, programID string) (*domain.Program, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetProgram")
	defer span.End()

	var rows []domain.Program
	path := query(tablePrograms, append(ownerFilter(ownerID), "id", eq(programID), "limit", "1")...)
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("program", programID)
	}
	return &rows[0], nil
}

// --- Overrides ---

func (c *Client) ListOverrides(ctx context.Context, ownerID string) ([]domain.ManualAdjustment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListOverrides")
	defer span.End()

	rows := []domain.ManualAdjustment{}
	if err := c.get(ctx, query(tableOverrides, append(ownerFilter(ownerID), "order", "program_id.asc")...), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// UpsertOverride relies on the (owner_id, program_id) unique key.
func (c *Client) UpsertOverride(ctx context.Context, adj *domain.ManualAdjustment) (*domain.ManualAdjustment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertOverride")
	defer span.End()

	var rows []domain.ManualAdjustment
	path := query(tableOverrides, "on_conflict", "owner_id,program_id")
	if err := c.write(ctx, http.MethodPost, path, adj, preferUpsert, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return adj, nil
	}
	return &rows[0], nil
}

// --- Goals ---

// UpsertGoal relies on the (owner_id, month) unique key.
func (c *Client) UpsertGoal(ctx context.Context, goal *domain.Goal) (*domain.Goal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.UpsertGoal")
	defer span.End()

	var rows []domain.Goal
	path := query(tableGoals, "on_conflict", "owner_id,month")
	if err := c.write(ctx, http.MethodPost, path, goal, preferUpsert, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return goal, nil
	}
	return &rows[0], nil
}

func (c *Client) GetGoal(ctx context.Context, ownerID string, month domain.Month) (*domain.Goal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetGoal")
	defer span.End()

	var rows []domain.Goal
	path := query(tableGoals, append(ownerFilter(ownerID), "month", eq(string(month)), "limit", "1")...)
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("goal", string(month))
	}
	return &rows[0], nil
}

func (c *Client) ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListGoals")
	defer span.End()

	rows := []domain.Goal{}
	if err := c.get(ctx, query(tableGoals, append(ownerFilter(ownerID), "order", "month.asc")...), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}
