package postgres

import (
	"context"
	"errors"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

// ============================================================
// Programs, overrides, goals
// ============================================================

var programColumns = []string{"id", "owner_id", "name", "kind", "created_at"}

func (s *Store) CreateProgram(ctx context.Context, program *domain.Program) (*domain.Program, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateProgram")
	defer span.End()

	_, err := s.exec(ctx, s.pool, psql.Insert("programs").Columns(programColumns...).
		Values(program.ID, program.OwnerID, program.Name, program.Kind, program.CreatedAt))
	if err != nil {
		return nil, err
	}
	saved := *program
	return &saved, nil
}

func (s *Store) ListPrograms(ctx context.Context, ownerID string) ([]domain.Program, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListPrograms")
	defer span.End()

	query, args, err := psql.Select(programColumns...).From("programs").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", query, args, err)
	}
	defer rows.Close()

	result := make([]domain.Program, 0)
	for rows.Next() {
		var p domain.Program
		if err := rows.Scan(&p.ID, &p.OwnerID, &p.Name, &p.Kind, &p.CreatedAt); err != nil {
			return nil, s.fail("scan", query, args, err)
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("rows", query, args, err)
	}
	return result, nil
}

func (s *Store) GetProgram(ctx context.Context, ownerID, programID string) (*domain.Program, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetProgram")
	defer span.End()

	query, args, err := psql.Select(programColumns...).From("programs").
		Where(sq.Eq{"owner_id": ownerID, "id": programID}).
		ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	var p domain.Program
	err = s.pool.QueryRow(ctx, query, args...).Scan(&p.ID, &p.OwnerID, &p.Name, &p.Kind, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "program", ID: programID}
	}
	if err != nil {
		return nil, s.fail("scan", query, args, err)
	}
	return &p, nil
}

// --- Overrides ---

func (s *Store) ListOverrides(ctx context.Context, ownerID string) ([]domain.ManualAdjustment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListOverrides")
	defer span.End()

	query, args, err := psql.Select("owner_id", "program_id", "value", "use_override", "updated_at").
		From("balance_overrides").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("program_id").
		ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", query, args, err)
	}
	defer rows.Close()

	result := make([]domain.ManualAdjustment, 0)
	for rows.Next() {
		var adj domain.ManualAdjustment
		if err := rows.Scan(&adj.OwnerID, &adj.ProgramID, &adj.Value, &adj.UseOverride, &adj.UpdatedAt); err != nil {
			return nil, s.fail("scan", query, args, err)
		}
		result = append(result, adj)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("rows", query, args, err)
	}
	return result, nil
}

func (s *Store) UpsertOverride(ctx context.Context, adj *domain.ManualAdjustment) (*domain.ManualAdjustment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpsertOverride")
	defer span.End()

	_, err := s.exec(ctx, s.pool, psql.Insert("balance_overrides").
		Columns("owner_id", "program_id", "value", "use_override", "updated_at").
		Values(adj.OwnerID, adj.ProgramID, adj.Value, adj.UseOverride, adj.UpdatedAt).
		Suffix("ON CONFLICT (owner_id, program_id) DO UPDATE SET " +
			"value = EXCLUDED.value, use_override = EXCLUDED.use_override, updated_at = EXCLUDED.updated_at"))
	if err != nil {
		return nil, err
	}
	saved := *adj
	return &saved, nil
}

// --- Goals ---

var goalColumns = []string{
	"owner_id", "month", "target_profit", "target_volume",
	"target_cpm", "target_cpv", "target_margin", "updated_at",
}

func scanGoal(row pgx.Row) (domain.Goal, error) {
	var (
		g     domain.Goal
		month string
	)
	err := row.Scan(&g.OwnerID, &month, &g.TargetProfit, &g.TargetVolume,
		&g.TargetCPM, &g.TargetCPV, &g.TargetMargin, &g.UpdatedAt)
	g.Month = domain.Month(month)
	return g, err
}

func (s *Store) UpsertGoal(ctx context.Context, goal *domain.Goal) (*domain.Goal, error) {
	ctx, span := tracer.Start(ctx, "Postgres.UpsertGoal")
	defer span.End()

	_, err := s.exec(ctx, s.pool, psql.Insert("goals").Columns(goalColumns...).
		Values(goal.OwnerID, string(goal.Month), goal.TargetProfit, goal.TargetVolume,
			goal.TargetCPM, goal.TargetCPV, goal.TargetMargin, goal.UpdatedAt).
		Suffix("ON CONFLICT (owner_id, month) DO UPDATE SET " +
			"target_profit = EXCLUDED.target_profit, target_volume = EXCLUDED.target_volume, " +
			"target_cpm = EXCLUDED.target_cpm, target_cpv = EXCLUDED.target_cpv, " +
			"target_margin = EXCLUDED.target_margin, updated_at = EXCLUDED.updated_at"))
	if err != nil {
		return nil, err
	}
	saved := *goal
	return &saved, nil
}

func (s *Store) GetGoal(ctx context.Context, ownerID string, month domain.Month) (*domain.Goal, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetGoal")
	defer span.End()

	query, args, err := psql.Select(goalColumns...).From("goals").
		Where(sq.Eq{"owner_id": ownerID, "month": string(month)}).
		ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	g, err := scanGoal(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "goal", ID: string(month)}
	}
	if err != nil {
		return nil, s.fail("scan", query, args, err)
	}
	return &g, nil
}

func (s *Store) ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListGoals")
	defer span.End()

	query, args, err := psql.Select(goalColumns...).From("goals").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("month").
		ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", query, args, err)
	}
	defer rows.Close()

	result := make([]domain.Goal, 0)
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, s.fail("scan", query, args, err)
		}
		result = append(result, g)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("rows", query, args, err)
	}
	return result, nil
}
