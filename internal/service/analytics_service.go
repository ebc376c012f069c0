package service

import (
	"context"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/engine"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ============================================================
// Cash flow
// ============================================================

// CashFlow projects receivables and installments month by month within
// [from, to]. Empty bounds are open.
func (s *MilesService) CashFlow(ctx context.Context, ownerID, from, to string) ([]domain.LedgerEntry, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.CashFlow")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	fromMonth, toMonth, err := parseRange(from, to)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return engine.Ledger(engine.Project(snap.Installments, snap.Operations), fromMonth, toMonth), nil
}

func parseRange(from, to string) (domain.Month, domain.Month, error) {
	var f, t domain.Month
	var err error
	if from != "" {
		if f, err = domain.ParseMonth(from); err != nil {
			return "", "", &domain.ErrValidation{Field: "from", Message: "must be a YYYY-MM month"}
		}
	}
	if to != "" {
		if t, err = domain.ParseMonth(to); err != nil {
			return "", "", &domain.ErrValidation{Field: "to", Message: "must be a YYYY-MM month"}
		}
	}
	if f != "" && t != "" && t.Before(f) {
		return "", "", &domain.ErrValidation{Field: "to", Message: "must not be before 'from'"}
	}
	return f, t, nil
}

// ============================================================
// Performance metrics
// ============================================================

// MonthlySummary computes the month's profit & loss and averages.
func (s *MilesService) MonthlySummary(ctx context.Context, ownerID, month string) (*domain.MonthlySummary, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.MonthlySummary")
	defer span.End()
	span.SetAttributes(attribute.String("month", month))

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	m, err := domain.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	summary := s.summarize(m, snap)
	if summary.TaxAlert {
		s.logger.Info("monthly revenue above tax alert threshold",
			zap.String("owner_id", ownerID),
			zap.String("month", string(m)),
			zap.String("revenue", summary.Revenue.String()),
		)
	}
	return &summary, nil
}

func (s *MilesService) summarize(m domain.Month, snap LedgerSnapshot) domain.MonthlySummary {
	replay := engine.ReplayOperations(snap.Operations, nil)
	return engine.Summarize(m, snap.Operations, snap.Installments, replay.SaleCostBasis, s.taxAlert)
}

// OperationMetrics rates every purchase (CPM) and sale (CPV, ROI).
func (s *MilesService) OperationMetrics(ctx context.Context, ownerID string, filter domain.OperationFilter) ([]domain.OperationMetrics, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.OperationMetrics")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	// cost basis needs the whole log; filtering happens afterwards
	replay := engine.ReplayOperations(snap.Operations, nil)
	selected := make([]domain.Operation, 0, len(snap.Operations))
	for _, op := range snap.Operations {
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
		selected = append(selected, op)
	}
	return engine.OperationsMetrics(selected, replay.SaleCostBasis, s.thresholds), nil
}

// ============================================================
// Goals (metas)
// ============================================================

// UpsertGoal creates or replaces the targets of one month.
func (s *MilesService) UpsertGoal(ctx context.Context, ownerID, month string, req *domain.GoalRequest) (*domain.Goal, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.UpsertGoal")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	m, err := domain.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	if req.TargetProfit.IsNegative() {
		return nil, &domain.ErrValidation{Field: "target_profit", Message: "must not be negative"}
	}
	if req.TargetVolume.IsNegative() {
		return nil, &domain.ErrValidation{Field: "target_volume", Message: "must not be negative"}
	}
	for field, v := range map[string]*decimal.Decimal{
		"target_cpm":    req.TargetCPM,
		"target_cpv":    req.TargetCPV,
		"target_margin": req.TargetMargin,
	} {
		if v != nil && v.IsNegative() {
			return nil, &domain.ErrValidation{Field: field, Message: "must not be negative"}
		}
	}

	goal, err := s.store.UpsertGoal(ctx, &domain.Goal{
		OwnerID:      ownerID,
		Month:        m,
		TargetProfit: req.TargetProfit,
		TargetVolume: req.TargetVolume,
		TargetCPM:    req.TargetCPM,
		TargetCPV:    req.TargetCPV,
		TargetMargin: req.TargetMargin,
		UpdatedAt:    s.now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("goal saved", zap.String("owner_id", ownerID), zap.String("month", string(m)))
	return goal, nil
}

// GoalProgress returns a month's goal with how much of it was reached.
func (s *MilesService) GoalProgress(ctx context.Context, ownerID, month string) (*domain.GoalProgress, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.GoalProgress")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	m, err := domain.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	goal, err := s.store.GetGoal(ctx, ownerID, m)
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshot(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	progress := engine.Progress(*goal, s.summarize(m, snap))
	return &progress, nil
}

func (s *MilesService) ListGoals(ctx context.Context, ownerID string) ([]domain.Goal, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.ListGoals")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.ListGoals(ctx, ownerID)
}

// ============================================================
// Dashboard
// ============================================================

// Dashboard gathers the home screen: balances, the current month's summary
// and goal, the forward cash flow and the cards. Independent reads run
// concurrently.
func (s *MilesService) Dashboard(ctx context.Context, ownerID string) (*domain.Dashboard, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.Dashboard")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}

	month := s.currentMonth()
	var (
		snap     LedgerSnapshot
		programs []domain.Program
		cards    []domain.Card
		goal     *domain.Goal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap, err = s.snapshot(gctx, ownerID)
		return err
	})
	g.Go(func() error {
		var err error
		programs, err = s.store.ListPrograms(gctx, ownerID)
		return err
	})
	g.Go(func() error {
		var err error
		cards, err = s.store.ListCards(gctx, ownerID)
		return err
	})
	g.Go(func() error {
		found, err := s.store.GetGoal(gctx, ownerID, month)
		if domain.IsNotFound(err) {
			return nil
		}
		goal = found
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := s.summarize(month, snap)
	dash := &domain.Dashboard{
		Month:    month,
		Balances: withProgramNames(engine.ComputeBalances(snap.Operations, snap.overrideMap()), programs),
		Summary:  summary,
		CashFlow: engine.Ledger(engine.Project(snap.Installments, snap.Operations), month, ""),
		Cards:    cards,
	}
	if goal != nil {
		progress := engine.Progress(*goal, summary)
		dash.Goal = &progress
	}
	return dash, nil
}
