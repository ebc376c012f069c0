package handler

import (
	"net/http"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Cash flow, metrics, goals
// ============================================================

func cashFlowHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/cashflow")
		defer span.End()

		from := r.URL.Query().Get("from")
		to := r.URL.Query().Get("to")

		entries, err := svc.CashFlow(ctx, OwnerIDFromContext(ctx), from, to)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.LedgerEntry]{Data: entries, Total: len(entries)})
	}
}

func monthlySummaryHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/metrics/monthly/{month}")
		defer span.End()

		summary, err := svc.MonthlySummary(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "month"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	}
}

func operationMetricsHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/metrics/operations")
		defer span.End()

		filter, err := operationFilterFromQuery(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		metrics, err := svc.OperationMetrics(ctx, OwnerIDFromContext(ctx), filter)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.OperationMetrics]{Data: metrics, Total: len(metrics)})
	}
}

func upsertGoalHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/goals/{month}")
		defer span.End()

		var req domain.GoalRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		goal, err := svc.UpsertGoal(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "month"), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, goal)
	}
}

func listGoalsHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/goals")
		defer span.End()

		goals, err := svc.ListGoals(ctx, OwnerIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Goal]{Data: goals, Total: len(goals)})
	}
}

func goalProgressHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/goals/{month}")
		defer span.End()

		progress, err := svc.GoalProgress(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "month"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, progress)
	}
}

func dashboardHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/dashboard")
		defer span.End()

		dashboard, err := svc.Dashboard(ctx, OwnerIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, dashboard)
	}
}
