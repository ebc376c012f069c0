package handler

import (
	"net/http"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Programs & balances
// ============================================================

func createProgramHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/programs")
		defer span.End()

		var req domain.ProgramRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		program, err := svc.CreateProgram(ctx, OwnerIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, program)
	}
}

func listProgramsHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/programs")
		defer span.End()

		programs, err := svc.ListPrograms(ctx, OwnerIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Program]{Data: programs, Total: len(programs)})
	}
}

func balancesHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/balances")
		defer span.End()

		balances, err := svc.Balances(ctx, OwnerIDFromContext(ctx))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.ProgramBalance]{Data: balances, Total: len(balances)})
	}
}

func setOverrideHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "PUT /v1/balances/{programId}/override")
		defer span.End()

		var req domain.OverrideRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		adj, err := svc.SetManualBalanceOverride(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "programId"), req.Value)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, adj)
	}
}

func clearOverrideHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/balances/{programId}/override")
		defer span.End()

		adj, err := svc.ClearManualBalanceOverride(ctx, OwnerIDFromContext(ctx), chi.URLParam(r, "programId"))
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, adj)
	}
}
