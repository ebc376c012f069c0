package handler

import (
	"net/http"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ============================================================
// Operations log
// ============================================================

func recordPurchaseHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operations/purchases")
		defer span.End()

		var req domain.PurchaseRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		receipt, err := svc.RecordPurchase(ctx, OwnerIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	}
}

func recordSaleHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operations/sales")
		defer span.End()

		var req domain.SaleRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		op, err := svc.RecordSale(ctx, OwnerIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, op)
	}
}

func receiveSalesHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operations/sales/receive")
		defer span.End()

		var req domain.ReceiveSalesRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		n, err := svc.MarkSalesReceived(ctx, OwnerIDFromContext(ctx), req.IDs)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"received": n})
	}
}

func recordTransferHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "POST /v1/operations/transfers")
		defer span.End()

		var req domain.TransferRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		receipt, err := svc.RecordTransfer(ctx, OwnerIDFromContext(ctx), &req)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	}
}

func listOperationsHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "GET /v1/operations")
		defer span.End()

		filter, err := operationFilterFromQuery(r)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}

		ops, err := svc.ListOperations(ctx, OwnerIDFromContext(ctx), filter)
		if err != nil {
			handleServiceError(w, err, logger)
			return
		}
		writeJSON(w, http.StatusOK, domain.ListResponse[domain.Operation]{Data: ops, Total: len(ops)})
	}
}

func deleteOperationHandler(svc *service.MilesService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := tracer.Start(r.Context(), "DELETE /v1/operations/{operationId}")
		defer span.End()

		operationID := chi.URLParam(r, "operationId")
		if err := svc.DeleteOperation(ctx, OwnerIDFromContext(ctx), operationID); err != nil {
			handleServiceError(w, err, logger)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// operationFilterFromQuery reads ?type=&program_id=&from=&to= (dates YYYY-MM-DD).
func operationFilterFromQuery(r *http.Request) (domain.OperationFilter, error) {
	q := r.URL.Query()
	filter := domain.OperationFilter{
		Type:      domain.OperationType(q.Get("type")),
		ProgramID: q.Get("program_id"),
	}
	if from := q.Get("from"); from != "" {
		t, err := domain.ParseDate("from", from)
		if err != nil {
			return filter, err
		}
		filter.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := domain.ParseDate("to", to)
		if err != nil {
			return filter, err
		}
		filter.To = &t
	}
	return filter, nil
}
