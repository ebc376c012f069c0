package handler

import (
	"net/http"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/observability"
	"github.com/boddenberg/milhas-bfa-go/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

var tracer = otel.Tracer("handler")

// AuthConfig selects how the owner of a request is identified.
type AuthConfig struct {
	Tokens TokenValidator
	// DevAuth accepts the X-Owner-ID header instead of a token.
	DevAuth bool
}

// NewRouter creates the HTTP router with all routes and middleware.
func NewRouter(svc *service.MilesService, auth AuthConfig, metrics *observability.Metrics, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// --- Middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.ZapLoggerMiddleware(logger))
	r.Use(observability.TracingMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/ping"))
	r.Use(RequestDuration(metrics))

	// --- Operational endpoints ---
	r.Get("/healthz", healthzHandler(svc))
	r.Get("/readyz", readyzHandler())
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// --- API v1 ---
	r.Route("/v1", func(r chi.Router) {
		r.Use(OwnerAuth(auth, logger))

		// =============================================
		// Programs & balances
		// =============================================
		r.Post("/programs", createProgramHandler(svc, logger))
		r.Get("/programs", listProgramsHandler(svc, logger))
		r.Get("/balances", balancesHandler(svc, logger))
		r.Put("/balances/{programId}/override", setOverrideHandler(svc, logger))
		r.Delete("/balances/{programId}/override", clearOverrideHandler(svc, logger))

		// =============================================
		// Cards & statements
		// =============================================
		r.Post("/cards", createCardHandler(svc, logger))
		r.Get("/cards", listCardsHandler(svc, logger))
		r.Get("/cards/{cardId}", getCardHandler(svc, logger))
		r.Delete("/cards/{cardId}", deleteCardHandler(svc, logger))
		r.Get("/cards/{cardId}/statements/{month}", cardStatementHandler(svc, logger))
		r.Post("/cards/{cardId}/statements/{month}/settle", settleStatementHandler(svc, logger))

		// =============================================
		// Operations log
		// =============================================
		r.Post("/operations/purchases", recordPurchaseHandler(svc, logger))
		r.Post("/operations/sales", recordSaleHandler(svc, logger))
		r.Post("/operations/sales/receive", receiveSalesHandler(svc, logger))
		r.Post("/operations/transfers", recordTransferHandler(svc, logger))
		r.Get("/operations", listOperationsHandler(svc, logger))
		r.Delete("/operations/{operationId}", deleteOperationHandler(svc, logger))

		// =============================================
		// Cash flow, metrics, goals
		// =============================================
		r.Get("/cashflow", cashFlowHandler(svc, logger))
		r.Get("/metrics/monthly/{month}", monthlySummaryHandler(svc, logger))
		r.Get("/metrics/operations", operationMetricsHandler(svc, logger))
		r.Put("/goals/{month}", upsertGoalHandler(svc, logger))
		r.Get("/goals", listGoalsHandler(svc, logger))
		r.Get("/goals/{month}", goalProgressHandler(svc, logger))
		r.Get("/dashboard", dashboardHandler(svc, logger))
	})

	return r
}

// ============================================================
// Operational
// ============================================================

func healthzHandler(svc *service.MilesService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		now := time.Now().Format(time.RFC3339)
		services := []domain.ServiceHealth{
			{Name: "milhas-api", Status: "healthy", LastChecked: now},
		}

		overall := "healthy"
		if svc != nil {
			start := time.Now()
			status := "healthy"
			if err := svc.Ping(r.Context()); err != nil {
				status = "degraded"
				overall = "degraded"
			}
			services = append(services, domain.ServiceHealth{
				Name: "store", Status: status, LatencyMs: time.Since(start).Milliseconds(), LastChecked: now,
			})
		}

		writeJSON(w, http.StatusOK, domain.HealthStatus{Status: overall, Services: services})
	}
}

func readyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
