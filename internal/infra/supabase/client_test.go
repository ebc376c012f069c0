package supabase_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/observability"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/resilience"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/supabase"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recorded struct {
	method string
	path   string
	query  string
	prefer string
	body   string
}

type fakePostgREST struct {
	mu       sync.Mutex
	requests []recorded
	handle   func(w http.ResponseWriter, r recorded, n int)
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := recorded{
		method: r.Method,
		path:   strings.TrimPrefix(r.URL.Path, "/rest/v1/"),
		query:  r.URL.RawQuery,
		prefer: r.Header.Get("Prefer"),
		body:   string(body),
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	n := len(f.requests)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	f.handle(w, rec, n)
}

func (f *fakePostgREST) calls() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.requests...)
}

func newClient(t *testing.T, handle func(w http.ResponseWriter, r recorded, n int)) (*supabase.Client, *fakePostgREST, *observability.Metrics) {
	t.Helper()
	fake := &fakePostgREST{handle: handle}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	metrics := observability.NewMetrics()
	logger := zap.NewNop()
	cfg := resilience.Config{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxConcurrency: 4}
	client := supabase.NewClient(srv.Client(), srv.URL, "anon", "service", resilience.NewCircuitBreaker("supabase-test", logger), cfg, metrics, logger)
	return client, fake, metrics
}

func TestClient_GetRetriesServerErrors(t *testing.T) {
	client, fake, _ := newClient(t, func(w http.ResponseWriter, _ recorded, n int) {
		if n == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`[{"id":"c1","owner_id":"u1","name":"Visa","closing_day":10,"due_day":5,"credit_limit":5000}]`))
	})

	card, err := client.GetCard(context.Background(), "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, 10, card.ClosingDay)
	require.True(t, card.CreditLimit.Equal(decimal.NewFromInt(5000)))

	calls := fake.calls()
	require.Len(t, calls, 2)
	require.Equal(t, "credit_cards", calls[1].path)
	require.Contains(t, calls[1].query, "owner_id=eq.u1")
	require.Contains(t, calls[1].query, "id=eq.c1")
}

func TestClient_ClientErrorsAreNotRetried(t *testing.T) {
	client, fake, _ := newClient(t, func(w http.ResponseWriter, _ recorded, _ int) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"bad filter"}`))
	})

	_, err := client.ListPrograms(context.Background(), "u1")
	require.ErrorAs(t, err, new(*domain.ErrPersistence))
	require.Len(t, fake.calls(), 1)
}

func TestClient_GetMissingRowIsNotFound(t *testing.T) {
	client, _, _ := newClient(t, func(w http.ResponseWriter, _ recorded, _ int) {
		_, _ = w.Write([]byte(`[]`))
	})

	_, err := client.GetProgram(context.Background(), "u1", "nope")
	var nf *domain.ErrNotFound
	require.ErrorAs(t, err, &nf)
	require.Equal(t, "program", nf.Resource)
}

func TestClient_FinancedPurchaseRollsBackOnInstallmentFailure(t *testing.T) {
	client, fake, _ := newClient(t, func(w http.ResponseWriter, r recorded, _ int) {
		switch {
		case r.method == http.MethodPost && r.path == "operations":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("[" + r.body + "]"))
		case r.method == http.MethodPost && r.path == "installments":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	card := "c1"
	op := &domain.Operation{ID: "p1", OwnerID: "u1", Type: domain.OpPurchase, CardID: &card, Value: decimal.NewFromInt(100)}
	_, _, err := client.CreateFinancedPurchase(context.Background(), op, []domain.Installment{
		{ID: "i1", OwnerID: "u1", OperationID: "p1", CardID: card, DueMonth: "2025-04", Amount: decimal.NewFromInt(100)},
	})
	require.ErrorAs(t, err, new(*domain.ErrPersistence))

	calls := fake.calls()
	require.Len(t, calls, 3)
	require.Equal(t, http.MethodDelete, calls[2].method)
	require.Equal(t, "operations", calls[2].path)
	require.Contains(t, calls[2].query, "id=eq.p1")
}

func TestClient_SettleCountsPatchedRows(t *testing.T) {
	client, fake, _ := newClient(t, func(w http.ResponseWriter, _ recorded, _ int) {
		_, _ = w.Write([]byte(`[{"id":"i1","paid":true},{"id":"i2","paid":true}]`))
	})

	paidAt := time.Date(2025, 4, 6, 0, 0, 0, 0, time.UTC)
	n, err := client.SettleInstallments(context.Background(), "u1", "c1", "2025-04", paidAt)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	call := fake.calls()[0]
	require.Equal(t, http.MethodPatch, call.method)
	require.Contains(t, call.query, "paid=is.false")
	require.Contains(t, call.query, "due_month=eq.2025-04")
	require.Equal(t, "return=representation", call.prefer)

	var patch map[string]any
	require.NoError(t, json.Unmarshal([]byte(call.body), &patch))
	require.Equal(t, true, patch["paid"])
	require.Equal(t, "2025-04-06T00:00:00Z", patch["paid_at"])
}

func TestClient_ConflictMapsToDomainConflict(t *testing.T) {
	client, _, _ := newClient(t, func(w http.ResponseWriter, _ recorded, _ int) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"code":"23505"}`))
	})

	_, err := client.CreateProgram(context.Background(), &domain.Program{ID: "p1", OwnerID: "u1", Name: "Smiles"})
	require.ErrorAs(t, err, new(*domain.ErrConflict))
}

func TestClient_WritesAreNotRetried(t *testing.T) {
	client, fake, metrics := newClient(t, func(w http.ResponseWriter, _ recorded, _ int) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.CreateCard(context.Background(), &domain.Card{ID: "c1", OwnerID: "u1", Name: "Visa"})
	require.ErrorAs(t, err, new(*domain.ErrPersistence))
	require.Len(t, fake.calls(), 1)
	require.Equal(t, float64(1), metrics.StoreErrorCount("supabase"))
}

func TestClient_FinancedPurchaseRollsBackAfterCallerCancels(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, fake, metrics := newClient(t, func(w http.ResponseWriter, r recorded, _ int) {
		switch {
		case r.method == http.MethodPost && r.path == "operations":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("[" + r.body + "]"))
		case r.method == http.MethodPost && r.path == "installments":
			// caller goes away while the batch is in flight
			cancel()
			time.Sleep(50 * time.Millisecond)
			w.WriteHeader(http.StatusCreated)
		default:
			w.WriteHeader(http.StatusNoContent)
		}
	})

	card := "c1"
	op := &domain.Operation{ID: "p1", OwnerID: "u1", Type: domain.OpPurchase, CardID: &card, Value: decimal.NewFromInt(100)}
	_, _, err := client.CreateFinancedPurchase(ctx, op, []domain.Installment{
		{ID: "i1", OwnerID: "u1", OperationID: "p1", CardID: card, DueMonth: "2025-04", Amount: decimal.NewFromInt(100)},
	})
	require.Error(t, err)

	calls := fake.calls()
	require.Len(t, calls, 3)
	require.Equal(t, http.MethodDelete, calls[2].method)
	require.Equal(t, "operations", calls[2].path)
	require.Contains(t, calls[2].query, "id=eq.p1")
	require.Zero(t, metrics.InconsistencyCount("orphan_purchase"))
}

func TestClient_DeleteOperationIsASingleDelete(t *testing.T) {
	client, fake, _ := newClient(t, func(w http.ResponseWriter, r recorded, _ int) {
		switch r.method {
		case http.MethodGet:
			_, _ = w.Write([]byte(`[{"id":"p1","owner_id":"u1","type":"purchase"}]`))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	})

	err := client.DeleteOperation(context.Background(), "u1", "p1")
	require.ErrorAs(t, err, new(*domain.ErrPersistence))

	calls := fake.calls()
	require.Len(t, calls, 2)
	require.Equal(t, http.MethodDelete, calls[1].method)
	require.Equal(t, "operations", calls[1].path)
	require.Contains(t, calls[1].query, "id=in.(p1)")
	for _, c := range calls {
		require.NotEqual(t, "installments", c.path)
	}
}
