package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/cache"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/memory"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/observability"
	"github.com/boddenberg/milhas-bfa-go/internal/port"
	"github.com/boddenberg/milhas-bfa-go/internal/service"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const owner = "user-1"

var fixedNow = time.Date(2025, time.May, 10, 12, 0, 0, 0, time.UTC)

type fixture struct {
	svc     *service.MilesService
	store   *memory.Store
	metrics *observability.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, memory.NewStore())
}

func newFixtureWithStore(t *testing.T, store port.LedgerStore) *fixture {
	t.Helper()
	snapshots := cache.New[service.LedgerSnapshot](time.Minute)
	t.Cleanup(snapshots.Close)

	metrics := observability.NewMetrics()
	svc := service.NewMilesService(store, snapshots, metrics, zap.NewNop(), service.Options{
		TaxAlertThreshold: decimal.NewFromInt(35000),
		Now:               func() time.Time { return fixedNow },
	})
	mem, _ := store.(*memory.Store)
	return &fixture{svc: svc, store: mem, metrics: metrics}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func (f *fixture) program(t *testing.T, name string) string {
	t.Helper()
	p, err := f.svc.CreateProgram(context.Background(), owner, &domain.ProgramRequest{Name: name, Kind: "airline"})
	require.NoError(t, err)
	return p.ID
}

func (f *fixture) card(t *testing.T, closing, due int) string {
	t.Helper()
	c, err := f.svc.CreateCard(context.Background(), owner, &domain.CardRequest{
		Name: "Visa", ClosingDay: closing, DueDay: due, CreditLimit: dec("5000"),
	})
	require.NoError(t, err)
	return c.ID
}

func (f *fixture) buy(t *testing.T, program, qty, value, date string) *domain.PurchaseReceipt {
	t.Helper()
	r, err := f.svc.RecordPurchase(context.Background(), owner, &domain.PurchaseRequest{
		ProgramID: program, Quantity: dec(qty), Value: dec(value), Date: date,
	})
	require.NoError(t, err)
	return r
}

func balanceOf(t *testing.T, balances []domain.ProgramBalance, programID string) domain.ProgramBalance {
	t.Helper()
	for _, b := range balances {
		if b.ProgramID == programID {
			return b
		}
	}
	t.Fatalf("no balance for program %s", programID)
	return domain.ProgramBalance{}
}

// ============================================================
// Purchases
// ============================================================

func TestRecordPurchase_FinancedSchedulesInstallments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	card := f.card(t, 10, 5)

	receipt, err := f.svc.RecordPurchase(ctx, owner, &domain.PurchaseRequest{
		ProgramID:        latam,
		Quantity:         dec("10000"),
		Value:            dec("180.00"),
		Fees:             dec("10.00"),
		CardID:           &card,
		InstallmentCount: 2,
		Date:             "2025-03-15",
	})
	require.NoError(t, err)
	require.Empty(t, receipt.Warnings)
	require.Equal(t, card, *receipt.Operation.CardID)
	require.Len(t, receipt.Installments, 2)

	for i, inst := range receipt.Installments {
		requireDec(t, "95.00", inst.Amount)
		require.Equal(t, receipt.Operation.ID, inst.OperationID)
		require.Equal(t, owner, inst.OwnerID)
		require.NotEmpty(t, inst.ID)
		require.Equal(t, i+1, inst.Sequence)
	}
	require.Equal(t, domain.Month("2025-04"), receipt.Installments[0].DueMonth)
	require.Equal(t, domain.Month("2025-05"), receipt.Installments[1].DueMonth)

	st, err := f.svc.CardStatement(ctx, owner, card, "2025-04")
	require.NoError(t, err)
	requireDec(t, "95", st.Total)
	requireDec(t, "95", st.PendingTotal)
	require.False(t, st.Settled)
	require.Equal(t, "2025-04-05", st.DueDate.Format(domain.DateLayout))
}

func TestRecordPurchase_MissingCardDegradesToUnfinanced(t *testing.T) {
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	ghost := "deleted-card"

	receipt, err := f.svc.RecordPurchase(context.Background(), owner, &domain.PurchaseRequest{
		ProgramID:        latam,
		Quantity:         dec("5000"),
		Value:            dec("100"),
		CardID:           &ghost,
		InstallmentCount: 3,
		Date:             "2025-03-15",
	})
	require.NoError(t, err)
	require.Len(t, receipt.Warnings, 1)
	require.Contains(t, receipt.Warnings[0], ghost)
	require.Empty(t, receipt.Installments)
	require.Nil(t, receipt.Operation.CardID)
	require.False(t, receipt.Operation.IsFinanced())
	require.Equal(t, float64(1), f.metrics.InconsistencyCount("missing_card"))
}

func TestRecordPurchase_Validation(t *testing.T) {
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	card := f.card(t, 10, 5)

	tests := []struct {
		name  string
		req   domain.PurchaseRequest
		field string
	}{
		{"zero quantity", domain.PurchaseRequest{ProgramID: latam, Quantity: dec("0"), Date: "2025-01-01"}, "quantity"},
		{"negative value", domain.PurchaseRequest{ProgramID: latam, Quantity: dec("1"), Value: dec("-1"), Date: "2025-01-01"}, "value"},
		{"negative fees", domain.PurchaseRequest{ProgramID: latam, Quantity: dec("1"), Fees: dec("-1"), Date: "2025-01-01"}, "fees"},
		{"missing date", domain.PurchaseRequest{ProgramID: latam, Quantity: dec("1")}, "date"},
		{"bad date", domain.PurchaseRequest{ProgramID: latam, Quantity: dec("1"), Date: "15/03/2025"}, "date"},
		{"unknown program", domain.PurchaseRequest{ProgramID: "nope", Quantity: dec("1"), Date: "2025-01-01"}, "program_id"},
		{"card without installments", domain.PurchaseRequest{ProgramID: latam, Quantity: dec("1"), Date: "2025-01-01", CardID: &card}, "installment_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.RecordPurchase(context.Background(), owner, &tt.req)
			var vErr *domain.ErrValidation
			require.ErrorAs(t, err, &vErr)
			require.Equal(t, tt.field, vErr.Field)
		})
	}

	_, err := f.svc.RecordPurchase(context.Background(), "", &domain.PurchaseRequest{})
	require.ErrorAs(t, err, new(*domain.ErrUnauthorized))
}

type failingBatchStore struct {
	*memory.Store
}

func (s failingBatchStore) CreateFinancedPurchase(_ context.Context, _ *domain.Operation, _ []domain.Installment) (*domain.Operation, []domain.Installment, error) {
	return nil, nil, &domain.ErrPersistence{Store: "test", Err: context.DeadlineExceeded}
}

func TestRecordPurchase_FailedBatchLeavesNothing(t *testing.T) {
	ctx := context.Background()
	mem := memory.NewStore()
	f := newFixtureWithStore(t, failingBatchStore{mem})
	latam := f.program(t, "LATAM Pass")
	card := f.card(t, 10, 5)

	_, err := f.svc.RecordPurchase(ctx, owner, &domain.PurchaseRequest{
		ProgramID: latam, Quantity: dec("1000"), Value: dec("20"), CardID: &card, InstallmentCount: 2, Date: "2025-03-01",
	})
	require.ErrorAs(t, err, new(*domain.ErrPersistence))

	ops, err := mem.ListOperations(ctx, owner, domain.OperationFilter{})
	require.NoError(t, err)
	require.Empty(t, ops)
	insts, err := mem.ListInstallments(ctx, owner, domain.InstallmentFilter{})
	require.NoError(t, err)
	require.Empty(t, insts)
}

// ============================================================
// Sales & cash flow
// ============================================================

func TestSaleLifecycle_PendingThenReceived(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")

	sale, err := f.svc.RecordSale(ctx, owner, &domain.SaleRequest{
		ProgramID: latam, Quantity: dec("5000"), Value: dec("250.00"), Fees: dec("10.00"),
		Date: "2025-04-20", ReceiptDate: "2025-05-15",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, sale.Status)
	require.Nil(t, sale.ReceivedAt)

	flow, err := f.svc.CashFlow(ctx, owner, "2025-05", "2025-05")
	require.NoError(t, err)
	require.Len(t, flow, 1)
	requireDec(t, "240", flow[0].ExpectedInflow)
	requireDec(t, "0", flow[0].ReceivedInflow)

	n, err := f.svc.MarkSalesReceived(ctx, owner, []string{sale.ID})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	flow, err = f.svc.CashFlow(ctx, owner, "2025-05", "2025-05")
	require.NoError(t, err)
	requireDec(t, "0", flow[0].ExpectedInflow)
	requireDec(t, "240", flow[0].ReceivedInflow)

	n, err = f.svc.MarkSalesReceived(ctx, owner, []string{sale.ID})
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestRecordSale_ReceiptDefaults(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")

	sale, err := f.svc.RecordSale(ctx, owner, &domain.SaleRequest{
		ProgramID: latam, Quantity: dec("1000"), Value: dec("30"), Date: "2025-04-20",
		ReceiptStatus: domain.StatusReceived,
	})
	require.NoError(t, err)
	require.Equal(t, "2025-04-20", sale.ReceiptDate.Format(domain.DateLayout))
	require.NotNil(t, sale.ReceivedAt)

	_, err = f.svc.RecordSale(ctx, owner, &domain.SaleRequest{
		ProgramID: latam, Quantity: dec("1000"), Value: dec("30"), Date: "2025-04-20",
		ReceiptStatus: domain.StatusCompleted,
	})
	var vErr *domain.ErrValidation
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "receipt_status", vErr.Field)
}

func TestCashFlow_InvalidRange(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CashFlow(context.Background(), owner, "2025-06", "2025-01")
	require.ErrorAs(t, err, new(*domain.ErrValidation))

	_, err = f.svc.CashFlow(context.Background(), owner, "june", "")
	require.ErrorAs(t, err, new(*domain.ErrValidation))
}

// ============================================================
// Transfers & balances
// ============================================================

func TestRecordTransfer_BonusCreditsDestination(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	livelo := f.program(t, "Livelo")
	smiles := f.program(t, "Smiles")
	f.buy(t, livelo, "5000", "150", "2025-04-01")

	before, err := f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	requireDec(t, "0", balanceOf(t, before, smiles).CalculatedBalance)

	receipt, err := f.svc.RecordTransfer(ctx, owner, &domain.TransferRequest{
		SourceProgramID: livelo, DestProgramID: smiles,
		Quantity: dec("1000"), BonusPct: dec("100"), Fee: dec("15"), Date: "2025-04-02",
	})
	require.NoError(t, err)
	require.Equal(t, *receipt.Outbound.TransferGroupID, *receipt.Inbound.TransferGroupID)
	requireDec(t, "2000", receipt.Inbound.Quantity)

	after, err := f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	src, dst := balanceOf(t, after, livelo), balanceOf(t, after, smiles)
	requireDec(t, "4000", src.CalculatedBalance)
	requireDec(t, "2000", dst.CalculatedBalance)
	requireDec(t, "165", src.TotalCost)
	requireDec(t, "0", dst.TotalCost)
	require.Equal(t, "Smiles", dst.ProgramName)

	require.NoError(t, f.svc.DeleteOperation(ctx, owner, receipt.Inbound.ID))
	ops, err := f.svc.ListOperations(ctx, owner, domain.OperationFilter{})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, domain.OpPurchase, ops[0].Type)
}

func TestRecordTransfer_SameProgramRejected(t *testing.T) {
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")

	_, err := f.svc.RecordTransfer(context.Background(), owner, &domain.TransferRequest{
		SourceProgramID: latam, DestProgramID: latam, Quantity: dec("1000"), Date: "2025-04-02",
	})
	var vErr *domain.ErrValidation
	require.ErrorAs(t, err, &vErr)
	require.Equal(t, "dest_program_id", vErr.Field)
}

func TestBalanceOverride_SetAndClear(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	f.buy(t, latam, "10000", "180", "2025-01-10")

	_, err := f.svc.SetManualBalanceOverride(ctx, owner, latam, dec("12345"))
	require.NoError(t, err)

	balances, err := f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	b := balanceOf(t, balances, latam)
	require.True(t, b.OverrideActive)
	requireDec(t, "12345", b.DisplayedBalance)
	requireDec(t, "10000", b.CalculatedBalance)

	adj, err := f.svc.ClearManualBalanceOverride(ctx, owner, latam)
	require.NoError(t, err)
	require.False(t, adj.UseOverride)
	requireDec(t, "12345", adj.Value)

	balances, err = f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	b = balanceOf(t, balances, latam)
	require.False(t, b.OverrideActive)
	requireDec(t, "10000", b.DisplayedBalance)

	_, err = f.svc.ClearManualBalanceOverride(ctx, owner, "other")
	require.ErrorAs(t, err, new(*domain.ErrNotFound))
}

func TestBalances_SnapshotCacheInvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	f.buy(t, latam, "1000", "20", "2025-01-10")

	_, err := f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	_, err = f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, float64(1), f.metrics.CacheHitCount("ledger"))

	f.buy(t, latam, "1000", "20", "2025-01-11")
	balances, err := f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	requireDec(t, "2000", balanceOf(t, balances, latam).CalculatedBalance)
}

// interleavingStore runs afterList once, after the first ListOperations has
// read its rows but before the snapshot load returns.
type interleavingStore struct {
	*memory.Store
	once      sync.Once
	afterList func()
}

func (s *interleavingStore) ListOperations(ctx context.Context, ownerID string, filter domain.OperationFilter) ([]domain.Operation, error) {
	ops, err := s.Store.ListOperations(ctx, ownerID, filter)
	if s.afterList != nil {
		s.once.Do(s.afterList)
	}
	return ops, err
}

func TestBalances_WriteDuringLoadIsNotMaskedByCache(t *testing.T) {
	ctx := context.Background()
	store := &interleavingStore{Store: memory.NewStore()}
	f := newFixtureWithStore(t, store)
	latam := f.program(t, "LATAM Pass")
	f.buy(t, latam, "1000", "20", "2025-01-10")

	var writeErr error
	store.afterList = func() {
		_, writeErr = f.svc.RecordPurchase(ctx, owner, &domain.PurchaseRequest{
			ProgramID: latam, Quantity: dec("1000"), Value: dec("20"), Date: "2025-01-11",
		})
	}

	// this load read the ledger before the second purchase committed
	balances, err := f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	require.NoError(t, writeErr)
	requireDec(t, "1000", balanceOf(t, balances, latam).CalculatedBalance)

	balances, err = f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	requireDec(t, "2000", balanceOf(t, balances, latam).CalculatedBalance)
	require.Zero(t, f.metrics.CacheHitCount("ledger"))

	balances, err = f.svc.Balances(ctx, owner)
	require.NoError(t, err)
	requireDec(t, "2000", balanceOf(t, balances, latam).CalculatedBalance)
	require.Equal(t, float64(1), f.metrics.CacheHitCount("ledger"))
}

// ============================================================
// Cards & settlement
// ============================================================

func TestSettleInstallments_Idempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	card := f.card(t, 10, 5)

	_, err := f.svc.RecordPurchase(ctx, owner, &domain.PurchaseRequest{
		ProgramID: latam, Quantity: dec("10000"), Value: dec("300"), CardID: &card, InstallmentCount: 3, Date: "2025-03-01",
	})
	require.NoError(t, err)

	res, err := f.svc.SettleInstallments(ctx, owner, card, "2025-03")
	require.NoError(t, err)
	require.Equal(t, 1, res.Settled)

	res, err = f.svc.SettleInstallments(ctx, owner, card, "2025-03")
	require.NoError(t, err)
	require.Zero(t, res.Settled)

	st, err := f.svc.CardStatement(ctx, owner, card, "2025-03")
	require.NoError(t, err)
	require.True(t, st.Settled)
	requireDec(t, "100", st.PaidAmount)

	flow, err := f.svc.CashFlow(ctx, owner, "2025-03", "2025-03")
	require.NoError(t, err)
	requireDec(t, "100", flow[0].PaidOutflow)
	requireDec(t, "0", flow[0].ExpectedOutflow)

	_, err = f.svc.SettleInstallments(ctx, owner, "missing", "2025-03")
	require.ErrorAs(t, err, new(*domain.ErrNotFound))
	_, err = f.svc.SettleInstallments(ctx, owner, card, "2025-13")
	require.ErrorAs(t, err, new(*domain.ErrValidation))
}

func TestDeleteCard_BlockedWhileUnpaid(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	card := f.card(t, 10, 5)

	_, err := f.svc.RecordPurchase(ctx, owner, &domain.PurchaseRequest{
		ProgramID: latam, Quantity: dec("10000"), Value: dec("200"), CardID: &card, InstallmentCount: 2, Date: "2025-03-01",
	})
	require.NoError(t, err)

	require.ErrorAs(t, f.svc.DeleteCard(ctx, owner, card), new(*domain.ErrConflict))

	for _, month := range []string{"2025-03", "2025-04"} {
		_, err := f.svc.SettleInstallments(ctx, owner, card, month)
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.DeleteCard(ctx, owner, card))

	paid, err := f.store.ListInstallments(ctx, owner, domain.InstallmentFilter{CardID: card})
	require.NoError(t, err)
	require.Len(t, paid, 2)
}

func TestCreateCard_Validation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateCard(context.Background(), owner, &domain.CardRequest{Name: "x", ClosingDay: 0, DueDay: 5})
	require.ErrorAs(t, err, new(*domain.ErrValidation))

	_, err = f.svc.CreateCard(context.Background(), owner, &domain.CardRequest{ClosingDay: 1, DueDay: 5})
	require.ErrorAs(t, err, new(*domain.ErrValidation))
}

// ============================================================
// Metrics, goals, dashboard
// ============================================================

func TestMonthlySummaryAndGoalProgress(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	f.buy(t, latam, "10000", "200", "2025-05-02")

	sale, err := f.svc.RecordSale(ctx, owner, &domain.SaleRequest{
		ProgramID: latam, Quantity: dec("10000"), Value: dec("250"), Fees: dec("10"),
		Date: "2025-05-05", ReceiptStatus: domain.StatusReceived,
	})
	require.NoError(t, err)

	summary, err := f.svc.MonthlySummary(ctx, owner, "2025-05")
	require.NoError(t, err)
	requireDec(t, "240", summary.Revenue)
	requireDec(t, "200", summary.UnfinancedCosts)
	requireDec(t, "40", summary.Profit)
	require.NotNil(t, summary.AvgROI)
	requireDec(t, "20", *summary.AvgROI)
	require.False(t, summary.TaxAlert)

	metrics, err := f.svc.OperationMetrics(ctx, owner, domain.OperationFilter{Type: domain.OpSale})
	require.NoError(t, err)
	require.Len(t, metrics, 1)
	require.Equal(t, sale.ID, metrics[0].OperationID)
	requireDec(t, "200", *metrics[0].CostBasis)

	_, err = f.svc.UpsertGoal(ctx, owner, "2025-05", &domain.GoalRequest{TargetProfit: dec("80"), TargetVolume: dec("20000")})
	require.NoError(t, err)

	progress, err := f.svc.GoalProgress(ctx, owner, "2025-05")
	require.NoError(t, err)
	requireDec(t, "50", progress.ProfitPct)
	requireDec(t, "50", progress.VolumePct)

	_, err = f.svc.UpsertGoal(ctx, owner, "May", &domain.GoalRequest{})
	require.ErrorAs(t, err, new(*domain.ErrValidation))
	_, err = f.svc.UpsertGoal(ctx, owner, "2025-06", &domain.GoalRequest{TargetProfit: dec("-1")})
	require.ErrorAs(t, err, new(*domain.ErrValidation))
	_, err = f.svc.GoalProgress(ctx, owner, "2025-07")
	require.ErrorAs(t, err, new(*domain.ErrNotFound))
}

func TestDashboard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	card := f.card(t, 10, 5)

	_, err := f.svc.RecordPurchase(ctx, owner, &domain.PurchaseRequest{
		ProgramID: latam, Quantity: dec("10000"), Value: dec("180"), Fees: dec("10"), CardID: &card, InstallmentCount: 2, Date: "2025-04-15",
	})
	require.NoError(t, err)
	_, err = f.svc.UpsertGoal(ctx, owner, "2025-05", &domain.GoalRequest{TargetVolume: dec("10000")})
	require.NoError(t, err)

	dash, err := f.svc.Dashboard(ctx, owner)
	require.NoError(t, err)
	require.Equal(t, domain.Month("2025-05"), dash.Month)
	require.Len(t, dash.Balances, 1)
	require.Len(t, dash.Cards, 1)
	require.NotNil(t, dash.Goal)
	require.Len(t, dash.CashFlow, 2)
	require.Equal(t, domain.Month("2025-05"), dash.CashFlow[0].Month)
	requireDec(t, "-190", dash.CashFlow[1].Accumulated)
}

func TestTenantIsolation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	latam := f.program(t, "LATAM Pass")
	r := f.buy(t, latam, "1000", "20", "2025-01-10")

	require.ErrorAs(t, f.svc.DeleteOperation(ctx, "intruder", r.Operation.ID), new(*domain.ErrNotFound))

	balances, err := f.svc.Balances(ctx, "intruder")
	require.NoError(t, err)
	require.Empty(t, balances)
}
