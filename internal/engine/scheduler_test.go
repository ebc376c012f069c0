package engine_test

import (
	"testing"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/engine"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got.String())
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSchedule_PurchaseAfterClosingDay(t *testing.T) {
	terms := domain.PurchaseTerms{
		Date:             day(2025, time.March, 15),
		TotalAmount:      dec("180.00"),
		Fee:              dec("10.00"),
		InstallmentCount: 2,
	}

	got, err := engine.Schedule(terms, domain.BillingCycle{ClosingDay: 10, DueDay: 5})
	require.NoError(t, err)
	require.Len(t, got, 2)

	requireDec(t, "95.00", got[0].Amount)
	requireDec(t, "95.00", got[1].Amount)
	require.Equal(t, domain.Month("2025-04"), got[0].DueMonth)
	require.Equal(t, domain.Month("2025-05"), got[1].DueMonth)
	require.Equal(t, day(2025, time.April, 5), got[0].DueDate.Time)
}

func TestSchedule_FirstDueMonthFollowsClosingDay(t *testing.T) {
	cycle := domain.BillingCycle{ClosingDay: 10, DueDay: 20}

	tests := []struct {
		name string
		date time.Time
		want domain.Month
	}{
		{"before closing day", day(2025, time.March, 9), "2025-03"},
		{"on closing day", day(2025, time.March, 10), "2025-04"},
		{"after closing day", day(2025, time.March, 28), "2025-04"},
		{"december rolls the year", day(2025, time.December, 11), "2026-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := engine.Schedule(domain.PurchaseTerms{
				Date:             tt.date,
				TotalAmount:      dec("300"),
				InstallmentCount: 3,
			}, cycle)
			require.NoError(t, err)
			require.Equal(t, tt.want, got[0].DueMonth)
		})
	}
}

func TestSchedule_LastInstallmentAbsorbsRemainder(t *testing.T) {
	tests := []struct {
		total, fee string
		n          int
		share      string
		last       string
	}{
		{"100", "0", 3, "33.33", "33.34"},
		{"200", "0", 3, "66.66", "66.68"},
		{"1000", "0.01", 7, "142.85", "142.91"},
		{"50", "0", 1, "50", "50"},
		{"0.05", "0", 10, "0", "0.05"},
		{"0.99", "0.01", 48, "0.02", "0.06"},
	}

	for _, tt := range tests {
		got, err := engine.Schedule(domain.PurchaseTerms{
			Date:             day(2025, time.January, 2),
			TotalAmount:      dec(tt.total),
			Fee:              dec(tt.fee),
			InstallmentCount: tt.n,
		}, domain.BillingCycle{ClosingDay: 25, DueDay: 5})
		require.NoError(t, err)

		sum := decimal.Zero
		for i, inst := range got {
			sum = sum.Add(inst.Amount)
			require.Equal(t, i+1, inst.Sequence)
			require.Equal(t, tt.n, inst.TotalCount)
			require.False(t, inst.Paid)
			if i < tt.n-1 {
				requireDec(t, tt.share, inst.Amount)
			}
		}
		requireDec(t, tt.last, got[tt.n-1].Amount)
		requireDec(t, dec(tt.total).Add(dec(tt.fee)).String(), sum)
		require.False(t, got[tt.n-1].Amount.LessThan(got[0].Amount), "last below share for %s/%d", tt.total, tt.n)
	}
}

func TestSchedule_SharesNeverNegative(t *testing.T) {
	for n := 1; n <= engine.MaxInstallments; n++ {
		for _, total := range []string{"0.01", "0.05", "0.47", "1", "99.99"} {
			got, err := engine.Schedule(domain.PurchaseTerms{
				Date:             day(2025, time.March, 1),
				TotalAmount:      dec(total),
				InstallmentCount: n,
			}, domain.BillingCycle{ClosingDay: 10, DueDay: 5})
			require.NoError(t, err)
			require.Len(t, got, n)

			sum := decimal.Zero
			for _, inst := range got {
				require.False(t, inst.Amount.IsNegative(), "%s in %d installments: %s", total, n, inst.Amount)
				sum = sum.Add(inst.Amount)
			}
			requireDec(t, total, sum)
		}
	}
}

func TestSchedule_RejectsTooManyInstallments(t *testing.T) {
	_, err := engine.Schedule(domain.PurchaseTerms{
		Date:             day(2025, time.March, 1),
		TotalAmount:      dec("100"),
		InstallmentCount: engine.MaxInstallments + 1,
	}, domain.BillingCycle{ClosingDay: 10, DueDay: 5})

	var verr *domain.ErrValidation
	require.ErrorAs(t, err, &verr)
	require.Equal(t, "installment_count", verr.Field)
}

func TestSchedule_DueDayClampedToMonthEnd(t *testing.T) {
	got, err := engine.Schedule(domain.PurchaseTerms{
		Date:             day(2025, time.January, 5),
		TotalAmount:      dec("400"),
		InstallmentCount: 4,
	}, domain.BillingCycle{ClosingDay: 20, DueDay: 31})
	require.NoError(t, err)

	require.Equal(t, day(2025, time.January, 31), got[0].DueDate.Time)
	require.Equal(t, day(2025, time.February, 28), got[1].DueDate.Time)
	require.Equal(t, day(2025, time.March, 31), got[2].DueDate.Time)
	require.Equal(t, day(2025, time.April, 30), got[3].DueDate.Time)
	require.Equal(t, domain.Month("2025-02"), got[1].DueMonth)
}

func TestSchedule_InvalidInput(t *testing.T) {
	valid := domain.PurchaseTerms{Date: day(2025, time.May, 1), TotalAmount: dec("10"), InstallmentCount: 1}
	cycle := domain.BillingCycle{ClosingDay: 1, DueDay: 10}

	tests := []struct {
		name  string
		terms func(domain.PurchaseTerms) domain.PurchaseTerms
		cycle domain.BillingCycle
		field string
	}{
		{"zero installments", func(p domain.PurchaseTerms) domain.PurchaseTerms { p.InstallmentCount = 0; return p }, cycle, "installment_count"},
		{"negative installments", func(p domain.PurchaseTerms) domain.PurchaseTerms { p.InstallmentCount = -2; return p }, cycle, "installment_count"},
		{"missing date", func(p domain.PurchaseTerms) domain.PurchaseTerms { p.Date = time.Time{}; return p }, cycle, "date"},
		{"negative fee", func(p domain.PurchaseTerms) domain.PurchaseTerms { p.Fee = dec("-1"); return p }, cycle, "fees"},
		{"closing day out of range", func(p domain.PurchaseTerms) domain.PurchaseTerms { return p }, domain.BillingCycle{ClosingDay: 32, DueDay: 1}, "closing_day"},
		{"due day zero", func(p domain.PurchaseTerms) domain.PurchaseTerms { return p }, domain.BillingCycle{ClosingDay: 1, DueDay: 0}, "due_day"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Schedule(tt.terms(valid), tt.cycle)
			var vErr *domain.ErrValidation
			require.ErrorAs(t, err, &vErr)
			require.Equal(t, tt.field, vErr.Field)
		})
	}
}
