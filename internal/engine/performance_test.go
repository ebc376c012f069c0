package engine_test

import (
	"testing"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/engine"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestThresholds_Bands(t *testing.T) {
	th := engine.DefaultThresholds()

	cpm := []struct {
		value string
		want  domain.Rating
	}{
		{"17.99", domain.RatingExcellent},
		{"18", domain.RatingAcceptable},
		{"25", domain.RatingAcceptable},
		{"25.01", domain.RatingHigh},
	}
	for _, tt := range cpm {
		require.Equal(t, tt.want, th.RateCPM(dec(tt.value)), "cpm %s", tt.value)
	}

	cpv := []struct {
		value string
		want  domain.Rating
	}{
		{"28.01", domain.RatingExcellent},
		{"28", domain.RatingAcceptable},
		{"22", domain.RatingAcceptable},
		{"21.99", domain.RatingWeak},
	}
	for _, tt := range cpv {
		require.Equal(t, tt.want, th.RateCPV(dec(tt.value)), "cpv %s", tt.value)
	}
}

func TestCPMAndCPV(t *testing.T) {
	purchase := op("p1", domain.OpPurchase, "latam", day(2025, time.March, 15), "10000", "180", "10")
	cpm, ok := engine.CPM(purchase)
	require.True(t, ok)
	requireDec(t, "19", cpm)

	_, ok = engine.CPV(purchase)
	require.False(t, ok)

	sale := op("s1", domain.OpSale, "latam", day(2025, time.April, 20), "10000", "250", "10")
	cpv, ok := engine.CPV(sale)
	require.True(t, ok)
	requireDec(t, "24", cpv)

	empty := op("p0", domain.OpPurchase, "latam", day(2025, time.March, 15), "0", "10", "0")
	_, ok = engine.CPM(empty)
	require.False(t, ok)
}

func TestROI_ExcludesNonPositiveBasis(t *testing.T) {
	roi, ok := engine.ROI(dec("240"), dec("200"))
	require.True(t, ok)
	requireDec(t, "20", roi)

	_, ok = engine.ROI(dec("240"), decimal.Zero)
	require.False(t, ok)

	sales := []domain.Operation{
		op("s1", domain.OpSale, "latam", day(2025, time.May, 1), "10000", "240", "0"),
		op("s2", domain.OpSale, "latam", day(2025, time.May, 2), "10000", "300", "0"),
		op("s3", domain.OpSale, "latam", day(2025, time.May, 3), "1000", "30", "0"),
	}
	avg, ok := engine.AverageROI(sales, map[string]decimal.Decimal{
		"s1": dec("200"),
		"s2": dec("200"),
		"s3": decimal.Zero,
	})
	require.True(t, ok)
	requireDec(t, "35", avg)

	_, ok = engine.AverageROI(sales[2:], map[string]decimal.Decimal{"s3": decimal.Zero})
	require.False(t, ok)
}

func mayLedger() ([]domain.Operation, []domain.Installment) {
	card := "nubank"
	receipt := domain.NewDate(day(2025, time.May, 20))

	sale := op("s1", domain.OpSale, "latam", day(2025, time.May, 5), "10000", "250", "10")
	sale.Status = domain.StatusReceived
	sale.ReceiptDate = &receipt

	pending := op("s2", domain.OpSale, "latam", day(2025, time.April, 5), "1000", "30", "0")
	pending.ReceiptDate = &receipt

	financed := op("p1", domain.OpPurchase, "latam", day(2025, time.May, 2), "5000", "90", "0")
	financed.CardID = &card
	financed.InstallmentCount = 2

	ops := []domain.Operation{
		sale,
		pending,
		financed,
		op("p2", domain.OpPurchase, "latam", day(2025, time.May, 3), "5000", "110", "0"),
		op("t1", domain.OpTransferOut, "livelo", day(2025, time.May, 4), "1000", "0", "5"),
		op("p3", domain.OpPurchase, "latam", day(2025, time.April, 3), "5000", "70", "0"),
	}
	insts := []domain.Installment{
		installment(card, "2025-05", "95", true),
		installment(card, "2025-05", "45", false),
		installment(card, "2025-06", "45", true),
	}
	return ops, insts
}

func TestMonthlyProfit(t *testing.T) {
	ops, insts := mayLedger()

	got := engine.MonthlyProfit("2025-05", ops, insts)

	requireDec(t, "240", got.Revenue)
	requireDec(t, "95", got.InstallmentsPaid)
	requireDec(t, "110", got.UnfinancedCosts)
	requireDec(t, "35", got.Profit)
	requireDec(t, "14.58", got.MarginPct)
}

func TestMonthlyProfit_TransferFeesReportedOutsideProfit(t *testing.T) {
	ops := []domain.Operation{
		op("t1", domain.OpTransferOut, "livelo", day(2025, time.May, 4), "1000", "0", "5"),
		op("t2", domain.OpTransferOut, "livelo", day(2025, time.May, 20), "2000", "0", "7.5"),
		op("t3", domain.OpTransferOut, "livelo", day(2025, time.April, 20), "2000", "0", "9"),
	}

	got := engine.MonthlyProfit("2025-05", ops, nil)

	requireDec(t, "12.5", got.TransferFees)
	requireDec(t, "0", got.UnfinancedCosts)
	requireDec(t, "0", got.Profit)
}

func TestMonthlyProfit_NoRevenueHasZeroMargin(t *testing.T) {
	ops := []domain.Operation{
		op("p1", domain.OpPurchase, "latam", day(2025, time.May, 3), "5000", "110", "0"),
	}

	got := engine.MonthlyProfit("2025-05", ops, nil)

	requireDec(t, "-110", got.Profit)
	requireDec(t, "0", got.MarginPct)
}

func TestSummarize(t *testing.T) {
	ops, insts := mayLedger()
	basis := map[string]decimal.Decimal{"s1": dec("200")}

	got := engine.Summarize("2025-05", ops, insts, basis, dec("200"))

	requireDec(t, "10000", got.MilesBought)
	requireDec(t, "10000", got.MilesSold)
	require.NotNil(t, got.AvgCPM)
	requireDec(t, "20", *got.AvgCPM)
	require.NotNil(t, got.AvgCPV)
	requireDec(t, "24", *got.AvgCPV)
	require.NotNil(t, got.AvgROI)
	requireDec(t, "20", *got.AvgROI)
	require.True(t, got.TaxAlert)

	require.False(t, engine.Summarize("2025-05", ops, insts, basis, decimal.Zero).TaxAlert)
	require.False(t, engine.Summarize("2025-05", ops, insts, basis, dec("240")).TaxAlert)

	empty := engine.Summarize("2024-01", ops, insts, basis, dec("200"))
	require.Nil(t, empty.AvgCPM)
	require.Nil(t, empty.AvgCPV)
	require.Nil(t, empty.AvgROI)
}

func TestOperationsMetrics(t *testing.T) {
	ops, _ := mayLedger()
	basis := map[string]decimal.Decimal{"s1": dec("200"), "s2": decimal.Zero}

	got := engine.OperationsMetrics(ops, basis, engine.DefaultThresholds())

	byID := make(map[string]domain.OperationMetrics, len(got))
	for _, m := range got {
		byID[m.OperationID] = m
	}
	require.Len(t, byID, 5)
	require.NotContains(t, byID, "t1")

	requireDec(t, "18", *byID["p1"].CPM)
	require.Equal(t, domain.RatingAcceptable, byID["p1"].Rating)
	require.Equal(t, domain.RatingAcceptable, byID["p2"].Rating)
	require.Equal(t, domain.RatingExcellent, byID["p3"].Rating)

	s1 := byID["s1"]
	requireDec(t, "24", *s1.CPV)
	requireDec(t, "20", *s1.ROI)
	require.Equal(t, domain.RatingAcceptable, s1.Rating)

	s2 := byID["s2"]
	require.Equal(t, domain.RatingExcellent, s2.Rating)
	require.NotNil(t, s2.CostBasis)
	require.Nil(t, s2.ROI)

	require.Equal(t, "p3", got[0].OperationID)
}

func TestProgress(t *testing.T) {
	ops, insts := mayLedger()
	summary := engine.Summarize("2025-05", ops, insts, map[string]decimal.Decimal{"s1": dec("200")}, decimal.Zero)

	cpm, cpv, margin := dec("19"), dec("24"), dec("12")
	got := engine.Progress(domain.Goal{
		Month:        "2025-05",
		TargetProfit: dec("70"),
		TargetVolume: dec("20000"),
		TargetCPM:    &cpm,
		TargetCPV:    &cpv,
		TargetMargin: &margin,
	}, summary)

	requireDec(t, "50", got.ProfitPct)
	requireDec(t, "50", got.VolumePct)
	require.False(t, *got.CPMMet)
	require.True(t, *got.CPVMet)
	require.True(t, *got.MarginMet)

	unset := engine.Progress(domain.Goal{Month: "2025-05"}, summary)
	requireDec(t, "0", unset.ProfitPct)
	require.Nil(t, unset.CPMMet)
}
