package engine

import (
	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Thresholds are the CPM/CPV rating bands. Bounds are inclusive on the
// "acceptable" side: a CPM of exactly 18 or 25 is acceptable.
type Thresholds struct {
	CPMExcellentBelow decimal.Decimal
	CPMHighAbove      decimal.Decimal
	CPVExcellentAbove decimal.Decimal
	CPVWeakBelow      decimal.Decimal
}

// DefaultThresholds are the bands used unless configured otherwise.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPMExcellentBelow: decimal.NewFromInt(18),
		CPMHighAbove:      decimal.NewFromInt(25),
		CPVExcellentAbove: decimal.NewFromInt(28),
		CPVWeakBelow:      decimal.NewFromInt(22),
	}
}

// RateCPM classifies a purchase cost per thousand.
func (t Thresholds) RateCPM(cpm decimal.Decimal) domain.Rating {
	switch {
	case cpm.LessThan(t.CPMExcellentBelow):
		return domain.RatingExcellent
	case cpm.GreaterThan(t.CPMHighAbove):
		return domain.RatingHigh
	default:
		return domain.RatingAcceptable
	}
}

// RateCPV classifies a sale price per thousand.
func (t Thresholds) RateCPV(cpv decimal.Decimal) domain.Rating {
	switch {
	case cpv.GreaterThan(t.CPVExcellentAbove):
		return domain.RatingExcellent
	case cpv.LessThan(t.CPVWeakBelow):
		return domain.RatingWeak
	default:
		return domain.RatingAcceptable
	}
}

// CPM is (value + fees) / quantity × 1000. ok is false for non-purchases
// and zero quantities.
func CPM(op domain.Operation) (cpm decimal.Decimal, ok bool) {
	if op.Type != domain.OpPurchase || !op.Quantity.IsPositive() {
		return decimal.Zero, false
	}
	return op.GrossCost().Div(op.Quantity).Mul(thousand).Round(currencyPlaces), true
}

// CPV is (value − fees) / quantity × 1000. ok is false for non-sales and
// zero quantities.
func CPV(op domain.Operation) (cpv decimal.Decimal, ok bool) {
	if op.Type != domain.OpSale || !op.Quantity.IsPositive() {
		return decimal.Zero, false
	}
	return op.NetValue().Div(op.Quantity).Mul(thousand).Round(currencyPlaces), true
}

// ROI is (net − basis) / basis × 100. ok is false when the basis is not
// positive; such sales are left out of averages entirely.
func ROI(net, basis decimal.Decimal) (roi decimal.Decimal, ok bool) {
	if !basis.IsPositive() {
		return decimal.Zero, false
	}
	return net.Sub(basis).Div(basis).Mul(hundred).Round(currencyPlaces), true
}

// AverageROI averages the ROI of sales that have a positive cost basis.
func AverageROI(sales []domain.Operation, basis map[string]decimal.Decimal) (decimal.Decimal, bool) {
	sum := decimal.Zero
	n := 0
	for _, s := range sales {
		if s.Type != domain.OpSale {
			continue
		}
		roi, ok := ROI(s.NetValue(), basis[s.ID])
		if !ok {
			continue
		}
		sum = sum.Add(roi)
		n++
	}
	if n == 0 {
		return decimal.Zero, false
	}
	return sum.Div(decimal.NewFromInt(int64(n))).Round(currencyPlaces), true
}

// OperationsMetrics computes CPM/CPV/ROI for each purchase and sale.
func OperationsMetrics(ops []domain.Operation, basis map[string]decimal.Decimal, t Thresholds) []domain.OperationMetrics {
	out := make([]domain.OperationMetrics, 0, len(ops))
	for _, op := range SortChronologically(ops) {
		m := domain.OperationMetrics{
			OperationID: op.ID,
			Type:        op.Type,
			ProgramID:   op.ProgramID,
			Date:        op.Date,
		}
		switch op.Type {
		case domain.OpPurchase:
			cpm, ok := CPM(op)
			if !ok {
				continue
			}
			m.CPM = &cpm
			m.Rating = t.RateCPM(cpm)
		case domain.OpSale:
			cpv, ok := CPV(op)
			if !ok {
				continue
			}
			m.CPV = &cpv
			m.Rating = t.RateCPV(cpv)
			if b, ok := basis[op.ID]; ok {
				b := b
				m.CostBasis = &b
				if roi, ok := ROI(op.NetValue(), b); ok {
					m.ROI = &roi
				}
			}
		default:
			continue
		}
		out = append(out, m)
	}
	return out
}

// MonthlyProfit derives the month's P&L:
//
//	profit = received sale net (by receipt month)
//	       − paid installments (by due month)
//	       − unfinanced purchase costs (by operation date)
//
// Transfer fees of the month are totalled in TransferFees and left out of
// profit. Margin is profit / revenue × 100, or zero without revenue.
func MonthlyProfit(month domain.Month, ops []domain.Operation, installments []domain.Installment) domain.MonthlySummary {
	s := domain.MonthlySummary{Month: month}

	for _, op := range ops {
		switch op.Type {
		case domain.OpSale:
			if op.Status == domain.StatusReceived && op.ReceiptMonth() == month {
				s.Revenue = s.Revenue.Add(op.NetValue())
			}
		case domain.OpPurchase:
			if !op.IsFinanced() && domain.MonthOf(op.Date.Time) == month {
				s.UnfinancedCosts = s.UnfinancedCosts.Add(op.GrossCost())
			}
		case domain.OpTransferOut:
			if domain.MonthOf(op.Date.Time) == month {
				s.TransferFees = s.TransferFees.Add(op.GrossCost())
			}
		}
	}

	for _, inst := range installments {
		if inst.Paid && inst.DueMonth == month {
			s.InstallmentsPaid = s.InstallmentsPaid.Add(inst.Amount)
		}
	}

	s.Profit = s.Revenue.Sub(s.InstallmentsPaid).Sub(s.UnfinancedCosts)
	if s.Revenue.IsPositive() {
		s.MarginPct = s.Profit.Div(s.Revenue).Mul(hundred).Round(currencyPlaces)
	}
	return s
}

// Summarize extends MonthlyProfit with the month's volumes, volume-weighted
// CPM/CPV, the average ROI of its sales and the informational tax flag
// (revenue above taxThreshold; a zero threshold disables it).
func Summarize(month domain.Month, ops []domain.Operation, installments []domain.Installment, basis map[string]decimal.Decimal, taxThreshold decimal.Decimal) domain.MonthlySummary {
	s := MonthlyProfit(month, ops, installments)

	var boughtCost, soldNet decimal.Decimal
	var sales []domain.Operation
	for _, op := range ops {
		if domain.MonthOf(op.Date.Time) != month {
			continue
		}
		switch op.Type {
		case domain.OpPurchase:
			s.MilesBought = s.MilesBought.Add(op.Quantity)
			boughtCost = boughtCost.Add(op.GrossCost())
		case domain.OpSale:
			s.MilesSold = s.MilesSold.Add(op.Quantity)
			soldNet = soldNet.Add(op.NetValue())
			sales = append(sales, op)
		}
	}

	if s.MilesBought.IsPositive() {
		cpm := boughtCost.Div(s.MilesBought).Mul(thousand).Round(currencyPlaces)
		s.AvgCPM = &cpm
	}
	if s.MilesSold.IsPositive() {
		cpv := soldNet.Div(s.MilesSold).Mul(thousand).Round(currencyPlaces)
		s.AvgCPV = &cpv
	}
	if roi, ok := AverageROI(sales, basis); ok {
		s.AvgROI = &roi
	}
	s.TaxAlert = taxThreshold.IsPositive() && s.Revenue.GreaterThan(taxThreshold)
	return s
}

// Progress compares a goal with the month's summary. Percentages are zero
// for unset (zero) targets; CPM is met at or below target, CPV and margin at
// or above.
func Progress(goal domain.Goal, s domain.MonthlySummary) domain.GoalProgress {
	p := domain.GoalProgress{Goal: goal}
	if goal.TargetProfit.IsPositive() {
		p.ProfitPct = s.Profit.Div(goal.TargetProfit).Mul(hundred).Round(currencyPlaces)
	}
	if goal.TargetVolume.IsPositive() {
		p.VolumePct = s.MilesBought.Div(goal.TargetVolume).Mul(hundred).Round(currencyPlaces)
	}
	if goal.TargetCPM != nil && s.AvgCPM != nil {
		met := s.AvgCPM.LessThanOrEqual(*goal.TargetCPM)
		p.CPMMet = &met
	}
	if goal.TargetCPV != nil && s.AvgCPV != nil {
		met := s.AvgCPV.GreaterThanOrEqual(*goal.TargetCPV)
		p.CPVMet = &met
	}
	if goal.TargetMargin != nil && s.Revenue.IsPositive() {
		met := s.MarginPct.GreaterThanOrEqual(*goal.TargetMargin)
		p.MarginMet = &met
	}
	return p
}
