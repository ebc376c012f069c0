package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Cash-flow projection
// ============================================================

// MonthProjection aggregates what moves in one calendar month. Expected*
// are the still-outstanding amounts; Received/Paid are already realized.
type MonthProjection struct {
	Month           Month                      `json:"month"`
	ExpectedInflow  decimal.Decimal            `json:"expected_inflow"`
	ReceivedInflow  decimal.Decimal            `json:"received_inflow"`
	ExpectedOutflow decimal.Decimal            `json:"expected_outflow"`
	PaidOutflow     decimal.Decimal            `json:"paid_outflow"`
	PerCard         map[string]decimal.Decimal `json:"per_card_breakdown"`
	NetProjected    decimal.Decimal            `json:"net_projected"`
}

// LedgerEntry is a projection month with the running accumulated net.
type LedgerEntry struct {
	MonthProjection
	Accumulated decimal.Decimal `json:"accumulated"`
}

// ============================================================
// Performance metrics
// ============================================================

// Rating classifies a CPM or CPV against the configured thresholds.
type Rating string

const (
	RatingExcellent  Rating = "excellent"
	RatingAcceptable Rating = "acceptable"
	RatingHigh       Rating = "high"
	RatingWeak       Rating = "weak"
)

// OperationMetrics is the per-operation view of the metrics.
type OperationMetrics struct {
	OperationID string           `json:"operation_id"`
	Type        OperationType    `json:"type"`
	ProgramID   string           `json:"program_id"`
	Date        Date             `json:"date"`
	CPM         *decimal.Decimal `json:"cpm,omitempty"`
	CPV         *decimal.Decimal `json:"cpv,omitempty"`
	Rating      Rating           `json:"rating,omitempty"`
	CostBasis   *decimal.Decimal `json:"cost_basis,omitempty"`
	ROI         *decimal.Decimal `json:"roi,omitempty"`
}

// MonthlySummary is the profit & loss of one month. TransferFees are
// reported next to the P&L and are not part of Profit.
type MonthlySummary struct {
	Month            Month            `json:"month"`
	Revenue          decimal.Decimal  `json:"revenue"`
	InstallmentsPaid decimal.Decimal  `json:"installments_paid"`
	UnfinancedCosts  decimal.Decimal  `json:"unfinanced_costs"`
	TransferFees     decimal.Decimal  `json:"transfer_fees"`
	Profit           decimal.Decimal  `json:"profit"`
	MarginPct        decimal.Decimal  `json:"margin_pct"`
	MilesBought      decimal.Decimal  `json:"miles_bought"`
	MilesSold        decimal.Decimal  `json:"miles_sold"`
	AvgCPM           *decimal.Decimal `json:"avg_cpm,omitempty"`
	AvgCPV           *decimal.Decimal `json:"avg_cpv,omitempty"`
	AvgROI           *decimal.Decimal `json:"avg_roi,omitempty"`
	TaxAlert         bool             `json:"tax_alert"`
}

// ============================================================
// Goals (metas)
// ============================================================

// Goal holds one month's targets; upserted per (owner, month).
type Goal struct {
	OwnerID      string           `json:"owner_id"`
	Month        Month            `json:"month"`
	TargetProfit decimal.Decimal  `json:"target_profit"`
	TargetVolume decimal.Decimal  `json:"target_volume"`
	TargetCPM    *decimal.Decimal `json:"target_cpm,omitempty"`
	TargetCPV    *decimal.Decimal `json:"target_cpv,omitempty"`
	TargetMargin *decimal.Decimal `json:"target_margin,omitempty"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// GoalRequest is the body of PUT /v1/goals/{month}.
type GoalRequest struct {
	TargetProfit decimal.Decimal  `json:"target_profit"`
	TargetVolume decimal.Decimal  `json:"target_volume"`
	TargetCPM    *decimal.Decimal `json:"target_cpm,omitempty"`
	TargetCPV    *decimal.Decimal `json:"target_cpv,omitempty"`
	TargetMargin *decimal.Decimal `json:"target_margin,omitempty"`
}

// GoalProgress compares a goal with the month's actual figures.
type GoalProgress struct {
	Goal      Goal            `json:"goal"`
	ProfitPct decimal.Decimal `json:"profit_pct"`
	VolumePct decimal.Decimal `json:"volume_pct"`
	CPMMet    *bool           `json:"cpm_met,omitempty"`
	CPVMet    *bool           `json:"cpv_met,omitempty"`
	MarginMet *bool           `json:"margin_met,omitempty"`
}

// Dashboard is the home screen aggregate.
type Dashboard struct {
	Month    Month            `json:"month"`
	Balances []ProgramBalance `json:"balances"`
	Summary  MonthlySummary   `json:"summary"`
	CashFlow []LedgerEntry    `json:"cash_flow"`
	Goal     *GoalProgress    `json:"goal,omitempty"`
	Cards    []Card           `json:"cards"`
}
