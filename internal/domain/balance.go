package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Programs & balances
// ============================================================

// Program is a mile-earning loyalty program (airline or bank rewards).
type Program struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Kind      string    `json:"kind,omitempty"` // airline, bank, hotel
	CreatedAt time.Time `json:"created_at"`
}

// ProgramRequest is the payload to register a program.
type ProgramRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind,omitempty"`
}

// ManualAdjustment is a user-entered balance that replaces the calculated
// one for display while UseOverride is set.
type ManualAdjustment struct {
	OwnerID     string          `json:"owner_id"`
	ProgramID   string          `json:"program_id"`
	Value       decimal.Decimal `json:"value"`
	UseOverride bool            `json:"use_override"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// OverrideRequest is the body of PUT /v1/balances/{programId}/override.
type OverrideRequest struct {
	Value decimal.Decimal `json:"value"`
}

// ProgramBalance is derived from the operation log; never stored as a fact.
// WeightedAverageCost is per thousand miles.
type ProgramBalance struct {
	ProgramID           string           `json:"program_id"`
	ProgramName         string           `json:"program_name,omitempty"`
	CalculatedBalance   decimal.Decimal  `json:"calculated_balance"`
	WeightedAverageCost decimal.Decimal  `json:"weighted_average_cost"`
	TotalCost           decimal.Decimal  `json:"total_cost"`
	ManualAdjustment    *decimal.Decimal `json:"manual_adjustment,omitempty"`
	OverrideActive      bool             `json:"override_active"`
	DisplayedBalance    decimal.Decimal  `json:"displayed_balance"`
}
