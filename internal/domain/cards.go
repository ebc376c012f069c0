package domain

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Credit cards & installments
// ============================================================

// CardRequest is the payload to register a card.
type CardRequest struct {
	Name        string          `json:"name"`
	ClosingDay  int             `json:"closing_day"`
	DueDay      int             `json:"due_day"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
}

// Card is a credit instrument with a monthly billing cycle. ClosingDay and
// DueDay are plain days of month (1–31); month-length clamping happens when
// a due date is built.
type Card struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	Name        string          `json:"name"`
	ClosingDay  int             `json:"closing_day"`
	DueDay      int             `json:"due_day"`
	CreditLimit decimal.Decimal `json:"credit_limit"`
	CreatedAt   time.Time       `json:"created_at"`
}

// BillingCycle is the part of a card the scheduler needs.
type BillingCycle struct {
	ClosingDay int
	DueDay     int
}

// Cycle returns the card's billing cycle.
func (c Card) Cycle() BillingCycle {
	return BillingCycle{ClosingDay: c.ClosingDay, DueDay: c.DueDay}
}

// PurchaseTerms is the financed part of a purchase.
type PurchaseTerms struct {
	Date             time.Time
	TotalAmount      decimal.Decimal
	Fee              decimal.Decimal
	InstallmentCount int
}

// Installment is one scheduled share of a financed purchase. Rows are
// created in a single batch with their parent and only ever change through
// a (card, due_month) settle.
type Installment struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"owner_id"`
	OperationID string          `json:"operation_id"`
	CardID      string          `json:"card_id"`
	Amount      decimal.Decimal `json:"amount"`
	DueMonth    Month           `json:"due_month"`
	DueDate     Date            `json:"due_date"`
	Sequence    int             `json:"sequence_number"`
	TotalCount  int             `json:"total_count"`
	Paid        bool            `json:"paid"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
}

// Label renders the "3/10" form shown on statements.
func (i Installment) Label() string {
	return strconv.Itoa(i.Sequence) + "/" + strconv.Itoa(i.TotalCount)
}

// InstallmentFilter narrows ListInstallments. Zero values mean "any".
type InstallmentFilter struct {
	CardID      string
	DueMonth    Month
	OperationID string
	UnpaidOnly  bool
}

// CardStatement groups a card's installments due in one month.
type CardStatement struct {
	CardID       string          `json:"card_id"`
	CardName     string          `json:"card_name"`
	Month        Month           `json:"month"`
	DueDate      Date            `json:"due_date"`
	Total        decimal.Decimal `json:"total"`
	PaidAmount   decimal.Decimal `json:"paid_amount"`
	PendingTotal decimal.Decimal `json:"pending_total"`
	Settled      bool            `json:"settled"`
	Installments []Installment   `json:"installments"`
}

// SettleResult is returned by SettleInstallments.
type SettleResult struct {
	CardID  string `json:"card_id"`
	Month   Month  `json:"month"`
	Settled int    `json:"settled"`
}
