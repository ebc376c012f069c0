package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Operations (compra / venda / transferência)
// ============================================================

// OperationType tags the operation variants. A transfer is stored as two
// legs (transfer_out on the source, transfer_in on the destination) sharing
// a TransferGroupID.
type OperationType string

const (
	OpPurchase    OperationType = "purchase"
	OpSale        OperationType = "sale"
	OpTransferOut OperationType = "transfer_out"
	OpTransferIn  OperationType = "transfer_in"
)

// Valid reports whether t is a known operation type.
func (t OperationType) Valid() bool {
	switch t {
	case OpPurchase, OpSale, OpTransferOut, OpTransferIn:
		return true
	}
	return false
}

// Credits reports whether the operation adds miles to its program.
func (t OperationType) Credits() bool {
	return t == OpPurchase || t == OpTransferIn
}

// Debits reports whether the operation removes miles from its program.
func (t OperationType) Debits() bool {
	return t == OpSale || t == OpTransferOut
}

// OperationStatus: sales are pending or received, everything else completed.
type OperationStatus string

const (
	StatusCompleted OperationStatus = "completed"
	StatusPending   OperationStatus = "pending"
	StatusReceived  OperationStatus = "received"
)

// Operation is an immutable fact of the ledger. Only Status / ReceivedAt
// change after creation.
type Operation struct {
	ID               string          `json:"id"`
	OwnerID          string          `json:"owner_id"`
	Type             OperationType   `json:"type"`
	ProgramID        string          `json:"program_id"`
	Date             Date            `json:"date"`
	Quantity         decimal.Decimal `json:"quantity"`
	Value            decimal.Decimal `json:"value"`
	Fees             decimal.Decimal `json:"fees"`
	Status           OperationStatus `json:"status"`
	CardID           *string         `json:"card_id,omitempty"`
	InstallmentCount int             `json:"installment_count,omitempty"`
	TransferGroupID  *string         `json:"transfer_group_id,omitempty"`
	BonusPct         decimal.Decimal `json:"bonus_pct"`
	ReceiptDate      *Date           `json:"receipt_date,omitempty"`
	ReceivedAt       *time.Time      `json:"received_at,omitempty"`
	Note             string          `json:"note,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// IsFinanced reports whether the purchase was paid through a card.
func (o Operation) IsFinanced() bool {
	return o.Type == OpPurchase && o.CardID != nil && *o.CardID != ""
}

// GrossCost is value + fees (what a purchase or transfer costs).
func (o Operation) GrossCost() decimal.Decimal {
	return o.Value.Add(o.Fees)
}

// NetValue is value − fees (what a sale actually yields).
func (o Operation) NetValue() decimal.Decimal {
	return o.Value.Sub(o.Fees)
}

// ReceiptMonth is the month a sale is expected to be (or was) received in.
// Falls back to the sale date when no receipt date was recorded.
func (o Operation) ReceiptMonth() Month {
	if o.ReceiptDate != nil && !o.ReceiptDate.IsZero() {
		return MonthOf(o.ReceiptDate.Time)
	}
	return MonthOf(o.Date.Time)
}

// OperationFilter narrows ListOperations. Zero values mean "any".
type OperationFilter struct {
	Type      OperationType
	ProgramID string
	From      *time.Time
	To        *time.Time
}

// ============================================================
// Requests / receipts
// ============================================================

// PurchaseRequest records a purchase, optionally financed by a card.
type PurchaseRequest struct {
	ProgramID        string          `json:"program_id"`
	Quantity         decimal.Decimal `json:"quantity"`
	Value            decimal.Decimal `json:"value"`
	Fees             decimal.Decimal `json:"fees"`
	CardID           *string         `json:"card_id,omitempty"`
	InstallmentCount int             `json:"installment_count"`
	Date             string          `json:"date"`
	Note             string          `json:"note,omitempty"`
}

// PurchaseReceipt is returned by RecordPurchase. Warnings carries recoverable
// inconsistencies (e.g. the referenced card no longer exists).
type PurchaseReceipt struct {
	Operation    Operation     `json:"operation"`
	Installments []Installment `json:"installments"`
	Warnings     []string      `json:"warnings,omitempty"`
}

// SaleRequest records a sale of miles.
type SaleRequest struct {
	ProgramID     string          `json:"program_id"`
	Quantity      decimal.Decimal `json:"quantity"`
	Value         decimal.Decimal `json:"value"`
	Fees          decimal.Decimal `json:"fees"`
	Date          string          `json:"date"`
	ReceiptStatus OperationStatus `json:"receipt_status"`
	ReceiptDate   string          `json:"receipt_date,omitempty"`
	Note          string          `json:"note,omitempty"`
}

// TransferRequest moves miles between programs with an optional bonus.
type TransferRequest struct {
	SourceProgramID string          `json:"source_program_id"`
	DestProgramID   string          `json:"dest_program_id"`
	Quantity        decimal.Decimal `json:"quantity"`
	BonusPct        decimal.Decimal `json:"bonus_pct"`
	Fee             decimal.Decimal `json:"fee"`
	Date            string          `json:"date"`
	Note            string          `json:"note,omitempty"`
}

// TransferReceipt holds both legs of a recorded transfer.
type TransferReceipt struct {
	Outbound Operation `json:"outbound"`
	Inbound  Operation `json:"inbound"`
}

// ReceiveSalesRequest is the body of POST /v1/operations/sales/receive.
type ReceiveSalesRequest struct {
	IDs []string `json:"ids"`
}
