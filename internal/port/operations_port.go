package port

import (
	"context"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
)

// OperationStore handles the operation log (purchases, sales, transfer legs).
type OperationStore interface {
	ListOperations(ctx context.Context, ownerID string, filter domain.OperationFilter) ([]domain.Operation, error)
	GetOperation(ctx context.Context, ownerID, operationID string) (*domain.Operation, error)
	CreateOperation(ctx context.Context, op *domain.Operation) (*domain.Operation, error)

	// CreateFinancedPurchase persists a purchase and its installment schedule
	// as one unit: either both exist afterwards or neither does.
	CreateFinancedPurchase(ctx context.Context, op *domain.Operation, installments []domain.Installment) (*domain.Operation, []domain.Installment, error)

	// CreateTransfer persists both legs of a transfer as one unit.
	CreateTransfer(ctx context.Context, out, in *domain.Operation) (*domain.Operation, *domain.Operation, error)

	// DeleteOperation removes the operation, its installments and, for a
	// transfer leg, the sibling leg.
	DeleteOperation(ctx context.Context, ownerID, operationID string) error

	// MarkSalesReceived flips pending sales among ids to received and returns
	// how many changed. Already received sales and non-sales are skipped.
	MarkSalesReceived(ctx context.Context, ownerID string, ids []string, receivedAt time.Time) (int, error)
}
