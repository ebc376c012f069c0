package port

import (
	"context"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
)

// CardStore handles credit card data operations.
type CardStore interface {
	CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error)
	ListCards(ctx context.Context, ownerID string) ([]domain.Card, error)
	GetCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error)
	DeleteCard(ctx context.Context, ownerID, cardID string) error
}

// InstallmentStore handles the card installment schedule.
type InstallmentStore interface {
	ListInstallments(ctx context.Context, ownerID string, filter domain.InstallmentFilter) ([]domain.Installment, error)

	// SettleInstallments marks every unpaid installment of (card, month) as
	// paid in a single conditional update and returns how many changed.
	SettleInstallments(ctx context.Context, ownerID, cardID string, month domain.Month, paidAt time.Time) (int, error)
}
