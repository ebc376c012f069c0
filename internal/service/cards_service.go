package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/engine"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Credit Cards
// ============================================================

func (s *MilesService) CreateCard(ctx context.Context, ownerID string, req *domain.CardRequest) (*domain.Card, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.CreateCard")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, &domain.ErrValidation{Field: "name", Message: "required"}
	}
	if err := engine.ValidateCycle(domain.BillingCycle{ClosingDay: req.ClosingDay, DueDay: req.DueDay}); err != nil {
		return nil, err
	}
	if req.CreditLimit.IsNegative() {
		return nil, &domain.ErrValidation{Field: "credit_limit", Message: "must not be negative"}
	}

	card, err := s.store.CreateCard(ctx, &domain.Card{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		ClosingDay:  req.ClosingDay,
		DueDay:      req.DueDay,
		CreditLimit: req.CreditLimit,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		s.logger.Error("failed to create card", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("card created",
		zap.String("owner_id", ownerID),
		zap.String("card_id", card.ID),
		zap.Int("closing_day", card.ClosingDay),
		zap.Int("due_day", card.DueDay),
	)
	return card, nil
}

func (s *MilesService) ListCards(ctx context.Context, ownerID string) ([]domain.Card, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.ListCards")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.ListCards(ctx, ownerID)
}

func (s *MilesService) GetCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.GetCard")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	return s.store.GetCard(ctx, ownerID, cardID)
}

// DeleteCard removes a card. It is refused while unpaid installments still
// reference the card; paid installments are kept as history.
func (s *MilesService) DeleteCard(ctx context.Context, ownerID, cardID string) error {
	ctx, span := milesTracer.Start(ctx, "MilesService.DeleteCard")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID))

	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if _, err := s.store.GetCard(ctx, ownerID, cardID); err != nil {
		return err
	}

	unpaid, err := s.store.ListInstallments(ctx, ownerID, domain.InstallmentFilter{CardID: cardID, UnpaidOnly: true})
	if err != nil {
		return err
	}
	if len(unpaid) > 0 {
		pending := decimal.Zero
		for _, inst := range unpaid {
			pending = pending.Add(inst.Amount)
		}
		return &domain.ErrConflict{Message: fmt.Sprintf(
			"card has %d unpaid installments (%s pending); settle or delete the purchases first",
			len(unpaid), pending.StringFixed(2))}
	}

	if err := s.store.DeleteCard(ctx, ownerID, cardID); err != nil {
		return err
	}
	s.logger.Info("card deleted", zap.String("owner_id", ownerID), zap.String("card_id", cardID))
	return nil
}

// ============================================================
// Statements & settlement
// ============================================================

// CardStatement groups the card's installments due in month.
func (s *MilesService) CardStatement(ctx context.Context, ownerID, cardID, month string) (*domain.CardStatement, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.CardStatement")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	m, err := domain.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	card, err := s.store.GetCard(ctx, ownerID, cardID)
	if err != nil {
		return nil, err
	}
	installments, err := s.store.ListInstallments(ctx, ownerID, domain.InstallmentFilter{CardID: cardID, DueMonth: m})
	if err != nil {
		return nil, err
	}

	st := &domain.CardStatement{
		CardID:       card.ID,
		CardName:     card.Name,
		Month:        m,
		DueDate:      domain.NewDate(m.Day(card.DueDay)),
		Installments: installments,
	}
	for _, inst := range installments {
		st.Total = st.Total.Add(inst.Amount)
		if inst.Paid {
			st.PaidAmount = st.PaidAmount.Add(inst.Amount)
		} else {
			st.PendingTotal = st.PendingTotal.Add(inst.Amount)
		}
	}
	st.Settled = len(installments) > 0 && st.PendingTotal.IsZero()
	return st, nil
}

// SettleInstallments marks every unpaid installment of (card, month) as
// paid. Settling an already settled month changes nothing and succeeds.
func (s *MilesService) SettleInstallments(ctx context.Context, ownerID, cardID, month string) (*domain.SettleResult, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.SettleInstallments")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID), attribute.String("month", month))

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	m, err := domain.ParseMonth(month)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.GetCard(ctx, ownerID, cardID); err != nil {
		return nil, err
	}

	n, err := s.store.SettleInstallments(ctx, ownerID, cardID, m, s.now().UTC())
	if err != nil {
		s.logger.Error("failed to settle installments",
			zap.String("owner_id", ownerID),
			zap.String("card_id", cardID),
			zap.String("month", string(m)),
			zap.Error(err),
		)
		return nil, err
	}

	if n > 0 {
		s.invalidate(ownerID)
		s.metrics.AddInstallmentsSettled(n)
	}
	s.logger.Info("installments settled",
		zap.String("owner_id", ownerID),
		zap.String("card_id", cardID),
		zap.String("month", string(m)),
		zap.Int("settled", n),
	)
	return &domain.SettleResult{CardID: cardID, Month: m, Settled: n}, nil
}
