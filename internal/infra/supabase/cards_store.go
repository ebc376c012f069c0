package supabase

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Credit Cards & installments: CRUD via PostgREST
// ============================================================

const tableCards = "credit_cards"

func (c *Client) CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateCard")
	defer span.End()

	var rows []domain.Card
	if err := c.write(ctx, http.MethodPost, tableCards, card, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return card, nil
	}
	return &rows[0], nil
}

func (c *Client) ListCards(ctx context.Context, ownerID string) ([]domain.Card, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListCards")
	defer span.End()

	rows := []domain.Card{}
	if err := c.get(ctx, query(tableCards, append(ownerFilter(ownerID), "order", "name.asc")...), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) GetCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetCard")
	defer span.End()

	var rows []domain.Card
	path := query(tableCards, append(ownerFilter(ownerID), "id", eq(cardID), "limit", "1")...)
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("card", cardID)
	}
	return &rows[0], nil
}

func (c *Client) DeleteCard(ctx context.Context, ownerID, cardID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteCard")
	defer span.End()

	var deleted []domain.Card
	path := query(tableCards, append(ownerFilter(ownerID), "id", eq(cardID))...)
	if err := c.write(ctx, http.MethodDelete, path, nil, preferRepresentation, &deleted); err != nil {
		return err
	}
	if len(deleted) == 0 {
		return notFound("card", cardID)
	}
	return nil
}

// --- Installments ---

func (c *Client) ListInstallments(ctx context.Context, ownerID string, filter domain.InstallmentFilter) ([]domain.Installment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListInstallments")
	defer span.End()

	params := ownerFilter(ownerID)
	if filter.CardID != "" {
		params = append(params, "card_id", eq(filter.CardID))
	}
	if filter.DueMonth != "" {
		params = append(params, "due_month", eq(string(filter.DueMonth)))
	}
	if filter.OperationID != "" {
		params = append(params, "operation_id", eq(filter.OperationID))
	}
	if filter.UnpaidOnly {
		params = append(params, "paid", "is.false")
	}
	params = append(params, "order", "due_month.asc,operation_id.asc,sequence_number.asc")

	rows := []domain.Installment{}
	if err := c.get(ctx, query(tableInstallments, params...), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// SettleInstallments marks the unpaid installments of (card, month) paid in
// a single PATCH. The paid=is.false filter makes it idempotent; the number
// of rows returned is the number settled.
func (c *Client) SettleInstallments(ctx context.Context, ownerID, cardID string, month domain.Month, paidAt time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.SettleInstallments")
	defer span.End()
	span.SetAttributes(attribute.String("card.id", cardID), attribute.String("month", string(month)))

	path := query(tableInstallments, append(ownerFilter(ownerID),
		"card_id", eq(cardID),
		"due_month", eq(string(month)),
		"paid", "is.false",
	)...)
	patch := map[string]any{
		"paid":    true,
		"paid_at": paidAt.UTC().Format(time.RFC3339),
	}

	var settled []domain.Installment
	if err := c.write(ctx, http.MethodPatch, path, patch, preferRepresentation, &settled); err != nil {
		return 0, err
	}
	return len(settled), nil
}
