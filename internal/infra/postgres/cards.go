package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"
)

// ============================================================
// Credit cards
// ============================================================

var cardColumns = []string{"id", "owner_id", "name", "closing_day", "due_day", "credit_limit", "created_at"}

func scanCard(row pgx.Row) (domain.Card, error) {
	var c domain.Card
	err := row.Scan(&c.ID, &c.OwnerID, &c.Name, &c.ClosingDay, &c.DueDay, &c.CreditLimit, &c.CreatedAt)
	return c, err
}

func (s *Store) CreateCard(ctx context.Context, card *domain.Card) (*domain.Card, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateCard")
	defer span.End()

	_, err := s.exec(ctx, s.pool, psql.Insert("credit_cards").Columns(cardColumns...).
		Values(card.ID, card.OwnerID, card.Name, card.ClosingDay, card.DueDay, card.CreditLimit, card.CreatedAt))
	if err != nil {
		return nil, err
	}
	saved := *card
	return &saved, nil
}

func (s *Store) ListCards(ctx context.Context, ownerID string) ([]domain.Card, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListCards")
	defer span.End()

	query, args, err := psql.Select(cardColumns...).From("credit_cards").
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("name").
		ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", query, args, err)
	}
	defer rows.Close()

	result := make([]domain.Card, 0)
	for rows.Next() {
		c, err := scanCard(rows)
		if err != nil {
			return nil, s.fail("scan", query, args, err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("rows", query, args, err)
	}
	return result, nil
}

func (s *Store) GetCard(ctx context.Context, ownerID, cardID string) (*domain.Card, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetCard")
	defer span.End()

	query, args, err := psql.Select(cardColumns...).From("credit_cards").
		Where(sq.Eq{"owner_id": ownerID, "id": cardID}).
		ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	c, err := scanCard(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "card", ID: cardID}
	}
	if err != nil {
		return nil, s.fail("scan", query, args, err)
	}
	return &c, nil
}

// deleteCardQuery deletes the card only while no unpaid installment
// references it, so the guard and the delete are one statement.
func deleteCardQuery(ownerID, cardID string) sq.DeleteBuilder {
	return psql.Delete("credit_cards").
		Where(sq.Eq{"owner_id": ownerID}).
		Where(sq.Eq{"id": cardID}).
		Where(sq.Expr("NOT EXISTS (SELECT 1 FROM installments WHERE owner_id = ? AND card_id = ? AND paid = false)", ownerID, cardID))
}

// DeleteCard returns ErrConflict when unpaid installments still reference
// the card and ErrNotFound when the owner has no such card.
func (s *Store) DeleteCard(ctx context.Context, ownerID, cardID string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteCard")
	defer span.End()

	n, err := s.exec(ctx, s.pool, deleteCardQuery(ownerID, cardID))
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	if _, err := s.GetCard(ctx, ownerID, cardID); err != nil {
		return err
	}
	return &domain.ErrConflict{Message: "card has unpaid installments"}
}

// ============================================================
// Installments
// ============================================================

var installmentColumns = []string{
	"id", "owner_id", "operation_id", "card_id", "amount", "due_month", "due_date",
	"sequence_number", "total_count", "paid", "paid_at",
}

func scanInstallment(row pgx.Row) (domain.Installment, error) {
	var (
		inst     domain.Installment
		dueMonth string
		dueDate  time.Time
	)
	err := row.Scan(&inst.ID, &inst.OwnerID, &inst.OperationID, &inst.CardID, &inst.Amount, &dueMonth, &dueDate,
		&inst.Sequence, &inst.TotalCount, &inst.Paid, &inst.PaidAt)
	inst.DueMonth = domain.Month(dueMonth)
	inst.DueDate = domain.NewDate(dueDate)
	return inst, err
}

func insertInstallments(installments []domain.Installment) sq.InsertBuilder {
	b := psql.Insert("installments").Columns(installmentColumns...)
	for _, inst := range installments {
		b = b.Values(inst.ID, inst.OwnerID, inst.OperationID, inst.CardID, inst.Amount, string(inst.DueMonth), inst.DueDate.Time,
			inst.Sequence, inst.TotalCount, inst.Paid, inst.PaidAt)
	}
	return b
}

func listInstallmentsQuery(ownerID string, filter domain.InstallmentFilter) sq.SelectBuilder {
	b := psql.Select(installmentColumns...).From("installments").Where(sq.Eq{"owner_id": ownerID})
	if filter.CardID != "" {
		b = b.Where(sq.Eq{"card_id": filter.CardID})
	}
	if filter.DueMonth != "" {
		b = b.Where(sq.Eq{"due_month": string(filter.DueMonth)})
	}
	if filter.OperationID != "" {
		b = b.Where(sq.Eq{"operation_id": filter.OperationID})
	}
	if filter.UnpaidOnly {
		b = b.Where(sq.Eq{"paid": false})
	}
	return b.OrderBy("due_month", "operation_id", "sequence_number")
}

func (s *Store) ListInstallments(ctx context.Context, ownerID string, filter domain.InstallmentFilter) ([]domain.Installment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListInstallments")
	defer span.End()

	query, args, err := listInstallmentsQuery(ownerID, filter).ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", query, args, err)
	}
	defer rows.Close()

	result := make([]domain.Installment, 0)
	for rows.Next() {
		inst, err := scanInstallment(rows)
		if err != nil {
			return nil, s.fail("scan", query, args, err)
		}
		result = append(result, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("rows", query, args, err)
	}
	span.SetAttributes(attribute.Int("installments.count", len(result)))
	return result, nil
}

// SettleInstallments pays every unpaid installment of (card, month) in one
// UPDATE and returns how many rows changed.
func (s *Store) SettleInstallments(ctx context.Context, ownerID, cardID string, month domain.Month, paidAt time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.SettleInstallments")
	defer span.End()

	n, err := s.exec(ctx, s.pool, psql.Update("installments").
		Set("paid", true).
		Set("paid_at", paidAt).
		Where(sq.Eq{"owner_id": ownerID, "card_id": cardID, "due_month": string(month), "paid": false}))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
