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
// Operations
// ============================================================

var operationColumns = []string{
	"id", "owner_id", "type", "program_id", "date", "quantity", "value", "fees",
	"status", "card_id", "installment_count", "transfer_group_id", "bonus_pct",
	"receipt_date", "received_at", "note", "created_at",
}

func scanOperation(row pgx.Row) (domain.Operation, error) {
	var (
		op          domain.Operation
		typ, status string
		date        time.Time
		receiptDate *time.Time
	)
	err := row.Scan(&op.ID, &op.OwnerID, &typ, &op.ProgramID, &date, &op.Quantity, &op.Value, &op.Fees,
		&status, &op.CardID, &op.InstallmentCount, &op.TransferGroupID, &op.BonusPct,
		&receiptDate, &op.ReceivedAt, &op.Note, &op.CreatedAt)
	if err != nil {
		return op, err
	}
	op.Type = domain.OperationType(typ)
	op.Status = domain.OperationStatus(status)
	op.Date = domain.NewDate(date)
	if receiptDate != nil {
		rd := domain.NewDate(*receiptDate)
		op.ReceiptDate = &rd
	}
	return op, nil
}

func operationValues(op *domain.Operation) []any {
	var receiptDate *time.Time
	if op.ReceiptDate != nil && !op.ReceiptDate.IsZero() {
		receiptDate = &op.ReceiptDate.Time
	}
	return []any{
		op.ID, op.OwnerID, string(op.Type), op.ProgramID, op.Date.Time, op.Quantity, op.Value, op.Fees,
		string(op.Status), op.CardID, op.InstallmentCount, op.TransferGroupID, op.BonusPct,
		receiptDate, op.ReceivedAt, op.Note, op.CreatedAt,
	}
}

func insertOperations(ops ...*domain.Operation) sq.InsertBuilder {
	b := psql.Insert("operations").Columns(operationColumns...)
	for _, op := range ops {
		b = b.Values(operationValues(op)...)
	}
	return b
}

// listOperationsQuery renders the filtered, chronologically ordered select.
func listOperationsQuery(ownerID string, filter domain.OperationFilter) sq.SelectBuilder {
	b := psql.Select(operationColumns...).From("operations").Where(sq.Eq{"owner_id": ownerID})
	if filter.Type != "" {
		b = b.Where(sq.Eq{"type": string(filter.Type)})
	}
	if filter.ProgramID != "" {
		b = b.Where(sq.Eq{"program_id": filter.ProgramID})
	}
	if filter.From != nil {
		b = b.Where(sq.GtOrEq{"date": *filter.From})
	}
	if filter.To != nil {
		b = b.Where(sq.LtOrEq{"date": *filter.To})
	}
	return b.OrderBy("date", "created_at", "id")
}

func (s *Store) ListOperations(ctx context.Context, ownerID string, filter domain.OperationFilter) ([]domain.Operation, error) {
	ctx, span := tracer.Start(ctx, "Postgres.ListOperations")
	defer span.End()

	query, args, err := listOperationsQuery(ownerID, filter).ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail("query", query, args, err)
	}
	defer rows.Close()

	result := make([]domain.Operation, 0)
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, s.fail("scan", query, args, err)
		}
		result = append(result, op)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail("rows", query, args, err)
	}
	span.SetAttributes(attribute.Int("operations.count", len(result)))
	return result, nil
}

func (s *Store) GetOperation(ctx context.Context, ownerID, operationID string) (*domain.Operation, error) {
	ctx, span := tracer.Start(ctx, "Postgres.GetOperation")
	defer span.End()

	return s.getOperation(ctx, s.pool, ownerID, operationID)
}

func (s *Store) getOperation(ctx context.Context, q querier, ownerID, operationID string) (*domain.Operation, error) {
	query, args, err := psql.Select(operationColumns...).From("operations").
		Where(sq.Eq{"owner_id": ownerID, "id": operationID}).
		ToSql()
	if err != nil {
		return nil, s.fail("build", query, args, err)
	}
	op, err := scanOperation(q.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "operation", ID: operationID}
	}
	if err != nil {
		return nil, s.fail("scan", query, args, err)
	}
	return &op, nil
}

func (s *Store) CreateOperation(ctx context.Context, op *domain.Operation) (*domain.Operation, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateOperation")
	defer span.End()

	if _, err := s.exec(ctx, s.pool, insertOperations(op)); err != nil {
		return nil, err
	}
	saved := *op
	return &saved, nil
}

// CreateFinancedPurchase writes the purchase and all its installments in
// one transaction.
func (s *Store) CreateFinancedPurchase(ctx context.Context, op *domain.Operation, installments []domain.Installment) (*domain.Operation, []domain.Installment, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateFinancedPurchase")
	defer span.End()
	span.SetAttributes(attribute.Int("installments.count", len(installments)))

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.exec(ctx, tx, insertOperations(op)); err != nil {
			return err
		}
		if len(installments) == 0 {
			return nil
		}
		_, err := s.exec(ctx, tx, insertInstallments(installments))
		return err
	})
	if err != nil {
		return nil, nil, s.txError(err)
	}

	saved := *op
	out := make([]domain.Installment, len(installments))
	copy(out, installments)
	return &saved, out, nil
}

// CreateTransfer writes both legs in a single multi-row insert.
func (s *Store) CreateTransfer(ctx context.Context, out, in *domain.Operation) (*domain.Operation, *domain.Operation, error) {
	ctx, span := tracer.Start(ctx, "Postgres.CreateTransfer")
	defer span.End()

	if _, err := s.exec(ctx, s.pool, insertOperations(out, in)); err != nil {
		return nil, nil, err
	}
	o, i := *out, *in
	return &o, &i, nil
}

// DeleteOperation removes the operation, or the whole transfer group for a
// transfer leg. Installments follow through ON DELETE CASCADE.
func (s *Store) DeleteOperation(ctx context.Context, ownerID, operationID string) error {
	ctx, span := tracer.Start(ctx, "Postgres.DeleteOperation")
	defer span.End()
	span.SetAttributes(attribute.String("operation.id", operationID))

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		op, err := s.getOperation(ctx, tx, ownerID, operationID)
		if err != nil {
			return err
		}

		del := psql.Delete("operations").Where(sq.Eq{"owner_id": ownerID})
		if op.TransferGroupID != nil {
			del = del.Where(sq.Eq{"transfer_group_id": *op.TransferGroupID})
		} else {
			del = del.Where(sq.Eq{"id": op.ID})
		}
		_, err = s.exec(ctx, tx, del)
		return err
	})
	return s.txError(err)
}

// MarkSalesReceived flips pending sales among ids; received rows are left
// alone so the call can be repeated.
func (s *Store) MarkSalesReceived(ctx context.Context, ownerID string, ids []string, receivedAt time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Postgres.MarkSalesReceived")
	defer span.End()

	n, err := s.exec(ctx, s.pool, psql.Update("operations").
		Set("status", string(domain.StatusReceived)).
		Set("received_at", receivedAt).
		Where(sq.Eq{"owner_id": ownerID, "id": ids, "type": string(domain.OpSale)}).
		Where(sq.NotEq{"status": string(domain.StatusReceived)}))
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// txError passes domain errors from inside a transaction through and maps
// failures of begin/commit themselves.
func (s *Store) txError(err error) error {
	if err == nil {
		return nil
	}
	var (
		nf   *domain.ErrNotFound
		conf *domain.ErrConflict
		pe   *domain.ErrPersistence
		to   *domain.ErrTimeout
	)
	if errors.As(err, &nf) || errors.As(err, &conf) || errors.As(err, &pe) || errors.As(err, &to) {
		return err
	}
	return s.fail("tx", "", nil, err)
}
