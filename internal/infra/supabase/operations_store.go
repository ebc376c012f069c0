package supabase

import (
	"context"
	"net/http"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// ============================================================
// Operations: log of purchases, sales and transfer legs
// ============================================================

const (
	tableOperations   = "operations"
	tableInstallments = "installments"
)

// rollbackTimeout bounds a compensating write, which runs detached from the
// caller's context.
const rollbackTimeout = 5 * time.Second

func (c *Client) ListOperations(ctx context.Context, ownerID string, filter domain.OperationFilter) ([]domain.Operation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.ListOperations")
	defer span.End()
	span.SetAttributes(ownerAttr(ownerID))

	params := ownerFilter(ownerID)
	if filter.Type != "" {
		params = append(params, "type", eq(string(filter.Type)))
	}
	if filter.ProgramID != "" {
		params = append(params, "program_id", eq(filter.ProgramID))
	}
	if filter.From != nil {
		params = append(params, "date", "gte."+filter.From.Format(domain.DateLayout))
	}
	if filter.To != nil {
		params = append(params, "date", "lte."+filter.To.Format(domain.DateLayout))
	}
	params = append(params, "order", "date.asc,created_at.asc,id.asc")

	rows := []domain.Operation{}
	if err := c.get(ctx, query(tableOperations, params...), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) GetOperation(ctx context.Context, ownerID, operationID string) (*domain.Operation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.GetOperation")
	defer span.End()

	var rows []domain.Operation
	path := query(tableOperations, append(ownerFilter(ownerID), "id", eq(operationID), "limit", "1")...)
	if err := c.get(ctx, path, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, notFound("operation", operationID)
	}
	return &rows[0], nil
}

func (c *Client) CreateOperation(ctx context.Context, op *domain.Operation) (*domain.Operation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateOperation")
	defer span.End()
	span.SetAttributes(attribute.String("operation.type", string(op.Type)))

	var rows []domain.Operation
	if err := c.write(ctx, http.MethodPost, tableOperations, op, preferRepresentation, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return op, nil
	}
	return &rows[0], nil
}

// CreateFinancedPurchase inserts the purchase, then its installments in one
// array insert. PostgREST has no cross-request transaction, so a failed
// installment insert is compensated by deleting the purchase.
func (c *Client) CreateFinancedPurchase(ctx context.Context, op *domain.Operation, installments []domain.Installment) (*domain.Operation, []domain.Installment, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateFinancedPurchase")
	defer span.End()
	span.SetAttributes(attribute.Int("installments.count", len(installments)))

	saved, err := c.CreateOperation(ctx, op)
	if err != nil {
		return nil, nil, err
	}

	var rows []domain.Installment
	if err := c.write(ctx, http.MethodPost, tableInstallments, installments, preferRepresentation, &rows); err != nil {
		// the insert may have failed because ctx ended; the rollback must still run
		rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
		defer cancel()

		path := query(tableOperations, append(ownerFilter(op.OwnerID), "id", eq(op.ID))...)
		if delErr := c.write(rbCtx, http.MethodDelete, path, nil, preferMinimal, nil); delErr != nil {
			c.metrics.IncrInconsistency("orphan_purchase")
			c.logger.Error("supabase: failed to roll back purchase after installment insert failure",
				zap.String("owner_id", op.OwnerID),
				zap.String("operation_id", op.ID),
				zap.Error(delErr),
			)
		}
		return nil, nil, err
	}
	if len(rows) == 0 {
		rows = installments
	}
	return saved, rows, nil
}

// CreateTransfer inserts both legs in a single array insert, which PostgREST
// runs as one statement.
func (c *Client) CreateTransfer(ctx context.Context, out, in *domain.Operation) (*domain.Operation, *domain.Operation, error) {
	ctx, span := tracer.Start(ctx, "Supabase.CreateTransfer")
	defer span.End()

	var rows []domain.Operation
	if err := c.write(ctx, http.MethodPost, tableOperations, []*domain.Operation{out, in}, preferRepresentation, &rows); err != nil {
		return nil, nil, err
	}

	savedOut, savedIn := out, in
	for i := range rows {
		switch rows[i].Type {
		case domain.OpTransferOut:
			savedOut = &rows[i]
		case domain.OpTransferIn:
			savedIn = &rows[i]
		}
	}
	return savedOut, savedIn, nil
}

// DeleteOperation removes the operation and, for a transfer leg, the whole
// transfer group, in a single DELETE. Installments go with their operation
// through the ON DELETE CASCADE on installments.operation_id, so no partial
// state is left when the request fails.
func (c *Client) DeleteOperation(ctx context.Context, ownerID, operationID string) error {
	ctx, span := tracer.Start(ctx, "Supabase.DeleteOperation")
	defer span.End()
	span.SetAttributes(ownerAttr(ownerID), attribute.String("operation.id", operationID))

	op, err := c.GetOperation(ctx, ownerID, operationID)
	if err != nil {
		return err
	}

	ids := []string{op.ID}
	if op.TransferGroupID != nil {
		var legs []domain.Operation
		path := query(tableOperations, append(ownerFilter(ownerID), "transfer_group_id", eq(*op.TransferGroupID), "select", "id")...)
		if err := c.get(ctx, path, &legs); err != nil {
			return err
		}
		ids = ids[:0]
		for _, leg := range legs {
			ids = append(ids, leg.ID)
		}
	}

	opPath := query(tableOperations, append(ownerFilter(ownerID), "id", inList(ids))...)
	return c.write(ctx, http.MethodDelete, opPath, nil, preferMinimal, nil)
}

// MarkSalesReceived flips the pending sales among ids in one PATCH. Rows
// already received do not match the filter, so repeating the call is a
// no-op.
func (c *Client) MarkSalesReceived(ctx context.Context, ownerID string, ids []string, receivedAt time.Time) (int, error) {
	ctx, span := tracer.Start(ctx, "Supabase.MarkSalesReceived")
	defer span.End()

	path := query(tableOperations, append(ownerFilter(ownerID),
		"id", inList(ids),
		"type", eq(string(domain.OpSale)),
		"status", "neq."+string(domain.StatusReceived),
	)...)
	patch := map[string]any{
		"status":      domain.StatusReceived,
		"received_at": receivedAt.UTC().Format(time.RFC3339),
	}

	var changed []domain.Operation
	if err := c.write(ctx, http.MethodPatch, path, patch, preferRepresentation, &changed); err != nil {
		return 0, err
	}
	return len(changed), nil
}
