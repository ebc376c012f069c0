package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/engine"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const inconsistencyMissingCard = "missing_card"

// ============================================================
// Purchases
// ============================================================

// RecordPurchase appends a purchase to the log. When a card is given the
// installment schedule is generated and persisted together with the
// operation; a card that no longer exists degrades the purchase to an
// unfinanced one and is reported through Warnings.
func (s *MilesService) RecordPurchase(ctx context.Context, ownerID string, req *domain.PurchaseRequest) (*domain.PurchaseReceipt, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.RecordPurchase")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID), attribute.String("program.id", req.ProgramID))

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	date, err := validateOperation(req.ProgramID, req.Quantity, req.Value, req.Fees, req.Date)
	if err != nil {
		return nil, err
	}
	if err := s.requireProgram(ctx, ownerID, "program_id", req.ProgramID); err != nil {
		return nil, err
	}

	op := &domain.Operation{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Type:      domain.OpPurchase,
		ProgramID: req.ProgramID,
		Date:      domain.NewDate(date),
		Quantity:  req.Quantity,
		Value:     req.Value,
		Fees:      req.Fees,
		Status:    domain.StatusCompleted,
		Note:      strings.TrimSpace(req.Note),
		CreatedAt: s.now().UTC(),
	}
	receipt := &domain.PurchaseReceipt{Installments: []domain.Installment{}}

	var card *domain.Card
	if req.CardID != nil && *req.CardID != "" {
		if req.InstallmentCount < 1 {
			return nil, &domain.ErrValidation{Field: "installment_count", Message: "must be at least 1 for a card purchase"}
		}
		card, err = s.store.GetCard(ctx, ownerID, *req.CardID)
		switch {
		case domain.IsNotFound(err):
			card = nil
			receipt.Warnings = append(receipt.Warnings,
				fmt.Sprintf("card %s not found: purchase recorded without installments", *req.CardID))
			s.metrics.IncrInconsistency(inconsistencyMissingCard)
			s.logger.Warn("purchase references missing card, recording unfinanced",
				zap.String("owner_id", ownerID),
				zap.String("operation_id", op.ID),
				zap.String("card_id", *req.CardID),
			)
		case err != nil:
			return nil, err
		}
	}

	if card == nil {
		saved, err := s.store.CreateOperation(ctx, op)
		if err != nil {
			s.logger.Error("failed to record purchase", zap.String("owner_id", ownerID), zap.Error(err))
			return nil, err
		}
		receipt.Operation = *saved
	} else {
		cardID := card.ID
		op.CardID = &cardID
		op.InstallmentCount = req.InstallmentCount

		installments, err := engine.Schedule(domain.PurchaseTerms{
			Date:             date,
			TotalAmount:      req.Value,
			Fee:              req.Fees,
			InstallmentCount: req.InstallmentCount,
		}, card.Cycle())
		if err != nil {
			return nil, err
		}
		for i := range installments {
			installments[i].ID = uuid.NewString()
			installments[i].OwnerID = ownerID
			installments[i].OperationID = op.ID
			installments[i].CardID = card.ID
		}

		saved, savedInstallments, err := s.store.CreateFinancedPurchase(ctx, op, installments)
		if err != nil {
			s.logger.Error("failed to record financed purchase",
				zap.String("owner_id", ownerID),
				zap.String("card_id", card.ID),
				zap.Error(err),
			)
			return nil, err
		}
		receipt.Operation = *saved
		receipt.Installments = savedInstallments
		s.metrics.AddInstallmentsScheduled(len(savedInstallments))
	}

	s.invalidate(ownerID)
	s.metrics.IncrOperation(string(domain.OpPurchase))
	s.logger.Info("purchase recorded",
		zap.String("owner_id", ownerID),
		zap.String("operation_id", receipt.Operation.ID),
		zap.String("program_id", req.ProgramID),
		zap.Int("installments", len(receipt.Installments)),
	)
	return receipt, nil
}

// ============================================================
// Sales
// ============================================================

// RecordSale appends a sale. The receipt date defaults to the sale date;
// sales recorded as received get their received_at stamped.
func (s *MilesService) RecordSale(ctx context.Context, ownerID string, req *domain.SaleRequest) (*domain.Operation, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.RecordSale")
	defer span.End()
	span.SetAttributes(attribute.String("owner.id", ownerID), attribute.String("program.id", req.ProgramID))

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	date, err := validateOperation(req.ProgramID, req.Quantity, req.Value, req.Fees, req.Date)
	if err != nil {
		return nil, err
	}

	status := req.ReceiptStatus
	if status == "" {
		status = domain.StatusPending
	}
	if status != domain.StatusPending && status != domain.StatusReceived {
		return nil, &domain.ErrValidation{Field: "receipt_status", Message: fmt.Sprintf("must be pending or received, got '%s'", status)}
	}

	receiptDate := date
	if req.ReceiptDate != "" {
		receiptDate, err = domain.ParseDate("receipt_date", req.ReceiptDate)
		if err != nil {
			return nil, err
		}
	}
	if err := s.requireProgram(ctx, ownerID, "program_id", req.ProgramID); err != nil {
		return nil, err
	}

	rd := domain.NewDate(receiptDate)
	now := s.now().UTC()
	op := &domain.Operation{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Type:        domain.OpSale,
		ProgramID:   req.ProgramID,
		Date:        domain.NewDate(date),
		Quantity:    req.Quantity,
		Value:       req.Value,
		Fees:        req.Fees,
		Status:      status,
		ReceiptDate: &rd,
		Note:        strings.TrimSpace(req.Note),
		CreatedAt:   now,
	}
	if status == domain.StatusReceived {
		op.ReceivedAt = &now
	}

	saved, err := s.store.CreateOperation(ctx, op)
	if err != nil {
		s.logger.Error("failed to record sale", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	s.invalidate(ownerID)
	s.metrics.IncrOperation(string(domain.OpSale))
	s.logger.Info("sale recorded",
		zap.String("owner_id", ownerID),
		zap.String("operation_id", saved.ID),
		zap.String("status", string(saved.Status)),
	)
	return saved, nil
}

// MarkSalesReceived flips pending sales to received. Calling it again on
// the same ids is a no-op; the count of sales that changed is returned.
func (s *MilesService) MarkSalesReceived(ctx context.Context, ownerID string, ids []string) (int, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.MarkSalesReceived")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return 0, err
	}
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			clean = append(clean, id)
		}
	}
	if len(clean) == 0 {
		return 0, &domain.ErrValidation{Field: "ids", Message: "at least one sale id is required"}
	}

	n, err := s.store.MarkSalesReceived(ctx, ownerID, clean, s.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.invalidate(ownerID)
	}
	span.SetAttributes(attribute.Int("sales.received", n))
	s.logger.Info("sales marked received",
		zap.String("owner_id", ownerID),
		zap.Int("requested", len(clean)),
		zap.Int("changed", n),
	)
	return n, nil
}

// ============================================================
// Transfers
// ============================================================

// RecordTransfer moves miles between two programs. The destination is
// credited quantity × (1 + bonus/100); the source pays the fee. Both legs
// share a transfer group id and are persisted together.
func (s *MilesService) RecordTransfer(ctx context.Context, ownerID string, req *domain.TransferRequest) (*domain.TransferReceipt, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.RecordTransfer")
	defer span.End()
	span.SetAttributes(
		attribute.String("owner.id", ownerID),
		attribute.String("transfer.source", req.SourceProgramID),
		attribute.String("transfer.dest", req.DestProgramID),
	)

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if req.SourceProgramID == "" {
		return nil, &domain.ErrValidation{Field: "source_program_id", Message: "required"}
	}
	if req.DestProgramID == "" {
		return nil, &domain.ErrValidation{Field: "dest_program_id", Message: "required"}
	}
	if req.SourceProgramID == req.DestProgramID {
		return nil, &domain.ErrValidation{Field: "dest_program_id", Message: "source and destination programs must differ"}
	}
	if !req.Quantity.IsPositive() {
		return nil, &domain.ErrValidation{Field: "quantity", Message: "must be greater than zero"}
	}
	if req.BonusPct.IsNegative() {
		return nil, &domain.ErrValidation{Field: "bonus_pct", Message: "must not be negative"}
	}
	if req.Fee.IsNegative() {
		return nil, &domain.ErrValidation{Field: "fee", Message: "must not be negative"}
	}
	date, err := domain.ParseDate("date", req.Date)
	if err != nil {
		return nil, err
	}
	if err := s.requireProgram(ctx, ownerID, "source_program_id", req.SourceProgramID); err != nil {
		return nil, err
	}
	if err := s.requireProgram(ctx, ownerID, "dest_program_id", req.DestProgramID); err != nil {
		return nil, err
	}

	group := uuid.NewString()
	now := s.now().UTC()
	note := strings.TrimSpace(req.Note)
	credited := req.Quantity.Mul(decimal.NewFromInt(1).Add(req.BonusPct.Div(decimal.NewFromInt(100))))

	out := &domain.Operation{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Type:            domain.OpTransferOut,
		ProgramID:       req.SourceProgramID,
		Date:            domain.NewDate(date),
		Quantity:        req.Quantity,
		Value:           decimal.Zero,
		Fees:            req.Fee,
		Status:          domain.StatusCompleted,
		TransferGroupID: &group,
		BonusPct:        req.BonusPct,
		Note:            note,
		CreatedAt:       now,
	}
	in := &domain.Operation{
		ID:              uuid.NewString(),
		OwnerID:         ownerID,
		Type:            domain.OpTransferIn,
		ProgramID:       req.DestProgramID,
		Date:            domain.NewDate(date),
		Quantity:        credited,
		Value:           decimal.Zero,
		Fees:            decimal.Zero,
		Status:          domain.StatusCompleted,
		TransferGroupID: &group,
		BonusPct:        req.BonusPct,
		Note:            note,
		CreatedAt:       now,
	}

	savedOut, savedIn, err := s.store.CreateTransfer(ctx, out, in)
	if err != nil {
		s.logger.Error("failed to record transfer", zap.String("owner_id", ownerID), zap.Error(err))
		return nil, err
	}

	s.invalidate(ownerID)
	s.metrics.IncrOperation(string(domain.OpTransferOut))
	s.metrics.IncrOperation(string(domain.OpTransferIn))
	s.logger.Info("transfer recorded",
		zap.String("owner_id", ownerID),
		zap.String("transfer_group_id", group),
		zap.String("debited", req.Quantity.String()),
		zap.String("credited", credited.String()),
	)
	return &domain.TransferReceipt{Outbound: *savedOut, Inbound: *savedIn}, nil
}

// ============================================================
// Log maintenance
// ============================================================

// ListOperations returns the owner's operations in chronological order.
func (s *MilesService) ListOperations(ctx context.Context, ownerID string, filter domain.OperationFilter) ([]domain.Operation, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.ListOperations")
	defer span.End()

	if err := requireOwner(ownerID); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, &domain.ErrValidation{Field: "type", Message: fmt.Sprintf("unknown operation type '%s'", filter.Type)}
	}
	return s.store.ListOperations(ctx, ownerID, filter)
}

// DeleteOperation removes an operation together with its installments and,
// for a transfer leg, the other leg.
func (s *MilesService) DeleteOperation(ctx context.Context, ownerID, operationID string) error {
	ctx, span := milesTracer.Start(ctx, "MilesService.DeleteOperation")
	defer span.End()
	span.SetAttributes(attribute.String("operation.id", operationID))

	if err := requireOwner(ownerID); err != nil {
		return err
	}
	if err := s.store.DeleteOperation(ctx, ownerID, operationID); err != nil {
		return err
	}

	s.invalidate(ownerID)
	s.logger.Info("operation deleted",
		zap.String("owner_id", ownerID),
		zap.String("operation_id", operationID),
	)
	return nil
}

// validateOperation checks the fields shared by purchases and sales and
// parses the operation date.
func validateOperation(programID string, quantity, value, fees decimal.Decimal, date string) (d time.Time, err error) {
	if programID == "" {
		return d, &domain.ErrValidation{Field: "program_id", Message: "required"}
	}
	if !quantity.IsPositive() {
		return d, &domain.ErrValidation{Field: "quantity", Message: "must be greater than zero"}
	}
	if value.IsNegative() {
		return d, &domain.ErrValidation{Field: "value", Message: "must not be negative"}
	}
	if fees.IsNegative() {
		return d, &domain.ErrValidation{Field: "fees", Message: "must not be negative"}
	}
	return domain.ParseDate("date", date)
}

// requireProgram turns a missing program into a validation error on field.
func (s *MilesService) requireProgram(ctx context.Context, ownerID, field, programID string) error {
	_, err := s.store.GetProgram(ctx, ownerID, programID)
	if domain.IsNotFound(err) {
		return &domain.ErrValidation{Field: field, Message: fmt.Sprintf("program '%s' is not registered", programID)}
	}
	return err
}
