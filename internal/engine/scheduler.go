// Package engine holds the pure ledger computations: installment scheduling,
// balance replay, cash-flow projection and performance metrics. Nothing in
// here touches storage; callers pass a snapshot of the operation log.
package engine

import (
	"fmt"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// currencyPlaces is the precision every monetary amount is rounded to.
const currencyPlaces = 2

// MaxInstallments is the longest schedule a card purchase may be split into.
const MaxInstallments = 48

// Schedule splits a financed purchase into installments following the card's
// billing cycle.
//
// A purchase made on or after the closing day misses the current statement,
// so its first installment is due the following month; otherwise the first
// one is due in the purchase month. Each share is (total + fee) / N truncated
// to cents and the last installment absorbs the remainder, so the batch
// always sums to total + fee exactly and 0 <= share <= last.
//
// Returned installments carry no ids or owner; the caller stamps them.
func Schedule(terms domain.PurchaseTerms, cycle domain.BillingCycle) ([]domain.Installment, error) {
	if terms.InstallmentCount < 1 {
		return nil, &domain.ErrValidation{Field: "installment_count", Message: "must be at least 1"}
	}
	if terms.InstallmentCount > MaxInstallments {
		return nil, &domain.ErrValidation{Field: "installment_count", Message: fmt.Sprintf("must be at most %d", MaxInstallments)}
	}
	if terms.Date.IsZero() {
		return nil, &domain.ErrValidation{Field: "date", Message: "required"}
	}
	if terms.TotalAmount.IsNegative() {
		return nil, &domain.ErrValidation{Field: "value", Message: "must not be negative"}
	}
	if terms.Fee.IsNegative() {
		return nil, &domain.ErrValidation{Field: "fees", Message: "must not be negative"}
	}
	if err := ValidateCycle(cycle); err != nil {
		return nil, err
	}

	n := terms.InstallmentCount
	total := terms.TotalAmount.Add(terms.Fee)
	share := total.Div(decimal.NewFromInt(int64(n))).RoundDown(currencyPlaces)
	last := total.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))

	first := domain.MonthOf(terms.Date)
	if terms.Date.Day() >= cycle.ClosingDay {
		first = first.AddMonths(1)
	}

	installments := make([]domain.Installment, 0, n)
	for i := 0; i < n; i++ {
		month := first.AddMonths(i)
		amount := share
		if i == n-1 {
			amount = last
		}
		installments = append(installments, domain.Installment{
			Amount:     amount,
			DueMonth:   month,
			DueDate:    domain.NewDate(month.Day(cycle.DueDay)),
			Sequence:   i + 1,
			TotalCount: n,
		})
	}
	return installments, nil
}

// ValidateCycle checks that closing and due days are days of month.
func ValidateCycle(cycle domain.BillingCycle) error {
	if cycle.ClosingDay < 1 || cycle.ClosingDay > 31 {
		return &domain.ErrValidation{Field: "closing_day", Message: fmt.Sprintf("%d is not a day of month", cycle.ClosingDay)}
	}
	if cycle.DueDay < 1 || cycle.DueDay > 31 {
		return &domain.ErrValidation{Field: "due_day", Message: fmt.Sprintf("%d is not a day of month", cycle.DueDay)}
	}
	return nil
}
