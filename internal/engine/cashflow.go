package engine

import (
	"sort"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

// Project buckets sale receivables and card installments by month.
//
// Sales land in their receipt month (value − fees), as received or expected
// inflow depending on status. Installments land in their due month, as paid
// or expected outflow. NetProjected only nets the outstanding parts.
// Operations that are not sales are ignored.
func Project(installments []domain.Installment, sales []domain.Operation) map[domain.Month]domain.MonthProjection {
	out := make(map[domain.Month]*domain.MonthProjection)

	bucket := func(m domain.Month) *domain.MonthProjection {
		p, ok := out[m]
		if !ok {
			p = &domain.MonthProjection{Month: m, PerCard: map[string]decimal.Decimal{}}
			out[m] = p
		}
		return p
	}

	for _, s := range sales {
		if s.Type != domain.OpSale {
			continue
		}
		p := bucket(s.ReceiptMonth())
		if s.Status == domain.StatusReceived {
			p.ReceivedInflow = p.ReceivedInflow.Add(s.NetValue())
		} else {
			p.ExpectedInflow = p.ExpectedInflow.Add(s.NetValue())
		}
	}

	for _, inst := range installments {
		p := bucket(inst.DueMonth)
		if inst.Paid {
			p.PaidOutflow = p.PaidOutflow.Add(inst.Amount)
			continue
		}
		p.ExpectedOutflow = p.ExpectedOutflow.Add(inst.Amount)
		p.PerCard[inst.CardID] = p.PerCard[inst.CardID].Add(inst.Amount)
	}

	result := make(map[domain.Month]domain.MonthProjection, len(out))
	for m, p := range out {
		p.NetProjected = p.ExpectedInflow.Sub(p.ExpectedOutflow)
		result[m] = *p
	}
	return result
}

// Ledger orders projections by month within [from, to] (empty bounds are
// open) and accumulates the projected net month over month.
func Ledger(projections map[domain.Month]domain.MonthProjection, from, to domain.Month) []domain.LedgerEntry {
	months := make([]domain.Month, 0, len(projections))
	for m := range projections {
		if from != "" && m.Before(from) {
			continue
		}
		if to != "" && to.Before(m) {
			continue
		}
		months = append(months, m)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Before(months[j]) })

	entries := make([]domain.LedgerEntry, 0, len(months))
	acc := decimal.Zero
	for _, m := range months {
		p := projections[m]
		acc = acc.Add(p.NetProjected)
		entries = append(entries, domain.LedgerEntry{MonthProjection: p, Accumulated: acc})
	}
	return entries
}
