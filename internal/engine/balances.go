package engine

import (
	"sort"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"

	"github.com/shopspring/decimal"
)

var thousand = decimal.NewFromInt(1000)

// Replay is the result of replaying the operation log in date order.
type Replay struct {
	Balances map[string]domain.ProgramBalance
	// SaleCostBasis maps a sale id to (quantity / 1000) × the program's
	// weighted average cost right before the sale.
	SaleCostBasis map[string]decimal.Decimal
}

// SortChronologically returns a copy of ops ordered by date, then creation
// time, then id, so replays are reproducible regardless of insertion order.
func SortChronologically(ops []domain.Operation) []domain.Operation {
	sorted := make([]domain.Operation, len(ops))
	copy(sorted, ops)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.Before(b.Date.Time)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted
}

type programState struct {
	balance decimal.Decimal
	avg     decimal.Decimal
	cost    decimal.Decimal
}

// ReplayOperations replays ops chronologically and derives every program's
// balance and weighted average cost.
//
// Purchases and inbound transfer legs credit the program; sales and
// outbound legs debit it. Only credits move the average:
//
//	new_avg = (old_avg × held + (value + fees) × 1000) / (held + quantity)
//
// An inbound transfer leg has zero cost and therefore dilutes the average.
// Disposals leave it untouched (no lot tracking). A held balance at or below
// zero carries no weight, so the next purchase resets the average.
func ReplayOperations(ops []domain.Operation, overrides map[string]domain.ManualAdjustment) Replay {
	states := make(map[string]*programState)
	basis := make(map[string]decimal.Decimal)

	state := func(programID string) *programState {
		st, ok := states[programID]
		if !ok {
			st = &programState{}
			states[programID] = st
		}
		return st
	}

	for _, op := range SortChronologically(ops) {
		st := state(op.ProgramID)
		switch op.Type {
		case domain.OpPurchase, domain.OpTransferIn:
			held := decimal.Max(st.balance, decimal.Zero)
			cost := op.GrossCost()
			if op.Type == domain.OpTransferIn {
				cost = decimal.Zero
			}
			newHeld := held.Add(op.Quantity)
			if newHeld.IsPositive() {
				st.avg = st.avg.Mul(held).Add(cost.Mul(thousand)).Div(newHeld)
			}
			st.balance = st.balance.Add(op.Quantity)
			st.cost = st.cost.Add(cost)
		case domain.OpSale:
			basis[op.ID] = op.Quantity.Div(thousand).Mul(st.avg).Round(currencyPlaces)
			st.balance = st.balance.Sub(op.Quantity)
		case domain.OpTransferOut:
			st.balance = st.balance.Sub(op.Quantity)
			st.cost = st.cost.Add(op.GrossCost())
		}
	}

	for programID := range overrides {
		state(programID)
	}

	balances := make(map[string]domain.ProgramBalance, len(states))
	for programID, st := range states {
		b := domain.ProgramBalance{
			ProgramID:           programID,
			CalculatedBalance:   st.balance,
			WeightedAverageCost: st.avg.Round(4),
			TotalCost:           st.cost.Round(currencyPlaces),
			DisplayedBalance:    st.balance,
		}
		if adj, ok := overrides[programID]; ok {
			v := adj.Value
			b.ManualAdjustment = &v
			b.OverrideActive = adj.UseOverride
			if adj.UseOverride {
				b.DisplayedBalance = adj.Value
			}
		}
		balances[programID] = b
	}

	return Replay{Balances: balances, SaleCostBasis: basis}
}

// ComputeBalances is ReplayOperations without the sale cost-basis snapshot.
func ComputeBalances(ops []domain.Operation, overrides map[string]domain.ManualAdjustment) map[string]domain.ProgramBalance {
	return ReplayOperations(ops, overrides).Balances
}

// SortedBalances flattens a balance map ordered by program id.
func SortedBalances(balances map[string]domain.ProgramBalance) []domain.ProgramBalance {
	out := make([]domain.ProgramBalance, 0, len(balances))
	for _, b := range balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProgramID < out[j].ProgramID })
	return out
}
