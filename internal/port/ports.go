// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations (Supabase, Postgres, in-memory).
package port

import (
	"context"
)

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// LedgerStore groups every data operation the miles ledger needs.
// Implemented by the Supabase, Postgres and in-memory adapters.
// Every method is scoped by the owner id it receives.
type LedgerStore interface {
	OperationStore
	InstallmentStore
	CardStore
	ProgramStore
	BalanceOverrideStore
	GoalStore

	// Ping checks the backend is reachable (used by /readyz).
	Ping(ctx context.Context) error
}
