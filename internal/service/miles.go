// Package service provides the business logic layer (use cases).
// MilesService records purchases, sales and transfers of miles, schedules
// card installments and serves the derived read models (balances, cash
// flow, metrics, goals).
package service

import (
	"context"
	"sync"
	"time"

	"github.com/boddenberg/milhas-bfa-go/internal/domain"
	"github.com/boddenberg/milhas-bfa-go/internal/engine"
	"github.com/boddenberg/milhas-bfa-go/internal/infra/observability"
	"github.com/boddenberg/milhas-bfa-go/internal/port"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var milesTracer = otel.Tracer("service/miles")

const snapshotCache = "ledger"

// LedgerSnapshot is everything the pure computations read for one owner.
// It is cached per owner and dropped on every write.
type LedgerSnapshot struct {
	Operations   []domain.Operation        `json:"operations"`
	Installments []domain.Installment      `json:"installments"`
	Overrides    []domain.ManualAdjustment `json:"overrides"`
}

func (s LedgerSnapshot) overrideMap() map[string]domain.ManualAdjustment {
	m := make(map[string]domain.ManualAdjustment, len(s.Overrides))
	for _, adj := range s.Overrides {
		m[adj.ProgramID] = adj
	}
	return m
}

// Options tunes the metrics bands and the tax flag.
type Options struct {
	Thresholds        engine.Thresholds
	TaxAlertThreshold decimal.Decimal
	// Now overrides the clock (tests).
	Now func() time.Time
}

// MilesService orchestrates all ledger use cases over a LedgerStore.
type MilesService struct {
	store      port.LedgerStore
	cache      port.Cache[LedgerSnapshot]
	metrics    *observability.Metrics
	logger     *zap.Logger
	thresholds engine.Thresholds
	taxAlert   decimal.Decimal
	now        func() time.Time

	// genMu guards generations. A snapshot is only cached when the owner's
	// generation did not move while it was being loaded.
	genMu       sync.Mutex
	generations map[string]uint64
}

// NewMilesService creates a new miles service.
func NewMilesService(store port.LedgerStore, cache port.Cache[LedgerSnapshot], metrics *observability.Metrics, logger *zap.Logger, opts Options) *MilesService {
	if opts.Thresholds == (engine.Thresholds{}) {
		opts.Thresholds = engine.DefaultThresholds()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MilesService{
		store:       store,
		cache:       cache,
		metrics:     metrics,
		logger:      logger,
		thresholds:  opts.Thresholds,
		taxAlert:    opts.TaxAlertThreshold,
		now:         opts.Now,
		generations: make(map[string]uint64),
	}
}

// Ping checks the backing store.
func (s *MilesService) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return &domain.ErrUnauthorized{Message: "missing owner"}
	}
	return nil
}

func snapshotKey(ownerID string) string {
	return "ledger:" + ownerID
}

// snapshot returns the owner's operations, installments and overrides,
// from cache when possible. The three reads run concurrently.
func (s *MilesService) snapshot(ctx context.Context, ownerID string) (LedgerSnapshot, error) {
	ctx, span := milesTracer.Start(ctx, "MilesService.snapshot")
	defer span.End()

	if s.cache != nil {
		if snap, ok := s.cache.Get(snapshotKey(ownerID)); ok {
			s.metrics.IncrCacheHit(snapshotCache)
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return snap, nil
		}
		s.metrics.IncrCacheMiss(snapshotCache)
	}
	gen := s.generation(ownerID)

	var snap LedgerSnapshot
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ops, err := s.store.ListOperations(gctx, ownerID, domain.OperationFilter{})
		snap.Operations = ops
		return err
	})
	g.Go(func() error {
		insts, err := s.store.ListInstallments(gctx, ownerID, domain.InstallmentFilter{})
		snap.Installments = insts
		return err
	})
	g.Go(func() error {
		overrides, err := s.store.ListOverrides(gctx, ownerID)
		snap.Overrides = overrides
		return err
	})
	if err := g.Wait(); err != nil {
		return LedgerSnapshot{}, err
	}

	span.SetAttributes(
		attribute.Int("ledger.operations", len(snap.Operations)),
		attribute.Int("ledger.installments", len(snap.Installments)),
	)
	s.storeSnapshot(ownerID, gen, snap)
	return snap, nil
}

func (s *MilesService) generation(ownerID string) uint64 {
	s.genMu.Lock()
	defer s.genMu.Unlock()
	return s.generations[ownerID]
}

// storeSnapshot caches snap unless a write invalidated the owner after gen
// was read. The Set runs under genMu so it cannot land after a concurrent
// invalidate's Delete.
func (s *MilesService) storeSnapshot(ownerID string, gen uint64, snap LedgerSnapshot) {
	if s.cache == nil {
		return
	}
	s.genMu.Lock()
	defer s.genMu.Unlock()
	if s.generations[ownerID] != gen {
		s.logger.Debug("snapshot outdated by a concurrent write, not caching", zap.String("owner_id", ownerID))
		return
	}
	s.cache.Set(snapshotKey(ownerID), snap)
}

func (s *MilesService) invalidate(ownerID string) {
	s.genMu.Lock()
	s.generations[ownerID]++
	s.genMu.Unlock()
	if s.cache != nil {
		s.cache.Delete(snapshotKey(ownerID))
	}
}

func (s *MilesService) currentMonth() domain.Month {
	return domain.MonthOf(s.now())
}
