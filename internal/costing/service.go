package costing

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records layer events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service exposes the layer store operations that are called on their own,
// outside a pipeline document. Pipelines use the Tx functions directly so
// their layer mutations commit with the rest of the document.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	cache *Cache
	now   func() time.Time
}

// NewService constructs the costing service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithCache attaches a read cache for availability and cost lookups.
func (s *Service) WithCache(cache *Cache) {
	s.cache = cache
}

// CurrentCost resolves an item's unit cost under its valuation method.
func (s *Service) CurrentCost(ctx context.Context, itemID int64) (int64, error) {
	key, err := s.cache.BuildKey(ctx, "costing", "cost", fmt.Sprintf("%d", itemID))
	if err != nil {
		return 0, err
	}
	var cost int64
	err = s.cache.FetchJSON(ctx, key, &cost, func(ctx context.Context) (any, error) {
		var loaded int64
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			loaded, err = CurrentCostTx(ctx, tx, itemID)
			return err
		})
		return loaded, err
	})
	return cost, err
}

// Availability sums open, QC-approved quantity for an item.
func (s *Service) Availability(ctx context.Context, itemID int64, location string) (int64, error) {
	key, err := s.cache.BuildKey(ctx, "costing", "availability", fmt.Sprintf("%d", itemID), location)
	if err != nil {
		return 0, err
	}
	var total int64
	err = s.cache.FetchJSON(ctx, key, &total, func(ctx context.Context) (any, error) {
		var loaded int64
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			loaded, err = tx.Availability(ctx, itemID, location)
			return err
		})
		return loaded, err
	})
	return total, err
}

// CreateLayer records a standalone receipt layer, used for opening stock
// and adjustments that arrive without a purchase document.
func (s *Service) CreateLayer(ctx context.Context, actorID int64, in CreateLayerInput) (Layer, error) {
	var layer Layer
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.Item(ctx, in.ItemID); err != nil {
			return err
		}
		var err error
		layer, err = CreateLayerTx(ctx, tx, in)
		return err
	})
	if err != nil {
		return Layer{}, err
	}
	// Best effort; TTL covers a missed bump.
	_ = s.cache.Bump(ctx)
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "layer.create",
			Entity:   "inventory_layer",
			EntityID: fmt.Sprintf("%d", layer.ID),
			Meta:     map[string]any{"batch": layer.BatchNumber, "qty": layer.InitialQty},
			At:       s.now(),
		})
	}
	return layer, nil
}
