package consignment

import (
	"context"

	"github.com/cardpos/stockledger/internal/ledger"
)

// Invalidator bumps the stats cache version whenever consignor stock moves.
type Invalidator struct {
	cache *Cache
}

// NewInvalidator builds Invalidator.
func NewInvalidator(cache *Cache) *Invalidator {
	return &Invalidator{cache: cache}
}

// HandleMovementPosted implements ledger.EventHandler.
func (i *Invalidator) HandleMovementPosted(ctx context.Context, evt ledger.MovementPostedEvent) error {
	if i == nil || evt.ConsignmentClientID == 0 {
		return nil
	}
	return i.cache.Bump(ctx)
}

var _ ledger.EventHandler = (*Invalidator)(nil)
