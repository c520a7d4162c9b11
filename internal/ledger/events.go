package ledger

import (
	"context"
	"time"
)

// EventHandler receives committed ledger movements, e.g. for stats cache invalidation.
type EventHandler interface {
	HandleMovementPosted(ctx context.Context, evt MovementPostedEvent) error
}

// MovementPostedEvent represents a ledger entry that has been committed.
type MovementPostedEvent struct {
	EntryID             int64
	ProductID           int64
	StoreID             int64
	ConsignmentClientID int64
	Kind                SourceKind
	ItemCountDelta      int64
	ResultStockNumber   int64
	PostedAt            time.Time
}

// EventHandlers fans one event out to several handlers; every handler runs even if an
// earlier one fails, and the first error is returned.
type EventHandlers []EventHandler

// HandleMovementPosted implements EventHandler.
func (hs EventHandlers) HandleMovementPosted(ctx context.Context, evt MovementPostedEvent) error {
	var first error
	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := h.HandleMovementPosted(ctx, evt); err != nil && first == nil {
			first = err
		}
	}
	return first
}
