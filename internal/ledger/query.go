package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/cardpos/stockledger/internal/shared"
)

const reconcilePageSize = 200

// CostSummary aggregates the open lots of a product.
func (s *Service) CostSummary(ctx context.Context, actor shared.Actor, productID int64) (CostSummary, error) {
	product, err := s.GetProduct(ctx, actor, productID)
	if err != nil {
		return CostSummary{}, err
	}
	summary := CostSummary{
		ProductID:     product.ID,
		TotalCost:     decimal.Zero,
		AveragePrice:  decimal.Zero,
		MinPrice:      decimal.Zero,
		MaxPrice:      decimal.Zero,
		InfiniteStock: product.InfiniteStock,
	}
	if product.InfiniteStock {
		return summary, nil
	}
	lots, err := s.repo.ListLots(ctx, LotFilter{ProductID: productID, OpenOnly: true})
	if err != nil {
		return CostSummary{}, err
	}
	uses := make([]LotUse, 0, len(lots))
	for _, lot := range lots {
		if !lot.Open() {
			continue
		}
		if summary.OpenLotCount == 0 || lot.UnitPrice.LessThan(summary.MinPrice) {
			summary.MinPrice = lot.UnitPrice
		}
		if lot.UnitPrice.GreaterThan(summary.MaxPrice) {
			summary.MaxPrice = lot.UnitPrice
		}
		summary.OpenQuantity += lot.RemainingQuantity
		summary.OpenLotCount++
		uses = append(uses, LotUse{Quantity: lot.RemainingQuantity, UnitPrice: lot.UnitPrice})
	}
	summary.TotalCost = totalCost(uses)
	summary.AveragePrice = weightedAverage(uses, s.priceScale)
	return summary, nil
}

// ListEntries returns ledger entries of a product in commit order.
func (s *Service) ListEntries(ctx context.Context, actor shared.Actor, filter EntryFilter) ([]LedgerEntry, error) {
	if _, err := s.GetProduct(ctx, actor, filter.ProductID); err != nil {
		return nil, err
	}
	if filter.Limit <= 0 || filter.Limit > 1000 {
		filter.Limit = 200
	}
	return s.repo.ListEntries(ctx, filter)
}

// ListLots returns the cost lots of a product in consumption order.
func (s *Service) ListLots(ctx context.Context, actor shared.Actor, filter LotFilter) ([]CostLot, error) {
	if _, err := s.GetProduct(ctx, actor, filter.ProductID); err != nil {
		return nil, err
	}
	return s.repo.ListLots(ctx, filter)
}

// Replay checks that the ledger deltas reproduce the latest result stock number and, for
// tracked products, that the open lots add up to the on-hand quantity.
func (s *Service) Replay(ctx context.Context, actor shared.Actor, productID int64) (ReplayReport, error) {
	product, err := s.GetProduct(ctx, actor, productID)
	if err != nil {
		return ReplayReport{}, err
	}
	totals, err := s.repo.ReplayTotals(ctx, productID)
	if err != nil {
		return ReplayReport{}, err
	}
	return buildReplayReport(product, totals), nil
}

func buildReplayReport(product Product, totals ReplayTotals) ReplayReport {
	report := ReplayReport{
		ProductID:         product.ID,
		StockNumber:       product.StockNumber,
		DeltaSum:          totals.DeltaSum,
		LatestResultStock: totals.LatestResultStock,
		OpenLotRemaining:  totals.OpenLotRemaining,
		InfiniteStock:     product.InfiniteStock,
	}
	if product.InfiniteStock {
		// Entries on infinite products carry the untouched stock number, so only the lots
		// check is meaningful and it must find nothing.
		report.LedgerConsistent = true
		report.LotsConsistent = totals.OpenLotRemaining == 0
		return report
	}
	report.LedgerConsistent = totals.DeltaSum == product.StockNumber &&
		(totals.EntryCount == 0 || totals.LatestResultStock == product.StockNumber)
	report.LotsConsistent = totals.OpenLotRemaining == product.StockNumber
	return report
}

// Reconcile replays every product of a store and returns the inconsistent ones.
func (s *Service) Reconcile(ctx context.Context, storeID int64) ([]ReplayReport, error) {
	if storeID == 0 {
		return nil, shared.ErrActorRequired
	}
	actor := shared.Actor{StoreID: storeID}
	var (
		afterID int64
		issues  []ReplayReport
	)
	for {
		ids, err := s.repo.ListProductIDs(ctx, storeID, afterID, reconcilePageSize)
		if err != nil {
			return issues, fmt.Errorf("list products after %d: %w", afterID, err)
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return issues, err
			}
			report, err := s.Replay(ctx, actor, id)
			if err != nil {
				if isNotFound(err) {
					continue
				}
				return issues, fmt.Errorf("replay product %d: %w", id, err)
			}
			if report.Consistent() {
				continue
			}
			s.logger.Warn("ledger discrepancy",
				slog.Int64("store_id", storeID),
				slog.Int64("product_id", id),
				slog.Int64("stock_number", report.StockNumber),
				slog.Int64("delta_sum", report.DeltaSum),
				slog.Int64("latest_result_stock", report.LatestResultStock),
				slog.Int64("open_lot_remaining", report.OpenLotRemaining),
			)
			issues = append(issues, report)
		}
		if len(ids) < reconcilePageSize {
			break
		}
		afterID = ids[len(ids)-1]
	}
	if s.anomalies != nil && len(issues) > 0 {
		s.anomalies.AddAnomalies("ledger_discrepancy", storeID, len(issues))
	}
	return issues, nil
}
