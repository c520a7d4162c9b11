package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardpos/stockledger/internal/shared"
)

// move applies one movement to a product already locked by the caller. product is updated
// in place so later legs of the same unit of work see the new stock number.
func (s *Service) move(ctx context.Context, tx TxRepository, actor shared.Actor, product *Product, input MovementInput) (MovementResult, error) {
	now := s.now()
	var (
		uses  []LotUse
		short int64
		err   error
	)
	if input.ItemCount > 0 {
		uses, err = s.increase(ctx, tx, product, input, now)
	} else {
		uses, short, err = s.decrease(ctx, tx, product, input, now)
	}
	if err != nil {
		return MovementResult{}, err
	}

	resultStock := product.StockNumber
	if !product.InfiniteStock {
		resultStock += input.ItemCount
		if resultStock < 0 {
			return MovementResult{}, ErrInsufficientStock
		}
		if err := tx.UpdateStockNumber(ctx, product.ID, resultStock); err != nil {
			return MovementResult{}, err
		}
	}

	entry := LedgerEntry{
		ProductID:         product.ID,
		StoreID:           product.StoreID,
		ItemCountDelta:    input.ItemCount,
		SourceKind:        input.Kind,
		SourceID:          input.SourceID,
		ResultStockNumber: resultStock,
		UnitPrice:         s.entryUnitPrice(input, uses),
		Description:       input.Description,
		StaffAccountID:    actor.StaffAccountID,
		Datetime:          now,
	}
	if input.Sale != nil {
		if err := s.applySaleTerms(ctx, tx, *product, *input.Sale, &entry); err != nil {
			return MovementResult{}, err
		}
	}
	entryID, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return MovementResult{}, err
	}
	entry.ID = entryID

	if input.ItemCount < 0 && input.SourceID != "" && !product.InfiniteStock {
		if err := tx.InsertLotUsages(ctx, usagesFor(input, product.ID, uses)); err != nil {
			return MovementResult{}, err
		}
	}

	product.StockNumber = resultStock
	return MovementResult{
		ProductID:         product.ID,
		ResultStockNumber: resultStock,
		UnitPrice:         entry.UnitPrice,
		Lots:              uses,
		Shortfall:         short,
		Entry:             entry,
	}, nil
}

// increase creates the cost lots backing a positive movement.
func (s *Service) increase(ctx context.Context, tx TxRepository, product *Product, input MovementInput, now time.Time) ([]LotUse, error) {
	if product.InfiniteStock {
		return nil, nil
	}

	var (
		specs    []LotSpec
		restored []restoredUsage
	)
	switch {
	case len(input.Lots) > 0:
		specs = append(specs, input.Lots...)
	case input.SpecificWholesalePrice.Valid:
		specs = append(specs, LotSpec{Quantity: input.ItemCount, UnitPrice: input.SpecificWholesalePrice.Decimal})
	default:
		remaining := input.ItemCount
		if from, ok := input.Kind.RestoresFrom(); ok && input.SourceID != "" {
			var err error
			restored, err = planRestore(ctx, tx, from, input.SourceID, product.ID, remaining)
			if err != nil {
				return nil, err
			}
			for _, r := range restored {
				specs = append(specs, LotSpec{Quantity: r.qty, UnitPrice: r.usage.UnitPrice, ArrivedAt: r.usage.ArrivedAt})
				remaining -= r.qty
			}
		}
		if remaining > 0 {
			price, ok := s.increasePrice(input)
			if !ok {
				return nil, ErrMissingWholesalePrice
			}
			specs = append(specs, LotSpec{Quantity: remaining, UnitPrice: price})
		}
	}

	for _, r := range restored {
		if err := tx.AddRestoredQuantity(ctx, r.usage.ID, r.qty); err != nil {
			return nil, err
		}
	}

	uses := make([]LotUse, 0, len(specs))
	for _, spec := range specs {
		arrived := spec.ArrivedAt
		if arrived.IsZero() {
			arrived = now
		}
		lot := CostLot{
			ProductID:         product.ID,
			ArrivedAt:         arrived,
			OriginalQuantity:  spec.Quantity,
			RemainingQuantity: spec.Quantity,
			UnitPrice:         spec.UnitPrice,
			CreatedAt:         now,
		}
		id, err := tx.InsertLot(ctx, lot)
		if err != nil {
			return nil, err
		}
		uses = append(uses, LotUse{LotID: id, Quantity: spec.Quantity, UnitPrice: spec.UnitPrice, ArrivedAt: arrived})
	}
	return uses, nil
}

// increasePrice resolves the price of a plain increase. Consigned stock defaults to a zero
// cost basis since the store never paid for it.
func (s *Service) increasePrice(input MovementInput) (decimal.Decimal, bool) {
	if input.UnitPrice.Valid {
		return input.UnitPrice.Decimal, true
	}
	if input.Kind == SourceConsignment {
		return decimal.Zero, true
	}
	return decimal.Zero, false
}

type restoredUsage struct {
	usage LotUsage
	qty   int64
}

// planRestore picks the usages a compensating increase puts back, newest usage first.
func planRestore(ctx context.Context, tx TxRepository, kind SourceKind, sourceID string, productID, want int64) ([]restoredUsage, error) {
	usages, err := tx.ListUsagesForUpdate(ctx, kind, sourceID, productID)
	if err != nil {
		return nil, err
	}
	plan := make([]restoredUsage, 0, len(usages))
	for i := len(usages) - 1; i >= 0 && want > 0; i-- {
		avail := usages[i].Restorable()
		if avail <= 0 {
			continue
		}
		take := min(avail, want)
		plan = append(plan, restoredUsage{usage: usages[i], qty: take})
		want -= take
	}
	return plan, nil
}

// decrease consumes lots for a negative movement and returns the uses plus any shortfall
// priced by the exhaustion policy.
func (s *Service) decrease(ctx context.Context, tx TxRepository, product *Product, input MovementInput, now time.Time) ([]LotUse, int64, error) {
	need := -input.ItemCount

	if product.InfiniteStock {
		price := product.BuyPrice
		switch {
		case input.SpecificWholesalePrice.Valid:
			price = input.SpecificWholesalePrice.Decimal
		case input.UnitPrice.Valid:
			price = input.UnitPrice.Decimal
		}
		return []LotUse{{Quantity: need, UnitPrice: price, ArrivedAt: now}}, 0, nil
	}

	if product.StockNumber < need {
		return nil, 0, ErrInsufficientStock
	}

	if input.SpecificWholesalePrice.Valid {
		return []LotUse{{Quantity: need, UnitPrice: input.SpecificWholesalePrice.Decimal, ArrivedAt: now}}, 0, nil
	}

	lots, err := tx.ListOpenLotsForUpdate(ctx, product.ID, s.lotOrder)
	if err != nil {
		return nil, 0, err
	}
	uses := make([]LotUse, 0, len(lots))
	for _, lot := range lots {
		if need == 0 {
			break
		}
		if !lot.Open() {
			continue
		}
		take := min(lot.RemainingQuantity, need)
		if err := tx.UpdateLotRemaining(ctx, lot.ID, lot.RemainingQuantity-take); err != nil {
			return nil, 0, err
		}
		uses = append(uses, LotUse{LotID: lot.ID, Quantity: take, UnitPrice: lot.UnitPrice, ArrivedAt: lot.ArrivedAt})
		need -= take
	}
	if need == 0 {
		return uses, 0, nil
	}

	price, err := s.shortfallPrice(ctx, tx, *product)
	if err != nil {
		return nil, 0, err
	}
	s.logger.Warn("lot exhaustion anomaly",
		slog.Int64("product_id", product.ID),
		slog.Int64("store_id", product.StoreID),
		slog.Int64("shortfall", need),
		slog.String("fallback_price", price.String()),
		slog.String("policy", string(s.exhaustion)),
	)
	if s.anomalies != nil {
		s.anomalies.AddAnomalies("lot_exhaustion", product.StoreID, int(need))
	}
	uses = append(uses, LotUse{Quantity: need, UnitPrice: price, ArrivedAt: now})
	return uses, need, nil
}

func (s *Service) shortfallPrice(ctx context.Context, tx TxRepository, product Product) (decimal.Decimal, error) {
	switch s.exhaustion {
	case ExhaustionStrict:
		return decimal.Zero, ErrLotExhausted
	case ExhaustionZero:
		return decimal.Zero, nil
	case ExhaustionBuyPrice:
		return product.BuyPrice, nil
	default:
		lot, err := tx.LatestLot(ctx, product.ID)
		if errors.Is(err, ErrLotNotFound) {
			return product.BuyPrice, nil
		}
		if err != nil {
			return decimal.Zero, err
		}
		return lot.UnitPrice, nil
	}
}

// entryUnitPrice is the display price recorded on the ledger entry.
func (s *Service) entryUnitPrice(input MovementInput, uses []LotUse) decimal.Decimal {
	if len(uses) > 0 {
		return weightedAverage(uses, s.priceScale)
	}
	switch {
	case input.SpecificWholesalePrice.Valid:
		return input.SpecificWholesalePrice.Decimal
	case input.UnitPrice.Valid:
		return input.UnitPrice.Decimal
	case len(input.Lots) > 0:
		specs := make([]LotUse, 0, len(input.Lots))
		for _, l := range input.Lots {
			specs = append(specs, LotUse{Quantity: l.Quantity, UnitPrice: l.UnitPrice})
		}
		return weightedAverage(specs, s.priceScale)
	}
	return decimal.Zero
}

// applySaleTerms stamps sale and commission unit prices on a consignment entry.
func (s *Service) applySaleTerms(ctx context.Context, tx TxRepository, product Product, terms SaleTerms, entry *LedgerEntry) error {
	entry.SaleUnitPrice = decimal.NewNullDecimal(terms.UnitPrice)
	if entry.SourceKind != SourceConsignmentSale && entry.SourceKind != SourceConsignmentSaleReturn {
		return nil
	}
	if product.ConsignmentClientID == 0 {
		return ErrNotConsignmentProduct
	}
	client, err := tx.GetConsignmentClient(ctx, product.ConsignmentClientID)
	if err != nil {
		return err
	}
	rate, err := commissionRate(client, terms.PaymentMethod)
	if err != nil {
		return fmt.Errorf("%w: %q", err, terms.PaymentMethod)
	}
	entry.CommissionUnitPrice = decimal.NewNullDecimal(commissionUnitPrice(terms.UnitPrice, rate, s.priceScale))
	return nil
}

func usagesFor(input MovementInput, productID int64, uses []LotUse) []LotUsage {
	usages := make([]LotUsage, 0, len(uses))
	for _, u := range uses {
		usages = append(usages, LotUsage{
			SourceKind: input.Kind,
			SourceID:   input.SourceID,
			ProductID:  productID,
			LotID:      u.LotID,
			Quantity:   u.Quantity,
			UnitPrice:  u.UnitPrice,
			ArrivedAt:  u.ArrivedAt,
		})
	}
	return usages
}
