package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cardpos/stockledger/internal/shared"
)

// Convert consumes input products and produces output products as one unit of work: pack
// opening, bundle assembly and release, original pack assembly. Priced outputs keep their
// price; the rest of the consumed cost is spread evenly over the unpriced output units.
func (s *Service) Convert(ctx context.Context, actor shared.Actor, input ConvertInput) (ConvertResult, error) {
	if !input.Kind.IsConversion() {
		return ConvertResult{}, fmt.Errorf("%w: %q is not a conversion", ErrInvalidSourceKind, input.Kind)
	}
	if len(input.Inputs) == 0 || len(input.Outputs) == 0 {
		return ConvertResult{}, ErrEmptyConversion
	}
	ids := make([]int64, 0, len(input.Inputs)+len(input.Outputs))
	seen := make(map[int64]bool, cap(ids))
	for _, line := range append(append([]ConvertLine{}, input.Inputs...), input.Outputs...) {
		if line.ProductID == 0 {
			return ConvertResult{}, ErrProductNotFound
		}
		if line.ItemCount <= 0 {
			return ConvertResult{}, ErrInvalidQuantity
		}
		if line.UnitPrice.Valid && !validPrice(line.UnitPrice.Decimal) {
			return ConvertResult{}, ErrInvalidUnitPrice
		}
		if seen[line.ProductID] {
			return ConvertResult{}, fmt.Errorf("%w: product %d listed twice", ErrSameProduct, line.ProductID)
		}
		seen[line.ProductID] = true
		ids = append(ids, line.ProductID)
	}

	var result ConvertResult
	var posted []postedMovement
	err := s.guarded(ctx, input.IdempotencyKey, "ledger:convert", func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			posted = posted[:0]
			result = ConvertResult{}
			locked, err := lockProducts(ctx, tx, actor, ids)
			if err != nil {
				return err
			}

			consumed := decimal.Zero
			for _, line := range input.Inputs {
				product := locked[line.ProductID]
				res, err := s.move(ctx, tx, actor, product, MovementInput{
					ProductID:   line.ProductID,
					ItemCount:   -line.ItemCount,
					Kind:        input.Kind,
					UnitPrice:   line.UnitPrice,
					SourceID:    input.SourceID,
					Description: input.Description,
				})
				if err != nil {
					return fmt.Errorf("consume product %d: %w", line.ProductID, err)
				}
				consumed = consumed.Add(totalCost(res.Lots))
				result.Inputs = append(result.Inputs, res)
				posted = append(posted, postedMovement{product: *product, result: res})
			}
			result.ConsumedCost = consumed

			plans := s.planOutputs(consumed, input.Outputs)
			for i, line := range input.Outputs {
				product := locked[line.ProductID]
				res, err := s.move(ctx, tx, actor, product, MovementInput{
					ProductID:   line.ProductID,
					ItemCount:   line.ItemCount,
					Kind:        input.Kind,
					Lots:        plans[i],
					SourceID:    input.SourceID,
					Description: input.Description,
				})
				if err != nil {
					return fmt.Errorf("produce product %d: %w", line.ProductID, err)
				}
				result.Outputs = append(result.Outputs, res)
				posted = append(posted, postedMovement{product: *product, result: res})
			}
			return nil
		})
	})
	if err != nil {
		return ConvertResult{}, err
	}
	s.afterCommit(ctx, actor, string(input.Kind), posted)
	return result, nil
}

// planOutputs assigns lots to every output line. The unpriced units share what is left of the
// consumed cost after priced outputs, split at the price scale without losing a unit of money.
func (s *Service) planOutputs(consumed decimal.Decimal, outputs []ConvertLine) [][]LotSpec {
	plans := make([][]LotSpec, len(outputs))
	remaining := consumed
	var unpricedUnits int64
	for i, line := range outputs {
		if line.UnitPrice.Valid {
			plans[i] = []LotSpec{{Quantity: line.ItemCount, UnitPrice: line.UnitPrice.Decimal}}
			remaining = remaining.Sub(line.UnitPrice.Decimal.Mul(decimal.NewFromInt(line.ItemCount)))
			continue
		}
		unpricedUnits += line.ItemCount
	}
	if unpricedUnits == 0 {
		return plans
	}
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}

	queue := splitEvenly(remaining, unpricedUnits, s.priceScale)
	for i, line := range outputs {
		if line.UnitPrice.Valid {
			continue
		}
		need := line.ItemCount
		for need > 0 && len(queue) > 0 {
			take := min(need, queue[0].Quantity)
			plans[i] = append(plans[i], LotSpec{Quantity: take, UnitPrice: queue[0].UnitPrice})
			queue[0].Quantity -= take
			if queue[0].Quantity == 0 {
				queue = queue[1:]
			}
			need -= take
		}
	}
	return plans
}
