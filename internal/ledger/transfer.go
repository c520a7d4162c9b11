package ledger

import (
	"context"
	"fmt"
	"slices"
	"strconv"

	"github.com/cardpos/stockledger/internal/shared"
)

// Transfer moves itemCount units from one product to another in one transaction. The
// destination receives lots with exactly the quantities and prices consumed from the source,
// or a single lot at SpecificWholesalePrice when one is given.
func (s *Service) Transfer(ctx context.Context, actor shared.Actor, input TransferInput) (TransferResult, error) {
	if input.FromProductID == 0 || input.ToProductID == 0 {
		return TransferResult{}, ErrProductNotFound
	}
	if input.FromProductID == input.ToProductID {
		return TransferResult{}, ErrSameProduct
	}
	if input.ItemCount <= 0 {
		return TransferResult{}, ErrInvalidQuantity
	}
	if input.SpecificWholesalePrice.Valid && !validPrice(input.SpecificWholesalePrice.Decimal) {
		return TransferResult{}, ErrInvalidUnitPrice
	}

	var result TransferResult
	var posted []postedMovement
	err := s.guarded(ctx, input.IdempotencyKey, "ledger:transfer", func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			posted = posted[:0]
			locked, err := lockProducts(ctx, tx, actor, []int64{input.FromProductID, input.ToProductID})
			if err != nil {
				return err
			}
			src, dst := locked[input.FromProductID], locked[input.ToProductID]

			out, err := s.move(ctx, tx, actor, src, MovementInput{
				ProductID:              src.ID,
				ItemCount:              -input.ItemCount,
				Kind:                   SourceTransfer,
				SpecificWholesalePrice: input.SpecificWholesalePrice,
				SourceID:               strconv.FormatInt(dst.ID, 10),
				Description:            input.Description,
			})
			if err != nil {
				return fmt.Errorf("transfer out of product %d: %w", src.ID, err)
			}

			in := MovementInput{
				ProductID:   dst.ID,
				ItemCount:   input.ItemCount,
				Kind:        SourceTransfer,
				SourceID:    strconv.FormatInt(src.ID, 10),
				Description: input.Description,
			}
			if input.SpecificWholesalePrice.Valid {
				in.SpecificWholesalePrice = input.SpecificWholesalePrice
			} else {
				in.Lots = lotSpecsFromUses(out.Lots)
			}
			inRes, err := s.move(ctx, tx, actor, dst, in)
			if err != nil {
				return fmt.Errorf("transfer into product %d: %w", dst.ID, err)
			}

			result = TransferResult{ResultStockNumber: inRes.ResultStockNumber, Source: out, Destination: inRes}
			posted = append(posted, postedMovement{product: *src, result: out}, postedMovement{product: *dst, result: inRes})
			return nil
		})
	})
	if err != nil {
		return TransferResult{}, err
	}
	s.afterCommit(ctx, actor, string(SourceTransfer), posted)
	return result, nil
}

// lockProducts locks every product in ascending id order so that concurrent units of work
// touching overlapping products cannot deadlock.
func lockProducts(ctx context.Context, tx TxRepository, actor shared.Actor, ids []int64) (map[int64]*Product, error) {
	ordered := slices.Clone(ids)
	slices.Sort(ordered)
	ordered = slices.Compact(ordered)
	locked := make(map[int64]*Product, len(ordered))
	for _, id := range ordered {
		product, err := lockProduct(ctx, tx, actor, id)
		if err != nil {
			return nil, fmt.Errorf("product %d: %w", id, err)
		}
		locked[id] = &product
	}
	return locked, nil
}
