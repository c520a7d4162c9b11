package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/cardpos/stockledger/internal/shared"
)

// Reserve holds stock for an online order. Each line is decreased with the ec_reservation
// kind and the order id as source, so a later release restores the exact lots. An empty order
// id is replaced by a generated one.
func (s *Service) Reserve(ctx context.Context, actor shared.Actor, input ReserveInput) (Reservation, error) {
	if actor.StoreID == 0 {
		return Reservation{}, shared.ErrActorRequired
	}
	orderID := strings.TrimSpace(input.OrderID)
	if orderID == "" {
		orderID = uuid.NewString()
	}
	if len(input.Lines) == 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	ids := make([]int64, 0, len(input.Lines))
	seen := make(map[int64]bool, len(input.Lines))
	for _, line := range input.Lines {
		if line.ItemCount <= 0 {
			return Reservation{}, ErrInvalidQuantity
		}
		if seen[line.ProductID] {
			return Reservation{}, fmt.Errorf("%w: product %d listed twice", ErrSameProduct, line.ProductID)
		}
		seen[line.ProductID] = true
		ids = append(ids, line.ProductID)
	}
	ttl := input.TTL
	if ttl <= 0 {
		ttl = s.reserveTTL
	}

	var reservation Reservation
	var posted []postedMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted = posted[:0]
		_, err := tx.GetReservationForUpdate(ctx, actor.StoreID, orderID)
		switch {
		case err == nil:
			return ErrReservationExists
		case !errors.Is(err, ErrReservationNotFound):
			return err
		}
		locked, err := lockProducts(ctx, tx, actor, ids)
		if err != nil {
			return err
		}
		for _, line := range input.Lines {
			product := locked[line.ProductID]
			res, err := s.move(ctx, tx, actor, product, MovementInput{
				ProductID:   line.ProductID,
				ItemCount:   -line.ItemCount,
				Kind:        SourceECReservation,
				SourceID:    orderID,
				Description: "ec order " + orderID,
			})
			if err != nil {
				return fmt.Errorf("reserve product %d: %w", line.ProductID, err)
			}
			posted = append(posted, postedMovement{product: *product, result: res})
		}
		reservation = Reservation{
			OrderID:        orderID,
			StoreID:        actor.StoreID,
			Status:         ReservationPending,
			StaffAccountID: actor.StaffAccountID,
			ExpiresAt:      s.now().Add(ttl),
			Lines:          append([]ReservationLine(nil), input.Lines...),
		}
		return tx.InsertReservation(ctx, reservation)
	})
	if err != nil {
		return Reservation{}, err
	}
	s.afterCommit(ctx, actor, string(SourceECReservation), posted)

	if s.scheduler != nil {
		if err := s.scheduler.ScheduleReservationExpiry(ctx, reservation.StoreID, reservation.OrderID, reservation.ExpiresAt); err != nil {
			s.logger.Error("schedule reservation expiry",
				slog.String("order_id", reservation.OrderID),
				slog.Int64("store_id", reservation.StoreID),
				slog.Any("error", err),
			)
		}
	}
	return reservation, nil
}

// ConfirmReservation marks a pending hold as fulfilled. The stock stays consumed.
func (s *Service) ConfirmReservation(ctx context.Context, actor shared.Actor, orderID string) (Reservation, error) {
	var reservation Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetReservationForUpdate(ctx, actor.StoreID, orderID)
		if err != nil {
			return err
		}
		if res.Status != ReservationPending {
			return ErrReservationClosed
		}
		res.Status = ReservationConfirmed
		reservation = res
		return tx.UpdateReservationStatus(ctx, actor.StoreID, orderID, ReservationConfirmed)
	})
	if err != nil {
		return Reservation{}, err
	}
	return reservation, nil
}

// ReleaseReservation compensates a pending hold with ec_reservation_rollback increases that
// restore the lots consumed by Reserve. Committed entries are never rewritten.
func (s *Service) ReleaseReservation(ctx context.Context, actor shared.Actor, orderID, reason string) (Reservation, error) {
	var reservation Reservation
	var posted []postedMovement
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted = posted[:0]
		res, err := tx.GetReservationForUpdate(ctx, actor.StoreID, orderID)
		if err != nil {
			return err
		}
		if res.Status != ReservationPending {
			return ErrReservationClosed
		}
		ids := make([]int64, 0, len(res.Lines))
		for _, line := range res.Lines {
			ids = append(ids, line.ProductID)
		}
		scope := shared.Actor{StoreID: res.StoreID, StaffAccountID: actor.StaffAccountID}
		locked, err := lockProducts(ctx, tx, scope, ids)
		if err != nil {
			return err
		}
		description := "release ec order " + orderID
		if reason != "" {
			description += ": " + reason
		}
		for _, line := range res.Lines {
			product := locked[line.ProductID]
			mv, err := s.move(ctx, tx, scope, product, MovementInput{
				ProductID:   line.ProductID,
				ItemCount:   line.ItemCount,
				Kind:        SourceECReservationRollback,
				SourceID:    orderID,
				Description: description,
			})
			if err != nil {
				return fmt.Errorf("release product %d: %w", line.ProductID, err)
			}
			posted = append(posted, postedMovement{product: *product, result: mv})
		}
		res.Status = ReservationReleased
		reservation = res
		return tx.UpdateReservationStatus(ctx, res.StoreID, orderID, ReservationReleased)
	})
	if err != nil {
		return Reservation{}, err
	}
	s.afterCommit(ctx, actor, string(SourceECReservationRollback), posted)
	return reservation, nil
}

// ExpireReservation releases a hold whose deadline passed. Holds already closed are skipped.
func (s *Service) ExpireReservation(ctx context.Context, storeID int64, orderID string) (bool, error) {
	_, err := s.ReleaseReservation(ctx, shared.Actor{StoreID: storeID}, orderID, "payment timeout")
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrReservationClosed):
		return false, nil
	default:
		return false, err
	}
}
