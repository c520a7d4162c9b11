package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cardpos/stockledger/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetProduct(ctx context.Context, id int64) (Product, error)
	CreateProduct(ctx context.Context, product Product) (int64, error)
	SoftDeleteProduct(ctx context.Context, id int64) error
	CreateConsignmentClient(ctx context.Context, client ConsignmentClient) (int64, error)
	GetConsignmentClient(ctx context.Context, id int64) (ConsignmentClient, error)
	ListLots(ctx context.Context, filter LotFilter) ([]CostLot, error)
	ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error)
	ReplayTotals(ctx context.Context, productID int64) (ReplayTotals, error)
	ListProductIDs(ctx context.Context, storeID, afterID int64, limit int) ([]int64, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetProductForUpdate(ctx context.Context, id int64) (Product, error)
	UpdateStockNumber(ctx context.Context, productID, stockNumber int64) error
	ListOpenLotsForUpdate(ctx context.Context, productID int64, order LotOrder) ([]CostLot, error)
	LatestLot(ctx context.Context, productID int64) (CostLot, error)
	InsertLot(ctx context.Context, lot CostLot) (int64, error)
	UpdateLotRemaining(ctx context.Context, lotID, remaining int64) error
	InsertEntry(ctx context.Context, entry LedgerEntry) (int64, error)
	InsertLotUsages(ctx context.Context, usages []LotUsage) error
	ListUsagesForUpdate(ctx context.Context, kind SourceKind, sourceID string, productID int64) ([]LotUsage, error)
	AddRestoredQuantity(ctx context.Context, usageID, qty int64) error
	GetConsignmentClient(ctx context.Context, id int64) (ConsignmentClient, error)
	InsertReservation(ctx context.Context, reservation Reservation) error
	GetReservationForUpdate(ctx context.Context, storeID int64, orderID string) (Reservation, error)
	UpdateReservationStatus(ctx context.Context, storeID int64, orderID string, status ReservationStatus) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards against replayed requests.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// AnomalySink counts reconciliation anomalies.
type AnomalySink interface {
	AddAnomalies(kind string, storeID int64, count int)
}

// ReservationScheduler arranges the automatic release of a pending reservation.
type ReservationScheduler interface {
	ScheduleReservationExpiry(ctx context.Context, storeID int64, orderID string, at time.Time) error
}

// Service coordinates stock movements and their cost basis.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	events      EventHandler
	anomalies   AnomalySink
	scheduler   ReservationScheduler
	logger      *slog.Logger
	lotOrder    LotOrder
	exhaustion  ExhaustionPolicy
	priceScale  int32
	reserveTTL  time.Duration
	now         func() time.Time
}

// ServiceConfig groups optional settings and collaborators.
type ServiceConfig struct {
	LotOrder         LotOrder
	ExhaustionPolicy ExhaustionPolicy
	PriceScale       int32
	ReservationTTL   time.Duration
	Logger           *slog.Logger
	Audit            AuditPort
	Idempotency      IdempotencyPort
	Events           EventHandler
	Anomalies        AnomalySink
	Scheduler        ReservationScheduler
	Clock            func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	svc := &Service{
		repo:        repo,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		events:      cfg.Events,
		anomalies:   cfg.Anomalies,
		scheduler:   cfg.Scheduler,
		logger:      cfg.Logger,
		lotOrder:    cfg.LotOrder,
		exhaustion:  cfg.ExhaustionPolicy,
		priceScale:  cfg.PriceScale,
		reserveTTL:  cfg.ReservationTTL,
		now:         cfg.Clock,
	}
	if svc.logger == nil {
		svc.logger = slog.Default()
	}
	if svc.lotOrder == "" {
		svc.lotOrder = LotOrderFIFO
	}
	if svc.exhaustion == "" {
		svc.exhaustion = ExhaustionLatestLot
	}
	if svc.reserveTTL <= 0 {
		svc.reserveTTL = 15 * time.Minute
	}
	if svc.now == nil {
		svc.now = func() time.Time { return time.Now().UTC() }
	}
	return svc
}

// ApplyMovement changes one product's stock by a signed item count, updating its cost lots and
// appending a ledger entry in one transaction.
func (s *Service) ApplyMovement(ctx context.Context, actor shared.Actor, input MovementInput) (MovementResult, error) {
	if err := validateMovement(input); err != nil {
		return MovementResult{}, err
	}
	if input.Kind == SourceTransfer || input.Kind.IsConversion() {
		return MovementResult{}, fmt.Errorf("%w: %s is posted through its own operation", ErrInvalidSourceKind, input.Kind)
	}
	var result MovementResult
	var posted []postedMovement
	err := s.guarded(ctx, input.IdempotencyKey, "ledger:movement", func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			posted = posted[:0]
			product, err := lockProduct(ctx, tx, actor, input.ProductID)
			if err != nil {
				return err
			}
			res, err := s.move(ctx, tx, actor, &product, input)
			if err != nil {
				return err
			}
			result = res
			posted = append(posted, postedMovement{product: product, result: res})
			return nil
		})
	})
	if err != nil {
		return MovementResult{}, err
	}
	s.afterCommit(ctx, actor, string(input.Kind), posted)
	return result, nil
}

// GetProduct returns a product visible to the actor.
func (s *Service) GetProduct(ctx context.Context, actor shared.Actor, id int64) (Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if !visible(actor, product) {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

// RegisterProduct creates a product owned by the actor's store.
func (s *Service) RegisterProduct(ctx context.Context, actor shared.Actor, product Product) (Product, error) {
	if actor.StoreID == 0 {
		return Product{}, shared.ErrActorRequired
	}
	if !validPrice(product.SellPrice) || !validPrice(product.BuyPrice) {
		return Product{}, ErrInvalidUnitPrice
	}
	if product.ConsignmentClientID != 0 {
		client, err := s.repo.GetConsignmentClient(ctx, product.ConsignmentClientID)
		if err != nil {
			return Product{}, err
		}
		if client.StoreID != actor.StoreID {
			return Product{}, ErrConsignmentClientNotFound
		}
	}
	product.StoreID = actor.StoreID
	product.StockNumber = 0
	product.Deleted = false
	id, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		return Product{}, err
	}
	product.ID = id
	return product, nil
}

// DeleteProduct soft-deletes a product; its lots and entries stay.
func (s *Service) DeleteProduct(ctx context.Context, actor shared.Actor, id int64) error {
	product, err := s.GetProduct(ctx, actor, id)
	if err != nil {
		return err
	}
	if err := s.repo.SoftDeleteProduct(ctx, id); err != nil {
		return err
	}
	if s.events != nil {
		evt := MovementPostedEvent{
			ProductID:           product.ID,
			StoreID:             product.StoreID,
			ConsignmentClientID: product.ConsignmentClientID,
			Kind:                SourceProduct,
			ResultStockNumber:   product.StockNumber,
			PostedAt:            s.now(),
		}
		if err := s.events.HandleMovementPosted(ctx, evt); err != nil {
			s.logger.Warn("product deleted event", slog.Int64("product_id", id), slog.Any("error", err))
		}
	}
	return nil
}

// RegisterConsignmentClient creates a consignor with its commission rates.
func (s *Service) RegisterConsignmentClient(ctx context.Context, actor shared.Actor, client ConsignmentClient) (ConsignmentClient, error) {
	if actor.StoreID == 0 {
		return ConsignmentClient{}, shared.ErrActorRequired
	}
	if client.CommissionCashRate.IsNegative() || client.CommissionCardRate.IsNegative() {
		return ConsignmentClient{}, ErrInvalidUnitPrice
	}
	client.StoreID = actor.StoreID
	id, err := s.repo.CreateConsignmentClient(ctx, client)
	if err != nil {
		return ConsignmentClient{}, err
	}
	client.ID = id
	return client, nil
}

func validateMovement(input MovementInput) error {
	if input.ProductID == 0 {
		return ErrProductNotFound
	}
	if input.ItemCount == 0 {
		return ErrInvalidQuantity
	}
	if !input.Kind.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSourceKind, input.Kind)
	}
	switch input.Kind.Direction() {
	case DirectionIncrease:
		if input.ItemCount < 0 {
			return fmt.Errorf("%w: %s", ErrDirectionNotAllowed, input.Kind)
		}
	case DirectionDecrease:
		if input.ItemCount > 0 {
			return fmt.Errorf("%w: %s", ErrDirectionNotAllowed, input.Kind)
		}
	}
	if input.UnitPrice.Valid && !validPrice(input.UnitPrice.Decimal) {
		return ErrInvalidUnitPrice
	}
	if input.SpecificWholesalePrice.Valid && !validPrice(input.SpecificWholesalePrice.Decimal) {
		return ErrInvalidUnitPrice
	}
	if len(input.Lots) > 0 {
		if input.ItemCount < 0 {
			return fmt.Errorf("%w: lots are only supplied on increase", ErrLotQuantityMismatch)
		}
		var sum int64
		for _, lot := range input.Lots {
			if lot.Quantity <= 0 {
				return ErrLotQuantityMismatch
			}
			if !validPrice(lot.UnitPrice) {
				return ErrInvalidUnitPrice
			}
			sum += lot.Quantity
		}
		if sum != input.ItemCount {
			return ErrLotQuantityMismatch
		}
	}
	if input.Kind == SourceConsignmentSale || input.Kind == SourceConsignmentSaleReturn {
		if input.Sale == nil {
			return ErrSaleTermsRequired
		}
		if !validPrice(input.Sale.UnitPrice) {
			return ErrInvalidUnitPrice
		}
	}
	return nil
}

// lockProduct takes the row lock and checks tenancy.
func lockProduct(ctx context.Context, tx TxRepository, actor shared.Actor, id int64) (Product, error) {
	product, err := tx.GetProductForUpdate(ctx, id)
	if err != nil {
		return Product{}, err
	}
	if product.Deleted || !visible(actor, product) {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

func visible(actor shared.Actor, product Product) bool {
	return actor.StoreID == 0 || actor.StoreID == product.StoreID
}

// guarded wraps fn with the idempotency key lifecycle.
func (s *Service) guarded(ctx context.Context, key, module string, fn func(context.Context) error) error {
	if key == "" || s.idempotency == nil {
		return fn(ctx)
	}
	scoped := module + ":" + key
	if err := s.idempotency.CheckAndInsert(ctx, scoped, module); err != nil {
		return err
	}
	if err := fn(ctx); err != nil {
		if delErr := s.idempotency.Delete(ctx, scoped); delErr != nil {
			s.logger.Warn("idempotency key cleanup", slog.String("key", scoped), slog.Any("error", delErr))
		}
		return err
	}
	return nil
}

type postedMovement struct {
	product Product
	result  MovementResult
}

// afterCommit runs audit and event hooks. The movements are already durable, so hook failures
// are logged rather than returned.
func (s *Service) afterCommit(ctx context.Context, actor shared.Actor, action string, posted []postedMovement) {
	for _, p := range posted {
		entry := p.result.Entry
		if s.audit != nil {
			err := s.audit.Record(ctx, shared.AuditLog{
				ActorID:  actor.StaffAccountID,
				Action:   "ledger:" + action,
				Entity:   "ledger_entry",
				EntityID: fmt.Sprintf("%d", entry.ID),
				Meta: map[string]any{
					"product_id":          entry.ProductID,
					"item_count_delta":    entry.ItemCountDelta,
					"source_kind":         string(entry.SourceKind),
					"source_id":           entry.SourceID,
					"result_stock_number": entry.ResultStockNumber,
					"unit_price":          entry.UnitPrice.String(),
				},
			})
			if err != nil {
				s.logger.Warn("audit ledger entry", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
			}
		}
		if s.events != nil {
			evt := MovementPostedEvent{
				EntryID:             entry.ID,
				ProductID:           entry.ProductID,
				StoreID:             entry.StoreID,
				ConsignmentClientID: p.product.ConsignmentClientID,
				Kind:                entry.SourceKind,
				ItemCountDelta:      entry.ItemCountDelta,
				ResultStockNumber:   entry.ResultStockNumber,
				PostedAt:            entry.Datetime,
			}
			if err := s.events.HandleMovementPosted(ctx, evt); err != nil {
				s.logger.Warn("movement event", slog.Int64("entry_id", entry.ID), slog.Any("error", err))
			}
		}
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrProductNotFound) || errors.Is(err, ErrLotNotFound) || errors.Is(err, ErrReservationNotFound)
}
