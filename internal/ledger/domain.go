package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceKind enumerates the causes of a stock movement. Values are persisted.
type SourceKind string

const (
	// SourceProduct is a manual adjustment from the product screen.
	SourceProduct SourceKind = "product"
	// SourceTransfer pairs a decrease and an increase between two products.
	SourceTransfer SourceKind = "transfer"
	// SourceStocking is a purchase receipt.
	SourceStocking SourceKind = "stocking"
	// SourceStockingRollback undoes a purchase receipt.
	SourceStockingRollback SourceKind = "stocking_rollback"
	// SourceSale is a completed sale.
	SourceSale SourceKind = "transaction_sell"
	// SourceSaleReturn returns sold units.
	SourceSaleReturn SourceKind = "transaction_sell_return"
	// SourceBuy is a buy-back from a customer.
	SourceBuy SourceKind = "transaction_buy"
	// SourceBuyReturn reverses a buy-back.
	SourceBuyReturn SourceKind = "transaction_buy_return"
	// SourceLoss registers damaged or lost units.
	SourceLoss SourceKind = "loss"
	// SourceLossRollback undoes a loss registration.
	SourceLossRollback SourceKind = "loss_rollback"
	// SourcePackOpening disassembles a sealed pack into singles.
	SourcePackOpening SourceKind = "pack_opening"
	// SourceOriginalPack assembles a store original pack from singles.
	SourceOriginalPack SourceKind = "original_pack"
	// SourceBundle assembles a bundle from its children.
	SourceBundle SourceKind = "bundle"
	// SourceBundleRelease breaks a bundle back into its children.
	SourceBundleRelease SourceKind = "bundle_release"
	// SourceConsignment stocks goods owned by a consignor.
	SourceConsignment SourceKind = "consignment"
	// SourceConsignmentSale sells consignor goods on commission.
	SourceConsignmentSale SourceKind = "consignment_sale"
	// SourceConsignmentSaleReturn returns a consignment sale.
	SourceConsignmentSaleReturn SourceKind = "consignment_sale_return"
	// SourceConsignmentReturn hands goods back to the consignor.
	SourceConsignmentReturn SourceKind = "consignment_return"
	// SourceECReservation holds stock for an online order awaiting payment.
	SourceECReservation SourceKind = "ec_reservation"
	// SourceECReservationRollback releases an expired or cancelled reservation.
	SourceECReservationRollback SourceKind = "ec_reservation_rollback"
)

// Direction restricts the sign of movements a kind accepts.
type Direction int

const (
	// DirectionBoth accepts increases and decreases.
	DirectionBoth Direction = iota
	// DirectionIncrease accepts positive item counts only.
	DirectionIncrease
	// DirectionDecrease accepts negative item counts only.
	DirectionDecrease
)

var kindDirections = map[SourceKind]Direction{
	SourceProduct:               DirectionBoth,
	SourceTransfer:              DirectionBoth,
	SourceStocking:              DirectionIncrease,
	SourceStockingRollback:      DirectionDecrease,
	SourceSale:                  DirectionDecrease,
	SourceSaleReturn:            DirectionIncrease,
	SourceBuy:                   DirectionIncrease,
	SourceBuyReturn:             DirectionDecrease,
	SourceLoss:                  DirectionDecrease,
	SourceLossRollback:          DirectionIncrease,
	SourcePackOpening:           DirectionBoth,
	SourceOriginalPack:          DirectionBoth,
	SourceBundle:                DirectionBoth,
	SourceBundleRelease:         DirectionBoth,
	SourceConsignment:           DirectionIncrease,
	SourceConsignmentSale:       DirectionDecrease,
	SourceConsignmentSaleReturn: DirectionIncrease,
	SourceConsignmentReturn:     DirectionDecrease,
	SourceECReservation:         DirectionDecrease,
	SourceECReservationRollback: DirectionIncrease,
}

// restoreSources maps compensating kinds to the kind whose lot usages they restore.
var restoreSources = map[SourceKind]SourceKind{
	SourceSaleReturn:            SourceSale,
	SourceConsignmentSaleReturn: SourceConsignmentSale,
	SourceECReservationRollback: SourceECReservation,
	SourceLossRollback:          SourceLoss,
}

// Valid reports whether k is a known kind.
func (k SourceKind) Valid() bool {
	_, ok := kindDirections[k]
	return ok
}

// Direction returns the movement sign accepted by k.
func (k SourceKind) Direction() Direction {
	return kindDirections[k]
}

// RestoresFrom returns the kind whose usages an increase of kind k restores.
func (k SourceKind) RestoresFrom() (SourceKind, bool) {
	src, ok := restoreSources[k]
	return src, ok
}

// IsConversion reports whether k is produced by Convert.
func (k SourceKind) IsConversion() bool {
	switch k {
	case SourcePackOpening, SourceOriginalPack, SourceBundle, SourceBundleRelease:
		return true
	}
	return false
}

// LotOrder selects which open lots a decrease consumes first.
type LotOrder string

const (
	// LotOrderFIFO consumes the oldest arrival first.
	LotOrderFIFO LotOrder = "fifo"
	// LotOrderLIFO consumes the newest arrival first.
	LotOrderLIFO LotOrder = "lifo"
)

// ExhaustionPolicy prices the part of a decrease not covered by open lots.
type ExhaustionPolicy string

const (
	// ExhaustionLatestLot uses the product's most recent lot price.
	ExhaustionLatestLot ExhaustionPolicy = "latest_lot"
	// ExhaustionBuyPrice uses the product's current buy price.
	ExhaustionBuyPrice ExhaustionPolicy = "buy_price"
	// ExhaustionZero prices the shortfall at zero.
	ExhaustionZero ExhaustionPolicy = "zero"
	// ExhaustionStrict fails the movement with ErrLotExhausted.
	ExhaustionStrict ExhaustionPolicy = "strict"
)

// PaymentMethod selects the consignment commission rate.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentBank   PaymentMethod = "bank"
	PaymentCard   PaymentMethod = "card"
	PaymentPayPay PaymentMethod = "paypay"
	PaymentFelica PaymentMethod = "felica"
	PaymentSquare PaymentMethod = "square"
)

// Product is a stocking unit whose quantity the ledger owns.
type Product struct {
	ID                  int64
	StoreID             int64
	StockNumber         int64
	InfiniteStock       bool
	SellPrice           decimal.Decimal
	BuyPrice            decimal.Decimal
	ConsignmentClientID int64
	Deleted             bool
	UpdatedAt           time.Time
}

// ConsignmentClient owns consigned goods and is paid net of commission.
type ConsignmentClient struct {
	ID                 int64
	StoreID            int64
	DisplayName        string
	CommissionCashRate decimal.Decimal
	CommissionCardRate decimal.Decimal
}

// CostLot is a batch of units that arrived at one unit price.
type CostLot struct {
	ID                int64
	ProductID         int64
	ArrivedAt         time.Time
	OriginalQuantity  int64
	RemainingQuantity int64
	UnitPrice         decimal.Decimal
	CreatedAt         time.Time
}

// Open reports whether the lot still has units.
func (l CostLot) Open() bool {
	return l.RemainingQuantity > 0
}

// LotUse is a quantity taken from, or put into, one lot at its unit price. LotID is zero for
// the synthetic share of a decrease that no open lot covered.
type LotUse struct {
	LotID     int64           `json:"lot_id"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ArrivedAt time.Time       `json:"arrived_at"`
}

// Synthetic reports whether the use was priced without a backing lot.
func (u LotUse) Synthetic() bool {
	return u.LotID == 0
}

// LotSpec describes a lot to create on increase.
type LotSpec struct {
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	ArrivedAt time.Time       `json:"arrived_at,omitempty"`
}

// LotUsage ties consumed lots to the business document that consumed them.
type LotUsage struct {
	ID               int64
	SourceKind       SourceKind
	SourceID         string
	ProductID        int64
	LotID            int64
	Quantity         int64
	RestoredQuantity int64
	UnitPrice        decimal.Decimal
	ArrivedAt        time.Time
}

// Restorable returns the quantity not yet restored.
func (u LotUsage) Restorable() int64 {
	return u.Quantity - u.RestoredQuantity
}

// LedgerEntry is the append-only record of one movement.
type LedgerEntry struct {
	ID                  int64               `json:"id"`
	ProductID           int64               `json:"product_id"`
	StoreID             int64               `json:"store_id"`
	ItemCountDelta      int64               `json:"item_count_delta"`
	SourceKind          SourceKind          `json:"source_kind"`
	SourceID            string              `json:"source_id,omitempty"`
	ResultStockNumber   int64               `json:"result_stock_number"`
	UnitPrice           decimal.Decimal     `json:"unit_price"`
	SaleUnitPrice       decimal.NullDecimal `json:"sale_unit_price"`
	CommissionUnitPrice decimal.NullDecimal `json:"commission_unit_price"`
	Description         string              `json:"description"`
	StaffAccountID      int64               `json:"staff_account_id,omitempty"`
	Datetime            time.Time           `json:"datetime"`
}

// SaleTerms carry the consignment sale price and how it was paid.
type SaleTerms struct {
	UnitPrice     decimal.Decimal `json:"unit_price"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
}

// MovementInput describes a signed change to one product's stock.
type MovementInput struct {
	ProductID              int64
	ItemCount              int64
	Kind                   SourceKind
	UnitPrice              decimal.NullDecimal
	SpecificWholesalePrice decimal.NullDecimal
	Lots                   []LotSpec
	SourceID               string
	Description            string
	Sale                   *SaleTerms
	IdempotencyKey         string
}

// MovementResult reports the outcome of a movement.
type MovementResult struct {
	ProductID         int64           `json:"product_id"`
	ResultStockNumber int64           `json:"result_stock_number"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Lots              []LotUse        `json:"lots"`
	Shortfall         int64           `json:"shortfall,omitempty"`
	Entry             LedgerEntry     `json:"entry"`
}

// TransferInput moves units and their cost basis between two products.
type TransferInput struct {
	FromProductID          int64
	ToProductID            int64
	ItemCount              int64
	SpecificWholesalePrice decimal.NullDecimal
	Description            string
	IdempotencyKey         string
}

// TransferResult reports both legs of a transfer.
type TransferResult struct {
	ResultStockNumber int64          `json:"result_stock_number"`
	Source            MovementResult `json:"source"`
	Destination       MovementResult `json:"destination"`
}

// ConvertLine is one consumed or produced product in a conversion.
type ConvertLine struct {
	ProductID int64
	ItemCount int64
	UnitPrice decimal.NullDecimal
}

// ConvertInput consumes Inputs and produces Outputs as one unit of work.
type ConvertInput struct {
	Kind           SourceKind
	Inputs         []ConvertLine
	Outputs        []ConvertLine
	SourceID       string
	Description    string
	IdempotencyKey string
}

// ConvertResult lists the movements of a conversion.
type ConvertResult struct {
	ConsumedCost decimal.Decimal  `json:"consumed_cost"`
	Inputs       []MovementResult `json:"inputs"`
	Outputs      []MovementResult `json:"outputs"`
}

// CostSummary aggregates a product's open lots.
type CostSummary struct {
	ProductID     int64           `json:"product_id"`
	OpenQuantity  int64           `json:"open_quantity"`
	TotalCost     decimal.Decimal `json:"total_cost"`
	AveragePrice  decimal.Decimal `json:"average_price"`
	MinPrice      decimal.Decimal `json:"min_price"`
	MaxPrice      decimal.Decimal `json:"max_price"`
	OpenLotCount  int             `json:"open_lot_count"`
	InfiniteStock bool            `json:"infinite_stock"`
}

// ReplayTotals are the raw sums a replay check compares.
type ReplayTotals struct {
	EntryCount        int64
	DeltaSum          int64
	LatestResultStock int64
	OpenLotRemaining  int64
}

// ReplayReport compares the ledger, the lots and the authoritative stock number.
type ReplayReport struct {
	ProductID         int64 `json:"product_id"`
	StockNumber       int64 `json:"stock_number"`
	DeltaSum          int64 `json:"delta_sum"`
	LatestResultStock int64 `json:"latest_result_stock"`
	OpenLotRemaining  int64 `json:"open_lot_remaining"`
	InfiniteStock     bool  `json:"infinite_stock"`
	LedgerConsistent  bool  `json:"ledger_consistent"`
	LotsConsistent    bool  `json:"lots_consistent"`
}

// Consistent reports whether every check passed.
func (r ReplayReport) Consistent() bool {
	return r.LedgerConsistent && r.LotsConsistent
}

// EntryFilter selects ledger entries for one product in commit order.
type EntryFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	AfterID   int64
	Limit     int
}

// LotFilter selects lots of one product.
type LotFilter struct {
	ProductID int64
	OpenOnly  bool
}

// ReservationStatus tracks an EC stock hold.
type ReservationStatus string

const (
	ReservationPending   ReservationStatus = "pending"
	ReservationConfirmed ReservationStatus = "confirmed"
	ReservationReleased  ReservationStatus = "released"
)

// ReservationLine is one product held for an order.
type ReservationLine struct {
	ProductID int64 `json:"product_id"`
	ItemCount int64 `json:"item_count"`
}

// Reservation holds stock for an online order until it is paid or expires.
type Reservation struct {
	OrderID        string            `json:"order_id"`
	StoreID        int64             `json:"store_id"`
	Status         ReservationStatus `json:"status"`
	StaffAccountID int64             `json:"staff_account_id,omitempty"`
	ExpiresAt      time.Time         `json:"expires_at"`
	Lines          []ReservationLine `json:"lines"`
}

// ReserveInput requests a stock hold.
type ReserveInput struct {
	OrderID string
	Lines   []ReservationLine
	TTL     time.Duration
}
