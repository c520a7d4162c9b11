// Package consignment projects consignor sales, commission and remaining stock from the ledger.
package consignment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cardpos/stockledger/internal/ledger"
)

// ErrClientNotFound is returned for unknown or foreign-store consignors.
var ErrClientNotFound = errors.New("consignment: client not found")

// Client is a consignor as seen by the stats projection.
type Client struct {
	ID          int64
	StoreID     int64
	DisplayName string
}

// TransactionStatsFilter scopes the sale scan.
type TransactionStatsFilter struct {
	ClientID  int64
	ProductID int64
	From      time.Time
	To        time.Time
}

// TransactionStats totals consignment sales net of returns.
type TransactionStats struct {
	TotalSalePrice       decimal.Decimal `json:"total_sale_price"`
	TotalSaleItemCount   int64           `json:"total_sale_item_count"`
	TotalCommissionPrice decimal.Decimal `json:"total_commission_price"`
}

// ProductStats totals the consignor's remaining stock.
type ProductStats struct {
	TotalStockNumber int64 `json:"total_stock_number"`
	ProductCount     int64 `json:"product_count"`
}

// ClientSummary combines both projections with the amount owed to the consignor.
type ClientSummary struct {
	ClientID    int64  `json:"client_id"`
	DisplayName string `json:"display_name"`
	TransactionStats
	ProductStats
	PayoutPrice decimal.Decimal `json:"payout_price"`
}

// SaleEntry is the slice of a ledger entry the sale fold needs.
type SaleEntry struct {
	Kind                ledger.SourceKind
	ItemCountDelta      int64
	SaleUnitPrice       decimal.Decimal
	CommissionUnitPrice decimal.Decimal
}

// saleKinds are the entry kinds the transaction stats fold over.
var saleKinds = []ledger.SourceKind{ledger.SourceConsignmentSale, ledger.SourceConsignmentSaleReturn}

// Add folds one entry. Sales carry a negative delta and returns a positive one, so the
// sold quantity is the negated delta and returns subtract naturally.
func (s *TransactionStats) Add(e SaleEntry) {
	qty := decimal.NewFromInt(-e.ItemCountDelta)
	s.TotalSaleItemCount += -e.ItemCountDelta
	s.TotalSalePrice = s.TotalSalePrice.Add(e.SaleUnitPrice.Mul(qty))
	s.TotalCommissionPrice = s.TotalCommissionPrice.Add(e.CommissionUnitPrice.Mul(qty))
}

func newTransactionStats() TransactionStats {
	return TransactionStats{TotalSalePrice: decimal.Zero, TotalCommissionPrice: decimal.Zero}
}
