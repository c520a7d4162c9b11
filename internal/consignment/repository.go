package consignment

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardpos/stockledger/internal/ledger"
)

// Repository reads consignment projections straight from the ledger tables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var errRepositoryNotInitialised = errors.New("consignment repository not initialised")

// GetClient loads a consignor.
func (r *Repository) GetClient(ctx context.Context, id int64) (Client, error) {
	if r == nil || r.pool == nil {
		return Client{}, errRepositoryNotInitialised
	}
	var c Client
	err := r.pool.QueryRow(ctx, `SELECT id, store_id, display_name FROM consignment_clients WHERE id=$1`, id).
		Scan(&c.ID, &c.StoreID, &c.DisplayName)
	if errors.Is(err, pgx.ErrNoRows) {
		return Client{}, ErrClientNotFound
	}
	return c, err
}

// StreamSaleEntries feeds every sale-kind entry of the consignor's products to fn.
func (r *Repository) StreamSaleEntries(ctx context.Context, filter TransactionStatsFilter, fn func(SaleEntry) error) error {
	if r == nil || r.pool == nil {
		return errRepositoryNotInitialised
	}
	kinds := make([]string, len(saleKinds))
	for i, kind := range saleKinds {
		kinds[i] = string(kind)
	}
	clauses := []string{"p.consignment_client_id = $1", "e.source_kind = ANY($2)"}
	args := []any{filter.ClientID, kinds}
	if filter.ProductID != 0 {
		args = append(args, filter.ProductID)
		clauses = append(clauses, fmt.Sprintf("e.product_id = $%d", len(args)))
	}
	if !filter.From.IsZero() {
		args = append(args, filter.From)
		clauses = append(clauses, fmt.Sprintf("e.datetime >= $%d", len(args)))
	}
	if !filter.To.IsZero() {
		args = append(args, filter.To)
		clauses = append(clauses, fmt.Sprintf("e.datetime < $%d", len(args)))
	}
	query := `SELECT e.source_kind, e.item_count_delta,
       COALESCE(e.sale_unit_price, 0), COALESCE(e.commission_unit_price, 0)
FROM ledger_entries e
JOIN products p ON p.id = e.product_id
WHERE ` + strings.Join(clauses, " AND ") + `
ORDER BY e.id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entry SaleEntry
			kind  string
		)
		if err := rows.Scan(&kind, &entry.ItemCountDelta, &entry.SaleUnitPrice, &entry.CommissionUnitPrice); err != nil {
			return err
		}
		entry.Kind = ledger.SourceKind(kind)
		if err := fn(entry); err != nil {
			return err
		}
	}
	return rows.Err()
}

// ProductStats sums current on-hand quantity across the consignor's tracked, live products.
func (r *Repository) ProductStats(ctx context.Context, clientID int64) (ProductStats, error) {
	if r == nil || r.pool == nil {
		return ProductStats{}, errRepositoryNotInitialised
	}
	var stats ProductStats
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(stock_number), 0)::BIGINT, COUNT(*)
FROM products
WHERE consignment_client_id = $1 AND NOT deleted AND NOT infinite_stock`, clientID).
		Scan(&stats.TotalStockNumber, &stats.ProductCount)
	return stats, err
}
