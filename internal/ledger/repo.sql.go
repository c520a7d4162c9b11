package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cardpos/stockledger/internal/platform/db"
)

// Repository persists products, cost lots and ledger entries in PostgreSQL.
type Repository struct {
	pool    *pgxpool.Pool
	retries int
}

// NewRepository constructs Repository. retries bounds how often a unit of work is re-run after
// a serialization failure or deadlock.
func NewRepository(pool *pgxpool.Pool, retries int) *Repository {
	return &Repository{pool: pool, retries: retries}
}

type txRepository struct {
	tx pgx.Tx
}

var errRepositoryNotInitialised = errors.New("ledger repository not initialised")

// WithTx executes the callback inside a repeatable-read transaction, retrying the whole
// callback on lock contention.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errRepositoryNotInitialised
	}
	return db.WithRetryTx(ctx, r.pool, r.retries, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const productColumns = `id, store_id, stock_number, infinite_stock, sell_price, buy_price, COALESCE(consignment_client_id, 0), deleted, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.StoreID, &p.StockNumber, &p.InfiniteStock, &p.SellPrice, &p.BuyPrice, &p.ConsignmentClientID, &p.Deleted, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// GetProduct loads a product without locking it.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	if r == nil || r.pool == nil {
		return Product{}, errRepositoryNotInitialised
	}
	product, err := scanProduct(r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if err != nil {
		return Product{}, err
	}
	if product.Deleted {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

// CreateProduct inserts a product with zero stock.
func (r *Repository) CreateProduct(ctx context.Context, product Product) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO products (store_id, stock_number, infinite_stock, sell_price, buy_price, consignment_client_id, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`, product.StoreID, product.StockNumber, product.InfiniteStock, product.SellPrice, product.BuyPrice, nullInt(product.ConsignmentClientID)).Scan(&id)
	return id, err
}

// SoftDeleteProduct flags a product as deleted.
func (r *Repository) SoftDeleteProduct(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET deleted=TRUE, updated_at=NOW() WHERE id=$1 AND NOT deleted`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrProductNotFound
	}
	return nil
}

// CreateConsignmentClient inserts a consignor.
func (r *Repository) CreateConsignmentClient(ctx context.Context, client ConsignmentClient) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO consignment_clients (store_id, display_name, commission_cash_rate, commission_card_rate, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id`, client.StoreID, client.DisplayName, client.CommissionCashRate, client.CommissionCardRate).Scan(&id)
	return id, err
}

// ListLots returns lots of a product by arrival.
func (r *Repository) ListLots(ctx context.Context, filter LotFilter) ([]CostLot, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, arrived_at, original_quantity, remaining_quantity, unit_price, created_at
FROM cost_lots
WHERE product_id=$1 AND (NOT $2 OR remaining_quantity > 0)
ORDER BY arrived_at ASC, id ASC`, filter.ProductID, filter.OpenOnly)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

// ListEntries returns ledger entries in commit order.
func (r *Repository) ListEntries(ctx context.Context, filter EntryFilter) ([]LedgerEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, store_id, item_count_delta, source_kind, COALESCE(source_id, ''), result_stock_number,
       unit_price, sale_unit_price, commission_unit_price, description, COALESCE(staff_account_id, 0), datetime
FROM ledger_entries
WHERE product_id=$1 AND id > $2
  AND datetime BETWEEN COALESCE($3::timestamptz, '-infinity') AND COALESCE($4::timestamptz, 'infinity')
ORDER BY id ASC
LIMIT $5`, filter.ProductID, filter.AfterID, nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []LedgerEntry{}
	for rows.Next() {
		var e LedgerEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.ProductID, &e.StoreID, &e.ItemCountDelta, &kind, &e.SourceID, &e.ResultStockNumber,
			&e.UnitPrice, &e.SaleUnitPrice, &e.CommissionUnitPrice, &e.Description, &e.StaffAccountID, &e.Datetime); err != nil {
			return nil, err
		}
		e.SourceKind = SourceKind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// ReplayTotals sums a product's ledger and open lots in one snapshot.
func (r *Repository) ReplayTotals(ctx context.Context, productID int64) (ReplayTotals, error) {
	var totals ReplayTotals
	err := r.pool.QueryRow(ctx, `SELECT
  (SELECT COUNT(*) FROM ledger_entries WHERE product_id=$1),
  (SELECT COALESCE(SUM(item_count_delta), 0) FROM ledger_entries WHERE product_id=$1),
  (SELECT COALESCE((SELECT result_stock_number FROM ledger_entries WHERE product_id=$1 ORDER BY id DESC LIMIT 1), 0)),
  (SELECT COALESCE(SUM(remaining_quantity), 0) FROM cost_lots WHERE product_id=$1)`, productID).
		Scan(&totals.EntryCount, &totals.DeltaSum, &totals.LatestResultStock, &totals.OpenLotRemaining)
	return totals, err
}

// ListProductIDs pages through a store's live products by id.
func (r *Repository) ListProductIDs(ctx context.Context, storeID, afterID int64, limit int) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products WHERE store_id=$1 AND id > $2 AND NOT deleted ORDER BY id ASC LIMIT $3`, storeID, afterID, limit)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// ListStoreIDs returns every store owning at least one live product.
func (r *Repository) ListStoreIDs(ctx context.Context) ([]int64, error) {
	if r == nil || r.pool == nil {
		return nil, errRepositoryNotInitialised
	}
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT store_id FROM products WHERE NOT deleted ORDER BY store_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

func (r *txRepository) GetProductForUpdate(ctx context.Context, id int64) (Product, error) {
	return scanProduct(r.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
}

func (r *txRepository) UpdateStockNumber(ctx context.Context, productID, stockNumber int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET stock_number=$2, updated_at=NOW() WHERE id=$1`, productID, stockNumber)
	return err
}

func (r *txRepository) ListOpenLotsForUpdate(ctx context.Context, productID int64, order LotOrder) ([]CostLot, error) {
	query := `SELECT id, product_id, arrived_at, original_quantity, remaining_quantity, unit_price, created_at
FROM cost_lots
WHERE product_id=$1 AND remaining_quantity > 0
ORDER BY arrived_at ASC, id ASC
FOR UPDATE`
	if order == LotOrderLIFO {
		query = `SELECT id, product_id, arrived_at, original_quantity, remaining_quantity, unit_price, created_at
FROM cost_lots
WHERE product_id=$1 AND remaining_quantity > 0
ORDER BY arrived_at DESC, id DESC
FOR UPDATE`
	}
	rows, err := r.tx.Query(ctx, query, productID)
	if err != nil {
		return nil, err
	}
	return collectLots(rows)
}

func (r *txRepository) LatestLot(ctx context.Context, productID int64) (CostLot, error) {
	var lot CostLot
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, arrived_at, original_quantity, remaining_quantity, unit_price, created_at
FROM cost_lots WHERE product_id=$1 ORDER BY arrived_at DESC, id DESC LIMIT 1`, productID).
		Scan(&lot.ID, &lot.ProductID, &lot.ArrivedAt, &lot.OriginalQuantity, &lot.RemainingQuantity, &lot.UnitPrice, &lot.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return CostLot{}, ErrLotNotFound
	}
	return lot, err
}

func (r *txRepository) InsertLot(ctx context.Context, lot CostLot) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO cost_lots (product_id, arrived_at, original_quantity, remaining_quantity, unit_price, created_at)
VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`, lot.ProductID, lot.ArrivedAt, lot.OriginalQuantity, lot.RemainingQuantity, lot.UnitPrice, lot.CreatedAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateLotRemaining(ctx context.Context, lotID, remaining int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE cost_lots SET remaining_quantity=$2 WHERE id=$1`, lotID, remaining)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLotNotFound
	}
	return nil
}

func (r *txRepository) InsertEntry(ctx context.Context, entry LedgerEntry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO ledger_entries (product_id, store_id, item_count_delta, source_kind, source_id, result_stock_number,
  unit_price, sale_unit_price, commission_unit_price, description, staff_account_id, datetime)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		entry.ProductID, entry.StoreID, entry.ItemCountDelta, string(entry.SourceKind), nullString(entry.SourceID), entry.ResultStockNumber,
		entry.UnitPrice, entry.SaleUnitPrice, entry.CommissionUnitPrice, entry.Description, nullInt(entry.StaffAccountID), entry.Datetime).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLotUsages(ctx context.Context, usages []LotUsage) error {
	if len(usages) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, u := range usages {
		batch.Queue(`INSERT INTO cost_lot_usages (source_kind, source_id, product_id, lot_id, quantity, unit_price, arrived_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, string(u.SourceKind), u.SourceID, u.ProductID, nullInt(u.LotID), u.Quantity, u.UnitPrice, u.ArrivedAt)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

func (r *txRepository) ListUsagesForUpdate(ctx context.Context, kind SourceKind, sourceID string, productID int64) ([]LotUsage, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, source_kind, source_id, product_id, COALESCE(lot_id, 0), quantity, restored_quantity, unit_price, arrived_at
FROM cost_lot_usages
WHERE source_kind=$1 AND source_id=$2 AND product_id=$3
ORDER BY id ASC
FOR UPDATE`, string(kind), sourceID, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	usages := []LotUsage{}
	for rows.Next() {
		var u LotUsage
		var k string
		if err := rows.Scan(&u.ID, &k, &u.SourceID, &u.ProductID, &u.LotID, &u.Quantity, &u.RestoredQuantity, &u.UnitPrice, &u.ArrivedAt); err != nil {
			return nil, err
		}
		u.SourceKind = SourceKind(k)
		usages = append(usages, u)
	}
	return usages, rows.Err()
}

func (r *txRepository) AddRestoredQuantity(ctx context.Context, usageID, qty int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE cost_lot_usages SET restored_quantity=restored_quantity+$2 WHERE id=$1`, usageID, qty)
	return err
}

const consignmentClientQuery = `SELECT id, store_id, display_name, commission_cash_rate, commission_card_rate FROM consignment_clients WHERE id=$1`

func scanConsignmentClient(row pgx.Row) (ConsignmentClient, error) {
	var c ConsignmentClient
	err := row.Scan(&c.ID, &c.StoreID, &c.DisplayName, &c.CommissionCashRate, &c.CommissionCardRate)
	if errors.Is(err, pgx.ErrNoRows) {
		return ConsignmentClient{}, ErrConsignmentClientNotFound
	}
	return c, err
}

// GetConsignmentClient loads a consignor outside a transaction.
func (r *Repository) GetConsignmentClient(ctx context.Context, id int64) (ConsignmentClient, error) {
	return scanConsignmentClient(r.pool.QueryRow(ctx, consignmentClientQuery, id))
}

func (r *txRepository) GetConsignmentClient(ctx context.Context, id int64) (ConsignmentClient, error) {
	return scanConsignmentClient(r.tx.QueryRow(ctx, consignmentClientQuery, id))
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_reservations (order_id, store_id, status, staff_account_id, expires_at, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,NOW(),NOW())`, res.OrderID, res.StoreID, string(res.Status), nullInt(res.StaffAccountID), res.ExpiresAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrReservationExists
		}
		return err
	}
	for _, line := range res.Lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO stock_reservation_lines (store_id, order_id, product_id, item_count) VALUES ($1,$2,$3,$4)`,
			res.StoreID, res.OrderID, line.ProductID, line.ItemCount); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) GetReservationForUpdate(ctx context.Context, storeID int64, orderID string) (Reservation, error) {
	var res Reservation
	var status string
	err := r.tx.QueryRow(ctx, `SELECT order_id, store_id, status, COALESCE(staff_account_id, 0), expires_at
FROM stock_reservations WHERE store_id=$1 AND order_id=$2 FOR UPDATE`, storeID, orderID).
		Scan(&res.OrderID, &res.StoreID, &status, &res.StaffAccountID, &res.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Reservation{}, ErrReservationNotFound
		}
		return Reservation{}, err
	}
	res.Status = ReservationStatus(status)
	rows, err := r.tx.Query(ctx, `SELECT product_id, item_count FROM stock_reservation_lines WHERE store_id=$1 AND order_id=$2 ORDER BY product_id`, storeID, orderID)
	if err != nil {
		return Reservation{}, err
	}
	res.Lines, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (ReservationLine, error) {
		var line ReservationLine
		err := row.Scan(&line.ProductID, &line.ItemCount)
		return line, err
	})
	if err != nil {
		return Reservation{}, err
	}
	return res, nil
}

func (r *txRepository) UpdateReservationStatus(ctx context.Context, storeID int64, orderID string, status ReservationStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_reservations SET status=$3, updated_at=NOW() WHERE store_id=$1 AND order_id=$2`, storeID, orderID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}
	return nil
}

func collectLots(rows pgx.Rows) ([]CostLot, error) {
	defer rows.Close()
	lots := []CostLot{}
	for rows.Next() {
		var lot CostLot
		if err := rows.Scan(&lot.ID, &lot.ProductID, &lot.ArrivedAt, &lot.OriginalQuantity, &lot.RemainingQuantity, &lot.UnitPrice, &lot.CreatedAt); err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return lots, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
