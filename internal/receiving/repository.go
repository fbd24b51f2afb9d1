package receiving

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
	"github.com/bookhaul-erp/bookhaul-erp/internal/ledger"
	"github.com/bookhaul-erp/bookhaul-erp/internal/orders"
	"github.com/bookhaul-erp/bookhaul-erp/internal/platform/db"
	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
)

// TxRepository is the transactional contract the receiving pipelines run
// against. The collaborator stores returned by Stock, Ledger, Orders and
// Catalog are bound to the same transaction, so one pipeline invocation is a
// single atomic unit of work.
type TxRepository interface {
	InsertReceipt(ctx context.Context, r Receipt) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	DeleteLines(ctx context.Context, receiptID int64) error
	// GetForUpdate locks the header row for the duration of the transaction
	// so two concurrent state transitions cannot both pass the posting check.
	GetForUpdate(ctx context.Context, id int64) (Receipt, []Line, error)
	UpdateHeader(ctx context.Context, r Receipt) error
	UpdateLineAmounts(ctx context.Context, line Line) error
	UpdateTotals(ctx context.Context, id int64, subtotal, grand decimal.Decimal) error
	SetStatus(ctx context.Context, id int64, status Status) error
	SetPosted(ctx context.Context, id int64, at time.Time) error
	ClearPosted(ctx context.Context, id int64) error
	SetCancelled(ctx context.Context, id int64, at time.Time, actorID int64) error
	DeleteReceipt(ctx context.Context, id int64) error

	Stock() stock.TxStore
	Ledger() ledger.TxStore
	Orders() orders.TxStore
	Catalog() catalog.TxStore
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Receipt, []Line, error)
	List(ctx context.Context, filter ListFilter) ([]Receipt, int, error)
}

// ListFilter narrows receipt listings.
type ListFilter struct {
	SupplierID int64
	Status     Status
	Limit      int
	Offset     int
}

// Repository persists receipts in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction. The
// collaborator stores all wrap the same tx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{
			tx:      tx,
			stock:   stock.NewTxStore(tx),
			ledger:  ledger.NewTxStore(tx),
			orders:  orders.NewTxStore(tx),
			catalog: catalog.NewTxStore(tx),
		})
	})
}

const receiptColumns = `id, number, supplier_id, COALESCE(order_id, 0), doc_type, ref_no, status, note, received_at,
subtotal, discount, shipping, other_charges, rounding, grand_total, posted_at, cancelled_at, COALESCE(cancelled_by, 0), created_by, created_at`

// Get loads one receipt with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Receipt, []Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id=$1`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, nil, fmt.Errorf("receiving: receipt %d: %w", id, shared.ErrNotFound)
		}
		return Receipt{}, nil, err
	}
	lines, err := queryLines(ctx, r.pool, id)
	if err != nil {
		return Receipt{}, nil, err
	}
	return receipt, lines, nil
}

// List returns receipts matching the filter plus the unpaged total.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Receipt, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM receipts
WHERE ($1 = 0 OR supplier_id = $1) AND ($2 = '' OR status = $2)`, filter.SupplierID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM receipts
WHERE ($1 = 0 OR supplier_id = $1) AND ($2 = '' OR status = $2)
ORDER BY id DESC LIMIT $3 OFFSET $4`, filter.SupplierID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	receipts := []Receipt{}
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		receipts = append(receipts, receipt)
	}
	return receipts, total, rows.Err()
}

type txRepository struct {
	tx      pgx.Tx
	stock   stock.TxStore
	ledger  ledger.TxStore
	orders  orders.TxStore
	catalog catalog.TxStore
}

func (r *txRepository) Stock() stock.TxStore     { return r.stock }
func (r *txRepository) Ledger() ledger.TxStore   { return r.ledger }
func (r *txRepository) Orders() orders.TxStore   { return r.orders }
func (r *txRepository) Catalog() catalog.TxStore { return r.catalog }

func (r *txRepository) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO receipts (number, supplier_id, order_id, doc_type, ref_no, status, note, received_at,
subtotal, discount, shipping, other_charges, rounding, grand_total, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,NOW()) RETURNING id`,
		receipt.Number, receipt.SupplierID, nullID(receipt.OrderID), string(receipt.DocType), receipt.RefNo,
		string(receipt.Status), receipt.Note, receipt.ReceivedAt,
		receipt.Subtotal, receipt.Discount, receipt.Shipping, receipt.Other, receipt.Rounding, receipt.GrandTotal,
		receipt.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO receipt_lines (receipt_id, sku_id, qty, unit_cost, discount_pct, discount_amt, specimen, gross, discount, net)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10) RETURNING id`,
		line.ReceiptID, line.SKUID, line.Qty, line.UnitCost, line.DiscountPct, line.DiscountAmt, line.Specimen,
		line.Gross, line.Discount, line.Net).Scan(&id)
	return id, err
}

func (r *txRepository) DeleteLines(ctx context.Context, receiptID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM receipt_lines WHERE receipt_id=$1`, receiptID)
	return err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Receipt, []Line, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id=$1 FOR UPDATE`, id)
	receipt, err := scanReceipt(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Receipt{}, nil, fmt.Errorf("receiving: receipt %d: %w", id, shared.ErrNotFound)
		}
		return Receipt{}, nil, err
	}
	lines, err := queryLines(ctx, r.tx, id)
	if err != nil {
		return Receipt{}, nil, err
	}
	return receipt, lines, nil
}

func (r *txRepository) UpdateHeader(ctx context.Context, receipt Receipt) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipts SET supplier_id=$2, order_id=$3, doc_type=$4, ref_no=$5, note=$6, received_at=$7,
discount=$8, shipping=$9, other_charges=$10, rounding=$11 WHERE id=$1`,
		receipt.ID, receipt.SupplierID, nullID(receipt.OrderID), string(receipt.DocType), receipt.RefNo, receipt.Note, receipt.ReceivedAt,
		receipt.Discount, receipt.Shipping, receipt.Other, receipt.Rounding)
	return err
}

func (r *txRepository) UpdateLineAmounts(ctx context.Context, line Line) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipt_lines SET gross=$2, discount=$3, net=$4 WHERE id=$1`,
		line.ID, line.Gross, line.Discount, line.Net)
	return err
}

func (r *txRepository) UpdateTotals(ctx context.Context, id int64, subtotal, grand decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipts SET subtotal=$2, grand_total=$3 WHERE id=$1`, id, subtotal, grand)
	return err
}

func (r *txRepository) SetStatus(ctx context.Context, id int64, status Status) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipts SET status=$2 WHERE id=$1`, id, string(status))
	return err
}

func (r *txRepository) SetPosted(ctx context.Context, id int64, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipts SET posted_at=$2 WHERE id=$1`, id, at)
	return err
}

func (r *txRepository) ClearPosted(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipts SET posted_at=NULL WHERE id=$1`, id)
	return err
}

func (r *txRepository) SetCancelled(ctx context.Context, id int64, at time.Time, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE receipts SET cancelled_at=$2, cancelled_by=$3 WHERE id=$1`, id, at, nullID(actorID))
	return err
}

func (r *txRepository) DeleteReceipt(ctx context.Context, id int64) error {
	if err := r.DeleteLines(ctx, id); err != nil {
		return err
	}
	_, err := r.tx.Exec(ctx, `DELETE FROM receipts WHERE id=$1`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReceipt(row rowScanner) (Receipt, error) {
	var receipt Receipt
	err := row.Scan(&receipt.ID, &receipt.Number, &receipt.SupplierID, &receipt.OrderID, &receipt.DocType, &receipt.RefNo,
		&receipt.Status, &receipt.Note, &receipt.ReceivedAt,
		&receipt.Subtotal, &receipt.Discount, &receipt.Shipping, &receipt.Other, &receipt.Rounding, &receipt.GrandTotal,
		&receipt.PostedAt, &receipt.CancelledAt, &receipt.CancelledBy, &receipt.CreatedBy, &receipt.CreatedAt)
	return receipt, err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, receiptID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, receipt_id, sku_id, qty, unit_cost, discount_pct, discount_amt, specimen, gross, discount, net
FROM receipt_lines WHERE receipt_id=$1 ORDER BY id ASC`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.ReceiptID, &line.SKUID, &line.Qty, &line.UnitCost,
			&line.DiscountPct, &line.DiscountAmt, &line.Specimen, &line.Gross, &line.Discount, &line.Net); err != nil {
			return nil, err
		}
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func nullID(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
