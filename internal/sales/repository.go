package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
	"github.com/bookhaul-erp/bookhaul-erp/internal/platform/db"
	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
)

// TxRepository is the transactional contract for the sale pipelines. Stock
// and Catalog are bound to the same transaction as the sale writes.
type TxRepository interface {
	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertLine(ctx context.Context, line Line) (int64, error)
	// GetForUpdate locks the sale header during state transitions.
	GetForUpdate(ctx context.Context, id int64) (Sale, []Line, error)
	SetCancelled(ctx context.Context, id int64, at time.Time, actorID int64) error

	Stock() stock.TxStore
	Catalog() catalog.TxStore
}

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Sale, []Line, error)
	List(ctx context.Context, filter ListFilter) ([]Sale, int, error)
}

// ListFilter narrows sale listings.
type ListFilter struct {
	SchoolID int64
	Status   Status
	Limit    int
	Offset   int
}

// Repository persists sales in PostgreSQL.
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
			catalog: catalog.NewTxStore(tx),
		})
	})
}

const saleColumns = `id, number, school_id, status, note, subtotal, discount, tax, total, paid, balance,
issued_at, cancelled_at, COALESCE(cancelled_by, 0), created_by`

// Get loads one sale with its lines.
func (r *Repository) Get(ctx context.Context, id int64) (Sale, []Line, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, nil, fmt.Errorf("sales: sale %d: %w", id, shared.ErrNotFound)
		}
		return Sale{}, nil, err
	}
	lines, err := queryLines(ctx, r.pool, id)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, lines, nil
}

// List returns sales matching the filter plus the unpaged total.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	var total int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sales
WHERE ($1 = 0 OR school_id = $1) AND ($2 = '' OR status = $2)`, filter.SchoolID, string(filter.Status)).Scan(&total)
	if err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+saleColumns+` FROM sales
WHERE ($1 = 0 OR school_id = $1) AND ($2 = '' OR status = $2)
ORDER BY id DESC LIMIT $3 OFFSET $4`, filter.SchoolID, string(filter.Status), limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	sales := []Sale{}
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, 0, err
		}
		sales = append(sales, sale)
	}
	return sales, total, rows.Err()
}

type txRepository struct {
	tx      pgx.Tx
	stock   stock.TxStore
	catalog catalog.TxStore
}

func (r *txRepository) Stock() stock.TxStore     { return r.stock }
func (r *txRepository) Catalog() catalog.TxStore { return r.catalog }

func (r *txRepository) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sales (number, school_id, status, note, subtotal, discount, tax, total, paid, balance, issued_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12) RETURNING id`,
		sale.Number, sale.SchoolID, string(sale.Status), sale.Note,
		sale.Subtotal, sale.Discount, sale.Tax, sale.Total, sale.Paid, sale.Balance,
		sale.IssuedAt, sale.CreatedBy).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLine(ctx context.Context, line Line) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO sale_lines (sale_id, sku_id, kind, requested_qty, issued_qty, short_qty, unit_price, amount)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`,
		line.SaleID, line.SKUID, string(line.Kind), line.RequestedQty, line.IssuedQty, line.ShortQty,
		line.UnitPrice, line.Amount).Scan(&id)
	return id, err
}

func (r *txRepository) GetForUpdate(ctx context.Context, id int64) (Sale, []Line, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id=$1 FOR UPDATE`, id)
	sale, err := scanSale(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, nil, fmt.Errorf("sales: sale %d: %w", id, shared.ErrNotFound)
		}
		return Sale{}, nil, err
	}
	lines, err := queryLines(ctx, r.tx, id)
	if err != nil {
		return Sale{}, nil, err
	}
	return sale, lines, nil
}

func (r *txRepository) SetCancelled(ctx context.Context, id int64, at time.Time, actorID int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE sales SET status=$2, cancelled_at=$3, cancelled_by=$4 WHERE id=$1`,
		id, string(StatusCancelled), at, nullID(actorID))
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSale(row rowScanner) (Sale, error) {
	var sale Sale
	err := row.Scan(&sale.ID, &sale.Number, &sale.SchoolID, &sale.Status, &sale.Note,
		&sale.Subtotal, &sale.Discount, &sale.Tax, &sale.Total, &sale.Paid, &sale.Balance,
		&sale.IssuedAt, &sale.CancelledAt, &sale.CancelledBy, &sale.CreatedBy)
	return sale, err
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryLines(ctx context.Context, q queryer, saleID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `SELECT id, sale_id, sku_id, kind, requested_qty, issued_qty, short_qty, unit_price, amount
FROM sale_lines WHERE sale_id=$1 ORDER BY id ASC`, saleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lines := []Line{}
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.SaleID, &line.SKUID, &line.Kind,
			&line.RequestedQty, &line.IssuedQty, &line.ShortQty, &line.UnitPrice, &line.Amount); err != nil {
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
