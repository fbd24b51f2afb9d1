package stock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxStore exposes the transactional stock operations consumed by the posting
// pipelines. Implementations run over the caller's transaction so batch
// updates, movements and document writes commit or roll back together.
type TxStore interface {
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	// ListBatchesForAllocation returns batches with available stock for the
	// SKU, locked for update, ordered ascending by id (FIFO order).
	ListBatchesForAllocation(ctx context.Context, skuID int64) ([]Batch, error)
	ListBatchesByReceiptForUpdate(ctx context.Context, receiptID int64) ([]Batch, error)
	BatchExistsForReceipt(ctx context.Context, receiptID int64) (bool, error)
	// AddToBatchAvailable applies a signed delta to available_qty, rejecting
	// any result outside [0, received_qty].
	AddToBatchAvailable(ctx context.Context, batchID, delta int64) error
	// ZeroBatch zeroes both received and available quantity; used by full
	// reversal, the batch row is retained for audit.
	ZeroBatch(ctx context.Context, batchID int64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	// SumOutByRef sums OUT movement quantities grouped by batch for one
	// owning document; aggregate movements without a batch are excluded.
	SumOutByRef(ctx context.Context, ref Ref) ([]BatchQty, error)
}

// Repository serves stock reads outside of pipeline transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// MovementFilter narrows movement listings.
type MovementFilter struct {
	SKUID   int64
	RefKind RefKind
	RefID   int64
	Limit   int
	Offset  int
}

// OnHand sums available quantity across batches of a SKU.
func (r *Repository) OnHand(ctx context.Context, skuID int64) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(available_qty), 0) FROM stock_batches WHERE sku_id=$1`, skuID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("stock: on hand: %w", err)
	}
	return total, nil
}

// GetBatch loads one batch.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	var b Batch
	err := r.pool.QueryRow(ctx, `SELECT id, sku_id, receipt_id, received_qty, available_qty, unit_cost, created_at FROM stock_batches WHERE id=$1`, id).
		Scan(&b.ID, &b.SKUID, &b.ReceiptID, &b.ReceivedQty, &b.AvailableQty, &b.UnitCost, &b.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Batch{}, ErrBatchNotFound
		}
		return Batch{}, err
	}
	return b, nil
}

// ListMovements returns the audit trail, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, movement_type, sku_id, COALESCE(batch_id, 0), qty, ref_kind, ref_id, note, posted_at, created_by
FROM stock_movements
WHERE ($1 = 0 OR sku_id = $1)
  AND ($2 = '' OR ref_kind = $2)
  AND ($3 = 0 OR ref_id = $3)
ORDER BY id DESC
LIMIT $4 OFFSET $5`, filter.SKUID, string(filter.RefKind), filter.RefID, limit, filter.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		if err := rows.Scan(&m.ID, &m.Type, &m.SKUID, &m.BatchID, &m.Qty, &m.Ref.Kind, &m.Ref.ID, &m.Note, &m.PostedAt, &m.CreatedBy); err != nil {
			return nil, err
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ListBelowThreshold reports SKUs whose total available stock fell below the
// given threshold; used by the background low-stock scan.
func (r *Repository) ListBelowThreshold(ctx context.Context, threshold int64) ([]SKUQty, error) {
	rows, err := r.pool.Query(ctx, `SELECT sku_id, COALESCE(SUM(available_qty), 0) AS on_hand
FROM stock_batches
GROUP BY sku_id
HAVING COALESCE(SUM(available_qty), 0) < $1
ORDER BY sku_id`, threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []SKUQty
	for rows.Next() {
		var row SKUQty
		if err := rows.Scan(&row.SKUID, &row.Qty); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	return result, rows.Err()
}

// NewTxStore wraps a pgx transaction with the stock TxStore contract so the
// receiving and sale pipelines can write stock rows inside their own unit of
// work.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	if batch.ReceivedQty < 0 || batch.AvailableQty < 0 || batch.AvailableQty > batch.ReceivedQty {
		return 0, ErrBatchOverflow
	}
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_batches (sku_id, receipt_id, received_qty, available_qty, unit_cost, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id`, batch.SKUID, batch.ReceiptID, batch.ReceivedQty, batch.AvailableQty, batch.UnitCost).Scan(&id)
	return id, err
}

func (s *txStore) ListBatchesForAllocation(ctx context.Context, skuID int64) ([]Batch, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, sku_id, receipt_id, received_qty, available_qty, unit_cost, created_at
FROM stock_batches
WHERE sku_id=$1 AND available_qty > 0
ORDER BY id ASC
FOR UPDATE`, skuID)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows)
}

func (s *txStore) ListBatchesByReceiptForUpdate(ctx context.Context, receiptID int64) ([]Batch, error) {
	rows, err := s.tx.Query(ctx, `SELECT id, sku_id, receipt_id, received_qty, available_qty, unit_cost, created_at
FROM stock_batches
WHERE receipt_id=$1
ORDER BY id ASC
FOR UPDATE`, receiptID)
	if err != nil {
		return nil, err
	}
	return scanBatches(rows)
}

func (s *txStore) BatchExistsForReceipt(ctx context.Context, receiptID int64) (bool, error) {
	var exists bool
	err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_batches WHERE receipt_id=$1)`, receiptID).Scan(&exists)
	return exists, err
}

func (s *txStore) AddToBatchAvailable(ctx context.Context, batchID, delta int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_batches
SET available_qty = available_qty + $2
WHERE id=$1 AND available_qty + $2 >= 0 AND available_qty + $2 <= received_qty`, batchID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_batches WHERE id=$1)`, batchID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrBatchNotFound
		}
		if delta < 0 {
			return ErrBatchUnderflow
		}
		return ErrBatchOverflow
	}
	return nil
}

func (s *txStore) ZeroBatch(ctx context.Context, batchID int64) error {
	tag, err := s.tx.Exec(ctx, `UPDATE stock_batches SET received_qty = 0, available_qty = 0 WHERE id=$1`, batchID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBatchNotFound
	}
	return nil
}

func (s *txStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	if m.Qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	var id int64
	err := s.tx.QueryRow(ctx, `INSERT INTO stock_movements (movement_type, sku_id, batch_id, qty, ref_kind, ref_id, note, posted_at, created_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,COALESCE($8, NOW()),$9) RETURNING id`,
		string(m.Type), m.SKUID, nullID(m.BatchID), m.Qty, string(m.Ref.Kind), m.Ref.ID, m.Note, nullTime(m.PostedAt), m.CreatedBy).Scan(&id)
	return id, err
}

func (s *txStore) SumOutByRef(ctx context.Context, ref Ref) ([]BatchQty, error) {
	rows, err := s.tx.Query(ctx, `SELECT batch_id, sku_id, SUM(qty)
FROM stock_movements
WHERE movement_type='OUT' AND ref_kind=$1 AND ref_id=$2 AND batch_id IS NOT NULL
GROUP BY batch_id, sku_id
ORDER BY batch_id ASC`, string(ref.Kind), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var sums []BatchQty
	for rows.Next() {
		var bq BatchQty
		if err := rows.Scan(&bq.BatchID, &bq.SKUID, &bq.Qty); err != nil {
			return nil, err
		}
		sums = append(sums, bq)
	}
	return sums, rows.Err()
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	defer rows.Close()
	var batches []Batch
	for rows.Next() {
		var b Batch
		if err := rows.Scan(&b.ID, &b.SKUID, &b.ReceiptID, &b.ReceivedQty, &b.AvailableQty, &b.UnitCost, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func nullID(value int64) any {
	if value == 0 {
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
