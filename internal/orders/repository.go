package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// TxStore exposes fulfillment-counter operations inside a pipeline
// transaction.
type TxStore interface {
	OrderedQty(ctx context.Context, orderID, skuID int64) (int64, error)
	// AddFulfilled applies a signed delta to the fulfilled counter, clamped
	// to [0, ordered_qty] in a single authoritative update.
	AddFulfilled(ctx context.Context, orderID, skuID, delta int64) error
}

// NewTxStore wraps a pgx transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{tx: tx}
}

type txStore struct {
	tx pgx.Tx
}

func (s *txStore) OrderedQty(ctx context.Context, orderID, skuID int64) (int64, error) {
	var qty int64
	err := s.tx.QueryRow(ctx, `SELECT ordered_qty FROM order_lines WHERE order_id=$1 AND sku_id=$2`, orderID, skuID).Scan(&qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrLineNotFound
		}
		return 0, err
	}
	return qty, nil
}

func (s *txStore) AddFulfilled(ctx context.Context, orderID, skuID, delta int64) error {
	// A missing line is a valid no-op: receipts may carry SKUs the order
	// never listed.
	_, err := s.tx.Exec(ctx, `UPDATE order_lines
SET fulfilled_qty = GREATEST(0, LEAST(ordered_qty, fulfilled_qty + $3))
WHERE order_id=$1 AND sku_id=$2`, orderID, skuID, delta)
	return err
}
