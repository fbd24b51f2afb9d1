package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// TxStore exposes SKU master operations inside a pipeline transaction.
type TxStore interface {
	Exists(ctx context.Context, skuID int64) (bool, error)
	Get(ctx context.Context, skuID int64) (SKU, error)
	SetLastUnitCost(ctx context.Context, skuID int64, cost decimal.Decimal) error
}

// NewTxStore wraps a pgx transaction.
func NewTxStore(tx pgx.Tx) TxStore {
	return &txStore{q: tx}
}

type txStore struct {
	q pgx.Tx
}

func (s *txStore) Exists(ctx context.Context, skuID int64) (bool, error) {
	var exists bool
	err := s.q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM skus WHERE id=$1)`, skuID).Scan(&exists)
	return exists, err
}

func (s *txStore) Get(ctx context.Context, skuID int64) (SKU, error) {
	var sku SKU
	err := s.q.QueryRow(ctx, `SELECT id, code, title, kind, last_unit_cost FROM skus WHERE id=$1`, skuID).
		Scan(&sku.ID, &sku.Code, &sku.Title, &sku.Kind, &sku.LastUnitCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SKU{}, ErrSKUNotFound
		}
		return SKU{}, err
	}
	return sku, nil
}

func (s *txStore) SetLastUnitCost(ctx context.Context, skuID int64, cost decimal.Decimal) error {
	_, err := s.q.Exec(ctx, `UPDATE skus SET last_unit_cost=$2 WHERE id=$1`, skuID, cost)
	return err
}

// Repository serves SKU reads outside of pipeline transactions.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads one SKU.
func (r *Repository) Get(ctx context.Context, skuID int64) (SKU, error) {
	var sku SKU
	err := r.pool.QueryRow(ctx, `SELECT id, code, title, kind, last_unit_cost FROM skus WHERE id=$1`, skuID).
		Scan(&sku.ID, &sku.Code, &sku.Title, &sku.Kind, &sku.LastUnitCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SKU{}, ErrSKUNotFound
		}
		return SKU{}, err
	}
	return sku, nil
}
