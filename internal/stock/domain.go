package stock

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIn represents an inbound movement.
	MovementIn MovementType = "IN"
	// MovementOut represents an outbound movement.
	MovementOut MovementType = "OUT"
)

// RefKind tags the business document a movement belongs to. Every consumer
// of a movement must handle both kinds explicitly.
type RefKind string

const (
	// RefReceipt points at a supplier receipt.
	RefReceipt RefKind = "RECEIPT"
	// RefSale points at a sale.
	RefSale RefKind = "SALE"
)

// Ref identifies the owning business document of a movement.
type Ref struct {
	Kind RefKind
	ID   int64
}

// Batch is one receipt's worth of stock for one SKU. ReceivedQty is immutable
// after posting except by full reversal, which zeroes both quantities and
// leaves the row for audit. AvailableQty never exceeds ReceivedQty and only
// changes together with a matching Movement.
type Batch struct {
	ID           int64
	SKUID        int64
	ReceiptID    int64
	ReceivedQty  int64
	AvailableQty int64
	UnitCost     decimal.Decimal
	CreatedAt    time.Time
}

// Movement is an immutable, append-only record of one stock movement.
// BatchID is zero for aggregate records that do not touch a single batch.
type Movement struct {
	ID        int64
	Type      MovementType
	SKUID     int64
	BatchID   int64
	Qty       int64
	Ref       Ref
	Note      string
	PostedAt  time.Time
	CreatedBy int64
}

// Allocation assigns part of a demand to one batch. The slice returned by
// Allocate is consumed within the same transaction and never persisted.
type Allocation struct {
	BatchID int64
	Qty     int64
}

// BatchQty pairs a batch with a summed movement quantity.
type BatchQty struct {
	BatchID int64
	SKUID   int64
	Qty     int64
}

// SKUQty pairs a SKU with its total available quantity.
type SKUQty struct {
	SKUID int64
	Qty   int64
}

// ErrInvalidQuantity indicates a non-positive movement quantity.
var ErrInvalidQuantity = errors.New("stock: quantity must be positive")

// ErrBatchUnderflow means an update would drive available_qty negative.
// This is an integrity violation, never clamped.
var ErrBatchUnderflow = errors.New("stock: batch available quantity would go negative")

// ErrBatchOverflow means an update would push available_qty above received_qty.
var ErrBatchOverflow = errors.New("stock: batch available quantity would exceed received")

// ErrBatchNotFound indicates a missing batch row.
var ErrBatchNotFound = errors.New("stock: batch not found")
