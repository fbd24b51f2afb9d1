package orders

import "errors"

// OrderLine tracks ordered versus fulfilled quantity for one SKU on a
// purchase order. FulfilledQty is owned by this package alone: every change
// goes through the clamped AddFulfilled update, never through ad hoc
// read-modify-write by callers.
type OrderLine struct {
	ID           int64
	OrderID      int64
	SKUID        int64
	OrderedQty   int64
	FulfilledQty int64
}

// ErrLineNotFound indicates the order has no line for the SKU.
var ErrLineNotFound = errors.New("orders: order line not found")
