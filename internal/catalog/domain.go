package catalog

import (
	"errors"

	"github.com/shopspring/decimal"
)

// Kind distinguishes stock-tracked books from untracked materials.
type Kind string

const (
	// KindBook is physical, batch-tracked stock.
	KindBook Kind = "BOOK"
	// KindMaterial is untracked supply; issue requests are always fully met.
	KindMaterial Kind = "MATERIAL"
)

// SKU is the master record this engine reads. Only the last known unit cost
// is ever written back here.
type SKU struct {
	ID           int64
	Code         string
	Title        string
	Kind         Kind
	LastUnitCost decimal.Decimal
}

// ErrSKUNotFound indicates a missing SKU master record.
var ErrSKUNotFound = errors.New("catalog: sku not found")
