package sales

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
)

// Status is the sale lifecycle state.
type Status string

const (
	// StatusIssued means the stock movements of this sale are posted.
	StatusIssued Status = "ISSUED"
	// StatusCancelled is terminal; the sale's stock has been re-credited.
	StatusCancelled Status = "CANCELLED"
)

// Sale is an issue document towards a school. Amounts are billed on the
// requested quantity, not the issued one: a shortage is a fulfillment
// problem reported separately, not a pricing adjustment.
type Sale struct {
	ID          int64
	Number      string
	SchoolID    int64
	Status      Status
	Note        string
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Tax         decimal.Decimal
	Total       decimal.Decimal
	Paid        decimal.Decimal
	Balance     decimal.Decimal
	IssuedAt    time.Time
	CancelledAt *time.Time
	CancelledBy int64
	CreatedBy   int64
}

// Line is one sold SKU. For BOOK lines IssuedQty and ShortQty record the
// allocation outcome; MATERIAL lines are untracked and always fully issued.
type Line struct {
	ID           int64
	SaleID       int64
	SKUID        int64
	Kind         catalog.Kind
	RequestedQty int64
	IssuedQty    int64
	ShortQty     int64
	UnitPrice    decimal.Decimal
	Amount       decimal.Decimal
}

// Shortage reports the unallocated part of one line to the caller. It is
// transient; the durable trace lives on the line's quantity columns.
type Shortage struct {
	SKUID     int64
	Requested int64
	Allocated int64
	Short     int64
}
