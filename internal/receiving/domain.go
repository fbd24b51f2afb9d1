package receiving

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the receipt lifecycle state. Transitions are validated centrally
// by the table in fsm.go, never re-derived by handlers.
type Status string

const (
	// StatusDraft allows edits; no stock or ledger side effects exist yet.
	StatusDraft Status = "DRAFT"
	// StatusReceived means the document's economic effects are posted.
	StatusReceived Status = "RECEIVED"
	// StatusCancelled is terminal.
	StatusCancelled Status = "CANCELLED"
)

// DocType controls which fields a receipt must carry.
type DocType string

const (
	// DocTypeInvoice requires a supplier reference number.
	DocTypeInvoice DocType = "INVOICE"
	// DocTypeChallan is a delivery note without an invoice reference.
	DocTypeChallan DocType = "CHALLAN"
)

// Receipt is a supplier receiving document. PostedAt is the posting flag: it
// is stamped exactly once per posting cycle and cleared only by full
// reversal. OrderID is zero when the receipt is not linked to a purchase
// order, which is a valid no-op path for fulfillment counters.
type Receipt struct {
	ID          int64
	Number      string
	SupplierID  int64
	OrderID     int64
	DocType     DocType
	RefNo       string
	Status      Status
	Note        string
	ReceivedAt  time.Time
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Shipping    decimal.Decimal
	Other       decimal.Decimal
	Rounding    decimal.Decimal
	GrandTotal  decimal.Decimal
	PostedAt    *time.Time
	CancelledAt *time.Time
	CancelledBy int64
	CreatedBy   int64
	CreatedAt   time.Time
}

// Line is one received SKU. Specimen lines post at zero value and bypass the
// positive-price check. Discount is percentage when DiscountPct is set,
// otherwise the fixed DiscountAmt, clamped so it never exceeds gross.
type Line struct {
	ID          int64
	ReceiptID   int64
	SKUID       int64
	Qty         int64
	UnitCost    decimal.Decimal
	DiscountPct decimal.Decimal
	DiscountAmt decimal.Decimal
	Specimen    bool
	Gross       decimal.Decimal
	Discount    decimal.Decimal
	Net         decimal.Decimal
}

// IsPosted reports whether the document's side effects have been applied.
func IsPosted(r Receipt) bool {
	return r.PostedAt != nil
}

// ComputeLineAmounts fills Gross, Discount and Net for one line.
func ComputeLineAmounts(line Line) Line {
	gross := line.UnitCost.Mul(decimal.NewFromInt(line.Qty))
	var discount decimal.Decimal
	if line.DiscountPct.IsPositive() {
		discount = gross.Mul(line.DiscountPct).Div(decimal.NewFromInt(100))
	} else {
		discount = line.DiscountAmt
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}
	if discount.GreaterThan(gross) {
		discount = gross
	}
	line.Gross = gross.Round(2)
	line.Discount = discount.Round(2)
	line.Net = gross.Sub(discount).Round(2)
	return line
}

// ComputeTotals derives subtotal and grand total from computed lines and the
// header charges. The caller rejects a negative grand total.
func ComputeTotals(r Receipt, lines []Line) (subtotal, grand decimal.Decimal) {
	for _, line := range lines {
		subtotal = subtotal.Add(line.Net)
	}
	grand = subtotal.Sub(r.Discount).Add(r.Shipping).Add(r.Other).Add(r.Rounding).Round(2)
	return subtotal.Round(2), grand
}
