package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind classifies ledger entries. Only payables are written by the
// posting engine today.
type EntryKind string

// KindPayable marks a supplier payable entry.
const KindPayable EntryKind = "PAYABLE"

// RefKind tags the document an entry refers to.
type RefKind string

const (
	// RefReceipt points at a supplier receipt.
	RefReceipt RefKind = "RECEIPT"
	// RefSale points at a sale.
	RefSale RefKind = "SALE"
)

// Key identifies one logical entry. Upserts are idempotent by this key.
type Key struct {
	PartyID int64
	Kind    EntryKind
	RefKind RefKind
	RefID   int64
}

// Entry is one ledger line.
type Entry struct {
	ID        int64
	Key       Key
	Debit     decimal.Decimal
	Narration string
	PostedAt  time.Time
}
