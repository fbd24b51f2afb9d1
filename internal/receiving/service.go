package receiving

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bookhaul-erp/bookhaul-erp/internal/ledger"
	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
)

// AuditPort abstracts audit logging.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CacheInvalidator drops cached on-hand figures after a pipeline commits.
type CacheInvalidator interface {
	InvalidateOnHand(ctx context.Context, skuIDs ...int64)
}

// Service orchestrates the receiving and reversal pipelines.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       CacheInvalidator
}

// NewService constructs the receiving service. audit, idem and cache may be
// nil.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cache CacheInvalidator) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: cache}
}

// LineInput describes one received SKU.
type LineInput struct {
	SKUID       int64
	Qty         int64
	UnitCost    decimal.Decimal
	DiscountPct decimal.Decimal
	DiscountAmt decimal.Decimal
	Specimen    bool
}

// CreateInput describes a new draft receipt.
type CreateInput struct {
	Number     string
	SupplierID int64
	OrderID    int64
	DocType    DocType
	RefNo      string
	Note       string
	ReceivedAt time.Time
	Discount   decimal.Decimal
	Shipping   decimal.Decimal
	Other      decimal.Decimal
	Rounding   decimal.Decimal
	Lines      []LineInput
	ActorID    int64
}

// Create persists a draft receipt with its lines. No stock or ledger side
// effects happen until MarkReceived.
func (s *Service) Create(ctx context.Context, input CreateInput) (Receipt, error) {
	if input.SupplierID == 0 {
		return Receipt{}, fmt.Errorf("receiving: supplier required: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Receipt{}, fmt.Errorf("receiving: at least one line required: %w", shared.ErrValidation)
	}
	if input.DocType == "" {
		input.DocType = DocTypeInvoice
	}
	if input.DocType != DocTypeInvoice && input.DocType != DocTypeChallan {
		return Receipt{}, fmt.Errorf("receiving: unknown doc type %q: %w", input.DocType, shared.ErrValidation)
	}
	if input.Number == "" {
		input.Number = generateNumber("RCV")
	}
	receipt := Receipt{
		Number:     input.Number,
		SupplierID: input.SupplierID,
		OrderID:    input.OrderID,
		DocType:    input.DocType,
		RefNo:      input.RefNo,
		Status:     StatusDraft,
		Note:       input.Note,
		ReceivedAt: defaultTime(input.ReceivedAt),
		Discount:   input.Discount,
		Shipping:   input.Shipping,
		Other:      input.Other,
		Rounding:   input.Rounding,
		CreatedBy:  input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lines, err := s.buildLines(ctx, tx, input.Lines, 0)
		if err != nil {
			return err
		}
		receipt.Subtotal, receipt.GrandTotal = ComputeTotals(receipt, lines)
		id, err := tx.InsertReceipt(ctx, receipt)
		if err != nil {
			return err
		}
		receipt.ID = id
		for _, line := range lines {
			line.ReceiptID = id
			if _, err := tx.InsertLine(ctx, line); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RECEIPT_CREATE", receipt.ID, map[string]any{"number": receipt.Number})
	return receipt, nil
}

// UpdateInput mirrors CreateInput for draft edits.
type UpdateInput struct {
	RefNo      *string
	Note       *string
	ReceivedAt *time.Time
	Discount   *decimal.Decimal
	Shipping   *decimal.Decimal
	Other      *decimal.Decimal
	Rounding   *decimal.Decimal
	Lines      *[]LineInput
	ActorID    int64
}

// Update edits a draft receipt. Money fields and lines are immutable once the
// document left draft.
func (s *Service) Update(ctx context.Context, id int64, input UpdateInput) (Receipt, error) {
	var updated Receipt
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receipt, lines, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if receipt.Status != StatusDraft {
			return fmt.Errorf("receiving: receipt %s is %s: %w", receipt.Number, receipt.Status, shared.ErrConflict)
		}
		if input.RefNo != nil {
			receipt.RefNo = *input.RefNo
		}
		if input.Note != nil {
			receipt.Note = *input.Note
		}
		if input.ReceivedAt != nil {
			receipt.ReceivedAt = *input.ReceivedAt
		}
		if input.Discount != nil {
			receipt.Discount = *input.Discount
		}
		if input.Shipping != nil {
			receipt.Shipping = *input.Shipping
		}
		if input.Other != nil {
			receipt.Other = *input.Other
		}
		if input.Rounding != nil {
			receipt.Rounding = *input.Rounding
		}
		if input.Lines != nil {
			if len(*input.Lines) == 0 {
				return fmt.Errorf("receiving: at least one line required: %w", shared.ErrValidation)
			}
			if err := tx.DeleteLines(ctx, id); err != nil {
				return err
			}
			lines, err = s.buildLines(ctx, tx, *input.Lines, id)
			if err != nil {
				return err
			}
			for _, line := range lines {
				if _, err := tx.InsertLine(ctx, line); err != nil {
					return err
				}
			}
		}
		if err := tx.UpdateHeader(ctx, receipt); err != nil {
			return err
		}
		receipt.Subtotal, receipt.GrandTotal = ComputeTotals(receipt, lines)
		if err := tx.UpdateTotals(ctx, id, receipt.Subtotal, receipt.GrandTotal); err != nil {
			return err
		}
		updated = receipt
		return nil
	})
	if err != nil {
		return Receipt{}, err
	}
	s.recordAudit(ctx, input.ActorID, "RECEIPT_UPDATE", id, map[string]any{"number": updated.Number})
	return updated, nil
}

// Delete removes a draft, unposted receipt. Anything else is a conflict.
func (s *Service) Delete(ctx context.Context, id int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receipt, _, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if receipt.Status != StatusDraft || IsPosted(receipt) {
			return fmt.Errorf("receiving: only draft receipts can be deleted: %w", shared.ErrConflict)
		}
		return tx.DeleteReceipt(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "RECEIPT_DELETE", id, nil)
	return nil
}

// MarkReceived validates the document, computes totals and applies the
// posting side effects exactly once. Calling it again on a received document
// is a no-op, which makes client retries safe.
func (s *Service) MarkReceived(ctx context.Context, id int64, actorID int64) error {
	current, _, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if _, err := Next(current.Status, EventMarkReceived); err != nil {
		return err
	}
	if current.Status == StatusReceived && IsPosted(current) {
		return nil
	}

	// The key survives on success so a concurrent duplicate surfaces as a
	// conflict instead of a second posting racing past the lock.
	key := uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("RECEIPT:POST:%d", id))).String()
	inserted := false
	if s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, "receiving.post"); err != nil {
			return err
		}
		inserted = true
	}

	var skuIDs []int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receipt, lines, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Next(receipt.Status, EventMarkReceived)
		if err != nil {
			return err
		}
		if receipt.Status == StatusReceived && IsPosted(receipt) {
			return nil
		}
		if err := validateForPosting(receipt, lines); err != nil {
			return err
		}
		for i := range lines {
			lines[i] = ComputeLineAmounts(lines[i])
			if err := tx.UpdateLineAmounts(ctx, lines[i]); err != nil {
				return err
			}
		}
		subtotal, grand := ComputeTotals(receipt, lines)
		if grand.IsNegative() {
			return fmt.Errorf("receiving: grand total %s is negative: %w", grand, shared.ErrValidation)
		}
		if err := tx.UpdateTotals(ctx, id, subtotal, grand); err != nil {
			return err
		}
		receipt.Subtotal, receipt.GrandTotal = subtotal, grand
		if err := s.postIfNotPosted(ctx, tx, receipt, lines, actorID); err != nil {
			return err
		}
		if err := tx.SetStatus(ctx, id, next); err != nil {
			return err
		}
		for _, line := range lines {
			skuIDs = append(skuIDs, line.SKUID)
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateOnHand(ctx, skuIDs...)
	}
	s.recordAudit(ctx, actorID, "RECEIPT_POST", id, map[string]any{"number": current.Number})
	return nil
}

// postIfNotPosted applies batch creation, the payable entry, fulfillment
// counters and the posting stamp, in that order. The batch existence check is
// document-level: either all batches for this receipt exist or none do, so a
// replay cannot duplicate some lines and skip others.
func (s *Service) postIfNotPosted(ctx context.Context, tx TxRepository, receipt Receipt, lines []Line, actorID int64) error {
	if IsPosted(receipt) {
		return nil
	}
	now := time.Now().UTC()
	exists, err := tx.Stock().BatchExistsForReceipt(ctx, receipt.ID)
	if err != nil {
		return err
	}
	if !exists {
		for _, line := range lines {
			unitCost := line.UnitCost
			if line.Specimen {
				unitCost = decimal.Zero
			}
			batchID, err := tx.Stock().InsertBatch(ctx, stock.Batch{
				SKUID:        line.SKUID,
				ReceiptID:    receipt.ID,
				ReceivedQty:  line.Qty,
				AvailableQty: line.Qty,
				UnitCost:     unitCost,
			})
			if err != nil {
				return err
			}
			if _, err := tx.Stock().InsertMovement(ctx, stock.Movement{
				Type:      stock.MovementIn,
				SKUID:     line.SKUID,
				BatchID:   batchID,
				Qty:       line.Qty,
				Ref:       stock.Ref{Kind: stock.RefReceipt, ID: receipt.ID},
				Note:      fmt.Sprintf("receipt %s", receipt.Number),
				PostedAt:  now,
				CreatedBy: actorID,
			}); err != nil {
				return err
			}
			if !line.Specimen {
				if err := tx.Catalog().SetLastUnitCost(ctx, line.SKUID, line.UnitCost); err != nil {
					return err
				}
			}
		}
	}
	if err := tx.Ledger().UpsertEntry(ctx, ledger.Entry{
		Key: ledger.Key{
			PartyID: receipt.SupplierID,
			Kind:    ledger.KindPayable,
			RefKind: ledger.RefReceipt,
			RefID:   receipt.ID,
		},
		Debit:     receipt.GrandTotal,
		Narration: fmt.Sprintf("receipt %s", receipt.Number),
		PostedAt:  now,
	}); err != nil {
		return err
	}
	if receipt.OrderID != 0 {
		for _, line := range lines {
			if err := tx.Orders().AddFulfilled(ctx, receipt.OrderID, line.SKUID, line.Qty); err != nil {
				return err
			}
		}
	}
	return tx.SetPosted(ctx, receipt.ID, now)
}

// Cancel transitions the document to cancelled. A received document is fully
// reversed first; the reversal is rejected outright when any of its stock has
// been consumed downstream.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) error {
	var skuIDs []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		receipt, lines, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		next, err := Next(receipt.Status, EventCancel)
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		if receipt.Status == StatusReceived {
			if err := s.reverse(ctx, tx, receipt, lines, now, actorID); err != nil {
				return err
			}
			for _, line := range lines {
				skuIDs = append(skuIDs, line.SKUID)
			}
		} else {
			// A draft may carry a stale payable from a prior posted cycle.
			if err := tx.Ledger().RemoveEntry(ctx, ledger.Key{
				PartyID: receipt.SupplierID,
				Kind:    ledger.KindPayable,
				RefKind: ledger.RefReceipt,
				RefID:   receipt.ID,
			}); err != nil {
				return err
			}
		}
		if err := tx.SetCancelled(ctx, id, now, actorID); err != nil {
			return err
		}
		return tx.SetStatus(ctx, id, next)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateOnHand(ctx, skuIDs...)
	}
	s.recordAudit(ctx, actorID, "RECEIPT_CANCEL", id, nil)
	return nil
}

// reverse undoes every posting side effect of a received document. The
// consumption check runs over all batches before any write so the reversal is
// all-or-nothing.
func (s *Service) reverse(ctx context.Context, tx TxRepository, receipt Receipt, lines []Line, now time.Time, actorID int64) error {
	batches, err := tx.Stock().ListBatchesByReceiptForUpdate(ctx, receipt.ID)
	if err != nil {
		return err
	}
	for _, batch := range batches {
		if batch.AvailableQty < batch.ReceivedQty {
			return fmt.Errorf("receiving: batch %d has %d of %d units left: %w",
				batch.ID, batch.AvailableQty, batch.ReceivedQty, shared.ErrStockConsumed)
		}
	}
	for _, batch := range batches {
		if batch.ReceivedQty == 0 {
			continue
		}
		if _, err := tx.Stock().InsertMovement(ctx, stock.Movement{
			Type:      stock.MovementOut,
			SKUID:     batch.SKUID,
			BatchID:   batch.ID,
			Qty:       batch.ReceivedQty,
			Ref:       stock.Ref{Kind: stock.RefReceipt, ID: receipt.ID},
			Note:      fmt.Sprintf("reversal of receipt %s", receipt.Number),
			PostedAt:  now,
			CreatedBy: actorID,
		}); err != nil {
			return err
		}
		if err := tx.Stock().ZeroBatch(ctx, batch.ID); err != nil {
			return err
		}
	}
	if err := tx.Ledger().RemoveEntry(ctx, ledger.Key{
		PartyID: receipt.SupplierID,
		Kind:    ledger.KindPayable,
		RefKind: ledger.RefReceipt,
		RefID:   receipt.ID,
	}); err != nil {
		return err
	}
	if receipt.OrderID != 0 {
		for _, line := range lines {
			if err := tx.Orders().AddFulfilled(ctx, receipt.OrderID, line.SKUID, -line.Qty); err != nil {
				return err
			}
		}
	}
	return tx.ClearPosted(ctx, receipt.ID)
}

// Get loads one receipt with lines.
func (s *Service) Get(ctx context.Context, id int64) (Receipt, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List returns receipts matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Receipt, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) buildLines(ctx context.Context, tx TxRepository, inputs []LineInput, receiptID int64) ([]Line, error) {
	lines := make([]Line, 0, len(inputs))
	for _, input := range inputs {
		if input.SKUID == 0 {
			return nil, fmt.Errorf("receiving: line sku required: %w", shared.ErrValidation)
		}
		if input.Qty <= 0 {
			return nil, fmt.Errorf("receiving: line quantity must be positive: %w", shared.ErrValidation)
		}
		if input.UnitCost.IsNegative() {
			return nil, fmt.Errorf("receiving: unit cost must not be negative: %w", shared.ErrValidation)
		}
		exists, err := tx.Catalog().Exists(ctx, input.SKUID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("receiving: sku %d: %w", input.SKUID, shared.ErrNotFound)
		}
		line := Line{
			ReceiptID:   receiptID,
			SKUID:       input.SKUID,
			Qty:         input.Qty,
			UnitCost:    input.UnitCost,
			DiscountPct: input.DiscountPct,
			DiscountAmt: input.DiscountAmt,
			Specimen:    input.Specimen,
		}
		lines = append(lines, ComputeLineAmounts(line))
	}
	return lines, nil
}

// validateForPosting enforces the preconditions for entering RECEIVED.
func validateForPosting(receipt Receipt, lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("receiving: receipt %s has no lines: %w", receipt.Number, shared.ErrValidation)
	}
	if receipt.DocType == DocTypeInvoice && receipt.RefNo == "" {
		return fmt.Errorf("receiving: invoice receipts require a reference number: %w", shared.ErrValidation)
	}
	for _, line := range lines {
		if line.Specimen {
			continue
		}
		if !line.UnitCost.IsPositive() {
			return fmt.Errorf("receiving: sku %d has no unit price: %w", line.SKUID, shared.ErrValidation)
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "receipt", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func generateNumber(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func defaultTime(value time.Time) time.Time {
	if value.IsZero() {
		return time.Now()
	}
	return value
}
