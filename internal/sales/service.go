package sales

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
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

// ShortagePublisher hands a shortage report to the background digest. The
// publish happens after commit and never fails the sale.
type ShortagePublisher interface {
	PublishShortages(ctx context.Context, saleID int64, shortages []Shortage) error
}

// Service orchestrates the sale and sale-cancellation pipelines.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	cache       CacheInvalidator
	shortages   ShortagePublisher
}

// NewService constructs the sales service. audit, idem, cache and shortages
// may be nil.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, cache CacheInvalidator, shortages ShortagePublisher) *Service {
	return &Service{repo: repo, audit: audit, idempotency: idem, cache: cache, shortages: shortages}
}

// LineInput describes one requested SKU.
type LineInput struct {
	SKUID     int64
	Qty       int64
	UnitPrice decimal.Decimal
}

// CreateInput describes a new sale.
type CreateInput struct {
	Number   string
	SchoolID int64
	Note     string
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Paid     decimal.Decimal
	IssuedAt time.Time
	Lines    []LineInput
	ActorID  int64
	// ClientKey is an optional caller-supplied idempotency token.
	ClientKey string
}

// Create issues a sale in one transaction: book lines are allocated FIFO
// against locked batches, materials bypass allocation entirely. Every line is
// billed on the requested quantity even when allocation comes up short; the
// short part is returned to the caller as a shortage report.
func (s *Service) Create(ctx context.Context, input CreateInput) (Sale, []Shortage, error) {
	if input.SchoolID == 0 {
		return Sale{}, nil, fmt.Errorf("sales: school required: %w", shared.ErrValidation)
	}
	if len(input.Lines) == 0 {
		return Sale{}, nil, fmt.Errorf("sales: at least one line required: %w", shared.ErrValidation)
	}
	for _, line := range input.Lines {
		if line.SKUID == 0 {
			return Sale{}, nil, fmt.Errorf("sales: line sku required: %w", shared.ErrValidation)
		}
		if line.Qty <= 0 {
			return Sale{}, nil, fmt.Errorf("sales: line quantity must be positive: %w", shared.ErrValidation)
		}
		if line.UnitPrice.IsNegative() {
			return Sale{}, nil, fmt.Errorf("sales: unit price must not be negative: %w", shared.ErrValidation)
		}
	}
	if input.Number == "" {
		input.Number = generateNumber("SAL")
	}

	inserted := false
	var key string
	if s.idempotency != nil && input.ClientKey != "" {
		key = uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("SALE:CREATE:%s", input.ClientKey))).String()
		if err := s.idempotency.CheckAndInsert(ctx, key, "sales.create"); err != nil {
			return Sale{}, nil, err
		}
		inserted = true
	}

	sale := Sale{
		Number:    input.Number,
		SchoolID:  input.SchoolID,
		Status:    StatusIssued,
		Note:      input.Note,
		Discount:  input.Discount,
		Tax:       input.Tax,
		IssuedAt:  defaultTime(input.IssuedAt),
		CreatedBy: input.ActorID,
	}
	var shortages []Shortage
	var skuIDs []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := time.Now().UTC()
		lines := make([]Line, 0, len(input.Lines))
		subtotal := decimal.Zero
		for _, in := range input.Lines {
			sku, err := tx.Catalog().Get(ctx, in.SKUID)
			if err != nil {
				if errors.Is(err, catalog.ErrSKUNotFound) {
					return fmt.Errorf("sales: sku %d: %w", in.SKUID, shared.ErrNotFound)
				}
				return err
			}
			amount := in.UnitPrice.Mul(decimal.NewFromInt(in.Qty)).Round(2)
			lines = append(lines, Line{
				SKUID:        in.SKUID,
				Kind:         sku.Kind,
				RequestedQty: in.Qty,
				IssuedQty:    in.Qty,
				UnitPrice:    in.UnitPrice,
				Amount:       amount,
			})
			subtotal = subtotal.Add(amount)
		}
		sale.Subtotal = subtotal
		sale.Total = subtotal.Sub(sale.Discount).Add(sale.Tax).Round(2)
		if sale.Total.IsNegative() {
			return fmt.Errorf("sales: total %s is negative: %w", sale.Total, shared.ErrValidation)
		}
		sale.Paid = clampPaid(input.Paid, sale.Total)
		sale.Balance = sale.Total.Sub(sale.Paid)

		// The header goes in first so the stock movements can reference the
		// sale id.
		id, err := tx.InsertSale(ctx, sale)
		if err != nil {
			return err
		}
		sale.ID = id
		for i := range lines {
			lines[i].SaleID = id
			if lines[i].Kind == catalog.KindBook {
				issued, short, err := s.allocate(ctx, tx, lines[i], sale, now, input.ActorID)
				if err != nil {
					return err
				}
				lines[i].IssuedQty = issued
				lines[i].ShortQty = short
				if short > 0 {
					shortages = append(shortages, Shortage{
						SKUID:     lines[i].SKUID,
						Requested: lines[i].RequestedQty,
						Allocated: issued,
						Short:     short,
					})
				}
				skuIDs = append(skuIDs, lines[i].SKUID)
			}
			lineID, err := tx.InsertLine(ctx, lines[i])
			if err != nil {
				return err
			}
			lines[i].ID = lineID
		}
		return nil
	})
	if err != nil {
		if inserted {
			_ = s.idempotency.Delete(ctx, key)
		}
		return Sale{}, nil, err
	}
	if s.cache != nil {
		s.cache.InvalidateOnHand(ctx, skuIDs...)
	}
	if s.shortages != nil && len(shortages) > 0 {
		_ = s.shortages.PublishShortages(ctx, sale.ID, shortages)
	}
	s.recordAudit(ctx, input.ActorID, "SALE_CREATE", sale.ID, map[string]any{
		"number": sale.Number, "short_lines": len(shortages),
	})
	return sale, shortages, nil
}

// allocate issues one book line from the oldest batches, writing a movement
// per touched batch. The batch snapshot is locked, so the pure allocation
// result cannot be invalidated before the debits land.
func (s *Service) allocate(ctx context.Context, tx TxRepository, line Line, sale Sale, now time.Time, actorID int64) (issued, short int64, err error) {
	batches, err := tx.Stock().ListBatchesForAllocation(ctx, line.SKUID)
	if err != nil {
		return 0, 0, err
	}
	allocations, remaining := stock.Allocate(line.RequestedQty, batches)
	for _, alloc := range allocations {
		if err := tx.Stock().AddToBatchAvailable(ctx, alloc.BatchID, -alloc.Qty); err != nil {
			return 0, 0, err
		}
		if _, err := tx.Stock().InsertMovement(ctx, stock.Movement{
			Type:      stock.MovementOut,
			SKUID:     line.SKUID,
			BatchID:   alloc.BatchID,
			Qty:       alloc.Qty,
			Ref:       stock.Ref{Kind: stock.RefSale, ID: sale.ID},
			Note:      fmt.Sprintf("sale %s", sale.Number),
			PostedAt:  now,
			CreatedBy: actorID,
		}); err != nil {
			return 0, 0, err
		}
	}
	return line.RequestedQty - remaining, remaining, nil
}

// Cancel re-credits every batch the sale drew from and records compensating
// movements. A cancelled sale cannot be cancelled again; that would credit
// the stock twice.
func (s *Service) Cancel(ctx context.Context, id int64, actorID int64) error {
	var skuIDs []int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, lines, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sale.Status == StatusCancelled {
			return fmt.Errorf("sales: sale %s is already cancelled: %w", sale.Number, shared.ErrInvalidTransition)
		}
		now := time.Now().UTC()
		sums, err := tx.Stock().SumOutByRef(ctx, stock.Ref{Kind: stock.RefSale, ID: id})
		if err != nil {
			return err
		}
		for _, line := range lines {
			if line.Kind == catalog.KindBook {
				skuIDs = append(skuIDs, line.SKUID)
			}
		}
		for _, sum := range sums {
			if sum.Qty <= 0 {
				continue
			}
			if err := tx.Stock().AddToBatchAvailable(ctx, sum.BatchID, sum.Qty); err != nil {
				return err
			}
			if _, err := tx.Stock().InsertMovement(ctx, stock.Movement{
				Type:      stock.MovementIn,
				SKUID:     sum.SKUID,
				BatchID:   sum.BatchID,
				Qty:       sum.Qty,
				Ref:       stock.Ref{Kind: stock.RefSale, ID: id},
				Note:      fmt.Sprintf("cancellation of sale %s", sale.Number),
				PostedAt:  now,
				CreatedBy: actorID,
			}); err != nil {
				return err
			}
		}
		return tx.SetCancelled(ctx, id, now, actorID)
	})
	if err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.InvalidateOnHand(ctx, skuIDs...)
	}
	s.recordAudit(ctx, actorID, "SALE_CANCEL", id, nil)
	return nil
}

// Get loads one sale with lines.
func (s *Service) Get(ctx context.Context, id int64) (Sale, []Line, error) {
	return s.repo.Get(ctx, id)
}

// List returns sales matching the filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	return s.repo.List(ctx, filter)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{ActorID: actorID, Action: action, Entity: "sale", EntityID: fmt.Sprintf("%d", entityID), Meta: meta})
}

func clampPaid(paid, total decimal.Decimal) decimal.Decimal {
	if paid.IsNegative() {
		return decimal.Zero
	}
	if paid.GreaterThan(total) {
		return total
	}
	return paid
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
