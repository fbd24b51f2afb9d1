package receiving

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
	"github.com/bookhaul-erp/bookhaul-erp/internal/ledger"
	"github.com/bookhaul-erp/bookhaul-erp/internal/orders"
	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
)

type memoryRepo struct {
	receipts map[int64]Receipt
	lines    map[int64][]Line
	nextID   int64

	batches      []stock.Batch
	movements    []stock.Movement
	entries      map[ledger.Key]ledger.Entry
	orderLines   map[[2]int64]*orderLine
	skus         map[int64]catalog.SKU
	lastUnitCost map[int64]decimal.Decimal
}

type orderLine struct {
	ordered   int64
	fulfilled int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		receipts:     make(map[int64]Receipt),
		lines:        make(map[int64][]Line),
		entries:      make(map[ledger.Key]ledger.Entry),
		orderLines:   make(map[[2]int64]*orderLine),
		skus:         make(map[int64]catalog.SKU),
		lastUnitCost: make(map[int64]decimal.Decimal),
	}
}

func (r *memoryRepo) addSKU(id int64, kind catalog.Kind) {
	r.skus[id] = catalog.SKU{ID: id, Kind: kind}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Receipt, []Line, error) {
	receipt, ok := r.receipts[id]
	if !ok {
		return Receipt{}, nil, shared.ErrNotFound
	}
	return receipt, append([]Line(nil), r.lines[id]...), nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Receipt, int, error) {
	var out []Receipt
	for _, receipt := range r.receipts {
		out = append(out, receipt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) InsertReceipt(ctx context.Context, r Receipt) (int64, error) {
	tx.repo.nextID++
	r.ID = tx.repo.nextID
	tx.repo.receipts[r.ID] = r
	return r.ID, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line Line) (int64, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.ReceiptID] = append(tx.repo.lines[line.ReceiptID], line)
	return line.ID, nil
}

func (tx *memoryTx) DeleteLines(ctx context.Context, receiptID int64) error {
	delete(tx.repo.lines, receiptID)
	return nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Receipt, []Line, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) UpdateHeader(ctx context.Context, r Receipt) error {
	tx.repo.receipts[r.ID] = r
	return nil
}

func (tx *memoryTx) UpdateLineAmounts(ctx context.Context, line Line) error {
	lines := tx.repo.lines[line.ReceiptID]
	for i := range lines {
		if lines[i].ID == line.ID {
			lines[i] = line
		}
	}
	return nil
}

func (tx *memoryTx) UpdateTotals(ctx context.Context, id int64, subtotal, grand decimal.Decimal) error {
	r := tx.repo.receipts[id]
	r.Subtotal, r.GrandTotal = subtotal, grand
	tx.repo.receipts[id] = r
	return nil
}

func (tx *memoryTx) SetStatus(ctx context.Context, id int64, status Status) error {
	r := tx.repo.receipts[id]
	r.Status = status
	tx.repo.receipts[id] = r
	return nil
}

func (tx *memoryTx) SetPosted(ctx context.Context, id int64, at time.Time) error {
	r := tx.repo.receipts[id]
	r.PostedAt = &at
	tx.repo.receipts[id] = r
	return nil
}

func (tx *memoryTx) ClearPosted(ctx context.Context, id int64) error {
	r := tx.repo.receipts[id]
	r.PostedAt = nil
	tx.repo.receipts[id] = r
	return nil
}

func (tx *memoryTx) SetCancelled(ctx context.Context, id int64, at time.Time, actorID int64) error {
	r := tx.repo.receipts[id]
	r.CancelledAt = &at
	r.CancelledBy = actorID
	tx.repo.receipts[id] = r
	return nil
}

func (tx *memoryTx) DeleteReceipt(ctx context.Context, id int64) error {
	delete(tx.repo.receipts, id)
	delete(tx.repo.lines, id)
	return nil
}

func (tx *memoryTx) Stock() stock.TxStore     { return &fakeStock{repo: tx.repo} }
func (tx *memoryTx) Ledger() ledger.TxStore   { return &fakeLedger{repo: tx.repo} }
func (tx *memoryTx) Orders() orders.TxStore   { return &fakeOrders{repo: tx.repo} }
func (tx *memoryTx) Catalog() catalog.TxStore { return &fakeCatalog{repo: tx.repo} }

type fakeStock struct {
	repo *memoryRepo
}

func (s *fakeStock) InsertBatch(ctx context.Context, batch stock.Batch) (int64, error) {
	s.repo.nextID++
	batch.ID = s.repo.nextID
	s.repo.batches = append(s.repo.batches, batch)
	return batch.ID, nil
}

func (s *fakeStock) ListBatchesForAllocation(ctx context.Context, skuID int64) ([]stock.Batch, error) {
	var out []stock.Batch
	for _, b := range s.repo.batches {
		if b.SKUID == skuID && b.AvailableQty > 0 {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStock) ListBatchesByReceiptForUpdate(ctx context.Context, receiptID int64) ([]stock.Batch, error) {
	var out []stock.Batch
	for _, b := range s.repo.batches {
		if b.ReceiptID == receiptID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStock) BatchExistsForReceipt(ctx context.Context, receiptID int64) (bool, error) {
	for _, b := range s.repo.batches {
		if b.ReceiptID == receiptID {
			return true, nil
		}
	}
	return false, nil
}

func (s *fakeStock) AddToBatchAvailable(ctx context.Context, batchID, delta int64) error {
	for i := range s.repo.batches {
		if s.repo.batches[i].ID != batchID {
			continue
		}
		next := s.repo.batches[i].AvailableQty + delta
		if next < 0 {
			return stock.ErrBatchUnderflow
		}
		if next > s.repo.batches[i].ReceivedQty {
			return stock.ErrBatchOverflow
		}
		s.repo.batches[i].AvailableQty = next
		return nil
	}
	return stock.ErrBatchNotFound
}

func (s *fakeStock) ZeroBatch(ctx context.Context, batchID int64) error {
	for i := range s.repo.batches {
		if s.repo.batches[i].ID == batchID {
			s.repo.batches[i].ReceivedQty = 0
			s.repo.batches[i].AvailableQty = 0
			return nil
		}
	}
	return stock.ErrBatchNotFound
}

func (s *fakeStock) InsertMovement(ctx context.Context, m stock.Movement) (int64, error) {
	if m.Qty <= 0 {
		return 0, stock.ErrInvalidQuantity
	}
	s.repo.nextID++
	m.ID = s.repo.nextID
	s.repo.movements = append(s.repo.movements, m)
	return m.ID, nil
}

func (s *fakeStock) SumOutByRef(ctx context.Context, ref stock.Ref) ([]stock.BatchQty, error) {
	sums := make(map[int64]*stock.BatchQty)
	for _, m := range s.repo.movements {
		if m.Type != stock.MovementOut || m.Ref != ref || m.BatchID == 0 {
			continue
		}
		if entry, ok := sums[m.BatchID]; ok {
			entry.Qty += m.Qty
			continue
		}
		sums[m.BatchID] = &stock.BatchQty{BatchID: m.BatchID, SKUID: m.SKUID, Qty: m.Qty}
	}
	var out []stock.BatchQty
	for _, entry := range sums {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BatchID < out[j].BatchID })
	return out, nil
}

type fakeLedger struct {
	repo *memoryRepo
}

func (l *fakeLedger) UpsertEntry(ctx context.Context, entry ledger.Entry) error {
	l.repo.entries[entry.Key] = entry
	return nil
}

func (l *fakeLedger) RemoveEntry(ctx context.Context, key ledger.Key) error {
	delete(l.repo.entries, key)
	return nil
}

type fakeOrders struct {
	repo *memoryRepo
}

func (o *fakeOrders) OrderedQty(ctx context.Context, orderID, skuID int64) (int64, error) {
	if line, ok := o.repo.orderLines[[2]int64{orderID, skuID}]; ok {
		return line.ordered, nil
	}
	return 0, nil
}

func (o *fakeOrders) AddFulfilled(ctx context.Context, orderID, skuID, delta int64) error {
	line, ok := o.repo.orderLines[[2]int64{orderID, skuID}]
	if !ok {
		return nil
	}
	next := line.fulfilled + delta
	if next < 0 {
		next = 0
	}
	if next > line.ordered {
		next = line.ordered
	}
	line.fulfilled = next
	return nil
}

type fakeCatalog struct {
	repo *memoryRepo
}

func (c *fakeCatalog) Exists(ctx context.Context, skuID int64) (bool, error) {
	_, ok := c.repo.skus[skuID]
	return ok, nil
}

func (c *fakeCatalog) Get(ctx context.Context, skuID int64) (catalog.SKU, error) {
	sku, ok := c.repo.skus[skuID]
	if !ok {
		return catalog.SKU{}, catalog.ErrSKUNotFound
	}
	return sku, nil
}

func (c *fakeCatalog) SetLastUnitCost(ctx context.Context, skuID int64, cost decimal.Decimal) error {
	c.repo.lastUnitCost[skuID] = cost
	return nil
}

func newDraft(t *testing.T, svc *Service, repo *memoryRepo, input CreateInput) Receipt {
	t.Helper()
	receipt, err := svc.Create(context.Background(), input)
	require.NoError(t, err)
	return receipt
}

func baseInput() CreateInput {
	return CreateInput{
		SupplierID: 5,
		DocType:    DocTypeInvoice,
		RefNo:      "INV-88",
		Lines: []LineInput{
			{SKUID: 1, Qty: 100, UnitCost: decimal.RequireFromString("120")},
			{SKUID: 2, Qty: 50, UnitCost: decimal.RequireFromString("80")},
		},
	}
}

func TestMarkReceivedPostsOnce(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	repo.addSKU(2, catalog.KindBook)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	receipt := newDraft(t, svc, repo, baseInput())
	require.NoError(t, svc.MarkReceived(ctx, receipt.ID, 9))

	posted, _, err := svc.Get(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, posted.Status)
	require.True(t, IsPosted(posted))
	require.Len(t, repo.batches, 2)
	require.Len(t, repo.movements, 2)
	for _, m := range repo.movements {
		require.Equal(t, stock.MovementIn, m.Type)
		require.Equal(t, stock.Ref{Kind: stock.RefReceipt, ID: receipt.ID}, m.Ref)
	}
	entry, ok := repo.entries[ledger.Key{PartyID: 5, Kind: ledger.KindPayable, RefKind: ledger.RefReceipt, RefID: receipt.ID}]
	require.True(t, ok)
	require.True(t, entry.Debit.Equal(decimal.RequireFromString("16000")), entry.Debit.String())
	require.True(t, repo.lastUnitCost[1].Equal(decimal.RequireFromString("120")))

	// The second call is a no-op, not a second posting.
	require.NoError(t, svc.MarkReceived(ctx, receipt.ID, 9))
	require.Len(t, repo.batches, 2)
	require.Len(t, repo.movements, 2)
	require.Len(t, repo.entries, 1)
}

func TestMarkReceivedInvoiceRequiresRefNo(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	svc := NewService(repo, nil, nil, nil)

	input := baseInput()
	input.RefNo = ""
	input.Lines = input.Lines[:1]
	receipt := newDraft(t, svc, repo, input)

	err := svc.MarkReceived(context.Background(), receipt.ID, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.batches)
}

func TestMarkReceivedRejectsNegativeGrandTotal(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	svc := NewService(repo, nil, nil, nil)

	input := baseInput()
	input.Lines = []LineInput{{SKUID: 1, Qty: 1, UnitCost: decimal.RequireFromString("10")}}
	input.Discount = decimal.RequireFromString("500")
	receipt := newDraft(t, svc, repo, input)

	err := svc.MarkReceived(context.Background(), receipt.ID, 0)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, repo.batches)
	require.Empty(t, repo.entries)
}

func TestSpecimenLinesPostAtZeroCost(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := baseInput()
	input.Lines = []LineInput{{SKUID: 1, Qty: 10, Specimen: true}}
	receipt := newDraft(t, svc, repo, input)

	require.NoError(t, svc.MarkReceived(ctx, receipt.ID, 0))
	require.Len(t, repo.batches, 1)
	require.True(t, repo.batches[0].UnitCost.IsZero())
	// Specimen receipts never touch the SKU's last unit cost.
	_, touched := repo.lastUnitCost[1]
	require.False(t, touched)
}

func TestCancelReceivedReversesEverything(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	repo.addSKU(2, catalog.KindBook)
	repo.orderLines[[2]int64{77, 1}] = &orderLine{ordered: 100}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := baseInput()
	input.OrderID = 77
	receipt := newDraft(t, svc, repo, input)
	require.NoError(t, svc.MarkReceived(ctx, receipt.ID, 0))
	require.Equal(t, int64(100), repo.orderLines[[2]int64{77, 1}].fulfilled)

	require.NoError(t, svc.Cancel(ctx, receipt.ID, 3))

	cancelled, _, err := svc.Get(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.False(t, IsPosted(cancelled))
	require.NotNil(t, cancelled.CancelledAt)
	require.Equal(t, int64(3), cancelled.CancelledBy)
	for _, b := range repo.batches {
		require.Zero(t, b.ReceivedQty)
		require.Zero(t, b.AvailableQty)
	}
	var outs int
	for _, m := range repo.movements {
		if m.Type == stock.MovementOut {
			outs++
		}
	}
	require.Equal(t, 2, outs)
	require.Empty(t, repo.entries)
	require.Zero(t, repo.orderLines[[2]int64{77, 1}].fulfilled)
}

func TestCancelRejectedWhenStockConsumed(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := baseInput()
	input.Lines = input.Lines[:1]
	receipt := newDraft(t, svc, repo, input)
	require.NoError(t, svc.MarkReceived(ctx, receipt.ID, 0))

	// Downstream consumption of a single unit blocks the whole reversal.
	repo.batches[0].AvailableQty--

	err := svc.Cancel(ctx, receipt.ID, 0)
	require.ErrorIs(t, err, shared.ErrStockConsumed)

	current, _, err := svc.Get(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, current.Status)
	require.True(t, IsPosted(current))
	require.Len(t, repo.entries, 1)
}

func TestCancelDraftHasNoStockEffects(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := baseInput()
	input.Lines = input.Lines[:1]
	receipt := newDraft(t, svc, repo, input)

	require.NoError(t, svc.Cancel(ctx, receipt.ID, 0))
	cancelled, _, err := svc.Get(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Empty(t, repo.batches)
	require.Empty(t, repo.movements)

	// Terminal state: neither posting nor cancelling again is allowed.
	require.ErrorIs(t, svc.MarkReceived(ctx, receipt.ID, 0), shared.ErrInvalidTransition)
	require.ErrorIs(t, svc.Cancel(ctx, receipt.ID, 0), shared.ErrInvalidTransition)
}

func TestFulfillmentClampedAtOrderedQty(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	repo.orderLines[[2]int64{40, 1}] = &orderLine{ordered: 60}
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := baseInput()
	input.OrderID = 40
	input.Lines = []LineInput{{SKUID: 1, Qty: 100, UnitCost: decimal.RequireFromString("10")}}
	receipt := newDraft(t, svc, repo, input)

	require.NoError(t, svc.MarkReceived(ctx, receipt.ID, 0))
	require.Equal(t, int64(60), repo.orderLines[[2]int64{40, 1}].fulfilled)
}

func TestUpdateRejectedOutsideDraft(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	svc := NewService(repo, nil, nil, nil)
	ctx := context.Background()

	input := baseInput()
	input.Lines = input.Lines[:1]
	receipt := newDraft(t, svc, repo, input)
	require.NoError(t, svc.MarkReceived(ctx, receipt.ID, 0))

	note := "late edit"
	_, err := svc.Update(ctx, receipt.ID, UpdateInput{Note: &note})
	require.ErrorIs(t, err, shared.ErrConflict)

	require.ErrorIs(t, svc.Delete(ctx, receipt.ID, 0), shared.ErrConflict)
}

func TestCreateUnknownSKU(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil, nil, nil)

	_, err := svc.Create(context.Background(), baseInput())
	require.ErrorIs(t, err, shared.ErrNotFound)
}
