package sales

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
)

type memoryRepo struct {
	sales     map[int64]Sale
	lines     map[int64][]Line
	nextID    int64
	batches   []stock.Batch
	movements []stock.Movement
	skus      map[int64]catalog.SKU
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		sales: make(map[int64]Sale),
		lines: make(map[int64][]Line),
		skus:  make(map[int64]catalog.SKU),
	}
}

func (r *memoryRepo) addSKU(id int64, kind catalog.Kind) {
	r.skus[id] = catalog.SKU{ID: id, Kind: kind}
}

func (r *memoryRepo) addBatch(skuID, receiptID, qty int64) int64 {
	r.nextID++
	r.batches = append(r.batches, stock.Batch{
		ID:           r.nextID,
		SKUID:        skuID,
		ReceiptID:    receiptID,
		ReceivedQty:  qty,
		AvailableQty: qty,
	})
	return r.nextID
}

func (r *memoryRepo) available(skuID int64) int64 {
	var total int64
	for _, b := range r.batches {
		if b.SKUID == skuID {
			total += b.AvailableQty
		}
	}
	return total
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Sale, []Line, error) {
	sale, ok := r.sales[id]
	if !ok {
		return Sale{}, nil, shared.ErrNotFound
	}
	return sale, append([]Line(nil), r.lines[id]...), nil
}

func (r *memoryRepo) List(ctx context.Context, filter ListFilter) ([]Sale, int, error) {
	var out []Sale
	for _, sale := range r.sales {
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type memoryTx struct {
	repo *memoryRepo
}

func (tx *memoryTx) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	tx.repo.nextID++
	sale.ID = tx.repo.nextID
	tx.repo.sales[sale.ID] = sale
	return sale.ID, nil
}

func (tx *memoryTx) InsertLine(ctx context.Context, line Line) (int64, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.SaleID] = append(tx.repo.lines[line.SaleID], line)
	return line.ID, nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (Sale, []Line, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *memoryTx) SetCancelled(ctx context.Context, id int64, at time.Time, actorID int64) error {
	sale := tx.repo.sales[id]
	sale.Status = StatusCancelled
	sale.CancelledAt = &at
	sale.CancelledBy = actorID
	tx.repo.sales[id] = sale
	return nil
}

func (tx *memoryTx) Stock() stock.TxStore     { return &fakeStock{repo: tx.repo} }
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
	return nil, nil
}

func (s *fakeStock) BatchExistsForReceipt(ctx context.Context, receiptID int64) (bool, error) {
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
	return nil
}

func TestCreateAllocatesOldestBatchesFirst(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	first := repo.addBatch(1, 10, 30)
	second := repo.addBatch(1, 11, 40)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	sale, shortages, err := svc.Create(ctx, CreateInput{
		SchoolID: 3,
		Lines:    []LineInput{{SKUID: 1, Qty: 50, UnitPrice: decimal.RequireFromString("100")}},
	})
	require.NoError(t, err)
	require.Empty(t, shortages)

	_, lines, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	require.Equal(t, int64(50), lines[0].IssuedQty)
	require.Zero(t, lines[0].ShortQty)

	// Oldest batch drained completely before the next one is touched.
	require.Zero(t, repo.batches[0].AvailableQty)
	require.Equal(t, int64(20), repo.batches[1].AvailableQty)
	require.Len(t, repo.movements, 2)
	require.Equal(t, first, repo.movements[0].BatchID)
	require.Equal(t, int64(30), repo.movements[0].Qty)
	require.Equal(t, second, repo.movements[1].BatchID)
	require.Equal(t, int64(20), repo.movements[1].Qty)
}

func TestCreateBillsRequestedQtyOnShortage(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	repo.addBatch(1, 10, 30)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	sale, shortages, err := svc.Create(ctx, CreateInput{
		SchoolID: 3,
		Lines:    []LineInput{{SKUID: 1, Qty: 50, UnitPrice: decimal.RequireFromString("100")}},
	})
	require.NoError(t, err)
	require.Equal(t, []Shortage{{SKUID: 1, Requested: 50, Allocated: 30, Short: 20}}, shortages)

	// Billed on the requested 50, not the 30 that could be issued.
	require.True(t, sale.Subtotal.Equal(decimal.RequireFromString("5000")), sale.Subtotal.String())
	require.True(t, sale.Total.Equal(decimal.RequireFromString("5000")))

	_, lines, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(30), lines[0].IssuedQty)
	require.Equal(t, int64(20), lines[0].ShortQty)
	require.Zero(t, repo.available(1))
}

func TestMaterialLinesBypassAllocation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(2, catalog.KindMaterial)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	sale, shortages, err := svc.Create(ctx, CreateInput{
		SchoolID: 3,
		Lines:    []LineInput{{SKUID: 2, Qty: 500, UnitPrice: decimal.RequireFromString("4")}},
	})
	require.NoError(t, err)
	require.Empty(t, shortages)
	require.Empty(t, repo.movements)

	_, lines, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(500), lines[0].IssuedQty)
	require.Zero(t, lines[0].ShortQty)
	require.True(t, sale.Total.Equal(decimal.RequireFromString("2000")))
}

func TestCreateTotalsAndPaidClamp(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(2, catalog.KindMaterial)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	sale, _, err := svc.Create(ctx, CreateInput{
		SchoolID: 3,
		Discount: decimal.RequireFromString("100"),
		Tax:      decimal.RequireFromString("50"),
		Paid:     decimal.RequireFromString("99999"),
		Lines:    []LineInput{{SKUID: 2, Qty: 10, UnitPrice: decimal.RequireFromString("100")}},
	})
	require.NoError(t, err)
	require.True(t, sale.Total.Equal(decimal.RequireFromString("950")), sale.Total.String())
	require.True(t, sale.Paid.Equal(sale.Total))
	require.True(t, sale.Balance.IsZero())
}

func TestCancelRestoresStock(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	repo.addBatch(1, 10, 30)
	repo.addBatch(1, 11, 40)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	sale, _, err := svc.Create(ctx, CreateInput{
		SchoolID: 3,
		Lines:    []LineInput{{SKUID: 1, Qty: 50, UnitPrice: decimal.RequireFromString("100")}},
	})
	require.NoError(t, err)
	require.Equal(t, int64(20), repo.available(1))

	require.NoError(t, svc.Cancel(ctx, sale.ID, 7))
	require.Equal(t, int64(70), repo.available(1))

	var ins int
	for _, m := range repo.movements {
		if m.Type == stock.MovementIn {
			ins++
			require.Equal(t, stock.Ref{Kind: stock.RefSale, ID: sale.ID}, m.Ref)
			require.Equal(t, int64(1), m.SKUID)
		}
	}
	require.Equal(t, 2, ins)

	cancelled, _, err := svc.Get(ctx, sale.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, cancelled.Status)

	// No double credit.
	require.ErrorIs(t, svc.Cancel(ctx, sale.ID, 7), shared.ErrInvalidTransition)
	require.Equal(t, int64(70), repo.available(1))
}

func TestCreateValidation(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	svc := NewService(repo, nil, nil, nil, nil)
	ctx := context.Background()

	_, _, err := svc.Create(ctx, CreateInput{Lines: []LineInput{{SKUID: 1, Qty: 1}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.Create(ctx, CreateInput{SchoolID: 3})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.Create(ctx, CreateInput{SchoolID: 3, Lines: []LineInput{{SKUID: 1, Qty: 0}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = svc.Create(ctx, CreateInput{SchoolID: 3, Lines: []LineInput{{SKUID: 99, Qty: 1}}})
	require.ErrorIs(t, err, shared.ErrNotFound)
}
