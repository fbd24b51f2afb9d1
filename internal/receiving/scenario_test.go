package receiving

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/bookhaul-erp/bookhaul-erp/internal/catalog"
	"github.com/bookhaul-erp/bookhaul-erp/internal/sales"
	"github.com/bookhaul-erp/bookhaul-erp/internal/shared"
	"github.com/bookhaul-erp/bookhaul-erp/internal/stock"
)

// salesBridgeRepo runs the sale pipelines against the same in-memory stock
// state the receiving fakes mutate, so both pipelines see one warehouse.
type salesBridgeRepo struct {
	repo   *memoryRepo
	sales  map[int64]sales.Sale
	lines  map[int64][]sales.Line
	nextID int64
}

func newSalesBridge(repo *memoryRepo) *salesBridgeRepo {
	return &salesBridgeRepo{
		repo:  repo,
		sales: make(map[int64]sales.Sale),
		lines: make(map[int64][]sales.Line),
	}
}

func (r *salesBridgeRepo) WithTx(ctx context.Context, fn func(context.Context, sales.TxRepository) error) error {
	return fn(ctx, &salesBridgeTx{repo: r})
}

func (r *salesBridgeRepo) Get(ctx context.Context, id int64) (sales.Sale, []sales.Line, error) {
	sale, ok := r.sales[id]
	if !ok {
		return sales.Sale{}, nil, shared.ErrNotFound
	}
	return sale, append([]sales.Line(nil), r.lines[id]...), nil
}

func (r *salesBridgeRepo) List(ctx context.Context, filter sales.ListFilter) ([]sales.Sale, int, error) {
	var out []sales.Sale
	for _, sale := range r.sales {
		out = append(out, sale)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, len(out), nil
}

type salesBridgeTx struct {
	repo *salesBridgeRepo
}

func (tx *salesBridgeTx) InsertSale(ctx context.Context, sale sales.Sale) (int64, error) {
	tx.repo.nextID++
	sale.ID = tx.repo.nextID
	tx.repo.sales[sale.ID] = sale
	return sale.ID, nil
}

func (tx *salesBridgeTx) InsertLine(ctx context.Context, line sales.Line) (int64, error) {
	tx.repo.nextID++
	line.ID = tx.repo.nextID
	tx.repo.lines[line.SaleID] = append(tx.repo.lines[line.SaleID], line)
	return line.ID, nil
}

func (tx *salesBridgeTx) GetForUpdate(ctx context.Context, id int64) (sales.Sale, []sales.Line, error) {
	return tx.repo.Get(ctx, id)
}

func (tx *salesBridgeTx) SetCancelled(ctx context.Context, id int64, at time.Time, actorID int64) error {
	sale := tx.repo.sales[id]
	sale.Status = sales.StatusCancelled
	sale.CancelledAt = &at
	sale.CancelledBy = actorID
	tx.repo.sales[id] = sale
	return nil
}

func (tx *salesBridgeTx) Stock() stock.TxStore     { return &fakeStock{repo: tx.repo.repo} }
func (tx *salesBridgeTx) Catalog() catalog.TxStore { return &fakeCatalog{repo: tx.repo.repo} }

// The full receive, sell, attempt-reversal, cancel-sale round trip over one
// shared warehouse state.
func TestReceiveSellReverseRoundTrip(t *testing.T) {
	repo := newMemoryRepo()
	repo.addSKU(1, catalog.KindBook)
	receivingSvc := NewService(repo, nil, nil, nil)
	salesSvc := sales.NewService(newSalesBridge(repo), nil, nil, nil, nil)
	ctx := context.Background()

	receipt := newDraft(t, receivingSvc, repo, CreateInput{
		SupplierID: 5,
		DocType:    DocTypeInvoice,
		RefNo:      "INV-D1",
		Lines:      []LineInput{{SKUID: 1, Qty: 100, UnitCost: decimal.RequireFromString("20")}},
	})
	require.NoError(t, receivingSvc.MarkReceived(ctx, receipt.ID, 1))
	require.Len(t, repo.batches, 1)
	require.Equal(t, int64(100), repo.batches[0].ReceivedQty)
	require.Equal(t, int64(100), repo.batches[0].AvailableQty)

	sale, shortages, err := salesSvc.Create(ctx, sales.CreateInput{
		SchoolID: 3,
		Lines:    []sales.LineInput{{SKUID: 1, Qty: 30, UnitPrice: decimal.RequireFromString("25")}},
	})
	require.NoError(t, err)
	require.Empty(t, shortages)
	require.True(t, sale.Total.Equal(decimal.RequireFromString("750")), sale.Total.String())
	require.Equal(t, int64(70), repo.batches[0].AvailableQty)

	// Partially consumed stock blocks the receipt reversal outright.
	err = receivingSvc.Cancel(ctx, receipt.ID, 1)
	require.ErrorIs(t, err, shared.ErrStockConsumed)
	current, _, err := receivingSvc.Get(ctx, receipt.ID)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, current.Status)
	require.True(t, IsPosted(current))
	require.Equal(t, int64(70), repo.batches[0].AvailableQty)

	// Cancelling the sale instead restores the batch in full.
	require.NoError(t, salesSvc.Cancel(ctx, sale.ID, 1))
	require.Equal(t, int64(100), repo.batches[0].AvailableQty)

	var out, in int64
	for _, m := range repo.movements {
		if (m.Ref != stock.Ref{Kind: stock.RefSale, ID: sale.ID}) {
			continue
		}
		switch m.Type {
		case stock.MovementOut:
			out += m.Qty
		case stock.MovementIn:
			in += m.Qty
		}
	}
	require.Equal(t, int64(30), out)
	require.Equal(t, int64(30), in)
}
