package sales

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/testing/memdb"
)

type mockRepository struct {
	store *memdb.Store

	nextInvoiceID int64
	invoices      map[int64]Invoice
	invoiceLines  map[int64][]InvoiceLine
	transfers     []LocationTransfer
}

func newMockRepository() *mockRepository {
	return &mockRepository{
		store:        memdb.NewStore(),
		invoices:     map[int64]Invoice{},
		invoiceLines: map[int64][]InvoiceLine{},
	}
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &mockTx{mock: m, Store: m.store})
}

type mockTx struct {
	*memdb.Store
	mock *mockRepository
}

func (t *mockTx) InsertInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	t.mock.nextInvoiceID++
	invoice.ID = t.mock.nextInvoiceID
	t.mock.invoices[invoice.ID] = invoice
	return invoice.ID, nil
}

func (t *mockTx) InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	t.mock.invoiceLines[invoiceID] = append(t.mock.invoiceLines[invoiceID], lines...)
	return nil
}

func (t *mockTx) InvoiceWithLines(ctx context.Context, invoiceID int64) (Invoice, []InvoiceLine, error) {
	invoice, ok := t.mock.invoices[invoiceID]
	if !ok {
		return Invoice{}, nil, ErrInvoiceNotFound
	}
	return invoice, append([]InvoiceLine(nil), t.mock.invoiceLines[invoiceID]...), nil
}

func (t *mockTx) DeleteInvoiceLines(ctx context.Context, invoiceID int64) error {
	delete(t.mock.invoiceLines, invoiceID)
	return nil
}

func (t *mockTx) UpdateInvoice(ctx context.Context, invoice Invoice) error {
	if _, ok := t.mock.invoices[invoice.ID]; !ok {
		return ErrInvoiceNotFound
	}
	t.mock.invoices[invoice.ID] = invoice
	return nil
}

func (t *mockTx) InsertLocationTransfer(ctx context.Context, transfer LocationTransfer) error {
	transfer.ID = int64(len(t.mock.transfers) + 1)
	t.mock.transfers = append(t.mock.transfers, transfer)
	return nil
}

func (t *mockTx) DeleteLocationTransfers(ctx context.Context, invoiceID int64) error {
	kept := t.mock.transfers[:0]
	for _, transfer := range t.mock.transfers {
		if transfer.InvoiceID != invoiceID {
			kept = append(kept, transfer)
		}
	}
	t.mock.transfers = kept
	return nil
}

type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, log shared.AuditLog) error { return nil }

func day(d int) time.Time {
	return time.Date(2026, 5, d, 0, 0, 0, 0, time.UTC)
}

// seedFixture provisions item 7 with two FIFO layers in MAIN: 60 at cost
// 100 (older) and 60 at cost 120.
func seedFixture(repo *mockRepository) {
	repo.store.SeedAccount("1100", "Accounts Receivable", ledger.AccountTypeAsset)
	repo.store.SeedAccount("1350", "Finished Goods", ledger.AccountTypeAsset)
	repo.store.SeedAccount("2300", "Tax Payable", ledger.AccountTypeLiability)
	repo.store.SeedAccount("4000", "Sales Revenue", ledger.AccountTypeRevenue)
	repo.store.SeedAccount("4100", "Sales Discounts", ledger.AccountTypeRevenue)
	repo.store.SeedAccount("5000", "Cost of Goods Sold", ledger.AccountTypeExpense)
	repo.store.SeedMapping("SALES", "AR", "1100")
	repo.store.SeedMapping("SALES", "REVENUE", "4000")
	repo.store.SeedMapping("SALES", "DISCOUNT", "4100")
	repo.store.SeedMapping("SALES", "TAX", "2300")
	repo.store.SeedMapping("SALES", "COGS", "5000")
	repo.store.SeedItem(costing.Item{ID: 7, SKU: "FG-7", Class: costing.ClassFinishedGoods, Valuation: costing.ValuationFIFO, AssetAccountCode: "1350"})
	repo.store.SeedLayer(costing.Layer{ItemID: 7, BatchNumber: "FG-A", InitialQty: 60, RemainingQty: 60, UnitCost: 100, ReceiveDate: day(1), Location: "MAIN", QC: costing.QCApproved})
	repo.store.SeedLayer(costing.Layer{ItemID: 7, BatchNumber: "FG-B", InitialQty: 60, RemainingQty: 60, UnitCost: 120, ReceiveDate: day(2), Location: "MAIN", QC: costing.QCApproved})
}

func newTestService(repo *mockRepository) *Service {
	service := NewService(repo, nopAudit{})
	service.WithNow(func() time.Time { return day(10) })
	return service
}

func TestCreateInvoicePostsRevenueAndCOGS(t *testing.T) {
	repo := newMockRepository()
	seedFixture(repo)
	service := newTestService(repo)
	ctx := context.Background()

	invoice, err := service.CreateInvoice(ctx, CreateInvoiceInput{
		ActorID:    1,
		Number:     "INV-100",
		CustomerID: 42,
		Date:       day(5),
		Warehouse:  "MAIN",
		TaxRateBps: 1000,
		Lines:      []InvoiceLineInput{{ItemID: 7, Qty: 100, UnitPrice: 500}},
	})
	require.NoError(t, err)
	assert.True(t, invoice.Posted)
	require.NotNil(t, invoice.EntryID)

	// 100 at 500 each, 10% tax.
	assert.Equal(t, int64(50000), invoice.Subtotal)
	assert.Equal(t, int64(5000), invoice.Tax)
	assert.Equal(t, int64(55000), invoice.Total)

	// FIFO drains the cheap batch first: 60*100 + 40*120.
	assert.Equal(t, int64(10800), invoice.COGS)

	assert.Equal(t, int64(55000), repo.store.AccountBalance("1100"))
	assert.Equal(t, int64(-50000), repo.store.AccountBalance("4000"))
	assert.Equal(t, int64(-5000), repo.store.AccountBalance("2300"))
	assert.Equal(t, int64(10800), repo.store.AccountBalance("5000"))
	assert.Equal(t, int64(-10800), repo.store.AccountBalance("1350"))

	layers := repo.store.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, int64(0), layers[0].RemainingQty)
	assert.True(t, layers[0].Depleted)
	assert.Equal(t, int64(20), layers[1].RemainingQty)

	// One transfer row per consumed layer.
	require.Len(t, repo.transfers, 2)
	assert.Equal(t, layers[0].ID, repo.transfers[0].LayerID)
	assert.Equal(t, int64(60), repo.transfers[0].Qty)
	assert.Equal(t, layers[1].ID, repo.transfers[1].LayerID)
	assert.Equal(t, int64(40), repo.transfers[1].Qty)
	assert.Equal(t, "MAIN", repo.transfers[0].Location)
}

func TestCreateInvoiceDiscountLeg(t *testing.T) {
	repo := newMockRepository()
	seedFixture(repo)
	service := newTestService(repo)
	ctx := context.Background()

	invoice, err := service.CreateInvoice(ctx, CreateInvoiceInput{
		ActorID:    1,
		Number:     "INV-101",
		CustomerID: 42,
		Date:       day(5),
		Warehouse:  "MAIN",
		TaxRateBps: 825,
		Lines:      []InvoiceLineInput{{ItemID: 7, Qty: 10, UnitPrice: 1000, Discount: 500}},
	})
	require.NoError(t, err)

	// Tax applies to the discounted base: 9500 * 8.25% = 783.75, rounded
	// half up to 784.
	assert.Equal(t, int64(10000), invoice.Subtotal)
	assert.Equal(t, int64(500), invoice.Discount)
	assert.Equal(t, int64(784), invoice.Tax)
	assert.Equal(t, int64(10284), invoice.Total)

	assert.Equal(t, int64(500), repo.store.AccountBalance("4100"))
	assert.Equal(t, int64(-10000), repo.store.AccountBalance("4000"))
	assert.Equal(t, int64(10284), repo.store.AccountBalance("1100"))

	entries := repo.store.Entries()
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Lines, 6)
}

func TestCreateInvoiceInsufficientStock(t *testing.T) {
	repo := newMockRepository()
	seedFixture(repo)
	service := newTestService(repo)
	ctx := context.Background()

	_, err := service.CreateInvoice(ctx, CreateInvoiceInput{
		ActorID:    1,
		Number:     "INV-102",
		CustomerID: 42,
		Date:       day(5),
		Warehouse:  "MAIN",
		Lines:      []InvoiceLineInput{{ItemID: 7, Qty: 121, UnitPrice: 500}},
	})
	require.ErrorIs(t, err, costing.ErrInsufficientInventory)

	// Nothing consumed, nothing posted.
	for _, layer := range repo.store.Layers() {
		assert.Equal(t, int64(60), layer.RemainingQty)
	}
	assert.Empty(t, repo.store.Entries())
}

func TestCreateInvoiceValidation(t *testing.T) {
	repo := newMockRepository()
	seedFixture(repo)
	service := newTestService(repo)
	ctx := context.Background()

	cases := []CreateInvoiceInput{
		{CustomerID: 42, Warehouse: "MAIN", Lines: []InvoiceLineInput{{ItemID: 7, Qty: 1, UnitPrice: 100}}},
		{CustomerID: 42, Date: day(5), Warehouse: "MAIN"},
		{CustomerID: 42, Date: day(5), Warehouse: "MAIN", Lines: []InvoiceLineInput{{ItemID: 7, Qty: 0, UnitPrice: 100}}},
		{CustomerID: 42, Date: day(5), Warehouse: "MAIN", Lines: []InvoiceLineInput{{ItemID: 7, Qty: 1, UnitPrice: 100, Discount: 101}}},
	}
	for _, input := range cases {
		_, err := service.CreateInvoice(ctx, input)
		assert.ErrorIs(t, err, ErrValidation)
	}
}

func TestUpdateInvoiceRestoresAndReposts(t *testing.T) {
	repo := newMockRepository()
	seedFixture(repo)
	service := newTestService(repo)
	ctx := context.Background()

	invoice, err := service.CreateInvoice(ctx, CreateInvoiceInput{
		ActorID:    1,
		Number:     "INV-103",
		CustomerID: 42,
		Date:       day(5),
		Warehouse:  "MAIN",
		Lines:      []InvoiceLineInput{{ItemID: 7, Qty: 100, UnitPrice: 500}},
	})
	require.NoError(t, err)

	updated, err := service.UpdateInvoice(ctx, UpdateInvoiceInput{
		ActorID:   1,
		InvoiceID: invoice.ID,
		Date:      day(6),
		Warehouse: "MAIN",
		Lines:     []InvoiceLineInput{{ItemID: 7, Qty: 30, UnitPrice: 500}},
	})
	require.NoError(t, err)

	// 30 all from the restored cheap batch.
	assert.Equal(t, int64(3000), updated.COGS)
	assert.Equal(t, int64(15000), updated.Total)

	layers := repo.store.Layers()
	require.Len(t, layers, 2)
	assert.Equal(t, int64(30), layers[0].RemainingQty)
	assert.Equal(t, int64(60), layers[1].RemainingQty)

	// Original entry, its reversal, and the reposted entry.
	entries := repo.store.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, int64(15000), repo.store.AccountBalance("1100"))
	assert.Equal(t, int64(-15000), repo.store.AccountBalance("4000"))
	assert.Equal(t, int64(3000), repo.store.AccountBalance("5000"))
	assert.Equal(t, int64(-3000), repo.store.AccountBalance("1350"))

	// Old transfer rows replaced with the new consumption.
	require.Len(t, repo.transfers, 1)
	assert.Equal(t, int64(30), repo.transfers[0].Qty)
}

func TestDeleteInvoiceRestoresInventory(t *testing.T) {
	repo := newMockRepository()
	seedFixture(repo)
	service := newTestService(repo)
	ctx := context.Background()

	invoice, err := service.CreateInvoice(ctx, CreateInvoiceInput{
		ActorID:    1,
		Number:     "INV-104",
		CustomerID: 42,
		Date:       day(5),
		Warehouse:  "MAIN",
		TaxRateBps: 1000,
		Lines:      []InvoiceLineInput{{ItemID: 7, Qty: 100, UnitPrice: 500}},
	})
	require.NoError(t, err)

	require.NoError(t, service.DeleteInvoice(ctx, invoice.ID, 1))

	for _, layer := range repo.store.Layers() {
		assert.Equal(t, int64(60), layer.RemainingQty)
		assert.False(t, layer.Depleted)
	}
	assert.Empty(t, repo.transfers)
	assert.Zero(t, repo.store.AccountBalance("1100"))
	assert.Zero(t, repo.store.AccountBalance("4000"))
	assert.Zero(t, repo.store.AccountBalance("2300"))
	assert.Zero(t, repo.store.AccountBalance("5000"))
	assert.Zero(t, repo.store.AccountBalance("1350"))

	stored := repo.invoices[invoice.ID]
	assert.True(t, stored.Deleted)
	assert.False(t, stored.Posted)

	// A deleted invoice is terminal.
	assert.ErrorIs(t, service.DeleteInvoice(ctx, invoice.ID, 1), ErrInvalidState)
}

func TestDeleteInvoiceNotFound(t *testing.T) {
	repo := newMockRepository()
	seedFixture(repo)
	service := newTestService(repo)

	assert.ErrorIs(t, service.DeleteInvoice(context.Background(), 999, 1), ErrInvoiceNotFound)
}
