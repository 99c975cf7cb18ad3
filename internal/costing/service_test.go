package costing_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/testing/memdb"
)

type memRepository struct {
	store *memdb.Store
}

func (r *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r.store)
}

type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, log shared.AuditLog) error { return nil }

func day(d int) time.Time {
	return time.Date(2026, 3, d, 0, 0, 0, 0, time.UTC)
}

func seedLayer(store *memdb.Store, itemID int64, batch string, qty, unitCost int64, received time.Time) int64 {
	return store.SeedLayer(Layer{
		ItemID:       itemID,
		BatchNumber:  batch,
		InitialQty:   qty,
		RemainingQty: qty,
		UnitCost:     unitCost,
		ReceiveDate:  received,
		QC:           QCApproved,
	})
}

func TestRoundDiv(t *testing.T) {
	cases := []struct {
		num, den, want int64
	}{
		{160000, 150, 1067},
		{205000, 180, 1139},
		{6000000, 2000, 3000},
		{10, 4, 3},
		{9, 4, 2},
		{0, 5, 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RoundDiv(tc.num, tc.den), "RoundDiv(%d, %d)", tc.num, tc.den)
	}
}

func TestDepleteFIFOOrder(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()

	// Receive out of id order so only receive_date drives consumption.
	seedLayer(store, 1, "B2", 50, 200, day(5))
	seedLayer(store, 1, "B1", 100, 100, day(1))

	depletion, err := DepleteTx(ctx, store, DepleteInput{ItemID: 1, Qty: 120, Ref: "DOC-1"})
	require.NoError(t, err)
	// 100 @ 100 from the older batch, then 20 @ 200.
	assert.Equal(t, int64(100*100+20*200), depletion.Cost)
	require.Len(t, depletion.Consumptions, 2)
	assert.Equal(t, int64(100), depletion.Consumptions[0].Qty)
	assert.Equal(t, int64(100), depletion.Consumptions[0].UnitCost)
	assert.Equal(t, int64(20), depletion.Consumptions[1].Qty)

	layers := store.Layers()
	require.Len(t, layers, 2)
	b2, _ := store.Layer(1)
	assert.Equal(t, int64(30), b2.RemainingQty)
	b1, _ := store.Layer(2)
	assert.Equal(t, int64(0), b1.RemainingQty)
	assert.True(t, b1.Depleted)
}

func TestDepleteInsufficientIsAllOrNothing(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()

	seedLayer(store, 1, "B1", 40, 100, day(1))
	seedLayer(store, 1, "B2", 40, 120, day(2))

	_, err := DepleteTx(ctx, store, DepleteInput{ItemID: 1, Qty: 100, Ref: "DOC-1"})
	require.ErrorIs(t, err, ErrInsufficientInventory)

	// Nothing was consumed.
	for _, layer := range store.Layers() {
		assert.Equal(t, layer.InitialQty, layer.RemainingQty)
	}
	consumptions, err := store.ConsumptionsByRef(ctx, "DOC-1")
	require.NoError(t, err)
	assert.Empty(t, consumptions)
}

func TestDepleteSkipsPendingQC(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()

	seedLayer(store, 1, "B1", 50, 100, day(1))
	store.SeedLayer(Layer{ItemID: 1, BatchNumber: "B2", InitialQty: 50, RemainingQty: 50, UnitCost: 100, ReceiveDate: day(2), QC: QCPending})

	_, err := DepleteTx(ctx, store, DepleteInput{ItemID: 1, Qty: 80, Ref: "DOC-1"})
	assert.ErrorIs(t, err, ErrInsufficientInventory)
}

func TestCurrentCostWeightedAverage(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()
	store.SeedItem(Item{ID: 1, SKU: "RM-1", Class: ClassRawMaterial, Valuation: ValuationWeightedAvg})

	// 100 @ 1000 plus 50 @ 1200 → 160000 / 150 → 1067 (rounded half up).
	seedLayer(store, 1, "B1", 100, 1000, day(1))
	seedLayer(store, 1, "B2", 50, 1200, day(2))

	cost, err := CurrentCostTx(ctx, store, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1067), cost)

	// A third receipt moves the average: +30 @ 1500 → 205000 / 180 → 1139.
	seedLayer(store, 1, "B3", 30, 1500, day(3))
	cost, err = CurrentCostTx(ctx, store, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1139), cost)
}

func TestCurrentCostFIFOAndStandard(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()
	store.SeedItem(Item{ID: 1, SKU: "RM-1", Class: ClassRawMaterial, Valuation: ValuationFIFO})
	store.SeedItem(Item{ID: 2, SKU: "SVC-1", Class: ClassService, Valuation: ValuationStandard, StandardCost: 777})

	seedLayer(store, 1, "B1", 10, 500, day(1))
	seedLayer(store, 1, "B2", 10, 900, day(2))

	cost, err := CurrentCostTx(ctx, store, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(500), cost, "FIFO reports the oldest open layer cost")

	cost, err = CurrentCostTx(ctx, store, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(777), cost)
}

func TestCurrentCostNoLayersIsZero(t *testing.T) {
	store := memdb.NewStore()
	store.SeedItem(Item{ID: 1, SKU: "RM-1", Class: ClassRawMaterial, Valuation: ValuationFIFO})
	cost, err := CurrentCostTx(context.Background(), store, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cost)
}

func TestRestoreExactConsumption(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()

	seedLayer(store, 1, "B1", 100, 100, day(1))
	seedLayer(store, 1, "B2", 50, 200, day(2))

	_, err := DepleteTx(ctx, store, DepleteInput{ItemID: 1, Qty: 120, Ref: "DOC-1"})
	require.NoError(t, err)

	require.NoError(t, RestoreTx(ctx, store, "DOC-1"))

	// Every layer is back at its initial quantity, by layer not just total.
	for _, layer := range store.Layers() {
		assert.Equal(t, layer.InitialQty, layer.RemainingQty, "layer %s", layer.BatchNumber)
		assert.False(t, layer.Depleted)
	}
	consumptions, err := store.ConsumptionsByRef(ctx, "DOC-1")
	require.NoError(t, err)
	assert.Empty(t, consumptions, "consumption ledger cleared after restore")
}

func TestRestoreFallsBackToHeadroom(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()

	gone := seedLayer(store, 1, "B1", 30, 100, day(1))
	seedLayer(store, 1, "B2", 100, 120, day(2))

	// DOC-1 drains B1 entirely; DOC-2 leaves headroom on B2.
	_, err := DepleteTx(ctx, store, DepleteInput{ItemID: 1, Qty: 30, Ref: "DOC-1"})
	require.NoError(t, err)
	_, err = DepleteTx(ctx, store, DepleteInput{ItemID: 1, Qty: 40, Ref: "DOC-2"})
	require.NoError(t, err)

	// DOC-1's consumed layer disappears out from under its consumption
	// rows, simulating a reversed source document.
	require.NoError(t, store.DeleteLayer(ctx, gone))

	// The 30 units with no home layer relocate into B2's headroom.
	require.NoError(t, RestoreTx(ctx, store, "DOC-1"))
	survivor, ok := store.Layer(2)
	require.True(t, ok)
	assert.Equal(t, int64(90), survivor.RemainingQty)
}

func TestReverseDocumentLayers(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()

	seedLayer(store, 1, "BILL-9-1", 100, 100, day(1))
	seedLayer(store, 1, "BILL-9-2", 50, 200, day(1))
	seedLayer(store, 2, "BILL-10-1", 10, 50, day(1))

	require.NoError(t, ReverseDocumentLayersTx(ctx, store, "BILL-9-"))

	layers := store.Layers()
	require.Len(t, layers, 1)
	assert.Equal(t, "BILL-10-1", layers[0].BatchNumber)
}

func TestReverseDocumentLayersRejectsConsumed(t *testing.T) {
	store := memdb.NewStore()
	ctx := context.Background()

	seedLayer(store, 1, "BILL-9-1", 100, 100, day(1))
	_, err := DepleteTx(ctx, store, DepleteInput{ItemID: 1, Qty: 10, Ref: "INV-1"})
	require.NoError(t, err)

	err = ReverseDocumentLayersTx(ctx, store, "BILL-9-")
	assert.ErrorIs(t, err, ErrLayerConsumed)
}

func TestDepleteBatchMissingIsZero(t *testing.T) {
	store := memdb.NewStore()
	cost, err := DepleteBatchTx(context.Background(), store, "WO-1-STEP-0", 100, "WO-1-STEP-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), cost)
}

func TestCreateLayerRejectsDuplicateBatch(t *testing.T) {
	store := memdb.NewStore()
	store.SeedItem(Item{ID: 1, SKU: "RM-1", Class: ClassRawMaterial, Valuation: ValuationFIFO})
	service := NewService(&memRepository{store: store}, nopAudit{})
	ctx := context.Background()

	_, err := service.CreateLayer(ctx, 1, CreateLayerInput{ItemID: 1, BatchNumber: "B1", Qty: 10, UnitCost: 100, ReceiveDate: day(1)})
	require.NoError(t, err)
	_, err = service.CreateLayer(ctx, 1, CreateLayerInput{ItemID: 1, BatchNumber: "B1", Qty: 10, UnitCost: 100, ReceiveDate: day(2)})
	assert.ErrorIs(t, err, ErrDuplicateBatch)
}

func TestAvailabilityFiltersLocation(t *testing.T) {
	store := memdb.NewStore()
	store.SeedItem(Item{ID: 1, SKU: "RM-1", Class: ClassRawMaterial, Valuation: ValuationFIFO})
	store.SeedLayer(Layer{ItemID: 1, BatchNumber: "B1", InitialQty: 40, RemainingQty: 40, UnitCost: 100, ReceiveDate: day(1), Location: "WH-A", QC: QCApproved})
	store.SeedLayer(Layer{ItemID: 1, BatchNumber: "B2", InitialQty: 25, RemainingQty: 25, UnitCost: 100, ReceiveDate: day(2), Location: "WH-B", QC: QCApproved})

	service := NewService(&memRepository{store: store}, nopAudit{})
	ctx := context.Background()

	total, err := service.Availability(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(65), total)

	atA, err := service.Availability(ctx, 1, "WH-A")
	require.NoError(t, err)
	assert.Equal(t, int64(40), atA)
}
