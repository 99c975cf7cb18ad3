package costing_test

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/testing/memdb"
)

func newCachedService(t *testing.T, store *memdb.Store) (*Service, *countingRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := &countingRepository{store: store}
	service := NewService(repo, nopAudit{})
	service.WithCache(NewCache(client, time.Minute))
	return service, repo
}

type countingRepository struct {
	store *memdb.Store
	calls int
}

func (r *countingRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.calls++
	return fn(ctx, r.store)
}

func TestAvailabilityCachesUntilBump(t *testing.T) {
	store := memdb.NewStore()
	store.SeedItem(Item{ID: 1, SKU: "RM-1", Class: ClassRawMaterial, Valuation: ValuationFIFO, AssetAccountCode: "1300"})
	seedLayer(store, 1, "B1", 40, 100, day(1))
	service, repo := newCachedService(t, store)
	ctx := context.Background()

	total, err := service.Availability(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
	assert.Equal(t, 1, repo.calls)

	// Second read is served from Redis.
	total, err = service.Availability(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(40), total)
	assert.Equal(t, 1, repo.calls)

	// A new layer bumps the version; the next read reloads.
	_, err = service.CreateLayer(ctx, 1, CreateLayerInput{ItemID: 1, BatchNumber: "B2", Qty: 10, UnitCost: 100, ReceiveDate: day(2)})
	require.NoError(t, err)

	total, err = service.Availability(ctx, 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)
}

func TestCurrentCostCachesPerItem(t *testing.T) {
	store := memdb.NewStore()
	store.SeedItem(Item{ID: 1, SKU: "RM-1", Class: ClassRawMaterial, Valuation: ValuationFIFO, AssetAccountCode: "1300"})
	store.SeedItem(Item{ID: 2, SKU: "RM-2", Class: ClassRawMaterial, Valuation: ValuationFIFO, AssetAccountCode: "1300"})
	seedLayer(store, 1, "B1", 40, 100, day(1))
	seedLayer(store, 2, "B2", 40, 250, day(1))
	service, repo := newCachedService(t, store)
	ctx := context.Background()

	cost, err := service.CurrentCost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cost)

	// Item 2 misses on its own key.
	cost, err = service.CurrentCost(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(250), cost)
	assert.Equal(t, 2, repo.calls)

	cost, err = service.CurrentCost(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(100), cost)
	assert.Equal(t, 2, repo.calls)
}

func TestCacheNilClientPassThrough(t *testing.T) {
	store := memdb.NewStore()
	store.SeedItem(Item{ID: 1, SKU: "RM-1", Class: ClassRawMaterial, Valuation: ValuationFIFO, AssetAccountCode: "1300"})
	seedLayer(store, 1, "B1", 15, 100, day(1))
	repo := &countingRepository{store: store}
	service := NewService(repo, nopAudit{})

	total, err := service.Availability(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)

	total, err = service.Availability(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, int64(15), total)
	assert.Equal(t, 2, repo.calls, "no cache attached, every read hits the store")
}
