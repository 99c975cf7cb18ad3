package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

type fakeContracts struct {
	mu        sync.Mutex
	contracts []RefillContract
	advanced  map[int64]time.Time
}

func (f *fakeContracts) DueContracts(ctx context.Context, asOf time.Time) ([]RefillContract, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []RefillContract
	for _, c := range f.contracts {
		if !c.NextDue.After(asOf) {
			due = append(due, c)
		}
	}
	return due, nil
}

func (f *fakeContracts) Advance(ctx context.Context, contractID int64, nextDue time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.advanced == nil {
		f.advanced = map[int64]time.Time{}
	}
	f.advanced[contractID] = nextDue
	for i := range f.contracts {
		if f.contracts[i].ID == contractID {
			f.contracts[i].Cycle++
			f.contracts[i].NextDue = nextDue
		}
	}
	return nil
}

type fakePoster struct {
	mu      sync.Mutex
	posted  []sales.CreateInvoiceInput
	failFor map[int64]error
}

func (f *fakePoster) CreateInvoice(ctx context.Context, input sales.CreateInvoiceInput) (sales.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(input.Lines) == 1 {
		if err, ok := f.failFor[input.Lines[0].ItemID]; ok {
			return sales.Invoice{}, err
		}
	}
	f.posted = append(f.posted, input)
	return sales.Invoice{ID: int64(len(f.posted)), Number: input.Number, Posted: true}, nil
}

type fakeGuard struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (f *fakeGuard) CheckAndInsert(ctx context.Context, key, module string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys == nil {
		f.keys = map[string]bool{}
	}
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeGuard) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func refillDay(d int) time.Time {
	return time.Date(2026, 7, d, 0, 0, 0, 0, time.UTC)
}

func TestRefillRunPostsDueContracts(t *testing.T) {
	contracts := &fakeContracts{contracts: []RefillContract{
		{ID: 1, CustomerID: 10, ItemID: 5, Qty: 20, UnitPrice: 500, Warehouse: "MAIN", IntervalDays: 30, NextDue: refillDay(1), Cycle: 0},
		{ID: 2, CustomerID: 11, ItemID: 6, Qty: 5, UnitPrice: 900, Warehouse: "MAIN", IntervalDays: 7, NextDue: refillDay(20), Cycle: 3},
	}}
	poster := &fakePoster{}
	guard := &fakeGuard{}
	processor := NewRefillProcessor(discardLogger(), contracts, poster, guard)

	require.NoError(t, processor.Run(context.Background(), refillDay(10)))

	// Contract 2 is not due yet.
	require.Len(t, poster.posted, 1)
	assert.Equal(t, "REFILL-1-0", poster.posted[0].Number)
	assert.Equal(t, refillDay(1), poster.posted[0].Date)
	assert.Equal(t, int64(10), poster.posted[0].CustomerID)

	next, ok := contracts.advanced[1]
	require.True(t, ok)
	assert.Equal(t, refillDay(31), next)
	_, ok = contracts.advanced[2]
	assert.False(t, ok)
}

func TestRefillRunIsIdempotentAcrossScans(t *testing.T) {
	contracts := &fakeContracts{contracts: []RefillContract{
		{ID: 1, CustomerID: 10, ItemID: 5, Qty: 20, UnitPrice: 500, Warehouse: "MAIN", IntervalDays: 30, NextDue: refillDay(1), Cycle: 0},
	}}
	poster := &fakePoster{}
	guard := &fakeGuard{}
	processor := NewRefillProcessor(discardLogger(), contracts, poster, guard)
	ctx := context.Background()

	require.NoError(t, processor.Run(ctx, refillDay(10)))
	require.Len(t, poster.posted, 1)

	// Replay the same cycle: the key is taken, nothing posts again.
	contracts.contracts[0].Cycle = 0
	contracts.contracts[0].NextDue = refillDay(1)
	require.NoError(t, processor.Run(ctx, refillDay(10)))
	assert.Len(t, poster.posted, 1)
}

func TestRefillFailureReleasesKeyAndReports(t *testing.T) {
	contracts := &fakeContracts{contracts: []RefillContract{
		{ID: 1, CustomerID: 10, ItemID: 5, Qty: 20, UnitPrice: 500, Warehouse: "MAIN", IntervalDays: 30, NextDue: refillDay(1), Cycle: 0},
		{ID: 2, CustomerID: 11, ItemID: 6, Qty: 5, UnitPrice: 900, Warehouse: "MAIN", IntervalDays: 7, NextDue: refillDay(2), Cycle: 3},
	}}
	postErr := errors.New("insufficient inventory")
	poster := &fakePoster{failFor: map[int64]error{5: postErr}}
	guard := &fakeGuard{}
	processor := NewRefillProcessor(discardLogger(), contracts, poster, guard)
	ctx := context.Background()

	err := processor.Run(ctx, refillDay(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 contracts failed")

	// The healthy contract still posted and advanced.
	require.Len(t, poster.posted, 1)
	assert.Equal(t, "REFILL-2-3", poster.posted[0].Number)

	// The failed cycle's key is released so the next scan retries it.
	assert.False(t, guard.keys["REFILL-1-0"])
	_, advanced := contracts.advanced[1]
	assert.False(t, advanced)

	// Next scan before contract 2 comes due again retries only the
	// failed cycle.
	poster.failFor = nil
	require.NoError(t, processor.Run(ctx, refillDay(8)))
	assert.Len(t, poster.posted, 2)
}

func TestRefillKeyFormat(t *testing.T) {
	assert.Equal(t, "REFILL-42-7", RefillKey(42, 7))
}

func TestRefillHandlerDefaultsAsOfToNow(t *testing.T) {
	contracts := &fakeContracts{contracts: []RefillContract{
		{ID: 1, CustomerID: 10, ItemID: 5, Qty: 20, UnitPrice: 500, Warehouse: "MAIN", IntervalDays: 30, NextDue: refillDay(1), Cycle: 0},
	}}
	poster := &fakePoster{}
	processor := NewRefillProcessor(discardLogger(), contracts, poster, &fakeGuard{})
	processor.WithNow(func() time.Time { return refillDay(15) })

	task, err := NewRefillInvoicesTask(RefillInvoicesPayload{})
	require.NoError(t, err)
	handler := NewRefillInvoicesHandler(processor)
	require.NoError(t, handler(context.Background(), task))
	assert.Len(t, poster.posted, 1)
}
