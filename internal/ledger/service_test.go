package ledger_test

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/testing/memdb"
)

type memRepository struct {
	store *memdb.Store
}

func (r *memRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, r.store)
}

type nopAudit struct {
	records []shared.AuditLog
}

func (a *nopAudit) Record(ctx context.Context, log shared.AuditLog) error {
	a.records = append(a.records, log)
	return nil
}

func newTestService() (*Service, *memdb.Store, *nopAudit) {
	store := memdb.NewStore()
	store.SeedAccount("1000", "Cash", AccountTypeAsset)
	store.SeedAccount("1100", "Accounts Receivable", AccountTypeAsset)
	store.SeedAccount("4000", "Sales", AccountTypeRevenue)
	store.SeedAccount("5000", "COGS", AccountTypeExpense)
	audit := &nopAudit{}
	service := NewService(&memRepository{store: store}, audit)
	return service, store, audit
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPostBalancedEntry(t *testing.T) {
	service, store, audit := newTestService()
	ctx := context.Background()

	entry, err := service.Post(ctx, PostInput{
		ActorID:     7,
		Date:        date(2026, 3, 10),
		Description: "Cash sale",
		Reference:   "CS-1",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 11000},
			{AccountCode: "4000", Credit: 11000},
		},
	})
	require.NoError(t, err)
	assert.True(t, entry.Posted)
	assert.Equal(t, EntryTypeTransaction, entry.Type)
	assert.Len(t, entry.Lines, 2)

	assert.Equal(t, int64(11000), store.AccountBalance("1000"))
	assert.Equal(t, int64(-11000), store.AccountBalance("4000"))

	debit, credit, err := service.TrialBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, debit, credit)

	require.Len(t, audit.records, 1)
	assert.Equal(t, "journal.post", audit.records[0].Action)
	assert.Equal(t, int64(7), audit.records[0].ActorID)
}

func TestPostRejectsUnbalanced(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	_, err := service.Post(ctx, PostInput{
		Date:        date(2026, 3, 10),
		Description: "bad",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 500},
			{AccountCode: "4000", Credit: 400},
		},
	})
	assert.ErrorIs(t, err, ErrUnbalancedEntry)
}

func TestPostRejectsSingleLine(t *testing.T) {
	service, _, _ := newTestService()
	_, err := service.Post(context.Background(), PostInput{
		Date:        date(2026, 3, 10),
		Description: "bad",
		Lines:       []LineInput{{AccountCode: "1000", Debit: 0}},
	})
	assert.ErrorIs(t, err, ErrTooFewLines)
}

func TestPostRejectsBothSidesOnOneLine(t *testing.T) {
	service, _, _ := newTestService()
	_, err := service.Post(context.Background(), PostInput{
		Date:        date(2026, 3, 10),
		Description: "bad",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 100, Credit: 100},
			{AccountCode: "4000", Credit: 0},
		},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both debit and credit")
}

func TestPostRejectsUnknownAccount(t *testing.T) {
	service, _, _ := newTestService()
	_, err := service.Post(context.Background(), PostInput{
		Date:        date(2026, 3, 10),
		Description: "bad",
		Lines: []LineInput{
			{AccountCode: "9999", Debit: 100},
			{AccountCode: "4000", Credit: 100},
		},
	})
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

// The balance invariant holds for arbitrary generated entries: whatever
// mix of accounts and amounts, either the entry posts and the trial balance
// stays equal, or it is rejected outright.
func TestPostRandomizedBalanceProperty(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	codes := []string{"1000", "1100", "4000", "5000"}

	for i := 0; i < 200; i++ {
		n := 2 + rng.Intn(4)
		lines := make([]LineInput, 0, n)
		var sum int64
		for j := 0; j < n; j++ {
			amount := int64(rng.Intn(100000))
			if rng.Intn(2) == 0 {
				lines = append(lines, LineInput{AccountCode: codes[rng.Intn(len(codes))], Debit: amount})
				sum += amount
			} else {
				lines = append(lines, LineInput{AccountCode: codes[rng.Intn(len(codes))], Credit: amount})
				sum -= amount
			}
		}
		balanced := sum == 0
		_, err := service.Post(ctx, PostInput{
			Date:        date(2026, 3, 10),
			Description: "generated",
			Lines:       lines,
		})
		if balanced {
			require.NoError(t, err)
		} else {
			require.ErrorIs(t, err, ErrUnbalancedEntry)
		}
		debit, credit, err := service.TrialBalance(ctx)
		require.NoError(t, err)
		require.Equal(t, debit, credit)
	}
}

func TestReverseSwapsDebitsAndCredits(t *testing.T) {
	service, store, _ := newTestService()
	ctx := context.Background()

	entry, err := service.Post(ctx, PostInput{
		ActorID:     1,
		Date:        date(2026, 3, 10),
		Description: "Cash sale",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 8000},
			{AccountCode: "4000", Credit: 8000},
		},
	})
	require.NoError(t, err)

	reversal, err := service.Reverse(ctx, entry.ID, date(2026, 3, 15), 1)
	require.NoError(t, err)
	assert.Equal(t, EntryTypeReversal, reversal.Type)
	assert.Equal(t, "Reversal: Cash sale", reversal.Description)
	require.Len(t, reversal.Lines, 2)
	assert.Equal(t, int64(8000), reversal.Lines[0].Credit)
	assert.Equal(t, int64(8000), reversal.Lines[1].Debit)

	// Net effect on balances is zero.
	assert.Equal(t, int64(0), store.AccountBalance("1000"))
	assert.Equal(t, int64(0), store.AccountBalance("4000"))

	// Original row is untouched.
	original, err := service.Entry(ctx, entry.ID)
	require.NoError(t, err)
	assert.True(t, original.Posted)
	assert.Equal(t, "Cash sale", original.Description)
}

func TestReverseUnpostedFails(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	entry, err := service.Post(ctx, PostInput{
		ActorID:     1,
		Date:        date(2026, 3, 10),
		Description: "to delete",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 100},
			{AccountCode: "4000", Credit: 100},
		},
	})
	require.NoError(t, err)
	require.NoError(t, service.Delete(ctx, entry.ID, 1))

	_, err = service.Reverse(ctx, entry.ID, date(2026, 3, 15), 1)
	assert.ErrorIs(t, err, ErrEntryNotPosted)
}

func TestUpdateIsBalanceNeutral(t *testing.T) {
	service, store, _ := newTestService()
	ctx := context.Background()

	entry, err := service.Post(ctx, PostInput{
		ActorID:     1,
		Date:        date(2026, 3, 10),
		Description: "original",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 5000},
			{AccountCode: "4000", Credit: 5000},
		},
	})
	require.NoError(t, err)

	updated, err := service.Update(ctx, UpdateInput{
		EntryID:     entry.ID,
		ActorID:     1,
		Date:        date(2026, 3, 12),
		Description: "corrected",
		Lines: []LineInput{
			{AccountCode: "1100", Debit: 7000},
			{AccountCode: "4000", Credit: 7000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, entry.ID, updated.ID)
	assert.Equal(t, "corrected", updated.Description)

	// Old effect gone, new effect applied.
	assert.Equal(t, int64(0), store.AccountBalance("1000"))
	assert.Equal(t, int64(7000), store.AccountBalance("1100"))
	assert.Equal(t, int64(-7000), store.AccountBalance("4000"))

	debit, credit, err := service.TrialBalance(ctx)
	require.NoError(t, err)
	assert.Equal(t, debit, credit)
}

func TestUpdateRejectsUnknownAccount(t *testing.T) {
	service, store, _ := newTestService()
	ctx := context.Background()

	entry, err := service.Post(ctx, PostInput{
		ActorID:     1,
		Date:        date(2026, 3, 10),
		Description: "original",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 5000},
			{AccountCode: "4000", Credit: 5000},
		},
	})
	require.NoError(t, err)

	_, err = service.Update(ctx, UpdateInput{
		EntryID:     entry.ID,
		ActorID:     1,
		Date:        date(2026, 3, 12),
		Description: "corrected",
		Lines: []LineInput{
			{AccountCode: "9999", Debit: 7000},
			{AccountCode: "4000", Credit: 7000},
		},
	})
	require.ErrorIs(t, err, ErrAccountNotFound)
	// Balances untouched by the failed update.
	assert.Equal(t, int64(5000), store.AccountBalance("1000"))
}

func TestDeleteSoftMarksAndNeutralises(t *testing.T) {
	service, store, _ := newTestService()
	ctx := context.Background()

	entry, err := service.Post(ctx, PostInput{
		ActorID:     1,
		Date:        date(2026, 3, 10),
		Description: "mistake",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 3000},
			{AccountCode: "4000", Credit: 3000},
		},
	})
	require.NoError(t, err)

	require.NoError(t, service.Delete(ctx, entry.ID, 1))

	deleted, err := service.Entry(ctx, entry.ID)
	require.NoError(t, err)
	assert.False(t, deleted.Posted)
	assert.Equal(t, "[DELETED] mistake", deleted.Description)
	// Lines retained for audit.
	assert.Len(t, deleted.Lines, 2)

	assert.Equal(t, int64(0), store.AccountBalance("1000"))
	assert.Equal(t, int64(0), store.AccountBalance("4000"))
}

func TestPeriodLockRejectsBackdatedPosting(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	_, err := service.Post(ctx, PostInput{
		ActorID:     1,
		Date:        date(2026, 2, 28),
		Description: "february",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 100},
			{AccountCode: "4000", Credit: 100},
		},
	})
	require.NoError(t, err)

	require.NoError(t, service.ClosePeriod(ctx, date(2026, 2, 28), 1))

	// On or before the lock date fails; after succeeds.
	_, err = service.Post(ctx, PostInput{
		ActorID:     1,
		Date:        date(2026, 2, 28),
		Description: "late",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 100},
			{AccountCode: "4000", Credit: 100},
		},
	})
	assert.ErrorIs(t, err, ErrPeriodLocked)

	_, err = service.Post(ctx, PostInput{
		ActorID:     1,
		Date:        date(2026, 3, 1),
		Description: "march",
		Lines: []LineInput{
			{AccountCode: "1000", Debit: 100},
			{AccountCode: "4000", Credit: 100},
		},
	})
	assert.NoError(t, err)
}

func TestClosePeriodLockDateOnlyAdvances(t *testing.T) {
	service, _, _ := newTestService()
	ctx := context.Background()

	require.NoError(t, service.ClosePeriod(ctx, date(2026, 2, 28), 1))
	err := service.ClosePeriod(ctx, date(2026, 1, 31), 1)
	assert.ErrorIs(t, err, ErrLockDateRegression)
	assert.NoError(t, service.ClosePeriod(ctx, date(2026, 3, 31), 1))
}

func TestClosePeriodDetectsCorruptLedger(t *testing.T) {
	service, store, _ := newTestService()
	ctx := context.Background()

	// Inject an unbalanced line set directly, simulating row-level damage.
	id, err := store.InsertEntry(ctx, Entry{Date: date(2026, 3, 1), Description: "damaged", Posted: true})
	require.NoError(t, err)
	require.NoError(t, store.InsertLines(ctx, id, []LineInput{
		{AccountCode: "1000", Debit: 999},
	}))

	err = service.ClosePeriod(ctx, date(2026, 3, 31), 1)
	assert.ErrorIs(t, err, ErrCorruptLedger)
}
