package ledger

import (
	"context"
	"fmt"
	"time"
)

// TxRepository exposes row-level ledger operations bound to one transaction.
// Pipelines embed this interface in their own TxRepository so journal lines,
// balance updates, and document rows commit atomically.
type TxRepository interface {
	LockDate(ctx context.Context) (time.Time, error)
	SetLockDate(ctx context.Context, date time.Time) error
	InsertEntry(ctx context.Context, entry Entry) (int64, error)
	InsertLines(ctx context.Context, entryID int64, lines []LineInput) error
	DeleteLines(ctx context.Context, entryID int64) error
	EntryWithLines(ctx context.Context, id int64) (Entry, error)
	UpdateEntryHeader(ctx context.Context, id int64, date time.Time, description string, posted bool) error
	AccountByCode(ctx context.Context, code string) (Account, error)
	AddAccountBalance(ctx context.Context, code string, delta int64) error
	MappedAccount(ctx context.Context, module, key string) (string, error)
	TrialBalanceTotals(ctx context.Context) (debit int64, credit int64, err error)
}

// LockReader is the subset of TxRepository the lock guard needs.
type LockReader interface {
	LockDate(ctx context.Context) (time.Time, error)
}

// EnsureMutable rejects any mutation dated on or before the period lock
// date. Every pipeline calls this before touching documents dated in the
// past, not just before GL postings.
func EnsureMutable(ctx context.Context, tx LockReader, date time.Time) error {
	lock, err := tx.LockDate(ctx)
	if err != nil {
		return err
	}
	if lock.IsZero() {
		return nil
	}
	if !date.After(lock) {
		return ErrPeriodLocked
	}
	return nil
}

// PostTx validates and persists a journal entry inside the ambient
// transaction, updating each touched account balance by its net
// debit-minus-credit within the entry.
func PostTx(ctx context.Context, tx TxRepository, in PostInput) (Entry, error) {
	if err := in.Validate(); err != nil {
		return Entry{}, err
	}
	if err := EnsureMutable(ctx, tx, in.Date); err != nil {
		return Entry{}, err
	}
	deltas := map[string]int64{}
	order := make([]string, 0, len(in.Lines))
	for _, line := range in.Lines {
		if _, err := tx.AccountByCode(ctx, line.AccountCode); err != nil {
			return Entry{}, fmt.Errorf("%w: %s", ErrAccountNotFound, line.AccountCode)
		}
		if _, seen := deltas[line.AccountCode]; !seen {
			order = append(order, line.AccountCode)
		}
		deltas[line.AccountCode] += line.Debit - line.Credit
	}
	entryType := in.Type
	if entryType == "" {
		entryType = EntryTypeTransaction
	}
	entry := Entry{
		Date:          in.Date,
		Description:   in.Description,
		Reference:     in.Reference,
		CorrelationID: in.CorrelationID,
		Posted:        true,
		Type:          entryType,
	}
	id, err := tx.InsertEntry(ctx, entry)
	if err != nil {
		return Entry{}, err
	}
	entry.ID = id
	if err := tx.InsertLines(ctx, id, in.Lines); err != nil {
		return Entry{}, err
	}
	for _, code := range order {
		if err := tx.AddAccountBalance(ctx, code, deltas[code]); err != nil {
			return Entry{}, err
		}
	}
	entry.Lines = toLines(id, in.Lines)
	return entry, nil
}

// ReverseTx posts the balanced mirror of an existing entry dated at
// effectiveDate. The original row is untouched; the correction is an
// additional visible event.
func ReverseTx(ctx context.Context, tx TxRepository, entryID int64, effectiveDate time.Time, actorID int64) (Entry, error) {
	original, err := tx.EntryWithLines(ctx, entryID)
	if err != nil {
		return Entry{}, err
	}
	if !original.Posted {
		return Entry{}, ErrEntryNotPosted
	}
	return PostTx(ctx, tx, PostInput{
		ActorID:       actorID,
		Date:          effectiveDate,
		Description:   "Reversal: " + original.Description,
		Reference:     original.Reference,
		CorrelationID: reversalCorrelation(original.CorrelationID),
		Type:          EntryTypeReversal,
		Lines:         swapLines(original.Lines),
	})
}

func swapLines(lines []Line) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountCode: line.AccountCode,
			Debit:       line.Credit,
			Credit:      line.Debit,
			Description: line.Description,
		})
	}
	return out
}

func reversalCorrelation(id string) string {
	if id == "" {
		return ""
	}
	return id + "-reversal"
}

func toLines(entryID int64, inputs []LineInput) []Line {
	out := make([]Line, 0, len(inputs))
	for _, in := range inputs {
		out = append(out, Line{
			EntryID:     entryID,
			AccountCode: in.AccountCode,
			Debit:       in.Debit,
			Credit:      in.Credit,
			Description: in.Description,
		})
	}
	return out
}
