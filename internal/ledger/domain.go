package ledger

import (
	"errors"
	"fmt"
	"time"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "ASSET"
	AccountTypeLiability AccountType = "LIABILITY"
	AccountTypeEquity    AccountType = "EQUITY"
	AccountTypeRevenue   AccountType = "REVENUE"
	AccountTypeExpense   AccountType = "EXPENSE"
)

// EntryType distinguishes regular postings from corrections.
type EntryType string

const (
	// EntryTypeTransaction marks a regular posting.
	EntryTypeTransaction EntryType = "TRANSACTION"
	// EntryTypeReversal marks the balanced mirror of an earlier posting.
	EntryTypeReversal EntryType = "REVERSAL"
)

// Account models a chart of accounts node. Balance is cached in
// debit-minus-credit convention and maintained inside the posting
// transaction.
type Account struct {
	ID         int64
	Code       string
	Name       string
	Type       AccountType
	ParentCode *string
	Balance    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Entry captures a balanced financial event.
type Entry struct {
	ID            int64
	Date          time.Time
	Description   string
	Reference     string
	CorrelationID string
	Posted        bool
	Type          EntryType
	CreatedAt     time.Time
	UpdatedAt     time.Time
	Lines         []Line
}

// Line stores a debit or credit amount for an account. Amounts are integer
// minor currency units; a line is never both debit and credit.
type Line struct {
	ID          int64
	EntryID     int64
	AccountCode string
	Debit       int64
	Credit      int64
	Description string
}

// LineInput describes a journal line for a posting request.
type LineInput struct {
	AccountCode string
	Debit       int64
	Credit      int64
	Description string
}

// PostInput groups fields required to create a journal entry.
type PostInput struct {
	ActorID       int64
	Date          time.Time
	Description   string
	Reference     string
	CorrelationID string
	Type          EntryType
	Lines         []LineInput
}

// UpdateInput carries a reverse-and-replay correction of an entry.
type UpdateInput struct {
	EntryID     int64
	ActorID     int64
	Date        time.Time
	Description string
	Lines       []LineInput
}

var (
	// ErrUnbalancedEntry indicates sum of debits != sum of credits.
	ErrUnbalancedEntry = errors.New("ledger: journal lines must balance")
	// ErrTooFewLines indicates less than two lines.
	ErrTooFewLines = errors.New("ledger: journal requires at least two lines")
	// ErrPeriodLocked indicates the target date falls in a closed period.
	ErrPeriodLocked = errors.New("ledger: period locked")
	// ErrCorruptLedger signals a global trial balance mismatch. It is never
	// auto-repaired; it means an earlier bug broke the books.
	ErrCorruptLedger = errors.New("ledger: trial balance mismatch")
	// ErrLockDateRegression indicates a close that does not move forward.
	ErrLockDateRegression = errors.New("ledger: lock date must advance")
	// ErrEntryNotFound indicates a missing journal entry.
	ErrEntryNotFound = errors.New("ledger: journal entry not found")
	// ErrEntryNotPosted indicates the entry was already deleted or voided.
	ErrEntryNotPosted = errors.New("ledger: journal entry is not posted")
	// ErrAccountNotFound indicates a line references an unknown account.
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrMappingNotFound indicates a module account mapping is missing.
	ErrMappingNotFound = errors.New("ledger: account mapping not found")
)

// Validate ensures posting input meets minimum criteria.
func (in PostInput) Validate() error {
	if len(in.Lines) < 2 {
		return ErrTooFewLines
	}
	var debit, credit int64
	for idx, line := range in.Lines {
		if line.AccountCode == "" {
			return fmt.Errorf("ledger: line %d missing account", idx)
		}
		if line.Debit < 0 || line.Credit < 0 {
			return fmt.Errorf("ledger: line %d negative amount", idx)
		}
		if line.Debit > 0 && line.Credit > 0 {
			return fmt.Errorf("ledger: line %d cannot be both debit and credit", idx)
		}
		debit += line.Debit
		credit += line.Credit
	}
	if debit != credit {
		return ErrUnbalancedEntry
	}
	if in.Date.IsZero() {
		return errors.New("ledger: posting date required")
	}
	return nil
}
