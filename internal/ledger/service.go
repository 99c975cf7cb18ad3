package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records ledger events for compliance.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service coordinates posting, reversing, and correcting journal entries,
// and owns the period close.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the ledger service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Post validates and persists a new journal entry.
func (s *Service) Post(ctx context.Context, input PostInput) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = PostTx(ctx, tx, input)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, input.ActorID, "journal.post", entry.ID, map[string]any{
		"reference": entry.Reference,
		"date":      entry.Date.Format("2006-01-02"),
	})
	return entry, nil
}

// Reverse posts the debit/credit mirror of an existing entry.
func (s *Service) Reverse(ctx context.Context, entryID int64, effectiveDate time.Time, actorID int64) (Entry, error) {
	var reversal Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		reversal, err = ReverseTx(ctx, tx, entryID, effectiveDate, actorID)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, actorID, "journal.reverse", entryID, map[string]any{
		"reversal_id": reversal.ID,
	})
	return reversal, nil
}

// Update corrects an entry with the reverse-and-replay pattern: the
// original effect is neutralised by a reversal dated now, then the original
// row is overwritten with the new header and lines so external references
// keep pointing at the same id. Closed history is never touched because the
// reversal is dated at the correction time, not the original date.
func (s *Service) Update(ctx context.Context, input UpdateInput) (Entry, error) {
	if input.EntryID == 0 {
		return Entry{}, errors.New("ledger: entry id required")
	}
	probe := PostInput{Date: input.Date, Lines: input.Lines}
	if err := probe.Validate(); err != nil {
		return Entry{}, err
	}
	var updated Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := EnsureMutable(ctx, tx, input.Date); err != nil {
			return err
		}
		for code := range lineDeltas(input.Lines) {
			if _, err := tx.AccountByCode(ctx, code); err != nil {
				return fmt.Errorf("%w: %s", ErrAccountNotFound, code)
			}
		}
		if _, err := ReverseTx(ctx, tx, input.EntryID, s.now(), input.ActorID); err != nil {
			return err
		}
		if err := tx.UpdateEntryHeader(ctx, input.EntryID, input.Date, input.Description, true); err != nil {
			return err
		}
		if err := tx.DeleteLines(ctx, input.EntryID); err != nil {
			return err
		}
		if err := tx.InsertLines(ctx, input.EntryID, input.Lines); err != nil {
			return err
		}
		for code, delta := range lineDeltas(input.Lines) {
			if err := tx.AddAccountBalance(ctx, code, delta); err != nil {
				return err
			}
		}
		var err error
		updated, err = tx.EntryWithLines(ctx, input.EntryID)
		return err
	})
	if err != nil {
		return Entry{}, err
	}
	s.recordAudit(ctx, input.ActorID, "journal.update", input.EntryID, map[string]any{
		"date": input.Date.Format("2006-01-02"),
	})
	return updated, nil
}

// Delete neutralises an entry and soft-marks its header. The original lines
// stay on the row for audit; financial history is never hard-deleted.
func (s *Service) Delete(ctx context.Context, entryID int64, actorID int64) error {
	if entryID == 0 {
		return errors.New("ledger: entry id required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		original, err := tx.EntryWithLines(ctx, entryID)
		if err != nil {
			return err
		}
		if !original.Posted {
			return ErrEntryNotPosted
		}
		if _, err := ReverseTx(ctx, tx, entryID, s.now(), actorID); err != nil {
			return err
		}
		return tx.UpdateEntryHeader(ctx, entryID, original.Date, "[DELETED] "+original.Description, false)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "journal.delete", entryID, nil)
	return nil
}

// ClosePeriod verifies the global trial balance and advances the lock date.
// A mismatch is fatal and never auto-repaired; the lock date only moves
// forward.
func (s *Service) ClosePeriod(ctx context.Context, closingDate time.Time, actorID int64) error {
	if closingDate.IsZero() {
		return errors.New("ledger: closing date required")
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		debit, credit, err := tx.TrialBalanceTotals(ctx)
		if err != nil {
			return err
		}
		if debit != credit {
			return fmt.Errorf("%w: debit %d credit %d", ErrCorruptLedger, debit, credit)
		}
		current, err := tx.LockDate(ctx)
		if err != nil {
			return err
		}
		if !current.IsZero() && !closingDate.After(current) {
			return ErrLockDateRegression
		}
		return tx.SetLockDate(ctx, closingDate)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "period.close", 0, map[string]any{
		"lock_date": closingDate.Format("2006-01-02"),
	})
	return nil
}

// TrialBalance returns the global debit and credit totals.
func (s *Service) TrialBalance(ctx context.Context) (int64, int64, error) {
	var debit, credit int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		debit, credit, err = tx.TrialBalanceTotals(ctx)
		return err
	})
	return debit, credit, err
}

// AccountBalance returns the cached balance for one account.
func (s *Service) AccountBalance(ctx context.Context, code string) (Account, error) {
	var account Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		account, err = tx.AccountByCode(ctx, code)
		return err
	})
	return account, err
}

// Entry loads one entry with its lines.
func (s *Service) Entry(ctx context.Context, id int64) (Entry, error) {
	var entry Entry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.EntryWithLines(ctx, id)
		return err
	})
	return entry, err
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "journal_entry",
		EntityID: fmt.Sprintf("%d", entityID),
		Meta:     meta,
		At:       s.now(),
	})
}

func lineDeltas(lines []LineInput) map[string]int64 {
	deltas := map[string]int64{}
	for _, line := range lines {
		deltas[line.AccountCode] += line.Debit - line.Credit
	}
	return deltas
}
