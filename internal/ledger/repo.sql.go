package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	if err := fn(ctx, NewTxRepository(tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository binds the ledger row operations to an existing
// transaction. Pipelines use this to join their document writes with the
// journal writes in one commit.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

const lockDateKey = "period_lock_date"

func (r *txRepository) LockDate(ctx context.Context) (time.Time, error) {
	var lock time.Time
	err := r.tx.QueryRow(ctx, `SELECT value::date FROM system_settings WHERE key=$1`, lockDateKey).Scan(&lock)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return lock, nil
}

func (r *txRepository) SetLockDate(ctx context.Context, date time.Time) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO system_settings (key, value, updated_at) VALUES ($1, $2, NOW())
ON CONFLICT (key) DO UPDATE SET value=EXCLUDED.value, updated_at=NOW()`, lockDateKey, date.Format("2006-01-02"))
	return err
}

func (r *txRepository) InsertEntry(ctx context.Context, entry Entry) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO journal_entries (entry_date, description, reference, correlation_id, posted, entry_type, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW(),NOW()) RETURNING id`,
		entry.Date, entry.Description, nullString(entry.Reference), nullString(entry.CorrelationID), entry.Posted, string(entry.Type)).Scan(&id)
	return id, err
}

func (r *txRepository) InsertLines(ctx context.Context, entryID int64, lines []LineInput) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO journal_entry_lines (entry_id, account_code, debit, credit, description)
VALUES ($1,$2,$3,$4,$5)`, entryID, line.AccountCode, line.Debit, line.Credit, line.Description); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) DeleteLines(ctx context.Context, entryID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM journal_entry_lines WHERE entry_id=$1`, entryID)
	return err
}

func (r *txRepository) EntryWithLines(ctx context.Context, id int64) (Entry, error) {
	var entry Entry
	var entryType string
	var reference, correlation *string
	err := r.tx.QueryRow(ctx, `SELECT id, entry_date, description, reference, correlation_id, posted, entry_type, created_at, updated_at
FROM journal_entries WHERE id=$1`, id).Scan(&entry.ID, &entry.Date, &entry.Description, &reference, &correlation, &entry.Posted, &entryType, &entry.CreatedAt, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrEntryNotFound
		}
		return Entry{}, err
	}
	entry.Type = EntryType(entryType)
	entry.Reference = deref(reference)
	entry.CorrelationID = deref(correlation)
	rows, err := r.tx.Query(ctx, `SELECT id, entry_id, account_code, debit, credit, description
FROM journal_entry_lines WHERE entry_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return Entry{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var line Line
		if err := rows.Scan(&line.ID, &line.EntryID, &line.AccountCode, &line.Debit, &line.Credit, &line.Description); err != nil {
			return Entry{}, err
		}
		entry.Lines = append(entry.Lines, line)
	}
	if err := rows.Err(); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (r *txRepository) UpdateEntryHeader(ctx context.Context, id int64, date time.Time, description string, posted bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE journal_entries SET entry_date=$2, description=$3, posted=$4, updated_at=NOW() WHERE id=$1`,
		id, date, description, posted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (r *txRepository) AccountByCode(ctx context.Context, code string) (Account, error) {
	var account Account
	var accountType string
	err := r.tx.QueryRow(ctx, `SELECT id, code, name, account_type, parent_code, balance, created_at, updated_at
FROM gl_accounts WHERE code=$1`, code).Scan(&account.ID, &account.Code, &account.Name, &accountType, &account.ParentCode, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, ErrAccountNotFound
		}
		return Account{}, err
	}
	account.Type = AccountType(accountType)
	return account, nil
}

func (r *txRepository) AddAccountBalance(ctx context.Context, code string, delta int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE gl_accounts SET balance=balance+$2, updated_at=NOW() WHERE code=$1`, code, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (r *txRepository) MappedAccount(ctx context.Context, module, key string) (string, error) {
	var code string
	err := r.tx.QueryRow(ctx, `SELECT account_code FROM account_mappings WHERE module=$1 AND key=$2`, module, key).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrMappingNotFound
		}
		return "", err
	}
	return code, nil
}

func (r *txRepository) TrialBalanceTotals(ctx context.Context) (int64, int64, error) {
	var debit, credit int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_entry_lines l JOIN journal_entries e ON e.id=l.entry_id`).Scan(&debit, &credit)
	return debit, credit, err
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
