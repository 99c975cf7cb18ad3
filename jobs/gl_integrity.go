package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GLIntegrityScanner reconciles the ledger against itself and against the
// inventory subledger. Discrepancies are logged, not repaired.
type GLIntegrityScanner struct {
	logger *slog.Logger
	pool   *pgxpool.Pool
}

// NewGLIntegrityScanner constructs the scanner.
func NewGLIntegrityScanner(logger *slog.Logger, pool *pgxpool.Pool) *GLIntegrityScanner {
	return &GLIntegrityScanner{logger: logger, pool: pool}
}

// Run executes the scan. It fails only on query errors; a found
// discrepancy is reported through the log so the scan still covers the
// remaining checks.
func (s *GLIntegrityScanner) Run(ctx context.Context) error {
	var debits, credits int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(SUM(l.debit),0), COALESCE(SUM(l.credit),0)
FROM journal_entry_lines l
JOIN journal_entries e ON e.id = l.entry_id
WHERE e.posted`).Scan(&debits, &credits)
	if err != nil {
		return fmt.Errorf("trial balance scan: %w", err)
	}
	if debits != credits {
		s.logger.Error("ledger out of balance",
			slog.Int64("debits", debits),
			slog.Int64("credits", credits),
			slog.Int64("difference", debits-credits))
	}

	// Per-entry balance: a single unbalanced entry can hide inside a
	// globally balanced ledger.
	rows, err := s.pool.Query(ctx, `SELECT e.id, SUM(l.debit) - SUM(l.credit)
FROM journal_entries e
JOIN journal_entry_lines l ON l.entry_id = e.id
WHERE e.posted
GROUP BY e.id
HAVING SUM(l.debit) <> SUM(l.credit)`)
	if err != nil {
		return fmt.Errorf("per-entry balance scan: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var entryID, diff int64
		if err := rows.Scan(&entryID, &diff); err != nil {
			return err
		}
		s.logger.Error("unbalanced journal entry",
			slog.Int64("entry_id", entryID),
			slog.Int64("difference", diff))
	}
	if err := rows.Err(); err != nil {
		return err
	}

	// Negative remaining quantity means a depletion raced past its guard.
	layerRows, err := s.pool.Query(ctx, `SELECT id, item_id, remaining_qty FROM inventory_layers WHERE remaining_qty < 0`)
	if err != nil {
		return fmt.Errorf("layer scan: %w", err)
	}
	defer layerRows.Close()
	for layerRows.Next() {
		var layerID, itemID, remaining int64
		if err := layerRows.Scan(&layerID, &itemID, &remaining); err != nil {
			return err
		}
		s.logger.Error("negative inventory layer",
			slog.Int64("layer_id", layerID),
			slog.Int64("item_id", itemID),
			slog.Int64("remaining_qty", remaining))
	}
	if err := layerRows.Err(); err != nil {
		return err
	}

	s.logger.Info("gl integrity scan completed",
		slog.Int64("debits", debits),
		slog.Int64("credits", credits))
	return nil
}

// NewGLIntegrityHandler adapts GLIntegrityScanner to an Asynq handler.
func NewGLIntegrityHandler(s *GLIntegrityScanner) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload GLIntegrityPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		return s.Run(ctx)
	}
}
