package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/meridian-erp/meridian-erp/internal/sales"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// systemActorID marks postings made by background jobs rather than a person.
const systemActorID = 1

// RefillContract is a standing order that turns into an invoice every
// IntervalDays once NextDue passes.
type RefillContract struct {
	ID           int64
	CustomerID   int64
	ItemID       int64
	Qty          int64
	UnitPrice    int64
	TaxRateBps   int64
	Warehouse    string
	IntervalDays int
	NextDue      time.Time
	Cycle        int64
}

// RefillStore reads and advances refill contracts.
type RefillStore struct {
	pool *pgxpool.Pool
}

// NewRefillStore constructs the store.
func NewRefillStore(pool *pgxpool.Pool) *RefillStore {
	return &RefillStore{pool: pool}
}

// DueContracts lists active contracts with NextDue at or before asOf.
func (s *RefillStore) DueContracts(ctx context.Context, asOf time.Time) ([]RefillContract, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, customer_id, item_id, qty, unit_price, tax_rate_bps, warehouse, interval_days, next_due, cycle
FROM refill_contracts WHERE active AND next_due <= $1 ORDER BY id ASC`, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var contracts []RefillContract
	for rows.Next() {
		var c RefillContract
		if err := rows.Scan(&c.ID, &c.CustomerID, &c.ItemID, &c.Qty, &c.UnitPrice, &c.TaxRateBps, &c.Warehouse, &c.IntervalDays, &c.NextDue, &c.Cycle); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}

// Advance moves the contract to its next cycle.
func (s *RefillStore) Advance(ctx context.Context, contractID int64, nextDue time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE refill_contracts SET cycle = cycle + 1, next_due = $1, updated_at = now() WHERE id = $2`, nextDue, contractID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// ContractSource abstracts RefillStore for testing.
type ContractSource interface {
	DueContracts(ctx context.Context, asOf time.Time) ([]RefillContract, error)
	Advance(ctx context.Context, contractID int64, nextDue time.Time) error
}

// InvoicePoster abstracts the sales service.
type InvoicePoster interface {
	CreateInvoice(ctx context.Context, input sales.CreateInvoiceInput) (sales.Invoice, error)
}

// IdempotencyGuard abstracts shared.IdempotencyStore.
type IdempotencyGuard interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// RefillProcessor posts due refill invoices exactly once per cycle.
type RefillProcessor struct {
	logger      *slog.Logger
	contracts   ContractSource
	invoices    InvoicePoster
	idempotency IdempotencyGuard
	now         func() time.Time
}

// NewRefillProcessor constructs the processor.
func NewRefillProcessor(logger *slog.Logger, contracts ContractSource, invoices InvoicePoster, idempotency IdempotencyGuard) *RefillProcessor {
	return &RefillProcessor{logger: logger, contracts: contracts, invoices: invoices, idempotency: idempotency, now: time.Now}
}

// WithNow overrides the clock for testing.
func (p *RefillProcessor) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// RefillKey derives the per-cycle idempotency key. A contract cycle posts
// at most one invoice no matter how many scans observe it due.
func RefillKey(contractID, cycle int64) string {
	return fmt.Sprintf("REFILL-%d-%d", contractID, cycle)
}

// Run scans due contracts and posts one invoice each. Contracts are
// independent, so they process concurrently; a failure on one is logged
// and does not stop the rest of the batch.
func (p *RefillProcessor) Run(ctx context.Context, asOf time.Time) error {
	contracts, err := p.contracts.DueContracts(ctx, asOf)
	if err != nil {
		return fmt.Errorf("list due refill contracts: %w", err)
	}
	var failed atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, contract := range contracts {
		contract := contract
		g.Go(func() error {
			if err := p.processContract(ctx, contract); err != nil {
				failed.Add(1)
				p.logger.Error("refill contract failed",
					slog.Int64("contract_id", contract.ID),
					slog.Int64("cycle", contract.Cycle),
					slog.Any("error", err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if n := failed.Load(); n > 0 {
		return fmt.Errorf("refill scan: %d of %d contracts failed", n, len(contracts))
	}
	return nil
}

func (p *RefillProcessor) processContract(ctx context.Context, contract RefillContract) error {
	key := RefillKey(contract.ID, contract.Cycle)
	if err := p.idempotency.CheckAndInsert(ctx, key, "sales"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			// Another scan already posted this cycle.
			return nil
		}
		return err
	}
	_, err := p.invoices.CreateInvoice(ctx, sales.CreateInvoiceInput{
		ActorID:    systemActorID,
		Number:     key,
		CustomerID: contract.CustomerID,
		Date:       contract.NextDue,
		Warehouse:  contract.Warehouse,
		TaxRateBps: contract.TaxRateBps,
		Lines: []sales.InvoiceLineInput{{
			ItemID:    contract.ItemID,
			Qty:       contract.Qty,
			UnitPrice: contract.UnitPrice,
		}},
	})
	if err != nil {
		// Release the key so the next scan retries the cycle.
		if delErr := p.idempotency.Delete(ctx, key); delErr != nil {
			p.logger.Error("release refill idempotency key",
				slog.String("key", key), slog.Any("error", delErr))
		}
		return err
	}
	nextDue := contract.NextDue.AddDate(0, 0, contract.IntervalDays)
	return p.contracts.Advance(ctx, contract.ID, nextDue)
}

// NewRefillInvoicesHandler adapts RefillProcessor to an Asynq handler.
func NewRefillInvoicesHandler(p *RefillProcessor) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload RefillInvoicesPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		asOf := payload.AsOf
		if asOf.IsZero() {
			asOf = p.now()
		}
		return p.Run(ctx, asOf)
	}
}
