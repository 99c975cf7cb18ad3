package sales

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Repository persists invoices in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction that
// spans invoice rows, inventory layers, and journal entries.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("sales repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return err
	}
	wrapper := &txRepository{
		ledgerTx:  ledger.NewTxRepository(tx),
		costingTx: costing.NewTxRepository(tx),
		tx:        tx,
	}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type (
	ledgerTx  = ledger.TxRepository
	costingTx = costing.TxRepository
)

type txRepository struct {
	ledgerTx
	costingTx
	tx pgx.Tx
}

func (r *txRepository) InsertInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO invoices (number, customer_id, invoice_date, warehouse, tax_rate_bps, subtotal, discount, tax, total, cogs, posted, deleted, entry_id, created_at, updated_at)
VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9,$10,$11,$12,$13,NOW(),NOW()) RETURNING id`,
		invoice.Number, invoice.CustomerID, invoice.Date, invoice.Warehouse, invoice.TaxRateBps,
		invoice.Subtotal, invoice.Discount, invoice.Tax, invoice.Total, invoice.COGS,
		invoice.Posted, invoice.Deleted, invoice.EntryID).Scan(&id)
	return id, err
}

func (r *txRepository) InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO invoice_lines (invoice_id, item_id, qty, unit_price, discount)
VALUES ($1,$2,$3,$4,$5)`, invoiceID, line.ItemID, line.Qty, line.UnitPrice, line.Discount); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) InvoiceWithLines(ctx context.Context, invoiceID int64) (Invoice, []InvoiceLine, error) {
	var invoice Invoice
	var warehouse *string
	err := r.tx.QueryRow(ctx, `SELECT id, number, customer_id, invoice_date, warehouse, tax_rate_bps, subtotal, discount, tax, total, cogs, posted, deleted, entry_id
FROM invoices WHERE id=$1 FOR UPDATE`, invoiceID).
		Scan(&invoice.ID, &invoice.Number, &invoice.CustomerID, &invoice.Date, &warehouse, &invoice.TaxRateBps,
			&invoice.Subtotal, &invoice.Discount, &invoice.Tax, &invoice.Total, &invoice.COGS,
			&invoice.Posted, &invoice.Deleted, &invoice.EntryID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Invoice{}, nil, ErrInvoiceNotFound
		}
		return Invoice{}, nil, err
	}
	if warehouse != nil {
		invoice.Warehouse = *warehouse
	}
	rows, err := r.tx.Query(ctx, `SELECT id, invoice_id, item_id, qty, unit_price, discount FROM invoice_lines WHERE invoice_id=$1 ORDER BY id ASC`, invoiceID)
	if err != nil {
		return Invoice{}, nil, err
	}
	defer rows.Close()
	var lines []InvoiceLine
	for rows.Next() {
		var line InvoiceLine
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.ItemID, &line.Qty, &line.UnitPrice, &line.Discount); err != nil {
			return Invoice{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return Invoice{}, nil, err
	}
	return invoice, lines, nil
}

func (r *txRepository) DeleteInvoiceLines(ctx context.Context, invoiceID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM invoice_lines WHERE invoice_id=$1`, invoiceID)
	return err
}

func (r *txRepository) UpdateInvoice(ctx context.Context, invoice Invoice) error {
	tag, err := r.tx.Exec(ctx, `UPDATE invoices SET invoice_date=$2, warehouse=NULLIF($3,''), tax_rate_bps=$4, subtotal=$5, discount=$6, tax=$7, total=$8, cogs=$9, posted=$10, deleted=$11, entry_id=$12, updated_at=NOW() WHERE id=$1`,
		invoice.ID, invoice.Date, invoice.Warehouse, invoice.TaxRateBps, invoice.Subtotal, invoice.Discount,
		invoice.Tax, invoice.Total, invoice.COGS, invoice.Posted, invoice.Deleted, invoice.EntryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvoiceNotFound
	}
	return nil
}

func (r *txRepository) InsertLocationTransfer(ctx context.Context, transfer LocationTransfer) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO location_transfers (invoice_id, layer_id, item_id, qty, location, at)
VALUES ($1,$2,$3,$4,NULLIF($5,''),$6)`, transfer.InvoiceID, transfer.LayerID, transfer.ItemID, transfer.Qty, transfer.Location, transfer.At)
	return err
}

func (r *txRepository) DeleteLocationTransfers(ctx context.Context, invoiceID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM location_transfers WHERE invoice_id=$1`, invoiceID)
	return err
}
