package purchasing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Repository persists purchasing documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction that
// spans bill rows, inventory layers, and journal entries.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("purchasing repository not initialised")
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

// Aliases give the embedded interfaces distinct field names so their method
// sets promote side by side.
type (
	ledgerTx  = ledger.TxRepository
	costingTx = costing.TxRepository
)

type txRepository struct {
	ledgerTx
	costingTx
	tx pgx.Tx
}

func (r *txRepository) POWithLinesForUpdate(ctx context.Context, poID int64) (PurchaseOrder, []POLine, error) {
	var po PurchaseOrder
	err := r.tx.QueryRow(ctx, `SELECT id, number, supplier_id FROM purchase_orders WHERE id=$1 FOR UPDATE`, poID).
		Scan(&po.ID, &po.Number, &po.SupplierID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PurchaseOrder{}, nil, ErrPONotFound
		}
		return PurchaseOrder{}, nil, err
	}
	rows, err := r.tx.Query(ctx, `SELECT id, po_id, item_id, qty, unit_cost, qty_received, qty_billed
FROM purchase_order_lines WHERE po_id=$1 ORDER BY id ASC FOR UPDATE`, poID)
	if err != nil {
		return PurchaseOrder{}, nil, err
	}
	defer rows.Close()
	var lines []POLine
	for rows.Next() {
		var line POLine
		if err := rows.Scan(&line.ID, &line.POID, &line.ItemID, &line.Qty, &line.UnitCost, &line.QtyReceived, &line.QtyBilled); err != nil {
			return PurchaseOrder{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return PurchaseOrder{}, nil, err
	}
	return po, lines, nil
}

func (r *txRepository) AddPOLineBilled(ctx context.Context, lineID int64, delta int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE purchase_order_lines SET qty_billed=qty_billed+$2 WHERE id=$1`, lineID, delta)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPONotFound
	}
	return nil
}

func (r *txRepository) InsertBill(ctx context.Context, bill Bill) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO vendor_bills (number, po_id, supplier_id, bill_date, total, approval_status, posted, deleted, entry_id, warehouse, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULLIF($10,''),NOW(),NOW()) RETURNING id`,
		bill.Number, bill.POID, bill.SupplierID, bill.Date, bill.Total, string(bill.Approval), bill.Posted, bill.Deleted, bill.EntryID, bill.Warehouse).Scan(&id)
	return id, err
}

func (r *txRepository) InsertBillLines(ctx context.Context, billID int64, lines []BillLine) error {
	for _, line := range lines {
		if _, err := r.tx.Exec(ctx, `INSERT INTO vendor_bill_lines (bill_id, item_id, qty, unit_cost)
VALUES ($1,$2,$3,$4)`, billID, line.ItemID, line.Qty, line.UnitCost); err != nil {
			return err
		}
	}
	return nil
}

func (r *txRepository) BillWithLines(ctx context.Context, billID int64) (Bill, []BillLine, error) {
	var bill Bill
	var approval string
	var warehouse *string
	err := r.tx.QueryRow(ctx, `SELECT id, number, po_id, supplier_id, bill_date, total, approval_status, posted, deleted, entry_id, warehouse
FROM vendor_bills WHERE id=$1 FOR UPDATE`, billID).
		Scan(&bill.ID, &bill.Number, &bill.POID, &bill.SupplierID, &bill.Date, &bill.Total, &approval, &bill.Posted, &bill.Deleted, &bill.EntryID, &warehouse)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Bill{}, nil, ErrBillNotFound
		}
		return Bill{}, nil, err
	}
	bill.Approval = ApprovalStatus(approval)
	if warehouse != nil {
		bill.Warehouse = *warehouse
	}
	rows, err := r.tx.Query(ctx, `SELECT id, bill_id, item_id, qty, unit_cost FROM vendor_bill_lines WHERE bill_id=$1 ORDER BY id ASC`, billID)
	if err != nil {
		return Bill{}, nil, err
	}
	defer rows.Close()
	var lines []BillLine
	for rows.Next() {
		var line BillLine
		if err := rows.Scan(&line.ID, &line.BillID, &line.ItemID, &line.Qty, &line.UnitCost); err != nil {
			return Bill{}, nil, err
		}
		lines = append(lines, line)
	}
	if err := rows.Err(); err != nil {
		return Bill{}, nil, err
	}
	return bill, lines, nil
}

func (r *txRepository) DeleteBillLines(ctx context.Context, billID int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM vendor_bill_lines WHERE bill_id=$1`, billID)
	return err
}

func (r *txRepository) UpdateBill(ctx context.Context, bill Bill) error {
	tag, err := r.tx.Exec(ctx, `UPDATE vendor_bills SET bill_date=$2, total=$3, approval_status=$4, posted=$5, deleted=$6, entry_id=$7, updated_at=NOW() WHERE id=$1`,
		bill.ID, bill.Date, bill.Total, string(bill.Approval), bill.Posted, bill.Deleted, bill.EntryID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrBillNotFound
	}
	return nil
}
