package manufacturing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
)

// Repository persists work orders and step costs in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction spanning
// work-order rows, inventory layers, and journal entries.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("manufacturing repository not initialised")
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

func (r *txRepository) WorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error) {
	var wo WorkOrder
	err := r.tx.QueryRow(ctx, `SELECT id, number, item_id, wip_item_id, qty
FROM work_orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&wo.ID, &wo.Number, &wo.ItemID, &wo.WIPItemID, &wo.Qty)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkOrder{}, ErrWorkOrderNotFound
		}
		return WorkOrder{}, err
	}
	return wo, nil
}

func (r *txRepository) StepsByWorkOrder(ctx context.Context, workOrderID int64) ([]Step, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, work_order_id, step_order, description, work_center_id, status
FROM work_order_steps WHERE work_order_id=$1 ORDER BY step_order ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var steps []Step
	for rows.Next() {
		var step Step
		if err := rows.Scan(&step.ID, &step.WorkOrderID, &step.StepOrder, &step.Description, &step.WorkCenterID, &step.Status); err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, rows.Err()
}

func (r *txRepository) UpdateStepStatus(ctx context.Context, stepID int64, status StepStatus) error {
	tag, err := r.tx.Exec(ctx, `UPDATE work_order_steps SET status=$1, updated_at=now() WHERE id=$2`, status, stepID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStepNotFound
	}
	return nil
}

func (r *txRepository) WorkCenter(ctx context.Context, id int64) (WorkCenter, error) {
	var wc WorkCenter
	err := r.tx.QueryRow(ctx, `SELECT id, name, cost_per_hour FROM work_centers WHERE id=$1`, id).
		Scan(&wc.ID, &wc.Name, &wc.CostPerHour)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return WorkCenter{}, errors.New("manufacturing: work center not found")
		}
		return WorkCenter{}, err
	}
	return wc, nil
}

func (r *txRepository) MaterialRequirements(ctx context.Context, workOrderID int64) ([]MaterialRequirement, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, work_order_id, item_id, qty_per_unit
FROM material_requirements WHERE work_order_id=$1 ORDER BY id ASC`, workOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var requirements []MaterialRequirement
	for rows.Next() {
		var requirement MaterialRequirement
		if err := rows.Scan(&requirement.ID, &requirement.WorkOrderID, &requirement.ItemID, &requirement.QtyPerUnit); err != nil {
			return nil, err
		}
		requirements = append(requirements, requirement)
	}
	return requirements, rows.Err()
}

func (r *txRepository) StepCostExists(ctx context.Context, stepID int64) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM work_order_step_costs WHERE step_id=$1)`, stepID).Scan(&exists)
	return exists, err
}

func (r *txRepository) InsertStepCost(ctx context.Context, cost StepCost) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO work_order_step_costs
(step_id, input_qty, output_qty, waste_qty, material_cost, overhead_cost, previous_step_cost, total_cost, yield_bps, unit_cost_after_yield, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())`,
		cost.StepID, cost.InputQty, cost.OutputQty, cost.WasteQty,
		cost.MaterialCost, cost.OverheadCost, cost.PreviousStepCost,
		cost.TotalCost, cost.YieldBps, cost.UnitCostAfterYield)
	return err
}
