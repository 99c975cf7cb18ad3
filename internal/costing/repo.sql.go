package costing

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists cost layers in PostgreSQL.
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
		return errors.New("costing repository not initialised")
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

// NewTxRepository binds the layer row operations to an existing transaction.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

func (r *txRepository) Item(ctx context.Context, id int64) (Item, error) {
	var item Item
	var class, valuation string
	var assetAccount *string
	err := r.tx.QueryRow(ctx, `SELECT id, sku, name, item_class, valuation_method, standard_cost, asset_account_code
FROM items WHERE id=$1`, id).Scan(&item.ID, &item.SKU, &item.Name, &class, &valuation, &item.StandardCost, &assetAccount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	item.Class = ItemClass(class)
	item.Valuation = ValuationMethod(valuation)
	if assetAccount != nil {
		item.AssetAccountCode = *assetAccount
	}
	return item, nil
}

const layerColumns = `id, item_id, batch_number, initial_qty, remaining_qty, unit_cost, receive_date, COALESCE(location,''), qc_status, is_depleted`

func scanLayer(row pgx.Row) (Layer, error) {
	var layer Layer
	var qc string
	err := row.Scan(&layer.ID, &layer.ItemID, &layer.BatchNumber, &layer.InitialQty, &layer.RemainingQty,
		&layer.UnitCost, &layer.ReceiveDate, &layer.Location, &qc, &layer.Depleted)
	if err != nil {
		return Layer{}, err
	}
	layer.QC = QCStatus(qc)
	return layer, nil
}

func (r *txRepository) collectLayers(rows pgx.Rows) ([]Layer, error) {
	defer rows.Close()
	var layers []Layer
	for rows.Next() {
		layer, err := scanLayer(rows)
		if err != nil {
			return nil, err
		}
		layers = append(layers, layer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return layers, nil
}

// OpenLayersForUpdate locks the item's non-depleted, QC-approved layers in
// FIFO order. The lock plus the re-read at write time is what prevents
// over-depletion under concurrent documents.
func (r *txRepository) OpenLayersForUpdate(ctx context.Context, itemID int64, location string) ([]Layer, error) {
	query := `SELECT ` + layerColumns + ` FROM inventory_layers
WHERE item_id=$1 AND is_depleted=false AND qc_status='APPROVED'`
	args := []any{itemID}
	if location != "" {
		query += ` AND location=$2`
		args = append(args, location)
	}
	query += ` ORDER BY receive_date ASC, id ASC FOR UPDATE`
	rows, err := r.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return r.collectLayers(rows)
}

func (r *txRepository) LayersWithHeadroomForUpdate(ctx context.Context, itemID int64) ([]Layer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_layers
WHERE item_id=$1 AND remaining_qty < initial_qty
ORDER BY receive_date ASC, id ASC FOR UPDATE`, itemID)
	if err != nil {
		return nil, err
	}
	return r.collectLayers(rows)
}

func (r *txRepository) LayerForUpdate(ctx context.Context, id int64) (Layer, error) {
	layer, err := scanLayer(r.tx.QueryRow(ctx, `SELECT `+layerColumns+` FROM inventory_layers WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Layer{}, ErrLayerNotFound
		}
		return Layer{}, err
	}
	return layer, nil
}

func (r *txRepository) LayerByBatchForUpdate(ctx context.Context, batchNumber string) (Layer, error) {
	layer, err := scanLayer(r.tx.QueryRow(ctx, `SELECT `+layerColumns+` FROM inventory_layers WHERE batch_number=$1 FOR UPDATE`, batchNumber))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Layer{}, ErrLayerNotFound
		}
		return Layer{}, err
	}
	return layer, nil
}

func (r *txRepository) LayersByBatchPrefixForUpdate(ctx context.Context, prefix string) ([]Layer, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+layerColumns+` FROM inventory_layers
WHERE batch_number LIKE $1 || '%' ORDER BY id ASC FOR UPDATE`, prefix)
	if err != nil {
		return nil, err
	}
	return r.collectLayers(rows)
}

func (r *txRepository) InsertLayer(ctx context.Context, layer Layer) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_layers (item_id, batch_number, initial_qty, remaining_qty, unit_cost, receive_date, location, qc_status, is_depleted)
VALUES ($1,$2,$3,$4,$5,$6,NULLIF($7,''),$8,false) RETURNING id`,
		layer.ItemID, layer.BatchNumber, layer.InitialQty, layer.RemainingQty, layer.UnitCost, layer.ReceiveDate, layer.Location, string(layer.QC)).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateBatch
		}
		return 0, err
	}
	return id, nil
}

func (r *txRepository) UpdateLayerRemaining(ctx context.Context, id int64, remaining int64, depleted bool) error {
	tag, err := r.tx.Exec(ctx, `UPDATE inventory_layers SET remaining_qty=$2, is_depleted=$3 WHERE id=$1`, id, remaining, depleted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLayerNotFound
	}
	return nil
}

func (r *txRepository) DeleteLayer(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM inventory_layers WHERE id=$1`, id)
	return err
}

func (r *txRepository) InsertConsumption(ctx context.Context, consumption Consumption) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory_consumptions (ref, layer_id, item_id, qty, unit_cost)
VALUES ($1,$2,$3,$4,$5)`, consumption.Ref, consumption.LayerID, consumption.ItemID, consumption.Qty, consumption.UnitCost)
	return err
}

func (r *txRepository) ConsumptionsByRef(ctx context.Context, ref string) ([]Consumption, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, ref, layer_id, item_id, qty, unit_cost
FROM inventory_consumptions WHERE ref=$1 ORDER BY id ASC`, ref)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var consumptions []Consumption
	for rows.Next() {
		var c Consumption
		if err := rows.Scan(&c.ID, &c.Ref, &c.LayerID, &c.ItemID, &c.Qty, &c.UnitCost); err != nil {
			return nil, err
		}
		consumptions = append(consumptions, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return consumptions, nil
}

func (r *txRepository) DeleteConsumptionsByRef(ctx context.Context, ref string) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM inventory_consumptions WHERE ref=$1`, ref)
	return err
}

func (r *txRepository) ClassAccount(ctx context.Context, class ItemClass) (string, error) {
	var code string
	err := r.tx.QueryRow(ctx, `SELECT account_code FROM costing_class_accounts WHERE item_class=$1`, string(class)).Scan(&code)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", ErrClassUnmapped
		}
		return "", err
	}
	return code, nil
}

func (r *txRepository) Availability(ctx context.Context, itemID int64, location string) (int64, error) {
	query := `SELECT COALESCE(SUM(remaining_qty),0) FROM inventory_layers
WHERE item_id=$1 AND is_depleted=false AND qc_status='APPROVED'`
	args := []any{itemID}
	if location != "" {
		query += ` AND location=$2`
		args = append(args, location)
	}
	var total int64
	err := r.tx.QueryRow(ctx, query, args...).Scan(&total)
	return total, err
}
