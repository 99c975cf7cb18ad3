package costing

import (
	"context"
	"errors"
	"fmt"
)

// TxRepository exposes row-level layer operations bound to one transaction.
// Pipelines embed this next to ledger.TxRepository so layer mutations and
// journal postings share a commit.
type TxRepository interface {
	Item(ctx context.Context, id int64) (Item, error)
	OpenLayersForUpdate(ctx context.Context, itemID int64, location string) ([]Layer, error)
	LayersWithHeadroomForUpdate(ctx context.Context, itemID int64) ([]Layer, error)
	LayerForUpdate(ctx context.Context, id int64) (Layer, error)
	LayerByBatchForUpdate(ctx context.Context, batchNumber string) (Layer, error)
	LayersByBatchPrefixForUpdate(ctx context.Context, prefix string) ([]Layer, error)
	InsertLayer(ctx context.Context, layer Layer) (int64, error)
	UpdateLayerRemaining(ctx context.Context, id int64, remaining int64, depleted bool) error
	DeleteLayer(ctx context.Context, id int64) error
	InsertConsumption(ctx context.Context, consumption Consumption) error
	ConsumptionsByRef(ctx context.Context, ref string) ([]Consumption, error)
	DeleteConsumptionsByRef(ctx context.Context, ref string) error
	ClassAccount(ctx context.Context, class ItemClass) (string, error)
	Availability(ctx context.Context, itemID int64, location string) (int64, error)
}

// AssetAccountTx resolves the GL asset account for an item: the item's own
// override when set, otherwise the configured class default.
func AssetAccountTx(ctx context.Context, tx TxRepository, item Item) (string, error) {
	if item.AssetAccountCode != "" {
		return item.AssetAccountCode, nil
	}
	code, err := tx.ClassAccount(ctx, item.Class)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrClassUnmapped, item.Class)
	}
	return code, nil
}

// CurrentCostTx returns the unit cost of an item under its valuation
// method: standard cost, weighted average over open layers, or the oldest
// open layer's cost for FIFO. Items with no open layers cost 0 under FIFO
// and weighted average.
func CurrentCostTx(ctx context.Context, tx TxRepository, itemID int64) (int64, error) {
	item, err := tx.Item(ctx, itemID)
	if err != nil {
		return 0, err
	}
	if item.Valuation == ValuationStandard {
		return item.StandardCost, nil
	}
	layers, err := tx.OpenLayersForUpdate(ctx, itemID, "")
	if err != nil {
		return 0, err
	}
	if len(layers) == 0 {
		return 0, nil
	}
	if item.Valuation == ValuationFIFO {
		return layers[0].UnitCost, nil
	}
	var totalQty, totalValue int64
	for _, layer := range layers {
		totalQty += layer.RemainingQty
		totalValue += layer.RemainingQty * layer.UnitCost
	}
	if totalQty == 0 {
		return 0, nil
	}
	return RoundDiv(totalValue, totalQty), nil
}

// CreateLayerTx inserts a new cost layer. QC defaults to approved.
func CreateLayerTx(ctx context.Context, tx TxRepository, in CreateLayerInput) (Layer, error) {
	if in.Qty <= 0 {
		return Layer{}, ErrInvalidQuantity
	}
	if in.UnitCost < 0 {
		return Layer{}, errors.New("costing: unit cost must be >= 0")
	}
	if in.BatchNumber == "" {
		return Layer{}, errors.New("costing: batch number required")
	}
	qc := in.QC
	if qc == "" {
		qc = QCApproved
	}
	layer := Layer{
		ItemID:       in.ItemID,
		BatchNumber:  in.BatchNumber,
		InitialQty:   in.Qty,
		RemainingQty: in.Qty,
		UnitCost:     in.UnitCost,
		ReceiveDate:  in.ReceiveDate,
		Location:     in.Location,
		QC:           qc,
	}
	id, err := tx.InsertLayer(ctx, layer)
	if err != nil {
		return Layer{}, err
	}
	layer.ID = id
	return layer, nil
}

// DepleteTx consumes qty from the item's open, QC-approved layers oldest
// receive date first (id break ties), accumulating cost and writing one
// consumption row per touched layer. Insufficient total availability fails
// with no partial mutation: layers are checked in full before any write.
func DepleteTx(ctx context.Context, tx TxRepository, in DepleteInput) (Depletion, error) {
	if in.Qty <= 0 {
		return Depletion{}, ErrInvalidQuantity
	}
	layers, err := tx.OpenLayersForUpdate(ctx, in.ItemID, in.Location)
	if err != nil {
		return Depletion{}, err
	}
	var available int64
	for _, layer := range layers {
		available += layer.RemainingQty
	}
	if available < in.Qty {
		return Depletion{}, fmt.Errorf("%w: item %d needs %d has %d", ErrInsufficientInventory, in.ItemID, in.Qty, available)
	}
	var result Depletion
	remaining := in.Qty
	for _, layer := range layers {
		if remaining == 0 {
			break
		}
		take := layer.RemainingQty
		if take > remaining {
			take = remaining
		}
		left := layer.RemainingQty - take
		if err := tx.UpdateLayerRemaining(ctx, layer.ID, left, left == 0); err != nil {
			return Depletion{}, err
		}
		consumption := Consumption{Ref: in.Ref, LayerID: layer.ID, ItemID: in.ItemID, Qty: take, UnitCost: layer.UnitCost}
		if err := tx.InsertConsumption(ctx, consumption); err != nil {
			return Depletion{}, err
		}
		result.Cost += take * layer.UnitCost
		result.Consumptions = append(result.Consumptions, consumption)
		remaining -= take
	}
	return result, nil
}

// DepleteBatchTx consumes qty from one specific batch, used for WIP layer
// hand-off between manufacturing steps. A missing batch is tolerated and
// costs 0; a present batch must cover the full quantity.
func DepleteBatchTx(ctx context.Context, tx TxRepository, batchNumber string, qty int64, ref string) (int64, error) {
	if qty <= 0 {
		return 0, ErrInvalidQuantity
	}
	layer, err := tx.LayerByBatchForUpdate(ctx, batchNumber)
	if err != nil {
		if errors.Is(err, ErrLayerNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if layer.Depleted || layer.RemainingQty < qty {
		return 0, fmt.Errorf("%w: batch %s needs %d has %d", ErrInsufficientInventory, batchNumber, qty, layer.RemainingQty)
	}
	left := layer.RemainingQty - qty
	if err := tx.UpdateLayerRemaining(ctx, layer.ID, left, left == 0); err != nil {
		return 0, err
	}
	if err := tx.InsertConsumption(ctx, Consumption{Ref: ref, LayerID: layer.ID, ItemID: layer.ItemID, Qty: qty, UnitCost: layer.UnitCost}); err != nil {
		return 0, err
	}
	return qty * layer.UnitCost, nil
}

// RestoreTx reverses the depletion recorded under ref, putting each
// consumed quantity back on the exact layer it came from. Layers removed by
// a later document reversal fall back to headroom distribution over the
// item's remaining layers.
func RestoreTx(ctx context.Context, tx TxRepository, ref string) error {
	consumptions, err := tx.ConsumptionsByRef(ctx, ref)
	if err != nil {
		return err
	}
	for _, consumption := range consumptions {
		layer, err := tx.LayerForUpdate(ctx, consumption.LayerID)
		if err != nil {
			if errors.Is(err, ErrLayerNotFound) {
				if err := restoreByHeadroom(ctx, tx, consumption.ItemID, consumption.Qty); err != nil {
					return err
				}
				continue
			}
			return err
		}
		restored := layer.RemainingQty + consumption.Qty
		if restored > layer.InitialQty {
			return ErrRestoreOverflow
		}
		if err := tx.UpdateLayerRemaining(ctx, layer.ID, restored, false); err != nil {
			return err
		}
	}
	return tx.DeleteConsumptionsByRef(ctx, ref)
}

func restoreByHeadroom(ctx context.Context, tx TxRepository, itemID int64, qty int64) error {
	layers, err := tx.LayersWithHeadroomForUpdate(ctx, itemID)
	if err != nil {
		return err
	}
	remaining := qty
	for _, layer := range layers {
		if remaining == 0 {
			break
		}
		headroom := layer.InitialQty - layer.RemainingQty
		if headroom <= 0 {
			continue
		}
		give := headroom
		if give > remaining {
			give = remaining
		}
		if err := tx.UpdateLayerRemaining(ctx, layer.ID, layer.RemainingQty+give, false); err != nil {
			return err
		}
		remaining -= give
	}
	if remaining > 0 {
		return ErrRestoreOverflow
	}
	return nil
}

// ReverseDocumentLayersTx removes the layers a document created (batch
// prefix match). Partially consumed layers abort: the consuming documents
// must be reversed first.
func ReverseDocumentLayersTx(ctx context.Context, tx TxRepository, batchPrefix string) error {
	layers, err := tx.LayersByBatchPrefixForUpdate(ctx, batchPrefix)
	if err != nil {
		return err
	}
	for _, layer := range layers {
		if layer.RemainingQty != layer.InitialQty {
			return fmt.Errorf("%w: batch %s", ErrLayerConsumed, layer.BatchNumber)
		}
		if err := tx.DeleteLayer(ctx, layer.ID); err != nil {
			return err
		}
	}
	return nil
}
