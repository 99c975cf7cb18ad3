package costing

import (
	"errors"
	"time"
)

// ValuationMethod enumerates per-item costing policies.
type ValuationMethod string

const (
	ValuationFIFO        ValuationMethod = "FIFO"
	ValuationWeightedAvg ValuationMethod = "WEIGHTED_AVG"
	ValuationStandard    ValuationMethod = "STANDARD"
)

// ItemClass groups items for default GL asset account resolution.
type ItemClass string

const (
	ClassRawMaterial   ItemClass = "RAW_MATERIAL"
	ClassWIP           ItemClass = "WIP"
	ClassFinishedGoods ItemClass = "FINISHED_GOODS"
	ClassService       ItemClass = "SERVICE"
)

// QCStatus gates a layer's availability for depletion.
type QCStatus string

const (
	QCApproved QCStatus = "APPROVED"
	QCPending  QCStatus = "PENDING"
	QCRejected QCStatus = "REJECTED"
)

// Item carries the fields the costing engine reads. Master-data CRUD lives
// outside this module.
type Item struct {
	ID               int64
	SKU              string
	Name             string
	Class            ItemClass
	Valuation        ValuationMethod
	StandardCost     int64
	AssetAccountCode string
}

// Layer is a discrete, cost-stamped batch of on-hand quantity. It is
// created by a receipt, bill, or production event, mutated only by
// depletion or explicit reversal, and never hard-deleted outside document
// reversal.
type Layer struct {
	ID           int64
	ItemID       int64
	BatchNumber  string
	InitialQty   int64
	RemainingQty int64
	UnitCost     int64
	ReceiveDate  time.Time
	Location     string
	QC           QCStatus
	Depleted     bool
}

// Consumption records one (layer, qty) slice of a depletion, keyed by the
// originating document ref so reversal can restore exactly what was taken.
type Consumption struct {
	ID       int64
	Ref      string
	LayerID  int64
	ItemID   int64
	Qty      int64
	UnitCost int64
}

// CreateLayerInput describes a new cost layer.
type CreateLayerInput struct {
	ItemID      int64
	BatchNumber string
	Qty         int64
	UnitCost    int64
	ReceiveDate time.Time
	Location    string
	QC          QCStatus
}

// DepleteInput describes a FIFO consumption request.
type DepleteInput struct {
	ItemID   int64
	Qty      int64
	Location string
	Ref      string
}

// Depletion is the result of a successful consumption.
type Depletion struct {
	Cost         int64
	Consumptions []Consumption
}

var (
	// ErrInsufficientInventory indicates not enough open quantity; nothing
	// is consumed partially.
	ErrInsufficientInventory = errors.New("costing: insufficient inventory")
	// ErrItemNotFound indicates a missing item row.
	ErrItemNotFound = errors.New("costing: item not found")
	// ErrLayerNotFound indicates a missing layer row.
	ErrLayerNotFound = errors.New("costing: layer not found")
	// ErrDuplicateBatch indicates a batch number collision.
	ErrDuplicateBatch = errors.New("costing: duplicate batch number")
	// ErrClassUnmapped indicates an item class without a configured asset
	// account. Unrecognised classes fail loudly instead of defaulting.
	ErrClassUnmapped = errors.New("costing: item class has no asset account mapping")
	// ErrInvalidQuantity indicates a non-positive quantity.
	ErrInvalidQuantity = errors.New("costing: quantity must be positive")
	// ErrLayerConsumed indicates a document reversal hit a partially
	// consumed layer.
	ErrLayerConsumed = errors.New("costing: layer already partially consumed")
	// ErrRestoreOverflow indicates a restore larger than available headroom.
	ErrRestoreOverflow = errors.New("costing: restore exceeds layer headroom")
)

// RoundDiv divides non-negative integers rounding half up. All monetary
// rounding in the engine goes through this single helper.
func RoundDiv(num, den int64) int64 {
	if den == 0 {
		return 0
	}
	return (num + den/2) / den
}
