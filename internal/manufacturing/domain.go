package manufacturing

import (
	"errors"
)

// StepStatus enumerates the per-step state machine. Completed is terminal.
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
)

// StepPosition classifies a step within its routing.
type StepPosition string

const (
	PositionFirst  StepPosition = "first"
	PositionMiddle StepPosition = "middle"
	PositionFinal  StepPosition = "final"
)

// WorkOrder produces Qty units of ItemID through an ordered routing.
// WIPItemID is the intermediate item the inter-step layers are booked
// against.
type WorkOrder struct {
	ID        int64
	Number    string
	ItemID    int64
	WIPItemID int64
	Qty       int64
}

// Step is one routing position of a work order.
type Step struct {
	ID           int64
	WorkOrderID  int64
	StepOrder    int
	Description  string
	WorkCenterID *int64
	Status       StepStatus
}

// WorkCenter carries the overhead rate the engine reads.
type WorkCenter struct {
	ID          int64
	Name        string
	CostPerHour int64
}

// MaterialRequirement is the per-input-unit raw material demand of a work
// order, consumed on the first routing step.
type MaterialRequirement struct {
	ID          int64
	WorkOrderID int64
	ItemID      int64
	QtyPerUnit  int64
}

// MaterialInput is an ad-hoc additional material consumed on any step.
type MaterialInput struct {
	ItemID int64
	Qty    int64
}

// StepCost is written once per completed step and immutable thereafter.
type StepCost struct {
	StepID             int64
	InputQty           int64
	OutputQty          int64
	WasteQty           int64
	MaterialCost       int64
	OverheadCost       int64
	PreviousStepCost   int64
	TotalCost          int64
	YieldBps           int64
	UnitCostAfterYield int64
}

// SubmitStepInput groups the fields of a step submission.
type SubmitStepInput struct {
	ActorID         int64
	WorkOrderID     int64
	StepID          int64
	InputQty        int64
	OutputQty       int64
	WasteQty        int64
	DurationMinutes int64
	ExtraMaterials  []MaterialInput
}

var (
	// ErrWorkOrderNotFound indicates a missing work order.
	ErrWorkOrderNotFound = errors.New("manufacturing: work order not found")
	// ErrStepNotFound indicates a missing routing step.
	ErrStepNotFound = errors.New("manufacturing: step not found")
	// ErrStepAlreadyCompleted indicates a submission against the terminal
	// state; step costs are written once.
	ErrStepAlreadyCompleted = errors.New("manufacturing: step already completed")
	// ErrInvalidTransition indicates a disallowed status change.
	ErrInvalidTransition = errors.New("manufacturing: invalid step transition")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("manufacturing: validation failed")
)

// Validate checks structural constraints of a submission.
func (in SubmitStepInput) Validate() error {
	if in.WorkOrderID == 0 || in.StepID == 0 {
		return ErrValidation
	}
	if in.InputQty <= 0 || in.OutputQty < 0 || in.WasteQty < 0 || in.DurationMinutes < 0 {
		return ErrValidation
	}
	for _, extra := range in.ExtraMaterials {
		if extra.ItemID == 0 || extra.Qty <= 0 {
			return ErrValidation
		}
	}
	return nil
}
