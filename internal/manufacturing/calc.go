package manufacturing

import (
	"fmt"
	"strings"

	"github.com/meridian-erp/meridian-erp/internal/costing"
)

// ClassifyStep positions a step within a routing of totalSteps.
func ClassifyStep(stepOrder, totalSteps int) StepPosition {
	switch {
	case stepOrder == totalSteps:
		return PositionFinal
	case stepOrder == 1:
		return PositionFirst
	default:
		return PositionMiddle
	}
}

// IsReceivingStep reports whether a first step is a designated receiving
// step, which creates its WIP layer without recognising cost in the GL.
func IsReceivingStep(description string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(description)), "receiv")
}

// OverheadCost applies the work-center hourly rate to the step duration.
func OverheadCost(costPerHour, durationMinutes int64) int64 {
	if costPerHour <= 0 || durationMinutes <= 0 {
		return 0
	}
	return costing.RoundDiv(costPerHour*durationMinutes, 60)
}

// YieldBps is the output-over-input ratio in basis points.
func YieldBps(inputQty, outputQty int64) int64 {
	if inputQty <= 0 {
		return 0
	}
	return costing.RoundDiv(outputQty*10000, inputQty)
}

// UnitCostAfterYield spreads the accumulated step cost over the good
// output.
func UnitCostAfterYield(totalCost, outputQty int64) int64 {
	if outputQty <= 0 {
		return 0
	}
	return costing.RoundDiv(totalCost, outputQty)
}

// WIPBatch names the inter-step layer for a work order step.
func WIPBatch(workOrderID int64, stepOrder int) string {
	return fmt.Sprintf("WO-%d-STEP-%d", workOrderID, stepOrder)
}

// FGBatch names the finished-goods layer of a work order.
func FGBatch(workOrderID int64) string {
	return fmt.Sprintf("WO-%d-FG", workOrderID)
}
