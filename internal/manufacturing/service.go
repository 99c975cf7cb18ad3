package manufacturing

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository joins work-order rows with the ledger and layer operations
// so a step submission commits atomically: depletion, layer creation, GL
// entry, step cost write, and status transition together or not at all.
type TxRepository interface {
	ledger.TxRepository
	costing.TxRepository

	WorkOrderForUpdate(ctx context.Context, id int64) (WorkOrder, error)
	StepsByWorkOrder(ctx context.Context, workOrderID int64) ([]Step, error)
	UpdateStepStatus(ctx context.Context, stepID int64, status StepStatus) error
	WorkCenter(ctx context.Context, id int64) (WorkCenter, error)
	MaterialRequirements(ctx context.Context, workOrderID int64) ([]MaterialRequirement, error)
	StepCostExists(ctx context.Context, stepID int64) (bool, error)
	InsertStepCost(ctx context.Context, cost StepCost) error
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records manufacturing events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service runs the step-cost engine.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the manufacturing service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// StartStep transitions a pending step to in_progress.
func (s *Service) StartStep(ctx context.Context, workOrderID, stepID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.WorkOrderForUpdate(ctx, workOrderID); err != nil {
			return err
		}
		step, err := findStep(ctx, tx, workOrderID, stepID)
		if err != nil {
			return err
		}
		switch step.Status {
		case StepPending:
			return tx.UpdateStepStatus(ctx, stepID, StepInProgress)
		case StepCompleted:
			return ErrStepAlreadyCompleted
		default:
			return ErrInvalidTransition
		}
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "step.start", stepID, nil)
	return nil
}

// SubmitStep accumulates the step cost and completes the step. The cost of
// a step is the prior step's WIP hand-off plus consumed materials plus
// work-center overhead, spread over the good output after yield.
func (s *Service) SubmitStep(ctx context.Context, input SubmitStepInput) (StepCost, error) {
	if err := input.Validate(); err != nil {
		return StepCost{}, err
	}
	var result StepCost
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		if err := ledger.EnsureMutable(ctx, tx, now); err != nil {
			return err
		}
		wo, err := tx.WorkOrderForUpdate(ctx, input.WorkOrderID)
		if err != nil {
			return err
		}
		steps, err := tx.StepsByWorkOrder(ctx, wo.ID)
		if err != nil {
			return err
		}
		step, err := findStepIn(steps, input.StepID)
		if err != nil {
			return err
		}
		if step.Status == StepCompleted {
			return ErrStepAlreadyCompleted
		}
		if exists, err := tx.StepCostExists(ctx, step.ID); err != nil {
			return err
		} else if exists {
			return ErrStepAlreadyCompleted
		}
		position := ClassifyStep(step.StepOrder, len(steps))
		ref := WIPBatch(wo.ID, step.StepOrder)

		var previousStepCost int64
		if step.StepOrder > 1 {
			// A missing prior WIP layer is tolerated and costs nothing.
			previousStepCost, err = costing.DepleteBatchTx(ctx, tx, WIPBatch(wo.ID, step.StepOrder-1), input.InputQty, ref)
			if err != nil {
				return err
			}
		}

		materialCost := int64(0)
		materialCredits := map[string]int64{}
		creditOrder := []string{}
		consumeMaterial := func(itemID, qty int64) error {
			item, err := tx.Item(ctx, itemID)
			if err != nil {
				return err
			}
			depletion, err := costing.DepleteTx(ctx, tx, costing.DepleteInput{ItemID: itemID, Qty: qty, Ref: ref})
			if err != nil {
				return err
			}
			account, err := costing.AssetAccountTx(ctx, tx, item)
			if err != nil {
				return err
			}
			if _, seen := materialCredits[account]; !seen {
				creditOrder = append(creditOrder, account)
			}
			materialCredits[account] += depletion.Cost
			materialCost += depletion.Cost
			return nil
		}
		if step.StepOrder == 1 {
			requirements, err := tx.MaterialRequirements(ctx, wo.ID)
			if err != nil {
				return err
			}
			for _, requirement := range requirements {
				if err := consumeMaterial(requirement.ItemID, requirement.QtyPerUnit*input.InputQty); err != nil {
					return err
				}
			}
		}
		for _, extra := range input.ExtraMaterials {
			if err := consumeMaterial(extra.ItemID, extra.Qty); err != nil {
				return err
			}
		}

		var overheadCost int64
		if step.WorkCenterID != nil && input.DurationMinutes > 0 {
			workCenter, err := tx.WorkCenter(ctx, *step.WorkCenterID)
			if err != nil {
				return err
			}
			overheadCost = OverheadCost(workCenter.CostPerHour, input.DurationMinutes)
		}

		totalCost := previousStepCost + materialCost + overheadCost
		unitCost := UnitCostAfterYield(totalCost, input.OutputQty)
		cost := StepCost{
			StepID:             step.ID,
			InputQty:           input.InputQty,
			OutputQty:          input.OutputQty,
			WasteQty:           input.WasteQty,
			MaterialCost:       materialCost,
			OverheadCost:       overheadCost,
			PreviousStepCost:   previousStepCost,
			TotalCost:          totalCost,
			YieldBps:           YieldBps(input.InputQty, input.OutputQty),
			UnitCostAfterYield: unitCost,
		}

		receiving := position == PositionFirst && IsReceivingStep(step.Description)
		if !receiving {
			if err := s.postStepEntryTx(ctx, tx, wo, step, position, cost, materialCredits, creditOrder, input.ActorID, now); err != nil {
				return err
			}
		}

		if input.OutputQty > 0 {
			layerInput := costing.CreateLayerInput{
				ItemID:      wo.WIPItemID,
				BatchNumber: WIPBatch(wo.ID, step.StepOrder),
				Qty:         input.OutputQty,
				UnitCost:    unitCost,
				ReceiveDate: now,
			}
			if position == PositionFinal {
				layerInput.ItemID = wo.ItemID
				layerInput.BatchNumber = FGBatch(wo.ID)
			}
			if _, err := costing.CreateLayerTx(ctx, tx, layerInput); err != nil {
				return err
			}
		}

		if err := tx.InsertStepCost(ctx, cost); err != nil {
			return err
		}
		if err := tx.UpdateStepStatus(ctx, step.ID, StepCompleted); err != nil {
			return err
		}
		result = cost
		return nil
	})
	if err != nil {
		return StepCost{}, err
	}
	s.recordAudit(ctx, input.ActorID, "step.submit", input.StepID, map[string]any{
		"total_cost": result.TotalCost, "yield_bps": result.YieldBps,
	})
	return result, nil
}

// postStepEntryTx books the position-dependent GL effect: first and middle
// steps move material and overhead into WIP; the final step moves the full
// accumulated cost into finished goods.
func (s *Service) postStepEntryTx(ctx context.Context, tx TxRepository, wo WorkOrder, step Step, position StepPosition, cost StepCost, materialCredits map[string]int64, creditOrder []string, actorID int64, now time.Time) error {
	var entryLines []ledger.LineInput
	switch position {
	case PositionFirst, PositionMiddle:
		incremental := cost.MaterialCost + cost.OverheadCost
		if incremental == 0 {
			return nil
		}
		wipAccount, err := tx.MappedAccount(ctx, "MFG", "WIP")
		if err != nil {
			return err
		}
		entryLines = append(entryLines, ledger.LineInput{AccountCode: wipAccount, Debit: incremental, Description: "Work in progress"})
		for _, account := range creditOrder {
			entryLines = append(entryLines, ledger.LineInput{AccountCode: account, Credit: materialCredits[account], Description: "Materials to WIP"})
		}
		if cost.OverheadCost > 0 {
			overheadAccount, err := tx.MappedAccount(ctx, "MFG", "OVERHEAD")
			if err != nil {
				return err
			}
			entryLines = append(entryLines, ledger.LineInput{AccountCode: overheadAccount, Credit: cost.OverheadCost, Description: "Applied overhead"})
		}
	case PositionFinal:
		if cost.TotalCost == 0 {
			return nil
		}
		item, err := tx.Item(ctx, wo.ItemID)
		if err != nil {
			return err
		}
		fgAccount, err := costing.AssetAccountTx(ctx, tx, item)
		if err != nil {
			return err
		}
		entryLines = append(entryLines, ledger.LineInput{AccountCode: fgAccount, Debit: cost.TotalCost, Description: "Finished goods"})
		if cost.PreviousStepCost > 0 {
			wipAccount, err := tx.MappedAccount(ctx, "MFG", "WIP")
			if err != nil {
				return err
			}
			entryLines = append(entryLines, ledger.LineInput{AccountCode: wipAccount, Credit: cost.PreviousStepCost, Description: "WIP relieved"})
		}
		for _, account := range creditOrder {
			entryLines = append(entryLines, ledger.LineInput{AccountCode: account, Credit: materialCredits[account], Description: "Materials to finished goods"})
		}
		if cost.OverheadCost > 0 {
			overheadAccount, err := tx.MappedAccount(ctx, "MFG", "OVERHEAD")
			if err != nil {
				return err
			}
			entryLines = append(entryLines, ledger.LineInput{AccountCode: overheadAccount, Credit: cost.OverheadCost, Description: "Applied overhead"})
		}
	}
	if len(entryLines) < 2 {
		return nil
	}
	_, err := ledger.PostTx(ctx, tx, ledger.PostInput{
		ActorID:       actorID,
		Date:          now,
		Description:   fmt.Sprintf("Work order %s step %d", wo.Number, step.StepOrder),
		Reference:     wo.Number,
		CorrelationID: WIPBatch(wo.ID, step.StepOrder),
		Lines:         entryLines,
	})
	return err
}

func findStep(ctx context.Context, tx TxRepository, workOrderID, stepID int64) (Step, error) {
	steps, err := tx.StepsByWorkOrder(ctx, workOrderID)
	if err != nil {
		return Step{}, err
	}
	return findStepIn(steps, stepID)
}

func findStepIn(steps []Step, stepID int64) (Step, error) {
	for _, step := range steps {
		if step.ID == stepID {
			return step, nil
		}
	}
	return Step{}, ErrStepNotFound
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, stepID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "work_order_step",
		EntityID: fmt.Sprintf("%d", stepID),
		Meta:     meta,
		At:       s.now(),
	})
}
