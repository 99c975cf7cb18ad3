package purchasing

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository joins the bill rows with the ledger and layer operations so
// one document commits as one transaction.
type TxRepository interface {
	ledger.TxRepository
	costing.TxRepository

	POWithLinesForUpdate(ctx context.Context, poID int64) (PurchaseOrder, []POLine, error)
	AddPOLineBilled(ctx context.Context, lineID int64, delta int64) error
	InsertBill(ctx context.Context, bill Bill) (int64, error)
	InsertBillLines(ctx context.Context, billID int64, lines []BillLine) error
	BillWithLines(ctx context.Context, billID int64) (Bill, []BillLine, error)
	DeleteBillLines(ctx context.Context, billID int64) error
	UpdateBill(ctx context.Context, bill Bill) error
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records purchasing events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records approval history for deferred bills.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
	EnsureSubmit(ctx context.Context, module string, ref uuid.UUID, actorID int64, note string) error
}

// Config tunes the approval gate and match tolerance.
type Config struct {
	// ApprovalThreshold is the bill total (minor units) above which a
	// non-elevated actor's bill waits for approval.
	ApprovalThreshold int64
	// PriceToleranceBps is the allowed unit price deviation from the PO
	// cost, in basis points. Outside it the match warns but still posts.
	PriceToleranceBps int64
}

// Service orchestrates the three-way-match bill pipeline.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	approvals ApprovalPort
	cfg       Config
	now       func() time.Time
}

// NewService constructs the purchasing service.
func NewService(repo RepositoryPort, audit AuditPort, approvals ApprovalPort, cfg Config) *Service {
	if cfg.PriceToleranceBps == 0 {
		cfg.PriceToleranceBps = 500
	}
	return &Service{repo: repo, audit: audit, approvals: approvals, cfg: cfg, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateBill validates each line against the PO remainder, persists the
// bill, and either applies layer creation and GL posting immediately or
// defers them behind the approval gate.
func (s *Service) CreateBill(ctx context.Context, input CreateBillInput) (BillResult, error) {
	if err := input.Validate(); err != nil {
		return BillResult{}, err
	}
	if input.Number == "" {
		input.Number = fmt.Sprintf("BILL-%d", s.now().UnixNano())
	}
	var result BillResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ledger.EnsureMutable(ctx, tx, input.Date); err != nil {
			return err
		}
		po, poLines, err := tx.POWithLinesForUpdate(ctx, input.POID)
		if err != nil {
			return err
		}
		matched, warnings, err := s.matchLines(po, poLines, input.Lines)
		if err != nil {
			return err
		}
		bill := Bill{
			Number:     input.Number,
			POID:       po.ID,
			SupplierID: po.SupplierID,
			Date:       input.Date,
			Total:      billTotal(input.Lines),
			Approval:   ApprovalNone,
			Warehouse:  input.Warehouse,
		}
		needsApproval := s.cfg.ApprovalThreshold > 0 && bill.Total > s.cfg.ApprovalThreshold && !input.ActorElevated
		if needsApproval {
			bill.Approval = ApprovalPending
		}
		billID, err := tx.InsertBill(ctx, bill)
		if err != nil {
			return err
		}
		bill.ID = billID
		lines := make([]BillLine, 0, len(input.Lines))
		for _, line := range input.Lines {
			lines = append(lines, BillLine{BillID: billID, ItemID: line.ItemID, Qty: line.Qty, UnitCost: line.UnitCost})
		}
		if err := tx.InsertBillLines(ctx, billID, lines); err != nil {
			return err
		}
		// The PO remainder is claimed at match time for both paths so a
		// second bill cannot overbill while this one waits for approval.
		for i, line := range input.Lines {
			if err := tx.AddPOLineBilled(ctx, matched[i].ID, line.Qty); err != nil {
				return err
			}
		}
		if !needsApproval {
			if err := s.applyBillEffectsTx(ctx, tx, &bill, lines); err != nil {
				return err
			}
		}
		result = BillResult{Bill: bill, Warnings: warnings}
		return nil
	})
	if err != nil {
		return BillResult{}, err
	}
	if result.Bill.Approval == ApprovalPending && s.approvals != nil {
		_ = s.approvals.EnsureSubmit(ctx, "BILL", billRef(result.Bill.ID), input.ActorID,
			fmt.Sprintf("Bill %s awaiting approval", result.Bill.Number))
	}
	s.recordAudit(ctx, input.ActorID, "bill.create", result.Bill.ID, map[string]any{
		"number": result.Bill.Number, "total": result.Bill.Total, "approval": string(result.Bill.Approval),
	})
	return result, nil
}

// ApproveBill applies the deferred layer creation and GL posting.
func (s *Service) ApproveBill(ctx context.Context, billID int64, actorID int64) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, lines, err := tx.BillWithLines(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Approval != ApprovalPending || bill.Deleted {
			return ErrInvalidState
		}
		bill.Approval = ApprovalApproved
		if err := s.applyBillEffectsTx(ctx, tx, &bill, lines); err != nil {
			return err
		}
		number = bill.Number
		return nil
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: "BILL", RefID: billRef(billID), ActorID: actorID,
			Action: shared.ApprovalApprove, Note: fmt.Sprintf("Bill %s approved", number),
		})
	}
	s.recordAudit(ctx, actorID, "bill.approve", billID, nil)
	return nil
}

// RejectBill discards a pending bill's deferred effects. The claimed PO
// remainder is released; no GL is ever written for it.
func (s *Service) RejectBill(ctx context.Context, billID int64, actorID int64) error {
	var number string
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, lines, err := tx.BillWithLines(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Approval != ApprovalPending || bill.Deleted {
			return ErrInvalidState
		}
		if err := s.releaseBilledTx(ctx, tx, bill.POID, lines); err != nil {
			return err
		}
		bill.Approval = ApprovalRejected
		number = bill.Number
		return tx.UpdateBill(ctx, bill)
	})
	if err != nil {
		return err
	}
	if s.approvals != nil {
		_ = s.approvals.Record(ctx, shared.ApprovalLog{
			Module: "BILL", RefID: billRef(billID), ActorID: actorID,
			Action: shared.ApprovalReject, Note: fmt.Sprintf("Bill %s rejected", number),
		})
	}
	s.recordAudit(ctx, actorID, "bill.reject", billID, nil)
	return nil
}

// UpdateBill fully reverses the bill's prior layers and GL before applying
// the new values. Corrections are delete-and-recreate, never an incremental
// patch.
func (s *Service) UpdateBill(ctx context.Context, input UpdateBillInput) (BillResult, error) {
	if input.BillID == 0 || input.Date.IsZero() || len(input.Lines) == 0 {
		return BillResult{}, ErrValidation
	}
	for _, line := range input.Lines {
		if line.ItemID == 0 || line.Qty <= 0 || line.UnitCost < 0 {
			return BillResult{}, ErrValidation
		}
	}
	var result BillResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ledger.EnsureMutable(ctx, tx, input.Date); err != nil {
			return err
		}
		bill, oldLines, err := tx.BillWithLines(ctx, input.BillID)
		if err != nil {
			return err
		}
		if bill.Deleted || bill.Approval == ApprovalRejected {
			return ErrInvalidState
		}
		if err := s.reverseBillEffectsTx(ctx, tx, &bill, oldLines); err != nil {
			return err
		}
		po, poLines, err := tx.POWithLinesForUpdate(ctx, bill.POID)
		if err != nil {
			return err
		}
		matched, warnings, err := s.matchLines(po, poLines, input.Lines)
		if err != nil {
			return err
		}
		if err := tx.DeleteBillLines(ctx, bill.ID); err != nil {
			return err
		}
		lines := make([]BillLine, 0, len(input.Lines))
		for _, line := range input.Lines {
			lines = append(lines, BillLine{BillID: bill.ID, ItemID: line.ItemID, Qty: line.Qty, UnitCost: line.UnitCost})
		}
		if err := tx.InsertBillLines(ctx, bill.ID, lines); err != nil {
			return err
		}
		for i, line := range input.Lines {
			if err := tx.AddPOLineBilled(ctx, matched[i].ID, line.Qty); err != nil {
				return err
			}
		}
		bill.Date = input.Date
		bill.Total = billTotal(input.Lines)
		needsApproval := s.cfg.ApprovalThreshold > 0 && bill.Total > s.cfg.ApprovalThreshold && !input.ActorElevated
		if needsApproval {
			bill.Approval = ApprovalPending
			bill.Posted = false
			bill.EntryID = nil
			if err := tx.UpdateBill(ctx, bill); err != nil {
				return err
			}
		} else {
			bill.Approval = ApprovalNone
			if err := s.applyBillEffectsTx(ctx, tx, &bill, lines); err != nil {
				return err
			}
		}
		result = BillResult{Bill: bill, Warnings: warnings}
		return nil
	})
	if err != nil {
		return BillResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "bill.update", input.BillID, map[string]any{"total": result.Bill.Total})
	return result, nil
}

// DeleteBill reverses the bill's layers and GL and soft-marks the header.
func (s *Service) DeleteBill(ctx context.Context, billID int64, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		bill, lines, err := tx.BillWithLines(ctx, billID)
		if err != nil {
			return err
		}
		if bill.Deleted {
			return ErrInvalidState
		}
		if err := s.reverseBillEffectsTx(ctx, tx, &bill, lines); err != nil {
			return err
		}
		bill.Deleted = true
		bill.Posted = false
		return tx.UpdateBill(ctx, bill)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "bill.delete", billID, nil)
	return nil
}

// matchLines performs the three-way match for every requested line and
// returns the matched PO lines in request order.
func (s *Service) matchLines(po PurchaseOrder, poLines []POLine, requested []BillLineInput) ([]POLine, []string, error) {
	byItem := make(map[int64]*POLine, len(poLines))
	for i := range poLines {
		byItem[poLines[i].ItemID] = &poLines[i]
	}
	matched := make([]POLine, 0, len(requested))
	var warnings []string
	for _, line := range requested {
		poLine, ok := byItem[line.ItemID]
		if !ok {
			return nil, nil, fmt.Errorf("%w: item %d not on PO %s", ErrThreeWayMatch, line.ItemID, po.Number)
		}
		remainder := poLine.QtyReceived - poLine.QtyBilled
		if line.Qty > remainder {
			return nil, nil, fmt.Errorf("%w: item %d billing %d exceeds remainder %d", ErrThreeWayMatch, line.ItemID, line.Qty, remainder)
		}
		if poLine.UnitCost > 0 {
			diff := line.UnitCost - poLine.UnitCost
			if diff < 0 {
				diff = -diff
			}
			if diff*10000 > s.cfg.PriceToleranceBps*poLine.UnitCost {
				warnings = append(warnings, fmt.Sprintf("item %d price %d outside tolerance of PO cost %d", line.ItemID, line.UnitCost, poLine.UnitCost))
			}
		}
		// Track the claim locally so duplicated items within one bill are
		// matched against the already-reduced remainder.
		poLine.QtyBilled += line.Qty
		matched = append(matched, *poLine)
	}
	return matched, warnings, nil
}

// applyBillEffectsTx creates one layer per line and posts one debit per
// distinct asset account plus one accounts-payable credit.
func (s *Service) applyBillEffectsTx(ctx context.Context, tx TxRepository, bill *Bill, lines []BillLine) error {
	deltas := map[string]int64{}
	order := []string{}
	for _, line := range lines {
		item, err := tx.Item(ctx, line.ItemID)
		if err != nil {
			return err
		}
		if _, err := costing.CreateLayerTx(ctx, tx, costing.CreateLayerInput{
			ItemID:      line.ItemID,
			BatchNumber: fmt.Sprintf("BILL-%d-%d", bill.ID, line.ItemID),
			Qty:         line.Qty,
			UnitCost:    line.UnitCost,
			ReceiveDate: bill.Date,
			Location:    bill.Warehouse,
		}); err != nil {
			return err
		}
		account, err := costing.AssetAccountTx(ctx, tx, item)
		if err != nil {
			return err
		}
		if _, seen := deltas[account]; !seen {
			order = append(order, account)
		}
		deltas[account] += line.Qty * line.UnitCost
	}
	apAccount, err := tx.MappedAccount(ctx, "PURCHASING", "AP")
	if err != nil {
		return err
	}
	entryLines := make([]ledger.LineInput, 0, len(order)+1)
	for _, account := range order {
		entryLines = append(entryLines, ledger.LineInput{AccountCode: account, Debit: deltas[account], Description: "Inventory receipt"})
	}
	entryLines = append(entryLines, ledger.LineInput{AccountCode: apAccount, Credit: bill.Total, Description: "Accounts payable"})
	entry, err := ledger.PostTx(ctx, tx, ledger.PostInput{
		Date:          bill.Date,
		Description:   fmt.Sprintf("Vendor bill %s", bill.Number),
		Reference:     bill.Number,
		CorrelationID: fmt.Sprintf("BILL-%d", bill.ID),
		Lines:         entryLines,
	})
	if err != nil {
		return err
	}
	bill.Posted = true
	bill.EntryID = &entry.ID
	return tx.UpdateBill(ctx, *bill)
}

// reverseBillEffectsTx removes the bill's layers, reverses its journal
// entry, and releases the claimed PO remainder.
func (s *Service) reverseBillEffectsTx(ctx context.Context, tx TxRepository, bill *Bill, lines []BillLine) error {
	if bill.Posted {
		if err := costing.ReverseDocumentLayersTx(ctx, tx, fmt.Sprintf("BILL-%d-", bill.ID)); err != nil {
			return err
		}
		if bill.EntryID != nil {
			if _, err := ledger.ReverseTx(ctx, tx, *bill.EntryID, s.now(), 0); err != nil {
				return err
			}
		}
		bill.Posted = false
		bill.EntryID = nil
	}
	return s.releaseBilledTx(ctx, tx, bill.POID, lines)
}

func (s *Service) releaseBilledTx(ctx context.Context, tx TxRepository, poID int64, lines []BillLine) error {
	_, poLines, err := tx.POWithLinesForUpdate(ctx, poID)
	if err != nil {
		return err
	}
	byItem := make(map[int64]int64, len(poLines))
	for _, poLine := range poLines {
		byItem[poLine.ItemID] = poLine.ID
	}
	for _, line := range lines {
		lineID, ok := byItem[line.ItemID]
		if !ok {
			continue
		}
		if err := tx.AddPOLineBilled(ctx, lineID, -line.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, billID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "vendor_bill",
		EntityID: fmt.Sprintf("%d", billID),
		Meta:     meta,
		At:       s.now(),
	})
}

func billTotal(lines []BillLineInput) int64 {
	var total int64
	for _, line := range lines {
		total += line.Qty * line.UnitCost
	}
	return total
}

func billRef(billID int64) uuid.UUID {
	return uuid.NewSHA1(uuid.Nil, []byte(fmt.Sprintf("BILL:%d", billID)))
}
