package purchasing

import (
	"errors"
	"time"
)

// ApprovalStatus enumerates the bill approval gate states.
type ApprovalStatus string

const (
	// ApprovalNone means the bill posted without needing approval.
	ApprovalNone ApprovalStatus = "NONE"
	// ApprovalPending means layer creation and GL posting are deferred.
	ApprovalPending ApprovalStatus = "PENDING"
	// ApprovalApproved means the deferred effects have been applied.
	ApprovalApproved ApprovalStatus = "APPROVED"
	// ApprovalRejected means the effects were discarded; no GL was written.
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// PurchaseOrder carries the fields the three-way match reads.
type PurchaseOrder struct {
	ID         int64
	Number     string
	SupplierID int64
}

// POLine tracks received and billed quantity per item.
type POLine struct {
	ID          int64
	POID        int64
	ItemID      int64
	Qty         int64
	UnitCost    int64
	QtyReceived int64
	QtyBilled   int64
}

// Bill is a vendor bill linked to a purchase order.
type Bill struct {
	ID         int64
	Number     string
	POID       int64
	SupplierID int64
	Date       time.Time
	Total      int64
	Approval   ApprovalStatus
	Posted     bool
	Deleted    bool
	EntryID    *int64
	Warehouse  string
}

// BillLine is one billed item quantity at a unit price.
type BillLine struct {
	ID       int64
	BillID   int64
	ItemID   int64
	Qty      int64
	UnitCost int64
}

// BillLineInput describes a requested bill line.
type BillLineInput struct {
	ItemID   int64
	Qty      int64
	UnitCost int64
}

// CreateBillInput groups fields to create a PO-linked vendor bill.
type CreateBillInput struct {
	ActorID       int64
	ActorElevated bool
	POID          int64
	Number        string
	Date          time.Time
	Warehouse     string
	Lines         []BillLineInput
}

// UpdateBillInput replaces a bill's date and lines. The prior layers and GL
// are fully reversed before the new values apply.
type UpdateBillInput struct {
	ActorID       int64
	ActorElevated bool
	BillID        int64
	Date          time.Time
	Lines         []BillLineInput
}

// BillResult pairs the stored bill with non-blocking match warnings.
type BillResult struct {
	Bill     Bill
	Warnings []string
}

var (
	// ErrThreeWayMatch indicates the bill does not reconcile with the PO's
	// received-minus-billed remainder.
	ErrThreeWayMatch = errors.New("purchasing: three-way match failed")
	// ErrPONotFound indicates a missing purchase order.
	ErrPONotFound = errors.New("purchasing: purchase order not found")
	// ErrBillNotFound indicates a missing bill.
	ErrBillNotFound = errors.New("purchasing: bill not found")
	// ErrInvalidState indicates the bill is not in a state allowing the
	// requested transition.
	ErrInvalidState = errors.New("purchasing: invalid bill state")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("purchasing: validation failed")
)

// Validate checks structural input constraints before any repository work.
func (in CreateBillInput) Validate() error {
	if in.POID == 0 {
		return ErrValidation
	}
	if in.Date.IsZero() {
		return ErrValidation
	}
	if len(in.Lines) == 0 {
		return ErrValidation
	}
	for _, line := range in.Lines {
		if line.ItemID == 0 || line.Qty <= 0 || line.UnitCost < 0 {
			return ErrValidation
		}
	}
	return nil
}
