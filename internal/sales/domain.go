package sales

import (
	"errors"
	"time"
)

// Invoice is a customer invoice whose lines deplete inventory and post COGS
// alongside the revenue legs.
type Invoice struct {
	ID         int64
	Number     string
	CustomerID int64
	Date       time.Time
	Warehouse  string
	TaxRateBps int64
	Subtotal   int64
	Discount   int64
	Tax        int64
	Total      int64
	COGS       int64
	Posted     bool
	Deleted    bool
	EntryID    *int64
}

// InvoiceLine is one sold item quantity at a unit price.
type InvoiceLine struct {
	ID        int64
	InvoiceID int64
	ItemID    int64
	Qty       int64
	UnitPrice int64
	Discount  int64
}

// InvoiceLineInput describes a requested invoice line.
type InvoiceLineInput struct {
	ItemID    int64
	Qty       int64
	UnitPrice int64
	Discount  int64
}

// CreateInvoiceInput groups fields to create an invoice.
type CreateInvoiceInput struct {
	ActorID    int64
	Number     string
	CustomerID int64
	Date       time.Time
	Warehouse  string
	TaxRateBps int64
	Lines      []InvoiceLineInput
}

// UpdateInvoiceInput replaces an invoice's date and lines.
type UpdateInvoiceInput struct {
	ActorID    int64
	InvoiceID  int64
	Date       time.Time
	Warehouse  string
	TaxRateBps int64
	Lines      []InvoiceLineInput
}

// LocationTransfer is the audit row recorded for every layer an invoice
// consumed.
type LocationTransfer struct {
	ID        int64
	InvoiceID int64
	LayerID   int64
	ItemID    int64
	Qty       int64
	Location  string
	At        time.Time
}

var (
	// ErrInvoiceNotFound indicates a missing invoice.
	ErrInvoiceNotFound = errors.New("sales: invoice not found")
	// ErrInvalidState indicates the invoice cannot take the transition.
	ErrInvalidState = errors.New("sales: invalid invoice state")
	// ErrValidation indicates malformed input.
	ErrValidation = errors.New("sales: validation failed")
)

func validateLines(date time.Time, lines []InvoiceLineInput) error {
	if date.IsZero() || len(lines) == 0 {
		return ErrValidation
	}
	for _, line := range lines {
		if line.ItemID == 0 || line.Qty <= 0 || line.UnitPrice < 0 || line.Discount < 0 {
			return ErrValidation
		}
		if line.Discount > line.Qty*line.UnitPrice {
			return ErrValidation
		}
	}
	return nil
}
