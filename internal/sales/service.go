package sales

import (
	"context"
	"fmt"
	"time"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// TxRepository joins invoice rows with the ledger and layer operations.
type TxRepository interface {
	ledger.TxRepository
	costing.TxRepository

	InsertInvoice(ctx context.Context, invoice Invoice) (int64, error)
	InsertInvoiceLines(ctx context.Context, invoiceID int64, lines []InvoiceLine) error
	InvoiceWithLines(ctx context.Context, invoiceID int64) (Invoice, []InvoiceLine, error)
	DeleteInvoiceLines(ctx context.Context, invoiceID int64) error
	UpdateInvoice(ctx context.Context, invoice Invoice) error
	InsertLocationTransfer(ctx context.Context, transfer LocationTransfer) error
	DeleteLocationTransfers(ctx context.Context, invoiceID int64) error
}

// RepositoryPort abstracts transactional repository behaviour.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// AuditPort records sales events.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates the invoice depletion pipeline.
type Service struct {
	repo  RepositoryPort
	audit AuditPort
	now   func() time.Time
}

// NewService constructs the sales service.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateInvoice depletes each line FIFO from QC-approved layers, posts the
// revenue legs and the COGS legs in one balanced entry, and records a
// transfer audit row per consumed layer.
func (s *Service) CreateInvoice(ctx context.Context, input CreateInvoiceInput) (Invoice, error) {
	if err := validateLines(input.Date, input.Lines); err != nil {
		return Invoice{}, err
	}
	if input.Number == "" {
		input.Number = fmt.Sprintf("INV-%d", s.now().UnixNano())
	}
	var created Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ledger.EnsureMutable(ctx, tx, input.Date); err != nil {
			return err
		}
		invoice := Invoice{
			Number:     input.Number,
			CustomerID: input.CustomerID,
			Date:       input.Date,
			Warehouse:  input.Warehouse,
			TaxRateBps: input.TaxRateBps,
		}
		invoiceID, err := tx.InsertInvoice(ctx, invoice)
		if err != nil {
			return err
		}
		invoice.ID = invoiceID
		lines := make([]InvoiceLine, 0, len(input.Lines))
		for _, line := range input.Lines {
			lines = append(lines, InvoiceLine{InvoiceID: invoiceID, ItemID: line.ItemID, Qty: line.Qty, UnitPrice: line.UnitPrice, Discount: line.Discount})
		}
		if err := tx.InsertInvoiceLines(ctx, invoiceID, lines); err != nil {
			return err
		}
		if err := s.applyInvoiceEffectsTx(ctx, tx, &invoice, lines); err != nil {
			return err
		}
		created = invoice
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, input.ActorID, "invoice.create", created.ID, map[string]any{
		"number": created.Number, "total": created.Total, "cogs": created.COGS,
	})
	return created, nil
}

// UpdateInvoice restores the consumed quantities to their original layers,
// reverses the posted entry, and re-derives the COGS and revenue legs from
// the new lines.
func (s *Service) UpdateInvoice(ctx context.Context, input UpdateInvoiceInput) (Invoice, error) {
	if input.InvoiceID == 0 {
		return Invoice{}, ErrValidation
	}
	if err := validateLines(input.Date, input.Lines); err != nil {
		return Invoice{}, err
	}
	var updated Invoice
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := ledger.EnsureMutable(ctx, tx, input.Date); err != nil {
			return err
		}
		invoice, _, err := tx.InvoiceWithLines(ctx, input.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.Deleted {
			return ErrInvalidState
		}
		if err := s.reverseInvoiceEffectsTx(ctx, tx, &invoice); err != nil {
			return err
		}
		if err := tx.DeleteInvoiceLines(ctx, invoice.ID); err != nil {
			return err
		}
		lines := make([]InvoiceLine, 0, len(input.Lines))
		for _, line := range input.Lines {
			lines = append(lines, InvoiceLine{InvoiceID: invoice.ID, ItemID: line.ItemID, Qty: line.Qty, UnitPrice: line.UnitPrice, Discount: line.Discount})
		}
		if err := tx.InsertInvoiceLines(ctx, invoice.ID, lines); err != nil {
			return err
		}
		invoice.Date = input.Date
		invoice.Warehouse = input.Warehouse
		invoice.TaxRateBps = input.TaxRateBps
		if err := s.applyInvoiceEffectsTx(ctx, tx, &invoice, lines); err != nil {
			return err
		}
		updated = invoice
		return nil
	})
	if err != nil {
		return Invoice{}, err
	}
	s.recordAudit(ctx, input.ActorID, "invoice.update", input.InvoiceID, map[string]any{"total": updated.Total})
	return updated, nil
}

// DeleteInvoice restores inventory, reverses the entry, and soft-marks the
// invoice.
func (s *Service) DeleteInvoice(ctx context.Context, invoiceID int64, actorID int64) error {
	if invoiceID == 0 {
		return ErrValidation
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		invoice, _, err := tx.InvoiceWithLines(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Deleted {
			return ErrInvalidState
		}
		if err := s.reverseInvoiceEffectsTx(ctx, tx, &invoice); err != nil {
			return err
		}
		invoice.Deleted = true
		return tx.UpdateInvoice(ctx, invoice)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actorID, "invoice.delete", invoiceID, nil)
	return nil
}

func (s *Service) applyInvoiceEffectsTx(ctx context.Context, tx TxRepository, invoice *Invoice, lines []InvoiceLine) error {
	assetDeltas := map[string]int64{}
	assetOrder := []string{}
	var subtotal, discount, cogs int64
	for _, line := range lines {
		item, err := tx.Item(ctx, line.ItemID)
		if err != nil {
			return err
		}
		depletion, err := costing.DepleteTx(ctx, tx, costing.DepleteInput{
			ItemID:   line.ItemID,
			Qty:      line.Qty,
			Location: invoice.Warehouse,
			Ref:      invoiceRef(invoice.ID),
		})
		if err != nil {
			return err
		}
		for _, consumption := range depletion.Consumptions {
			if err := tx.InsertLocationTransfer(ctx, LocationTransfer{
				InvoiceID: invoice.ID,
				LayerID:   consumption.LayerID,
				ItemID:    consumption.ItemID,
				Qty:       consumption.Qty,
				Location:  invoice.Warehouse,
				At:        s.now(),
			}); err != nil {
				return err
			}
		}
		account, err := costing.AssetAccountTx(ctx, tx, item)
		if err != nil {
			return err
		}
		if _, seen := assetDeltas[account]; !seen {
			assetOrder = append(assetOrder, account)
		}
		assetDeltas[account] += depletion.Cost
		cogs += depletion.Cost
		subtotal += line.Qty * line.UnitPrice
		discount += line.Discount
	}
	tax := costing.RoundDiv((subtotal-discount)*invoice.TaxRateBps, 10000)
	total := subtotal - discount + tax

	arAccount, err := tx.MappedAccount(ctx, "SALES", "AR")
	if err != nil {
		return err
	}
	revenueAccount, err := tx.MappedAccount(ctx, "SALES", "REVENUE")
	if err != nil {
		return err
	}
	cogsAccount, err := tx.MappedAccount(ctx, "SALES", "COGS")
	if err != nil {
		return err
	}
	entryLines := []ledger.LineInput{
		{AccountCode: arAccount, Debit: total, Description: "Accounts receivable"},
		{AccountCode: revenueAccount, Credit: subtotal, Description: "Sales revenue"},
	}
	if discount > 0 {
		discountAccount, err := tx.MappedAccount(ctx, "SALES", "DISCOUNT")
		if err != nil {
			return err
		}
		entryLines = append(entryLines, ledger.LineInput{AccountCode: discountAccount, Debit: discount, Description: "Sales discounts"})
	}
	if tax > 0 {
		taxAccount, err := tx.MappedAccount(ctx, "SALES", "TAX")
		if err != nil {
			return err
		}
		entryLines = append(entryLines, ledger.LineInput{AccountCode: taxAccount, Credit: tax, Description: "Tax payable"})
	}
	if cogs > 0 {
		entryLines = append(entryLines, ledger.LineInput{AccountCode: cogsAccount, Debit: cogs, Description: "Cost of goods sold"})
		for _, account := range assetOrder {
			entryLines = append(entryLines, ledger.LineInput{AccountCode: account, Credit: assetDeltas[account], Description: "Inventory issue"})
		}
	}
	entry, err := ledger.PostTx(ctx, tx, ledger.PostInput{
		Date:          invoice.Date,
		Description:   fmt.Sprintf("Invoice %s", invoice.Number),
		Reference:     invoice.Number,
		CorrelationID: invoiceRef(invoice.ID),
		Lines:         entryLines,
	})
	if err != nil {
		return err
	}
	invoice.Subtotal = subtotal
	invoice.Discount = discount
	invoice.Tax = tax
	invoice.Total = total
	invoice.COGS = cogs
	invoice.Posted = true
	invoice.EntryID = &entry.ID
	return tx.UpdateInvoice(ctx, *invoice)
}

func (s *Service) reverseInvoiceEffectsTx(ctx context.Context, tx TxRepository, invoice *Invoice) error {
	if !invoice.Posted {
		return nil
	}
	if err := costing.RestoreTx(ctx, tx, invoiceRef(invoice.ID)); err != nil {
		return err
	}
	if err := tx.DeleteLocationTransfers(ctx, invoice.ID); err != nil {
		return err
	}
	if invoice.EntryID != nil {
		if _, err := ledger.ReverseTx(ctx, tx, *invoice.EntryID, s.now(), 0); err != nil {
			return err
		}
	}
	invoice.Posted = false
	invoice.EntryID = nil
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, invoiceID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "invoice",
		EntityID: fmt.Sprintf("%d", invoiceID),
		Meta:     meta,
		At:       s.now(),
	})
}

func invoiceRef(invoiceID int64) string {
	return fmt.Sprintf("INV-%d", invoiceID)
}
