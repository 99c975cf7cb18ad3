package sales

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes sales invoice endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers sales routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/invoices", h.createInvoice)
	r.Put("/invoices/{id}", h.updateInvoice)
	r.Delete("/invoices/{id}", h.deleteInvoice)
}

type invoiceLineRequest struct {
	ItemID    int64 `json:"item_id" validate:"required"`
	Qty       int64 `json:"qty" validate:"required,gt=0"`
	UnitPrice int64 `json:"unit_price" validate:"gte=0"`
	Discount  int64 `json:"discount" validate:"gte=0"`
}

type createInvoiceRequest struct {
	Number     string               `json:"number" validate:"required"`
	CustomerID int64                `json:"customer_id" validate:"required"`
	Date       string               `json:"date" validate:"required"`
	Warehouse  string               `json:"warehouse"`
	TaxRateBps int64                `json:"tax_rate_bps" validate:"gte=0"`
	Lines      []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	invoice, err := h.service.CreateInvoice(r.Context(), CreateInvoiceInput{
		ActorID:    actor.ID,
		Number:     req.Number,
		CustomerID: req.CustomerID,
		Date:       date,
		Warehouse:  req.Warehouse,
		TaxRateBps: req.TaxRateBps,
		Lines:      toInvoiceLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, invoice)
}

type updateInvoiceRequest struct {
	Date       string               `json:"date" validate:"required"`
	Warehouse  string               `json:"warehouse"`
	TaxRateBps int64                `json:"tax_rate_bps" validate:"gte=0"`
	Lines      []invoiceLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	var req updateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	invoice, err := h.service.UpdateInvoice(r.Context(), UpdateInvoiceInput{
		ActorID:    actor.ID,
		InvoiceID:  id,
		Date:       date,
		Warehouse:  req.Warehouse,
		TaxRateBps: req.TaxRateBps,
		Lines:      toInvoiceLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, invoice)
}

func (h *Handler) deleteInvoice(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid invoice id")
		return
	}
	if err := h.service.DeleteInvoice(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvoiceNotFound), errors.Is(err, costing.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, costing.ErrInsufficientInventory):
		httpx.Problem(w, http.StatusConflict, "Insufficient Inventory", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ledger.ErrPeriodLocked):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("sales handler failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toInvoiceLineInputs(lines []invoiceLineRequest) []InvoiceLineInput {
	out := make([]InvoiceLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, InvoiceLineInput{ItemID: line.ItemID, Qty: line.Qty, UnitPrice: line.UnitPrice, Discount: line.Discount})
	}
	return out
}
