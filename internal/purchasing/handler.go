package purchasing

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes vendor bill endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers purchasing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/bills", h.createBill)
	r.Post("/bills/{id}/approve", h.approveBill)
	r.Post("/bills/{id}/reject", h.rejectBill)
	r.Put("/bills/{id}", h.updateBill)
	r.Delete("/bills/{id}", h.deleteBill)
}

type billLineRequest struct {
	ItemID   int64 `json:"item_id" validate:"required"`
	Qty      int64 `json:"qty" validate:"required,gt=0"`
	UnitCost int64 `json:"unit_cost" validate:"gte=0"`
}

type createBillRequest struct {
	POID      int64             `json:"po_id" validate:"required"`
	Number    string            `json:"number" validate:"required"`
	Date      string            `json:"date" validate:"required"`
	Warehouse string            `json:"warehouse"`
	Lines     []billLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) createBill(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	var req createBillRequest
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
	result, err := h.service.CreateBill(r.Context(), CreateBillInput{
		ActorID:       actor.ID,
		ActorElevated: actor.Elevated,
		POID:          req.POID,
		Number:        req.Number,
		Date:          date,
		Warehouse:     req.Warehouse,
		Lines:         toBillLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

func (h *Handler) approveBill(w http.ResponseWriter, r *http.Request) {
	h.billAction(w, r, h.service.ApproveBill)
}

func (h *Handler) rejectBill(w http.ResponseWriter, r *http.Request) {
	h.billAction(w, r, h.service.RejectBill)
}

func (h *Handler) billAction(w http.ResponseWriter, r *http.Request, action func(ctx context.Context, billID, actorID int64) error) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	if err := action(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateBillRequest struct {
	Date  string            `json:"date" validate:"required"`
	Lines []billLineRequest `json:"lines" validate:"required,min=1,dive"`
}

func (h *Handler) updateBill(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	var req updateBillRequest
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
	result, err := h.service.UpdateBill(r.Context(), UpdateBillInput{
		ActorID:       actor.ID,
		ActorElevated: actor.Elevated,
		BillID:        id,
		Date:          date,
		Lines:         toBillLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) deleteBill(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid bill id")
		return
	}
	if err := h.service.DeleteBill(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrPONotFound), errors.Is(err, ErrBillNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrThreeWayMatch), errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInvalidState), errors.Is(err, ledger.ErrPeriodLocked):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("purchasing handler failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toBillLineInputs(lines []billLineRequest) []BillLineInput {
	out := make([]BillLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, BillLineInput{ItemID: line.ItemID, Qty: line.Qty, UnitCost: line.UnitCost})
	}
	return out
}
