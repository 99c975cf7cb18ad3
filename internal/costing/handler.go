package costing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes inventory read endpoints and standalone receipts.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/items/{id}/availability", h.availability)
	r.Get("/items/{id}/cost", h.currentCost)
	r.Post("/layers", h.createLayer)
}

func (h *Handler) availability(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	qty, err := h.service.Availability(r.Context(), itemID, r.URL.Query().Get("location"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"item_id": itemID, "available_qty": qty})
}

func (h *Handler) currentCost(w http.ResponseWriter, r *http.Request) {
	itemID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid item id")
		return
	}
	cost, err := h.service.CurrentCost(r.Context(), itemID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"item_id": itemID, "unit_cost": cost})
}

type createLayerRequest struct {
	ItemID      int64  `json:"item_id" validate:"required"`
	BatchNumber string `json:"batch_number" validate:"required"`
	Qty         int64  `json:"qty" validate:"required,gt=0"`
	UnitCost    int64  `json:"unit_cost" validate:"gte=0"`
	ReceiveDate string `json:"receive_date" validate:"required"`
	Location    string `json:"location"`
}

func (h *Handler) createLayer(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	var req createLayerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	received, err := time.Parse("2006-01-02", req.ReceiveDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "receive_date must be YYYY-MM-DD")
		return
	}
	layer, err := h.service.CreateLayer(r.Context(), actor.ID, CreateLayerInput{
		ItemID:      req.ItemID,
		BatchNumber: req.BatchNumber,
		Qty:         req.Qty,
		UnitCost:    req.UnitCost,
		ReceiveDate: received,
		Location:    req.Location,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, layer)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrItemNotFound), errors.Is(err, ErrLayerNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateBatch):
		httpx.Problem(w, http.StatusConflict, "Duplicate Batch", err.Error())
	case errors.Is(err, ErrInvalidQuantity):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrInsufficientInventory), errors.Is(err, ErrLayerConsumed):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("costing handler failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
