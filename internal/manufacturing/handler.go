package manufacturing

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/meridian-erp/meridian-erp/internal/costing"
	"github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/platform/httpx"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Handler exposes work order step endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers manufacturing routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/work-orders/{id}/steps/{stepID}/start", h.startStep)
	r.Post("/work-orders/{id}/steps/{stepID}/submit", h.submitStep)
}

type materialInputRequest struct {
	ItemID int64 `json:"item_id" validate:"required"`
	Qty    int64 `json:"qty" validate:"required,gt=0"`
}

type submitStepRequest struct {
	InputQty        int64                  `json:"input_qty" validate:"required,gt=0"`
	OutputQty       int64                  `json:"output_qty" validate:"gte=0"`
	WasteQty        int64                  `json:"waste_qty" validate:"gte=0"`
	DurationMinutes int64                  `json:"duration_minutes" validate:"gte=0"`
	ExtraMaterials  []materialInputRequest `json:"extra_materials" validate:"dive"`
}

func (h *Handler) startStep(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	workOrderID, stepID, err := stepParams(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.StartStep(r.Context(), workOrderID, stepID, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) submitStep(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	workOrderID, stepID, err := stepParams(r)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	var req submitStepRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	extras := make([]MaterialInput, 0, len(req.ExtraMaterials))
	for _, extra := range req.ExtraMaterials {
		extras = append(extras, MaterialInput{ItemID: extra.ItemID, Qty: extra.Qty})
	}
	cost, err := h.service.SubmitStep(r.Context(), SubmitStepInput{
		ActorID:         actor.ID,
		WorkOrderID:     workOrderID,
		StepID:          stepID,
		InputQty:        req.InputQty,
		OutputQty:       req.OutputQty,
		WasteQty:        req.WasteQty,
		DurationMinutes: req.DurationMinutes,
		ExtraMaterials:  extras,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, cost)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrWorkOrderNotFound), errors.Is(err, ErrStepNotFound), errors.Is(err, costing.ErrItemNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrValidation):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrStepAlreadyCompleted), errors.Is(err, ErrInvalidTransition),
		errors.Is(err, costing.ErrInsufficientInventory), errors.Is(err, ledger.ErrPeriodLocked):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("manufacturing handler failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func stepParams(r *http.Request) (int64, int64, error) {
	workOrderID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		return 0, 0, errors.New("invalid work order id")
	}
	stepID, err := strconv.ParseInt(chi.URLParam(r, "stepID"), 10, 64)
	if err != nil {
		return 0, 0, errors.New("invalid step id")
	}
	return workOrderID, stepID, nil
}
