package ledger

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

const dateLayout = "2006-01-02"

// Handler exposes the journal and period endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers finance routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/journals", h.postJournal)
	r.Post("/journals/{id}/reverse", h.reverseJournal)
	r.Put("/journals/{id}", h.updateJournal)
	r.Delete("/journals/{id}", h.deleteJournal)
	r.Get("/journals/{id}", h.getJournal)
	r.Post("/periods/close", h.closePeriod)
	r.Get("/trial-balance", h.trialBalance)
	r.Get("/accounts/{code}", h.accountBalance)
}

type journalLineRequest struct {
	AccountCode string `json:"account_code" validate:"required"`
	Debit       int64  `json:"debit" validate:"gte=0"`
	Credit      int64  `json:"credit" validate:"gte=0"`
	Description string `json:"description"`
}

type postJournalRequest struct {
	Date          string               `json:"date" validate:"required"`
	Description   string               `json:"description" validate:"required"`
	Reference     string               `json:"reference"`
	CorrelationID string               `json:"correlation_id"`
	Lines         []journalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	var req postJournalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	entry, err := h.service.Post(r.Context(), PostInput{
		ActorID:       actor.ID,
		Date:          date,
		Description:   req.Description,
		Reference:     req.Reference,
		CorrelationID: req.CorrelationID,
		Lines:         toLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) reverseJournal(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req struct {
		Date string `json:"date"`
	}
	_ = httpx.DecodeJSON(r, &req)
	effective := time.Now()
	if req.Date != "" {
		effective, err = time.Parse(dateLayout, req.Date)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
			return
		}
	}
	entry, err := h.service.Reverse(r.Context(), id, effective, actor.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

type updateJournalRequest struct {
	Date        string               `json:"date" validate:"required"`
	Description string               `json:"description" validate:"required"`
	Lines       []journalLineRequest `json:"lines" validate:"required,min=2,dive"`
}

func (h *Handler) updateJournal(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	var req updateJournalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	entry, err := h.service.Update(r.Context(), UpdateInput{
		EntryID:     id,
		ActorID:     actor.ID,
		Date:        date,
		Description: req.Description,
		Lines:       toLineInputs(req.Lines),
	})
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) deleteJournal(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	if err := h.service.Delete(r.Context(), id, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getJournal(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid entry id")
		return
	}
	entry, err := h.service.Entry(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) closePeriod(w http.ResponseWriter, r *http.Request) {
	actor, ok := shared.ActorFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Missing Actor", "X-Actor-ID header required")
		return
	}
	var req struct {
		ClosingDate string `json:"closing_date" validate:"required"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid Body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse(dateLayout, req.ClosingDate)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "closing_date must be YYYY-MM-DD")
		return
	}
	if err := h.service.ClosePeriod(r.Context(), date, actor.ID); err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"lock_date": date.Format(dateLayout)})
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	debits, credits, err := h.service.TrialBalance(r.Context())
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int64{"debits": debits, "credits": credits})
}

func (h *Handler) accountBalance(w http.ResponseWriter, r *http.Request) {
	account, err := h.service.AccountBalance(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, account)
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrEntryNotFound), errors.Is(err, ErrAccountNotFound), errors.Is(err, ErrMappingNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrUnbalancedEntry), errors.Is(err, ErrTooFewLines):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrPeriodLocked), errors.Is(err, ErrLockDateRegression), errors.Is(err, ErrEntryNotPosted):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrCorruptLedger):
		httpx.Problem(w, http.StatusConflict, "Ledger Out Of Balance", err.Error())
	default:
		h.logger.Error("ledger handler failed", "error", err)
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func toLineInputs(lines []journalLineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, LineInput{
			AccountCode: line.AccountCode,
			Debit:       line.Debit,
			Credit:      line.Credit,
			Description: line.Description,
		})
	}
	return out
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}
