package ledger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/meridian-erp/meridian-erp/internal/ledger"
	"github.com/meridian-erp/meridian-erp/internal/shared"
	"github.com/meridian-erp/meridian-erp/internal/testing/memdb"
)

func newTestRouter() (chi.Router, *memdb.Store) {
	service, store, _ := newTestService()
	handler := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), service, validator.New())
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if id := req.Header.Get("X-Actor-ID"); id != "" {
				req = req.WithContext(shared.ContextWithActor(req.Context(), shared.Actor{ID: 7}))
			}
			next.ServeHTTP(w, req)
		})
	})
	handler.MountRoutes(r)
	return r, store
}

func postJSON(t *testing.T, r chi.Router, path string, body any, actor bool) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if actor {
		req.Header.Set("X-Actor-ID", "7")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestPostJournalEndpoint(t *testing.T) {
	router, store := newTestRouter()

	rec := postJSON(t, router, "/journals", map[string]any{
		"date":        "2026-03-10",
		"description": "Cash sale",
		"reference":   "CS-1",
		"lines": []map[string]any{
			{"account_code": "1000", "debit": 11000},
			{"account_code": "4000", "credit": 11000},
		},
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	var entry Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entry))
	assert.True(t, entry.Posted)
	assert.Len(t, entry.Lines, 2)
	assert.Equal(t, int64(11000), store.AccountBalance("1000"))
}

func TestPostJournalRequiresActor(t *testing.T) {
	router, _ := newTestRouter()

	rec := postJSON(t, router, "/journals", map[string]any{
		"date":        "2026-03-10",
		"description": "Cash sale",
		"lines": []map[string]any{
			{"account_code": "1000", "debit": 100},
			{"account_code": "4000", "credit": 100},
		},
	}, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var problem struct {
		Title  string `json:"title"`
		Status int    `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, "Missing Actor", problem.Title)
	assert.Equal(t, http.StatusUnauthorized, problem.Status)
}

func TestPostJournalValidation(t *testing.T) {
	router, _ := newTestRouter()

	// One line fails the min=2 rule before the service runs.
	rec := postJSON(t, router, "/journals", map[string]any{
		"date":        "2026-03-10",
		"description": "Half an entry",
		"lines": []map[string]any{
			{"account_code": "1000", "debit": 100},
		},
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, router, "/journals", map[string]any{
		"date":        "10/03/2026",
		"description": "Bad date",
		"lines": []map[string]any{
			{"account_code": "1000", "debit": 100},
			{"account_code": "4000", "credit": 100},
		},
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostJournalUnbalancedMapsTo400(t *testing.T) {
	router, _ := newTestRouter()

	rec := postJSON(t, router, "/journals", map[string]any{
		"date":        "2026-03-10",
		"description": "Unbalanced",
		"lines": []map[string]any{
			{"account_code": "1000", "debit": 100},
			{"account_code": "4000", "credit": 90},
		},
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPostJournalLockedPeriodMapsTo409(t *testing.T) {
	router, store := newTestRouter()
	require.NoError(t, store.SetLockDate(context.Background(), date(2026, 3, 31)))

	rec := postJSON(t, router, "/journals", map[string]any{
		"date":        "2026-03-10",
		"description": "Inside locked period",
		"lines": []map[string]any{
			{"account_code": "1000", "debit": 100},
			{"account_code": "4000", "credit": 100},
		},
	}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestGetJournalNotFound(t *testing.T) {
	router, _ := newTestRouter()

	req := httptest.NewRequest(http.MethodGet, "/journals/999", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
