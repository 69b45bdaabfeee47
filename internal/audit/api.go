package audit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// APIHandler serves the read-only audit query API
type APIHandler struct {
	log    *Log
	logger *zap.Logger
}

// NewAPIHandler creates an audit API handler
func NewAPIHandler(log *Log, logger *zap.Logger) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{log: log, logger: logger}
}

// Router returns the audit sub-router
func (h *APIHandler) Router() chi.Router {
	r := chi.NewRouter()
	r.Get("/events", h.ListEvents)
	r.Get("/events/{id}", h.GetEvent)
	r.Get("/export", h.Export)
	return r
}

// ListEvents returns entries matching the query parameters
func (h *APIHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filters := QueryFilters{
		EventID: query.Get("event_id"),
		State:   query.Get("state"),
	}
	if since := query.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		filters.Since = t
	}

	limit, _ := strconv.Atoi(query.Get("limit"))
	if limit == 0 {
		limit = 100
	}

	entries, err := h.log.Query(r.Context(), filters, limit)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// GetEvent returns one audit entry by ID
func (h *APIHandler) GetEvent(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid entry id")
		return
	}

	entry, err := h.log.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return
	}
	h.respondJSON(w, http.StatusOK, entry)
}

// Export streams the full buffered history as gzip-compressed NDJSON for
// postmortem and compliance review.
func (h *APIHandler) Export(w http.ResponseWriter, r *http.Request) {
	entries, err := h.log.Query(r.Context(), QueryFilters{}, 0)
	if err != nil {
		h.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Set("Content-Disposition", `attachment; filename="failover-audit.ndjson.gz"`)

	gz := gzip.NewWriter(w)
	defer func() { _ = gz.Close() }()

	enc := json.NewEncoder(gz)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			h.logger.Error("encode audit export entry", zap.Error(err))
			return
		}
	}
}

func (h *APIHandler) respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode audit response", zap.Error(err))
	}
}

func (h *APIHandler) respondError(w http.ResponseWriter, status int, msg string) {
	h.respondJSON(w, status, map[string]string{"error": msg})
}
