package handler

import (
	"net/http"

	"skindiff/internal/query"
)

// ItemsHandler serves the ranked pair listing and its aggregates.
type ItemsHandler struct {
	q *query.Service
}

// NewItemsHandler creates an ItemsHandler over the query service.
func NewItemsHandler(q *query.Service) *ItemsHandler {
	return &ItemsHandler{q: q}
}

// ListItems returns the current pairs, optionally filtered and re-ranked.
// GET /items?min_diff=&sort_by=&limit=
func (h *ItemsHandler) ListItems(w http.ResponseWriter, r *http.Request) {
	minDiff := queryFloat(r, "min_diff", 0)
	limit := queryInt(r, "limit", 0)

	sortBy := query.SortByMargin
	switch r.URL.Query().Get("sort_by") {
	case "", string(query.SortByMargin):
	case string(query.SortByDiff):
		sortBy = query.SortByDiff
	default:
		writeError(w, http.StatusBadRequest, "sort_by must be one of: diff, margin")
		return
	}

	pairs := h.q.List(minDiff, sortBy, limit)
	writeData(w, http.StatusOK, map[string]any{
		"count": len(pairs),
		"items": pairs,
	})
}

// GetStatistics returns aggregates over the current result set.
// GET /statistics
func (h *ItemsHandler) GetStatistics(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.q.Statistics())
}

// GetStatus returns orchestrator, scheduler, and cache state.
// GET /status
func (h *ItemsHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.q.Status())
}
