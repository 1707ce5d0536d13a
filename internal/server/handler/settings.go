package handler

import (
	"net/http"

	"skindiff/internal/settings"
)

// SettingsHandler reads and mutates the runtime parameters.
type SettingsHandler struct {
	store *settings.Store
}

// NewSettingsHandler creates a SettingsHandler over the settings store.
func NewSettingsHandler(store *settings.Store) *SettingsHandler {
	return &SettingsHandler{store: store}
}

// GetSettings returns the full current settings snapshot.
// GET /settings
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.store.Snapshot())
}

// UpdateSettings applies a partial update. Any subset of fields may be
// present; the merged state is validated as a whole before it takes effect.
// POST /settings
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	var patch settings.Patch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings payload: "+err.Error())
		return
	}

	updated, err := h.store.Update(patch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, updated)
}

// rangeBody is the payload of both band endpoints.
type rangeBody struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// GetDiffRange returns the diff band.
// GET /price_range
func (h *SettingsHandler) GetDiffRange(w http.ResponseWriter, r *http.Request) {
	s := h.store.Snapshot()
	writeData(w, http.StatusOK, rangeBody{Min: s.DiffMin, Max: s.DiffMax})
}

// UpdateDiffRange mutates the diff band.
// POST /price_range
func (h *SettingsHandler) UpdateDiffRange(w http.ResponseWriter, r *http.Request) {
	var body rangeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid range payload: "+err.Error())
		return
	}

	updated, err := h.store.SetDiffBand(body.Min, body.Max)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, rangeBody{Min: updated.DiffMin, Max: updated.DiffMax})
}

// GetBuffPriceRange returns the buy-side price band. Max of zero means
// unbounded.
// GET /buff_price_range
func (h *SettingsHandler) GetBuffPriceRange(w http.ResponseWriter, r *http.Request) {
	s := h.store.Snapshot()
	writeData(w, http.StatusOK, rangeBody{Min: s.BuffPriceMin, Max: s.BuffPriceMax})
}

// UpdateBuffPriceRange mutates the buy-side price band.
// POST /buff_price_range
func (h *SettingsHandler) UpdateBuffPriceRange(w http.ResponseWriter, r *http.Request) {
	var body rangeBody
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid range payload: "+err.Error())
		return
	}

	updated, err := h.store.SetBuffPriceBand(body.Min, body.Max)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeData(w, http.StatusOK, rangeBody{Min: updated.BuffPriceMin, Max: updated.BuffPriceMax})
}
