package handler

import (
	"context"
	"net/http"
	"time"

	"skindiff/internal/domain"
	"skindiff/internal/token"
)

// probeTimeout bounds a credential test: one paced page request plus its
// first retry.
const probeTimeout = 45 * time.Second

// CatalogProber is the slice of a platform client needed to test
// credentials: one minimal authenticated catalogue read.
type CatalogProber interface {
	FetchPage(ctx context.Context, page, pageSize int) (domain.CatalogPage, error)
}

// TokensHandler reads, mutates, and tests marketplace credentials.
type TokensHandler struct {
	store  *token.Store
	buff   CatalogProber
	youpin CatalogProber
}

// NewTokensHandler creates a TokensHandler over the credential store and
// the two platform clients.
func NewTokensHandler(store *token.Store, buff, youpin CatalogProber) *TokensHandler {
	return &TokensHandler{store: store, buff: buff, youpin: youpin}
}

// GetStatus reports which credentials are configured, without their values.
// GET /tokens/status
func (h *TokensHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeData(w, http.StatusOK, h.store.Status())
}

// buffUpdateBody is the Buff credential update payload.
type buffUpdateBody struct {
	Cookies map[string]string `json:"cookies"`
	Headers map[string]string `json:"headers"`
}

// youpinUpdateBody is the YouPin credential update payload.
type youpinUpdateBody struct {
	token.YoupinFields
	Headers map[string]string `json:"headers"`
}

// UpdateTokens merges new credential material for one marketplace.
// POST /tokens/{marketplace}
func (h *TokensHandler) UpdateTokens(w http.ResponseWriter, r *http.Request) {
	switch domain.Marketplace(r.PathValue("marketplace")) {
	case domain.MarketplaceBuff:
		var body buffUpdateBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid token payload: "+err.Error())
			return
		}
		if err := h.store.UpdateBuff(body.Cookies, body.Headers); err != nil {
			writeDomainError(w, err)
			return
		}

	case domain.MarketplaceYoupin:
		var body youpinUpdateBody
		if err := decodeBody(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid token payload: "+err.Error())
			return
		}
		if err := h.store.UpdateYoupin(body.YoupinFields, body.Headers); err != nil {
			writeDomainError(w, err)
			return
		}

	default:
		writeError(w, http.StatusNotFound, "unknown marketplace")
		return
	}

	writeData(w, http.StatusOK, h.store.Status())
}

// TestTokens performs one minimal authenticated catalogue read with the
// live credentials. Never mutates state.
// POST /tokens/test/{marketplace}
func (h *TokensHandler) TestTokens(w http.ResponseWriter, r *http.Request) {
	var prober CatalogProber
	switch domain.Marketplace(r.PathValue("marketplace")) {
	case domain.MarketplaceBuff:
		prober = h.buff
	case domain.MarketplaceYoupin:
		prober = h.youpin
	default:
		writeError(w, http.StatusNotFound, "unknown marketplace")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	page, err := prober.FetchPage(ctx, 1, 10)
	if err != nil {
		writeData(w, http.StatusOK, map[string]any{
			"ok":             false,
			"items_observed": 0,
			"error":          err.Error(),
		})
		return
	}

	writeData(w, http.StatusOK, map[string]any{
		"ok":             true,
		"items_observed": len(page.Items),
	})
}
