package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"skindiff/internal/domain"
	"skindiff/internal/refresh"
)

// UpdateHandler triggers refresh cycles on demand. Refreshes run detached
// from the request: the handler answers as soon as the cycle is accepted.
type UpdateHandler struct {
	orch   *refresh.Orchestrator
	appCtx context.Context
	logger *slog.Logger
}

// NewUpdateHandler creates an UpdateHandler. appCtx bounds the lifetime of
// launched refreshes — they outlive the HTTP request but not the process.
func NewUpdateHandler(orch *refresh.Orchestrator, appCtx context.Context, logger *slog.Logger) *UpdateHandler {
	return &UpdateHandler{
		orch:   orch,
		appCtx: appCtx,
		logger: logger.With(slog.String("handler", "update")),
	}
}

// TriggerFull requests an immediate full refresh. Idempotent while one is
// already running.
// POST /update
func (h *UpdateHandler) TriggerFull(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, refresh.ModeFull)
}

// TriggerIncremental requests an immediate incremental refresh.
// POST /update/incremental
func (h *UpdateHandler) TriggerIncremental(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, refresh.ModeIncremental)
}

// CancelRefresh aborts the in-flight refresh, if any.
// POST /update/cancel
func (h *UpdateHandler) CancelRefresh(w http.ResponseWriter, r *http.Request) {
	h.orch.Cancel()
	writeData(w, http.StatusOK, map[string]any{"cancelled": true})
}

func (h *UpdateHandler) trigger(w http.ResponseWriter, mode refresh.Mode) {
	if h.orch.Running() {
		writeData(w, http.StatusAccepted, map[string]any{
			"started": false,
			"reason":  "refresh already running",
		})
		return
	}

	go func() {
		if err := h.orch.Run(h.appCtx, mode); err != nil && !errors.Is(err, domain.ErrAlreadyRunning) {
			h.logger.Warn("manual refresh ended with error",
				slog.String("mode", string(mode)),
				slog.String("error", err.Error()),
			)
		}
	}()

	writeData(w, http.StatusAccepted, map[string]any{
		"started": true,
		"mode":    string(mode),
	})
}
