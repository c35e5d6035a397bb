package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// PositionCounter reports the number of tracked positions.
type PositionCounter interface {
	Count(ctx context.Context) (int64, error)
}

// StatusHandler serves the runtime status (mode, uptime, tracked positions)
// for the dashboard.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	positions PositionCounter
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. positions may be nil, in which
// case the tracked count is omitted.
func NewStatusHandler(mode string, startedAt time.Time, positions PositionCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: startedAt,
		positions: positions,
		logger:    logger,
	}
}

// GetStatus responds with the current runtime mode and uptime.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"mode":           h.mode,
		"started_at":     h.startedAt.UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	}

	if h.positions != nil {
		count, err := h.positions.Count(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "handler: position count failed",
				slog.String("error", err.Error()),
			)
		} else {
			resp["tracked_positions"] = count
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
