package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/flowquant/flowrisk/internal/domain"
)

// AlertSource reads durable alert history from the signal stream.
type AlertSource interface {
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error)
}

// AlertHandler serves the persisted risk alert history.
type AlertHandler struct {
	source AlertSource
	stream string
	logger *slog.Logger
}

// NewAlertHandler creates an AlertHandler reading from the given stream.
func NewAlertHandler(source AlertSource, stream string, logger *slog.Logger) *AlertHandler {
	return &AlertHandler{
		source: source,
		stream: stream,
		logger: logger,
	}
}

// alertEntry is one stream entry: the stream ID for pagination plus the
// alert payload as written by the evaluator.
type alertEntry struct {
	ID    string          `json:"id"`
	Alert json.RawMessage `json:"alert"`
}

// ListAlerts returns alert stream entries after the given stream ID, oldest
// first. Pass the last seen ID as ?after= to page forward.
// GET /api/alerts
func (h *AlertHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := q.Get("after")
	if after == "" {
		after = "0"
	}

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	msgs, err := h.source.StreamRead(r.Context(), h.stream, after, limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: read alert stream failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read alerts")
		return
	}

	entries := make([]alertEntry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, alertEntry{ID: m.ID, Alert: json.RawMessage(m.Payload)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"alerts": entries})
}
