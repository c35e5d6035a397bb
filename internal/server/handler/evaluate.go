package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
)

// EvaluateService defines the methods that the evaluate handler requires.
type EvaluateService interface {
	Preview(ctx context.Context, pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error)
	EvaluateAll(ctx context.Context) error
}

// EvaluateHandler serves on-demand risk evaluation endpoints.
type EvaluateHandler struct {
	risk   EvaluateService
	logger *slog.Logger
}

// NewEvaluateHandler creates an EvaluateHandler with the given service and logger.
func NewEvaluateHandler(risk EvaluateService, logger *slog.Logger) *EvaluateHandler {
	return &EvaluateHandler{
		risk:   risk,
		logger: logger,
	}
}

// evaluateRequest carries the position to evaluate plus an optional market
// context override. When Market is nil the position's own price snapshot is
// used.
type evaluateRequest struct {
	Kind     domain.PositionKind   `json:"kind"`
	Position json.RawMessage       `json:"position"`
	Market   *domain.MarketContext `json:"market,omitempty"`
}

// Evaluate computes a risk report for the submitted position without
// persisting anything. Construction errors map to 400.
// POST /api/evaluate
func (h *EvaluateHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pos, err := domain.UnmarshalPosition(req.Kind, req.Position)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := domain.ValidatePosition(pos); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Market != nil {
		if err := req.Market.Validate(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	report, err := h.risk.Preview(r.Context(), pos, req.Market)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: evaluate failed",
			slog.String("position_id", pos.PositionID()),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// EvaluateAll runs one synchronous evaluation pass over every tracked
// position, persisting the resulting reports.
// POST /api/evaluate/run
func (h *EvaluateHandler) EvaluateAll(w http.ResponseWriter, r *http.Request) {
	if err := h.risk.EvaluateAll(r.Context()); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: evaluation pass failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "evaluation pass failed")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":       "completed",
		"completed_at": time.Now().UTC().Format(time.RFC3339),
	})
}
