package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/flowquant/flowrisk/internal/domain"
)

// PositionService defines the methods that the position handler requires.
type PositionService interface {
	Track(ctx context.Context, pos domain.Position) (domain.PositionSnapshot, error)
	Get(ctx context.Context, id string) (domain.PositionSnapshot, error)
	ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.PositionSnapshot, error)
	ListLatest(ctx context.Context, opts domain.ListOpts) ([]domain.PositionSnapshot, error)
}

// PositionHandler serves position-related HTTP endpoints.
type PositionHandler struct {
	positions PositionService
	logger    *slog.Logger
}

// NewPositionHandler creates a PositionHandler with the given service and logger.
func NewPositionHandler(positions PositionService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		positions: positions,
		logger:    logger,
	}
}

// trackPositionRequest carries a kind tag plus the matching position record.
type trackPositionRequest struct {
	Kind     domain.PositionKind `json:"kind"`
	Position json.RawMessage     `json:"position"`
}

// TrackPosition registers a position snapshot for monitoring.
// POST /api/positions
func (h *PositionHandler) TrackPosition(w http.ResponseWriter, r *http.Request) {
	var req trackPositionRequest
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

	snap, err := h.positions.Track(r.Context(), pos)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: track position failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to track position")
		return
	}

	writeJSON(w, http.StatusCreated, toSnapshotResponse(snap))
}

// GetPosition returns one tracked position snapshot by ID.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	snap, err := h.positions.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "position not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get position failed",
			slog.String("position_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get position")
		return
	}

	writeJSON(w, http.StatusOK, toSnapshotResponse(snap))
}

// ListPositions returns tracked position snapshots, newest first. With a
// wallet query parameter the list is restricted to that wallet.
// GET /api/positions?wallet=0x...&limit=50&offset=0
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	wallet := r.URL.Query().Get("wallet")

	var (
		snaps []domain.PositionSnapshot
		err   error
	)
	if wallet != "" {
		snaps, err = h.positions.ListByWallet(r.Context(), wallet, opts)
	} else {
		snaps, err = h.positions.ListLatest(r.Context(), opts)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list positions failed",
			slog.String("wallet", wallet),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list positions")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": toSnapshotResponses(snaps),
	})
}
