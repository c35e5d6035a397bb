package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/flowquant/flowrisk/internal/domain"
)

// ReportService defines the methods that the report handler requires.
type ReportService interface {
	GetReport(ctx context.Context, id string) (domain.RiskReport, error)
	ListReports(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.RiskReport, error)
	ListLiquidatable(ctx context.Context, opts domain.ListOpts) ([]domain.RiskReport, error)
}

// ReportHandler serves stored risk report endpoints.
type ReportHandler struct {
	reports ReportService
	logger  *slog.Logger
}

// NewReportHandler creates a ReportHandler with the given service and logger.
func NewReportHandler(reports ReportService, logger *slog.Logger) *ReportHandler {
	return &ReportHandler{
		reports: reports,
		logger:  logger,
	}
}

// GetReport returns one stored risk report by ID.
// GET /api/reports/{id}
func (h *ReportHandler) GetReport(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	report, err := h.reports.GetReport(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get report failed",
			slog.String("report_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get report")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListPositionReports returns the report history for one position, newest
// first.
// GET /api/positions/{id}/reports
func (h *ReportHandler) ListPositionReports(w http.ResponseWriter, r *http.Request) {
	positionID := pathParam(r, "id")
	opts := parseListOpts(r)

	reports, err := h.reports.ListReports(r.Context(), positionID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list reports failed",
			slog.String("position_id", positionID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	if reports == nil {
		reports = []domain.RiskReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}

// ListLiquidatable returns stored reports flagged liquidatable, newest first.
// GET /api/reports/liquidatable
func (h *ReportHandler) ListLiquidatable(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	reports, err := h.reports.ListLiquidatable(r.Context(), opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list liquidatable failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to list liquidatable reports")
		return
	}

	if reports == nil {
		reports = []domain.RiskReport{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reports": reports})
}
