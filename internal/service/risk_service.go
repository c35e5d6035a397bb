// Package service composes the pure risk core with the stores, caches, and
// notification channels.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowquant/flowrisk/internal/domain"
	"github.com/flowquant/flowrisk/internal/risk"
)

// AlertStream is the durable stream risk alerts are appended to; alertChannel
// is the matching pub/sub channel for live delivery.
const (
	alertChannel = "risk.alerts"
	AlertStream  = "risk:alerts"
)

// AlertNotifier forwards an alert to the configured operator channels.
type AlertNotifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// RiskService runs the risk calculators over tracked positions, persists the
// resulting reports, and fans alerts out to the signal bus and the notifier.
// The calculators themselves stay pure; this layer owns IDs, clocks, and I/O.
type RiskService struct {
	registry  *risk.Registry
	positions domain.PositionStore
	reports   domain.ReportStore
	contexts  domain.MarketContextCache
	bus       domain.SignalBus
	audit     domain.AuditStore
	notifier  AlertNotifier

	maxSnapshotAge time.Duration
	logger         *slog.Logger
}

// NewRiskService creates a RiskService. bus, audit, and notifier may be nil;
// the corresponding side effects are then skipped.
func NewRiskService(
	registry *risk.Registry,
	positions domain.PositionStore,
	reports domain.ReportStore,
	contexts domain.MarketContextCache,
	bus domain.SignalBus,
	audit domain.AuditStore,
	notifier AlertNotifier,
	maxSnapshotAge time.Duration,
	logger *slog.Logger,
) *RiskService {
	return &RiskService{
		registry:       registry,
		positions:      positions,
		reports:        reports,
		contexts:       contexts,
		bus:            bus,
		audit:          audit,
		notifier:       notifier,
		maxSnapshotAge: maxSnapshotAge,
		logger:         logger,
	}
}

// Preview evaluates a position without persisting anything. The report gets
// an ID and a timestamp but never reaches the store or the alert channels.
func (s *RiskService) Preview(ctx context.Context, pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error) {
	if err := ctx.Err(); err != nil {
		return domain.RiskReport{}, fmt.Errorf("risk_service: %w: %w", domain.ErrContextDone, err)
	}

	report, err := s.registry.Evaluate(pos, mkt)
	if err != nil {
		return domain.RiskReport{}, fmt.Errorf("risk_service: evaluate %s: %w", pos.PositionID(), err)
	}

	report.ID = uuid.New().String()
	report.Wallet = domain.WalletOf(pos)
	report.EvaluatedAt = time.Now().UTC()
	return report, nil
}

// Evaluate evaluates a position, persists the report, and dispatches alerts.
func (s *RiskService) Evaluate(ctx context.Context, pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error) {
	report, err := s.Preview(ctx, pos, mkt)
	if err != nil {
		return domain.RiskReport{}, err
	}

	if err := s.reports.Insert(ctx, report); err != nil {
		return domain.RiskReport{}, fmt.Errorf("risk_service: persist report %s: %w", report.ID, err)
	}

	s.dispatchAlerts(ctx, report)
	return report, nil
}

// EvaluateAll runs one evaluation pass over every tracked position snapshot
// using the latest market context. Snapshot-level failures are logged and do
// not abort the pass.
func (s *RiskService) EvaluateAll(ctx context.Context) error {
	mkt := s.currentContext(ctx)

	snaps, err := s.positions.ListLatest(ctx, domain.ListOpts{})
	if err != nil {
		return fmt.Errorf("risk_service: list positions: %w", err)
	}

	evaluated := 0
	liquidatable := 0
	for _, snap := range snaps {
		report, err := s.Evaluate(ctx, snap.Position, mkt)
		if err != nil {
			s.logger.ErrorContext(ctx, "risk_service: evaluation failed",
				slog.String("position_id", snap.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		evaluated++
		if report.Liquidatable {
			liquidatable++
		}
	}

	s.logger.InfoContext(ctx, "risk_service: evaluation pass complete",
		slog.Int("positions", len(snaps)),
		slog.Int("evaluated", evaluated),
		slog.Int("liquidatable", liquidatable),
	)

	if s.audit != nil {
		if err := s.audit.Log(ctx, "evaluation_pass", map[string]any{
			"positions":    len(snaps),
			"evaluated":    evaluated,
			"liquidatable": liquidatable,
		}); err != nil {
			s.logger.WarnContext(ctx, "risk_service: audit log failed", slog.String("error", err.Error()))
		}
	}

	return nil
}

// GetReport returns one stored report by ID.
func (s *RiskService) GetReport(ctx context.Context, id string) (domain.RiskReport, error) {
	return s.reports.GetByID(ctx, id)
}

// ListReports returns the report history for a position, newest first.
func (s *RiskService) ListReports(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.RiskReport, error) {
	return s.reports.ListByPosition(ctx, positionID, opts)
}

// ListLiquidatable returns stored reports flagged liquidatable, newest first.
func (s *RiskService) ListLiquidatable(ctx context.Context, opts domain.ListOpts) ([]domain.RiskReport, error) {
	return s.reports.ListLiquidatable(ctx, opts)
}

// currentContext loads the latest market context, returning nil when there is
// none or it is older than maxSnapshotAge. Positions carry their own price
// snapshot, so evaluation proceeds without one.
func (s *RiskService) currentContext(ctx context.Context) *domain.MarketContext {
	mkt, err := s.contexts.Get(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.WarnContext(ctx, "risk_service: market context load failed", slog.String("error", err.Error()))
		}
		return nil
	}

	if s.maxSnapshotAge > 0 && time.Since(mkt.CollectedAt) > s.maxSnapshotAge {
		s.logger.WarnContext(ctx, "risk_service: market context is stale, using per-position prices",
			slog.Time("collected_at", mkt.CollectedAt),
			slog.Duration("max_age", s.maxSnapshotAge),
		)
		return nil
	}
	return &mkt
}

// dispatchAlerts publishes reports that need operator attention to the signal
// bus and the notifier. Delivery failures are logged, never propagated; the
// report is already persisted.
func (s *RiskService) dispatchAlerts(ctx context.Context, report domain.RiskReport) {
	event := alertEvent(report)
	if event == "" {
		return
	}

	payload, err := json.Marshal(map[string]any{
		"event":        event,
		"report_id":    report.ID,
		"position_id":  report.PositionID,
		"wallet":       report.Wallet,
		"kind":         report.Kind,
		"liquidatable": report.Liquidatable,
		"warnings":     report.Warnings,
		"evaluated_at": report.EvaluatedAt,
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "risk_service: marshal alert", slog.String("error", err.Error()))
		return
	}

	if s.bus != nil {
		if err := s.bus.Publish(ctx, alertChannel, payload); err != nil {
			s.logger.WarnContext(ctx, "risk_service: publish alert failed",
				slog.String("report_id", report.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, AlertStream, payload); err != nil {
			s.logger.WarnContext(ctx, "risk_service: stream alert failed",
				slog.String("report_id", report.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		title := fmt.Sprintf("[%s] %s position %s", event, report.Kind, report.PositionID)
		message := alertMessage(report)
		if err := s.notifier.Notify(ctx, event, title, message); err != nil {
			s.logger.WarnContext(ctx, "risk_service: notify failed",
				slog.String("report_id", report.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// alertEvent classifies a report into a notification event, or "" when the
// report needs no attention.
func alertEvent(report domain.RiskReport) string {
	if report.Liquidatable {
		return "liquidation_risk"
	}
	joined := strings.Join(report.Warnings, "; ")
	switch {
	case strings.Contains(joined, "peg"):
		return "depeg"
	case len(report.Warnings) > 0:
		return "near_threshold"
	default:
		return ""
	}
}

// alertMessage renders a short operator-facing summary of the report.
func alertMessage(report domain.RiskReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "wallet: %s\n", report.Wallet)
	fmt.Fprintf(&b, "liquidatable: %v\n", report.Liquidatable)
	for _, w := range report.Warnings {
		fmt.Fprintf(&b, "- %s\n", w)
	}
	return b.String()
}
