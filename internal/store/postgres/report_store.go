package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowquant/flowrisk/internal/domain"
)

// ReportStore implements domain.ReportStore using PostgreSQL. The kind-specific
// metric block is stored as JSONB; infinity sentinels survive the round trip
// through the Metric string encoding.
type ReportStore struct {
	pool *pgxpool.Pool
}

// NewReportStore creates a new ReportStore backed by the given connection pool.
func NewReportStore(pool *pgxpool.Pool) *ReportStore {
	return &ReportStore{pool: pool}
}

var _ domain.ReportStore = (*ReportStore)(nil)

const reportColumns = `id, position_id, wallet, kind, liquidatable, warnings, metrics, evaluated_at`

// Insert appends a new report row. Reports are immutable history, so there is
// no update path.
func (s *ReportStore) Insert(ctx context.Context, report domain.RiskReport) error {
	if report.ID == "" {
		return fmt.Errorf("%w: report id is empty", domain.ErrInvalidParameter)
	}

	metrics, err := marshalMetrics(report)
	if err != nil {
		return fmt.Errorf("postgres: marshal report metrics: %w", err)
	}

	warnings := report.Warnings
	if warnings == nil {
		warnings = []string{}
	}

	const query = `
		INSERT INTO risk_reports (id, position_id, wallet, kind, liquidatable, warnings, metrics, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err = s.pool.Exec(ctx, query,
		report.ID, report.PositionID, report.Wallet, string(report.Kind),
		report.Liquidatable, warnings, metrics, report.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert report %s: %w", report.ID, err)
	}
	return nil
}

// GetByID returns the report with the given ID, or domain.ErrNotFound.
func (s *ReportStore) GetByID(ctx context.Context, id string) (domain.RiskReport, error) {
	query := `SELECT ` + reportColumns + ` FROM risk_reports WHERE id = $1`

	report, err := scanReport(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.RiskReport{}, fmt.Errorf("report %s: %w", id, domain.ErrNotFound)
		}
		return domain.RiskReport{}, fmt.Errorf("postgres: get report %s: %w", id, err)
	}
	return report, nil
}

// ListByPosition returns the report history for a position, newest first.
func (s *ReportStore) ListByPosition(ctx context.Context, positionID string, opts domain.ListOpts) ([]domain.RiskReport, error) {
	query := `SELECT ` + reportColumns + ` FROM risk_reports WHERE position_id = $1`
	args := []any{positionID}
	query, args = appendListOpts(query, args, "evaluated_at", opts)

	return s.queryReports(ctx, query, args)
}

// ListLiquidatable returns reports flagged liquidatable, newest first.
func (s *ReportStore) ListLiquidatable(ctx context.Context, opts domain.ListOpts) ([]domain.RiskReport, error) {
	query := `SELECT ` + reportColumns + ` FROM risk_reports WHERE liquidatable`
	args := []any{}
	query, args = appendListOpts(query, args, "evaluated_at", opts)

	return s.queryReports(ctx, query, args)
}

// ListBefore returns up to limit reports evaluated strictly before the cutoff,
// oldest first. The archiver pages through history with it.
func (s *ReportStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.RiskReport, error) {
	query := `SELECT ` + reportColumns + ` FROM risk_reports WHERE evaluated_at < $1 ORDER BY evaluated_at ASC`
	args := []any{before}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	return s.queryReports(ctx, query, args)
}

// DeleteBefore removes reports evaluated strictly before the cutoff and
// returns the number of rows deleted.
func (s *ReportStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM risk_reports WHERE evaluated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete reports before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func (s *ReportStore) queryReports(ctx context.Context, query string, args []any) ([]domain.RiskReport, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list reports: %w", err)
	}
	defer rows.Close()

	var reports []domain.RiskReport
	for rows.Next() {
		report, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan report: %w", err)
		}
		reports = append(reports, report)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list reports rows: %w", err)
	}
	return reports, nil
}

func scanReport(row pgx.Row) (domain.RiskReport, error) {
	var report domain.RiskReport
	var kind string
	var metrics []byte

	err := row.Scan(
		&report.ID, &report.PositionID, &report.Wallet, &kind,
		&report.Liquidatable, &report.Warnings, &metrics, &report.EvaluatedAt,
	)
	if err != nil {
		return domain.RiskReport{}, err
	}

	report.Kind = domain.PositionKind(kind)
	if err := unmarshalMetrics(&report, metrics); err != nil {
		return domain.RiskReport{}, err
	}
	return report, nil
}

// marshalMetrics encodes the single metric block matching the report's kind.
func marshalMetrics(report domain.RiskReport) ([]byte, error) {
	switch report.Kind {
	case domain.KindStaking:
		return json.Marshal(report.Staking)
	case domain.KindLooping:
		return json.Marshal(report.Looping)
	case domain.KindDeltaNeutral:
		return json.Marshal(report.DeltaNeutral)
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, report.Kind)
	}
}

// unmarshalMetrics decodes the JSONB metric block into the pointer matching
// the report's kind.
func unmarshalMetrics(report *domain.RiskReport, data []byte) error {
	switch report.Kind {
	case domain.KindStaking:
		report.Staking = &domain.StakingMetrics{}
		return json.Unmarshal(data, report.Staking)
	case domain.KindLooping:
		report.Looping = &domain.LoopingMetrics{}
		return json.Unmarshal(data, report.Looping)
	case domain.KindDeltaNeutral:
		report.DeltaNeutral = &domain.DeltaNeutralMetrics{}
		return json.Unmarshal(data, report.DeltaNeutral)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnsupportedKind, report.Kind)
	}
}
