package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/flowquant/flowrisk/internal/domain"
)

// PositionStore implements domain.PositionStore using PostgreSQL. The concrete
// position record is stored as a JSONB payload next to its kind tag, so each
// archetype round-trips without per-kind tables.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given connection pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

// Upsert inserts the snapshot or replaces the existing row with the same ID.
func (s *PositionStore) Upsert(ctx context.Context, snap domain.PositionSnapshot) error {
	if snap.ID == "" {
		return fmt.Errorf("%w: snapshot id is empty", domain.ErrInvalidParameter)
	}
	if snap.Position == nil {
		return fmt.Errorf("%w: snapshot position is nil", domain.ErrInvalidParameter)
	}

	payload, err := json.Marshal(snap.Position)
	if err != nil {
		return fmt.Errorf("postgres: marshal position payload: %w", err)
	}

	const query = `
		INSERT INTO positions (id, wallet, kind, payload, collected_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			wallet = EXCLUDED.wallet,
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			collected_at = EXCLUDED.collected_at,
			updated_at = NOW()`

	_, err = s.pool.Exec(ctx, query, snap.ID, snap.Wallet, string(snap.Kind), payload, snap.CollectedAt)
	if err != nil {
		return fmt.Errorf("postgres: upsert position %s: %w", snap.ID, err)
	}
	return nil
}

// GetByID returns the snapshot with the given ID, or domain.ErrNotFound.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.PositionSnapshot, error) {
	const query = `SELECT id, wallet, kind, payload, collected_at FROM positions WHERE id = $1`

	snap, err := scanSnapshot(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.PositionSnapshot{}, fmt.Errorf("position %s: %w", id, domain.ErrNotFound)
		}
		return domain.PositionSnapshot{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return snap, nil
}

// ListByWallet returns snapshots owned by wallet, newest first.
func (s *PositionStore) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	query := `SELECT id, wallet, kind, payload, collected_at FROM positions WHERE wallet = $1`
	args := []any{wallet}
	query, args = appendListOpts(query, args, "collected_at", opts)

	return s.querySnapshots(ctx, query, args)
}

// ListLatest returns the most recently collected snapshots across all wallets.
func (s *PositionStore) ListLatest(ctx context.Context, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	query := `SELECT id, wallet, kind, payload, collected_at FROM positions WHERE 1=1`
	args := []any{}
	query, args = appendListOpts(query, args, "collected_at", opts)

	return s.querySnapshots(ctx, query, args)
}

// Count returns the number of tracked positions.
func (s *PositionStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM positions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count positions: %w", err)
	}
	return n, nil
}

func (s *PositionStore) querySnapshots(ctx context.Context, query string, args []any) ([]domain.PositionSnapshot, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var snaps []domain.PositionSnapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return snaps, nil
}

func scanSnapshot(row pgx.Row) (domain.PositionSnapshot, error) {
	var snap domain.PositionSnapshot
	var kind string
	var payload []byte

	if err := row.Scan(&snap.ID, &snap.Wallet, &kind, &payload, &snap.CollectedAt); err != nil {
		return domain.PositionSnapshot{}, err
	}

	snap.Kind = domain.PositionKind(kind)
	pos, err := domain.UnmarshalPosition(snap.Kind, payload)
	if err != nil {
		return domain.PositionSnapshot{}, err
	}
	snap.Position = pos
	return snap, nil
}

// appendListOpts appends time filters, ordering, and pagination to a query
// that already ends in a WHERE clause.
func appendListOpts(query string, args []any, timeCol string, opts domain.ListOpts) (string, []any) {
	argIdx := len(args) + 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND %s >= $%d", timeCol, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND %s <= $%d", timeCol, argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY %s DESC", timeCol)

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}
	return query, args
}
