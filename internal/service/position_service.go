package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/flowquant/flowrisk/internal/domain"
)

// PositionService manages the tracked position snapshots submitted through
// the API or collected from the chain.
type PositionService struct {
	positions domain.PositionStore
	bus       domain.SignalBus
	audit     domain.AuditStore
	logger    *slog.Logger
}

// NewPositionService creates a PositionService. bus and audit may be nil.
func NewPositionService(
	positions domain.PositionStore,
	bus domain.SignalBus,
	audit domain.AuditStore,
	logger *slog.Logger,
) *PositionService {
	return &PositionService{
		positions: positions,
		bus:       bus,
		audit:     audit,
		logger:    logger,
	}
}

// Track registers a position snapshot for monitoring, assigning an ID when
// the record carries none. The snapshot replaces any prior one with the same
// ID.
func (s *PositionService) Track(ctx context.Context, pos domain.Position) (domain.PositionSnapshot, error) {
	id := pos.PositionID()
	if id == "" {
		id = uuid.New().String()
		pos = withID(pos, id)
	}

	snap := domain.PositionSnapshot{
		ID:          id,
		Wallet:      domain.WalletOf(pos),
		Kind:        pos.Kind(),
		Position:    pos,
		CollectedAt: time.Now().UTC(),
	}

	if err := s.positions.Upsert(ctx, snap); err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("position_service: track %s: %w", id, err)
	}

	if s.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":       "position_tracked",
			"position_id": snap.ID,
			"wallet":      snap.Wallet,
			"kind":        snap.Kind,
		})
		if pubErr := s.bus.Publish(ctx, "positions", evt); pubErr != nil {
			s.logger.WarnContext(ctx, "position_service: publish event failed",
				slog.String("position_id", snap.ID),
				slog.String("error", pubErr.Error()),
			)
		}
	}

	if s.audit != nil {
		if auditErr := s.audit.Log(ctx, "position_tracked", map[string]any{
			"position_id": snap.ID,
			"wallet":      snap.Wallet,
			"kind":        string(snap.Kind),
		}); auditErr != nil {
			s.logger.WarnContext(ctx, "position_service: audit log failed",
				slog.String("position_id", snap.ID),
				slog.String("error", auditErr.Error()),
			)
		}
	}

	s.logger.InfoContext(ctx, "position_service: position tracked",
		slog.String("position_id", snap.ID),
		slog.String("wallet", snap.Wallet),
		slog.String("kind", string(snap.Kind)),
	)

	return snap, nil
}

// Get returns one tracked snapshot by ID.
func (s *PositionService) Get(ctx context.Context, id string) (domain.PositionSnapshot, error) {
	snap, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.PositionSnapshot{}, fmt.Errorf("position_service: get %q: %w", id, err)
	}
	return snap, nil
}

// ListByWallet returns the tracked snapshots for one wallet, newest first.
func (s *PositionService) ListByWallet(ctx context.Context, wallet string, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	snaps, err := s.positions.ListByWallet(ctx, wallet, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list for %q: %w", wallet, err)
	}
	return snaps, nil
}

// ListLatest returns the most recently collected snapshots across wallets.
func (s *PositionService) ListLatest(ctx context.Context, opts domain.ListOpts) ([]domain.PositionSnapshot, error) {
	snaps, err := s.positions.ListLatest(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("position_service: list latest: %w", err)
	}
	return snaps, nil
}

// Count returns the number of tracked positions.
func (s *PositionService) Count(ctx context.Context) (int64, error) {
	return s.positions.Count(ctx)
}

// withID returns a copy of the position record with its ID set.
func withID(pos domain.Position, id string) domain.Position {
	switch v := pos.(type) {
	case domain.StakingPosition:
		v.ID = id
		return v
	case domain.LoopingPosition:
		v.ID = id
		return v
	case domain.DeltaNeutralPosition:
		v.ID = id
		return v
	default:
		return pos
	}
}
