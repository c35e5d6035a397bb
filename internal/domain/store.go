package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// PositionSnapshot is one stored position record of any kind, as collected
// from the chain or submitted through the API.
type PositionSnapshot struct {
	ID          string
	Wallet      string
	Kind        PositionKind
	Position    Position
	CollectedAt time.Time
}

// PositionStore persists tracked position snapshots.
type PositionStore interface {
	Upsert(ctx context.Context, snap PositionSnapshot) error
	GetByID(ctx context.Context, id string) (PositionSnapshot, error)
	ListByWallet(ctx context.Context, wallet string, opts ListOpts) ([]PositionSnapshot, error)
	ListLatest(ctx context.Context, opts ListOpts) ([]PositionSnapshot, error)
	Count(ctx context.Context) (int64, error)
}

// ReportStore persists risk report history.
type ReportStore interface {
	Insert(ctx context.Context, report RiskReport) error
	GetByID(ctx context.Context, id string) (RiskReport, error)
	ListByPosition(ctx context.Context, positionID string, opts ListOpts) ([]RiskReport, error)
	ListLiquidatable(ctx context.Context, opts ListOpts) ([]RiskReport, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]RiskReport, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}
