package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowquant/flowrisk/internal/domain"
	"github.com/flowquant/flowrisk/internal/risk"
)

// ---------------------------------------------------------------------------
// In-memory fakes
// ---------------------------------------------------------------------------

type fakePositionStore struct {
	mu    sync.Mutex
	snaps map[string]domain.PositionSnapshot
}

func newFakePositionStore() *fakePositionStore {
	return &fakePositionStore{snaps: make(map[string]domain.PositionSnapshot)}
}

func (f *fakePositionStore) Upsert(_ context.Context, snap domain.PositionSnapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[snap.ID] = snap
	return nil
}

func (f *fakePositionStore) GetByID(_ context.Context, id string) (domain.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap, ok := f.snaps[id]
	if !ok {
		return domain.PositionSnapshot{}, domain.ErrNotFound
	}
	return snap, nil
}

func (f *fakePositionStore) ListByWallet(_ context.Context, wallet string, _ domain.ListOpts) ([]domain.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.PositionSnapshot
	for _, snap := range f.snaps {
		if snap.Wallet == wallet {
			out = append(out, snap)
		}
	}
	return out, nil
}

func (f *fakePositionStore) ListLatest(_ context.Context, _ domain.ListOpts) ([]domain.PositionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.PositionSnapshot, 0, len(f.snaps))
	for _, snap := range f.snaps {
		out = append(out, snap)
	}
	return out, nil
}

func (f *fakePositionStore) Count(_ context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.snaps)), nil
}

type fakeReportStore struct {
	mu      sync.Mutex
	reports []domain.RiskReport
}

func (f *fakeReportStore) Insert(_ context.Context, report domain.RiskReport) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return nil
}

func (f *fakeReportStore) GetByID(_ context.Context, id string) (domain.RiskReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reports {
		if r.ID == id {
			return r, nil
		}
	}
	return domain.RiskReport{}, domain.ErrNotFound
}

func (f *fakeReportStore) ListByPosition(_ context.Context, positionID string, _ domain.ListOpts) ([]domain.RiskReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RiskReport
	for _, r := range f.reports {
		if r.PositionID == positionID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportStore) ListLiquidatable(_ context.Context, _ domain.ListOpts) ([]domain.RiskReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RiskReport
	for _, r := range f.reports {
		if r.Liquidatable {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportStore) ListBefore(_ context.Context, before time.Time, _ int) ([]domain.RiskReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.RiskReport
	for _, r := range f.reports {
		if r.EvaluatedAt.Before(before) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReportStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var kept []domain.RiskReport
	var deleted int64
	for _, r := range f.reports {
		if r.EvaluatedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	f.reports = kept
	return deleted, nil
}

type fakeContextCache struct {
	mu  sync.Mutex
	mkt *domain.MarketContext
}

func (f *fakeContextCache) Set(_ context.Context, mkt domain.MarketContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mkt = &mkt
	return nil
}

func (f *fakeContextCache) Get(_ context.Context) (domain.MarketContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mkt == nil {
		return domain.MarketContext{}, domain.ErrNotFound
	}
	return *f.mkt, nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeNotifier) Notify(_ context.Context, event, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func healthyLooping(t *testing.T, id string) domain.LoopingPosition {
	t.Helper()
	pos, err := domain.NewLoopingPosition(domain.LoopingPosition{
		ID:                   id,
		Wallet:               "0xabc",
		InitialFlow:          100,
		TotalStakedFlow:      400,
		TotalStFlow:          390,
		TotalBorrowedFlow:    300,
		LoopCount:            3,
		CollateralFactor:     0.80,
		LiquidationThreshold: 0.85,
		LiquidationPenalty:   0.05,
		StakingAPR:           0.12,
		BorrowRate:           0.06,
		FlowPrice:            0.80,
		StFlowPrice:          0.82,
	})
	require.NoError(t, err)
	return pos
}

func liquidatableLooping(t *testing.T, id string) domain.LoopingPosition {
	t.Helper()
	pos := healthyLooping(t, id)
	// Enough debt that debt/collateral exceeds the threshold.
	pos.TotalBorrowedFlow = 360
	pos.InitialFlow = 40
	require.NoError(t, pos.Validate())
	return pos
}

func newRiskService(positions domain.PositionStore, reports domain.ReportStore, contexts domain.MarketContextCache, notifier AlertNotifier) *RiskService {
	return NewRiskService(
		risk.NewRegistry(risk.DefaultParams()),
		positions, reports, contexts,
		nil, nil, notifier,
		15*time.Minute,
		slog.Default(),
	)
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestPreviewDoesNotPersist(t *testing.T) {
	t.Parallel()

	reports := &fakeReportStore{}
	svc := newRiskService(newFakePositionStore(), reports, &fakeContextCache{}, nil)

	report, err := svc.Preview(context.Background(), healthyLooping(t, "loop-1"), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, report.ID)
	assert.Equal(t, "0xabc", report.Wallet)
	assert.False(t, report.EvaluatedAt.IsZero())
	assert.Empty(t, reports.reports)
}

func TestEvaluatePersistsReport(t *testing.T) {
	t.Parallel()

	reports := &fakeReportStore{}
	svc := newRiskService(newFakePositionStore(), reports, &fakeContextCache{}, nil)

	report, err := svc.Evaluate(context.Background(), healthyLooping(t, "loop-1"), nil)
	require.NoError(t, err)

	stored, err := svc.GetReport(context.Background(), report.ID)
	require.NoError(t, err)
	assert.Equal(t, "loop-1", stored.PositionID)
	assert.False(t, stored.Liquidatable)
}

func TestEvaluateNotifiesOnLiquidatable(t *testing.T) {
	t.Parallel()

	notifier := &fakeNotifier{}
	svc := newRiskService(newFakePositionStore(), &fakeReportStore{}, &fakeContextCache{}, notifier)

	report, err := svc.Evaluate(context.Background(), liquidatableLooping(t, "loop-2"), nil)
	require.NoError(t, err)
	require.True(t, report.Liquidatable)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "liquidation_risk", notifier.events[0])
}

func TestEvaluateAllCoversEverySnapshot(t *testing.T) {
	t.Parallel()

	positions := newFakePositionStore()
	reports := &fakeReportStore{}
	svc := newRiskService(positions, reports, &fakeContextCache{}, nil)

	for _, pos := range []domain.LoopingPosition{
		healthyLooping(t, "loop-1"),
		liquidatableLooping(t, "loop-2"),
	} {
		require.NoError(t, positions.Upsert(context.Background(), domain.PositionSnapshot{
			ID: pos.ID, Wallet: pos.Wallet, Kind: pos.Kind(), Position: pos, CollectedAt: time.Now(),
		}))
	}

	require.NoError(t, svc.EvaluateAll(context.Background()))

	assert.Len(t, reports.reports, 2)

	liq, err := svc.ListLiquidatable(context.Background(), domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, liq, 1)
	assert.Equal(t, "loop-2", liq[0].PositionID)
}

func TestEvaluateAllIgnoresStaleContext(t *testing.T) {
	t.Parallel()

	positions := newFakePositionStore()
	reports := &fakeReportStore{}
	contexts := &fakeContextCache{}

	// The cached context is over the staleness limit and would change the
	// numbers if used; the position's own price snapshot must win.
	mkt, err := domain.NewMarketContext(2.0, 2.5, 0.4, 0.99, 0, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.NoError(t, contexts.Set(context.Background(), mkt))

	svc := newRiskService(positions, reports, contexts, nil)

	pos := healthyLooping(t, "loop-1")
	require.NoError(t, positions.Upsert(context.Background(), domain.PositionSnapshot{
		ID: pos.ID, Wallet: pos.Wallet, Kind: pos.Kind(), Position: pos, CollectedAt: time.Now(),
	}))
	require.NoError(t, svc.EvaluateAll(context.Background()))

	require.Len(t, reports.reports, 1)
	got := reports.reports[0]
	require.NotNil(t, got.Looping)

	// collateral = 390 * 0.82 at the position's own prices.
	assert.InDelta(t, 390*0.82, float64(got.Looping.CollateralValue), 1e-9)
}

func TestTrackAssignsID(t *testing.T) {
	t.Parallel()

	positions := newFakePositionStore()
	svc := NewPositionService(positions, nil, nil, slog.Default())

	pos := healthyLooping(t, "")
	snap, err := svc.Track(context.Background(), pos)
	require.NoError(t, err)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, snap.ID, snap.Position.PositionID())
	assert.Equal(t, "0xabc", snap.Wallet)

	stored, err := svc.Get(context.Background(), snap.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.KindLooping, stored.Kind)
}
