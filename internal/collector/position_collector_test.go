package collector

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowquant/flowrisk/internal/domain"
	"github.com/flowquant/flowrisk/internal/platform/flowevm"
	"github.com/flowquant/flowrisk/internal/platform/perps"
)

type fakeAccountSource struct {
	flowBal   float64
	stFlowBal float64
	rate      float64
	acct      flowevm.AccountData
}

func (f *fakeAccountSource) FlowBalance(context.Context, string) (float64, error) {
	return f.flowBal, nil
}

func (f *fakeAccountSource) StFlowBalance(context.Context, string) (float64, error) {
	return f.stFlowBal, nil
}

func (f *fakeAccountSource) StFlowExchangeRate(context.Context) (float64, error) {
	return f.rate, nil
}

func (f *fakeAccountSource) LendingAccountData(context.Context, string) (flowevm.AccountData, error) {
	return f.acct, nil
}

type fakePerpAccount struct {
	position   perps.AccountPosition
	mark       perps.MarkPrice
	history    []perps.FundingPayment
	historyErr error
}

func (f *fakePerpAccount) GetAccountPosition(context.Context, string) (perps.AccountPosition, error) {
	return f.position, nil
}

func (f *fakePerpAccount) GetMarkPrice(context.Context, string) (perps.MarkPrice, error) {
	return f.mark, nil
}

func (f *fakePerpAccount) GetFundingHistory(context.Context, string, int) ([]perps.FundingPayment, error) {
	return f.history, f.historyErr
}

type fakeSnapshotStore struct {
	snaps []domain.PositionSnapshot
}

func (f *fakeSnapshotStore) Upsert(_ context.Context, snap domain.PositionSnapshot) error {
	f.snaps = append(f.snaps, snap)
	return nil
}

func (f *fakeSnapshotStore) GetByID(context.Context, string) (domain.PositionSnapshot, error) {
	return domain.PositionSnapshot{}, domain.ErrNotFound
}

func (f *fakeSnapshotStore) ListByWallet(context.Context, string, domain.ListOpts) ([]domain.PositionSnapshot, error) {
	return f.snaps, nil
}

func (f *fakeSnapshotStore) ListLatest(context.Context, domain.ListOpts) ([]domain.PositionSnapshot, error) {
	return f.snaps, nil
}

func (f *fakeSnapshotStore) Count(context.Context) (int64, error) {
	return int64(len(f.snaps)), nil
}

type fakeContextSource struct {
	mkt domain.MarketContext
}

func (f *fakeContextSource) Set(context.Context, domain.MarketContext) error { return nil }

func (f *fakeContextSource) Get(context.Context) (domain.MarketContext, error) {
	return f.mkt, nil
}

func testMarket(t *testing.T) domain.MarketContext {
	t.Helper()
	mkt, err := domain.NewMarketContext(1.0, 1.05, 0.8, 0.98, 0, time.Now().UTC())
	require.NoError(t, err)
	return mkt
}

func testRates() Rates {
	return Rates{
		StakingAPR:             0.09,
		BorrowRate:             0.05,
		FundingPeriodsPerYear:  1095,
		MaintenanceMarginRatio: 0.025,
		LiquidationPenalty:     0.05,
	}
}

func TestCollectWalletDebtYieldsLooping(t *testing.T) {
	t.Parallel()

	chain := &fakeAccountSource{
		stFlowBal: 380,
		rate:      1.05,
		acct: flowevm.AccountData{
			TotalCollateralUSD:   400,
			TotalDebtUSD:         300,
			LTV:                  0.75,
			LiquidationThreshold: 0.80,
		},
	}
	store := &fakeSnapshotStore{}
	c := NewPositionCollector(chain, nil, store, &fakeContextSource{mkt: testMarket(t)},
		[]string{"0xabc"}, "FLOWUSDT", testRates(), slog.Default())

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, store.snaps, 1)

	snap := store.snaps[0]
	assert.Equal(t, domain.KindLooping, snap.Kind)
	assert.Equal(t, "looping:0xabc", snap.ID)

	pos, ok := snap.Position.(domain.LoopingPosition)
	require.True(t, ok)
	assert.InDelta(t, 400.0, pos.TotalStakedFlow, 1e-9)
	assert.InDelta(t, 300.0, pos.TotalBorrowedFlow, 1e-9)
	assert.InDelta(t, 100.0, pos.InitialFlow, 1e-9)
}

func TestCollectWalletDebtFreeYieldsStaking(t *testing.T) {
	t.Parallel()

	chain := &fakeAccountSource{stFlowBal: 100, rate: 1.05}
	store := &fakeSnapshotStore{}
	c := NewPositionCollector(chain, nil, store, &fakeContextSource{mkt: testMarket(t)},
		[]string{"0xabc"}, "FLOWUSDT", testRates(), slog.Default())

	require.NoError(t, c.Run(context.Background()))
	require.Len(t, store.snaps, 1)

	snap := store.snaps[0]
	assert.Equal(t, domain.KindStaking, snap.Kind)

	pos, ok := snap.Position.(domain.StakingPosition)
	require.True(t, ok)
	assert.InDelta(t, 105.0, pos.StakedAmount, 1e-9)
	assert.InDelta(t, 100.0, pos.StFlowAmount, 1e-9)
}

func TestCollectHedgeSkipsFlatBook(t *testing.T) {
	t.Parallel()

	chain := &fakeAccountSource{stFlowBal: 100, rate: 1.05}
	perp := &fakePerpAccount{
		position: perps.AccountPosition{Symbol: "FLOWUSDT", Size: 0},
	}
	store := &fakeSnapshotStore{}
	c := NewPositionCollector(chain, perp, store, &fakeContextSource{mkt: testMarket(t)},
		[]string{"0xabc"}, "FLOWUSDT", testRates(), slog.Default())

	require.NoError(t, c.Run(context.Background()))

	for _, snap := range store.snaps {
		assert.NotEqual(t, domain.KindDeltaNeutral, snap.Kind)
	}
}

func TestCollectHedgeShortBook(t *testing.T) {
	t.Parallel()

	chain := &fakeAccountSource{stFlowBal: 100, rate: 1.05}
	perp := &fakePerpAccount{
		position: perps.AccountPosition{
			Symbol:         "FLOWUSDT",
			Size:           -105,
			EntryPrice:     0.98,
			Leverage:       3,
			IsolatedMargin: 35,
		},
		mark: perps.MarkPrice{Symbol: "FLOWUSDT", Mark: 1.01, FundingRate: 0.0001},
		history: []perps.FundingPayment{
			{Symbol: "FLOWUSDT", Rate: 0.0001},
			{Symbol: "FLOWUSDT", Rate: 0.0002},
			{Symbol: "FLOWUSDT", Rate: 0.0003},
		},
	}
	store := &fakeSnapshotStore{}
	c := NewPositionCollector(chain, perp, store, &fakeContextSource{mkt: testMarket(t)},
		[]string{"0xabc"}, "FLOWUSDT", testRates(), slog.Default())

	require.NoError(t, c.Run(context.Background()))

	var hedge *domain.DeltaNeutralPosition
	for _, snap := range store.snaps {
		if snap.Kind == domain.KindDeltaNeutral {
			pos, ok := snap.Position.(domain.DeltaNeutralPosition)
			require.True(t, ok)
			hedge = &pos
		}
	}
	require.NotNil(t, hedge)

	assert.InDelta(t, 105.0, hedge.PerpSize, 1e-9)
	assert.InDelta(t, 1.01, hedge.PerpCurrentPrice, 1e-9)
	// Trailing average of the funding history, annualized.
	assert.InDelta(t, 0.0002*1095, hedge.PerpFundingRate, 1e-9)
	assert.InDelta(t, 0.01, hedge.Basis, 1e-9)
}

func TestFundingRateFallsBackToLiveRate(t *testing.T) {
	t.Parallel()

	perp := &fakePerpAccount{
		mark:       perps.MarkPrice{Symbol: "FLOWUSDT", FundingRate: 0.00025},
		historyErr: errors.New("venue down"),
	}
	c := NewPositionCollector(nil, perp, nil, nil,
		nil, "FLOWUSDT", testRates(), slog.Default())

	rate := c.fundingRate(context.Background(), perp.mark)
	assert.InDelta(t, 0.00025, rate, 1e-12)
}

func TestFundingRateEmptyHistoryUsesLiveRate(t *testing.T) {
	t.Parallel()

	perp := &fakePerpAccount{
		mark: perps.MarkPrice{Symbol: "FLOWUSDT", FundingRate: 0.0004},
	}
	c := NewPositionCollector(nil, perp, nil, nil,
		nil, "FLOWUSDT", testRates(), slog.Default())

	rate := c.fundingRate(context.Background(), perp.mark)
	assert.InDelta(t, 0.0004, rate, 1e-12)
}
