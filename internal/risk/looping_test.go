package risk

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowquant/flowrisk/internal/domain"
)

// loopingFixture matches Scenario A: 100 FLOW looped 4x on an 0.8/0.85 market.
func loopingFixture() domain.LoopingPosition {
	return domain.LoopingPosition{
		ID:                   "loop-1",
		Wallet:               "0xabc",
		InitialFlow:          100,
		TotalStakedFlow:      400,
		TotalStFlow:          390,
		TotalBorrowedFlow:    300,
		LoopCount:            3,
		CollateralFactor:     0.8,
		LiquidationThreshold: 0.85,
		LiquidationPenalty:   0.05,
		StakingAPR:           0.12,
		BorrowRate:           0.06,
		FlowPrice:            0.80,
		StFlowPrice:          0.82,
	}
}

func TestLoopingScenarioA(t *testing.T) {
	t.Parallel()

	calc := NewLoopingCalculator(DefaultParams())
	report, err := calc.Evaluate(loopingFixture(), nil)
	require.NoError(t, err)

	m := report.Looping
	require.NotNil(t, m)

	wantLTV := (300 * 0.80) / (390 * 0.82)
	assert.InDelta(t, wantLTV, float64(m.CurrentLTV), 1e-12)
	assert.InDelta(t, 0.85/wantLTV, float64(m.HealthFactor), 1e-12)
	assert.Equal(t, 4.0, float64(m.EffectiveLeverage))
	assert.False(t, report.Liquidatable)

	// Liquidation triggers when R falls to borrowed / (stflow * threshold).
	wantLiqRatio := 300.0 / (390 * 0.85)
	assert.InDelta(t, wantLiqRatio, float64(m.LiquidationRatio), 1e-12)
	rate := 0.82 / 0.80
	assert.InDelta(t, (rate-wantLiqRatio)/rate, float64(m.LiquidationDistance), 1e-12)

	// Annualized return on the original 100 FLOW.
	assert.InDelta(t, (0.12*400-0.06*300)/100, float64(m.NetAPY), 1e-12)
	assert.InDelta(t, 400*0.8-300, float64(m.MaxSafeBorrow), 1e-12)
}

func TestLoopingMarketContextOverridesPrices(t *testing.T) {
	t.Parallel()

	calc := NewLoopingCalculator(DefaultParams())
	p := loopingFixture()

	mkt := &domain.MarketContext{FlowPrice: 1.00, StFlowPrice: 1.05}
	report, err := calc.Evaluate(p, mkt)
	require.NoError(t, err)

	wantLTV := (300 * 1.00) / (390 * 1.05)
	assert.InDelta(t, wantLTV, float64(report.Looping.CurrentLTV), 1e-12)
}

func TestLoopingHealthFactorThresholdEquivalence(t *testing.T) {
	t.Parallel()

	// current_ltv < liquidation_threshold <=> health_factor > 1, and the
	// converse, across a spread of borrow levels.
	calc := NewLoopingCalculator(DefaultParams())
	for _, borrowed := range []float64{0, 50, 150, 271.83, 310, 350, 390} {
		p := loopingFixture()
		p.TotalBorrowedFlow = borrowed

		report, err := calc.Evaluate(p, nil)
		require.NoError(t, err)

		ltv := float64(report.Looping.CurrentLTV)
		hf := float64(report.Looping.HealthFactor)
		if ltv < p.LiquidationThreshold {
			assert.Greater(t, hf, 1.0, "borrowed=%v", borrowed)
		} else {
			assert.LessOrEqual(t, hf, 1.0, "borrowed=%v", borrowed)
		}
		assert.Equal(t, hf <= 1, report.Liquidatable, "borrowed=%v", borrowed)
	}
}

func TestLoopingLTVMonotonicity(t *testing.T) {
	t.Parallel()

	calc := NewLoopingCalculator(DefaultParams())

	// Non-decreasing in borrowed FLOW.
	prev := -1.0
	for _, borrowed := range []float64{0, 10, 100, 200, 300, 400} {
		p := loopingFixture()
		p.TotalBorrowedFlow = borrowed
		report, err := calc.Evaluate(p, nil)
		require.NoError(t, err)
		ltv := float64(report.Looping.CurrentLTV)
		assert.GreaterOrEqual(t, ltv, prev)
		prev = ltv
	}

	// Non-increasing in stFLOW collateral.
	prev = math.Inf(1)
	for _, stflow := range []float64{100, 200, 390, 500, 800} {
		p := loopingFixture()
		p.TotalStFlow = stflow
		report, err := calc.Evaluate(p, nil)
		require.NoError(t, err)
		ltv := float64(report.Looping.CurrentLTV)
		assert.LessOrEqual(t, ltv, prev)
		prev = ltv
	}
}

func TestLoopingZeroDebt(t *testing.T) {
	t.Parallel()

	calc := NewLoopingCalculator(DefaultParams())
	p := loopingFixture()
	p.TotalBorrowedFlow = 0

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)

	assert.Equal(t, 0.0, float64(report.Looping.CurrentLTV))
	assert.True(t, math.IsInf(float64(report.Looping.HealthFactor), 1))
	assert.False(t, report.Liquidatable)
}

func TestLoopingZeroCollateralZeroDebt(t *testing.T) {
	t.Parallel()

	// Empty position: no division error, LTV 0.
	calc := NewLoopingCalculator(DefaultParams())
	p := loopingFixture()
	p.TotalStFlow = 0
	p.TotalBorrowedFlow = 0

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, float64(report.Looping.CurrentLTV))
	assert.True(t, math.IsInf(float64(report.Looping.HealthFactor), 1))
}

func TestLoopingDebtOverZeroCollateral(t *testing.T) {
	t.Parallel()

	calc := NewLoopingCalculator(DefaultParams())
	p := loopingFixture()
	p.TotalStFlow = 0

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)

	assert.True(t, math.IsInf(float64(report.Looping.CurrentLTV), 1))
	assert.Equal(t, 0.0, float64(report.Looping.HealthFactor))
	assert.True(t, report.Liquidatable)
}

func TestLoopingOverLeveredReportsNotRejects(t *testing.T) {
	t.Parallel()

	// Borrowed beyond the collateral factor: still a valid record, but the
	// report must surface negative headroom.
	p := loopingFixture()
	p.TotalBorrowedFlow = 350 // headroom is 400*0.8 = 320

	validated, err := domain.NewLoopingPosition(p)
	require.NoError(t, err)

	calc := NewLoopingCalculator(DefaultParams())
	report, err := calc.Evaluate(validated, nil)
	require.NoError(t, err)

	assert.InDelta(t, -30, float64(report.Looping.MaxSafeBorrow), 1e-9)
	assert.Contains(t, strings.Join(report.Warnings, "; "), "headroom")
}

func TestLoopingNearThresholdWarning(t *testing.T) {
	t.Parallel()

	// Tune borrowed so the health factor sits just above 1.
	p := loopingFixture()
	// health = threshold * collateral_value / debt_value; want ~1.03.
	p.TotalBorrowedFlow = 0.85 * (390 * 0.82) / 1.03 / 0.80

	calc := NewLoopingCalculator(DefaultParams())
	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)

	assert.False(t, report.Liquidatable)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "health factor")
}

func TestLoopingLiquidityUtilizationOptional(t *testing.T) {
	t.Parallel()

	calc := NewLoopingCalculator(DefaultParams())

	p := loopingFixture()
	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)
	assert.Nil(t, report.Looping.LiquidityUtilization)

	liq := 1000.0
	p.DexLiquidityUSD = &liq
	report, err = calc.Evaluate(p, nil)
	require.NoError(t, err)
	require.NotNil(t, report.Looping.LiquidityUtilization)
	assert.InDelta(t, (390*0.82)/1000, float64(*report.Looping.LiquidityUtilization), 1e-12)
}

func TestLoopingConstructionRejectsZeroInitial(t *testing.T) {
	t.Parallel()

	p := loopingFixture()
	p.InitialFlow = 0
	_, err := domain.NewLoopingPosition(p)
	assert.ErrorIs(t, err, domain.ErrInvalidParameter)
}
