package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowquant/flowrisk/internal/domain"
)

// deltaNeutralFixture matches Scenario B: a fully hedged 1000 FLOW stake.
func deltaNeutralFixture() domain.DeltaNeutralPosition {
	return domain.DeltaNeutralPosition{
		ID:                         "dn-1",
		Wallet:                     "0xabc",
		StakedFlow:                 1000,
		StFlowAmount:               970,
		StakingAPR:                 0.10,
		FlowPrice:                  0.75,
		PerpSize:                   1000,
		PerpEntryPrice:             0.80,
		PerpCurrentPrice:           0.75,
		PerpFundingRate:            0.02,
		PerpLeverage:               3,
		PerpMargin:                 300,
		PerpMaintenanceMarginRatio: 0.05,
		Basis:                      0.0,
	}
}

func TestDeltaNeutralScenarioB(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())
	report, err := calc.Evaluate(deltaNeutralFixture(), nil)
	require.NoError(t, err)

	m := report.DeltaNeutral
	require.NotNil(t, m)

	assert.InDelta(t, 1000*(0.80-0.75), float64(m.PerpPnL), 1e-9)
	assert.Equal(t, 0.0, float64(m.NetDeltaFlow))
	require.NotNil(t, m.HedgeRatio)
	assert.Equal(t, 1.0, float64(*m.HedgeRatio))
}

func TestDeltaNeutralShortPnLSign(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())

	// Short profits when price falls below entry, loses when it rises.
	down := deltaNeutralFixture()
	down.PerpCurrentPrice = 0.70
	report, err := calc.Evaluate(down, nil)
	require.NoError(t, err)
	assert.Greater(t, float64(report.DeltaNeutral.PerpPnL), 0.0)

	up := deltaNeutralFixture()
	up.PerpCurrentPrice = 0.90
	report, err = calc.Evaluate(up, nil)
	require.NoError(t, err)
	assert.Less(t, float64(report.DeltaNeutral.PerpPnL), 0.0)
}

func TestDeltaNeutralFundingCarryRawSign(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())

	p := deltaNeutralFixture()
	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1000*0.75*0.02, float64(report.DeltaNeutral.FundingCarryAnnualized), 1e-9)

	// A negative rate must pass through unflipped.
	p.PerpFundingRate = -0.03
	report, err = calc.Evaluate(p, nil)
	require.NoError(t, err)
	assert.InDelta(t, 1000*0.75*-0.03, float64(report.DeltaNeutral.FundingCarryAnnualized), 1e-9)
}

func TestDeltaNeutralMarginRatio(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())
	p := deltaNeutralFixture()

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)

	wantPnL := 1000 * (0.80 - 0.75)
	wantRatio := (300 + wantPnL) / (1000 * 0.75 / 3)
	assert.InDelta(t, wantRatio, float64(report.DeltaNeutral.MarginRatio), 1e-12)
	assert.False(t, report.Liquidatable)
}

func TestDeltaNeutralMarginRatioInfiniteOnZeroNotional(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())
	p := deltaNeutralFixture()
	p.PerpSize = 0

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)
	assert.True(t, math.IsInf(float64(report.DeltaNeutral.MarginRatio), 1))
	assert.False(t, report.Liquidatable)
}

func TestDeltaNeutralLiquidatable(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())
	p := deltaNeutralFixture()
	// Deep underwater short: price doubled against a thin margin.
	p.PerpCurrentPrice = 1.60
	p.PerpMargin = 820

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)

	// Equity 820 - 800 = 20 over notional/leverage 1600/3.
	assert.True(t, float64(report.DeltaNeutral.MarginRatio) <= 0.05)
	assert.True(t, report.Liquidatable)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "maintenance")
}

func TestDeltaNeutralHedgeRatioUndefinedWhenUnstaked(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())
	p := deltaNeutralFixture()
	p.StakedFlow = 0

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)
	assert.Nil(t, report.DeltaNeutral.HedgeRatio)
	assert.Nil(t, report.DeltaNeutral.CombinedAPY)
}

func TestDeltaNeutralCombinedAPY(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())
	p := deltaNeutralFixture()

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)

	carry := 1000 * 0.75 * 0.02
	want := 0.10 + carry/(1000*0.75)
	require.NotNil(t, report.DeltaNeutral.CombinedAPY)
	assert.InDelta(t, want, float64(*report.DeltaNeutral.CombinedAPY), 1e-12)
}

func TestDeltaNeutralBasisReportedVerbatim(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())
	p := deltaNeutralFixture()
	// The provided basis disagrees with perp - spot; it must be reported
	// as given, with a divergence warning rather than a correction.
	p.Basis = 0.10
	p.PerpCurrentPrice = 0.75
	p.FlowPrice = 0.75

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)

	assert.InDelta(t, 0.10*1000, float64(report.DeltaNeutral.BasisRiskUSD), 1e-9)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[len(report.Warnings)-1], "basis")
}

func TestDeltaNeutralHedgeDriftWarning(t *testing.T) {
	t.Parallel()

	calc := NewDeltaNeutralCalculator(DefaultParams())
	p := deltaNeutralFixture()
	p.PerpSize = 600 // only 60% hedged

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "hedge ratio")
}
