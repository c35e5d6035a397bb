package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowquant/flowrisk/internal/domain"
)

func stakingFixture() domain.StakingPosition {
	return domain.StakingPosition{
		ID:           "stk-1",
		Wallet:       "0xabc",
		StakedAmount: 500,
		StFlowAmount: 480,
		StakingAPR:   0.15,
		FlowPrice:    0.80,
		StFlowPrice:  0.83,
	}
}

func TestStakingNetAPYPassThrough(t *testing.T) {
	t.Parallel()

	calc := NewStakingCalculator(DefaultParams())

	// Scenario C: net APY equals the staking APR exactly, independent of
	// the price fields.
	for _, price := range []float64{0.10, 0.80, 42.0} {
		p := stakingFixture()
		p.FlowPrice = price
		p.StFlowPrice = price * 1.02

		report, err := calc.Evaluate(p, nil)
		require.NoError(t, err)
		require.NotNil(t, report.Staking)
		assert.Equal(t, 0.15, float64(report.Staking.NetAPY))
	}
}

func TestStakingValuesAndPeg(t *testing.T) {
	t.Parallel()

	calc := NewStakingCalculator(DefaultParams())
	p := stakingFixture()

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)

	m := report.Staking
	require.NotNil(t, m)
	assert.InDelta(t, 500*0.80, float64(m.PositionValueUSD), 1e-9)
	assert.InDelta(t, 480*0.83, float64(m.CollateralValueUSD), 1e-9)
	assert.InDelta(t, (480*0.83)/(500*0.80), float64(m.PegRatio), 1e-12)
	assert.False(t, report.Liquidatable)
	assert.Empty(t, report.Warnings)
}

func TestStakingDepegWarning(t *testing.T) {
	t.Parallel()

	calc := NewStakingCalculator(DefaultParams())
	p := stakingFixture()
	p.StFlowAmount = 500
	p.StFlowPrice = 0.60 // receipt token well below the underlying

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)
	require.Len(t, report.Warnings, 1)
	assert.Contains(t, report.Warnings[0], "peg ratio")
}

func TestStakingZeroAmounts(t *testing.T) {
	t.Parallel()

	calc := NewStakingCalculator(DefaultParams())
	p := stakingFixture()
	p.StakedAmount = 0
	p.StFlowAmount = 0

	report, err := calc.Evaluate(p, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.0, float64(report.Staking.PositionValueUSD))
	assert.Equal(t, 0.0, float64(report.Staking.PegRatio))
	assert.Empty(t, report.Warnings)
}

func TestStakingRejectsOtherKinds(t *testing.T) {
	t.Parallel()

	calc := NewStakingCalculator(DefaultParams())
	_, err := calc.Evaluate(loopingFixture(), nil)
	assert.ErrorIs(t, err, domain.ErrUnsupportedKind)
}
