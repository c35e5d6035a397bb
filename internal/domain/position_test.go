package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validLooping() LoopingPosition {
	return LoopingPosition{
		ID:                   "loop-1",
		InitialFlow:          100,
		TotalStakedFlow:      400,
		TotalStFlow:          390,
		TotalBorrowedFlow:    300,
		CollateralFactor:     0.8,
		LiquidationThreshold: 0.85,
		FlowPrice:            0.80,
		StFlowPrice:          0.82,
	}
}

func TestLoopingValidation(t *testing.T) {
	t.Parallel()

	_, err := NewLoopingPosition(validLooping())
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*LoopingPosition)
	}{
		{"zero initial flow", func(p *LoopingPosition) { p.InitialFlow = 0 }},
		{"negative initial flow", func(p *LoopingPosition) { p.InitialFlow = -1 }},
		{"staked below initial", func(p *LoopingPosition) { p.TotalStakedFlow = 50 }},
		{"negative stflow", func(p *LoopingPosition) { p.TotalStFlow = -1 }},
		{"negative borrowed", func(p *LoopingPosition) { p.TotalBorrowedFlow = -1 }},
		{"collateral factor zero", func(p *LoopingPosition) { p.CollateralFactor = 0 }},
		{"collateral factor above one", func(p *LoopingPosition) { p.CollateralFactor = 1.1 }},
		{"threshold not above collateral factor", func(p *LoopingPosition) { p.LiquidationThreshold = 0.8 }},
		{"threshold above one", func(p *LoopingPosition) { p.LiquidationThreshold = 1.01 }},
		{"penalty at one", func(p *LoopingPosition) { p.LiquidationPenalty = 1 }},
		{"zero flow price", func(p *LoopingPosition) { p.FlowPrice = 0 }},
		{"zero stflow price", func(p *LoopingPosition) { p.StFlowPrice = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validLooping()
			tc.mutate(&p)
			_, err := NewLoopingPosition(p)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestLoopingOverLeveredIsValid(t *testing.T) {
	t.Parallel()

	// Healthy-at-open is an expectation, not an invariant: an over-levered
	// snapshot must construct so the engine can report on it.
	p := validLooping()
	p.TotalBorrowedFlow = 390 // > 400 * 0.8
	_, err := NewLoopingPosition(p)
	assert.NoError(t, err)
}

func TestStakingValidation(t *testing.T) {
	t.Parallel()

	p := StakingPosition{StakedAmount: 500, StFlowAmount: 480, StakingAPR: 0.15, FlowPrice: 0.8, StFlowPrice: 0.82}
	_, err := NewStakingPosition(p)
	require.NoError(t, err)

	p.FlowPrice = 0
	_, err = NewStakingPosition(p)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	p = StakingPosition{StakedAmount: -1, FlowPrice: 0.8, StFlowPrice: 0.82}
	_, err = NewStakingPosition(p)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestDeltaNeutralValidation(t *testing.T) {
	t.Parallel()

	valid := DeltaNeutralPosition{
		StakedFlow:                 1000,
		FlowPrice:                  0.75,
		PerpSize:                   1000,
		PerpEntryPrice:             0.80,
		PerpCurrentPrice:           0.75,
		PerpLeverage:               3,
		PerpMargin:                 300,
		PerpMaintenanceMarginRatio: 0.05,
	}
	_, err := NewDeltaNeutralPosition(valid)
	require.NoError(t, err)

	cases := []struct {
		name   string
		mutate func(*DeltaNeutralPosition)
	}{
		{"zero entry price", func(p *DeltaNeutralPosition) { p.PerpEntryPrice = 0 }},
		{"zero current price", func(p *DeltaNeutralPosition) { p.PerpCurrentPrice = 0 }},
		{"zero leverage", func(p *DeltaNeutralPosition) { p.PerpLeverage = 0 }},
		{"negative margin", func(p *DeltaNeutralPosition) { p.PerpMargin = -1 }},
		{"maintenance ratio zero", func(p *DeltaNeutralPosition) { p.PerpMaintenanceMarginRatio = 0 }},
		{"maintenance ratio one", func(p *DeltaNeutralPosition) { p.PerpMaintenanceMarginRatio = 1 }},
		{"negative perp size", func(p *DeltaNeutralPosition) { p.PerpSize = -1 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			_, err := NewDeltaNeutralPosition(p)
			assert.ErrorIs(t, err, ErrInvalidParameter)
		})
	}
}

func TestMarketContextValidation(t *testing.T) {
	t.Parallel()

	now := time.Now()

	mkt, err := NewMarketContext(0.80, 0.82, 0.9, 0.98, 0.03, now)
	require.NoError(t, err)
	assert.InDelta(t, 0.82/0.80, mkt.ExchangeRate(), 1e-12)

	_, err = NewMarketContext(0, 0.82, 0.9, 0.98, 0, now)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewMarketContext(0.80, 0.82, -0.1, 0.98, 0, now)
	assert.ErrorIs(t, err, ErrInvalidParameter)

	_, err = NewMarketContext(0.80, 0.82, 0.9, 1.5, 0, now)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestPositionKindTags(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindLooping, validLooping().Kind())
	assert.Equal(t, KindStaking, StakingPosition{}.Kind())
	assert.Equal(t, KindDeltaNeutral, DeltaNeutralPosition{}.Kind())
}
