package risk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowquant/flowrisk/internal/domain"
)

func TestRegistryDispatch(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultParams())

	cases := []struct {
		pos  domain.Position
		kind domain.PositionKind
	}{
		{stakingFixture(), domain.KindStaking},
		{loopingFixture(), domain.KindLooping},
		{deltaNeutralFixture(), domain.KindDeltaNeutral},
	}
	for _, tc := range cases {
		report, err := reg.Evaluate(tc.pos, nil)
		require.NoError(t, err)
		assert.Equal(t, tc.kind, report.Kind)
	}
}

func TestRegistryUnknownKind(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultParams())
	_, err := reg.Get(domain.PositionKind("options"))
	assert.ErrorIs(t, err, domain.ErrUnsupportedKind)
}

func TestEvaluateIsDeterministic(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultParams())
	mkt := &domain.MarketContext{
		FlowPrice:             0.80,
		StFlowPrice:           0.82,
		FlowVolatility:        0.9,
		StFlowFlowCorrelation: 0.98,
	}

	for _, pos := range []domain.Position{stakingFixture(), loopingFixture(), deltaNeutralFixture()} {
		first, err := reg.Evaluate(pos, mkt)
		require.NoError(t, err)
		second, err := reg.Evaluate(pos, mkt)
		require.NoError(t, err)

		// Bit-identical structs and bit-identical serialized form.
		assert.Equal(t, first, second)

		a, err := json.Marshal(first)
		require.NoError(t, err)
		b, err := json.Marshal(second)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	}
}

func TestReportCarriesExactlyOneMetricBlock(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultParams())

	report, err := reg.Evaluate(loopingFixture(), nil)
	require.NoError(t, err)
	assert.NotNil(t, report.Looping)
	assert.Nil(t, report.Staking)
	assert.Nil(t, report.DeltaNeutral)
}

func TestInfiniteMetricsSurviveJSON(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(DefaultParams())
	p := loopingFixture()
	p.TotalBorrowedFlow = 0 // health factor becomes +Inf

	report, err := reg.Evaluate(p, nil)
	require.NoError(t, err)

	data, err := json.Marshal(report)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"health_factor":"inf"`)

	var decoded domain.RiskReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Looping.HealthFactor, decoded.Looping.HealthFactor)
}
