package domain

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricJSONInfinities(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Metric(math.Inf(1)))
	require.NoError(t, err)
	assert.Equal(t, `"inf"`, string(data))

	data, err = json.Marshal(Metric(math.Inf(-1)))
	require.NoError(t, err)
	assert.Equal(t, `"-inf"`, string(data))

	var m Metric
	require.NoError(t, json.Unmarshal([]byte(`"inf"`), &m))
	assert.True(t, math.IsInf(float64(m), 1))
	require.NoError(t, json.Unmarshal([]byte(`"-inf"`), &m))
	assert.True(t, math.IsInf(float64(m), -1))
}

func TestMetricJSONFinite(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(Metric(1.1337))
	require.NoError(t, err)
	assert.Equal(t, "1.1337", string(data))

	var m Metric
	require.NoError(t, json.Unmarshal([]byte("0.75"), &m))
	assert.Equal(t, Metric(0.75), m)
}

func TestMetricJSONRejectsNaN(t *testing.T) {
	t.Parallel()

	_, err := json.Marshal(Metric(math.NaN()))
	assert.Error(t, err)
}

func TestRiskReportRoundTrip(t *testing.T) {
	t.Parallel()

	hedge := Metric(1.0)
	report := RiskReport{
		ID:           "r-1",
		PositionID:   "dn-1",
		Kind:         KindDeltaNeutral,
		Liquidatable: false,
		Warnings:     []string{},
		DeltaNeutral: &DeltaNeutralMetrics{
			PerpPnL:     Metric(50),
			MarginRatio: Metric(math.Inf(1)),
			HedgeRatio:  &hedge,
		},
	}

	data, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded RiskReport
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, report.Kind, decoded.Kind)
	assert.Equal(t, report.DeltaNeutral.PerpPnL, decoded.DeltaNeutral.PerpPnL)
	assert.True(t, decoded.DeltaNeutral.MarginRatio.IsInf())
	require.NotNil(t, decoded.DeltaNeutral.HedgeRatio)
	assert.Equal(t, hedge, *decoded.DeltaNeutral.HedgeRatio)
	assert.Nil(t, decoded.Looping)
}
