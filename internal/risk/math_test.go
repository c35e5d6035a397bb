package risk

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSafeDiv(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, SafeDiv(0, 0))
	assert.Equal(t, math.Inf(1), SafeDiv(5, 0))
	assert.Equal(t, math.Inf(-1), SafeDiv(-5, 0))
	assert.InDelta(t, 2.5, SafeDiv(5, 2), 1e-12)
	assert.InDelta(t, -2.5, SafeDiv(-5, 2), 1e-12)
}

func TestClamp(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, Clamp(-1, 0, 1))
	assert.Equal(t, 1.0, Clamp(2, 0, 1))
	assert.Equal(t, 0.5, Clamp(0.5, 0, 1))
}

func TestAnnualize(t *testing.T) {
	t.Parallel()

	// 0.01% per 8h funding period, 3 periods a day.
	assert.InDelta(t, 0.0001*1095, Annualize(0.0001, 1095), 1e-12)
	assert.Equal(t, 0.0, Annualize(0, 1095))
	assert.InDelta(t, -0.1095, Annualize(-0.0001, 1095), 1e-12)
}
