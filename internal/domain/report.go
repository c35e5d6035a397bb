package domain

import (
	"bytes"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Metric is a float64 risk metric whose JSON encoding survives the IEEE
// infinity sentinels the calculators use for degenerate divisions.
// encoding/json rejects +-Inf outright, so Metric marshals them as the
// strings "inf" / "-inf" and parses them back symmetrically.
type Metric float64

// IsInf reports whether the metric is the positive or negative infinity sentinel.
func (m Metric) IsInf() bool { return math.IsInf(float64(m), 0) }

// MarshalJSON implements json.Marshaler.
func (m Metric) MarshalJSON() ([]byte, error) {
	f := float64(m)
	switch {
	case math.IsInf(f, 1):
		return []byte(`"inf"`), nil
	case math.IsInf(f, -1):
		return []byte(`"-inf"`), nil
	case math.IsNaN(f):
		return nil, fmt.Errorf("metric is NaN")
	default:
		return []byte(strconv.FormatFloat(f, 'g', -1, 64)), nil
	}
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Metric) UnmarshalJSON(data []byte) error {
	switch {
	case bytes.Equal(data, []byte(`"inf"`)):
		*m = Metric(math.Inf(1))
		return nil
	case bytes.Equal(data, []byte(`"-inf"`)):
		*m = Metric(math.Inf(-1))
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse metric %q: %w", string(data), err)
	}
	*m = Metric(f)
	return nil
}

// StakingMetrics are the derived metrics for a plain staking position.
type StakingMetrics struct {
	PositionValueUSD   Metric `json:"position_value_usd"`
	CollateralValueUSD Metric `json:"collateral_value_usd"`
	// PegRatio is collateral_value_usd / position_value_usd; 1.0 means the
	// receipt token tracks the underlying exactly.
	PegRatio     Metric `json:"peg_ratio"`
	PegTolerance Metric `json:"peg_tolerance"`
	NetAPY       Metric `json:"net_apy"`
}

// LoopingMetrics are the derived metrics for a leveraged looping position.
type LoopingMetrics struct {
	CollateralValue Metric `json:"collateral_value"`
	DebtValue       Metric `json:"debt_value"`
	CurrentLTV      Metric `json:"current_ltv"`
	HealthFactor    Metric `json:"health_factor"`
	// LiquidationRatio is the stFLOW/FLOW exchange rate at which liquidation
	// triggers, holding quantities fixed.
	LiquidationRatio Metric `json:"liquidation_ratio"`
	// LiquidationDistance is (R - liquidation_ratio) / R; negative means the
	// trigger has already been passed.
	LiquidationDistance Metric `json:"liquidation_distance"`
	EffectiveLeverage   Metric `json:"effective_leverage"`
	NetAPY              Metric `json:"net_apy"`
	// MaxSafeBorrow may be negative for an already-unsafe position.
	MaxSafeBorrow Metric `json:"max_safe_borrow"`
	// LiquidityUtilization is collateral_value / dex_liquidity_usd; omitted
	// when the position has no liquidity snapshot.
	LiquidityUtilization *Metric `json:"liquidity_utilization,omitempty"`
}

// DeltaNeutralMetrics are the derived metrics for a hedged staking position.
type DeltaNeutralMetrics struct {
	PerpPnL Metric `json:"perp_pnl"`
	// FundingCarryAnnualized is the raw signed product
	// perp_size * perp_current_price * perp_funding_rate. Positive funding
	// conventionally means the short receives; the sign is never flipped.
	FundingCarryAnnualized Metric `json:"funding_carry_annualized"`
	MarginRatio            Metric `json:"margin_ratio"`
	MaintenanceMarginRatio Metric `json:"maintenance_margin_ratio"`
	NetDeltaFlow           Metric `json:"net_delta_flow"`
	NetDeltaUSD            Metric `json:"net_delta_usd"`
	// HedgeRatio is perp_size / staked_flow; nil when nothing is staked.
	// Ideal value is 1.0.
	HedgeRatio *Metric `json:"hedge_ratio,omitempty"`
	// CombinedAPY excludes unrealized perp PnL; nil when the staked notional
	// is not positive.
	CombinedAPY  *Metric `json:"combined_apy,omitempty"`
	BasisRiskUSD Metric  `json:"basis_risk_usd"`
}

// RiskReport is the output of one evaluation: the derived metrics for the
// position's archetype plus liquidatability and near-threshold warnings.
// Exactly one of Staking, Looping, DeltaNeutral is non-nil, matching Kind.
type RiskReport struct {
	ID           string       `json:"id,omitempty"`
	PositionID   string       `json:"position_id"`
	Wallet       string       `json:"wallet,omitempty"`
	Kind         PositionKind `json:"kind"`
	Liquidatable bool         `json:"liquidatable"`
	Warnings     []string     `json:"warnings"`
	EvaluatedAt  time.Time    `json:"evaluated_at"`

	Staking      *StakingMetrics      `json:"staking,omitempty"`
	Looping      *LoopingMetrics      `json:"looping,omitempty"`
	DeltaNeutral *DeltaNeutralMetrics `json:"delta_neutral,omitempty"`
}
