package domain

import (
	"fmt"
	"time"
)

// MarketContext is a read-only snapshot of the market data shared by all risk
// calculators: spot prices, volatility, correlation, and the risk-free rate.
// It is constructed once per evaluation and never mutated.
type MarketContext struct {
	// FlowPrice is the FLOW spot price in USD.
	FlowPrice float64 `json:"flow_price"`
	// StFlowPrice is the stFLOW (liquid staking receipt token) spot price in USD.
	StFlowPrice float64 `json:"stflow_price"`
	// FlowVolatility is the annualized FLOW price volatility.
	FlowVolatility float64 `json:"flow_volatility"`
	// StFlowFlowCorrelation is the stFLOW/FLOW price correlation in [-1, 1].
	StFlowFlowCorrelation float64 `json:"stflow_flow_correlation"`
	// RiskFreeRate is the annualized risk-free rate. Defaults to 0.
	RiskFreeRate float64 `json:"risk_free_rate"`
	// CollectedAt is when the snapshot was assembled by the collector.
	CollectedAt time.Time `json:"collected_at"`
}

// NewMarketContext validates the field ranges and returns the snapshot.
// It returns ErrInvalidParameter when any invariant is violated.
func NewMarketContext(flowPrice, stFlowPrice, volatility, correlation, riskFree float64, collectedAt time.Time) (MarketContext, error) {
	mkt := MarketContext{
		FlowPrice:             flowPrice,
		StFlowPrice:           stFlowPrice,
		FlowVolatility:        volatility,
		StFlowFlowCorrelation: correlation,
		RiskFreeRate:          riskFree,
		CollectedAt:           collectedAt,
	}
	if err := mkt.Validate(); err != nil {
		return MarketContext{}, err
	}
	return mkt, nil
}

// Validate checks the field invariants. Snapshots decoded from external
// input must be validated before they reach a calculator.
func (m MarketContext) Validate() error {
	if m.FlowPrice <= 0 {
		return fmt.Errorf("%w: flow_price must be > 0, got %v", ErrInvalidParameter, m.FlowPrice)
	}
	if m.StFlowPrice <= 0 {
		return fmt.Errorf("%w: stflow_price must be > 0, got %v", ErrInvalidParameter, m.StFlowPrice)
	}
	if m.FlowVolatility < 0 {
		return fmt.Errorf("%w: flow_volatility must be >= 0, got %v", ErrInvalidParameter, m.FlowVolatility)
	}
	if m.StFlowFlowCorrelation < -1 || m.StFlowFlowCorrelation > 1 {
		return fmt.Errorf("%w: stflow_flow_correlation must be in [-1, 1], got %v", ErrInvalidParameter, m.StFlowFlowCorrelation)
	}
	return nil
}

// ExchangeRate returns R = stflow_price / flow_price, the stFLOW-per-FLOW
// exchange rate the looping calculator works in.
func (m MarketContext) ExchangeRate() float64 {
	return m.StFlowPrice / m.FlowPrice
}
