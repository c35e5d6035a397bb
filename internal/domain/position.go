package domain

import (
	"fmt"
	"time"
)

// PositionKind tags the three supported position archetypes.
type PositionKind string

const (
	KindStaking      PositionKind = "staking"
	KindLooping      PositionKind = "looping"
	KindDeltaNeutral PositionKind = "delta_neutral"
)

// Position is the closed tagged variant over the three position records.
// Only StakingPosition, LoopingPosition, and DeltaNeutralPosition implement
// it, so calculator dispatch over Kind is exhaustive by construction.
type Position interface {
	Kind() PositionKind
	PositionID() string
	isPosition()
}

// StakingPosition is a snapshot of a plain liquid-staking position. No
// leverage exists, so no liquidation concept applies to it.
type StakingPosition struct {
	ID           string    `json:"id"`
	Wallet       string    `json:"wallet"`
	StakedAmount float64   `json:"staked_amount"`
	StFlowAmount float64   `json:"stflow_amount"`
	StakingAPR   float64   `json:"staking_apr"`
	FlowPrice    float64   `json:"flow_price"`
	StFlowPrice  float64   `json:"stflow_price"`
	CollectedAt  time.Time `json:"collected_at"`
}

func (p StakingPosition) Kind() PositionKind { return KindStaking }
func (p StakingPosition) PositionID() string { return p.ID }
func (p StakingPosition) isPosition()        {}

// Validate checks the construction-time invariants for a staking position.
func (p StakingPosition) Validate() error {
	if p.StakedAmount < 0 {
		return fmt.Errorf("%w: staked_amount must be >= 0, got %v", ErrInvalidParameter, p.StakedAmount)
	}
	if p.StFlowAmount < 0 {
		return fmt.Errorf("%w: stflow_amount must be >= 0, got %v", ErrInvalidParameter, p.StFlowAmount)
	}
	if p.StakingAPR < 0 {
		return fmt.Errorf("%w: staking_apr must be >= 0, got %v", ErrInvalidParameter, p.StakingAPR)
	}
	if p.FlowPrice <= 0 {
		return fmt.Errorf("%w: flow_price must be > 0, got %v", ErrInvalidParameter, p.FlowPrice)
	}
	if p.StFlowPrice <= 0 {
		return fmt.Errorf("%w: stflow_price must be > 0, got %v", ErrInvalidParameter, p.StFlowPrice)
	}
	return nil
}

// NewStakingPosition validates p and returns it unchanged on success.
func NewStakingPosition(p StakingPosition) (StakingPosition, error) {
	if err := p.Validate(); err != nil {
		return StakingPosition{}, err
	}
	return p, nil
}

// LoopingPosition is a snapshot of a recursive stake-borrow-restake position
// on a lending market. It carries its own price snapshot so it can be
// evaluated without a MarketContext.
//
// total_borrowed_flow <= total_staked_flow * collateral_factor is the
// healthy-at-open expectation but is deliberately NOT enforced: a position
// may already be over-levered, and the engine must report on it rather than
// reject it.
type LoopingPosition struct {
	ID                   string    `json:"id"`
	Wallet               string    `json:"wallet"`
	InitialFlow          float64   `json:"initial_flow"`
	TotalStakedFlow      float64   `json:"total_staked_flow"`
	TotalStFlow          float64   `json:"total_stflow"`
	TotalBorrowedFlow    float64   `json:"total_borrowed_flow"`
	LoopCount            int       `json:"loop_count"`
	CollateralFactor     float64   `json:"collateral_factor"`
	LiquidationThreshold float64   `json:"liquidation_threshold"`
	LiquidationPenalty   float64   `json:"liquidation_penalty"`
	StakingAPR           float64   `json:"staking_apr"`
	BorrowRate           float64   `json:"borrow_rate"`
	FlowPrice            float64   `json:"flow_price"`
	StFlowPrice          float64   `json:"stflow_price"`
	DexLiquidityUSD      *float64  `json:"dex_liquidity_usd,omitempty"`
	CollectedAt          time.Time `json:"collected_at"`
}

func (p LoopingPosition) Kind() PositionKind { return KindLooping }
func (p LoopingPosition) PositionID() string { return p.ID }
func (p LoopingPosition) isPosition()        {}

// Validate checks the construction-time invariants for a looping position.
func (p LoopingPosition) Validate() error {
	if p.InitialFlow <= 0 {
		return fmt.Errorf("%w: initial_flow must be > 0, got %v", ErrInvalidParameter, p.InitialFlow)
	}
	if p.TotalStakedFlow < p.InitialFlow {
		return fmt.Errorf("%w: total_staked_flow %v must be >= initial_flow %v", ErrInvalidParameter, p.TotalStakedFlow, p.InitialFlow)
	}
	if p.TotalStFlow < 0 {
		return fmt.Errorf("%w: total_stflow must be >= 0, got %v", ErrInvalidParameter, p.TotalStFlow)
	}
	if p.TotalBorrowedFlow < 0 {
		return fmt.Errorf("%w: total_borrowed_flow must be >= 0, got %v", ErrInvalidParameter, p.TotalBorrowedFlow)
	}
	if p.LoopCount < 0 {
		return fmt.Errorf("%w: loop_count must be >= 0, got %d", ErrInvalidParameter, p.LoopCount)
	}
	if p.CollateralFactor <= 0 || p.CollateralFactor > 1 {
		return fmt.Errorf("%w: collateral_factor must be in (0, 1], got %v", ErrInvalidParameter, p.CollateralFactor)
	}
	if p.LiquidationThreshold <= p.CollateralFactor || p.LiquidationThreshold > 1 {
		return fmt.Errorf("%w: liquidation_threshold must be in (collateral_factor, 1], got %v", ErrInvalidParameter, p.LiquidationThreshold)
	}
	if p.LiquidationPenalty < 0 || p.LiquidationPenalty >= 1 {
		return fmt.Errorf("%w: liquidation_penalty must be in [0, 1), got %v", ErrInvalidParameter, p.LiquidationPenalty)
	}
	if p.StakingAPR < 0 {
		return fmt.Errorf("%w: staking_apr must be >= 0, got %v", ErrInvalidParameter, p.StakingAPR)
	}
	if p.BorrowRate < 0 {
		return fmt.Errorf("%w: borrow_rate must be >= 0, got %v", ErrInvalidParameter, p.BorrowRate)
	}
	if p.FlowPrice <= 0 {
		return fmt.Errorf("%w: flow_price must be > 0, got %v", ErrInvalidParameter, p.FlowPrice)
	}
	if p.StFlowPrice <= 0 {
		return fmt.Errorf("%w: stflow_price must be > 0, got %v", ErrInvalidParameter, p.StFlowPrice)
	}
	if p.DexLiquidityUSD != nil && *p.DexLiquidityUSD < 0 {
		return fmt.Errorf("%w: dex_liquidity_usd must be >= 0, got %v", ErrInvalidParameter, *p.DexLiquidityUSD)
	}
	return nil
}

// NewLoopingPosition validates p and returns it unchanged on success.
func NewLoopingPosition(p LoopingPosition) (LoopingPosition, error) {
	if err := p.Validate(); err != nil {
		return LoopingPosition{}, err
	}
	return p, nil
}

// DeltaNeutralPosition is a snapshot of a hedged staking position: a long
// staked FLOW leg and an offsetting short perp leg.
//
// PerpFundingRate is the signed annualized funding rate as quoted by the
// venue. Convention: a positive rate means the short side RECEIVES funding.
// The engine reports the raw signed product and never flips the sign.
//
// Basis is supplied by the collector (perp_current_price - flow_price at
// quote time) and is treated as authoritative; it is never recomputed here.
type DeltaNeutralPosition struct {
	ID                         string    `json:"id"`
	Wallet                     string    `json:"wallet"`
	StakedFlow                 float64   `json:"staked_flow"`
	StFlowAmount               float64   `json:"stflow_amount"`
	StakingAPR                 float64   `json:"staking_apr"`
	FlowPrice                  float64   `json:"flow_price"`
	PerpSize                   float64   `json:"perp_size"`
	PerpEntryPrice             float64   `json:"perp_entry_price"`
	PerpCurrentPrice           float64   `json:"perp_current_price"`
	PerpFundingRate            float64   `json:"perp_funding_rate"`
	PerpLeverage               float64   `json:"perp_leverage"`
	PerpMargin                 float64   `json:"perp_margin"`
	PerpMaintenanceMarginRatio float64   `json:"perp_maintenance_margin_ratio"`
	Basis                      float64   `json:"basis"`
	PerpLiquidityUSD           *float64  `json:"perp_liquidity_usd,omitempty"`
	CollectedAt                time.Time `json:"collected_at"`
}

func (p DeltaNeutralPosition) Kind() PositionKind { return KindDeltaNeutral }
func (p DeltaNeutralPosition) PositionID() string { return p.ID }
func (p DeltaNeutralPosition) isPosition()        {}

// Validate checks the construction-time invariants for a delta-neutral position.
func (p DeltaNeutralPosition) Validate() error {
	if p.StakedFlow < 0 {
		return fmt.Errorf("%w: staked_flow must be >= 0, got %v", ErrInvalidParameter, p.StakedFlow)
	}
	if p.StFlowAmount < 0 {
		return fmt.Errorf("%w: stflow_amount must be >= 0, got %v", ErrInvalidParameter, p.StFlowAmount)
	}
	if p.StakingAPR < 0 {
		return fmt.Errorf("%w: staking_apr must be >= 0, got %v", ErrInvalidParameter, p.StakingAPR)
	}
	if p.FlowPrice <= 0 {
		return fmt.Errorf("%w: flow_price must be > 0, got %v", ErrInvalidParameter, p.FlowPrice)
	}
	if p.PerpSize < 0 {
		return fmt.Errorf("%w: perp_size must be >= 0, got %v", ErrInvalidParameter, p.PerpSize)
	}
	if p.PerpEntryPrice <= 0 {
		return fmt.Errorf("%w: perp_entry_price must be > 0, got %v", ErrInvalidParameter, p.PerpEntryPrice)
	}
	if p.PerpCurrentPrice <= 0 {
		return fmt.Errorf("%w: perp_current_price must be > 0, got %v", ErrInvalidParameter, p.PerpCurrentPrice)
	}
	if p.PerpLeverage <= 0 {
		return fmt.Errorf("%w: perp_leverage must be > 0, got %v", ErrInvalidParameter, p.PerpLeverage)
	}
	if p.PerpMargin < 0 {
		return fmt.Errorf("%w: perp_margin must be >= 0, got %v", ErrInvalidParameter, p.PerpMargin)
	}
	if p.PerpMaintenanceMarginRatio <= 0 || p.PerpMaintenanceMarginRatio >= 1 {
		return fmt.Errorf("%w: perp_maintenance_margin_ratio must be in (0, 1), got %v", ErrInvalidParameter, p.PerpMaintenanceMarginRatio)
	}
	if p.PerpLiquidityUSD != nil && *p.PerpLiquidityUSD < 0 {
		return fmt.Errorf("%w: perp_liquidity_usd must be >= 0, got %v", ErrInvalidParameter, *p.PerpLiquidityUSD)
	}
	return nil
}

// NewDeltaNeutralPosition validates p and returns it unchanged on success.
func NewDeltaNeutralPosition(p DeltaNeutralPosition) (DeltaNeutralPosition, error) {
	if err := p.Validate(); err != nil {
		return DeltaNeutralPosition{}, err
	}
	return p, nil
}
