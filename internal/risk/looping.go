package risk

import (
	"fmt"
	"math"

	"github.com/flowquant/flowrisk/internal/domain"
)

// LoopingCalculator evaluates leveraged stake-borrow-restake positions.
// All ratio metrics degrade to the documented 0 / +Inf sentinels for
// zero-collateral and zero-debt positions instead of failing.
type LoopingCalculator struct {
	params Params
}

// NewLoopingCalculator creates the looping calculator with the given tunables.
func NewLoopingCalculator(params Params) *LoopingCalculator {
	return &LoopingCalculator{params: params}
}

// Kind returns domain.KindLooping.
func (c *LoopingCalculator) Kind() domain.PositionKind { return domain.KindLooping }

// Evaluate derives the looping metrics. When mkt is non-nil its prices
// override the position's own snapshot; a nil mkt keeps the record
// self-contained.
func (c *LoopingCalculator) Evaluate(pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error) {
	p, ok := pos.(domain.LoopingPosition)
	if !ok {
		return domain.RiskReport{}, fmt.Errorf("%w: looping calculator got %s", domain.ErrUnsupportedKind, pos.Kind())
	}

	flowPrice := p.FlowPrice
	stFlowPrice := p.StFlowPrice
	if mkt != nil {
		flowPrice = mkt.FlowPrice
		stFlowPrice = mkt.StFlowPrice
	}

	collateralValue := p.TotalStFlow * stFlowPrice
	debtValue := p.TotalBorrowedFlow * flowPrice

	// 0/0 -> 0, debt over zero collateral -> +Inf.
	ltv := SafeDiv(debtValue, collateralValue)

	// threshold/0 -> +Inf (no debt), threshold/+Inf -> 0 (worthless collateral).
	var healthFactor float64
	switch {
	case ltv == 0:
		healthFactor = math.Inf(1)
	case math.IsInf(ltv, 1):
		healthFactor = 0
	default:
		healthFactor = p.LiquidationThreshold / ltv
	}

	// The stFLOW/FLOW exchange rate at which liquidation triggers, holding
	// collateral and debt quantities fixed.
	liquidationRatio := SafeDiv(p.TotalBorrowedFlow, p.TotalStFlow*p.LiquidationThreshold)

	rate := stFlowPrice / flowPrice
	liquidationDistance := (rate - liquidationRatio) / rate

	effectiveLeverage := p.TotalStakedFlow / p.InitialFlow
	netAPY := (p.StakingAPR*p.TotalStakedFlow - p.BorrowRate*p.TotalBorrowedFlow) / p.InitialFlow
	maxSafeBorrow := p.TotalStakedFlow*p.CollateralFactor - p.TotalBorrowedFlow

	liquidatable := healthFactor <= 1

	warnings := []string{}
	if liquidatable {
		warnings = append(warnings, fmt.Sprintf(
			"position is liquidatable: health factor %.4f <= 1", healthFactor))
	} else if healthFactor <= 1+c.params.WarnBand {
		warnings = append(warnings, fmt.Sprintf(
			"health factor %.4f within %.0f%% of liquidation", healthFactor, c.params.WarnBand*100))
	}
	if liquidationDistance < 0 {
		warnings = append(warnings, fmt.Sprintf(
			"exchange rate %.4f already past liquidation trigger %.4f", rate, liquidationRatio))
	}
	if maxSafeBorrow < 0 {
		warnings = append(warnings, fmt.Sprintf(
			"borrowed amount exceeds collateral-factor headroom by %.4f FLOW", -maxSafeBorrow))
	}

	metrics := &domain.LoopingMetrics{
		CollateralValue:     domain.Metric(collateralValue),
		DebtValue:           domain.Metric(debtValue),
		CurrentLTV:          domain.Metric(ltv),
		HealthFactor:        domain.Metric(healthFactor),
		LiquidationRatio:    domain.Metric(liquidationRatio),
		LiquidationDistance: domain.Metric(liquidationDistance),
		EffectiveLeverage:   domain.Metric(effectiveLeverage),
		NetAPY:              domain.Metric(netAPY),
		MaxSafeBorrow:       domain.Metric(maxSafeBorrow),
	}

	// Liquidity-dependent metric is omitted, not defaulted, when the
	// snapshot has no liquidity field.
	if p.DexLiquidityUSD != nil {
		util := domain.Metric(SafeDiv(collateralValue, *p.DexLiquidityUSD))
		metrics.LiquidityUtilization = &util
		if float64(util) > 1 {
			warnings = append(warnings, fmt.Sprintf(
				"collateral value %.2f USD exceeds DEX liquidity %.2f USD", collateralValue, *p.DexLiquidityUSD))
		}
	}

	return domain.RiskReport{
		PositionID:   p.ID,
		Wallet:       p.Wallet,
		Kind:         domain.KindLooping,
		Liquidatable: liquidatable,
		Warnings:     warnings,
		Looping:      metrics,
	}, nil
}
