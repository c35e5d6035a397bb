package risk

import (
	"fmt"
	"math"

	"github.com/flowquant/flowrisk/internal/domain"
)

// StakingCalculator evaluates plain liquid-staking positions. With no
// leverage there is no liquidation concept; risk reduces to yield reporting
// and receipt-token peg monitoring.
type StakingCalculator struct {
	params Params
}

// NewStakingCalculator creates the staking calculator with the given tunables.
func NewStakingCalculator(params Params) *StakingCalculator {
	return &StakingCalculator{params: params}
}

// Kind returns domain.KindStaking.
func (c *StakingCalculator) Kind() domain.PositionKind { return domain.KindStaking }

// Evaluate derives the staking metrics. mkt is ignored; the record carries
// its own price snapshot. It returns an error only when pos is not a
// StakingPosition.
func (c *StakingCalculator) Evaluate(pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error) {
	p, ok := pos.(domain.StakingPosition)
	if !ok {
		return domain.RiskReport{}, fmt.Errorf("%w: staking calculator got %s", domain.ErrUnsupportedKind, pos.Kind())
	}

	positionValue := p.StakedAmount * p.FlowPrice
	collateralValue := p.StFlowAmount * p.StFlowPrice
	pegRatio := SafeDiv(collateralValue, positionValue)

	warnings := []string{}
	if positionValue > 0 && collateralValue > 0 && math.Abs(pegRatio-1) > c.params.PegTolerance {
		warnings = append(warnings, fmt.Sprintf(
			"peg ratio %.4f deviates from 1.0 by more than %.2f", pegRatio, c.params.PegTolerance))
	}

	return domain.RiskReport{
		PositionID:   p.ID,
		Wallet:       p.Wallet,
		Kind:         domain.KindStaking,
		Liquidatable: false,
		Warnings:     warnings,
		Staking: &domain.StakingMetrics{
			PositionValueUSD:   domain.Metric(positionValue),
			CollateralValueUSD: domain.Metric(collateralValue),
			PegRatio:           domain.Metric(pegRatio),
			PegTolerance:       domain.Metric(c.params.PegTolerance),
			NetAPY:             domain.Metric(p.StakingAPR),
		},
	}, nil
}
