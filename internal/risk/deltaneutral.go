package risk

import (
	"fmt"
	"math"

	"github.com/flowquant/flowrisk/internal/domain"
)

// DeltaNeutralCalculator evaluates hedged staking positions: a long staked
// FLOW leg offset by a short perp leg.
type DeltaNeutralCalculator struct {
	params Params
}

// NewDeltaNeutralCalculator creates the delta-neutral calculator with the
// given tunables.
func NewDeltaNeutralCalculator(params Params) *DeltaNeutralCalculator {
	return &DeltaNeutralCalculator{params: params}
}

// Kind returns domain.KindDeltaNeutral.
func (c *DeltaNeutralCalculator) Kind() domain.PositionKind { return domain.KindDeltaNeutral }

// Evaluate derives the delta-neutral metrics. mkt is ignored; the record
// carries its own spot and perp quotes.
func (c *DeltaNeutralCalculator) Evaluate(pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error) {
	p, ok := pos.(domain.DeltaNeutralPosition)
	if !ok {
		return domain.RiskReport{}, fmt.Errorf("%w: delta-neutral calculator got %s", domain.ErrUnsupportedKind, pos.Kind())
	}

	// Short convention: positive PnL when price falls below entry.
	perpPnL := p.PerpSize * (p.PerpEntryPrice - p.PerpCurrentPrice)

	// Raw signed product; positive funding conventionally means the short
	// receives. The sign is reported as given, never flipped.
	fundingCarry := p.PerpSize * p.PerpCurrentPrice * p.PerpFundingRate

	// Equity over leveraged notional; +Inf when there is no perp notional.
	marginDenom := p.PerpSize * p.PerpCurrentPrice / p.PerpLeverage
	marginRatio := math.Inf(1)
	if marginDenom > 0 {
		marginRatio = (p.PerpMargin + perpPnL) / marginDenom
	}

	netDeltaFlow := p.StakedFlow - p.PerpSize
	netDeltaUSD := p.StakedFlow*p.FlowPrice - p.PerpSize*p.PerpCurrentPrice

	liquidatable := marginRatio <= p.PerpMaintenanceMarginRatio

	warnings := []string{}
	if liquidatable {
		warnings = append(warnings, fmt.Sprintf(
			"perp margin ratio %.4f at or below maintenance %.4f", marginRatio, p.PerpMaintenanceMarginRatio))
	} else if marginRatio <= p.PerpMaintenanceMarginRatio*(1+c.params.WarnBand) {
		warnings = append(warnings, fmt.Sprintf(
			"perp margin ratio %.4f within %.0f%% of maintenance", marginRatio, c.params.WarnBand*100))
	}

	metrics := &domain.DeltaNeutralMetrics{
		PerpPnL:                domain.Metric(perpPnL),
		FundingCarryAnnualized: domain.Metric(fundingCarry),
		MarginRatio:            domain.Metric(marginRatio),
		MaintenanceMarginRatio: domain.Metric(p.PerpMaintenanceMarginRatio),
		NetDeltaFlow:           domain.Metric(netDeltaFlow),
		NetDeltaUSD:            domain.Metric(netDeltaUSD),
		BasisRiskUSD:           domain.Metric(p.Basis * p.PerpSize),
	}

	// Undefined, not zero, when nothing is staked.
	if p.StakedFlow > 0 {
		hedge := domain.Metric(p.PerpSize / p.StakedFlow)
		metrics.HedgeRatio = &hedge
		if math.Abs(float64(hedge)-1) > c.params.HedgeBand {
			warnings = append(warnings, fmt.Sprintf(
				"hedge ratio %.4f off target 1.0 by more than %.2f", float64(hedge), c.params.HedgeBand))
		}
	}

	// Combined yield excludes unrealized perp PnL, which is mark-to-market
	// rather than yield.
	if stakedNotional := p.StakedFlow * p.FlowPrice; stakedNotional > 0 {
		combined := domain.Metric(p.StakingAPR + fundingCarry/stakedNotional)
		metrics.CombinedAPY = &combined
	}

	// The provided basis is authoritative; a divergence from the model-side
	// quote gap is surfaced but never reconciled.
	if gap := math.Abs(p.Basis - (p.PerpCurrentPrice - p.FlowPrice)); gap > c.params.BasisTolerance {
		warnings = append(warnings, fmt.Sprintf(
			"provided basis %.4f diverges from perp-spot gap by %.4f USD", p.Basis, gap))
	}

	return domain.RiskReport{
		PositionID:   p.ID,
		Wallet:       p.Wallet,
		Kind:         domain.KindDeltaNeutral,
		Liquidatable: liquidatable,
		Warnings:     warnings,
		DeltaNeutral: metrics,
	}, nil
}
