// Package risk implements the pure risk-computation core: one stateless
// calculator per position archetype, mapping a position snapshot plus market
// context to a RiskReport. Calculators read no clock, perform no I/O, and
// keep no state between invocations, so identical inputs produce
// bit-identical reports and independent snapshots can be evaluated in
// parallel without synchronization.
package risk

import (
	"fmt"
	"sync"

	"github.com/flowquant/flowrisk/internal/domain"
)

// Params holds the report-level tunables shared by all calculators. They are
// fixed at construction; calculators never consult global configuration.
type Params struct {
	// PegTolerance is the allowed |peg_ratio - 1| before a de-peg warning.
	PegTolerance float64
	// WarnBand is the near-threshold band: a health factor within
	// (1, 1+WarnBand] or a margin ratio within (mmr, mmr*(1+WarnBand)]
	// produces a warning.
	WarnBand float64
	// HedgeBand is the allowed |hedge_ratio - 1| before an under/over-hedge
	// warning.
	HedgeBand float64
	// BasisTolerance is the allowed absolute divergence (USD) between the
	// provided basis and perp_current_price - flow_price before a
	// consistency warning. The provided basis is always reported verbatim.
	BasisTolerance float64
}

// DefaultParams returns the tunables used when no configuration overrides them.
func DefaultParams() Params {
	return Params{
		PegTolerance:   0.02,
		WarnBand:       0.05,
		HedgeBand:      0.10,
		BasisTolerance: 0.02,
	}
}

// Calculator derives a RiskReport from one position snapshot. mkt may be nil
// for archetypes that carry their own price snapshot.
type Calculator interface {
	Kind() domain.PositionKind
	Evaluate(pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error)
}

// Registry maps position kinds to their calculators. It is safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	calcs map[domain.PositionKind]Calculator
}

// NewRegistry returns a Registry pre-populated with the three archetype
// calculators configured from params.
func NewRegistry(params Params) *Registry {
	r := &Registry{calcs: make(map[domain.PositionKind]Calculator)}
	r.Register(NewStakingCalculator(params))
	r.Register(NewLoopingCalculator(params))
	r.Register(NewDeltaNeutralCalculator(params))
	return r
}

// Register adds a calculator, replacing any existing one for the same kind.
func (r *Registry) Register(c Calculator) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calcs[c.Kind()] = c
}

// Get retrieves the calculator for a kind.
func (r *Registry) Get(kind domain.PositionKind) (Calculator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.calcs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedKind, kind)
	}
	return c, nil
}

// Evaluate dispatches pos to the calculator matching its kind.
func (r *Registry) Evaluate(pos domain.Position, mkt *domain.MarketContext) (domain.RiskReport, error) {
	c, err := r.Get(pos.Kind())
	if err != nil {
		return domain.RiskReport{}, err
	}
	return c.Evaluate(pos, mkt)
}
