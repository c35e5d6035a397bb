// Package collector runs the data-collection loops: market snapshots from the
// chain and the perp venue, position snapshots per tracked wallet, periodic
// evaluation, and report archival.
package collector

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
	"github.com/flowquant/flowrisk/internal/platform/perps"
)

// ChainSource reads market-level data from the Flow EVM chain.
type ChainSource interface {
	OraclePrice(ctx context.Context, asset string) (float64, error)
	StFlowExchangeRate(ctx context.Context) (float64, error)
}

// PerpSource reads the perp venue's premium index.
type PerpSource interface {
	GetMarkPrice(ctx context.Context, symbol string) (perps.MarkPrice, error)
}

// volWindow is how many scrape samples feed the rolling volatility and
// correlation estimates.
const volWindow = 288

// MarketCollector assembles MarketContext snapshots from the chain and the
// perp venue and publishes them to the caches.
type MarketCollector struct {
	chain    ChainSource
	perp     PerpSource
	prices   domain.PriceCache
	contexts domain.MarketContextCache

	flowAsset  string
	perpSymbol string

	mu      sync.Mutex
	samples []sample

	logger *slog.Logger
}

type sample struct {
	flow   float64
	stFlow float64
	at     time.Time
}

// NewMarketCollector creates a MarketCollector. flowAsset is the wrapped FLOW
// token address the oracle quotes.
func NewMarketCollector(
	chain ChainSource,
	perp PerpSource,
	prices domain.PriceCache,
	contexts domain.MarketContextCache,
	flowAsset string,
	perpSymbol string,
	logger *slog.Logger,
) *MarketCollector {
	return &MarketCollector{
		chain:      chain,
		perp:       perp,
		prices:     prices,
		contexts:   contexts,
		flowAsset:  flowAsset,
		perpSymbol: perpSymbol,
		logger:     logger,
	}
}

// Run executes a single collection pass: read prices, update the rolling
// return window, and publish the price cache entries and the MarketContext
// snapshot.
func (c *MarketCollector) Run(ctx context.Context) error {
	now := time.Now().UTC()

	flowPrice, err := c.chain.OraclePrice(ctx, c.flowAsset)
	if err != nil {
		return fmt.Errorf("collector: flow oracle price: %w", err)
	}

	rate, err := c.chain.StFlowExchangeRate(ctx)
	if err != nil {
		return fmt.Errorf("collector: stflow exchange rate: %w", err)
	}
	stFlowPrice := flowPrice * rate

	mark, err := c.perp.GetMarkPrice(ctx, c.perpSymbol)
	if err != nil {
		return fmt.Errorf("collector: perp mark price: %w", err)
	}

	vol, corr := c.observe(flowPrice, stFlowPrice, now)

	mkt, err := domain.NewMarketContext(flowPrice, stFlowPrice, vol, corr, 0, now)
	if err != nil {
		return fmt.Errorf("collector: build market context: %w", err)
	}

	if err := c.prices.SetPrice(ctx, "FLOW", flowPrice, now); err != nil {
		return err
	}
	if err := c.prices.SetPrice(ctx, "stFLOW", stFlowPrice, now); err != nil {
		return err
	}
	if err := c.prices.SetPrice(ctx, c.perpSymbol, mark.Mark, now); err != nil {
		return err
	}

	if err := c.contexts.Set(ctx, mkt); err != nil {
		return fmt.Errorf("collector: publish market context: %w", err)
	}

	c.logger.Info("market snapshot collected",
		slog.Float64("flow_price", flowPrice),
		slog.Float64("stflow_price", stFlowPrice),
		slog.Float64("exchange_rate", rate),
		slog.Float64("perp_mark", mark.Mark),
		slog.Float64("funding_rate", mark.FundingRate),
	)

	return nil
}

// observe appends the latest prices to the rolling window and returns the
// current annualized FLOW volatility and stFLOW/FLOW return correlation.
// Until the window has at least three samples both are 0.
func (c *MarketCollector) observe(flowPrice, stFlowPrice float64, at time.Time) (vol, corr float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.samples = append(c.samples, sample{flow: flowPrice, stFlow: stFlowPrice, at: at})
	if len(c.samples) > volWindow {
		c.samples = c.samples[len(c.samples)-volWindow:]
	}
	if len(c.samples) < 3 {
		return 0, 0
	}

	flowRets := make([]float64, 0, len(c.samples)-1)
	stFlowRets := make([]float64, 0, len(c.samples)-1)
	for i := 1; i < len(c.samples); i++ {
		prev, cur := c.samples[i-1], c.samples[i]
		if prev.flow <= 0 || prev.stFlow <= 0 {
			continue
		}
		flowRets = append(flowRets, math.Log(cur.flow/prev.flow))
		stFlowRets = append(stFlowRets, math.Log(cur.stFlow/prev.stFlow))
	}
	if len(flowRets) < 2 {
		return 0, 0
	}

	// Annualize by the average sample spacing.
	elapsed := c.samples[len(c.samples)-1].at.Sub(c.samples[0].at)
	if elapsed <= 0 {
		return 0, 0
	}
	perSample := elapsed.Seconds() / float64(len(flowRets))
	periodsPerYear := (365.25 * 24 * 3600) / perSample

	vol = stddev(flowRets) * math.Sqrt(periodsPerYear)
	corr = correlation(flowRets, stFlowRets)
	return vol, corr
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(xs)-1))
}

// correlation returns the Pearson correlation of two equal-length series,
// clamped to [-1, 1]. Degenerate series (zero variance) yield 0.
func correlation(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	mx, my := mean(xs), mean(ys)

	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return 0
	}
	r := sxy / math.Sqrt(sxx*syy)
	return math.Max(-1, math.Min(1, r))
}
