package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/flowquant/flowrisk/internal/domain"
	"github.com/flowquant/flowrisk/internal/platform/flowevm"
	"github.com/flowquant/flowrisk/internal/platform/perps"
	"github.com/flowquant/flowrisk/internal/risk"
)

// AccountSource reads per-wallet state from the Flow EVM chain.
type AccountSource interface {
	FlowBalance(ctx context.Context, wallet string) (float64, error)
	StFlowBalance(ctx context.Context, wallet string) (float64, error)
	StFlowExchangeRate(ctx context.Context) (float64, error)
	LendingAccountData(ctx context.Context, wallet string) (flowevm.AccountData, error)
}

// PerpAccountSource reads the hedge account from the perp venue. Nil when no
// credentials are configured.
type PerpAccountSource interface {
	GetAccountPosition(ctx context.Context, symbol string) (perps.AccountPosition, error)
	GetMarkPrice(ctx context.Context, symbol string) (perps.MarkPrice, error)
	GetFundingHistory(ctx context.Context, symbol string, limit int) ([]perps.FundingPayment, error)
}

// fundingLookback is how many recent funding settlements feed the trailing
// average rate, 7 days at 8h settlements.
const fundingLookback = 21

// Rates are the collector-side assumptions that are not observable on-chain.
type Rates struct {
	StakingAPR             float64
	BorrowRate             float64
	FundingPeriodsPerYear  float64
	MaintenanceMarginRatio float64
	// LiquidationPenalty is the lending market's liquidation bonus taken
	// from the borrower.
	LiquidationPenalty float64
}

// PositionCollector scrapes the tracked wallets into position snapshots. Each
// wallet can yield a staking and a looping snapshot; the perp hedge account is
// venue-wide and is attributed to the first tracked wallet.
type PositionCollector struct {
	chain AccountSource
	perp  PerpAccountSource

	positions domain.PositionStore
	contexts  domain.MarketContextCache

	wallets    []string
	perpSymbol string
	rates      Rates

	logger *slog.Logger
}

// NewPositionCollector creates a PositionCollector. perp may be nil when the
// venue credentials are not configured; the delta-neutral snapshot is then
// skipped.
func NewPositionCollector(
	chain AccountSource,
	perp PerpAccountSource,
	positions domain.PositionStore,
	contexts domain.MarketContextCache,
	wallets []string,
	perpSymbol string,
	rates Rates,
	logger *slog.Logger,
) *PositionCollector {
	return &PositionCollector{
		chain:      chain,
		perp:       perp,
		positions:  positions,
		contexts:   contexts,
		wallets:    wallets,
		perpSymbol: perpSymbol,
		rates:      rates,
		logger:     logger,
	}
}

// Run executes a single collection pass over all tracked wallets.
func (c *PositionCollector) Run(ctx context.Context) error {
	mkt, err := c.contexts.Get(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("collector: no market context yet: %w", domain.ErrStaleMarketData)
		}
		return fmt.Errorf("collector: load market context: %w", err)
	}

	now := time.Now().UTC()
	collected := 0

	for _, wallet := range c.wallets {
		n, err := c.collectWallet(ctx, wallet, mkt, now)
		if err != nil {
			c.logger.Error("wallet collection failed",
				slog.String("wallet", wallet),
				slog.String("error", err.Error()),
			)
			continue
		}
		collected += n
	}

	if c.perp != nil && len(c.wallets) > 0 {
		n, err := c.collectHedge(ctx, c.wallets[0], mkt, now)
		if err != nil {
			c.logger.Error("hedge collection failed", slog.String("error", err.Error()))
		} else {
			collected += n
		}
	}

	c.logger.Info("position snapshots collected", slog.Int("count", collected))
	return nil
}

// collectWallet builds the staking and looping snapshots for one wallet.
func (c *PositionCollector) collectWallet(ctx context.Context, wallet string, mkt domain.MarketContext, now time.Time) (int, error) {
	stFlowBal, err := c.chain.StFlowBalance(ctx, wallet)
	if err != nil {
		return 0, err
	}

	rate, err := c.chain.StFlowExchangeRate(ctx)
	if err != nil {
		return 0, err
	}

	acct, err := c.chain.LendingAccountData(ctx, wallet)
	if err != nil {
		return 0, err
	}

	collected := 0

	// A wallet with lending debt is treated as a looping position; a plain
	// stFLOW holding without debt is a staking position.
	if acct.TotalDebtUSD > 0 {
		pos, err := c.buildLooping(wallet, mkt, acct, now)
		if err != nil {
			return collected, err
		}
		if err := c.upsert(ctx, domain.PositionSnapshot{
			ID: pos.ID, Wallet: wallet, Kind: domain.KindLooping, Position: pos, CollectedAt: now,
		}); err != nil {
			return collected, err
		}
		collected++
	} else if stFlowBal > 0 {
		pos, err := domain.NewStakingPosition(domain.StakingPosition{
			ID:           "staking:" + wallet,
			Wallet:       wallet,
			StakedAmount: stFlowBal * rate,
			StFlowAmount: stFlowBal,
			StakingAPR:   c.rates.StakingAPR,
			FlowPrice:    mkt.FlowPrice,
			StFlowPrice:  mkt.StFlowPrice,
			CollectedAt:  now,
		})
		if err != nil {
			return collected, err
		}
		if err := c.upsert(ctx, domain.PositionSnapshot{
			ID: pos.ID, Wallet: wallet, Kind: domain.KindStaking, Position: pos, CollectedAt: now,
		}); err != nil {
			return collected, err
		}
		collected++
	}

	return collected, nil
}

// buildLooping converts lending account data into a looping snapshot. USD
// aggregates are converted into FLOW quantities at the snapshot prices.
func (c *PositionCollector) buildLooping(wallet string, mkt domain.MarketContext, acct flowevm.AccountData, now time.Time) (domain.LoopingPosition, error) {
	stakedFlow := acct.TotalCollateralUSD / mkt.FlowPrice
	borrowedFlow := acct.TotalDebtUSD / mkt.FlowPrice
	initialFlow := stakedFlow - borrowedFlow
	if initialFlow <= 0 {
		return domain.LoopingPosition{}, fmt.Errorf("wallet %s: collateral does not cover debt, equity %v FLOW", wallet, initialFlow)
	}

	return domain.NewLoopingPosition(domain.LoopingPosition{
		ID:                "looping:" + wallet,
		Wallet:            wallet,
		InitialFlow:       initialFlow,
		TotalStakedFlow:   stakedFlow,
		TotalStFlow:       acct.TotalCollateralUSD / mkt.StFlowPrice,
		TotalBorrowedFlow: borrowedFlow,
		// Loop count is not observable on-chain; only the aggregate
		// collateral and debt are.
		LoopCount:            0,
		CollateralFactor:     acct.LTV,
		LiquidationThreshold: acct.LiquidationThreshold,
		LiquidationPenalty:   c.rates.LiquidationPenalty,
		StakingAPR:           c.rates.StakingAPR,
		BorrowRate:           c.rates.BorrowRate,
		FlowPrice:            mkt.FlowPrice,
		StFlowPrice:          mkt.StFlowPrice,
		CollectedAt:          now,
	})
}

// collectHedge builds the delta-neutral snapshot from the venue's hedge
// account. A flat or long book yields no snapshot.
func (c *PositionCollector) collectHedge(ctx context.Context, wallet string, mkt domain.MarketContext, now time.Time) (int, error) {
	acct, err := c.perp.GetAccountPosition(ctx, c.perpSymbol)
	if err != nil {
		return 0, err
	}
	if acct.Size >= 0 {
		return 0, nil
	}

	mark, err := c.perp.GetMarkPrice(ctx, c.perpSymbol)
	if err != nil {
		return 0, err
	}

	stFlowBal, err := c.chain.StFlowBalance(ctx, wallet)
	if err != nil {
		return 0, err
	}
	rate, err := c.chain.StFlowExchangeRate(ctx)
	if err != nil {
		return 0, err
	}

	leverage := acct.Leverage
	if leverage <= 0 {
		leverage = 1
	}

	pos, err := domain.NewDeltaNeutralPosition(domain.DeltaNeutralPosition{
		ID:                         "delta_neutral:" + wallet,
		Wallet:                     wallet,
		StakedFlow:                 stFlowBal * rate,
		StFlowAmount:               stFlowBal,
		StakingAPR:                 c.rates.StakingAPR,
		FlowPrice:                  mkt.FlowPrice,
		PerpSize:                   -acct.Size,
		PerpEntryPrice:             acct.EntryPrice,
		PerpCurrentPrice:           mark.Mark,
		PerpFundingRate:            risk.Annualize(c.fundingRate(ctx, mark), c.rates.FundingPeriodsPerYear),
		PerpLeverage:               leverage,
		PerpMargin:                 acct.IsolatedMargin,
		PerpMaintenanceMarginRatio: c.rates.MaintenanceMarginRatio,
		Basis:                      mark.Mark - mkt.FlowPrice,
		CollectedAt:                now,
	})
	if err != nil {
		return 0, err
	}

	if err := c.upsert(ctx, domain.PositionSnapshot{
		ID: pos.ID, Wallet: wallet, Kind: domain.KindDeltaNeutral, Position: pos, CollectedAt: now,
	}); err != nil {
		return 0, err
	}
	return 1, nil
}

// fundingRate returns the trailing average per-period funding rate over the
// lookback window, falling back to the live premium-index rate when the venue
// has no history yet.
func (c *PositionCollector) fundingRate(ctx context.Context, mark perps.MarkPrice) float64 {
	history, err := c.perp.GetFundingHistory(ctx, c.perpSymbol, fundingLookback)
	if err != nil {
		c.logger.Warn("funding history unavailable, using live rate",
			slog.String("symbol", c.perpSymbol),
			slog.String("error", err.Error()),
		)
		return mark.FundingRate
	}
	if len(history) == 0 {
		return mark.FundingRate
	}

	var sum float64
	for _, p := range history {
		sum += p.Rate
	}
	return sum / float64(len(history))
}

func (c *PositionCollector) upsert(ctx context.Context, snap domain.PositionSnapshot) error {
	if err := c.positions.Upsert(ctx, snap); err != nil {
		return fmt.Errorf("collector: upsert %s: %w", snap.ID, err)
	}
	return nil
}
