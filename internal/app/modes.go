package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowquant/flowrisk/internal/collector"
	"github.com/flowquant/flowrisk/internal/config"
	"github.com/flowquant/flowrisk/internal/crypto"
	"github.com/flowquant/flowrisk/internal/platform/flowevm"
	"github.com/flowquant/flowrisk/internal/platform/perps"
	"github.com/flowquant/flowrisk/internal/risk"
	"github.com/flowquant/flowrisk/internal/server"
	"github.com/flowquant/flowrisk/internal/server/handler"
	"github.com/flowquant/flowrisk/internal/server/ws"
	"github.com/flowquant/flowrisk/internal/service"
)

// services bundles the domain services shared by the modes.
type services struct {
	positions *service.PositionService
	risk      *service.RiskService
	market    *service.MarketService
}

// CollectMode runs the market and position collectors plus report archival.
// No evaluation happens; reports accumulate only when another instance
// evaluates.
func (a *App) CollectMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting collect mode")

	g, ctx := errgroup.WithContext(ctx)

	chain, perpClient, err := a.buildChainClients(ctx)
	if err != nil {
		return fmt.Errorf("collect mode: %w", err)
	}
	defer chain.Close()

	orch := a.buildOrchestrator(chain, perpClient, deps, nil)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	a.startMarkStream(ctx, g, deps)

	return g.Wait()
}

// MonitorMode runs collection plus periodic evaluation and alerting, and the
// HTTP server when enabled. Reports are not archived; run collect or full
// mode for that.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)

	chain, perpClient, err := a.buildChainClients(ctx)
	if err != nil {
		return fmt.Errorf("monitor mode: %w", err)
	}
	defer chain.Close()

	orch := a.buildOrchestrator(chain, perpClient, deps, svcs.risk)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	a.startMarkStream(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// EvaluateMode runs one evaluation pass over the stored position snapshots
// and exits.
func (a *App) EvaluateMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting evaluate mode")

	svcs := a.buildServices(deps)
	if err := svcs.risk.EvaluateAll(ctx); err != nil {
		return fmt.Errorf("evaluate mode: %w", err)
	}
	return nil
}

// ServerMode serves the HTTP API and WebSocket hub over already collected
// data. No collectors run.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)
	a.startHTTPServer(ctx, g, deps, svcs)

	return g.Wait()
}

// FullMode runs everything: collection, evaluation, archival, the mark-price
// stream, and the HTTP server.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svcs := a.buildServices(deps)

	chain, perpClient, err := a.buildChainClients(ctx)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	defer chain.Close()

	orch := a.buildOrchestrator(chain, perpClient, deps, svcs.risk)
	g.Go(func() error {
		return orch.Run(ctx)
	})

	a.startMarkStream(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svcs)
	}

	return g.Wait()
}

// buildServices constructs the domain services from the wired dependencies.
func (a *App) buildServices(deps *Dependencies) *services {
	registry := risk.NewRegistry(risk.Params{
		PegTolerance:   a.cfg.Risk.PegTolerance,
		WarnBand:       a.cfg.Risk.WarnBand,
		HedgeBand:      a.cfg.Risk.HedgeBand,
		BasisTolerance: a.cfg.Risk.BasisTolerance,
	})

	maxAge := a.cfg.Collector.MaxSnapshotAge.Duration

	return &services{
		positions: service.NewPositionService(deps.PositionStore, deps.SignalBus, deps.AuditStore, a.logger),
		risk: service.NewRiskService(
			registry,
			deps.PositionStore, deps.ReportStore, deps.ContextCache,
			deps.SignalBus, deps.AuditStore, deps.Notifier,
			maxAge, a.logger,
		),
		market: service.NewMarketService(deps.ContextCache, deps.PriceCache, maxAge),
	}
}

// buildChainClients dials the Flow EVM endpoint and constructs the perp REST
// client. The perp client is signed when credentials are configured and
// public-only otherwise.
func (a *App) buildChainClients(ctx context.Context) (*flowevm.Client, *perps.Client, error) {
	chain, err := flowevm.New(ctx, flowevm.Config{
		RPCEndpoint: a.cfg.Flow.RPCEndpoint,
		ChainID:     int64(a.cfg.Flow.ChainID),
		StFlowToken: a.cfg.Flow.StFlowToken,
		LendingPool: a.cfg.Flow.LendingPool,
		PriceOracle: a.cfg.Flow.PriceOracle,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("flow evm client: %w", err)
	}

	auth, err := perpAuth(a.cfg.Perps)
	if err != nil {
		chain.Close()
		return nil, nil, fmt.Errorf("perp credentials: %w", err)
	}
	if auth == nil {
		a.logger.Info("perp credentials not configured, hedge collection disabled")
	}

	return chain, perps.NewClient(a.cfg.Perps.BaseURL, auth), nil
}

// perpAuth resolves the perp venue API credentials. It returns nil when no
// credentials are configured, which limits the client to public endpoints.
func perpAuth(cfg config.PerpsConfig) (*crypto.HMACAuth, error) {
	secret := cfg.ApiSecret
	if secret == "" && cfg.EncryptedKeyPath != "" {
		s, err := crypto.LoadEncryptedSecret(cfg.EncryptedKeyPath, cfg.KeyPassword)
		if err != nil {
			return nil, err
		}
		secret = s
	}

	if cfg.ApiKey == "" || secret == "" {
		return nil, nil
	}
	return &crypto.HMACAuth{Key: cfg.ApiKey, Secret: secret}, nil
}

// buildOrchestrator assembles the collector loops. evaluator may be nil; the
// archiver loop runs only when object storage is wired for the mode.
func (a *App) buildOrchestrator(
	chain *flowevm.Client,
	perpClient *perps.Client,
	deps *Dependencies,
	evaluator collector.Evaluator,
) *collector.Orchestrator {
	market := collector.NewMarketCollector(
		chain, perpClient,
		deps.PriceCache, deps.ContextCache,
		a.cfg.Flow.FlowToken, a.cfg.Perps.Symbol,
		a.logger,
	)

	// Hedge collection needs the signed account endpoints.
	var perpAccounts collector.PerpAccountSource
	if perpClient.Signed() {
		perpAccounts = perpClient
	}

	positions := collector.NewPositionCollector(
		chain, perpAccounts,
		deps.PositionStore, deps.ContextCache,
		a.cfg.Flow.Wallets, a.cfg.Perps.Symbol,
		collector.Rates{
			StakingAPR:             a.cfg.Flow.StakingAPR,
			BorrowRate:             a.cfg.Flow.BorrowRate,
			FundingPeriodsPerYear:  a.cfg.Perps.FundingPeriodsPerYear,
			MaintenanceMarginRatio: a.cfg.Perps.MaintenanceMarginRatio,
			LiquidationPenalty:     a.cfg.Flow.LiquidationPenalty,
		},
		a.logger,
	)

	var archiver *collector.Archiver
	if deps.Archiver != nil {
		archiver = collector.NewArchiver(deps.Archiver, a.cfg.Collector.ArchiveRetentionDays, a.logger)
	}

	return collector.NewOrchestrator(
		market, positions, evaluator, archiver,
		deps.LockManager,
		collector.Options{
			ScrapeInterval:   a.cfg.Collector.ScrapeInterval.Duration,
			EvaluateInterval: a.cfg.Collector.EvaluateInterval.Duration,
			ArchiveInterval:  a.cfg.Collector.ArchiveInterval.Duration,
		},
		a.logger,
	)
}

// startMarkStream connects the perp mark-price WebSocket stream and feeds
// updates into the price cache and the "prices" pub/sub channel between
// scrape cycles. A failed connection is logged, not fatal; the REST scrape
// still refreshes the mark price.
func (a *App) startMarkStream(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if a.cfg.Perps.WsHost == "" {
		return
	}

	stream := perps.NewWSClient(a.cfg.Perps.WsHost, a.cfg.Perps.Symbol)
	stream.OnMarkPrice(func(mp perps.MarkPrice) {
		if err := deps.PriceCache.SetPrice(ctx, mp.Symbol, mp.Mark, mp.Time); err != nil {
			a.logger.WarnContext(ctx, "mark stream: price cache update failed",
				slog.String("symbol", mp.Symbol),
				slog.String("error", err.Error()),
			)
			return
		}

		payload, err := json.Marshal(map[string]any{
			"asset":        mp.Symbol,
			"price":        mp.Mark,
			"funding_rate": mp.FundingRate,
			"ts":           mp.Time,
		})
		if err != nil {
			return
		}
		if err := deps.SignalBus.Publish(ctx, "prices", payload); err != nil {
			a.logger.WarnContext(ctx, "mark stream: publish failed",
				slog.String("error", err.Error()),
			)
		}
	})

	g.Go(func() error {
		if err := stream.Connect(ctx); err != nil {
			a.logger.WarnContext(ctx, "mark stream: connect failed, continuing without stream",
				slog.String("error", err.Error()),
			)
			return nil
		}
		<-ctx.Done()
		return stream.Close()
	})
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svcs *services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		err := hub.Run(ctx)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return err
	})

	probes := map[string]handler.Pinger{
		"postgres": handler.PingerFunc(deps.PostgresPing),
		"redis":    handler.PingerFunc(deps.RedisPing),
	}
	if deps.S3Ping != nil {
		probes["s3"] = handler.PingerFunc(deps.S3Ping)
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(probes, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, time.Now().UTC(), svcs.positions, a.logger),
		Positions: handler.NewPositionHandler(svcs.positions, a.logger),
		Reports:   handler.NewReportHandler(svcs.risk, a.logger),
		Evaluate:  handler.NewEvaluateHandler(svcs.risk, a.logger),
		Market:    handler.NewMarketHandler(svcs.market, a.logger),
		Alerts:    handler.NewAlertHandler(deps.SignalBus, service.AlertStream, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, a.logger)
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
