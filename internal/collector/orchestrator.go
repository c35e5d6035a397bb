package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowquant/flowrisk/internal/domain"
)

// Evaluator runs one evaluation pass over all tracked positions.
type Evaluator interface {
	EvaluateAll(ctx context.Context) error
}

// Options tunes the orchestrator loops.
type Options struct {
	ScrapeInterval   time.Duration
	EvaluateInterval time.Duration
	ArchiveInterval  time.Duration
}

// Orchestrator manages the collection goroutines: market snapshots, position
// snapshots, periodic evaluation, and report archival. Scrape cycles are
// serialized across instances through the distributed lock manager, so
// running several collectors against one database is safe.
type Orchestrator struct {
	market    *MarketCollector
	positions *PositionCollector
	evaluator Evaluator
	archiver  *Archiver
	locks     domain.LockManager
	opts      Options
	logger    *slog.Logger
}

// NewOrchestrator creates a new Orchestrator. archiver and evaluator may be
// nil; the corresponding loop is then not started.
func NewOrchestrator(
	market *MarketCollector,
	positions *PositionCollector,
	evaluator Evaluator,
	archiver *Archiver,
	locks domain.LockManager,
	opts Options,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		market:    market,
		positions: positions,
		evaluator: evaluator,
		archiver:  archiver,
		locks:     locks,
		opts:      opts,
		logger:    logger,
	}
}

// Run starts all loops as concurrent goroutines using an errgroup. Each loop
// respects ctx cancellation. If any loop returns a non-context error, the
// errgroup cancels the shared context and Run returns that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("collector orchestrator starting",
		slog.Duration("scrape_interval", o.opts.ScrapeInterval),
		slog.Duration("evaluate_interval", o.opts.EvaluateInterval),
		slog.Duration("archive_interval", o.opts.ArchiveInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		o.logger.Info("starting market collector loop")
		err := o.runExclusive(ctx, "collect:market", o.opts.ScrapeInterval, o.market.Run)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("market collector: %w", err)
	})

	g.Go(func() error {
		o.logger.Info("starting position collector loop")
		err := o.runExclusive(ctx, "collect:positions", o.opts.ScrapeInterval, o.positions.Run)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("position collector: %w", err)
	})

	if o.evaluator != nil {
		g.Go(func() error {
			o.logger.Info("starting evaluation loop")
			err := o.runExclusive(ctx, "evaluate", o.opts.EvaluateInterval, o.evaluator.EvaluateAll)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("evaluator: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver loop")
			err := o.runExclusive(ctx, "archive", o.opts.ArchiveInterval, o.archiver.Run)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("collector orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("collector orchestrator stopped cleanly")
	return nil
}

// runExclusive runs fn on a repeating interval, taking the named distributed
// lock for the duration of each cycle. A cycle whose lock is held by another
// instance is skipped; that instance is doing the work.
func (o *Orchestrator) runExclusive(ctx context.Context, name string, interval time.Duration, fn func(context.Context) error) error {
	cycle := func() {
		unlock, err := o.locks.Acquire(ctx, name, interval)
		if err != nil {
			if errors.Is(err, domain.ErrLockHeld) {
				o.logger.Debug("cycle skipped, lock held elsewhere", slog.String("lock", name))
				return
			}
			o.logger.Error("lock acquire failed",
				slog.String("lock", name),
				slog.String("error", err.Error()),
			)
			return
		}
		defer unlock()

		if err := fn(ctx); err != nil {
			o.logger.Error("cycle failed",
				slog.String("lock", name),
				slog.String("error", err.Error()),
			)
		}
	}

	// Run immediately on start.
	cycle()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("loop stopped", slog.String("lock", name))
			return ctx.Err()
		case <-ticker.C:
			cycle()
		}
	}
}
