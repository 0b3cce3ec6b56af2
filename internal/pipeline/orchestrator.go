// Package pipeline coordinates the long-running jobs of the order watcher:
// real-time event ingestion, periodic full sweeps, and cold-storage archival.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// EventFeed ingests the scanner stream until the context is cancelled.
type EventFeed interface {
	Run(ctx context.Context) error
}

// Orchestrator manages the pipeline goroutines: the scanner feed, the sweep
// loop, the USD price refresh loop, and cold-storage archival. Any job may be
// nil, in which case it is skipped; the run modes use this to start partial
// deployments.
type Orchestrator struct {
	feed        EventFeed
	sweeper     *Sweeper
	prices      *PriceRefresher
	archiver    *Archiver
	archiveCron string
	logger      *slog.Logger
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(feed EventFeed, sweeper *Sweeper, prices *PriceRefresher, archiver *Archiver, archiveCron string, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		feed:        feed,
		sweeper:     sweeper,
		prices:      prices,
		archiver:    archiver,
		archiveCron: archiveCron,
		logger:      logger,
	}
}

// Run starts the configured jobs as concurrent goroutines using an errgroup.
// Each goroutine respects ctx cancellation. If any goroutine returns a
// non-context error, the errgroup cancels the shared context and Run returns
// that error.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("feed", o.feed != nil),
		slog.Bool("sweeper", o.sweeper != nil),
		slog.Bool("price_refresher", o.prices != nil),
		slog.Bool("archiver", o.archiver != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.feed != nil {
		g.Go(func() error {
			o.logger.Info("starting scanner feed")
			err := o.feed.Run(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("scanner feed: %w", err)
		})
	}

	if o.sweeper != nil {
		g.Go(func() error {
			o.logger.Info("starting sweep loop")
			err := o.sweeper.RunLoop(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("sweeper: %w", err)
		})
	}

	if o.prices != nil {
		g.Go(func() error {
			o.logger.Info("starting price refresh loop")
			err := o.prices.RunLoop(ctx)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("price refresher: %w", err)
		})
	}

	if o.archiver != nil {
		g.Go(func() error {
			o.logger.Info("starting archiver cron")
			err := o.archiver.RunCron(ctx, o.archiveCron)
			if ctx.Err() != nil {
				return nil // clean shutdown
			}
			return fmt.Errorf("archiver: %w", err)
		})
	}

	err := g.Wait()
	if err != nil {
		o.logger.Error("pipeline orchestrator stopped with error", slog.String("error", err.Error()))
		return err
	}

	o.logger.Info("pipeline orchestrator stopped cleanly")
	return nil
}
