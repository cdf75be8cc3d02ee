// Package app assembles the pipeline from configuration: venue table,
// strategy params, audit store, event stream, risk circuit, guard, and one
// engine per active symbol.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Terrxnce/DEVI-sub000/internal/config"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/store"
)

// App owns the wired pipeline (not yet started).
type App struct {
	cfg   *config.Config
	live  *LiveService
	store *store.Store
	runID string
}

// NewApp builds the application from config. Any gap in the configuration
// cross-checks (venue coverage, thresholds, schema) fails here, before
// anything runs.
func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg)
}

// RunID returns the correlation id stamped on this run's events.
func (a *App) RunID() string { return a.runID }

// Run starts the live loop and blocks until the context is canceled or the
// loop fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.live == nil {
		return fmt.Errorf("live service not initialized")
	}
	logger.Infof("run %s: %d symbols on %s via %s feed",
		a.runID, len(a.cfg.Symbols), a.cfg.Kline.Timeframe, a.cfg.Feed.Source)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return a.live.Run(ctx)
	})
	return group.Wait()
}
