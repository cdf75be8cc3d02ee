package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/app"
	"github.com/Terrxnce/DEVI-sub000/internal/config"
	"github.com/Terrxnce/DEVI-sub000/internal/feed"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/replay"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

func main() {
	replayMode := flag.Bool("replay", false, "run the configured CSV fixture twice and diff the event streams")
	flag.Parse()

	ctx := context.Background()
	cfgPath := os.Getenv("DEVI_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("setting up log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s, timeframe=%s, symbols=%v)", cfg.App.Env, cfg.Kline.Timeframe, cfg.Symbols)

	if *replayMode {
		if err := runReplay(ctx, cfg); err != nil {
			log.Fatalf("replay failed: %v", err)
		}
		return
	}

	application, err := app.NewApp(cfg)
	if err != nil {
		log.Fatalf("building app failed: %v", err)
	}
	if err := application.Run(ctx); err != nil {
		log.Fatalf("run failed: %v", err)
	}
}

// runReplay pushes the CSV fixture through two fresh pipelines and reports
// any field-level difference between the event streams.
func runReplay(ctx context.Context, cfg *config.Config) error {
	table, err := venue.LoadTable(cfg.Strategy.VenueTablePath)
	if err != nil {
		return err
	}
	registry, err := config.NewParamsRegistry(cfg.Strategy.ParamsPath)
	if err != nil {
		return err
	}
	snap := registry.Snapshot()
	if err := config.CheckCoverage(cfg, table, &snap.Params); err != nil {
		return err
	}
	src, err := feed.NewCSVSource(cfg.Feed.CSVPath)
	if err != nil {
		return err
	}
	bars := make(map[string][]market.Bar, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		b, err := src.Bars(ctx, symbol, cfg.Kline.Timeframe, cfg.Kline.MaxCached)
		if err != nil {
			return err
		}
		bars[symbol] = b
	}
	equity, err := decimal.NewFromString(cfg.Broker.PaperEquity)
	if err != nil {
		return err
	}
	runner, err := replay.NewRunner(cfg, snap.Params, table, bars, equity)
	if err != nil {
		return err
	}
	diffs, err := runner.Verify(ctx)
	if err != nil {
		return err
	}
	if len(diffs) > 0 {
		for _, d := range diffs {
			logger.Errorf("replay diff: %s", d)
		}
		log.Fatalf("replay is not deterministic: %d differences", len(diffs))
	}
	logger.Infof("replay deterministic: %d symbols, identical event streams", len(cfg.Symbols))
	return nil
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
