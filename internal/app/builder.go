package app

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/analysis/trend"
	"github.com/Terrxnce/DEVI-sub000/internal/broker"
	"github.com/Terrxnce/DEVI-sub000/internal/config"
	"github.com/Terrxnce/DEVI-sub000/internal/engine"
	"github.com/Terrxnce/DEVI-sub000/internal/events"
	"github.com/Terrxnce/DEVI-sub000/internal/feed"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/store"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

// OrderRoute is what a broker adapter must provide: order transmission plus
// the live equity and position views the engines size against.
type OrderRoute interface {
	guard.Broker
	Equity(ctx context.Context) (decimal.Decimal, error)
	OpenPositions(ctx context.Context) ([]guard.OpenPosition, error)
}

// AppBuilder wires the pipeline stepwise. The function fields exist so tests
// can substitute a single stage without re-wiring the rest.
type AppBuilder struct {
	cfg *config.Config

	routeFn func(config.BrokerConfig) (OrderRoute, error)
	feedFn  func(config.FeedConfig) (feed.Source, error)
	storeFn func(config.StoreConfig) (*store.Store, error)
}

type AppBuilderOption func(*AppBuilder)

func WithOrderRoute(route OrderRoute) AppBuilderOption {
	return func(b *AppBuilder) {
		b.routeFn = func(config.BrokerConfig) (OrderRoute, error) { return route, nil }
	}
}

func WithFeed(src feed.Source) AppBuilderOption {
	return func(b *AppBuilder) {
		b.feedFn = func(config.FeedConfig) (feed.Source, error) { return src, nil }
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:     cfg,
		routeFn: buildOrderRoute,
		feedFn:  buildFeed,
		storeFn: func(sc config.StoreConfig) (*store.Store, error) { return store.New(sc.Path) },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}

	table, err := venue.LoadTable(cfg.Strategy.VenueTablePath)
	if err != nil {
		return nil, err
	}
	logger.Infof("loaded venue table: %d symbols", len(table))

	registry, err := config.NewParamsRegistry(cfg.Strategy.ParamsPath)
	if err != nil {
		return nil, err
	}
	snap := registry.Snapshot()
	if err := config.CheckCoverage(cfg, table, &snap.Params); err != nil {
		return nil, err
	}

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return nil, err
	}
	emitter := events.NewEmitter(events.LogSink(), st.Sink())

	risk, err := guard.NewRiskState(cfg.Risk)
	if err != nil {
		return nil, err
	}
	route, err := b.routeFn(cfg.Broker)
	if err != nil {
		return nil, err
	}
	g, err := guard.New(cfg.Guard, table, risk, route)
	if err != nil {
		return nil, err
	}
	g.SetAttemptObserver(func(symbol string, a guard.Attempt) {
		emitter.Emit(events.KindOrderAttempt, symbol, cfg.Kline.Timeframe, time.Time{}, map[string]any{
			"attempt": a.Number,
			"stop":    a.Stop.String(),
			"volume":  a.Volume.String(),
			"error":   a.Err,
		})
		if err := st.SaveOrderAttempt(emitter.RunID(), symbol, a); err != nil {
			logger.Errorf("persisting order attempt for %s failed: %v", symbol, err)
		}
	})

	engines := make(map[string]*engine.Engine, len(cfg.Symbols))
	for _, symbol := range cfg.Symbols {
		cons, err := table.Lookup(symbol)
		if err != nil {
			return nil, err
		}
		eng, err := engine.New(engine.Options{
			Symbol:     symbol,
			Timeframe:  cfg.Kline.Timeframe,
			MaxCached:  cfg.Kline.MaxCached,
			Trend:      trend.Settings{},
			Sessions:   cfg.Sessions,
			CapPerType: cfg.Strategy.CapPerType,
			Params:     snap.Params,
			Venue:      cons,
			Guard:      g,
			Emitter:    emitter,
			Store:      st,
			Equity:     route,
			Positions:  route,
		})
		if err != nil {
			return nil, err
		}
		engines[symbol] = eng
	}
	registry.OnChange(func(snap config.ParamsSnapshot) {
		for symbol, eng := range engines {
			eng.ApplyParams(snap.Params)
			logger.Infof("queued params version %d for %s", snap.Version, symbol)
		}
	})

	src, err := b.feedFn(cfg.Feed)
	if err != nil {
		return nil, err
	}
	live, err := newLiveService(cfg, src, engines)
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:   cfg,
		live:  live,
		store: st,
		runID: emitter.RunID(),
	}, nil
}

func buildOrderRoute(bc config.BrokerConfig) (OrderRoute, error) {
	switch bc.Mode {
	case "paper":
		equity, err := decimal.NewFromString(bc.PaperEquity)
		if err != nil {
			return nil, fmt.Errorf("broker.paper_equity is not a number: %w", err)
		}
		return broker.NewPaper(equity), nil
	case "binance":
		return broker.NewBinance(bc.APIKey, bc.APISecret, bc.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown broker mode %q", bc.Mode)
	}
}

func buildFeed(fc config.FeedConfig) (feed.Source, error) {
	switch fc.Source {
	case "csv":
		return feed.NewCSVSource(fc.CSVPath)
	case "binance":
		return feed.NewBinanceSource(fc.BinanceREST), nil
	default:
		return nil, fmt.Errorf("unknown feed source %q", fc.Source)
	}
}
