// Package replay runs a fixed bar set through freshly built pipelines and
// diffs the resulting event streams. Two runs over identical input and
// configuration must match field-for-field; any difference is a determinism
// bug.
package replay

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Terrxnce/DEVI-sub000/internal/analysis/trend"
	"github.com/Terrxnce/DEVI-sub000/internal/config"
	"github.com/Terrxnce/DEVI-sub000/internal/engine"
	"github.com/Terrxnce/DEVI-sub000/internal/events"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

// SimBroker accepts every order with deterministic ids. It stands in for the
// execution collaborator during replays.
type SimBroker struct {
	mu sync.Mutex
	n  int
}

func (b *SimBroker) PlaceOrder(_ context.Context, _ guard.Order) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.n++
	return fmt.Sprintf("sim-%d", b.n), nil
}

func (b *SimBroker) CloseAllPositions(context.Context, string) error { return nil }

// StaticAccount reports a fixed equity and no open positions, keeping the
// risk circuit quiet so replays exercise the analytical path.
type StaticAccount struct {
	equity decimal.Decimal
}

func NewStaticAccount(equity decimal.Decimal) *StaticAccount {
	return &StaticAccount{equity: equity}
}

func (a *StaticAccount) Equity(context.Context) (decimal.Decimal, error) {
	return a.equity, nil
}

func (a *StaticAccount) OpenPositions(context.Context) ([]guard.OpenPosition, error) {
	return nil, nil
}

// Recorder is an in-memory event sink.
type Recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *Recorder) Consume(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// BySymbol groups the recorded events per symbol in emission order. Symbol
// streams are independent; the cross-symbol interleaving is not part of the
// determinism contract.
func (r *Recorder) BySymbol() map[string][]events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]events.Event)
	for _, e := range r.events {
		out[e.Symbol] = append(out[e.Symbol], e)
	}
	return out
}

// Runner replays bar fixtures through the full pipeline.
type Runner struct {
	cfg    *config.Config
	params config.Params
	table  venue.Table
	bars   map[string][]market.Bar
	equity decimal.Decimal
}

func NewRunner(cfg *config.Config, params config.Params, table venue.Table, bars map[string][]market.Bar, equity decimal.Decimal) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("replay: nil config")
	}
	for _, symbol := range cfg.Symbols {
		if len(bars[symbol]) == 0 {
			return nil, fmt.Errorf("replay: no bars for active symbol %s", symbol)
		}
	}
	return &Runner{cfg: cfg, params: params, table: table, bars: bars, equity: equity}, nil
}

// RunOnce builds a fresh pipeline (fresh risk state, fresh detectors, fresh
// series) and processes every symbol's bars, symbols fanned out in parallel.
func (r *Runner) RunOnce(ctx context.Context, runID string) (*Recorder, error) {
	rec := &Recorder{}
	emitter := events.NewEmitterWithRunID(runID, rec)
	risk, err := guard.NewRiskState(r.cfg.Risk)
	if err != nil {
		return nil, err
	}
	g, err := guard.New(r.cfg.Guard, r.table, risk, &SimBroker{})
	if err != nil {
		return nil, err
	}
	account := NewStaticAccount(r.equity)

	grp, grpCtx := errgroup.WithContext(ctx)
	for _, symbol := range r.cfg.Symbols {
		symbol := symbol
		cons, err := r.table.Lookup(symbol)
		if err != nil {
			return nil, err
		}
		eng, err := engine.New(engine.Options{
			Symbol:     symbol,
			Timeframe:  r.cfg.Kline.Timeframe,
			MaxCached:  r.cfg.Kline.MaxCached,
			Trend:      trend.Settings{},
			Sessions:   r.cfg.Sessions,
			CapPerType: r.cfg.Strategy.CapPerType,
			Params:     r.params,
			Venue:      cons,
			Guard:      g,
			Emitter:    emitter,
			Equity:     account,
			Positions:  account,
		})
		if err != nil {
			return nil, err
		}
		bars := r.bars[symbol]
		grp.Go(func() error {
			for _, bar := range bars {
				if err := grpCtx.Err(); err != nil {
					return err
				}
				if err := eng.OnBar(grpCtx, bar); err != nil {
					return fmt.Errorf("replay %s: %w", symbol, err)
				}
			}
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}
	return rec, nil
}

// Verify runs the fixture twice and returns the per-symbol differences.
// Empty result means the replay is idempotent.
func (r *Runner) Verify(ctx context.Context) ([]string, error) {
	first, err := r.RunOnce(ctx, "replay-a")
	if err != nil {
		return nil, err
	}
	second, err := r.RunOnce(ctx, "replay-b")
	if err != nil {
		return nil, err
	}
	return DiffRecorders(first, second), nil
}

func sortedSymbols(m map[string][]events.Event) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
