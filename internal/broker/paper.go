// Package broker provides the order routes behind the execution guard: an
// in-memory paper route for dry runs and replays, and a Binance USDT-M
// futures route for live trading.
package broker

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
)

// Paper accepts every order and tracks the resulting positions in memory.
// Equity stays fixed; fills are assumed at the requested entry.
type Paper struct {
	equity decimal.Decimal

	mu        sync.Mutex
	n         int
	positions map[string]guard.OpenPosition
}

func NewPaper(equity decimal.Decimal) *Paper {
	return &Paper{equity: equity, positions: make(map[string]guard.OpenPosition)}
}

func (p *Paper) PlaceOrder(_ context.Context, o guard.Order) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.n++
	id := fmt.Sprintf("paper-%d", p.n)
	p.positions[o.Symbol] = guard.OpenPosition{
		Symbol: o.Symbol,
		Volume: o.Volume,
		Entry:  o.Entry,
		Stop:   o.Stop,
	}
	logger.Infof("paper order %s: %s %s %s @ %s (stop %s, tp %s)",
		id, o.Side, o.Volume, o.Symbol, o.Entry, o.Stop, o.TakeProfit)
	return id, nil
}

func (p *Paper) CloseAllPositions(_ context.Context, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.positions) > 0 {
		logger.Warnf("paper: closing %d positions (%s)", len(p.positions), reason)
	}
	p.positions = make(map[string]guard.OpenPosition)
	return nil
}

func (p *Paper) Equity(context.Context) (decimal.Decimal, error) {
	return p.equity, nil
}

func (p *Paper) OpenPositions(context.Context) ([]guard.OpenPosition, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]guard.OpenPosition, 0, len(p.positions))
	for _, pos := range p.positions {
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
