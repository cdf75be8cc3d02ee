// Package volatility computes the Average True Range context every detector
// threshold is expressed against.
package volatility

import (
	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/market"
	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
)

// Context is the rolling ATR snapshot for the current bar. Value is zero and
// Ready is false during warm-up; detectors must not fire until Ready.
type Context struct {
	Value  decimal.Decimal
	Period int
	ready  bool
}

func (c Context) Ready() bool { return c.ready && c.Value.IsPositive() }

// Mult returns k * ATR as a price distance.
func (c Context) Mult(k float64) decimal.Decimal {
	return decmath.MulFloat(c.Value, k)
}

// Static wraps a known ATR value. Offline tools and tests use it where no
// series is available.
func Static(value decimal.Decimal, period int) Context {
	return Context{Value: value, Period: period, ready: value.IsPositive()}
}

// Calculator derives ATR contexts from a series.
type Calculator struct {
	period int
}

func NewCalculator(period int) *Calculator {
	if period <= 0 {
		period = 14
	}
	return &Calculator{period: period}
}

func (c *Calculator) Period() int { return c.period }

// Context computes the ATR over the trailing bars of s. talib needs strictly
// more than period samples; anything less is warm-up.
func (c *Calculator) Context(s *market.Series) Context {
	lookback := c.period*3 + 1
	_, highs, lows, closes, _ := s.Floats(lookback)
	if len(closes) <= c.period {
		return Context{Period: c.period}
	}
	atr := talib.Atr(highs, lows, closes, c.period)
	last := atr[len(atr)-1]
	if !decmath.ValidFloat(last) || last <= 0 {
		return Context{Period: c.period}
	}
	return Context{
		Value:  decmath.FromFloat(last),
		Period: c.period,
		ready:  true,
	}
}
