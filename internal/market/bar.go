package market

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/pkg/decmath"
)

// Bar is one immutable OHLCV sample. All prices are fixed-point decimals and
// the timestamp is always UTC.
type Bar struct {
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewBarFromFloats builds a Bar from raw float samples. NaN/Inf inputs are
// rejected here so nothing downstream ever sees them.
func NewBarFromFloats(open, high, low, close, volume float64, ts time.Time) (Bar, error) {
	for _, v := range []float64{open, high, low, close, volume} {
		if !decmath.ValidFloat(v) {
			return Bar{}, fmt.Errorf("bar at %s: non-finite sample", ts.UTC().Format(time.RFC3339))
		}
	}
	b := Bar{
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
		Timestamp: ts.UTC(),
	}
	if err := b.Validate(); err != nil {
		return Bar{}, err
	}
	return b, nil
}

// Validate checks basic OHLC sanity.
func (b Bar) Validate() error {
	if b.Timestamp.IsZero() {
		return fmt.Errorf("bar missing timestamp")
	}
	if b.High.Cmp(b.Low) < 0 {
		return fmt.Errorf("bar at %s: high < low", b.Timestamp.Format(time.RFC3339))
	}
	if b.Open.Cmp(b.High) > 0 || b.Open.Cmp(b.Low) < 0 {
		return fmt.Errorf("bar at %s: open outside range", b.Timestamp.Format(time.RFC3339))
	}
	if b.Close.Cmp(b.High) > 0 || b.Close.Cmp(b.Low) < 0 {
		return fmt.Errorf("bar at %s: close outside range", b.Timestamp.Format(time.RFC3339))
	}
	if b.Volume.IsNegative() {
		return fmt.Errorf("bar at %s: negative volume", b.Timestamp.Format(time.RFC3339))
	}
	return nil
}

func (b Bar) IsBullish() bool { return b.Close.Cmp(b.Open) > 0 }
func (b Bar) IsBearish() bool { return b.Close.Cmp(b.Open) < 0 }

// Body is the absolute open-to-close distance.
func (b Bar) Body() decimal.Decimal { return b.Close.Sub(b.Open).Abs() }

// Range is the full high-to-low distance.
func (b Bar) Range() decimal.Decimal { return b.High.Sub(b.Low) }

func (b Bar) BodyTop() decimal.Decimal    { return decmath.Max(b.Open, b.Close) }
func (b Bar) BodyBottom() decimal.Decimal { return decmath.Min(b.Open, b.Close) }

func (b Bar) UpperWick() decimal.Decimal { return b.High.Sub(b.BodyTop()) }
func (b Bar) LowerWick() decimal.Decimal { return b.BodyBottom().Sub(b.Low) }

// Midpoint is the middle of the full bar range.
func (b Bar) Midpoint() decimal.Decimal { return decmath.Mid(b.High, b.Low) }

// BodyRatio is body/range, zero for a flat bar.
func (b Bar) BodyRatio() float64 { return decmath.Ratio(b.Body(), b.Range()) }
