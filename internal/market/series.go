package market

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutOfOrder is returned for a bar older than the last accepted one.
	ErrOutOfOrder = errors.New("bar out of order")
	// ErrDuplicate is returned for a bar with the same timestamp as the last
	// accepted one.
	ErrDuplicate = errors.New("duplicate bar")
)

// Series is a contiguous, time-ordered bar history for one symbol+timeframe.
// Historical bars are never mutated after Append accepts them.
type Series struct {
	symbol    string
	timeframe string
	bars      []Bar
	maxCached int
	dropped   int
}

// NewSeries creates an empty series. maxCached <= 0 keeps the full history,
// which replay runs rely on; live runs cap memory with a positive value.
func NewSeries(symbol, timeframe string, maxCached int) *Series {
	return &Series{symbol: symbol, timeframe: timeframe, maxCached: maxCached}
}

func (s *Series) Symbol() string    { return s.symbol }
func (s *Series) Timeframe() string { return s.timeframe }

// Len is the total number of accepted bars, including any trimmed from cache.
func (s *Series) Len() int { return s.dropped + len(s.bars) }

// Append accepts the next bar. Out-of-order and duplicate bars are rejected
// with typed errors so the caller can skip-and-log per the input contract.
func (s *Series) Append(bar Bar) error {
	if err := bar.Validate(); err != nil {
		return err
	}
	if last, ok := s.Last(); ok {
		if bar.Timestamp.Equal(last.Timestamp) {
			return fmt.Errorf("%w: %s", ErrDuplicate, bar.Timestamp.Format(time.RFC3339))
		}
		if bar.Timestamp.Before(last.Timestamp) {
			return fmt.Errorf("%w: %s before %s", ErrOutOfOrder,
				bar.Timestamp.Format(time.RFC3339), last.Timestamp.Format(time.RFC3339))
		}
	}
	s.bars = append(s.bars, bar)
	if s.maxCached > 0 && len(s.bars) > s.maxCached {
		over := len(s.bars) - s.maxCached
		s.bars = append(s.bars[:0:0], s.bars[over:]...)
		s.dropped += over
	}
	return nil
}

// Last returns the most recent bar.
func (s *Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}

// At returns the bar at absolute index i (counting from the first bar ever
// accepted). ok is false when the bar was trimmed or does not exist yet.
func (s *Series) At(i int) (Bar, bool) {
	rel := i - s.dropped
	if rel < 0 || rel >= len(s.bars) {
		return Bar{}, false
	}
	return s.bars[rel], true
}

// LastIndex is the absolute index of the most recent bar, -1 when empty.
func (s *Series) LastIndex() int { return s.Len() - 1 }

// Tail returns up to n most recent bars. The returned slice aliases internal
// storage and must be treated as read-only.
func (s *Series) Tail(n int) []Bar {
	if n <= 0 || len(s.bars) == 0 {
		return nil
	}
	if n > len(s.bars) {
		n = len(s.bars)
	}
	return s.bars[len(s.bars)-n:]
}

// Floats extracts parallel float slices for the trailing n bars, the shape
// indicator libraries want.
func (s *Series) Floats(n int) (opens, highs, lows, closes, volumes []float64) {
	tail := s.Tail(n)
	opens = make([]float64, len(tail))
	highs = make([]float64, len(tail))
	lows = make([]float64, len(tail))
	closes = make([]float64, len(tail))
	volumes = make([]float64, len(tail))
	for i, b := range tail {
		opens[i], _ = b.Open.Float64()
		highs[i], _ = b.High.Float64()
		lows[i], _ = b.Low.Float64()
		closes[i], _ = b.Close.Float64()
		volumes[i], _ = b.Volume.Float64()
	}
	return
}
