package market

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func mkBar(t *testing.T, close float64, ts time.Time) Bar {
	t.Helper()
	b, err := NewBarFromFloats(close, close+1, close-1, close, 100, ts)
	assert.NoError(t, err)
	return b
}

func TestSeriesAppendOrdering(t *testing.T) {
	s := NewSeries("BTCUSDT", "15m", 0)
	t0 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	assert.NoError(t, s.Append(mkBar(t, 100, t0)))
	assert.NoError(t, s.Append(mkBar(t, 101, t0.Add(15*time.Minute))))

	err := s.Append(mkBar(t, 102, t0.Add(15*time.Minute)))
	assert.True(t, errors.Is(err, ErrDuplicate))

	err = s.Append(mkBar(t, 102, t0))
	assert.True(t, errors.Is(err, ErrOutOfOrder))

	// Rejected bars leave the series untouched.
	assert.Equal(t, 2, s.Len())
	last, ok := s.Last()
	assert.True(t, ok)
	assert.Equal(t, t0.Add(15*time.Minute), last.Timestamp)
}

func TestSeriesCacheTrimKeepsAbsoluteIndexing(t *testing.T) {
	s := NewSeries("BTCUSDT", "15m", 3)
	t0 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		assert.NoError(t, s.Append(mkBar(t, float64(100+i), t0.Add(time.Duration(i)*15*time.Minute))))
	}

	// Len counts every accepted bar, trimmed or not.
	assert.Equal(t, 5, s.Len())
	assert.Equal(t, 4, s.LastIndex())

	// Trimmed indexes are gone, recent ones resolve by absolute index.
	_, ok := s.At(0)
	assert.False(t, ok)
	b, ok := s.At(4)
	assert.True(t, ok)
	assert.Equal(t, t0.Add(4*15*time.Minute), b.Timestamp)

	assert.Len(t, s.Tail(10), 3)
}

func TestSeriesFloats(t *testing.T) {
	s := NewSeries("BTCUSDT", "15m", 0)
	t0 := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		assert.NoError(t, s.Append(mkBar(t, float64(100+i), t0.Add(time.Duration(i)*15*time.Minute))))
	}
	_, highs, _, closes, _ := s.Floats(2)
	assert.Equal(t, []float64{103, 104}, highs)
	assert.Equal(t, []float64{102, 103}, closes)
}

func TestBarValidate(t *testing.T) {
	ts := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

	_, err := NewBarFromFloats(100, 99, 98, 100, 10, ts) // open above high
	assert.Error(t, err)

	_, err = NewBarFromFloats(100, 101, 99, 100, -1, ts)
	assert.Error(t, err)

	b := Bar{}
	assert.Error(t, b.Validate())
}

func TestBarAnatomy(t *testing.T) {
	b, err := NewBarFromFloats(100, 110, 98, 106, 10, time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)
	assert.True(t, b.IsBullish())
	assert.Equal(t, "6", b.Body().String())
	assert.Equal(t, "12", b.Range().String())
	assert.Equal(t, "4", b.UpperWick().String())
	assert.Equal(t, "2", b.LowerWick().String())
	assert.InDelta(t, 0.5, b.BodyRatio(), 1e-9)
}
