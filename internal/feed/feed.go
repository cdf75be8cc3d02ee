// Package feed supplies ordered bar streams to the engine: a CSV file source
// for fixtures and replays, and a Binance USDT-futures klines source for live
// runs. Both normalize to market.Bar with UTC timestamps; the engine
// re-checks ordering on intake.
package feed

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/market"
)

// Source yields the bar history for one symbol/interval, oldest first.
type Source interface {
	Name() string
	Bars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error)
}

// CSVSource reads bars from CSV files. Path may be a single file or a
// directory holding one <SYMBOL>.csv per symbol. Expected columns:
// timestamp,open,high,low,close,volume with the timestamp as RFC3339 or unix
// seconds; a header row is detected and skipped.
type CSVSource struct {
	path string
}

func NewCSVSource(path string) (*CSVSource, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("feed: csv path cannot be empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("feed: csv path: %w", err)
	}
	return &CSVSource{path: path}, nil
}

func (c *CSVSource) Name() string { return "csv" }

func (c *CSVSource) Bars(_ context.Context, symbol, _ string, limit int) ([]market.Bar, error) {
	path := c.path
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		path = filepath.Join(path, symbol+".csv")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("feed: opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	var bars []market.Bar
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("feed: reading %s line %d: %w", path, line+1, err)
		}
		line++
		if len(record) < 6 {
			return nil, fmt.Errorf("feed: %s line %d: expected 6 columns, got %d", path, line, len(record))
		}
		if line == 1 && !looksNumericTail(record) {
			continue // header
		}
		bar, err := parseRecord(record)
		if err != nil {
			return nil, fmt.Errorf("feed: %s line %d: %w", path, line, err)
		}
		bars = append(bars, bar)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func looksNumericTail(record []string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(record[1]), 64)
	return err == nil
}

func parseRecord(record []string) (market.Bar, error) {
	ts, err := parseTimestamp(strings.TrimSpace(record[0]))
	if err != nil {
		return market.Bar{}, err
	}
	fields := make([]decimal.Decimal, 5)
	for i := 0; i < 5; i++ {
		d, err := decimal.NewFromString(strings.TrimSpace(record[i+1]))
		if err != nil {
			return market.Bar{}, fmt.Errorf("column %d: %w", i+2, err)
		}
		fields[i] = d
	}
	bar := market.Bar{
		Timestamp: ts,
		Open:      fields[0],
		High:      fields[1],
		Low:       fields[2],
		Close:     fields[3],
		Volume:    fields[4],
	}
	if err := bar.Validate(); err != nil {
		return market.Bar{}, err
	}
	return bar, nil
}

func parseTimestamp(raw string) (time.Time, error) {
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// Millisecond epochs are unmistakably larger.
		if unix > 1e12 {
			return time.UnixMilli(unix).UTC(), nil
		}
		return time.Unix(unix, 0).UTC(), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", raw, err)
	}
	return ts.UTC(), nil
}
