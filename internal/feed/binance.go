package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/market"
)

// BinanceSource fetches klines from the Binance USDT-futures REST API. Only
// closed candles are returned; the last (still forming) kline is dropped.
type BinanceSource struct {
	client *futures.Client
}

func NewBinanceSource(baseURL string) *BinanceSource {
	client := futures.NewClient("", "")
	if baseURL != "" {
		client.BaseURL = baseURL
	}
	return &BinanceSource{client: client}
}

func (b *BinanceSource) Name() string { return "binance" }

func (b *BinanceSource) Bars(ctx context.Context, symbol, interval string, limit int) ([]market.Bar, error) {
	if symbol == "" || interval == "" {
		return nil, fmt.Errorf("feed: symbol and interval are required")
	}
	if limit <= 0 || limit > 1500 {
		limit = 1000
	}
	// One extra to cover dropping the forming candle.
	klines, err := b.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		Limit(limit + 1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("feed: fetching %s %s klines: %w", symbol, interval, err)
	}
	if len(klines) > 0 {
		klines = klines[:len(klines)-1]
	}
	bars := make([]market.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := klineBar(k)
		if err != nil {
			return nil, fmt.Errorf("feed: %s kline at %d: %w", symbol, k.OpenTime, err)
		}
		bars = append(bars, bar)
	}
	if limit > 0 && len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

// klineBar converts without a float detour: Binance ships prices as strings.
func klineBar(k *futures.Kline) (market.Bar, error) {
	fields := [5]string{k.Open, k.High, k.Low, k.Close, k.Volume}
	var parsed [5]decimal.Decimal
	for i, raw := range fields {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return market.Bar{}, err
		}
		parsed[i] = d
	}
	bar := market.Bar{
		Timestamp: time.UnixMilli(k.OpenTime).UTC(),
		Open:      parsed[0],
		High:      parsed[1],
		Low:       parsed[2],
		Close:     parsed[3],
		Volume:    parsed[4],
	}
	if err := bar.Validate(); err != nil {
		return market.Bar{}, err
	}
	return bar, nil
}
