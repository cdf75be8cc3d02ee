package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Terrxnce/DEVI-sub000/internal/config"
	"github.com/Terrxnce/DEVI-sub000/internal/engine"
	"github.com/Terrxnce/DEVI-sub000/internal/feed"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
)

// closeGrace is how long after a bar boundary we wait before polling, so the
// feed has published the closed bar.
const closeGrace = 5 * time.Second

// LiveService drives the engines bar by bar: warm up from history, then poll
// once per timeframe boundary. Symbols are processed in config order every
// cycle; each engine sees its bars strictly in sequence.
type LiveService struct {
	cfg     *config.Config
	source  feed.Source
	engines map[string]*engine.Engine
	step    time.Duration

	lastBar map[string]time.Time
}

func newLiveService(cfg *config.Config, source feed.Source, engines map[string]*engine.Engine) (*LiveService, error) {
	step, err := parseTimeframe(cfg.Kline.Timeframe)
	if err != nil {
		return nil, err
	}
	return &LiveService{
		cfg:     cfg,
		source:  source,
		engines: engines,
		step:    step,
		lastBar: make(map[string]time.Time, len(engines)),
	}, nil
}

func (s *LiveService) Run(ctx context.Context) error {
	if err := s.warmup(ctx); err != nil {
		return err
	}
	for {
		next := time.Now().UTC().Truncate(s.step).Add(s.step).Add(closeGrace)
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		s.poll(ctx)
	}
}

// warmup primes every engine with recent history so ATR, EMAs, and structure
// state are populated before the first live decision.
func (s *LiveService) warmup(ctx context.Context) error {
	for _, symbol := range s.cfg.Symbols {
		bars, err := s.source.Bars(ctx, symbol, s.cfg.Kline.Timeframe, s.cfg.Kline.MaxCached)
		if err != nil {
			return fmt.Errorf("warmup %s: %w", symbol, err)
		}
		for _, bar := range bars {
			if err := s.engines[symbol].OnBar(ctx, bar); err != nil {
				return fmt.Errorf("warmup %s: %w", symbol, err)
			}
			s.lastBar[symbol] = bar.Timestamp
		}
		logger.Infof("warmed up %s with %d bars from %s", symbol, len(bars), s.source.Name())
	}
	return nil
}

// poll fetches the latest closed bars and feeds the unseen ones. A feed error
// on one symbol skips that symbol for the cycle; the rest still run.
func (s *LiveService) poll(ctx context.Context) {
	for _, symbol := range s.cfg.Symbols {
		bars, err := s.source.Bars(ctx, symbol, s.cfg.Kline.Timeframe, 3)
		if err != nil {
			logger.Errorf("fetching bars for %s failed: %v", symbol, err)
			continue
		}
		for _, bar := range bars {
			if !bar.Timestamp.After(s.lastBar[symbol]) {
				continue
			}
			if err := s.engines[symbol].OnBar(ctx, bar); err != nil {
				logger.Errorf("processing %s bar %s failed: %v", symbol, bar.Timestamp, err)
				continue
			}
			s.lastBar[symbol] = bar.Timestamp
		}
	}
}

// parseTimeframe converts exchange-style interval names to durations.
func parseTimeframe(tf string) (time.Duration, error) {
	switch tf {
	case "1m":
		return time.Minute, nil
	case "5m":
		return 5 * time.Minute, nil
	case "15m":
		return 15 * time.Minute, nil
	case "30m":
		return 30 * time.Minute, nil
	case "1h":
		return time.Hour, nil
	case "4h":
		return 4 * time.Hour, nil
	case "1d":
		return 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unsupported timeframe %q", tf)
	}
}
