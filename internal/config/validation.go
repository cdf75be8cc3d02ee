package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Terrxnce/DEVI-sub000/internal/scorer"
	"github.com/Terrxnce/DEVI-sub000/internal/venue"
)

var knownSessions = []string{"asia", "london", "newyork"}

func validate(c *Config) error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols requires at least one entry")
	}
	seen := make(map[string]bool, len(c.Symbols))
	for _, s := range c.Symbols {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("symbols contains an empty entry")
		}
		if seen[s] {
			return fmt.Errorf("symbols contains duplicate entry: %s", s)
		}
		seen[s] = true
	}
	if strings.TrimSpace(c.Kline.Timeframe) == "" {
		return fmt.Errorf("kline.timeframe is required")
	}
	if err := c.Sessions.validate(); err != nil {
		return err
	}
	switch c.Feed.Source {
	case "csv":
		if strings.TrimSpace(c.Feed.CSVPath) == "" {
			return fmt.Errorf("feed.csv_path is required when feed.source=csv")
		}
	case "binance":
		if strings.TrimSpace(c.Feed.BinanceREST) == "" {
			return fmt.Errorf("feed.binance_rest is required when feed.source=binance")
		}
	default:
		return fmt.Errorf("feed.source must be csv or binance, got %q", c.Feed.Source)
	}
	switch c.Broker.Mode {
	case "paper":
	case "binance":
		if strings.TrimSpace(c.Broker.APIKey) == "" || strings.TrimSpace(c.Broker.APISecret) == "" {
			return fmt.Errorf("broker.api_key and broker.api_secret are required when broker.mode=binance")
		}
	default:
		return fmt.Errorf("broker.mode must be paper or binance, got %q", c.Broker.Mode)
	}
	if _, err := decimal.NewFromString(c.Broker.PaperEquity); err != nil {
		return fmt.Errorf("broker.paper_equity is not a number: %w", err)
	}
	if err := c.Guard.Validate(); err != nil {
		return err
	}
	return c.Risk.Validate()
}

func (s SessionConfig) validate() error {
	if s.AsiaStartHour < 0 || s.AsiaStartHour > 23 ||
		s.LondonStartHour < 0 || s.LondonStartHour > 23 ||
		s.NewYorkStartHour < 0 || s.NewYorkStartHour > 23 {
		return fmt.Errorf("sessions: start hours must be in [0,23]")
	}
	if !(s.AsiaStartHour < s.LondonStartHour && s.LondonStartHour < s.NewYorkStartHour) {
		return fmt.Errorf("sessions: start hours must be strictly increasing (asia < london < newyork)")
	}
	return nil
}

// CheckCoverage cross-checks the main config against the loaded venue table
// and strategy parameters: every active symbol needs a venue entry, and every
// (timeframe, instrument class, session) triple reachable at runtime needs a
// scorer threshold. A gap here is a startup-time fatal, never a runtime
// surprise.
func CheckCoverage(c *Config, table venue.Table, params *Params) error {
	if params == nil {
		return fmt.Errorf("strategy params not loaded")
	}
	for _, symbol := range c.Symbols {
		cons, err := table.Lookup(symbol)
		if err != nil {
			return fmt.Errorf("active symbol %s has no venue entry: %w", symbol, err)
		}
		for _, session := range knownSessions {
			key := scorer.ThresholdKey{
				Timeframe:       c.Kline.Timeframe,
				InstrumentClass: cons.InstrumentClass,
				Session:         session,
			}
			if _, ok := params.Scorer.MinThresholds[key.String()]; !ok {
				return fmt.Errorf("no composite threshold for %s (required by active symbol %s)", key.String(), symbol)
			}
		}
	}
	return nil
}
