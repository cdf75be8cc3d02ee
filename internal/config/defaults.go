package config

import (
	"strings"
	"time"
)

const (
	defaultAppEnv    = "dev"
	defaultLogLevel  = "info"
	defaultLogPath   = "/data/logs/devi-live.log"
	defaultTimeframe = "15m"
	defaultMaxCached = 500
	defaultParams    = "configs/strategy_params.yaml"
	defaultVenues    = "configs/venues.yaml"
	defaultCapType   = 4
	defaultAsiaStart = 0
	defaultLondonStart = 8
	defaultNYStart   = 16
	defaultFeed      = "csv"
	defaultBinance   = "https://fapi.binance.com"
	defaultStorePath = "/data/db/devi_audit.db"
	defaultBrokerMode  = "paper"
	defaultPaperEquity = "10000"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Kline.applyDefaults(keys)
	c.Strategy.applyDefaults(keys)
	c.Sessions.applyDefaults(keys)
	c.Feed.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.guardDefaults(keys)
	c.riskDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultLogPath),
	)
}

func (k *KlineConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("kline.timeframe", &k.Timeframe, defaultTimeframe),
		fieldDefault{
			key:   "kline.max_cached",
			need:  func() bool { return k.MaxCached <= 0 },
			apply: func() { k.MaxCached = defaultMaxCached },
		},
	)
}

func (s *StrategyConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("strategy.params_path", &s.ParamsPath, defaultParams),
		stringFieldDefault("strategy.venue_table_path", &s.VenueTablePath, defaultVenues),
		fieldDefault{
			key:   "strategy.cap_per_type",
			need:  func() bool { return s.CapPerType <= 0 },
			apply: func() { s.CapPerType = defaultCapType },
		},
	)
}

func (s *SessionConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "sessions.asia_start_hour",
			need:  func() bool { return s.AsiaStartHour == 0 },
			apply: func() { s.AsiaStartHour = defaultAsiaStart },
		},
		fieldDefault{
			key:   "sessions.london_start_hour",
			need:  func() bool { return s.LondonStartHour == 0 },
			apply: func() { s.LondonStartHour = defaultLondonStart },
		},
		fieldDefault{
			key:   "sessions.newyork_start_hour",
			need:  func() bool { return s.NewYorkStartHour == 0 },
			apply: func() { s.NewYorkStartHour = defaultNYStart },
		},
	)
}

func (f *FeedConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("feed.source", &f.Source, defaultFeed),
		stringFieldDefault("feed.binance_rest", &f.BinanceREST, defaultBinance),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("broker.mode", &b.Mode, defaultBrokerMode),
		stringFieldDefault("broker.base_url", &b.BaseURL, defaultBinance),
		stringFieldDefault("broker.paper_equity", &b.PaperEquity, defaultPaperEquity),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
	)
}

func (c *Config) guardDefaults(keys keySet) {
	g := &c.Guard
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "guard.risk_per_trade_pct",
			need:  func() bool { return g.RiskPerTradePct <= 0 },
			apply: func() { g.RiskPerTradePct = 0.01 },
		},
		fieldDefault{
			key:   "guard.aggregate_cap_pct",
			need:  func() bool { return g.AggregateCapPct <= 0 },
			apply: func() { g.AggregateCapPct = 0.045 },
		},
		fieldDefault{
			key:   "guard.max_attempts",
			need:  func() bool { return g.MaxAttempts <= 0 },
			apply: func() { g.MaxAttempts = 3 },
		},
		fieldDefault{
			key:   "guard.widening_factors",
			need:  func() bool { return len(g.WideningFactors) == 0 },
			apply: func() { g.WideningFactors = []float64{1.0, 1.25, 1.5} },
		},
		fieldDefault{
			key:   "guard.pause_cooldown",
			need:  func() bool { return g.PauseCooldown <= 0 },
			apply: func() { g.PauseCooldown = 30 * time.Minute },
		},
		fieldDefault{
			key:   "guard.order_timeout",
			need:  func() bool { return g.OrderTimeout <= 0 },
			apply: func() { g.OrderTimeout = 5 * time.Second },
		},
	)
}

func (c *Config) riskDefaults(keys keySet) {
	r := &c.Risk
	applyFieldDefaults(keys,
		fieldDefault{
			key:   "risk.soft_stop_pct",
			need:  func() bool { return r.SoftStopPct <= 0 },
			apply: func() { r.SoftStopPct = 0.01 },
		},
		fieldDefault{
			key:   "risk.hard_stop_pct",
			need:  func() bool { return r.HardStopPct <= 0 },
			apply: func() { r.HardStopPct = 0.02 },
		},
		fieldDefault{
			key:   "risk.shadow_soft_pct",
			need:  func() bool { return r.ShadowSoftPct <= 0 },
			apply: func() { r.ShadowSoftPct = 0.03 },
		},
		fieldDefault{
			key:   "risk.shadow_hard_pct",
			need:  func() bool { return r.ShadowHardPct <= 0 },
			apply: func() { r.ShadowHardPct = 0.05 },
		},
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
