package config

import (
	"strings"

	"github.com/Terrxnce/DEVI-sub000/internal/exitplan"
	"github.com/Terrxnce/DEVI-sub000/internal/guard"
	"github.com/Terrxnce/DEVI-sub000/internal/scorer"
	"github.com/Terrxnce/DEVI-sub000/internal/structure"
)

// Config is the main application configuration. Strategy parameters
// (detector thresholds, scorer weights, exit chain) live in a separate file
// referenced by Strategy.ParamsPath so they can be hot-reloaded between bars.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Kline    KlineConfig    `mapstructure:"kline"`
	Symbols  []string       `mapstructure:"symbols"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Sessions SessionConfig  `mapstructure:"sessions"`
	Guard    guard.Config   `mapstructure:"guard"`
	Risk     guard.RiskConfig `mapstructure:"risk"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Broker   BrokerConfig   `mapstructure:"broker"`
	Store    StoreConfig    `mapstructure:"store"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	LogPath  string `mapstructure:"log_path"`
}

type KlineConfig struct {
	Timeframe string `mapstructure:"timeframe"`
	MaxCached int    `mapstructure:"max_cached"`
}

type StrategyConfig struct {
	ParamsPath     string `mapstructure:"params_path"`
	VenueTablePath string `mapstructure:"venue_table_path"`
	CapPerType     int    `mapstructure:"cap_per_type"`
}

// SessionConfig maps UTC hours onto named trading sessions. Start hours are
// inclusive; each session runs until the next one's start, wrapping at 24.
type SessionConfig struct {
	AsiaStartHour     int `mapstructure:"asia_start_hour"`
	LondonStartHour   int `mapstructure:"london_start_hour"`
	NewYorkStartHour  int `mapstructure:"newyork_start_hour"`
}

// SessionFor derives the session name from a UTC hour.
func (s SessionConfig) SessionFor(hourUTC int) string {
	switch {
	case hourUTC >= s.NewYorkStartHour:
		return "newyork"
	case hourUTC >= s.LondonStartHour:
		return "london"
	default:
		return "asia"
	}
}

type FeedConfig struct {
	Source      string `mapstructure:"source"` // csv | binance
	CSVPath     string `mapstructure:"csv_path"`
	BinanceREST string `mapstructure:"binance_rest"`
}

// BrokerConfig selects the order route. Paper mode accepts everything and
// tracks positions in memory; binance routes to USDT-M futures.
type BrokerConfig struct {
	Mode        string `mapstructure:"mode"` // paper | binance
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	BaseURL     string `mapstructure:"base_url"`
	PaperEquity string `mapstructure:"paper_equity"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// Params is the hot-reloadable strategy parameter set, decoded from the file
// at Strategy.ParamsPath. Detector sections are schema-validated before
// decoding.
type Params struct {
	Detectors DetectorParams           `mapstructure:"detectors"`
	Scorer    scorer.Config            `mapstructure:"scorer"`
	Exit      exitplan.Config          `mapstructure:"exit"`
	Tiers     structure.TierThresholds `mapstructure:"tiers"`
}

// DetectorParams carries one raw parameter map per detector; the engine
// decodes each into the detector's typed config after schema validation.
type DetectorParams struct {
	OrderBlock map[string]any `mapstructure:"order_block"`
	FVG        map[string]any `mapstructure:"fair_value_gap"`
	BOS        map[string]any `mapstructure:"break_of_structure"`
	Sweep      map[string]any `mapstructure:"sweep"`
	Rejection  map[string]any `mapstructure:"zone_rejection"`
	Engulfing  map[string]any `mapstructure:"engulfing"`
}

// keySet records which config keys were explicitly present in the files, so
// defaults never clobber an intentional zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	_, ok := k[strings.ToLower(strings.TrimSpace(path))]
	return ok
}

// fieldDefault is one default-application rule.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
