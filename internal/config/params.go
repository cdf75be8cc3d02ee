package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/spf13/viper"

	"github.com/Terrxnce/DEVI-sub000/internal/exitplan"
	"github.com/Terrxnce/DEVI-sub000/internal/logger"
	"github.com/Terrxnce/DEVI-sub000/internal/scorer"
)

// ParamsSnapshot is one validated, immutable view of the strategy file.
type ParamsSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Params   Params
}

// ParamsListener fires after a successful hot reload.
type ParamsListener func(ParamsSnapshot)

// ParamsRegistry owns the strategy parameter file: load, schema validation,
// and fsnotify-driven reload. A reload that fails validation is rejected and
// the previous snapshot stays live.
type ParamsRegistry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	snapshot  ParamsSnapshot
	listeners []ParamsListener
}

// NewParamsRegistry reads and validates the file, then watches it for
// changes. The initial load failing is fatal to startup.
func NewParamsRegistry(path string) (*ParamsRegistry, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("strategy params registry requires a path")
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read strategy params failed: %w", err)
	}
	r := &ParamsRegistry{path: path, v: v}
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("strategy params reload rejected, keeping previous snapshot: %v", err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Snapshot returns the current parameter set.
func (r *ParamsRegistry) Snapshot() ParamsSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// OnChange registers a reload listener.
func (r *ParamsRegistry) OnChange(fn ParamsListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

func (r *ParamsRegistry) reload() error {
	tmp := viper.New()
	tmp.SetConfigFile(r.path)
	if err := tmp.ReadInConfig(); err != nil {
		return fmt.Errorf("read strategy params failed: %w", err)
	}
	var params Params
	if err := tmp.Unmarshal(&params, func(dc *mapstructure.DecoderConfig) {
		dc.WeaklyTypedInput = true
	}); err != nil {
		return fmt.Errorf("parse strategy params failed: %w", err)
	}
	if err := validateParams(&params); err != nil {
		return err
	}
	r.mu.Lock()
	r.snapshot = ParamsSnapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Params:   params,
	}
	version := r.snapshot.Version
	r.mu.Unlock()
	logger.Infof("strategy params loaded (version=%d) from %s", version, filepath.Base(r.path))
	return nil
}

func (r *ParamsRegistry) notifyListeners() {
	r.mu.RLock()
	snap := r.snapshot
	listeners := append([]ParamsListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		if fn == nil {
			continue
		}
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("strategy params listener panic: %v", rec)
				}
			}()
			fn(snap)
		}()
	}
}

// validateParams runs every fatal check: detector sections against their
// compiled schemas, scorer weights, exit chain thresholds, tier ordering.
func validateParams(p *Params) error {
	sections := map[string]map[string]any{
		"order_block":        p.Detectors.OrderBlock,
		"fair_value_gap":     p.Detectors.FVG,
		"break_of_structure": p.Detectors.BOS,
		"sweep":              p.Detectors.Sweep,
		"zone_rejection":     p.Detectors.Rejection,
		"engulfing":          p.Detectors.Engulfing,
	}
	for name, section := range sections {
		if len(section) == 0 {
			return fmt.Errorf("detectors.%s section is required", name)
		}
		schema, err := detectorSchema(name)
		if err != nil {
			return err
		}
		if err := schema.Validate(sanitizeParams(section)); err != nil {
			return fmt.Errorf("detectors.%s failed schema validation: %w", name, err)
		}
	}
	if _, err := scorer.New(p.Scorer); err != nil {
		return err
	}
	if _, err := exitplan.New(p.Exit); err != nil {
		return err
	}
	return p.Tiers.Validate()
}

// DecodeDetector maps one validated raw section onto a typed detector
// config.
func DecodeDetector(section map[string]any, target any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(sanitizeParams(section))
}

// detectorParamSchema is shared by all detectors: threshold fields are
// numbers, weights is an object of numbers. Detector constructors enforce the
// exact weight key set and the sum-to-one rule.
const detectorParamSchema = `{
  "type": "object",
  "required": ["weights"],
  "properties": {
    "weights": {
      "type": "object",
      "additionalProperties": {"type": "number", "minimum": 0, "maximum": 1}
    }
  },
  "additionalProperties": {"type": ["number", "boolean"]}
}`

var (
	schemaOnce     sync.Once
	schemaCompiled *jsonschema.Schema
	schemaErr      error
)

func detectorSchema(name string) (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("detector_params.json", strings.NewReader(detectorParamSchema)); err != nil {
			schemaErr = err
			return
		}
		schemaCompiled, schemaErr = compiler.Compile("detector_params.json")
	})
	if schemaErr != nil {
		return nil, fmt.Errorf("compiling detector schema for %s: %w", name, schemaErr)
	}
	return schemaCompiled, nil
}

// sanitizeParams rewrites string-typed numbers to float64 so schema
// validation and weak decoding agree on what a number is.
func sanitizeParams(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			out[k] = sanitizeParams(child)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			out[i] = sanitizeParams(child)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return val
		}
		if num, err := strconv.ParseFloat(s, 64); err == nil {
			return num
		}
		return val
	default:
		return val
	}
}
