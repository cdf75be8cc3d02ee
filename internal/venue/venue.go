// Package venue models broker/venue trading constraints per symbol.
package venue

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Constraints are the static venue limits for one symbol. All prices and
// volumes are fixed-point decimals.
type Constraints struct {
	Symbol          string
	InstrumentClass string
	TickSize        decimal.Decimal
	ContractSize    decimal.Decimal
	MinStopDistance decimal.Decimal
	VolumeMin       decimal.Decimal
	VolumeMax       decimal.Decimal
	VolumeStep      decimal.Decimal
}

func (c Constraints) validate() error {
	if c.TickSize.Sign() <= 0 {
		return fmt.Errorf("venue %s: tick_size must be > 0", c.Symbol)
	}
	if c.ContractSize.Sign() <= 0 {
		return fmt.Errorf("venue %s: contract_size must be > 0", c.Symbol)
	}
	if c.MinStopDistance.Sign() < 0 {
		return fmt.Errorf("venue %s: min_stop_distance must be >= 0", c.Symbol)
	}
	if c.VolumeMin.Sign() <= 0 || c.VolumeStep.Sign() <= 0 {
		return fmt.Errorf("venue %s: volume_min and volume_step must be > 0", c.Symbol)
	}
	if c.VolumeMax.Sign() > 0 && c.VolumeMax.Cmp(c.VolumeMin) < 0 {
		return fmt.Errorf("venue %s: volume_max below volume_min", c.Symbol)
	}
	if c.InstrumentClass == "" {
		return fmt.Errorf("venue %s: instrument_class missing", c.Symbol)
	}
	return nil
}

// SnapPrice rounds a price to the nearest tick.
func (c Constraints) SnapPrice(p decimal.Decimal) decimal.Decimal {
	if c.TickSize.Sign() <= 0 {
		return p
	}
	ticks := p.Div(c.TickSize).Round(0)
	return ticks.Mul(c.TickSize)
}

// SnapVolume floors a volume to the step grid and clamps it into
// [VolumeMin, VolumeMax]. A zero VolumeMax means uncapped.
func (c Constraints) SnapVolume(v decimal.Decimal) decimal.Decimal {
	if c.VolumeStep.Sign() > 0 {
		steps := v.Div(c.VolumeStep).Floor()
		v = steps.Mul(c.VolumeStep)
	}
	if v.Cmp(c.VolumeMin) < 0 {
		v = c.VolumeMin
	}
	if c.VolumeMax.Sign() > 0 && v.Cmp(c.VolumeMax) > 0 {
		v = c.VolumeMax
	}
	return v
}

// Table maps symbol to constraints.
type Table map[string]Constraints

// Lookup fails loudly for unknown symbols; venue gaps for active symbols are
// configuration errors, not runtime defaults.
func (t Table) Lookup(symbol string) (Constraints, error) {
	c, ok := t[symbol]
	if !ok {
		return Constraints{}, fmt.Errorf("venue: no constraints for symbol %s", symbol)
	}
	return c, nil
}

// rawConstraints is the YAML shape; numeric fields are strings so fixed-point
// values round-trip without a float detour.
type rawConstraints struct {
	Symbol          string `yaml:"symbol"`
	InstrumentClass string `yaml:"instrument_class"`
	TickSize        string `yaml:"tick_size"`
	ContractSize    string `yaml:"contract_size"`
	MinStopDistance string `yaml:"min_stop_distance"`
	VolumeMin       string `yaml:"volume_min"`
	VolumeMax       string `yaml:"volume_max"`
	VolumeStep      string `yaml:"volume_step"`
}

func (r rawConstraints) constraints() (Constraints, error) {
	c := Constraints{Symbol: r.Symbol, InstrumentClass: r.InstrumentClass}
	fields := []struct {
		name  string
		raw   string
		dst   *decimal.Decimal
		allow bool // empty permitted, stays zero
	}{
		{"tick_size", r.TickSize, &c.TickSize, false},
		{"contract_size", r.ContractSize, &c.ContractSize, false},
		{"min_stop_distance", r.MinStopDistance, &c.MinStopDistance, true},
		{"volume_min", r.VolumeMin, &c.VolumeMin, false},
		{"volume_max", r.VolumeMax, &c.VolumeMax, true},
		{"volume_step", r.VolumeStep, &c.VolumeStep, false},
	}
	for _, f := range fields {
		if f.raw == "" {
			if f.allow {
				continue
			}
			return Constraints{}, fmt.Errorf("venue %s: %s missing", r.Symbol, f.name)
		}
		d, err := decimal.NewFromString(f.raw)
		if err != nil {
			return Constraints{}, fmt.Errorf("venue %s: %s: %w", r.Symbol, f.name, err)
		}
		*f.dst = d
	}
	return c, nil
}

type tableFile struct {
	Symbols []rawConstraints `yaml:"symbols"`
}

// LoadTable parses the symbol-keyed venue constraint file.
func LoadTable(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("venue: reading %s: %w", path, err)
	}
	return ParseTable(raw, path)
}

// ParseTable decodes and validates a venue table from raw YAML.
func ParseTable(raw []byte, origin string) (Table, error) {
	var file tableFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("venue: parsing %s: %w", origin, err)
	}
	if len(file.Symbols) == 0 {
		return nil, fmt.Errorf("venue: %s defines no symbols", origin)
	}
	table := make(Table, len(file.Symbols))
	for _, entry := range file.Symbols {
		if entry.Symbol == "" {
			return nil, fmt.Errorf("venue: entry without symbol in %s", origin)
		}
		c, err := entry.constraints()
		if err != nil {
			return nil, err
		}
		if err := c.validate(); err != nil {
			return nil, err
		}
		if _, dup := table[c.Symbol]; dup {
			return nil, fmt.Errorf("venue: duplicate symbol %s in %s", c.Symbol, origin)
		}
		table[c.Symbol] = c
	}
	return table, nil
}
