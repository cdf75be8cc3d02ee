package venue

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const tableYAML = `
symbols:
  - symbol: BTCUSDT
    instrument_class: crypto_perp
    tick_size: "0.10"
    contract_size: "1"
    min_stop_distance: "5.0"
    volume_min: "0.001"
    volume_max: "120"
    volume_step: "0.001"
  - symbol: XAUUSD
    instrument_class: metal
    tick_size: "0.01"
    contract_size: "100"
    volume_min: "0.01"
    volume_max: ""
    volume_step: "0.01"
`

func TestParseTable(t *testing.T) {
	table, err := ParseTable([]byte(tableYAML), "test.yaml")
	assert.NoError(t, err)
	assert.Len(t, table, 2)

	btc, err := table.Lookup("BTCUSDT")
	assert.NoError(t, err)
	assert.Equal(t, "crypto_perp", btc.InstrumentClass)
	assert.True(t, btc.MinStopDistance.Equal(dec("5.0")))

	// Optional fields may be empty: no stop minimum, uncapped volume.
	gold, err := table.Lookup("XAUUSD")
	assert.NoError(t, err)
	assert.True(t, gold.MinStopDistance.IsZero())
	assert.True(t, gold.VolumeMax.IsZero())
	assert.True(t, gold.ContractSize.Equal(dec("100")))
}

func TestLookupUnknownSymbolFails(t *testing.T) {
	table, err := ParseTable([]byte(tableYAML), "test.yaml")
	assert.NoError(t, err)
	_, err = table.Lookup("DOGEUSDT")
	assert.Error(t, err)
}

func TestParseTableRejectsDuplicates(t *testing.T) {
	dup := tableYAML + `
  - symbol: BTCUSDT
    instrument_class: crypto_perp
    tick_size: "0.10"
    contract_size: "1"
    volume_min: "0.001"
    volume_step: "0.001"
`
	_, err := ParseTable([]byte(dup), "test.yaml")
	assert.Error(t, err)
}

func TestParseTableRejectsMissingRequiredField(t *testing.T) {
	bad := `
symbols:
  - symbol: BTCUSDT
    instrument_class: crypto_perp
    contract_size: "1"
    volume_min: "0.001"
    volume_step: "0.001"
`
	_, err := ParseTable([]byte(bad), "test.yaml")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "tick_size")
}

func TestSnapPrice(t *testing.T) {
	c := Constraints{TickSize: dec("0.25")}
	assert.True(t, c.SnapPrice(dec("100.13")).Equal(dec("100.25")))
	assert.True(t, c.SnapPrice(dec("100.12")).Equal(dec("100")))
	assert.True(t, c.SnapPrice(dec("100.25")).Equal(dec("100.25")))

	// Zero tick size passes prices through.
	assert.True(t, Constraints{}.SnapPrice(dec("100.13")).Equal(dec("100.13")))
}

func TestSnapVolume(t *testing.T) {
	c := Constraints{
		VolumeMin:  dec("0.01"),
		VolumeMax:  dec("100"),
		VolumeStep: dec("0.01"),
	}
	// Floors to the step, never rounds up.
	assert.True(t, c.SnapVolume(dec("1.999")).Equal(dec("1.99")))
	// Clamps into [min, max].
	assert.True(t, c.SnapVolume(dec("0.0001")).Equal(dec("0.01")))
	assert.True(t, c.SnapVolume(dec("150")).Equal(dec("100")))

	// Zero VolumeMax means uncapped.
	c.VolumeMax = decimal.Zero
	assert.True(t, c.SnapVolume(dec("150")).Equal(dec("150")))
}
