package replay

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/gjson"

	"github.com/Terrxnce/DEVI-sub000/internal/events"
	"github.com/Terrxnce/DEVI-sub000/internal/store"
)

// DiffRecorders compares two in-memory event streams per symbol. Seq and
// RunID are run-local and excluded; everything else must match.
func DiffRecorders(a, b *Recorder) []string {
	var diffs []string
	as, bs := a.BySymbol(), b.BySymbol()
	seen := make(map[string]bool)
	for _, symbol := range append(sortedSymbols(as), sortedSymbols(bs)...) {
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		ea, eb := as[symbol], bs[symbol]
		if len(ea) != len(eb) {
			diffs = append(diffs, fmt.Sprintf("%s: event count %d vs %d", symbol, len(ea), len(eb)))
			continue
		}
		for i := range ea {
			diffs = append(diffs, diffEvent(symbol, i, ea[i], eb[i])...)
		}
	}
	return diffs
}

func diffEvent(symbol string, i int, a, b events.Event) []string {
	var diffs []string
	if a.Kind != b.Kind {
		diffs = append(diffs, fmt.Sprintf("%s[%d]: kind %s vs %s", symbol, i, a.Kind, b.Kind))
	}
	if !a.BarTime.Equal(b.BarTime) {
		diffs = append(diffs, fmt.Sprintf("%s[%d] %s: bar time %s vs %s", symbol, i, a.Kind, a.BarTime, b.BarTime))
	}
	fa, errA := json.Marshal(a.Fields)
	fb, errB := json.Marshal(b.Fields)
	if errA != nil || errB != nil {
		diffs = append(diffs, fmt.Sprintf("%s[%d] %s: unmarshalable fields", symbol, i, a.Kind))
		return diffs
	}
	diffs = append(diffs, diffPayload(fmt.Sprintf("%s[%d] %s", symbol, i, a.Kind), fa, fb)...)
	return diffs
}

// diffPayload reports per-field differences between two JSON objects.
func diffPayload(prefix string, a, b []byte) []string {
	var diffs []string
	pa, pb := gjson.ParseBytes(a), gjson.ParseBytes(b)
	keys := make(map[string]bool)
	pa.ForEach(func(k, _ gjson.Result) bool { keys[k.String()] = true; return true })
	pb.ForEach(func(k, _ gjson.Result) bool { keys[k.String()] = true; return true })
	ordered := make([]string, 0, len(keys))
	for k := range keys {
		ordered = append(ordered, k)
	}
	sort.Strings(ordered)
	for _, k := range ordered {
		va, vb := pa.Get(k), pb.Get(k)
		switch {
		case !va.Exists():
			diffs = append(diffs, fmt.Sprintf("%s: field %q only in run B (%s)", prefix, k, vb.Raw))
		case !vb.Exists():
			diffs = append(diffs, fmt.Sprintf("%s: field %q only in run A (%s)", prefix, k, va.Raw))
		case va.Raw != vb.Raw:
			diffs = append(diffs, fmt.Sprintf("%s: field %q %s vs %s", prefix, k, va.Raw, vb.Raw))
		}
	}
	return diffs
}

// DiffStoreRuns compares the persisted event streams of two runs per symbol.
// It is the offline counterpart to DiffRecorders: point it at any two run
// ids in the audit store.
func DiffStoreRuns(st *store.Store, runA, runB string) ([]string, error) {
	ra, err := st.EventsByRun(runA)
	if err != nil {
		return nil, fmt.Errorf("replay: loading run %s: %w", runA, err)
	}
	rb, err := st.EventsByRun(runB)
	if err != nil {
		return nil, fmt.Errorf("replay: loading run %s: %w", runB, err)
	}
	ga, gb := groupRows(ra), groupRows(rb)
	var diffs []string
	seen := make(map[string]bool)
	for _, symbol := range append(sortedRowSymbols(ga), sortedRowSymbols(gb)...) {
		if seen[symbol] {
			continue
		}
		seen[symbol] = true
		ea, eb := ga[symbol], gb[symbol]
		if len(ea) != len(eb) {
			diffs = append(diffs, fmt.Sprintf("%s: event count %d vs %d", symbol, len(ea), len(eb)))
			continue
		}
		for i := range ea {
			prefix := fmt.Sprintf("%s[%d] %s", symbol, i, ea[i].Kind)
			if ea[i].Kind != eb[i].Kind {
				diffs = append(diffs, fmt.Sprintf("%s[%d]: kind %s vs %s", symbol, i, ea[i].Kind, eb[i].Kind))
				continue
			}
			if ea[i].BarTime != eb[i].BarTime {
				diffs = append(diffs, fmt.Sprintf("%s: bar time %d vs %d", prefix, ea[i].BarTime, eb[i].BarTime))
			}
			diffs = append(diffs, diffPayload(prefix, ea[i].Payload, eb[i].Payload)...)
		}
	}
	return diffs, nil
}

func groupRows(rows []store.EventModel) map[string][]store.EventModel {
	out := make(map[string][]store.EventModel)
	for _, r := range rows {
		out[r.Symbol] = append(out[r.Symbol], r)
	}
	return out
}

func sortedRowSymbols(m map[string][]store.EventModel) []string {
	out := make([]string, 0, len(m))
	for s := range m {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
