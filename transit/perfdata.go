package transit

import (
	"strconv"
	"strings"
)

// PerfValue holds a single perfdata value,
// Raw is kept for values which aren't numbers
type PerfValue struct {
	Raw     string
	Value   float64
	Numeric bool
}

// PerfData maps labels to values
type PerfData map[string]PerfValue

// ServiceOutput describes plugin output of a service on a host
type ServiceOutput struct {
	HostName string
	Output   string
	PerfData PerfData
}

// ParsePerfData parses "label=value[UOM];warn;crit;min;max ..." strings,
// only the current value is kept
func ParsePerfData(s string) PerfData {
	res := make(PerfData)
	for _, p := range strings.Fields(s) {
		label, val, ok := strings.Cut(p, "=")
		if !ok || label == "" {
			continue
		}
		val, _, _ = strings.Cut(val, ";")
		pv := PerfValue{Raw: val}
		if v, err := strconv.ParseFloat(strings.TrimRight(val, "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ%"), 64); err == nil {
			pv.Value, pv.Numeric = v, true
		}
		res[label] = pv
	}
	return res
}
