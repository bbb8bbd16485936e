// Package aggregate computes per-trip signal statistics over decoded
// message tables and writes the daily trip summary output.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/canlake/canlake/pkg/canerr"
)

// Type enumerates the supported aggregation functions.
type Type int

const (
	Avg Type = iota
	Median
	Max
	Min
	Sum
	First
	Last
	DeltaSum
	DeltaSumPos
	DeltaSumNeg
	Count
)

var typeNames = map[Type]string{
	Avg:         "avg",
	Median:      "median",
	Max:         "max",
	Min:         "min",
	Sum:         "sum",
	First:       "first",
	Last:        "last",
	DeltaSum:    "delta_sum",
	DeltaSumPos: "delta_sum_pos",
	DeltaSumNeg: "delta_sum_neg",
	Count:       "count",
}

func (t Type) String() string { return typeNames[t] }

// ParseType resolves an aggregation-type string from the manifest.
// Unknown types are data errors, skipped per (signal, type) pair.
func ParseType(s string) (Type, error) {
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, canerr.E(canerr.KindData, "aggregate.parse_type", fmt.Errorf("unknown aggregation type %q", s))
}

// Apply computes the aggregation over the non-null values of a signal,
// in row order. ok is false when the input is empty.
func (t Type) Apply(values []float64) (result float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}

	switch t {
	case Avg:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values)), true
	case Median:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2, true
		}
		return sorted[mid], true
	case Max:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max, true
	case Min:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min, true
	case Sum:
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		return sum, true
	case First:
		return values[0], true
	case Last:
		return values[len(values)-1], true
	case DeltaSum:
		sum := 0.0
		for i := 1; i < len(values); i++ {
			sum += values[i] - values[i-1]
		}
		return sum, true
	case DeltaSumPos:
		sum := 0.0
		for i := 1; i < len(values); i++ {
			if d := values[i] - values[i-1]; d > 0 {
				sum += d
			}
		}
		return sum, true
	case DeltaSumNeg:
		sum := 0.0
		for i := 1; i < len(values); i++ {
			if d := values[i] - values[i-1]; d < 0 {
				sum += d
			}
		}
		return sum, true
	case Count:
		return float64(len(values)), true
	}
	return 0, false
}
