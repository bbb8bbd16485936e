// Package events detects threshold crossings in decoded signal tables
// and writes event records alongside the aggregation output.
package events

// Threshold configures edge classification for one trigger signal.
type Threshold struct {
	Lower         float64
	Upper         float64
	ExactMatch    bool
	RisingAsStart bool
}

// EventType marks an edge as a trip into or out of the triggered band.
type EventType int

const (
	Start EventType = iota
	Stop
)

func (t EventType) String() string {
	if t == Start {
		return "Start"
	}
	return "Stop"
}

// Value returns the EventValue column encoding: 1 for Start, 0 for Stop.
func (t EventType) Value() int64 {
	if t == Start {
		return 1
	}
	return 0
}

// Edge is one detected event, referencing a row of the input series.
type Edge struct {
	Index int
	Type  EventType
}

// DetectEdges scans a signal once, carrying two running flags: whether
// any prior sample was below the lower threshold, and whether any was
// above the upper one. A rising edge is the first sample of a run of
// above-upper samples seen while the below flag is set; falling edges
// mirror that. Each run contributes at most one edge. Null samples
// classify as neither below nor above but still split runs.
func DetectEdges(values []float64, valid []bool, th Threshold) []Edge {
	var (
		edges              []Edge
		wasBelow, wasAbove bool
		prevBelow          bool
		prevAbove          bool
		riseEmitted        bool // edge already taken from the current above-run
		fallEmitted        bool // edge already taken from the current below-run
	)

	for i, v := range values {
		var below, above bool
		if valid == nil || valid[i] {
			if th.ExactMatch {
				below = v == th.Lower
				above = v == th.Upper
			} else {
				below = v <= th.Lower
				above = v >= th.Upper
			}
		}

		if i == 0 || below != prevBelow {
			fallEmitted = false
		}
		if i == 0 || above != prevAbove {
			riseEmitted = false
		}

		if above && wasBelow && !riseEmitted {
			riseEmitted = true
			edges = append(edges, Edge{Index: i, Type: risingType(th.RisingAsStart)})
		}
		if below && wasAbove && !fallEmitted {
			fallEmitted = true
			edges = append(edges, Edge{Index: i, Type: fallingType(th.RisingAsStart)})
		}

		wasBelow = wasBelow || below
		wasAbove = wasAbove || above
		prevBelow, prevAbove = below, above
	}

	return edges
}

func risingType(risingAsStart bool) EventType {
	if risingAsStart {
		return Start
	}
	return Stop
}

func fallingType(risingAsStart bool) EventType {
	if risingAsStart {
		return Stop
	}
	return Start
}
