package events

import "testing"

func allValid(n int) []bool {
	v := make([]bool, n)
	for i := range v {
		v[i] = true
	}
	return v
}

func TestDetectEdgesStartStop(t *testing.T) {
	// 0 -> 5 -> 0 with band [1,4]: one rising edge, one falling edge.
	values := []float64{0, 5, 0}
	edges := DetectEdges(values, allValid(3), Threshold{
		Lower: 1, Upper: 4, RisingAsStart: true,
	})

	if len(edges) != 2 {
		t.Fatalf("got %d edges, want 2: %v", len(edges), edges)
	}
	if edges[0].Index != 1 || edges[0].Type != Start {
		t.Errorf("first edge = %+v, want Start at 1", edges[0])
	}
	if edges[1].Index != 2 || edges[1].Type != Stop {
		t.Errorf("second edge = %+v, want Stop at 2", edges[1])
	}
}

func TestDetectEdgesRisingAsStop(t *testing.T) {
	values := []float64{0, 5, 0}
	edges := DetectEdges(values, allValid(3), Threshold{
		Lower: 1, Upper: 4, RisingAsStart: false,
	})
	if len(edges) != 2 || edges[0].Type != Stop || edges[1].Type != Start {
		t.Errorf("edges = %v, want Stop then Start", edges)
	}
}

func TestDetectEdgesOnePerRun(t *testing.T) {
	// Sustained above-run: only its first sample is an edge.
	values := []float64{0, 5, 6, 7, 0, 5}
	edges := DetectEdges(values, allValid(6), Threshold{
		Lower: 1, Upper: 4, RisingAsStart: true,
	})

	want := []Edge{{1, Start}, {4, Stop}, {5, Start}}
	if len(edges) != len(want) {
		t.Fatalf("got %v, want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %+v, want %+v", i, edges[i], want[i])
		}
	}
}

func TestDetectEdgesNoPriorBelow(t *testing.T) {
	// Signal starts above the band: no rising edge without a prior
	// below sample.
	values := []float64{5, 6, 7}
	edges := DetectEdges(values, allValid(3), Threshold{
		Lower: 1, Upper: 4, RisingAsStart: true,
	})
	if len(edges) != 0 {
		t.Errorf("expected no edges, got %v", edges)
	}
}

func TestDetectEdgesExactMatch(t *testing.T) {
	// Exact thresholds: only equality counts, 3 is neither.
	values := []float64{1, 3, 4, 1}
	edges := DetectEdges(values, allValid(4), Threshold{
		Lower: 1, Upper: 4, ExactMatch: true, RisingAsStart: true,
	})

	want := []Edge{{2, Start}, {3, Stop}}
	if len(edges) != len(want) {
		t.Fatalf("got %v, want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %+v, want %+v", i, edges[i], want[i])
		}
	}
}

func TestDetectEdgesNullSamples(t *testing.T) {
	// Nulls are neither below nor above; they split runs but never
	// become edges themselves.
	values := []float64{0, 99, 5, 0}
	valid := []bool{true, false, true, true}
	edges := DetectEdges(values, valid, Threshold{
		Lower: 1, Upper: 4, RisingAsStart: true,
	})

	want := []Edge{{2, Start}, {3, Stop}}
	if len(edges) != len(want) {
		t.Fatalf("got %v, want %v", edges, want)
	}
	for i := range want {
		if edges[i] != want[i] {
			t.Errorf("edge %d = %+v, want %+v", i, edges[i], want[i])
		}
	}
}

func TestDetectEdgesEmpty(t *testing.T) {
	if edges := DetectEdges(nil, nil, Threshold{Lower: 1, Upper: 4}); len(edges) != 0 {
		t.Errorf("expected no edges for empty input, got %v", edges)
	}
}

func TestEventID(t *testing.T) {
	// 2025-03-14 12:30:45 UTC in microseconds.
	ts := int64(1741955445000000)
	got := EventID("overspeed", "0BFD7754", ts)
	want := "overspeed_0BFD7754_20250314T123045"
	if got != want {
		t.Errorf("EventID = %q, want %q", got, want)
	}
}
