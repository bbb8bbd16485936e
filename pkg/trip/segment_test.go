package trip

import (
	"testing"
	"time"
)

func secs(vals ...float64) []int64 {
	out := make([]int64, len(vals))
	for i, v := range vals {
		out[i] = int64(v * 1e6)
	}
	return out
}

func TestSegment(t *testing.T) {
	tests := []struct {
		name       string
		timestamps []int64
		gap        time.Duration
		minLength  time.Duration
		want       []Window
	}{
		{
			name:       "two trips split at gap",
			timestamps: secs(0, 1, 2, 3, 20, 21, 22),
			gap:        10 * time.Second,
			minLength:  1 * time.Second,
			want: []Window{
				{Start: 0, End: 3_000_000},
				{Start: 20_000_000, End: 22_000_000},
			},
		},
		{
			name:       "short trip dropped",
			timestamps: secs(0, 0.5),
			gap:        10 * time.Second,
			minLength:  1 * time.Second,
			want:       nil,
		},
		{
			name:       "empty input",
			timestamps: nil,
			gap:        10 * time.Second,
			minLength:  1 * time.Second,
			want:       nil,
		},
		{
			name:       "single sample has zero duration",
			timestamps: secs(5),
			gap:        10 * time.Second,
			minLength:  1 * time.Second,
			want:       nil,
		},
		{
			name:       "single sample kept when min length is zero",
			timestamps: secs(5),
			gap:        10 * time.Second,
			minLength:  0,
			want:       []Window{{Start: 5_000_000, End: 5_000_000}},
		},
		{
			name:       "gap exactly at threshold does not split",
			timestamps: secs(0, 10, 20),
			gap:        10 * time.Second,
			minLength:  1 * time.Second,
			want:       []Window{{Start: 0, End: 20_000_000}},
		},
		{
			name:       "every sample isolated",
			timestamps: secs(0, 100, 200),
			gap:        10 * time.Second,
			minLength:  1 * time.Second,
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Segment(tt.timestamps, tt.gap, tt.minLength)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d windows, want %d: %v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("window %d: got %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestSegmentProperties(t *testing.T) {
	timestamps := secs(0, 2, 4, 30, 31, 32, 33, 90, 95, 96)
	gap := 10 * time.Second
	min := 1 * time.Second

	windows := Segment(timestamps, gap, min)
	if len(windows) == 0 {
		t.Fatal("expected at least one window")
	}

	sampleSet := make(map[int64]bool, len(timestamps))
	for _, ts := range timestamps {
		sampleSet[ts] = true
	}

	for i, w := range windows {
		if !sampleSet[w.Start] || !sampleSet[w.End] {
			t.Errorf("window %d boundaries not taken from samples: %+v", i, w)
		}
		if w.End < w.Start {
			t.Errorf("window %d inverted: %+v", i, w)
		}
		if w.Duration() < min {
			t.Errorf("window %d shorter than min length: %+v", i, w)
		}
		if i > 0 && w.Start <= windows[i-1].End {
			t.Errorf("windows %d and %d overlap", i-1, i)
		}
	}
}
