// Package trip segments a device's time series into trips. A trip is a
// maximal run of samples where no consecutive pair is separated by more
// than the configured gap.
package trip

import "time"

// Window is a closed trip interval. Start and End are microsecond
// timestamps taken from actual samples, never synthesized.
type Window struct {
	Start int64
	End   int64
}

// Duration returns the trip length.
func (w Window) Duration() time.Duration {
	return time.Duration(w.End-w.Start) * time.Microsecond
}

// Segment splits ascending microsecond timestamps into trip windows.
// A new trip begins at the first sample and after every gap larger than
// gap. Windows shorter than minLength are dropped. The input must be
// sorted ascending; an empty input yields no windows.
func Segment(timestamps []int64, gap, minLength time.Duration) []Window {
	if len(timestamps) == 0 {
		return nil
	}

	gapMicros := gap.Microseconds()
	var windows []Window

	start := timestamps[0]
	prev := timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts-prev > gapMicros {
			windows = appendIfLongEnough(windows, Window{Start: start, End: prev}, minLength)
			start = ts
		}
		prev = ts
	}
	windows = appendIfLongEnough(windows, Window{Start: start, End: prev}, minLength)

	return windows
}

func appendIfLongEnough(windows []Window, w Window, minLength time.Duration) []Window {
	if w.Duration() < minLength {
		return windows
	}
	return append(windows, w)
}

// Contains reports whether the timestamp falls inside the window,
// boundaries included.
func (w Window) Contains(ts int64) bool {
	return ts >= w.Start && ts <= w.End
}
