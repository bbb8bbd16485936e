package backlog

import (
	"context"
	"io"
	"log"
	"testing"

	"github.com/canlake/canlake/pkg/cloudstore"
)

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func seedStore(t *testing.T, paths ...string) *cloudstore.MemoryStore {
	t.Helper()
	store := cloudstore.NewMemoryStore()
	for _, p := range paths {
		store.PutBytes(p, []byte("x"))
	}
	return store
}

func TestClassify(t *testing.T) {
	tests := []struct {
		in       string
		kind     RefKind
		normized string
	}{
		{"0BFD7754/", RefDevice, "0BFD7754/"},
		{"0BFD7754", RefDevice, "0BFD7754/"},
		{"0BFD7754/00000001/", RefSession, "0BFD7754/00000001/"},
		{"0BFD7754/00000001", RefSession, "0BFD7754/00000001/"},
		{"0BFD7754/00000001/00000001.MF4", RefFile, "0BFD7754/00000001/00000001.MF4"},
		{"0BFD7754/00000001/00000001.mfc", RefFile, "0BFD7754/00000001/00000001.mfc"},
		{"0bfd7754/", RefUnknown, "0bfd7754/"}, // device IDs are uppercase hex
		{"0BFD7754/notes.txt", RefUnknown, "0BFD7754/notes.txt"},
		{"random/prefix", RefUnknown, "random/prefix/"},
	}
	for _, tt := range tests {
		kind, normalized := Classify(tt.in)
		if kind != tt.kind || normalized != tt.normized {
			t.Errorf("Classify(%q) = (%v, %q), want (%v, %q)", tt.in, kind, normalized, tt.kind, tt.normized)
		}
	}
}

func TestPlanDeviceExpansion(t *testing.T) {
	store := seedStore(t,
		"0BFD7754/00000001/00000001.MF4",
		"0BFD7754/00000001/00000002.MF4",
		"0BFD7754/00000002/00000001.MF4",
		"0BFD7754/00000002/session.json", // no valid extension, ignored
	)
	p := NewPlanner(store, discard(), 1, 256)

	batches, report, err := p.Plan(context.Background(), [][]string{{"0BFD7754/"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 2 {
		t.Fatalf("got %d batches, want 2 (one per session): %v", len(batches), batches)
	}
	if len(batches[0]) != 2 || len(batches[1]) != 1 {
		t.Errorf("batch sizes = %d,%d, want 2,1", len(batches[0]), len(batches[1]))
	}
	if report.TotalFiles != 3 {
		t.Errorf("TotalFiles = %d, want 3", report.TotalFiles)
	}
}

func TestPlanSessionDedup(t *testing.T) {
	store := seedStore(t,
		"0BFD7754/00000001/00000001.MF4",
	)
	p := NewPlanner(store, discard(), 1, 256)

	// Device ref already covers the session; the explicit session ref
	// and the duplicate file ref must not create a second batch.
	batches, _, err := p.Plan(context.Background(), [][]string{{
		"0BFD7754/",
		"0BFD7754/00000001/",
		"0BFD7754/00000001/00000001.MF4",
	}})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1: %v", len(batches), batches)
	}
	if len(batches[0]) != 1 {
		t.Errorf("batch = %v, want single file", batches[0])
	}
}

func TestPlanNoPathInTwoBatches(t *testing.T) {
	store := seedStore(t,
		"0BFD7754/00000001/00000001.MF4",
		"0BFD7754/00000002/00000001.MF4",
		"11223344/00000001/00000001.MF4",
	)
	p := NewPlanner(store, discard(), 1, 256)

	batches, _, err := p.Plan(context.Background(), [][]string{
		{"0BFD7754/", "11223344/00000001/"},
		{"0BFD7754/00000001/"}, // second list re-references a processed session
	})
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]int)
	for _, batch := range batches {
		for _, f := range batch {
			seen[f]++
		}
	}
	for f, n := range seen {
		if n > 1 {
			t.Errorf("file %s appears in %d batches", f, n)
		}
	}
}

func TestPlanFileJoinsProcessedSession(t *testing.T) {
	store := seedStore(t)
	p := NewPlanner(store, discard(), 1, 256)

	// First list finalizes the session from explicit file refs; the
	// second list adds a new file to the same session. The planner must
	// recover the finalized group rather than emit two batches.
	batches, _, err := p.Plan(context.Background(), [][]string{
		{"0BFD7754/00000001/00000001.MF4"},
		{"0BFD7754/00000001/00000002.MF4"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 1 {
		t.Fatalf("got %d batches, want 1: %v", len(batches), batches)
	}
	if len(batches[0]) != 2 {
		t.Errorf("merged batch = %v, want both files", batches[0])
	}
}

func TestPlanOptimization(t *testing.T) {
	store := seedStore(t)
	p := NewPlanner(store, discard(), 10, 2)

	// 4 items over 3 sessions and 2 devices, below min=10: same-device
	// batches merge, then split at max=2.
	refs := [][]string{{
		"0BFD7754/00000001/00000001.MF4",
		"0BFD7754/00000002/00000001.MF4",
		"0BFD7754/00000002/00000002.MF4",
		"11223344/00000001/00000001.MF4",
	}}
	batches, report, err := p.Plan(context.Background(), refs)
	if err != nil {
		t.Fatal(err)
	}
	if !report.Optimized {
		t.Fatal("expected optimization to trigger")
	}

	for _, batch := range batches {
		if len(batch) > 2 {
			t.Errorf("batch exceeds max size: %v", batch)
		}
		for _, f := range batch {
			if deviceOf(f) != batch.Device() {
				t.Errorf("batch mixes devices: %v", batch)
			}
		}
	}

	total := 0
	for _, b := range batches {
		total += len(b)
	}
	if total != 4 {
		t.Errorf("optimization lost or duplicated files: total=%d", total)
	}
}

func TestPlanOptimizationNotTriggeredAboveMin(t *testing.T) {
	store := seedStore(t)
	p := NewPlanner(store, discard(), 2, 256)

	refs := [][]string{{
		"0BFD7754/00000001/00000001.MF4",
		"0BFD7754/00000002/00000001.MF4",
	}}
	_, report, err := p.Plan(context.Background(), refs)
	if err != nil {
		t.Fatal(err)
	}
	if report.Optimized {
		t.Error("optimization triggered at total == min")
	}
}

func TestPlanIdempotent(t *testing.T) {
	store := seedStore(t,
		"0BFD7754/00000001/00000001.MF4",
		"0BFD7754/00000001/00000002.MF4",
		"0BFD7754/00000002/00000001.MF4",
	)
	refs := [][]string{{"0BFD7754/"}}

	first, _, err := NewPlanner(store, discard(), 1, 256).Plan(context.Background(), refs)
	if err != nil {
		t.Fatal(err)
	}
	second, _, err := NewPlanner(store, discard(), 1, 256).Plan(context.Background(), refs)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("batch counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if len(first[i]) != len(second[i]) {
			t.Fatalf("batch %d sizes differ", i)
		}
		for j := range first[i] {
			if first[i][j] != second[i][j] {
				t.Errorf("batch %d file %d differs: %s vs %s", i, j, first[i][j], second[i][j])
			}
		}
	}
}

func TestPlanUnknownRefsSkipped(t *testing.T) {
	store := seedStore(t)
	p := NewPlanner(store, discard(), 1, 256)

	batches, report, err := p.Plan(context.Background(), [][]string{{"not-a-ref", "0BFD7754/readme.txt"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(batches) != 0 {
		t.Errorf("unknown refs produced batches: %v", batches)
	}
	if report.Unknown != 2 {
		t.Errorf("Unknown = %d, want 2", report.Unknown)
	}
}
