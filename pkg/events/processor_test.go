package events

import (
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/canlake/canlake/pkg/lake"
	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/table"
)

type countingNotifier struct {
	mu       sync.Mutex
	subjects []string
}

func (n *countingNotifier) Publish(ctx context.Context, subject, body string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.subjects = append(n.subjects, subject)
	return nil
}

func writeSignalFile(t *testing.T, root, device, message, date, name string, times []int64, signal string, values []float64) {
	t.Helper()
	tbl := table.New(times)
	if err := tbl.AddColumn(signal, values); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, device, message, filepath.FromSlash(date), name)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := tbl.WriteFile(path); err != nil {
		t.Fatal(err)
	}
}

func overspeedManifest() *manifest.Events {
	m := &manifest.Events{
		General: manifest.EventGeneral{IncludeGPSData: false},
		Events: []manifest.EventSpec{{
			EventName:            "overspeed",
			MessagesMatchType:    manifest.MatchEquals,
			MessagesFilteredList: manifest.FilterList{Lists: [][]string{{"CAN1_Speed"}}},
			TriggerSignals:       []string{"Speed"},
			LowerThreshold:       1,
			UpperThreshold:       4,
			RisingAsStart:        true,
		}},
	}
	m.General.Defaults()
	return m
}

func TestProcessDetectsAndWrites(t *testing.T) {
	root := t.TempDir()
	writeSignalFile(t, root, "0BFD7754", "CAN1_Speed", "2025/03/14", "00000001.parquet",
		[]int64{0, 1_000_000, 2_000_000}, "Speed", []float64{0, 5, 0})

	ix, err := lake.Scan(root)
	if err != nil {
		t.Fatal(err)
	}

	n := &countingNotifier{}
	p := &Processor{
		Manifest: overspeedManifest(),
		Notifier: n,
		Logger:   log.New(io.Discard, "", 0),
	}

	report, err := p.Process(context.Background(), ix)
	if err != nil {
		t.Fatal(err)
	}
	if report.FilesWritten != 1 || report.Records != 2 {
		t.Fatalf("report = %+v, want 1 file with 2 records", report)
	}
	if !report.Notified || len(n.subjects) != 1 {
		t.Fatalf("expected exactly one notification, got %v", n.subjects)
	}

	// The event file lands inside the tree for the batch uploader.
	eventPath := filepath.Join(root, "aggregations", "events", "2025", "03", "14",
		"0BFD7754_CAN1_Speed_Speed_overspeed_00000001.parquet")
	if _, err := os.Stat(eventPath); err != nil {
		t.Errorf("event file not written: %v", err)
	}
}

func TestProcessSingleNotificationPerRun(t *testing.T) {
	root := t.TempDir()
	// Two files, each with a Start event.
	writeSignalFile(t, root, "0BFD7754", "CAN1_Speed", "2025/03/14", "00000001.parquet",
		[]int64{0, 1_000_000}, "Speed", []float64{0, 5})
	writeSignalFile(t, root, "0BFD7754", "CAN1_Speed", "2025/03/15", "00000002.parquet",
		[]int64{10_000_000, 11_000_000}, "Speed", []float64{0, 5})

	ix, err := lake.Scan(root)
	if err != nil {
		t.Fatal(err)
	}

	n := &countingNotifier{}
	p := &Processor{
		Manifest: overspeedManifest(),
		Notifier: n,
		Logger:   log.New(io.Discard, "", 0),
	}

	report, err := p.Process(context.Background(), ix)
	if err != nil {
		t.Fatal(err)
	}
	if report.FilesWritten != 2 {
		t.Fatalf("report = %+v, want 2 files", report)
	}
	if len(n.subjects) != 1 {
		t.Fatalf("expected a single notification across the run, got %d", len(n.subjects))
	}
}

func TestProcessMissingSignalSkipped(t *testing.T) {
	root := t.TempDir()
	writeSignalFile(t, root, "0BFD7754", "CAN1_Speed", "2025/03/14", "00000001.parquet",
		[]int64{0, 1_000_000}, "RPM", []float64{800, 4000})

	ix, err := lake.Scan(root)
	if err != nil {
		t.Fatal(err)
	}

	p := &Processor{
		Manifest: overspeedManifest(),
		Notifier: notifyDiscard{},
		Logger:   log.New(io.Discard, "", 0),
	}
	report, err := p.Process(context.Background(), ix)
	if err != nil {
		t.Fatal(err)
	}
	if report.FilesWritten != 0 || report.Notified {
		t.Errorf("missing trigger signal should yield nothing, got %+v", report)
	}
}

type notifyDiscard struct{}

func (notifyDiscard) Publish(ctx context.Context, subject, body string) error { return nil }
