package aggregate

import (
	"bytes"
	"context"
	"io"
	"log"
	"math"
	"testing"

	"github.com/canlake/canlake/pkg/cloudstore"
	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/table"
	"github.com/canlake/canlake/pkg/trip"
)

func TestApply(t *testing.T) {
	values := []float64{3, 1, 4, 1, 5}

	tests := []struct {
		name string
		typ  Type
		in   []float64
		want float64
	}{
		{"avg", Avg, values, 2.8},
		{"median odd", Median, values, 3},
		{"median even", Median, []float64{1, 2, 3, 4}, 2.5},
		{"max", Max, values, 5},
		{"min", Min, values, 1},
		{"sum", Sum, values, 14},
		{"first", First, values, 3},
		{"last", Last, values, 5},
		{"delta_sum", DeltaSum, values, 2},
		{"delta_sum_pos", DeltaSumPos, values, 7},
		{"delta_sum_neg", DeltaSumNeg, values, -5},
		{"count", Count, values, 5},
		{"delta_sum single", DeltaSum, []float64{7}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.typ.Apply(tt.in)
			if !ok {
				t.Fatal("Apply returned !ok")
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}

	if _, ok := Avg.Apply(nil); ok {
		t.Error("empty input should yield !ok")
	}
}

func TestParseType(t *testing.T) {
	typ, err := ParseType("delta_sum_pos")
	if err != nil || typ != DeltaSumPos {
		t.Errorf("ParseType(delta_sum_pos) = %v, %v", typ, err)
	}
	if _, err := ParseType("stddev"); err == nil {
		t.Error("unknown type should error")
	}
}

func TestTripID(t *testing.T) {
	// 2025-03-14 12:30:45.5 UTC.
	got := TripID("0BFD7754", 1741955445500000)
	want := "0BFD7754_20250314T123045.500000"
	if got != want {
		t.Errorf("TripID = %q, want %q", got, want)
	}
}

func TestTripRecordsDeterministic(t *testing.T) {
	tbl := table.New([]int64{0, 5_000_000, 10_000_000})
	if err := tbl.AddColumn("X", []float64{1, 2, 3}); err != nil {
		t.Fatal(err)
	}

	spec := manifest.AggregationSpec{
		Message:     "CAN1_M",
		Signal:      []string{"X"},
		Aggregation: []string{"avg", "count"},
	}
	window := trip.Window{Start: 0, End: 10_000_000}

	records := TripRecords("0BFD7754", "fleet", spec, window, tbl, Options{})
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2: %+v", len(records), records)
	}

	avg, count := records[0], records[1]
	if avg.Aggregation != "avg" || avg.SignalValue != 2.0 {
		t.Errorf("avg record = %+v", avg)
	}
	if count.Aggregation != "count" || count.SignalValue != 3 {
		t.Errorf("count record = %+v", count)
	}
	for _, r := range records {
		if r.SignalCount != 3 {
			t.Errorf("SignalCount = %d, want 3", r.SignalCount)
		}
		if r.Duration != 10 {
			t.Errorf("Duration = %v, want 10", r.Duration)
		}
		if r.TripID != avg.TripID {
			t.Errorf("records of one trip should share TripID, got %q and %q", r.TripID, avg.TripID)
		}
		if r.Cluster != "fleet" || r.DeviceID != "0BFD7754" || r.Message != "CAN1_M" {
			t.Errorf("identity fields wrong: %+v", r)
		}
	}
}

func TestTripRecordsMissingSignal(t *testing.T) {
	tbl := table.New([]int64{0, 1_000_000})
	if err := tbl.AddColumn("RPM", []float64{800, 900}); err != nil {
		t.Fatal(err)
	}

	spec := manifest.AggregationSpec{
		Message:     "CAN1_M",
		Signal:      []string{"Speed"},
		Aggregation: []string{"avg"},
	}
	records := TripRecords("0BFD7754", "fleet", spec, trip.Window{Start: 0, End: 1_000_000}, tbl, Options{})
	if len(records) != 0 {
		t.Errorf("missing signal should yield no records, got %+v", records)
	}
}

func TestTripRecordsEmptyWindow(t *testing.T) {
	tbl := table.New([]int64{0, 1_000_000})
	if err := tbl.AddColumn("Speed", []float64{10, 20}); err != nil {
		t.Fatal(err)
	}

	spec := manifest.AggregationSpec{
		Message:     "CAN1_M",
		Signal:      []string{"Speed"},
		Aggregation: []string{"avg"},
	}
	records := TripRecords("0BFD7754", "fleet", spec, trip.Window{Start: 5_000_000, End: 6_000_000}, tbl, Options{})
	if records != nil {
		t.Errorf("empty window should yield nil, got %+v", records)
	}
}

func TestTripRecordsUnknownTypeSkipped(t *testing.T) {
	tbl := table.New([]int64{0, 1_000_000})
	if err := tbl.AddColumn("Speed", []float64{10, 20}); err != nil {
		t.Fatal(err)
	}

	spec := manifest.AggregationSpec{
		Message:     "CAN1_M",
		Signal:      []string{"Speed"},
		Aggregation: []string{"stddev", "max"},
	}
	records := TripRecords("0BFD7754", "fleet", spec, trip.Window{Start: 0, End: 1_000_000}, tbl, Options{})
	if len(records) != 1 || records[0].Aggregation != "max" {
		t.Errorf("unknown type should skip its pair only, got %+v", records)
	}
}

func putTable(t *testing.T, store *cloudstore.MemoryStore, name string, times []int64, signal string, values []float64) {
	t.Helper()
	tbl := table.New(times)
	if err := tbl.AddColumn(signal, values); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := tbl.Write(&buf); err != nil {
		t.Fatal(err)
	}
	store.PutBytes(name, buf.Bytes())
}

func TestProcessorRun(t *testing.T) {
	store := cloudstore.NewMemoryStore()
	putTable(t, store, "0BFD7754/CAN1_Speed/2025/03/14/00000001.parquet",
		[]int64{1741910400000000, 1741910401000000, 1741910402000000},
		"Speed", []float64{10, 20, 30})

	m := &manifest.Aggregations{
		Config: manifest.AggregationsConfig{
			Date: manifest.DateConfig{
				Mode:      manifest.DateModeSpecificPeriod,
				StartDate: "2025-03-14",
				EndDate:   "2025-03-14",
			},
			Trip: manifest.TripConfig{TripGapMin: 10},
		},
		DeviceClusters: []manifest.DeviceCluster{{Cluster: "fleet", Devices: []string{"0BFD7754"}}},
		ClusterDetails: []manifest.ClusterDetails{{
			Clusters: []string{"fleet"},
			Details: manifest.Details{
				TripIdentifier: manifest.TripIdentifier{Message: "CAN1_Speed"},
				Aggregations: []manifest.AggregationSpec{{
					Message:     "CAN1_Speed",
					Signal:      []string{"Speed"},
					Aggregation: []string{"avg", "max"},
				}},
			},
		}},
	}
	if err := m.Validate(); err != nil {
		t.Fatal(err)
	}

	p := &Processor{
		Store:    store,
		Manifest: m,
		Logger:   log.New(io.Discard, "", 0),
	}
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.TotalDays != 1 || report.DaysProcessed != 1 || report.Records != 2 {
		t.Fatalf("report = %+v, want 1 day with 2 records", report)
	}

	objects, err := store.ListAll(context.Background(), "aggregations/tripsummary/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 1 || objects[0].Name != "aggregations/tripsummary/2025/03/14/20250314.parquet" {
		t.Errorf("output objects = %+v", objects)
	}
}

func TestProcessorRunNoData(t *testing.T) {
	m := &manifest.Aggregations{
		Config: manifest.AggregationsConfig{
			Date: manifest.DateConfig{
				Mode:      manifest.DateModeSpecificPeriod,
				StartDate: "2025-03-14",
				EndDate:   "2025-03-14",
			},
			Trip: manifest.TripConfig{TripGapMin: 10},
		},
		DeviceClusters: []manifest.DeviceCluster{{Cluster: "fleet", Devices: []string{"0BFD7754"}}},
		ClusterDetails: []manifest.ClusterDetails{{
			Clusters: []string{"fleet"},
			Details: manifest.Details{
				TripIdentifier: manifest.TripIdentifier{Message: "CAN1_Speed"},
			},
		}},
	}

	p := &Processor{
		Store:    cloudstore.NewMemoryStore(),
		Manifest: m,
		Logger:   log.New(io.Discard, "", 0),
	}
	report, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if report.DaysProcessed != 0 || report.Records != 0 {
		t.Errorf("report = %+v, want nothing processed", report)
	}
}

func TestDiscoverDevices(t *testing.T) {
	store := cloudstore.NewMemoryStore()
	store.PutBytes("0BFD7754/CAN1_Speed/2025/03/14/x.parquet", []byte{1})
	store.PutBytes("AABBCCDD/CAN1_Speed/2025/03/14/y.parquet", []byte{1})
	store.PutBytes("aggregations/tripsummary/2025/03/14/20250314.parquet", []byte{1})
	store.PutBytes("notadevice/file.parquet", []byte{1})

	devices, err := DiscoverDevices(context.Background(), store)
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 || devices[0] != "0BFD7754" || devices[1] != "AABBCCDD" {
		t.Errorf("devices = %v", devices)
	}
}
