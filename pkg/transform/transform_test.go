package transform

import (
	"io"
	"log"
	"math"
	"testing"

	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/table"
)

func TestHaversine(t *testing.T) {
	// Copenhagen to Aarhus, roughly 157 km.
	d := Haversine(55.6761, 12.5683, 56.1629, 10.2039)
	if math.Abs(d-157) > 5 {
		t.Errorf("Haversine = %v km, want ~157", d)
	}
	if d := Haversine(55.0, 10.0, 55.0, 10.0); d != 0 {
		t.Errorf("zero distance = %v", d)
	}
}

func TestCheckGeofence(t *testing.T) {
	fences := []manifest.Geofence{
		{ID: 1, Name: "depot", Latitude: 55.0, Longitude: 10.0, Radius: 1},
		{ID: 2, Name: "wide", Latitude: 55.0, Longitude: 10.0, Radius: 100},
	}

	// Inside both: first match wins.
	if id := CheckGeofence(55.0, 10.0, fences); id != 1 {
		t.Errorf("got id %v, want 1", id)
	}
	// Inside only the wide fence.
	if id := CheckGeofence(55.5, 10.0, fences); id != 2 {
		t.Errorf("got id %v, want 2", id)
	}
	// Far away: sentinel no-match.
	if id := CheckGeofence(0, 0, fences); id != 0 {
		t.Errorf("got id %v, want 0", id)
	}
}

func TestDeltaDistance(t *testing.T) {
	tbl := table.New([]int64{0, 1, 2, 3})
	tbl.AddColumn("DistanceTrip", []float64{100, 110, 125, 130})
	tbl.AddColumn("Speed", []float64{10, 25, 30, 15})
	tbl.AddColumn("SpeedValid", []float64{1, 1, 0, 1})

	p := &Processor{Logger: log.New(io.Discard, "", 0)}
	out, err := p.Apply(FuncDeltaDistance, tbl)
	if err != nil {
		t.Fatal(err)
	}

	// Row 0 has no predecessor and is dropped.
	if out.Len() != 3 {
		t.Fatalf("got %d rows, want 3", out.Len())
	}

	delta, _ := out.Column("DeltaDistance")
	if delta.Values[0] != 10 || delta.Values[1] != 15 || delta.Values[2] != 5 {
		t.Errorf("DeltaDistance = %v", delta.Values)
	}

	high, _ := out.Column("DeltaDistanceHighSpeed")
	low, _ := out.Column("DeltaDistanceLowSpeed")
	// t=1: speed 25 valid -> high. t=2: SpeedValid=0 -> neither.
	// t=3: speed 15 valid -> low.
	if !high.Valid[0] || high.Values[0] != 10 {
		t.Errorf("high[0] = %v valid=%v", high.Values[0], high.Valid[0])
	}
	if high.Valid[1] || low.Valid[1] {
		t.Error("gated rows should be null when SpeedValid is 0")
	}
	if !low.Valid[2] || low.Values[2] != 5 {
		t.Errorf("low[2] = %v valid=%v", low.Values[2], low.Valid[2])
	}
}

func TestGeofenceMembershipFunction(t *testing.T) {
	tbl := table.New([]int64{0, 1})
	tbl.AddColumnWithValidity("Latitude", []float64{55.0, 0}, []bool{true, false})
	tbl.AddColumnWithValidity("Longitude", []float64{10.0, 0}, []bool{true, false})

	p := &Processor{
		Logger:    log.New(io.Discard, "", 0),
		Geofences: []manifest.Geofence{{ID: 7, Latitude: 55.0, Longitude: 10.0, Radius: 1}},
	}
	out, err := p.Apply(FuncCustomGeofence, tbl)
	if err != nil {
		t.Fatal(err)
	}

	// The all-null row drops; the matched row carries the fence id.
	if out.Len() != 1 {
		t.Fatalf("got %d rows, want 1", out.Len())
	}
	ids, _ := out.Column("GeofenceId")
	if ids.Values[0] != 7 {
		t.Errorf("GeofenceId = %v, want 7", ids.Values[0])
	}
}

func TestApplyUnknownFunction(t *testing.T) {
	p := &Processor{Logger: log.New(io.Discard, "", 0)}
	if _, err := p.Apply("combine_dtcs_v2", table.New(nil)); err == nil {
		t.Fatal("expected error for unknown function")
	}
}

func TestApplyResamplePassThrough(t *testing.T) {
	tbl := table.New([]int64{0})
	tbl.AddColumn("v", []float64{1})

	p := &Processor{Logger: log.New(io.Discard, "", 0)}
	out, err := p.Apply(FuncResample, tbl)
	if err != nil {
		t.Fatal(err)
	}
	if out != tbl {
		t.Error("resample should pass the table through unchanged")
	}
}
