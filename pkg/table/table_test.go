package table

import (
	"bytes"
	"context"
	"testing"
)

func TestFilterWindow(t *testing.T) {
	tbl := New([]int64{0, 10, 20, 30, 40})
	if err := tbl.AddColumn("Speed", []float64{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}

	got := tbl.FilterWindow(10, 30)
	if got.Len() != 3 {
		t.Fatalf("got %d rows, want 3", got.Len())
	}
	if got.Time[0] != 10 || got.Time[2] != 30 {
		t.Errorf("window boundaries not inclusive: %v", got.Time)
	}
	c, _ := got.Column("Speed")
	if c.Values[0] != 2 || c.Values[2] != 4 {
		t.Errorf("column values not sliced with time: %v", c.Values)
	}

	if empty := tbl.FilterWindow(100, 200); empty.Len() != 0 {
		t.Errorf("expected empty window, got %d rows", empty.Len())
	}
}

func TestSortStable(t *testing.T) {
	tbl := New([]int64{30, 10, 20})
	if err := tbl.AddColumn("v", []float64{3, 1, 2}); err != nil {
		t.Fatal(err)
	}
	tbl.Sort()

	c, _ := tbl.Column("v")
	for i, want := range []float64{1, 2, 3} {
		if c.Values[i] != want {
			t.Errorf("row %d: got %v, want %v", i, c.Values[i], want)
		}
	}
}

func TestStackUnionsColumns(t *testing.T) {
	a := New([]int64{0, 20})
	a.AddColumn("Speed", []float64{10, 30})
	b := New([]int64{10})
	b.AddColumn("RPM", []float64{2000})

	out := Stack(a, b)
	if out.Len() != 3 {
		t.Fatalf("got %d rows, want 3", out.Len())
	}
	if out.Time[0] != 0 || out.Time[1] != 10 || out.Time[2] != 20 {
		t.Errorf("not sorted by time: %v", out.Time)
	}

	speed, _ := out.Column("Speed")
	if !speed.Valid[0] || speed.Valid[1] || !speed.Valid[2] {
		t.Errorf("speed validity wrong: %v", speed.Valid)
	}
	rpm, _ := out.Column("RPM")
	if rpm.Valid[0] || !rpm.Valid[1] || rpm.Valid[2] {
		t.Errorf("rpm validity wrong: %v", rpm.Valid)
	}
}

func TestAlignInner(t *testing.T) {
	// One-second raster; second table has no sample in the last bucket.
	a := New([]int64{0, 1_000_000, 2_000_000})
	a.AddColumn("Lat", []float64{55.0, 55.1, 55.2})
	b := New([]int64{100_000, 1_100_000})
	b.AddColumn("Speed", []float64{10, 20})

	out := AlignInner(1_000_000, a, b)
	if out.Len() != 2 {
		t.Fatalf("got %d rows, want 2", out.Len())
	}
	lat, _ := out.Column("Lat")
	speed, _ := out.Column("Speed")
	if lat.Values[1] != 55.1 || speed.Values[1] != 20 {
		t.Errorf("aligned values wrong: lat=%v speed=%v", lat.Values, speed.Values)
	}
}

func TestResampleKeepsLastPerBucket(t *testing.T) {
	tbl := New([]int64{0, 400_000, 900_000, 1_200_000})
	tbl.AddColumn("v", []float64{1, 2, 3, 4})

	out := tbl.Resample(1_000_000)
	if out.Len() != 2 {
		t.Fatalf("got %d rows, want 2", out.Len())
	}
	c, _ := out.Column("v")
	if c.Values[0] != 3 || c.Values[1] != 4 {
		t.Errorf("expected last value per bucket, got %v", c.Values)
	}
}

func TestDropAllNullRows(t *testing.T) {
	tbl := New([]int64{0, 1, 2})
	tbl.AddColumnWithValidity("a", []float64{1, 0, 3}, []bool{true, false, true})
	tbl.AddColumnWithValidity("b", []float64{0, 0, 9}, []bool{false, false, true})

	out := tbl.DropAllNullRows()
	if out.Len() != 2 {
		t.Fatalf("got %d rows, want 2", out.Len())
	}
	if out.Time[0] != 0 || out.Time[1] != 2 {
		t.Errorf("wrong rows kept: %v", out.Time)
	}
}

func TestParquetRoundTrip(t *testing.T) {
	tbl := New([]int64{1_000_000, 2_000_000, 3_000_000})
	tbl.AddColumn("Speed", []float64{10, 20, 30})
	tbl.AddColumnWithValidity("RPM", []float64{800, 0, 1200}, []bool{true, false, true})

	var buf bytes.Buffer
	if err := tbl.Write(&buf); err != nil {
		t.Fatal(err)
	}

	got, err := Read(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), ReadOptions{})
	if err != nil {
		t.Fatal(err)
	}

	if got.Len() != 3 {
		t.Fatalf("got %d rows, want 3", got.Len())
	}
	for i, ts := range []int64{1_000_000, 2_000_000, 3_000_000} {
		if got.Time[i] != ts {
			t.Errorf("time %d: got %d, want %d", i, got.Time[i], ts)
		}
	}
	rpm, ok := got.Column("RPM")
	if !ok {
		t.Fatal("RPM column missing")
	}
	if rpm.Valid[1] {
		t.Error("null survived round trip as valid")
	}
	if rpm.Values[2] != 1200 {
		t.Errorf("RPM[2] = %v, want 1200", rpm.Values[2])
	}
}

func TestReadExplicitTimeColumnMissing(t *testing.T) {
	tbl := New([]int64{0})
	tbl.AddColumn("v", []float64{1})

	var buf bytes.Buffer
	if err := tbl.Write(&buf); err != nil {
		t.Fatal(err)
	}

	_, err := Read(context.Background(), bytes.NewReader(buf.Bytes()), int64(buf.Len()), ReadOptions{TimeColumn: "TimeStamp"})
	if err == nil {
		t.Fatal("expected error for missing configured time column")
	}
}
