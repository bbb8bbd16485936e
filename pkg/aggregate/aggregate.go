package aggregate

import (
	"time"

	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/table"
	"github.com/canlake/canlake/pkg/trip"
)

// Options tunes window statistics.
type Options struct {
	// StatsOverFullTable computes SignalCount and Duration over the
	// whole message table instead of the trip-filtered window.
	StatsOverFullTable bool
}

// TripRecords computes all requested aggregations of one message table
// for one trip window. Missing signals and empty filtered windows are
// skipped silently; unknown aggregation types are skipped per pair.
func TripRecords(deviceID, cluster string, spec manifest.AggregationSpec, window trip.Window, tbl *table.Table, opts Options) []Record {
	filtered := tbl.FilterWindow(window.Start, window.End)
	if filtered.Len() == 0 {
		return nil
	}

	statsTable := filtered
	if opts.StatsOverFullTable {
		statsTable = tbl
	}
	duration := windowDuration(statsTable)
	tripID := TripID(deviceID, window.Start)

	var records []Record
	for _, signal := range spec.Signal {
		col, ok := filtered.Column(signal)
		if !ok {
			continue
		}
		values := col.ValidValues()

		count := int64(len(values))
		if opts.StatsOverFullTable {
			if full, ok := statsTable.Column(signal); ok {
				count = int64(len(full.ValidValues()))
			}
		}

		for _, typeName := range spec.Aggregation {
			aggType, err := ParseType(typeName)
			if err != nil {
				continue
			}
			value, ok := aggType.Apply(values)
			if !ok {
				continue
			}
			records = append(records, Record{
				DeviceID:    deviceID,
				Message:     spec.Message,
				Signal:      signal,
				Aggregation: typeName,
				SignalValue: value,
				SignalCount: count,
				Duration:    duration,
				TripStart:   window.Start,
				TripEnd:     window.End,
				TripID:      tripID,
				Cluster:     cluster,
			})
		}
	}
	return records
}

// windowDuration is max−min timestamp of the table, in seconds.
func windowDuration(tbl *table.Table) float64 {
	if tbl.Len() == 0 {
		return 0
	}
	span := tbl.Time[tbl.Len()-1] - tbl.Time[0]
	return float64(span) / float64(time.Second/time.Microsecond)
}
