// Package transform derives synthetic messages from decoded ones per
// the custom-messages manifest. Each derived table is written back
// into the decoded tree under the custom message name, so downstream
// stages treat it like any other message.
package transform

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/canlake/canlake/pkg/canerr"
	"github.com/canlake/canlake/pkg/lake"
	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/table"
)

// Function identifiers supported by Apply.
const (
	FuncResample       = "resample"
	FuncDeltaDistance  = "delta_distance"
	FuncCustomGeofence = "custom_geofences"
)

// Processor derives custom messages over a decoded tree.
type Processor struct {
	Messages   []manifest.CustomMessage
	Geofences  []manifest.Geofence
	Logger     *log.Logger
	TimeColumn string
}

// Report summarizes one transform pass.
type Report struct {
	FilesWritten int
}

// Process applies every custom message to each matching file in the
// tree. Per-unit failures are logged and skipped.
func (p *Processor) Process(ctx context.Context, ix *lake.Index) (Report, error) {
	var report Report

	for i, cm := range p.Messages {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p.Logger.Printf("processing custom message %d/%d: %s", i+1, len(p.Messages), cm.CustomMessageName)

		for _, messages := range p.messageUnits(ix, cm) {
			for _, key := range ix.Keys() {
				if !hasAll(ix, key, messages) {
					continue
				}

				derived, err := p.deriveTable(ctx, ix, key, messages, cm)
				if err != nil {
					p.Logger.Printf("data error for %v, skipping: %v", key, err)
					continue
				}
				if derived == nil || derived.Len() == 0 {
					continue
				}

				path := filepath.Join(ix.Root(), key.Device, cm.CustomMessageName, filepath.FromSlash(key.Date), key.FileName)
				if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
					p.Logger.Printf("failed to create output dir for %v: %v", key, err)
					continue
				}
				if err := derived.WriteFile(path); err != nil {
					p.Logger.Printf("failed to write custom parquet for %v: %v", key, err)
					continue
				}
				p.Logger.Printf("wrote custom parquet file to %s", path)
				report.FilesWritten++
			}
		}
	}
	return report, nil
}

// messageUnits resolves a custom message's filter. Unlike events, each
// list is one unit: its messages combine into a single derived table.
func (p *Processor) messageUnits(ix *lake.Index, cm manifest.CustomMessage) [][]string {
	switch cm.MessagesMatchType {
	case manifest.MatchContains:
		if matches := ix.MessagesMatching(cm.MessagesFilteredList.Pattern); len(matches) > 0 {
			return [][]string{matches}
		}
		return nil
	case manifest.MatchAllMessages:
		if names := ix.MessageNames(); len(names) > 0 {
			return [][]string{names}
		}
		return nil
	default:
		return cm.MessagesFilteredList.Lists
	}
}

func hasAll(ix *lake.Index, key lake.FileKey, messages []string) bool {
	for _, m := range messages {
		if !ix.HasMessage(key, m) {
			return false
		}
	}
	return len(messages) > 0
}

// deriveTable loads and combines the unit's source tables, then
// applies the custom function.
func (p *Processor) deriveTable(ctx context.Context, ix *lake.Index, key lake.FileKey, messages []string, cm manifest.CustomMessage) (*table.Table, error) {
	raster, err := manifest.ParseRaster(cm.Raster)
	if err != nil {
		return nil, err
	}

	var tables []*table.Table
	for _, message := range messages {
		tbl, err := table.ReadFile(ctx, ix.FilePath(key, message), table.ReadOptions{TimeColumn: p.TimeColumn})
		if err != nil {
			return nil, canerr.E(canerr.KindData, "transform.read", err)
		}
		if cm.Prefix {
			tbl = prefixColumns(tbl, message)
		}
		tables = append(tables, tbl)
	}

	var combined *table.Table
	if raster == 0 {
		combined = table.Stack(tables...)
	} else {
		combined = table.AlignInner(raster.Microseconds(), tables...)
	}

	return p.Apply(cm.Function, combined)
}

// Apply runs one transform function over a combined table.
func (p *Processor) Apply(function string, tbl *table.Table) (*table.Table, error) {
	switch function {
	case FuncResample:
		return tbl, nil
	case FuncDeltaDistance:
		return deltaDistance(tbl)
	case FuncCustomGeofence:
		return p.geofenceMembership(tbl)
	default:
		return nil, canerr.E(canerr.KindData, "transform.apply", fmt.Errorf("unknown custom function %q", function))
	}
}

// deltaDistance derives a trip-distance delta plus two speed-gated
// variants from DistanceTrip, Speed and SpeedValid.
func deltaDistance(tbl *table.Table) (*table.Table, error) {
	distance, ok := tbl.Column("DistanceTrip")
	if !ok {
		return nil, canerr.E(canerr.KindData, "transform.delta_distance", fmt.Errorf("missing DistanceTrip column"))
	}
	speed, hasSpeed := tbl.Column("Speed")
	speedValid, hasSpeedValid := tbl.Column("SpeedValid")
	if !hasSpeed || !hasSpeedValid {
		return nil, canerr.E(canerr.KindData, "transform.delta_distance", fmt.Errorf("missing Speed/SpeedValid columns"))
	}

	n := tbl.Len()
	delta := make([]float64, n)
	deltaValid := make([]bool, n)
	high := make([]float64, n)
	highValid := make([]bool, n)
	low := make([]float64, n)
	lowValid := make([]bool, n)

	for i := 1; i < n; i++ {
		if !distance.Valid[i] || !distance.Valid[i-1] {
			continue
		}
		d := distance.Values[i] - distance.Values[i-1]
		delta[i] = d
		deltaValid[i] = true

		gated := speed.Valid[i] && speedValid.Valid[i] && speedValid.Values[i] == 1
		if gated && speed.Values[i] > 20 {
			high[i] = d
			highValid[i] = true
		}
		if gated && speed.Values[i] <= 20 {
			low[i] = d
			lowValid[i] = true
		}
	}

	out := table.New(tbl.Time)
	out.AddColumnWithValidity("DeltaDistance", delta, deltaValid)
	out.AddColumnWithValidity("DeltaDistanceHighSpeed", high, highValid)
	out.AddColumnWithValidity("DeltaDistanceLowSpeed", low, lowValid)
	return out.DropAllNullRows(), nil
}

// geofenceMembership derives a GeofenceId signal: the first matching
// fence id per row, 0 when no fence matches.
func (p *Processor) geofenceMembership(tbl *table.Table) (*table.Table, error) {
	lat, okLat := tbl.Column("Latitude")
	lon, okLon := tbl.Column("Longitude")
	if !okLat || !okLon {
		return nil, canerr.E(canerr.KindData, "transform.custom_geofences", fmt.Errorf("missing Latitude/Longitude columns"))
	}
	if len(p.Geofences) == 0 {
		return nil, canerr.E(canerr.KindConfig, "transform.custom_geofences", fmt.Errorf("no geofences loaded"))
	}

	n := tbl.Len()
	ids := make([]float64, n)
	valid := make([]bool, n)
	for i := 0; i < n; i++ {
		if !lat.Valid[i] || !lon.Valid[i] {
			continue
		}
		ids[i] = CheckGeofence(lat.Values[i], lon.Values[i], p.Geofences)
		valid[i] = true
	}

	out := table.New(tbl.Time)
	out.AddColumnWithValidity("GeofenceId", ids, valid)
	return out.DropAllNullRows(), nil
}

func prefixColumns(tbl *table.Table, message string) *table.Table {
	out := table.New(tbl.Time)
	for _, c := range tbl.Columns() {
		out.AddColumnWithValidity(message+"_"+c.Name, c.Values, c.Valid)
	}
	return out
}
