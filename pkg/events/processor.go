package events

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/canlake/canlake/pkg/lake"
	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/notify"
	"github.com/canlake/canlake/pkg/table"
)

// Processor runs every configured event over a decoded tree and writes
// event Parquet files under aggregations/events/. One notification is
// dispatched per processing run at most, on the first Start record.
type Processor struct {
	Manifest   *manifest.Events
	Notifier   notify.Notifier
	Logger     *log.Logger
	TimeColumn string

	notified bool
}

// Report summarizes one detection pass.
type Report struct {
	FilesWritten int
	Records      int
	Notified     bool
}

// Process detects all events in the decoded tree rooted at ix. Unit
// failures (unreadable file, missing signal) are logged and skipped.
func (p *Processor) Process(ctx context.Context, ix *lake.Index) (Report, error) {
	var report Report
	general := p.Manifest.General

	for i, spec := range p.Manifest.Events {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p.Logger.Printf("processing event %d/%d: %s", i+1, len(p.Manifest.Events), spec.EventName)

		for _, message := range p.messageUnits(ix, spec) {
			for _, key := range ix.Keys() {
				messages := p.resolveMessages(ix, key, message)
				if len(messages) == 0 {
					continue
				}

				tbl, err := p.loadMessages(ctx, ix, key, messages, spec, general)
				if err != nil {
					p.Logger.Printf("data error for %v, skipping: %v", key, err)
					continue
				}
				if tbl == nil || tbl.Len() == 0 {
					continue
				}

				for _, signal := range spec.TriggerSignals {
					records := p.detectSignal(tbl, spec, signal, key.Device, messages[0], general)
					if len(records) == 0 {
						continue
					}

					if err := p.writeRecords(ix, key, messages[0], signal, spec.EventName, records); err != nil {
						p.Logger.Printf("failed to write event file for %v: %v", key, err)
						continue
					}
					report.FilesWritten++
					report.Records += len(records)

					p.maybeNotify(ctx, spec.EventName, key, messages, general, records)
				}
			}
		}
	}

	report.Notified = p.notified
	return report, nil
}

// messageUnits resolves the spec's message filter against the tree.
// Each unit is evaluated independently, one message at a time.
func (p *Processor) messageUnits(ix *lake.Index, spec manifest.EventSpec) []string {
	switch spec.MessagesMatchType {
	case manifest.MatchContains:
		return ix.MessagesMatching(spec.MessagesFilteredList.Pattern)
	case manifest.MatchAllMessages:
		return []string{"ALL"}
	default: // equals
		if len(spec.MessagesFilteredList.Lists) == 0 {
			return nil
		}
		return spec.MessagesFilteredList.Lists[0]
	}
}

func (p *Processor) resolveMessages(ix *lake.Index, key lake.FileKey, message string) []string {
	if message == "ALL" {
		return ix.MessagesFor(key)
	}
	if ix.HasMessage(key, message) {
		return []string{message}
	}
	return nil
}

// loadMessages loads the unit's message tables plus, when configured,
// the first available GPS message, combined per the raster rule: stack
// without a raster, inner-align with one.
func (p *Processor) loadMessages(ctx context.Context, ix *lake.Index, key lake.FileKey, messages []string, spec manifest.EventSpec, general manifest.EventGeneral) (*table.Table, error) {
	raster, err := manifest.ParseRaster(spec.Raster)
	if err != nil {
		return nil, err
	}

	var tables []*table.Table
	for _, message := range messages {
		tbl, err := table.ReadFile(ctx, ix.FilePath(key, message), table.ReadOptions{TimeColumn: p.TimeColumn})
		if err != nil {
			return nil, err
		}
		tables = append(tables, tbl)
	}

	if general.IncludeGPSData {
		for _, gpsMessage := range general.MessagesGPS {
			if !ix.HasMessage(key, gpsMessage) {
				continue
			}
			tbl, err := table.ReadFile(ctx, ix.FilePath(key, gpsMessage), table.ReadOptions{TimeColumn: p.TimeColumn})
			if err == nil {
				tables = append(tables, tbl)
			}
			break
		}
	}

	if raster == 0 {
		return table.Stack(tables...), nil
	}
	return table.AlignInner(raster.Microseconds(), tables...), nil
}

// detectSignal runs edge detection for one trigger signal and builds
// the event records, carrying GPS coordinates when present.
func (p *Processor) detectSignal(tbl *table.Table, spec manifest.EventSpec, signal, device, message string, general manifest.EventGeneral) []Record {
	col, ok := tbl.Column(signal)
	if !ok {
		return nil
	}

	edges := DetectEdges(col.Values, col.Valid, Threshold{
		Lower:         spec.LowerThreshold,
		Upper:         spec.UpperThreshold,
		ExactMatch:    spec.ExactMatch,
		RisingAsStart: spec.RisingAsStart,
	})
	if len(edges) == 0 {
		return nil
	}

	var lat, lon table.Column
	var hasGPS bool
	if general.IncludeGPSData {
		latCol, okLat := tbl.Column(general.SignalLatitude)
		lonCol, okLon := tbl.Column(general.SignalLongitude)
		if okLat && okLon {
			lat, lon, hasGPS = latCol, lonCol, true
		}
	}

	records := make([]Record, 0, len(edges))
	for _, edge := range edges {
		ts := tbl.Time[edge.Index]
		r := Record{
			Timestamp:   ts,
			EventName:   spec.EventName,
			DeviceID:    device,
			EventID:     EventID(spec.EventName, device, ts),
			Message:     message,
			Signal:      signal,
			EventType:   edge.Type,
			SignalValue: col.Values[edge.Index],
		}
		if hasGPS {
			if lat.Valid[edge.Index] {
				v := lat.Values[edge.Index]
				r.Latitude = &v
			}
			if lon.Valid[edge.Index] {
				v := lon.Values[edge.Index]
				r.Longitude = &v
			}
		}
		records = append(records, r)
	}

	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })
	return records
}

// writeRecords stores one signal's events inside the decoded tree so
// the batch uploader ships them with the rest of the output.
func (p *Processor) writeRecords(ix *lake.Index, key lake.FileKey, message, signal, eventName string, records []Record) error {
	name := fmt.Sprintf("%s_%s_%s_%s_%s", key.Device, message, signal, eventName, key.FileName)
	path := filepath.Join(ix.Root(), "aggregations", "events", filepath.FromSlash(key.Date), name)

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteRecords(f, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	p.Logger.Printf("wrote event parquet file to %s", path)
	return nil
}

// maybeNotify dispatches the run's single notification on the first
// Start record. Publish failures are logged and swallowed.
func (p *Processor) maybeNotify(ctx context.Context, eventName string, key lake.FileKey, messages []string, general manifest.EventGeneral, records []Record) {
	if p.notified {
		return
	}
	for _, r := range records {
		if r.EventType != Start {
			continue
		}
		ts := time.UnixMicro(r.Timestamp).UTC().Format("2006-01-02 15:04:05")
		subject := fmt.Sprintf("- EVENT: %s | %s | %s", eventName, key.Device, ts)
		body := fmt.Sprintf("%s was triggered. %s\n\nDetails:\n- device: %s\n- message(s): %v\n- file: %s\n- time: %s",
			eventName, general.StaticBodyContent, key.Device, messages, key.FileName, ts)

		if err := p.Notifier.Publish(ctx, subject, body); err != nil {
			p.Logger.Printf("error publishing notification: %v", err)
		}
		p.notified = true
		return
	}
}
