package aggregate

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"github.com/canlake/canlake/pkg/canerr"
	"github.com/canlake/canlake/pkg/cloudstore"
	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/table"
	"github.com/canlake/canlake/pkg/trip"
)

var deviceIDRe = regexp.MustCompile(`^[0-9A-F]{8}$`)

// Processor runs trip aggregation over the decoded data lake for the
// manifest's date range and writes one trip summary file per day.
type Processor struct {
	Store    cloudstore.ObjectStore
	Manifest *manifest.Aggregations
	Logger   *log.Logger

	// Folder and Table name the output location; defaults are
	// "aggregations" and "tripsummary".
	Folder string
	Table  string

	// Workers bounds concurrent (device, day) units.
	Workers int

	// TimeColumn overrides time-column auto-detection.
	TimeColumn string

	Opts   Options
	Tracer trace.Tracer
}

// RunReport summarizes one aggregation run.
type RunReport struct {
	TotalDays     int
	DaysProcessed int
	Records       int
}

func (p *Processor) defaults() {
	if p.Folder == "" {
		p.Folder = "aggregations"
	}
	if p.Table == "" {
		p.Table = "tripsummary"
	}
	if p.Workers <= 0 {
		p.Workers = 4
	}
	if p.Tracer == nil {
		p.Tracer = noop.NewTracerProvider().Tracer("")
	}
}

// Run processes every day in the manifest's date range. Per-unit
// failures are logged and skipped; only context cancellation aborts.
func (p *Processor) Run(ctx context.Context) (RunReport, error) {
	p.defaults()

	days, err := p.Manifest.Config.Date.Days(time.Now())
	if err != nil {
		return RunReport{}, err
	}

	report := RunReport{TotalDays: len(days)}
	for i, day := range days {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		p.Logger.Printf("processing date %d/%d: %s", i+1, len(days), day.Format("2006-01-02"))

		records, err := p.processDay(ctx, day)
		if err != nil {
			return report, err
		}
		if len(records) == 0 {
			p.Logger.Printf("no data extracted for %s", day.Format("2006-01-02"))
			continue
		}

		if err := p.writeDay(ctx, day, records); err != nil {
			p.Logger.Printf("storage error writing %s, day skipped: %v", day.Format("2006-01-02"), err)
			continue
		}
		report.DaysProcessed++
		report.Records += len(records)
	}

	p.Logger.Printf("stored %d days with data across %d days", report.DaysProcessed, report.TotalDays)
	return report, nil
}

type unit struct {
	cluster string
	details manifest.Details
	device  string
}

// processDay fans (device, cluster) units for one day over the worker
// pool. Each worker accumulates locally; results merge after the wait.
func (p *Processor) processDay(ctx context.Context, day time.Time) ([]Record, error) {
	ctx, span := p.Tracer.Start(ctx, "aggregate.day",
		trace.WithAttributes(attribute.String("day", day.Format("2006-01-02"))))
	defer span.End()

	var units []unit
	for _, dc := range p.Manifest.DeviceClusters {
		details, ok := p.Manifest.DetailsFor(dc.Cluster)
		if !ok {
			p.Logger.Printf("cluster %s has no details, skipping", dc.Cluster)
			continue
		}
		for _, device := range dc.Devices {
			units = append(units, unit{cluster: dc.Cluster, details: details, device: device})
		}
	}

	results := make([][]Record, len(units))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.Workers)

	for i, u := range units {
		i, u := i, u
		g.Go(func() error {
			results[i] = p.processDevice(gctx, u, day)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Record
	for _, r := range results {
		merged = append(merged, r...)
	}
	return merged, nil
}

// processDevice computes all trip records for one (device, day) unit.
// Every failure inside the unit is logged and yields empty results.
func (p *Processor) processDevice(ctx context.Context, u unit, day time.Time) []Record {
	ctx, span := p.Tracer.Start(ctx, "aggregate.device",
		trace.WithAttributes(attribute.String("device", u.device)))
	defer span.End()

	datePath := day.Format("2006/01/02")

	tripMessage := u.details.TripIdentifier.Message
	tripTable, err := p.loadMessage(ctx, u.device, tripMessage, datePath)
	if err != nil {
		p.logUnitError(u.device, tripMessage, err)
		return nil
	}
	if tripTable == nil {
		return nil
	}

	windows := trip.Segment(tripTable.Time,
		p.Manifest.Config.Trip.Gap(), p.Manifest.Config.Trip.MinLength())
	if len(windows) == 0 {
		return nil
	}

	var records []Record
	for _, spec := range u.details.Aggregations {
		tbl := tripTable
		if spec.Message != tripMessage {
			tbl, err = p.loadMessage(ctx, u.device, spec.Message, datePath)
			if err != nil {
				p.logUnitError(u.device, spec.Message, err)
				continue
			}
		}
		if tbl == nil {
			p.Logger.Printf("no parquet files for %s/%s on %s, skipping", u.device, spec.Message, datePath)
			continue
		}
		for _, window := range windows {
			records = append(records, TripRecords(u.device, u.cluster, spec, window, tbl, p.Opts)...)
		}
	}
	return records
}

// loadMessage lists, fetches and stacks every Parquet file of one
// message directory for a day. Returns (nil, nil) when no files exist.
func (p *Processor) loadMessage(ctx context.Context, device, message, datePath string) (*table.Table, error) {
	prefix := device + "/" + message + "/" + datePath + "/"
	objects, err := p.Store.ListAll(ctx, prefix)
	if err != nil {
		return nil, canerr.E(canerr.KindStorage, "aggregate.list", err)
	}

	var tables []*table.Table
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, ".parquet") {
			continue
		}
		tbl, err := p.fetchTable(ctx, obj.Name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, tbl)
	}
	if len(tables) == 0 {
		return nil, nil
	}
	if len(tables) == 1 {
		return tables[0], nil
	}
	return table.Stack(tables...), nil
}

func (p *Processor) fetchTable(ctx context.Context, objectPath string) (*table.Table, error) {
	r, err := p.Store.Get(ctx, objectPath)
	if err != nil {
		return nil, canerr.E(canerr.KindStorage, "aggregate.get", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, canerr.E(canerr.KindStorage, "aggregate.read", err)
	}

	tbl, err := table.Read(ctx, bytes.NewReader(data), int64(len(data)), table.ReadOptions{TimeColumn: p.TimeColumn})
	if err != nil {
		return nil, canerr.E(canerr.KindData, "aggregate.decode "+objectPath, err)
	}
	return tbl, nil
}

func (p *Processor) logUnitError(device, message string, err error) {
	if canerr.Is(err, canerr.KindData) {
		p.Logger.Printf("data error for %s/%s, unit skipped: %v", device, message, err)
	} else {
		p.Logger.Printf("storage error for %s/%s, unit yields empty results: %v", device, message, err)
	}
}

// writeDay encodes and uploads one day's records.
func (p *Processor) writeDay(ctx context.Context, day time.Time, records []Record) error {
	var buf bytes.Buffer
	if err := WriteRecords(&buf, records); err != nil {
		return fmt.Errorf("failed to encode day results: %w", err)
	}

	path := OutputPath(p.Folder, p.Table, day)
	if err := p.Store.Put(ctx, path, &buf); err != nil {
		return canerr.E(canerr.KindStorage, "aggregate.upload", err)
	}
	p.Logger.Printf("stored aggregation parquet | %d rows | %s", len(records), path)
	return nil
}

// DiscoverDevices lists the lake root and returns every top-level
// prefix that is a valid device ID.
func DiscoverDevices(ctx context.Context, lister cloudstore.Lister) ([]string, error) {
	objects, err := lister.ListAll(ctx, "")
	if err != nil {
		return nil, canerr.E(canerr.KindStorage, "aggregate.discover", err)
	}

	seen := make(map[string]bool)
	var devices []string
	for _, obj := range objects {
		head, _, ok := strings.Cut(strings.TrimPrefix(obj.Name, "/"), "/")
		if !ok {
			continue
		}
		if deviceIDRe.MatchString(head) && !seen[head] {
			seen[head] = true
			devices = append(devices, head)
		}
	}
	return devices, nil
}
