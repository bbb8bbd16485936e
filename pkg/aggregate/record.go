package aggregate

import (
	"fmt"
	"io"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// Record is one aggregated (signal, type) value for one trip.
type Record struct {
	DeviceID    string
	Message     string
	Signal      string
	Aggregation string
	SignalValue float64
	SignalCount int64
	Duration    float64 // seconds covered by the filtered window
	TripStart   int64   // µs
	TripEnd     int64   // µs
	TripID      string
	Cluster     string
}

// TripID builds the deterministic trip identifier from a device and a
// trip start timestamp.
func TripID(deviceID string, startMicros int64) string {
	return deviceID + "_" + time.UnixMicro(startMicros).UTC().Format("20060102T150405.000000")
}

// recordSchema is the fixed output schema of the trip summary table.
func recordSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "DeviceID", Type: arrow.BinaryTypes.String},
		{Name: "Message", Type: arrow.BinaryTypes.String},
		{Name: "Signal", Type: arrow.BinaryTypes.String},
		{Name: "Aggregation", Type: arrow.BinaryTypes.String},
		{Name: "SignalValue", Type: arrow.PrimitiveTypes.Float64},
		{Name: "SignalCount", Type: arrow.PrimitiveTypes.Int64},
		{Name: "Duration", Type: arrow.PrimitiveTypes.Float64},
		{Name: "TripStart", Type: arrow.FixedWidthTypes.Timestamp_us},
		{Name: "TripEnd", Type: arrow.FixedWidthTypes.Timestamp_us},
		{Name: "TripID", Type: arrow.BinaryTypes.String},
		{Name: "Cluster", Type: arrow.BinaryTypes.String},
	}, nil)
}

// WriteRecords encodes one day's records as a Parquet file.
func WriteRecords(w io.Writer, records []Record) error {
	schema := recordSchema()

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, w, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	builder := array.NewRecordBuilder(memory.NewGoAllocator(), schema)
	defer builder.Release()

	for _, r := range records {
		builder.Field(0).(*array.StringBuilder).Append(r.DeviceID)
		builder.Field(1).(*array.StringBuilder).Append(r.Message)
		builder.Field(2).(*array.StringBuilder).Append(r.Signal)
		builder.Field(3).(*array.StringBuilder).Append(r.Aggregation)
		builder.Field(4).(*array.Float64Builder).Append(r.SignalValue)
		builder.Field(5).(*array.Int64Builder).Append(r.SignalCount)
		builder.Field(6).(*array.Float64Builder).Append(r.Duration)
		builder.Field(7).(*array.TimestampBuilder).Append(arrow.Timestamp(r.TripStart))
		builder.Field(8).(*array.TimestampBuilder).Append(arrow.Timestamp(r.TripEnd))
		builder.Field(9).(*array.StringBuilder).Append(r.TripID)
		builder.Field(10).(*array.StringBuilder).Append(r.Cluster)
	}

	record := builder.NewRecord()
	defer record.Release()

	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}
	return writer.Close()
}

// OutputPath builds the dated object path for one day's results.
func OutputPath(folder, table string, day time.Time) string {
	return fmt.Sprintf("%s/%s/%s/%s.parquet",
		folder, table, day.Format("2006/01/02"), day.Format("20060102"))
}
