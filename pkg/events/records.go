package events

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

// Record is one detected event with its metadata row.
type Record struct {
	Timestamp   int64 // µs
	EventName   string
	DeviceID    string
	EventID     string
	Message     string
	Signal      string
	EventType   EventType
	SignalValue float64

	// GPS join results; nil when no GPS data was available.
	Latitude  *float64
	Longitude *float64
}

// EventID builds the deterministic event identifier.
func EventID(eventName, deviceID string, tsMicros int64) string {
	return fmt.Sprintf("%s_%s_%s", eventName, deviceID,
		time.UnixMicro(tsMicros).UTC().Format("20060102T150405"))
}

func recordSchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "t", Type: arrow.FixedWidthTypes.Timestamp_us},
		{Name: "EventName", Type: arrow.BinaryTypes.String},
		{Name: "DeviceID", Type: arrow.BinaryTypes.String},
		{Name: "EventId", Type: arrow.BinaryTypes.String},
		{Name: "Message", Type: arrow.BinaryTypes.String},
		{Name: "Signal", Type: arrow.BinaryTypes.String},
		{Name: "EventType", Type: arrow.BinaryTypes.String},
		{Name: "EventValue", Type: arrow.PrimitiveTypes.Int64},
		{Name: "SignalValue", Type: arrow.PrimitiveTypes.Float64},
		{Name: "Latitude", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		{Name: "Longitude", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	}, nil)
}

// WriteRecords encodes one signal's event records as Parquet.
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
		builder.Field(0).(*array.TimestampBuilder).Append(arrow.Timestamp(r.Timestamp))
		builder.Field(1).(*array.StringBuilder).Append(r.EventName)
		builder.Field(2).(*array.StringBuilder).Append(r.DeviceID)
		builder.Field(3).(*array.StringBuilder).Append(r.EventID)
		builder.Field(4).(*array.StringBuilder).Append(r.Message)
		builder.Field(5).(*array.StringBuilder).Append(r.Signal)
		builder.Field(6).(*array.StringBuilder).Append(r.EventType.String())
		builder.Field(7).(*array.Int64Builder).Append(r.EventType.Value())
		builder.Field(8).(*array.Float64Builder).Append(r.SignalValue)
		appendNullable(builder.Field(9).(*array.Float64Builder), r.Latitude)
		appendNullable(builder.Field(10).(*array.Float64Builder), r.Longitude)
	}

	record := builder.NewRecord()
	defer record.Release()

	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write records: %w", err)
	}
	return writer.Close()
}

func appendNullable(b *array.Float64Builder, v *float64) {
	if v == nil {
		b.AppendNull()
	} else {
		b.Append(*v)
	}
}
