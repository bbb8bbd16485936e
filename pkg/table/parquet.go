package table

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"github.com/apache/arrow/go/v14/parquet"
	"github.com/apache/arrow/go/v14/parquet/compress"
	"github.com/apache/arrow/go/v14/parquet/file"
	"github.com/apache/arrow/go/v14/parquet/pqarrow"
)

// timeColumnCandidates are tried in order when no time column is
// configured. Different decoder versions disagree on the name.
var timeColumnCandidates = []string{"t", "TimeStamp"}

// ReadOptions controls Parquet decoding.
type ReadOptions struct {
	// TimeColumn forces a specific time column name. Empty means
	// auto-detect among the known candidates.
	TimeColumn string
}

// ReadFile loads a decoded message Parquet file into a Table. The time
// column becomes the index; every other numeric column becomes a signal.
// Non-numeric columns are dropped. The result is sorted by time.
func ReadFile(ctx context.Context, path string, opts ReadOptions) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Read(ctx, f, info.Size(), opts)
}

// Read loads a Parquet stream into a Table.
func Read(ctx context.Context, r io.ReaderAt, size int64, opts ReadOptions) (*Table, error) {
	pqReader, err := file.NewParquetReader(io.NewSectionReader(r, 0, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, fmt.Errorf("failed to create arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read table: %w", err)
	}
	defer tbl.Release()

	return fromArrow(tbl, opts)
}

func fromArrow(tbl arrow.Table, opts ReadOptions) (*Table, error) {
	schema := tbl.Schema()

	timeIdx := -1
	if opts.TimeColumn != "" {
		if idxs := schema.FieldIndices(opts.TimeColumn); len(idxs) > 0 {
			timeIdx = idxs[0]
		} else {
			return nil, fmt.Errorf("time column %q not found", opts.TimeColumn)
		}
	} else {
		for _, candidate := range timeColumnCandidates {
			if idxs := schema.FieldIndices(candidate); len(idxs) > 0 {
				timeIdx = idxs[0]
				break
			}
		}
		if timeIdx < 0 {
			return nil, fmt.Errorf("no time column among %v", timeColumnCandidates)
		}
	}

	timeIndex, err := timeColumn(tbl.Column(timeIdx), schema.Field(timeIdx))
	if err != nil {
		return nil, err
	}

	out := New(timeIndex)
	for i := 0; i < int(tbl.NumCols()); i++ {
		if i == timeIdx {
			continue
		}
		field := schema.Field(i)
		values, valid, ok := numericColumn(tbl.Column(i))
		if !ok {
			continue // non-numeric signal, e.g. raw strings
		}
		if err := out.AddColumnWithValidity(field.Name, values, valid); err != nil {
			return nil, err
		}
	}
	out.Sort()
	return out, nil
}

// timeColumn converts the index column to microsecond timestamps.
// Timestamps keep their unit; float64 values are treated as epoch
// seconds; int64 values as epoch microseconds.
func timeColumn(col *arrow.Column, field arrow.Field) ([]int64, error) {
	n := col.Len()
	out := make([]int64, 0, n)

	switch dt := field.Type.(type) {
	case *arrow.TimestampType:
		scale := tsScale(dt.Unit)
		for _, chunk := range col.Data().Chunks() {
			arr := chunk.(*array.Timestamp)
			for i := 0; i < arr.Len(); i++ {
				out = append(out, scale(int64(arr.Value(i))))
			}
		}
	case *arrow.Float64Type:
		for _, chunk := range col.Data().Chunks() {
			arr := chunk.(*array.Float64)
			for i := 0; i < arr.Len(); i++ {
				out = append(out, int64(arr.Value(i)*1e6))
			}
		}
	case *arrow.Int64Type:
		for _, chunk := range col.Data().Chunks() {
			arr := chunk.(*array.Int64)
			for i := 0; i < arr.Len(); i++ {
				out = append(out, arr.Value(i))
			}
		}
	default:
		return nil, fmt.Errorf("unsupported time column type %s", field.Type)
	}
	return out, nil
}

func tsScale(unit arrow.TimeUnit) func(int64) int64 {
	switch unit {
	case arrow.Second:
		return func(v int64) int64 { return v * 1e6 }
	case arrow.Millisecond:
		return func(v int64) int64 { return v * 1e3 }
	case arrow.Microsecond:
		return func(v int64) int64 { return v }
	default: // nanoseconds
		return func(v int64) int64 { return v / 1e3 }
	}
}

// numericColumn converts any numeric/bool chunked column to float64
// values with validity. Returns ok=false for non-numeric types.
func numericColumn(col *arrow.Column) (values []float64, valid []bool, ok bool) {
	n := col.Len()
	values = make([]float64, 0, n)
	valid = make([]bool, 0, n)

	for _, chunk := range col.Data().Chunks() {
		switch arr := chunk.(type) {
		case *array.Float64:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, arr.Value(i), arr.IsValid(i))
			}
		case *array.Float32:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Int64:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Int32:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Int16:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Int8:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Uint64:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Uint32:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Uint16:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Uint8:
			for i := 0; i < arr.Len(); i++ {
				appendNumeric(&values, &valid, float64(arr.Value(i)), arr.IsValid(i))
			}
		case *array.Boolean:
			for i := 0; i < arr.Len(); i++ {
				v := 0.0
				if arr.Value(i) {
					v = 1.0
				}
				appendNumeric(&values, &valid, v, arr.IsValid(i))
			}
		default:
			return nil, nil, false
		}
	}
	return values, valid, true
}

func appendNumeric(values *[]float64, valid *[]bool, v float64, isValid bool) {
	if isValid && math.IsNaN(v) {
		isValid = false
	}
	*values = append(*values, v)
	*valid = append(*valid, isValid)
}

// Write encodes the table as Parquet with a timestamp[µs] time column
// named "t" and nullable float64 signal columns.
func (t *Table) Write(w io.Writer) error {
	fields := make([]arrow.Field, 0, len(t.cols)+1)
	fields = append(fields, arrow.Field{Name: "t", Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: false})
	for _, c := range t.cols {
		fields = append(fields, arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	schema := arrow.NewSchema(fields, nil)

	writerProps := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithDictionaryDefault(true),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema())

	writer, err := pqarrow.NewFileWriter(schema, w, writerProps, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}

	alloc := memory.NewGoAllocator()
	builder := array.NewRecordBuilder(alloc, schema)
	defer builder.Release()

	tsBuilder := builder.Field(0).(*array.TimestampBuilder)
	for _, ts := range t.Time {
		tsBuilder.Append(arrow.Timestamp(ts))
	}
	for ci, c := range t.cols {
		fb := builder.Field(ci + 1).(*array.Float64Builder)
		for i, v := range c.Values {
			if c.Valid[i] {
				fb.Append(v)
			} else {
				fb.AppendNull()
			}
		}
	}

	record := builder.NewRecord()
	defer record.Release()

	if err := writer.Write(record); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write record: %w", err)
	}
	return writer.Close()
}

// WriteFile encodes the table as Parquet at the given path.
func (t *Table) WriteFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// TimeAsTime converts a microsecond timestamp to UTC time.
func TimeAsTime(micros int64) time.Time {
	return time.UnixMicro(micros).UTC()
}
