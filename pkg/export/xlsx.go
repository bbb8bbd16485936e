package export

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/canlake/canlake/pkg/query"
)

// XLSXReporter writes a fleet report workbook with one sheet per
// result family: trip overview per device and event counts.
type XLSXReporter struct {
	engine *query.Engine
}

// NewXLSXReporter creates a reporter over a query engine.
func NewXLSXReporter(engine *query.Engine) *XLSXReporter {
	return &XLSXReporter{engine: engine}
}

// Write builds the workbook and saves it to path.
func (r *XLSXReporter) Write(ctx context.Context, path string) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := r.writeTripSheet(ctx, f); err != nil {
		return err
	}
	if err := r.writeEventSheet(ctx, f); err != nil {
		return err
	}

	// Drop the default sheet excelize creates.
	f.DeleteSheet("Sheet1")

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("failed to save workbook: %w", err)
	}
	return nil
}

func (r *XLSXReporter) writeTripSheet(ctx context.Context, f *excelize.File) error {
	const sheet = "Trips"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"DeviceID", "Trips", "TotalDurationSec", "TotalDurationHours"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	overview, err := r.engine.Trips(ctx)
	if err != nil {
		return fmt.Errorf("trip overview query failed: %w", err)
	}

	for row, o := range overview {
		values := []interface{}{
			o.DeviceID,
			o.Trips,
			o.TotalDuration,
			o.TotalDuration / float64(time.Hour/time.Second),
		}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row+2)
			f.SetCellValue(sheet, cell, v)
		}
	}
	return nil
}

func (r *XLSXReporter) writeEventSheet(ctx context.Context, f *excelize.File) error {
	const sheet = "Events"
	if _, err := f.NewSheet(sheet); err != nil {
		return err
	}

	headers := []string{"EventName", "Edges"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	counts, err := r.engine.EventCounts(ctx)
	if err != nil {
		// A lake without event results is not an error; the sheet
		// stays empty.
		return nil
	}

	for row, c := range counts {
		cellName, _ := excelize.CoordinatesToCellName(1, row+2)
		f.SetCellValue(sheet, cellName, c.EventName)
		cellCount, _ := excelize.CoordinatesToCellName(2, row+2)
		f.SetCellValue(sheet, cellCount, c.Count)
	}
	return nil
}
