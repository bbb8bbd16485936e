// Package export provides data export utilities for BI tools.
package export

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// StarSchemaExporter reshapes trip summary results into a star schema.
// Output: Fact_TripValues, Dim_Devices, Dim_Signals, Dim_Trips, Dim_Time
type StarSchemaExporter struct {
	db          *sql.DB
	outputDir   string
	compression string
}

// NewStarSchemaExporter creates a new star schema exporter.
func NewStarSchemaExporter(outputDir, compression string) (*StarSchemaExporter, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}

	return &StarSchemaExporter{
		db:          db,
		outputDir:   outputDir,
		compression: compression,
	}, nil
}

// Export generates the star schema from trip summary Parquet files.
// inputGlob typically matches <root>/aggregations/tripsummary/*/*/*/*.parquet.
func (e *StarSchemaExporter) Export(inputGlob string) (*StarSchemaResult, error) {
	// Load source data
	_, err := e.db.Exec(fmt.Sprintf(`
		CREATE TABLE source AS
		SELECT * FROM read_parquet('%s')
	`, escapePath(inputGlob)))
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}

	result := &StarSchemaResult{OutputDir: e.outputDir}

	if err := e.generateDimDevices(); err != nil {
		return nil, err
	}
	result.DimDevices = filepath.Join(e.outputDir, "Dim_Devices.parquet")

	if err := e.generateDimSignals(); err != nil {
		return nil, err
	}
	result.DimSignals = filepath.Join(e.outputDir, "Dim_Signals.parquet")

	if err := e.generateDimTrips(); err != nil {
		return nil, err
	}
	result.DimTrips = filepath.Join(e.outputDir, "Dim_Trips.parquet")

	if err := e.generateDimTime(); err != nil {
		return nil, err
	}
	result.DimTime = filepath.Join(e.outputDir, "Dim_Time.parquet")

	if err := e.generateFactTripValues(); err != nil {
		return nil, err
	}
	result.FactTripValues = filepath.Join(e.outputDir, "Fact_TripValues.parquet")

	return result, nil
}

// generateDimDevices creates the device dimension table.
func (e *StarSchemaExporter) generateDimDevices() error {
	query := fmt.Sprintf(`
		COPY (
			SELECT
				ROW_NUMBER() OVER (ORDER BY "DeviceID") as device_key,
				"DeviceID" as device_id,
				MAX("Cluster") as cluster,
				COUNT(DISTINCT "TripID") as trip_count
			FROM source
			GROUP BY "DeviceID"
			ORDER BY "DeviceID"
		) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')
	`, filepath.Join(e.outputDir, "Dim_Devices.parquet"), e.compression)

	_, err := e.db.Exec(query)
	return err
}

// generateDimSignals creates the (message, signal, aggregation) dimension.
func (e *StarSchemaExporter) generateDimSignals() error {
	query := fmt.Sprintf(`
		COPY (
			SELECT
				ROW_NUMBER() OVER (ORDER BY "Message", "Signal", "Aggregation") as signal_key,
				"Message" as message,
				"Signal" as signal,
				"Aggregation" as aggregation,
				COUNT(*) as value_count
			FROM source
			GROUP BY "Message", "Signal", "Aggregation"
			ORDER BY "Message", "Signal", "Aggregation"
		) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')
	`, filepath.Join(e.outputDir, "Dim_Signals.parquet"), e.compression)

	_, err := e.db.Exec(query)
	return err
}

// generateDimTrips creates the trip dimension table.
func (e *StarSchemaExporter) generateDimTrips() error {
	query := fmt.Sprintf(`
		COPY (
			SELECT
				ROW_NUMBER() OVER (ORDER BY "TripID") as trip_key,
				"TripID" as trip_id,
				MAX("DeviceID") as device_id,
				MIN("TripStart") as trip_start,
				MAX("TripEnd") as trip_end,
				MAX("Duration") as duration_seconds
			FROM source
			GROUP BY "TripID"
			ORDER BY "TripID"
		) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')
	`, filepath.Join(e.outputDir, "Dim_Trips.parquet"), e.compression)

	_, err := e.db.Exec(query)
	return err
}

// generateDimTime creates a date dimension table over trip start days.
func (e *StarSchemaExporter) generateDimTime() error {
	query := fmt.Sprintf(`
		COPY (
			WITH dates AS (
				SELECT DISTINCT DATE_TRUNC('day', "TripStart") as date
				FROM source
				WHERE "TripStart" IS NOT NULL
			)
			SELECT
				ROW_NUMBER() OVER (ORDER BY date) as time_key,
				date as full_date,
				EXTRACT(YEAR FROM date) as year,
				EXTRACT(QUARTER FROM date) as quarter,
				EXTRACT(MONTH FROM date) as month,
				EXTRACT(DAY FROM date) as day,
				EXTRACT(DAYOFWEEK FROM date) as day_of_week,
				EXTRACT(WEEK FROM date) as week_of_year,
				CASE WHEN EXTRACT(DAYOFWEEK FROM date) IN (0, 6) THEN 1 ELSE 0 END as is_weekend
			FROM dates
			ORDER BY date
		) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')
	`, filepath.Join(e.outputDir, "Dim_Time.parquet"), e.compression)

	_, err := e.db.Exec(query)
	return err
}

// generateFactTripValues creates the fact table with foreign keys.
func (e *StarSchemaExporter) generateFactTripValues() error {
	// First create dimension lookup tables
	_, err := e.db.Exec(`
		CREATE TABLE dim_devices_lookup AS
		SELECT device_id, ROW_NUMBER() OVER (ORDER BY device_id) as device_key
		FROM (SELECT DISTINCT "DeviceID" as device_id FROM source);

		CREATE TABLE dim_signals_lookup AS
		SELECT message, signal, aggregation,
		       ROW_NUMBER() OVER (ORDER BY message, signal, aggregation) as signal_key
		FROM (SELECT DISTINCT "Message" as message, "Signal" as signal, "Aggregation" as aggregation FROM source);

		CREATE TABLE dim_trips_lookup AS
		SELECT trip_id, ROW_NUMBER() OVER (ORDER BY trip_id) as trip_key
		FROM (SELECT DISTINCT "TripID" as trip_id FROM source);

		CREATE TABLE dim_time_lookup AS
		SELECT date, ROW_NUMBER() OVER (ORDER BY date) as time_key
		FROM (
			SELECT DISTINCT DATE_TRUNC('day', "TripStart") as date
			FROM source WHERE "TripStart" IS NOT NULL
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create lookups: %w", err)
	}

	query := fmt.Sprintf(`
		COPY (
			SELECT
				ROW_NUMBER() OVER () as value_key,
				d.device_key,
				g.signal_key,
				p.trip_key,
				t.time_key,
				s."SignalValue" as signal_value,
				s."SignalCount" as signal_count,
				s."Duration" as duration_seconds
			FROM source s
			LEFT JOIN dim_devices_lookup d ON s."DeviceID" = d.device_id
			LEFT JOIN dim_signals_lookup g
				ON s."Message" = g.message AND s."Signal" = g.signal AND s."Aggregation" = g.aggregation
			LEFT JOIN dim_trips_lookup p ON s."TripID" = p.trip_id
			LEFT JOIN dim_time_lookup t ON DATE_TRUNC('day', s."TripStart") = t.date
			ORDER BY s."TripStart"
		) TO '%s' (FORMAT PARQUET, COMPRESSION '%s')
	`, filepath.Join(e.outputDir, "Fact_TripValues.parquet"), e.compression)

	_, err = e.db.Exec(query)
	return err
}

// Close releases resources.
func (e *StarSchemaExporter) Close() error {
	return e.db.Close()
}

// StarSchemaResult contains the paths to generated files.
type StarSchemaResult struct {
	OutputDir      string `json:"output_dir"`
	FactTripValues string `json:"fact_trip_values"`
	DimDevices     string `json:"dim_devices"`
	DimSignals     string `json:"dim_signals"`
	DimTrips       string `json:"dim_trips"`
	DimTime        string `json:"dim_time"`
}

// Files returns all generated file paths.
func (r *StarSchemaResult) Files() []string {
	return []string{
		r.FactTripValues,
		r.DimDevices,
		r.DimSignals,
		r.DimTrips,
		r.DimTime,
	}
}

func escapePath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}
