// Package query provides ad-hoc SQL access to the decoded lake and the
// aggregation results using DuckDB's read_parquet() over path globs.
package query

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
)

// Engine wraps an in-memory DuckDB instance pointed at a lake root.
type Engine struct {
	db   *sql.DB
	root string
}

// NewEngine creates an engine over the given lake root (a local path or
// an s3:// URL DuckDB can reach).
func NewEngine(root string) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}
	return &Engine{db: db, root: strings.TrimSuffix(root, "/")}, nil
}

// Close releases database resources.
func (e *Engine) Close() error {
	return e.db.Close()
}

// tripSummaryGlob matches every daily trip summary file.
func (e *Engine) tripSummaryGlob() string {
	return e.root + "/aggregations/tripsummary/*/*/*/*.parquet"
}

// eventsGlob matches every event result file.
func (e *Engine) eventsGlob() string {
	return e.root + "/aggregations/events/*/*/*/*.parquet"
}

// messageGlob matches the daily files of one device/message.
func (e *Engine) messageGlob(device, message string) string {
	return fmt.Sprintf("%s/%s/%s/*/*/*/*.parquet", e.root, device, message)
}

// TripSummary queries the trip summary results. Pass column names to
// project, or none for SELECT *.
func (e *Engine) TripSummary(ctx context.Context, whereClause string, columns ...string) (*sql.Rows, error) {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(quoteColumns(columns), ", ")
	}

	query := fmt.Sprintf(`SELECT %s FROM read_parquet('%s')`,
		cols, escapeSQLPath(e.tripSummaryGlob()))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	query += ` ORDER BY "TripStart"`

	return e.db.QueryContext(ctx, query)
}

// Events queries the event results.
func (e *Engine) Events(ctx context.Context, whereClause string) (*sql.Rows, error) {
	query := fmt.Sprintf(`SELECT * FROM read_parquet('%s')`,
		escapeSQLPath(e.eventsGlob()))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	query += ` ORDER BY "t"`

	return e.db.QueryContext(ctx, query)
}

// Signals queries one device/message signal table across all days.
func (e *Engine) Signals(ctx context.Context, device, message, whereClause string, columns ...string) (*sql.Rows, error) {
	cols := "*"
	if len(columns) > 0 {
		cols = strings.Join(quoteColumns(columns), ", ")
	}

	query := fmt.Sprintf(`SELECT %s FROM read_parquet('%s')`,
		cols, escapeSQLPath(e.messageGlob(device, message)))
	if whereClause != "" {
		query += " WHERE " + whereClause
	}
	query += ` ORDER BY "t"`

	return e.db.QueryContext(ctx, query)
}

// TripOverview summarizes trips per device: trip count and total
// duration drawn from the trip summary results.
type TripOverview struct {
	DeviceID      string
	Trips         int64
	TotalDuration float64
}

// Trips returns the per-device trip overview.
func (e *Engine) Trips(ctx context.Context) ([]TripOverview, error) {
	query := fmt.Sprintf(`
		WITH per_trip AS (
			SELECT "DeviceID", "TripID", MAX("Duration") AS duration
			FROM read_parquet('%s')
			GROUP BY "DeviceID", "TripID"
		)
		SELECT "DeviceID", COUNT(*) AS trips, SUM(duration) AS total_duration
		FROM per_trip
		GROUP BY "DeviceID"
		ORDER BY "DeviceID"
	`, escapeSQLPath(e.tripSummaryGlob()))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TripOverview
	for rows.Next() {
		var o TripOverview
		if err := rows.Scan(&o.DeviceID, &o.Trips, &o.TotalDuration); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// EventCount is the number of detected event edges per event name.
type EventCount struct {
	EventName string
	Count     int64
}

// EventCounts returns edge counts grouped by event name.
func (e *Engine) EventCounts(ctx context.Context) ([]EventCount, error) {
	query := fmt.Sprintf(`
		SELECT "EventName", COUNT(*) AS cnt
		FROM read_parquet('%s')
		GROUP BY "EventName"
		ORDER BY cnt DESC
	`, escapeSQLPath(e.eventsGlob()))

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventCount
	for rows.Next() {
		var c EventCount
		if err := rows.Scan(&c.EventName, &c.Count); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Raw executes a raw SQL query on the DuckDB instance. Callers can use
// read_parquet() directly against the lake.
func (e *Engine) Raw(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return e.db.QueryContext(ctx, query, args...)
}

// DB returns the underlying database connection for advanced queries.
func (e *Engine) DB() *sql.DB {
	return e.db
}

func escapeSQLPath(path string) string {
	return strings.ReplaceAll(path, "'", "''")
}

func quoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = fmt.Sprintf(`"%s"`, c)
	}
	return quoted
}
