package main

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/canlake/canlake/pkg/config"
	"github.com/canlake/canlake/pkg/export"
	"github.com/canlake/canlake/pkg/query"
)

// Query and export flags
var (
	queryLake   string
	queryEvents bool

	exportFormat    string
	exportOut       string
	compressionFlag string
)

var queryCmd = &cobra.Command{
	Use:   "query [sql]",
	Short: "Query the lake with DuckDB",
	Long: `Run SQL over the lake's Parquet files using an embedded DuckDB.

Without a SQL argument, prints the per-device trip overview from the
trip summary results. The lake root can be a local directory or an
s3:// URL DuckDB can reach.

Examples:
  canlake query --lake ./lake
  canlake query --lake ./lake --events
  canlake query --lake s3://fleet-lake 'SELECT COUNT(*) FROM read_parquet(...)'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runQuery,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export results for BI tools",
	Long: `Export trip summary results to formats optimized for BI tools.

Supported formats:
  powerbi: Star schema Parquet files (Fact_TripValues plus dimensions)
  tableau: Same as powerbi
  xlsx:    Fleet report workbook (trip overview, event counts)

Examples:
  canlake export --lake ./lake --format powerbi -o ./powerbi_output/
  canlake export --lake ./lake --format xlsx -o fleet_report.xlsx`,
	RunE: runExport,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the current configuration to ~/.canlake/config.yaml",
	RunE:  runConfigInit,
}

func init() {
	queryCmd.Flags().StringVar(&queryLake, "lake", "", "Lake root, local path or s3:// URL (required)")
	queryCmd.Flags().BoolVar(&queryEvents, "events", false, "Show event edge counts instead of trips")
	queryCmd.MarkFlagRequired("lake")

	exportCmd.Flags().StringVar(&queryLake, "lake", "", "Lake root (required)")
	exportCmd.Flags().StringVar(&exportFormat, "format", "powerbi", "Export format (powerbi, tableau, xlsx)")
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output directory or file (required)")
	exportCmd.Flags().StringVar(&compressionFlag, "compression", "snappy", "Parquet compression")
	exportCmd.MarkFlagRequired("lake")
	exportCmd.MarkFlagRequired("output")

	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(configCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	engine, err := query.NewEngine(queryLake)
	if err != nil {
		return err
	}
	defer engine.Close()

	if len(args) == 1 {
		rows, err := engine.Raw(ctx, args[0])
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		defer rows.Close()
		return printRows(rows)
	}

	if queryEvents {
		counts, err := engine.EventCounts(ctx)
		if err != nil {
			return fmt.Errorf("event query failed: %w", err)
		}
		fmt.Printf("%-30s %s\n", "Event", "Edges")
		for _, c := range counts {
			fmt.Printf("%-30s %d\n", c.EventName, c.Count)
		}
		return nil
	}

	overview, err := engine.Trips(ctx)
	if err != nil {
		return fmt.Errorf("trip query failed: %w", err)
	}
	fmt.Printf("%-10s %8s %16s\n", "Device", "Trips", "Duration (h)")
	for _, o := range overview {
		fmt.Printf("%-10s %8d %16.1f\n", o.DeviceID, o.Trips, o.TotalDuration/3600)
	}
	return nil
}

// printRows renders an arbitrary result set as tab-separated lines.
func printRows(rows *sql.Rows) error {
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	fmt.Println(strings.Join(cols, "\t"))

	values := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		parts := make([]string, len(cols))
		for i, v := range values {
			switch t := v.(type) {
			case nil:
				parts[i] = "NULL"
			case []byte:
				parts[i] = string(t)
			default:
				parts[i] = fmt.Sprintf("%v", t)
			}
		}
		fmt.Println(strings.Join(parts, "\t"))
	}
	return rows.Err()
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	switch exportFormat {
	case "powerbi", "tableau":
		exporter, err := export.NewStarSchemaExporter(exportOut, compressionFlag)
		if err != nil {
			return err
		}
		defer exporter.Close()

		glob := strings.TrimSuffix(queryLake, "/") + "/aggregations/tripsummary/*/*/*/*.parquet"
		result, err := exporter.Export(glob)
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}

		fmt.Printf("Star schema exported to %s:\n", result.OutputDir)
		for _, file := range result.Files() {
			fmt.Printf("  - %s\n", file)
		}
		return nil

	case "xlsx":
		engine, err := query.NewEngine(queryLake)
		if err != nil {
			return err
		}
		defer engine.Close()

		reporter := export.NewXLSXReporter(engine)
		if err := reporter.Write(ctx, exportOut); err != nil {
			return fmt.Errorf("report failed: %w", err)
		}
		fmt.Printf("Fleet report written to %s\n", exportOut)
		return nil

	default:
		return fmt.Errorf("unsupported export format: %s", exportFormat)
	}
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	mgr := config.Global()
	if err := mgr.Load(); err != nil {
		return err
	}

	if paths := mgr.GetPaths(); len(paths) > 0 {
		fmt.Println("Loaded from:")
		for _, p := range paths {
			fmt.Printf("  - %s\n", p)
		}
		fmt.Println()
	}

	out, err := yaml.Marshal(mgr.Get())
	if err != nil {
		return err
	}
	fmt.Print(string(out))
	return nil
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	mgr := config.Global()
	if err := mgr.Load(); err != nil {
		return err
	}
	if err := mgr.Save(); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	fmt.Println("Configuration written to ~/.canlake/config.yaml")
	return nil
}
