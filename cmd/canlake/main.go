// canlake - CAN telemetry data lake processor.
// Decodes raw CAN log files to Parquet, aggregates trip summaries and
// detects signal events across a device fleet.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/canlake/canlake/pkg/aggregate"
	"github.com/canlake/canlake/pkg/checkpoint"
	"github.com/canlake/canlake/pkg/cloudstore"
	s3store "github.com/canlake/canlake/pkg/cloudstore/s3"
	"github.com/canlake/canlake/pkg/config"
	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/notify"
	"github.com/canlake/canlake/pkg/telemetry"
	"github.com/canlake/canlake/pkg/tui"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	verbose      bool
	inputBucket  string
	outputBucket string
	localRoot    string

	// Aggregate flags
	aggWorkers    int
	aggAllDevices bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "canlake",
	Short: "canlake - CAN telemetry lake processor",
	Long: `canlake processes CAN bus log files from a fleet of vehicle loggers
into a queryable Parquet data lake.

The pipeline stages:
  backlog    decode raw log files and build the lake
  aggregate  compute per-trip signal summaries
  detect     scan decoded data for threshold events
  query      run SQL over the lake with DuckDB
  export     reshape results for BI tools`,
	Version: fmt.Sprintf("%s (%s)", version, commit),
}

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Compute trip summary aggregations",
	Long: `Run trip aggregation over the decoded lake.

Reads aggregations.json from the input bucket, segments each device's
data into trips and writes one daily trip summary Parquet file per day
in the date range.

Examples:
  canlake aggregate
  canlake aggregate --workers 8
  canlake aggregate --input-bucket fleet-config --output-bucket fleet-lake`,
	RunE: runAggregate,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVar(&inputBucket, "input-bucket", "", "Input bucket (overrides config)")
	rootCmd.PersistentFlags().StringVar(&outputBucket, "output-bucket", "", "Output bucket (overrides config)")
	rootCmd.PersistentFlags().StringVar(&localRoot, "local-root", "", "Use local storage rooted at this directory")

	aggregateCmd.Flags().IntVarP(&aggWorkers, "workers", "w", 0, "Concurrent device/day units (0 = auto)")
	aggregateCmd.Flags().BoolVar(&aggAllDevices, "all-devices", false, "Aggregate every device found in the lake, not just configured clusters")

	rootCmd.AddCommand(aggregateCmd)
}

// loadConfig loads the layered configuration and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	mgr := config.Global()
	if err := mgr.Load(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := mgr.Get()

	if inputBucket != "" {
		cfg.Storage.InputBucket = inputBucket
	}
	if outputBucket != "" {
		cfg.Storage.OutputBucket = outputBucket
	}
	if localRoot != "" {
		cfg.Storage.Backend = "local"
		cfg.Storage.LocalRoot = localRoot
	}

	if cfg.Storage.InputBucket == "" {
		return nil, fmt.Errorf("no input bucket configured (set storage.input_bucket or --input-bucket)")
	}
	if cfg.Storage.OutputBucket == "" {
		return nil, fmt.Errorf("no output bucket configured (set storage.output_bucket or --output-bucket)")
	}
	return cfg, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, cleaning up...")
		cancel()
	}()

	return ctx, cancel
}

func newLogger() *log.Logger {
	flags := 0
	if verbose {
		flags = log.LstdFlags
	}
	return log.New(os.Stderr, "", flags)
}

// openStore opens the configured object store for one bucket.
func openStore(ctx context.Context, cfg *config.Config, bucket string) (cloudstore.ObjectStore, error) {
	switch cfg.Storage.Backend {
	case "local":
		return cloudstore.NewLocalStore(filepath.Join(cfg.Storage.LocalRoot, bucket))
	case "s3", "":
		s3cfg := s3store.DefaultConfig(bucket, cfg.Storage.Region)
		s3cfg.Endpoint = cfg.Storage.Endpoint
		s3cfg.UsePathStyle = cfg.Storage.UsePathStyle
		s3cfg.AccessKeyID = cfg.Storage.AccessKeyID
		s3cfg.SecretAccessKey = cfg.Storage.SecretAccessKey
		if cfg.Storage.TransferTimeout > 0 {
			s3cfg.TransferTimeout = cfg.Storage.TransferTimeout
		}
		return s3store.New(ctx, s3cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}

// newNotifier picks SNS when a topic is configured, log output
// otherwise.
func newNotifier(ctx context.Context, cfg *config.Config, logger *log.Logger) notify.Notifier {
	if cfg.Notify.TopicARN == "" {
		return &notify.LogNotifier{Logger: logger}
	}

	region := cfg.Notify.Region
	if region == "" {
		region = cfg.Storage.Region
	}
	n, err := notify.NewSNS(ctx, notify.SNSConfig{
		Region:   region,
		TopicARN: cfg.Notify.TopicARN,
	})
	if err != nil {
		logger.Printf("SNS notifier unavailable, falling back to log output: %v", err)
		return &notify.LogNotifier{Logger: logger}
	}
	return n
}

// newCheckpointBackend selects the configured checkpoint backend. The
// object backend keeps checkpoints alongside the decoded lake in the
// output bucket, so restarts on a fresh machine still resume.
func newCheckpointBackend(ctx context.Context, cfg *config.Config) (checkpoint.Backend, error) {
	switch cfg.Checkpoint.Backend {
	case "none":
		return checkpoint.Discard{}, nil
	case "redis":
		return checkpoint.NewRedisBackend(checkpoint.DefaultRedisConfig(cfg.Checkpoint.RedisAddr))
	case "object":
		store, err := openStore(ctx, cfg, cfg.Storage.OutputBucket)
		if err != nil {
			return nil, fmt.Errorf("failed to open checkpoint store: %w", err)
		}
		return checkpoint.NewObjectBackend(store, checkpoint.DefaultObjectConfig()), nil
	case "file", "":
		return checkpoint.NewLocalBackend(cfg.Checkpoint.Dir)
	default:
		return nil, fmt.Errorf("unknown checkpoint backend: %s", cfg.Checkpoint.Backend)
	}
}

// initTelemetry enables OTLP trace export when configured. The returned
// shutdown flushes pending spans and is safe to call unconditionally.
func initTelemetry(cfg *config.Config) func(context.Context) error {
	noop := func(context.Context) error { return nil }
	if !cfg.Telemetry.Enabled {
		return noop
	}

	otlpCfg := telemetry.DefaultOTLPConfig("canlake")
	otlpCfg.ServiceVersion = version
	if cfg.Telemetry.Endpoint != "" {
		otlpCfg.Endpoint = cfg.Telemetry.Endpoint
	}

	shutdown, err := telemetry.InitOTLP(otlpCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: telemetry disabled: %v\n", err)
		return noop
	}
	return shutdown
}

func runAggregate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	shutdown := initTelemetry(cfg)
	defer shutdown(context.Background())

	logger := newLogger()

	inputStore, err := openStore(ctx, cfg, cfg.Storage.InputBucket)
	if err != nil {
		return fmt.Errorf("failed to open input store: %w", err)
	}
	outputStore, err := openStore(ctx, cfg, cfg.Storage.OutputBucket)
	if err != nil {
		return fmt.Errorf("failed to open output store: %w", err)
	}

	man, err := manifest.LoadAggregations(ctx, inputStore)
	if err != nil {
		return err
	}

	if aggAllDevices {
		if len(man.DeviceClusters) == 0 {
			return fmt.Errorf("--all-devices needs at least one configured cluster to supply aggregation details")
		}
		devices, err := aggregate.DiscoverDevices(ctx, outputStore)
		if err != nil {
			return fmt.Errorf("device discovery failed: %w", err)
		}
		logger.Printf("discovered %d devices in the lake", len(devices))
		// Every discovered device joins the first cluster so it picks up
		// that cluster's trip identifier and aggregation specs.
		man.DeviceClusters = []manifest.DeviceCluster{{
			Cluster: man.DeviceClusters[0].Cluster,
			Devices: devices,
		}}
	}

	workers := aggWorkers
	if workers == 0 {
		workers = cfg.Processing.Workers
	}

	proc := &aggregate.Processor{
		Store:      outputStore,
		Manifest:   man,
		Logger:     logger,
		Workers:    workers,
		TimeColumn: cfg.Processing.TimeColumn,
		Opts: aggregate.Options{
			StatsOverFullTable: cfg.Processing.StatsOverFullTable,
		},
	}
	if cfg.Telemetry.Enabled {
		proc.Tracer = telemetry.GlobalTracer("canlake/aggregate")
	}

	start := time.Now()
	report, err := proc.Run(ctx)
	if err != nil {
		return fmt.Errorf("aggregation failed: %w", err)
	}

	tui.PrintAggregationSummary(tui.AggregationSummary{
		TotalDays:     report.TotalDays,
		DaysProcessed: report.DaysProcessed,
		Records:       report.Records,
		Duration:      time.Since(start),
	})
	return nil
}
