package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/canlake/canlake/pkg/backlog"
	"github.com/canlake/canlake/pkg/checkpoint"
	"github.com/canlake/canlake/pkg/decoder"
	"github.com/canlake/canlake/pkg/events"
	"github.com/canlake/canlake/pkg/lake"
	"github.com/canlake/canlake/pkg/manifest"
	"github.com/canlake/canlake/pkg/notify"
	"github.com/canlake/canlake/pkg/transform"
	"github.com/canlake/canlake/pkg/tui"
	"github.com/canlake/canlake/pkg/watch"
)

// Additional CLI flags
var (
	// Backlog flags
	dryRun       bool
	transfers    int
	noProgress   bool
	decoderPath  string
	workDir      string

	// Detect flags
	lakeRoot string

	// Watch flags
	watchDebounce time.Duration

	// Checkpoint flags
	cleanupAge time.Duration
)

var backlogCmd = &cobra.Command{
	Use:   "backlog",
	Short: "Decode the raw log backlog into the lake",
	Long: `Plan and process the raw log file backlog.

Reads backlog.json from the input bucket, expands device and session
references into batches, then for each batch: download, decode with the
MDF decoder, derive custom messages, detect events, upload the decoded
tree to the output bucket.

Completed batches are checkpointed and skipped on re-runs, so an
interrupted backlog can be resumed by running the command again.

Examples:
  canlake backlog
  canlake backlog --dry-run
  canlake backlog --transfers 8 --no-progress`,
	RunE: runBacklog,
}

var detectCmd = &cobra.Command{
	Use:   "detect",
	Short: "Detect events in a local decoded tree",
	Long: `Run custom message derivation and event detection over a decoded
Parquet tree on local disk.

This is the standalone form of the per-batch pipeline stages: useful for
re-running detection with a changed events.json without re-decoding.

Examples:
  canlake detect --lake ./decoded
  canlake detect --lake /mnt/lake --input-bucket fleet-config`,
	RunE: runDetect,
}

var watchCmd = &cobra.Command{
	Use:   "watch <inbox-dir>",
	Short: "Watch an inbox directory and process new log files",
	Long: `Watch a local inbox directory for new raw log files. Each file that
has stopped growing is uploaded to the input bucket and immediately
processed as a single-file batch: decode, derive custom messages,
detect events, upload the decoded tree.

Files already arranged as <device>/<session>/<file> keep their layout;
files dropped flat in the inbox get a synthetic session prefix.

Examples:
  canlake watch /var/canlake/inbox
  canlake watch --debounce 5s /mnt/usb-import`,
	Args: cobra.ExactArgs(1),
	RunE: runWatchInbox,
}

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List incomplete batch checkpoints",
	Long: `Show batches that started processing but never completed, with the
phase they stopped in. Use --cleanup to remove checkpoints older than
the given age.

Examples:
  canlake checkpoints
  canlake checkpoints --cleanup 168h`,
	RunE: runCheckpoints,
}

func init() {
	backlogCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan batches without processing them")
	backlogCmd.Flags().IntVar(&transfers, "transfers", 4, "Concurrent downloads/uploads per batch")
	backlogCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable transfer progress bars")
	backlogCmd.Flags().StringVar(&decoderPath, "decoder", "", "MDF decoder binary (overrides config)")
	backlogCmd.Flags().StringVar(&workDir, "work-dir", "", "Scratch directory for batch processing")

	detectCmd.Flags().StringVar(&lakeRoot, "lake", "", "Decoded tree root directory (required)")
	detectCmd.MarkFlagRequired("lake")

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 2*time.Second, "Quiet interval before a file counts as settled")

	checkpointsCmd.Flags().DurationVar(&cleanupAge, "cleanup", 0, "Remove checkpoints older than this age")

	rootCmd.AddCommand(backlogCmd)
	rootCmd.AddCommand(detectCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(checkpointsCmd)
}

func runBacklog(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if decoderPath != "" {
		cfg.Decoder.Path = decoderPath
	}
	if workDir != "" {
		cfg.Decoder.WorkDir = workDir
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

	man, err := manifest.LoadBacklog(ctx, inputStore)
	if err != nil {
		return err
	}

	planner := backlog.NewPlanner(inputStore, logger,
		man.Config.BatchSize.Min, man.Config.BatchSize.Max)
	batches, planReport, err := planner.Plan(ctx, man.Files)
	if err != nil {
		return fmt.Errorf("backlog planning failed: %w", err)
	}

	tui.PrintInfo(fmt.Sprintf("planned %d batches from %d refs (%d files, %d sessions)",
		len(batches), planReport.Refs, planReport.TotalFiles, planReport.Sessions))

	if dryRun {
		for i, b := range batches {
			fmt.Printf("  batch %03d  device %s  %d files\n", i, b.Device(), len(b))
		}
		return nil
	}
	if len(batches) == 0 {
		return nil
	}

	ckpt, err := newCheckpointBackend(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open checkpoint backend: %w", err)
	}

	runner := &backlog.Runner{
		Input:        inputStore,
		Output:       outputStore,
		Decoder:      decoder.New(cfg.Decoder.Path, logger),
		Checkpoints:  ckpt,
		Logger:       logger,
		WorkDir:      cfg.Decoder.WorkDir,
		Transfers:    transfers,
		ShowProgress: !noProgress,
	}

	// Optional per-batch pipeline stages, driven by which configuration
	// documents exist in the input bucket. Backlog reprocessing logs
	// notifications instead of publishing; historical events are not
	// news.
	custom, hasCustom, err := manifest.LoadCustomMessages(ctx, inputStore)
	if err != nil {
		return err
	}
	if hasCustom {
		geofences, err := manifest.LoadGeofences(ctx, inputStore)
		if err != nil {
			return err
		}
		runner.Transform = &transform.Processor{
			Messages:   custom,
			Geofences:  geofences,
			Logger:     logger,
			TimeColumn: cfg.Processing.TimeColumn,
		}
	}

	eventMan, hasEvents, err := manifest.LoadEvents(ctx, inputStore)
	if err != nil {
		return err
	}
	if hasEvents {
		runner.Events = &events.Processor{
			Manifest:   eventMan,
			Notifier:   &notify.LogNotifier{Logger: logger},
			Logger:     logger,
			TimeColumn: cfg.Processing.TimeColumn,
		}
	}

	start := time.Now()
	result, err := runner.Run(ctx, batches)
	if err != nil {
		return fmt.Errorf("backlog run failed: %w", err)
	}

	tui.PrintBacklogSummary(tui.BacklogSummary{
		Batches:   len(result.Batches),
		Succeeded: result.Succeeded,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
		Duration:  time.Since(start),
	})

	if !result.Success() {
		for _, b := range result.Batches {
			if b.Err != nil {
				fmt.Fprintf(os.Stderr, "  device %s: %v\n", b.Device, b.Err)
			}
		}
		return fmt.Errorf("%d batches failed", result.Failed)
	}
	return nil
}

func runDetect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()

	inputStore, err := openStore(ctx, cfg, cfg.Storage.InputBucket)
	if err != nil {
		return fmt.Errorf("failed to open input store: %w", err)
	}

	ix, err := lake.Scan(lakeRoot)
	if err != nil {
		return fmt.Errorf("failed to scan decoded tree: %w", err)
	}

	custom, hasCustom, err := manifest.LoadCustomMessages(ctx, inputStore)
	if err != nil {
		return err
	}
	if hasCustom {
		geofences, err := manifest.LoadGeofences(ctx, inputStore)
		if err != nil {
			return err
		}
		tp := &transform.Processor{
			Messages:   custom,
			Geofences:  geofences,
			Logger:     logger,
			TimeColumn: cfg.Processing.TimeColumn,
		}
		if _, err := tp.Process(ctx, ix); err != nil {
			return fmt.Errorf("custom message derivation failed: %w", err)
		}
		// Rescan so derived messages are visible to detection.
		if ix, err = lake.Scan(lakeRoot); err != nil {
			return err
		}
	}

	eventMan, hasEvents, err := manifest.LoadEvents(ctx, inputStore)
	if err != nil {
		return err
	}
	if !hasEvents {
		return fmt.Errorf("no events.json found in input bucket")
	}

	proc := &events.Processor{
		Manifest:   eventMan,
		Notifier:   newNotifier(ctx, cfg, logger),
		Logger:     logger,
		TimeColumn: cfg.Processing.TimeColumn,
	}
	report, err := proc.Process(ctx, ix)
	if err != nil {
		return fmt.Errorf("event detection failed: %w", err)
	}

	fmt.Printf("Detected %d event records across %d files", report.Records, report.FilesWritten)
	if report.Notified {
		fmt.Print(" (notification sent)")
	}
	fmt.Println()
	return nil
}

func runWatchInbox(cmd *cobra.Command, args []string) error {
	inboxDir := args[0]
	if _, err := os.Stat(inboxDir); os.IsNotExist(err) {
		return fmt.Errorf("inbox directory does not exist: %s", inboxDir)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	logger := newLogger()

	inputStore, err := openStore(ctx, cfg, cfg.Storage.InputBucket)
	if err != nil {
		return fmt.Errorf("failed to open input store: %w", err)
	}
	outputStore, err := openStore(ctx, cfg, cfg.Storage.OutputBucket)
	if err != nil {
		return fmt.Errorf("failed to open output store: %w", err)
	}

	runner := &backlog.Runner{
		Input:       inputStore,
		Output:      outputStore,
		Decoder:     decoder.New(cfg.Decoder.Path, logger),
		Checkpoints: checkpoint.Discard{},
		Logger:      logger,
		WorkDir:     cfg.Decoder.WorkDir,
		Transfers:   1,
	}

	// Manifests are loaded once at startup; restart the watcher to pick
	// up changed events.json or custom-messages.json.
	custom, hasCustom, err := manifest.LoadCustomMessages(ctx, inputStore)
	if err != nil {
		return err
	}
	if hasCustom {
		geofences, err := manifest.LoadGeofences(ctx, inputStore)
		if err != nil {
			return err
		}
		runner.Transform = &transform.Processor{
			Messages:   custom,
			Geofences:  geofences,
			Logger:     logger,
			TimeColumn: cfg.Processing.TimeColumn,
		}
	}
	eventMan, hasEvents, err := manifest.LoadEvents(ctx, inputStore)
	if err != nil {
		return err
	}
	if hasEvents {
		runner.Events = &events.Processor{
			Manifest:   eventMan,
			Notifier:   newNotifier(ctx, cfg, logger),
			Logger:     logger,
			TimeColumn: cfg.Processing.TimeColumn,
		}
	}

	w, err := watch.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer w.Close()
	w.SetDebounce(watchDebounce)

	processed := 0
	w.OnFile = func(path string) error {
		key := watch.InboxPath(inboxDir, path)
		if err := inputStore.Upload(ctx, path, key); err != nil {
			return err
		}
		logger.Printf("uploaded %s -> %s", path, key)

		result, err := runner.Run(ctx, []backlog.Batch{{key}})
		if err != nil {
			return err
		}
		if !result.Success() {
			return result.Batches[0].Err
		}
		processed++
		logger.Printf("processed %s (%d files uploaded)", key, result.Batches[0].Uploaded)
		return nil
	}
	w.OnError = func(path string, err error) {
		fmt.Fprintf(os.Stderr, "[%s] %s: %v\n", time.Now().Format("15:04:05"), path, err)
	}

	if err := w.Watch(inboxDir); err != nil {
		return fmt.Errorf("failed to watch inbox: %w", err)
	}

	fmt.Printf("Watching %s -> %s\n", inboxDir, cfg.Storage.InputBucket)
	fmt.Println("Press Ctrl+C to stop")

	err = w.Run(ctx)
	fmt.Printf("\nStopped after processing %d files\n", processed)
	return err
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	backend, err := newCheckpointBackend(ctx, cfg)
	if err != nil {
		return err
	}

	if cleanupAge > 0 {
		if local, ok := backend.(*checkpoint.LocalBackend); ok {
			removed, err := local.Manager().Cleanup(cleanupAge)
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d checkpoints older than %v\n", removed, cleanupAge)
		}
	}

	incomplete, err := backend.ListIncomplete(ctx)
	if err != nil {
		return err
	}
	if len(incomplete) == 0 {
		fmt.Println("No incomplete batches.")
		return nil
	}

	fmt.Printf("%-28s %-10s %-12s %-8s %s\n", "ID", "Device", "Phase", "Files", "Started")
	for _, cp := range incomplete {
		fmt.Printf("%-28s %-10s %-12s %-8d %s\n",
			cp.ID, cp.Device, cp.Phase, len(cp.Files),
			cp.StartedAt.Format("2006-01-02 15:04"))
	}
	return nil
}
