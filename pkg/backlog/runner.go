package backlog

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"github.com/canlake/canlake/pkg/canerr"
	"github.com/canlake/canlake/pkg/checkpoint"
	"github.com/canlake/canlake/pkg/cloudstore"
	"github.com/canlake/canlake/pkg/decoder"
	"github.com/canlake/canlake/pkg/events"
	"github.com/canlake/canlake/pkg/lake"
	"github.com/canlake/canlake/pkg/transform"
)

// batchLockTTL is how long a batch lock lives without renewal. Long
// enough to cover a slow decode between renewals.
const batchLockTTL = 30 * time.Minute

// Runner drains planned batches: download, decode, derive custom
// messages, detect events, upload the decoded tree. Batches run
// sequentially; transfers within a batch are concurrent.
type Runner struct {
	Input       cloudstore.ObjectStore
	Output      cloudstore.ObjectStore
	Decoder     *decoder.Decoder
	Checkpoints checkpoint.Backend
	Logger      *log.Logger

	// Transform and Events are optional pipeline stages applied to the
	// decoded tree before upload.
	Transform *transform.Processor
	Events    *events.Processor

	// WorkDir is the scratch directory for batch downloads and decoder
	// output. Each run gets its own subdirectory, removed on success.
	WorkDir string

	// Transfers bounds concurrent downloads and uploads per batch.
	Transfers int

	// ShowProgress renders transfer progress bars on stderr.
	ShowProgress bool
}

// BatchResult records the outcome of one batch.
type BatchResult struct {
	Device   string
	Files    int
	Uploaded int
	Skipped  bool
	Err      error
}

// RunResult summarizes a whole backlog run. Success means every batch
// either completed or was skipped as already done.
type RunResult struct {
	RunID     string
	Batches   []BatchResult
	Succeeded int
	Skipped   int
	Failed    int
}

// Success reports whether every batch completed.
func (r RunResult) Success() bool { return r.Failed == 0 }

// Run processes every batch in order. A failing batch is recorded and
// the run continues; only context cancellation aborts.
func (r *Runner) Run(ctx context.Context, batches []Batch) (RunResult, error) {
	if r.Checkpoints == nil {
		r.Checkpoints = checkpoint.Discard{}
	}
	if r.Transfers <= 0 {
		r.Transfers = 4
	}

	result := RunResult{RunID: uuid.NewString()}
	runDir := filepath.Join(r.WorkDir, result.RunID)

	for i, batch := range batches {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		r.Logger.Printf("processing batch %d/%d (%d files, device %s)",
			i+1, len(batches), len(batch), batch.Device())

		br := BatchResult{Device: batch.Device(), Files: len(batch)}

		key := checkpoint.BatchKey(batch)
		if checkpoint.Completed(ctx, r.Checkpoints, key) {
			r.Logger.Printf("batch already completed, skipping")
			br.Skipped = true
			result.Skipped++
			result.Batches = append(result.Batches, br)
			continue
		}

		// Backends with locking keep concurrent runners off the same
		// batch. The lock is renewed while the decode is in flight.
		var lock checkpoint.BatchLock
		if locker, ok := r.Checkpoints.(checkpoint.Locker); ok {
			var lerr error
			lock, lerr = locker.AcquireLock(ctx, key, batchLockTTL)
			if errors.Is(lerr, checkpoint.ErrLockHeld) {
				r.Logger.Printf("batch held by another worker, skipping")
				br.Skipped = true
				result.Skipped++
				result.Batches = append(result.Batches, br)
				continue
			}
			if lerr != nil {
				br.Err = lerr
				result.Failed++
				result.Batches = append(result.Batches, br)
				r.Logger.Printf("failed to acquire batch lock: %v", lerr)
				continue
			}
		}

		cp := checkpoint.New(fmt.Sprintf("%s-batch-%03d", result.RunID, i), batch.Device(), batch)
		if err := r.Checkpoints.Save(ctx, cp); err != nil {
			r.Logger.Printf("failed to save checkpoint: %v", err)
		}

		stopRenew := make(chan struct{})
		if lock != nil {
			go r.renewLock(ctx, lock, stopRenew)
		}

		uploaded, err := r.processBatch(ctx, cp, filepath.Join(runDir, fmt.Sprintf("batch_%03d", i)), batch)
		br.Uploaded = uploaded

		close(stopRenew)
		if lock != nil {
			if rerr := lock.Release(context.Background()); rerr != nil {
				r.Logger.Printf("failed to release batch lock: %v", rerr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			br.Err = err
			result.Failed++
			r.Logger.Printf("batch failed: %v", err)
		} else {
			cp.SetPhase(checkpoint.PhaseComplete)
			if err := r.Checkpoints.Save(ctx, cp); err != nil {
				r.Logger.Printf("failed to save checkpoint: %v", err)
			}
			result.Succeeded++
		}
		result.Batches = append(result.Batches, br)
	}

	os.RemoveAll(runDir)
	r.Logger.Printf("backlog run %s: %d succeeded, %d skipped, %d failed",
		result.RunID, result.Succeeded, result.Skipped, result.Failed)
	return result, nil
}

// renewLock extends the batch lock at half-TTL intervals until stop
// closes or the context ends.
func (r *Runner) renewLock(ctx context.Context, lock checkpoint.BatchLock, stop <-chan struct{}) {
	ticker := time.NewTicker(batchLockTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx); err != nil {
				r.Logger.Printf("failed to extend batch lock: %v", err)
			}
		}
	}
}

func (r *Runner) processBatch(ctx context.Context, cp *checkpoint.Checkpoint, batchDir string, batch Batch) (int, error) {
	inputDir := filepath.Join(batchDir, "input")
	outputDir := filepath.Join(batchDir, "output")
	defer os.RemoveAll(batchDir)

	cp.SetPhase(checkpoint.PhaseDownloading)
	r.Checkpoints.Save(ctx, cp)
	if err := r.download(ctx, batch, inputDir); err != nil {
		return 0, err
	}

	cp.SetPhase(checkpoint.PhaseDecoding)
	r.Checkpoints.Save(ctx, cp)
	if err := r.Decoder.Run(ctx, inputDir, outputDir); err != nil {
		return 0, err
	}

	ix, err := lake.Scan(outputDir)
	if err != nil {
		return 0, canerr.E(canerr.KindData, "backlog.scan", err)
	}

	cp.SetPhase(checkpoint.PhaseProcessing)
	r.Checkpoints.Save(ctx, cp)
	if r.Transform != nil {
		if _, err := r.Transform.Process(ctx, ix); err != nil {
			return 0, err
		}
		// Rescan so derived messages are visible to event detection.
		if ix, err = lake.Scan(outputDir); err != nil {
			return 0, canerr.E(canerr.KindData, "backlog.scan", err)
		}
	}
	if r.Events != nil {
		if _, err := r.Events.Process(ctx, ix); err != nil {
			return 0, err
		}
	}

	cp.SetPhase(checkpoint.PhaseUploading)
	r.Checkpoints.Save(ctx, cp)
	uploaded, err := r.upload(ctx, outputDir)
	if err != nil {
		return uploaded, err
	}
	cp.SetUploaded(uploaded)
	return uploaded, nil
}

// download fetches the batch's raw files into inputDir, flattened to
// base names the way the decoder expects.
func (r *Runner) download(ctx context.Context, batch Batch, inputDir string) error {
	if err := os.MkdirAll(inputDir, 0755); err != nil {
		return err
	}

	bar := r.bar(len(batch), "downloading")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Transfers)

	for _, file := range batch {
		file := file
		g.Go(func() error {
			local := filepath.Join(inputDir, strings.ReplaceAll(file, "/", "_"))
			if err := r.Input.Download(gctx, file, local); err != nil {
				return canerr.E(canerr.KindStorage, "backlog.download", fmt.Errorf("%s: %w", file, err))
			}
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	return g.Wait()
}

// upload pushes the whole decoded tree to the output store, preserving
// relative paths.
func (r *Runner) upload(ctx context.Context, outputDir string) (int, error) {
	var files []string
	err := filepath.Walk(outputDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	bar := r.bar(len(files), "uploading")
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.Transfers)

	for _, path := range files {
		path := path
		g.Go(func() error {
			rel, err := filepath.Rel(outputDir, path)
			if err != nil {
				return err
			}
			object := filepath.ToSlash(rel)
			if err := r.Output.Upload(gctx, path, object); err != nil {
				return canerr.E(canerr.KindStorage, "backlog.upload", fmt.Errorf("%s: %w", object, err))
			}
			if bar != nil {
				bar.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(files), nil
}

func (r *Runner) bar(total int, desc string) *progressbar.ProgressBar {
	if !r.ShowProgress || total == 0 {
		return nil
	}
	return progressbar.Default(int64(total), desc)
}
