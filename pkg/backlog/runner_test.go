package backlog

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/canlake/canlake/pkg/checkpoint"
	"github.com/canlake/canlake/pkg/cloudstore"
	"github.com/canlake/canlake/pkg/decoder"
	"github.com/canlake/canlake/pkg/table"
)

// stubDecoder writes a shell script that copies a prepared decoded tree
// into the output directory, standing in for the real decode binary.
func stubDecoder(t *testing.T, treeSrc string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub decoder needs a shell")
	}

	script := filepath.Join(t.TempDir(), "decoder.sh")
	content := fmt.Sprintf(`#!/bin/sh
while [ $# -gt 0 ]; do
  case "$1" in
    -i) in="$2"; shift 2 ;;
    -O) out="$2"; shift 2 ;;
    *) shift ;;
  esac
done
mkdir -p "$out"
cp -r %q/. "$out"/
`, treeSrc)
	if err := os.WriteFile(script, []byte(content), 0755); err != nil {
		t.Fatal(err)
	}
	return script
}

func writeDecodedTree(t *testing.T, root string) {
	t.Helper()
	tbl := table.New([]int64{0, 1_000_000})
	if err := tbl.AddColumn("Speed", []float64{10, 20}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "0BFD7754", "CAN1_Speed", "2025", "03", "14", "00000001.parquet")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := tbl.WriteFile(path); err != nil {
		t.Fatal(err)
	}
}

func newTestRunner(t *testing.T, backend checkpoint.Backend) (*Runner, *cloudstore.MemoryStore) {
	t.Helper()

	treeSrc := t.TempDir()
	writeDecodedTree(t, treeSrc)

	input := cloudstore.NewMemoryStore()
	input.PutBytes("0BFD7754/00000001/00000001.MF4", []byte("raw log bytes"))

	output := cloudstore.NewMemoryStore()
	logger := log.New(io.Discard, "", 0)

	return &Runner{
		Input:       input,
		Output:      output,
		Decoder:     decoder.New(stubDecoder(t, treeSrc), logger),
		Checkpoints: backend,
		Logger:      logger,
		WorkDir:     t.TempDir(),
	}, output
}

func TestRunnerProcessesBatch(t *testing.T) {
	r, output := newTestRunner(t, checkpoint.Discard{})

	batches := []Batch{{"0BFD7754/00000001/00000001.MF4"}}
	result, err := r.Run(context.Background(), batches)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Success() || result.Succeeded != 1 {
		t.Fatalf("result = %+v", result)
	}

	objects, err := output.ListAll(context.Background(), "0BFD7754/")
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 1 || objects[0].Name != "0BFD7754/CAN1_Speed/2025/03/14/00000001.parquet" {
		t.Errorf("uploaded objects = %+v", objects)
	}
}

func TestRunnerSkipsCompletedBatch(t *testing.T) {
	backend, err := checkpoint.NewLocalBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	r, _ := newTestRunner(t, backend)

	batches := []Batch{{"0BFD7754/00000001/00000001.MF4"}}
	first, err := r.Run(context.Background(), batches)
	if err != nil {
		t.Fatal(err)
	}
	if first.Succeeded != 1 {
		t.Fatalf("first run = %+v", first)
	}

	second, err := r.Run(context.Background(), batches)
	if err != nil {
		t.Fatal(err)
	}
	if second.Skipped != 1 || second.Succeeded != 0 {
		t.Fatalf("second run should skip the completed batch, got %+v", second)
	}
}

// lockingBackend is an in-memory backend with batch locking, used to
// exercise the runner's multi-worker coordination.
type lockingBackend struct {
	checkpoint.Discard

	mu       sync.Mutex
	held     map[string]bool
	acquired int
	released int
}

func newLockingBackend() *lockingBackend {
	return &lockingBackend{held: make(map[string]bool)}
}

func (b *lockingBackend) AcquireLock(ctx context.Context, batchKey string, ttl time.Duration) (checkpoint.BatchLock, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.held[batchKey] {
		return nil, checkpoint.ErrLockHeld
	}
	b.held[batchKey] = true
	b.acquired++
	return &stubLock{backend: b, key: batchKey}, nil
}

type stubLock struct {
	backend *lockingBackend
	key     string
}

func (l *stubLock) Release(ctx context.Context) error {
	l.backend.mu.Lock()
	defer l.backend.mu.Unlock()
	delete(l.backend.held, l.key)
	l.backend.released++
	return nil
}

func (l *stubLock) Extend(ctx context.Context) error { return nil }

func TestRunnerSkipsLockedBatch(t *testing.T) {
	backend := newLockingBackend()
	batches := []Batch{{"0BFD7754/00000001/00000001.MF4"}}
	backend.held[checkpoint.BatchKey(batches[0])] = true

	r, output := newTestRunner(t, backend)
	result, err := r.Run(context.Background(), batches)
	if err != nil {
		t.Fatal(err)
	}
	if result.Skipped != 1 || result.Succeeded != 0 {
		t.Fatalf("locked batch should be skipped, got %+v", result)
	}
	objects, err := output.ListAll(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(objects) != 0 {
		t.Errorf("locked batch should upload nothing, got %+v", objects)
	}
}

func TestRunnerAcquiresAndReleasesLock(t *testing.T) {
	backend := newLockingBackend()
	r, _ := newTestRunner(t, backend)

	result, err := r.Run(context.Background(), []Batch{{"0BFD7754/00000001/00000001.MF4"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Succeeded != 1 {
		t.Fatalf("result = %+v", result)
	}
	if backend.acquired != 1 || backend.released != 1 {
		t.Errorf("acquired = %d, released = %d, want 1 each", backend.acquired, backend.released)
	}
	if len(backend.held) != 0 {
		t.Errorf("lock still held after run: %v", backend.held)
	}
}

func TestRunnerReportsDecodeFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("stub decoder needs a shell")
	}

	script := filepath.Join(t.TempDir(), "decoder.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 3\n"), 0755); err != nil {
		t.Fatal(err)
	}

	input := cloudstore.NewMemoryStore()
	input.PutBytes("0BFD7754/00000001/00000001.MF4", []byte("raw"))
	logger := log.New(io.Discard, "", 0)

	r := &Runner{
		Input:   input,
		Output:  cloudstore.NewMemoryStore(),
		Decoder: decoder.New(script, logger),
		Logger:  logger,
		WorkDir: t.TempDir(),
	}

	result, err := r.Run(context.Background(), []Batch{{"0BFD7754/00000001/00000001.MF4"}})
	if err != nil {
		t.Fatal(err)
	}
	if result.Success() || result.Failed != 1 {
		t.Fatalf("result = %+v, want one failed batch", result)
	}
	if result.Batches[0].Err == nil {
		t.Error("batch result should carry the decode error")
	}
}
