package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Backend defines the interface for checkpoint storage backends.
// Implementations can store checkpoints in various locations (local
// filesystem, object store, Redis).
type Backend interface {
	// Save persists a checkpoint to the backend.
	Save(ctx context.Context, cp *Checkpoint) error

	// Load retrieves a checkpoint by ID.
	Load(ctx context.Context, id string) (*Checkpoint, error)

	// Delete removes a checkpoint.
	Delete(ctx context.Context, id string) error

	// ListIncomplete returns all checkpoints that haven't completed.
	ListIncomplete(ctx context.Context) ([]*Checkpoint, error)

	// FindBatch finds a checkpoint for the given batch key.
	FindBatch(ctx context.Context, batchKey string) (*Checkpoint, error)

	// Name returns the backend name for logging/debugging.
	Name() string
}

// ErrLockHeld reports that another worker already holds a batch lock.
var ErrLockHeld = errors.New("lock held by another worker")

// BatchLock is a held lock on one batch.
type BatchLock interface {
	// Release gives the lock up. Only the holder's release takes effect.
	Release(ctx context.Context) error

	// Extend renews the lock's TTL while a long decode is in flight.
	Extend(ctx context.Context) error
}

// Locker is the optional locking capability of a Backend. Backends
// that implement it let concurrent runners coordinate, so no two
// workers decode the same batch at the same time. AcquireLock returns
// ErrLockHeld when the batch is taken.
type Locker interface {
	AcquireLock(ctx context.Context, batchKey string, ttl time.Duration) (BatchLock, error)
}

// LocalBackend wraps the file-based Manager as a Backend.
type LocalBackend struct {
	mgr *Manager
}

// NewLocalBackend creates a backend using the local filesystem.
func NewLocalBackend(dir string) (*LocalBackend, error) {
	mgr, err := NewManager(dir)
	if err != nil {
		return nil, err
	}
	return &LocalBackend{mgr: mgr}, nil
}

// Manager returns the underlying file manager.
func (b *LocalBackend) Manager() *Manager { return b.mgr }

// Save persists a checkpoint to the local filesystem.
func (b *LocalBackend) Save(ctx context.Context, cp *Checkpoint) error {
	cp.mu.Lock()
	if cp.path == "" {
		cp.path = filepath.Join(b.mgr.dir, cp.ID+".checkpoint")
	}
	cp.mu.Unlock()
	return cp.Save()
}

// Load retrieves a checkpoint from the local filesystem.
func (b *LocalBackend) Load(ctx context.Context, id string) (*Checkpoint, error) {
	return b.mgr.Load(id)
}

// Delete removes a checkpoint from the local filesystem.
func (b *LocalBackend) Delete(ctx context.Context, id string) error {
	return b.mgr.Delete(id)
}

// ListIncomplete returns all incomplete checkpoints.
func (b *LocalBackend) ListIncomplete(ctx context.Context) ([]*Checkpoint, error) {
	return b.mgr.ListIncomplete()
}

// FindBatch finds a checkpoint for the batch key.
func (b *LocalBackend) FindBatch(ctx context.Context, batchKey string) (*Checkpoint, error) {
	return b.mgr.Find(batchKey)
}

// Name returns "local".
func (b *LocalBackend) Name() string {
	return "local"
}

// Completed reports whether a batch already ran to completion through
// any backend. Backend lookup errors count as not completed.
func Completed(ctx context.Context, b Backend, batchKey string) bool {
	cp, err := b.FindBatch(ctx, batchKey)
	return err == nil && cp.Phase == PhaseComplete
}

// Discard is a no-op backend for runs without checkpointing.
type Discard struct{}

func (Discard) Save(ctx context.Context, cp *Checkpoint) error { return nil }
func (Discard) Load(ctx context.Context, id string) (*Checkpoint, error) {
	return nil, os.ErrNotExist
}
func (Discard) Delete(ctx context.Context, id string) error { return nil }
func (Discard) ListIncomplete(ctx context.Context) ([]*Checkpoint, error) {
	return nil, nil
}
func (Discard) FindBatch(ctx context.Context, batchKey string) (*Checkpoint, error) {
	return nil, os.ErrNotExist
}
func (Discard) Name() string { return "discard" }

var (
	_ Backend = (*LocalBackend)(nil)
	_ Backend = Discard{}
)
