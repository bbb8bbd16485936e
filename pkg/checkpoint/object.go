package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/canlake/canlake/pkg/cloudstore"
)

// ObjectConfig configures the object-store checkpoint backend.
type ObjectConfig struct {
	// Prefix is prepended to all checkpoint object names.
	Prefix string
}

// DefaultObjectConfig returns sensible defaults.
func DefaultObjectConfig() ObjectConfig {
	return ObjectConfig{Prefix: "checkpoints/"}
}

// ObjectBackend stores checkpoints as JSON objects in an object store.
// Delete is implemented by overwriting with a tombstone because the
// store interface has no removal operation.
type ObjectBackend struct {
	cfg   ObjectConfig
	store cloudstore.ObjectStore
}

// NewObjectBackend creates a backend over an object store.
func NewObjectBackend(store cloudstore.ObjectStore, cfg ObjectConfig) *ObjectBackend {
	if cfg.Prefix == "" {
		cfg.Prefix = "checkpoints/"
	}
	return &ObjectBackend{cfg: cfg, store: store}
}

func (b *ObjectBackend) key(id string) string {
	return b.cfg.Prefix + id + ".json"
}

// Save persists a checkpoint as a JSON object.
func (b *ObjectBackend) Save(ctx context.Context, cp *Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return b.store.Put(ctx, b.key(cp.ID), bytes.NewReader(data))
}

// Load retrieves a checkpoint by ID.
func (b *ObjectBackend) Load(ctx context.Context, id string) (*Checkpoint, error) {
	r, err := b.store.Get(ctx, b.key(id))
	if err != nil {
		return nil, os.ErrNotExist
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal checkpoint: %w", err)
	}
	if cp.ID == "" {
		return nil, os.ErrNotExist // tombstone
	}
	return &cp, nil
}

// Delete overwrites the checkpoint with an empty tombstone object.
func (b *ObjectBackend) Delete(ctx context.Context, id string) error {
	return b.store.Put(ctx, b.key(id), strings.NewReader("{}"))
}

// ListIncomplete returns all checkpoints that haven't completed.
func (b *ObjectBackend) ListIncomplete(ctx context.Context) ([]*Checkpoint, error) {
	objects, err := b.store.ListAll(ctx, b.cfg.Prefix)
	if err != nil {
		return nil, err
	}

	var checkpoints []*Checkpoint
	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Name, b.cfg.Prefix), ".json")
		cp, err := b.Load(ctx, id)
		if err != nil {
			continue
		}
		if cp.Phase != PhaseComplete {
			checkpoints = append(checkpoints, cp)
		}
	}
	return checkpoints, nil
}

// FindBatch finds the checkpoint for a batch key.
func (b *ObjectBackend) FindBatch(ctx context.Context, batchKey string) (*Checkpoint, error) {
	objects, err := b.store.ListAll(ctx, b.cfg.Prefix)
	if err != nil {
		return nil, err
	}

	for _, obj := range objects {
		if !strings.HasSuffix(obj.Name, ".json") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(obj.Name, b.cfg.Prefix), ".json")
		cp, err := b.Load(ctx, id)
		if err != nil {
			continue
		}
		if cp.BatchKey == batchKey {
			return cp, nil
		}
	}
	return nil, os.ErrNotExist
}

// Name returns "object".
func (b *ObjectBackend) Name() string {
	return "object"
}

var _ Backend = (*ObjectBackend)(nil)
