package checkpoint

import (
	"context"
	"testing"

	"github.com/canlake/canlake/pkg/cloudstore"
)

func TestBatchKeyOrderIndependent(t *testing.T) {
	a := BatchKey([]string{"D/1/x.MF4", "D/1/y.MF4"})
	b := BatchKey([]string{"D/1/y.MF4", "D/1/x.MF4"})
	if a != b {
		t.Error("batch key should not depend on file order")
	}
	if a == BatchKey([]string{"D/1/x.MF4"}) {
		t.Error("different file sets should yield different keys")
	}
}

func TestManagerLifecycle(t *testing.T) {
	mgr, err := NewManager(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}

	files := []string{"0BFD7754/00000001/00000001.MF4"}
	cp := mgr.Create("run-1-batch-0", "0BFD7754", files)

	if mgr.IsComplete(cp.BatchKey) {
		t.Error("fresh checkpoint should not be complete")
	}

	found, err := mgr.Find(cp.BatchKey)
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != "run-1-batch-0" || found.Device != "0BFD7754" {
		t.Errorf("found = %+v", found)
	}

	cp.SetPhase(PhaseComplete)
	if err := cp.Save(); err != nil {
		t.Fatal(err)
	}
	if !mgr.IsComplete(cp.BatchKey) {
		t.Error("completed checkpoint should report complete")
	}

	incomplete, err := mgr.ListIncomplete()
	if err != nil {
		t.Fatal(err)
	}
	if len(incomplete) != 0 {
		t.Errorf("no incomplete checkpoints expected, got %d", len(incomplete))
	}
}

func TestObjectBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewObjectBackend(cloudstore.NewMemoryStore(), DefaultObjectConfig())

	cp := &Checkpoint{
		ID:       "run-2-batch-0",
		BatchKey: BatchKey([]string{"AABBCCDD/00000002/00000001.MF4"}),
		Device:   "AABBCCDD",
		Phase:    PhaseDecoding,
	}
	if err := backend.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}

	loaded, err := backend.Load(ctx, cp.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Phase != PhaseDecoding {
		t.Errorf("phase = %s", loaded.Phase)
	}

	if Completed(ctx, backend, cp.BatchKey) {
		t.Error("incomplete batch reported complete")
	}

	cp.Phase = PhaseComplete
	if err := backend.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}
	if !Completed(ctx, backend, cp.BatchKey) {
		t.Error("completed batch not reported complete")
	}

	if err := backend.Delete(ctx, cp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := backend.Load(ctx, cp.ID); err == nil {
		t.Error("deleted checkpoint should not load")
	}
}
