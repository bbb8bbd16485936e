package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/canlake/canlake/pkg/config"
)

func TestNewCheckpointBackend(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		wantName string
		wantErr  bool
	}{
		{name: "default is file", backend: "", wantName: "local"},
		{name: "file", backend: "file", wantName: "local"},
		{name: "none", backend: "none", wantName: "discard"},
		{name: "object", backend: "object", wantName: "object"},
		{name: "unknown", backend: "etcd", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			cfg := config.Default()
			cfg.Checkpoint.Backend = tt.backend
			cfg.Checkpoint.Dir = filepath.Join(root, "checkpoints")
			cfg.Storage.Backend = "local"
			cfg.Storage.LocalRoot = root
			cfg.Storage.OutputBucket = "lake"

			b, err := newCheckpointBackend(context.Background(), cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("newCheckpointBackend(%q) should fail", tt.backend)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if b.Name() != tt.wantName {
				t.Errorf("backend name = %q, want %q", b.Name(), tt.wantName)
			}
		})
	}
}
