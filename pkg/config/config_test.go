package config

import (
	"os"
	"path/filepath"
	"testing"
)

// isolate points HOME and the working directory at temp dirs so the
// developer's real config files stay out of the test.
func isolate(t *testing.T) string {
	t.Helper()
	tmp := t.TempDir()
	t.Setenv("HOME", tmp)
	oldWD, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(oldWD); err != nil {
			t.Fatal(err)
		}
	})
	return tmp
}

func TestDefaults(t *testing.T) {
	isolate(t)

	mgr := NewManager()
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := mgr.Get()

	if cfg.Storage.Backend != "s3" {
		t.Errorf("Storage.Backend = %q, want s3", cfg.Storage.Backend)
	}
	if cfg.Decoder.Path != "mdf2parquet_decode" {
		t.Errorf("Decoder.Path = %q, want mdf2parquet_decode", cfg.Decoder.Path)
	}
	if cfg.Checkpoint.Backend != "file" {
		t.Errorf("Checkpoint.Backend = %q, want file", cfg.Checkpoint.Backend)
	}
	if cfg.Telemetry.Enabled {
		t.Error("Telemetry.Enabled = true, want false by default")
	}
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)

	t.Setenv("CANLAKE_STORAGE_BACKEND", "local")
	t.Setenv("CANLAKE_INPUT_BUCKET", "raw-logs")
	t.Setenv("CANLAKE_OUTPUT_BUCKET", "lake")
	t.Setenv("CANLAKE_WORKERS", "12")
	t.Setenv("CANLAKE_REDIS_ADDR", "localhost:6379")

	mgr := NewManager()
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := mgr.Get()

	if cfg.Storage.Backend != "local" {
		t.Errorf("Storage.Backend = %q, want local", cfg.Storage.Backend)
	}
	if cfg.Storage.InputBucket != "raw-logs" {
		t.Errorf("Storage.InputBucket = %q, want raw-logs", cfg.Storage.InputBucket)
	}
	if cfg.Processing.Workers != 12 {
		t.Errorf("Processing.Workers = %d, want 12", cfg.Processing.Workers)
	}
	// A Redis address flips the checkpoint backend.
	if cfg.Checkpoint.Backend != "redis" {
		t.Errorf("Checkpoint.Backend = %q, want redis", cfg.Checkpoint.Backend)
	}
}

func TestProjectFileOverridesUserFile(t *testing.T) {
	tmp := isolate(t)

	userDir := filepath.Join(tmp, ".canlake")
	if err := os.MkdirAll(userDir, 0755); err != nil {
		t.Fatal(err)
	}
	userCfg := "storage:\n  input_bucket: user-bucket\n  region: eu-west-1\n"
	if err := os.WriteFile(filepath.Join(userDir, "config.yaml"), []byte(userCfg), 0644); err != nil {
		t.Fatal(err)
	}

	projectCfg := "storage:\n  input_bucket: project-bucket\n"
	if err := os.WriteFile(filepath.Join(tmp, ".canlake.yaml"), []byte(projectCfg), 0644); err != nil {
		t.Fatal(err)
	}

	mgr := NewManager()
	if err := mgr.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg := mgr.Get()

	if cfg.Storage.InputBucket != "project-bucket" {
		t.Errorf("Storage.InputBucket = %q, want project-bucket (project file wins)", cfg.Storage.InputBucket)
	}
	if cfg.Storage.Region != "eu-west-1" {
		t.Errorf("Storage.Region = %q, want eu-west-1 (user file value kept)", cfg.Storage.Region)
	}
	if len(mgr.GetPaths()) != 2 {
		t.Errorf("GetPaths() = %v, want 2 loaded files", mgr.GetPaths())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	isolate(t)

	mgr := NewManager()
	if err := mgr.Load(); err != nil {
		t.Fatal(err)
	}
	mgr.Get().Storage.InputBucket = "saved-bucket"
	if err := mgr.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded := NewManager()
	if err := reloaded.Load(); err != nil {
		t.Fatal(err)
	}
	if got := reloaded.Get().Storage.InputBucket; got != "saved-bucket" {
		t.Errorf("InputBucket after reload = %q, want saved-bucket", got)
	}
}
