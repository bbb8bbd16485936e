// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all canlake configuration.
type Config struct {
	Version int `yaml:"version"`

	Storage    StorageConfig    `yaml:"storage"`
	Decoder    DecoderConfig    `yaml:"decoder"`
	Processing ProcessingConfig `yaml:"processing"`
	Notify     NotifyConfig     `yaml:"notify"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

// StorageConfig selects the object-store backend and its buckets. The
// input bucket holds raw log files and the JSON configuration
// documents; the output bucket holds the decoded lake plus results.
type StorageConfig struct {
	Backend      string `yaml:"backend"` // s3 | local
	InputBucket  string `yaml:"input_bucket"`
	OutputBucket string `yaml:"output_bucket"`

	// S3 settings, ignored for the local backend. Credentials come
	// from the environment or instance role when unset.
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	UsePathStyle    bool          `yaml:"use_path_style"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	TransferTimeout time.Duration `yaml:"transfer_timeout"`

	// LocalRoot anchors bucket names for the local backend.
	LocalRoot string `yaml:"local_root"`
}

// DecoderConfig locates the external MDF decoder binary.
type DecoderConfig struct {
	Path    string `yaml:"path"`
	WorkDir string `yaml:"work_dir"` // scratch dir for batch downloads
}

// ProcessingConfig tunes the aggregation and backlog stages.
type ProcessingConfig struct {
	Workers            int    `yaml:"workers"` // 0 = auto
	TimeColumn         string `yaml:"time_column"`
	StatsOverFullTable bool   `yaml:"stats_over_full_table"`
}

// NotifyConfig wires event notifications to SNS. An empty topic ARN
// means notifications are logged instead of published.
type NotifyConfig struct {
	TopicARN string `yaml:"topic_arn"`
	Region   string `yaml:"region"`
}

// CheckpointConfig selects the batch-completion checkpoint backend.
type CheckpointConfig struct {
	Backend   string `yaml:"backend"` // file | redis | object | none
	Dir       string `yaml:"dir"`
	RedisAddr string `yaml:"redis_addr"`
}

// TelemetryConfig for optional traces.
type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the default configuration.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	canlakeDir := filepath.Join(homeDir, ".canlake")

	return &Config{
		Version: 1,
		Storage: StorageConfig{
			Backend:         "s3",
			Region:          "us-east-1",
			TransferTimeout: 15 * time.Minute,
		},
		Decoder: DecoderConfig{
			Path:    "mdf2parquet_decode",
			WorkDir: filepath.Join(os.TempDir(), "canlake"),
		},
		Processing: ProcessingConfig{
			Workers: 0, // auto
		},
		Checkpoint: CheckpointConfig{
			Backend: "file",
			Dir:     filepath.Join(canlakeDir, "checkpoints"),
		},
		Telemetry: TelemetryConfig{
			Enabled: false,
		},
	}
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	paths  []string // Paths that were loaded
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config: Default(),
	}
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Start with defaults
	m.config = Default()

	// Load from paths in order (later overrides earlier)
	paths := m.getConfigPaths()
	for _, path := range paths {
		if err := m.loadFile(path); err != nil {
			// Ignore missing files, but log errors for existing files
			if !os.IsNotExist(err) {
				return err
			}
		} else {
			m.paths = append(m.paths, path)
		}
	}

	// Override with environment variables
	m.loadEnv()

	return nil
}

// getConfigPaths returns config file paths in priority order.
func (m *Manager) getConfigPaths() []string {
	var paths []string

	// System config
	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/canlake/config.yaml")
	}

	// User config
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".canlake", "config.yaml"))
	}

	// Project config (current directory)
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".canlake.yaml"))
	}

	return paths
}

// loadFile loads a single config file and merges it.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var partial Config
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	// Merge non-zero values
	m.merge(&partial)
	return nil
}

// merge merges non-zero values from src into config.
func (m *Manager) merge(src *Config) {
	// Storage
	if src.Storage.Backend != "" {
		m.config.Storage.Backend = src.Storage.Backend
	}
	if src.Storage.InputBucket != "" {
		m.config.Storage.InputBucket = src.Storage.InputBucket
	}
	if src.Storage.OutputBucket != "" {
		m.config.Storage.OutputBucket = src.Storage.OutputBucket
	}
	if src.Storage.Region != "" {
		m.config.Storage.Region = src.Storage.Region
	}
	if src.Storage.Endpoint != "" {
		m.config.Storage.Endpoint = src.Storage.Endpoint
	}
	if src.Storage.UsePathStyle {
		m.config.Storage.UsePathStyle = true
	}
	if src.Storage.AccessKeyID != "" {
		m.config.Storage.AccessKeyID = src.Storage.AccessKeyID
	}
	if src.Storage.SecretAccessKey != "" {
		m.config.Storage.SecretAccessKey = src.Storage.SecretAccessKey
	}
	if src.Storage.TransferTimeout != 0 {
		m.config.Storage.TransferTimeout = src.Storage.TransferTimeout
	}
	if src.Storage.LocalRoot != "" {
		m.config.Storage.LocalRoot = src.Storage.LocalRoot
	}

	// Decoder
	if src.Decoder.Path != "" {
		m.config.Decoder.Path = src.Decoder.Path
	}
	if src.Decoder.WorkDir != "" {
		m.config.Decoder.WorkDir = src.Decoder.WorkDir
	}

	// Processing
	if src.Processing.Workers != 0 {
		m.config.Processing.Workers = src.Processing.Workers
	}
	if src.Processing.TimeColumn != "" {
		m.config.Processing.TimeColumn = src.Processing.TimeColumn
	}
	if src.Processing.StatsOverFullTable {
		m.config.Processing.StatsOverFullTable = true
	}

	// Notify
	if src.Notify.TopicARN != "" {
		m.config.Notify.TopicARN = src.Notify.TopicARN
	}
	if src.Notify.Region != "" {
		m.config.Notify.Region = src.Notify.Region
	}

	// Checkpoint
	if src.Checkpoint.Backend != "" {
		m.config.Checkpoint.Backend = src.Checkpoint.Backend
	}
	if src.Checkpoint.Dir != "" {
		m.config.Checkpoint.Dir = src.Checkpoint.Dir
	}
	if src.Checkpoint.RedisAddr != "" {
		m.config.Checkpoint.RedisAddr = src.Checkpoint.RedisAddr
	}

	// Telemetry
	if src.Telemetry.Enabled {
		m.config.Telemetry.Enabled = true
	}
	if src.Telemetry.Endpoint != "" {
		m.config.Telemetry.Endpoint = src.Telemetry.Endpoint
	}
}

// loadEnv loads configuration from environment variables.
func (m *Manager) loadEnv() {
	if v := os.Getenv("CANLAKE_STORAGE_BACKEND"); v != "" {
		m.config.Storage.Backend = v
	}
	if v := os.Getenv("CANLAKE_INPUT_BUCKET"); v != "" {
		m.config.Storage.InputBucket = v
	}
	if v := os.Getenv("CANLAKE_OUTPUT_BUCKET"); v != "" {
		m.config.Storage.OutputBucket = v
	}
	if v := os.Getenv("CANLAKE_REGION"); v != "" {
		m.config.Storage.Region = v
	}
	if v := os.Getenv("CANLAKE_ENDPOINT"); v != "" {
		m.config.Storage.Endpoint = v
	}
	if v := os.Getenv("CANLAKE_DECODER"); v != "" {
		m.config.Decoder.Path = v
	}
	if v := os.Getenv("CANLAKE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.config.Processing.Workers = n
		}
	}
	if v := os.Getenv("CANLAKE_SNS_TOPIC_ARN"); v != "" {
		m.config.Notify.TopicARN = v
	}
	if v := os.Getenv("CANLAKE_REDIS_ADDR"); v != "" {
		m.config.Checkpoint.RedisAddr = v
		m.config.Checkpoint.Backend = "redis"
	}
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to the user config file.
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	home, err := os.UserHomeDir()
	if err != nil {
		return err
	}

	configDir := filepath.Join(home, ".canlake")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(configDir, "config.yaml"), data, 0644)
}

// Global instance
var (
	globalManager *Manager
	globalOnce    sync.Once
)

// Global returns the global configuration manager.
func Global() *Manager {
	globalOnce.Do(func() {
		globalManager = NewManager()
		globalManager.Load()
	})
	return globalManager
}
