// Package checkpoint provides resume capability for interrupted backlog
// runs. Critical for long backlogs where a run may be cut short: already
// completed batches are skipped on the next invocation.
package checkpoint

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Batch phases.
const (
	PhaseStarting    = "starting"
	PhaseDownloading = "downloading"
	PhaseDecoding    = "decoding"
	PhaseProcessing  = "processing"
	PhaseUploading   = "uploading"
	PhaseComplete    = "complete"
)

// Checkpoint tracks the progress of one backlog batch.
type Checkpoint struct {
	// Identification
	ID       string `json:"id"`
	BatchKey string `json:"batch_key"`
	Device   string `json:"device"`

	// Progress
	Files         []string `json:"files"`
	FilesUploaded int      `json:"files_uploaded"`

	// State
	Phase       string     `json:"phase"`
	StartedAt   time.Time  `json:"started_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Internal
	path string
	mu   sync.Mutex
}

// BatchKey derives a stable identifier from a batch's file list. The
// same set of files maps to the same key regardless of order.
func BatchKey(files []string) string {
	sorted := append([]string(nil), files...)
	sort.Strings(sorted)
	sum := sha1.Sum([]byte(strings.Join(sorted, "\n")))
	return hex.EncodeToString(sum[:])
}

// New builds a checkpoint without binding it to a file path. Backends
// that persist to disk attach the path on first save.
func New(id, device string, files []string) *Checkpoint {
	return &Checkpoint{
		ID:        id,
		BatchKey:  BatchKey(files),
		Device:    device,
		Files:     files,
		Phase:     PhaseStarting,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
}

// Manager handles checkpoint persistence on the local filesystem.
type Manager struct {
	dir    string
	mu     sync.RWMutex
	active map[string]*Checkpoint
}

// NewManager creates a new checkpoint manager.
func NewManager(checkpointDir string) (*Manager, error) {
	if err := os.MkdirAll(checkpointDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	return &Manager{
		dir:    checkpointDir,
		active: make(map[string]*Checkpoint),
	}, nil
}

// Create creates a new checkpoint for a batch.
func (m *Manager) Create(id, device string, files []string) *Checkpoint {
	cp := &Checkpoint{
		ID:        id,
		BatchKey:  BatchKey(files),
		Device:    device,
		Files:     files,
		Phase:     PhaseStarting,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
		path:      filepath.Join(m.dir, id+".checkpoint"),
	}

	m.mu.Lock()
	m.active[id] = cp
	m.mu.Unlock()

	cp.Save()
	return cp
}

// Load loads a checkpoint from disk.
func (m *Manager) Load(id string) (*Checkpoint, error) {
	path := filepath.Join(m.dir, id+".checkpoint")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, err
	}
	cp.path = path

	m.mu.Lock()
	m.active[id] = &cp
	m.mu.Unlock()

	return &cp, nil
}

// Find finds an existing checkpoint for a batch.
func (m *Manager) Find(batchKey string) (*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}

		if cp.BatchKey == batchKey {
			cp.path = path
			return &cp, nil
		}
	}

	return nil, os.ErrNotExist
}

// IsComplete reports whether a batch already ran to completion.
func (m *Manager) IsComplete(batchKey string) bool {
	cp, err := m.Find(batchKey)
	return err == nil && cp.Phase == PhaseComplete
}

// Delete removes a checkpoint.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	path := filepath.Join(m.dir, id+".checkpoint")
	return os.Remove(path)
}

// ListIncomplete returns all incomplete checkpoints.
func (m *Manager) ListIncomplete() ([]*Checkpoint, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, err
	}

	var checkpoints []*Checkpoint
	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(m.dir, entry.Name()))
		if err != nil {
			continue
		}

		var cp Checkpoint
		if err := json.Unmarshal(data, &cp); err != nil {
			continue
		}

		if cp.Phase != PhaseComplete {
			cp.path = filepath.Join(m.dir, entry.Name())
			checkpoints = append(checkpoints, &cp)
		}
	}

	return checkpoints, nil
}

// Cleanup removes checkpoints older than maxAge.
func (m *Manager) Cleanup(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0

	for _, entry := range entries {
		if filepath.Ext(entry.Name()) != ".checkpoint" {
			continue
		}

		path := filepath.Join(m.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}

	return removed, nil
}

// --- Checkpoint Methods ---

// SetPhase updates the phase.
func (c *Checkpoint) SetPhase(phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Phase = phase
	c.UpdatedAt = time.Now()

	if phase == PhaseComplete {
		now := time.Now()
		c.CompletedAt = &now
	}
}

// SetUploaded updates the number of uploaded result files.
func (c *Checkpoint) SetUploaded(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.FilesUploaded = n
	c.UpdatedAt = time.Now()
}

// Save persists the checkpoint to disk.
func (c *Checkpoint) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	// Write to temp file first, then rename (atomic)
	tempPath := c.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}

	return os.Rename(tempPath, c.path)
}

// Duration returns how long the batch has been running.
func (c *Checkpoint) Duration() time.Duration {
	if c.CompletedAt != nil {
		return c.CompletedAt.Sub(c.StartedAt)
	}
	return time.Since(c.StartedAt)
}
