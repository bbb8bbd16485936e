package cloudstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// LocalStore implements ObjectStore over a local directory tree. Object
// names use forward slashes regardless of platform.
type LocalStore struct {
	root string
}

// NewLocalStore creates a local store rooted at the given directory.
func NewLocalStore(root string) (*LocalStore, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create root directory: %w", err)
	}
	return &LocalStore{root: absRoot}, nil
}

// Scheme returns "file".
func (s *LocalStore) Scheme() string { return "file" }

// ListAll walks the tree and returns objects under the prefix, sorted by name.
func (s *LocalStore) ListAll(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var results []ObjectInfo

	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if info.IsDir() {
			return nil
		}
		rel, _ := filepath.Rel(s.root, path)
		name := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			return nil
		}
		results = append(results, ObjectInfo{
			Name:     name,
			Size:     info.Size(),
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// Download copies an object to a local file.
func (s *LocalStore) Download(ctx context.Context, objectPath, localPath string) error {
	src, err := os.Open(filepath.Join(s.root, filepath.FromSlash(objectPath)))
	if err != nil {
		return fmt.Errorf("failed to open object %s: %w", objectPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	dst, err := os.Create(localPath)
	if err != nil {
		return err
	}
	defer dst.Close()

	_, err = io.Copy(dst, src)
	return err
}

// Upload copies a local file into the tree.
func (s *LocalStore) Upload(ctx context.Context, localPath, objectPath string) error {
	src, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer src.Close()
	return s.Put(ctx, objectPath, src)
}

// Get returns a reader for an object.
func (s *LocalStore) Get(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	f, err := os.Open(filepath.Join(s.root, filepath.FromSlash(objectPath)))
	if err != nil {
		return nil, fmt.Errorf("failed to open object %s: %w", objectPath, err)
	}
	return f, nil
}

// Put writes an object from a reader.
func (s *LocalStore) Put(ctx context.Context, objectPath string, data io.Reader) error {
	fullPath := filepath.Join(s.root, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return err
	}
	f, err := os.Create(fullPath)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(f, data)
	return err
}

// MemoryStore implements ObjectStore in memory (for testing).
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	mtimes  map[string]time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		mtimes:  make(map[string]time.Time),
	}
}

// Scheme returns "memory".
func (s *MemoryStore) Scheme() string { return "memory" }

// ListAll returns objects under the prefix, sorted by name.
func (s *MemoryStore) ListAll(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []ObjectInfo
	for name, data := range s.objects {
		if strings.HasPrefix(name, prefix) {
			results = append(results, ObjectInfo{
				Name:     name,
				Size:     int64(len(data)),
				Modified: s.mtimes[name],
			})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Name < results[j].Name })
	return results, nil
}

// Download copies an object to a local file.
func (s *MemoryStore) Download(ctx context.Context, objectPath, localPath string) error {
	s.mu.RLock()
	data, ok := s.objects[objectPath]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("object not found: %s", objectPath)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0644)
}

// Upload copies a local file into the store.
func (s *MemoryStore) Upload(ctx context.Context, localPath, objectPath string) error {
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[objectPath] = data
	s.mtimes[objectPath] = time.Now()
	s.mu.Unlock()
	return nil
}

// Get returns a reader for an object.
func (s *MemoryStore) Get(ctx context.Context, objectPath string) (io.ReadCloser, error) {
	s.mu.RLock()
	data, ok := s.objects[objectPath]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object not found: %s", objectPath)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put writes an object from a reader.
func (s *MemoryStore) Put(ctx context.Context, objectPath string, data io.Reader) error {
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.objects[objectPath] = b
	s.mtimes[objectPath] = time.Now()
	s.mu.Unlock()
	return nil
}

// PutBytes stores raw bytes under a name. Test helper.
func (s *MemoryStore) PutBytes(objectPath string, data []byte) {
	s.mu.Lock()
	s.objects[objectPath] = append([]byte(nil), data...)
	s.mtimes[objectPath] = time.Now()
	s.mu.Unlock()
}

// Verify interface compliance
var (
	_ ObjectStore = (*LocalStore)(nil)
	_ ObjectStore = (*MemoryStore)(nil)
)
