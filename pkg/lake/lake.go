// Package lake indexes a decoded Parquet tree laid out as
// device/message/YYYY/MM/DD/file.parquet, the structure the external
// decoder writes and every downstream stage reads.
package lake

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileKey identifies one decoded log file across its per-message
// directories. Date is "YYYY/MM/DD".
type FileKey struct {
	Device   string
	Date     string
	FileName string
}

// Index maps file keys to the messages decoded for them.
type Index struct {
	root     string
	messages map[FileKey][]string
	order    []FileKey
}

// Scan walks a decoded tree and indexes every Parquet file.
func Scan(root string) (*Index, error) {
	ix := &Index{root: root, messages: make(map[FileKey][]string)}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || !strings.HasSuffix(path, ".parquet") {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) < 6 {
			return nil // not a device/message/YYYY/MM/DD/file path
		}
		n := len(parts)
		key := FileKey{
			Device:   parts[n-6],
			Date:     strings.Join(parts[n-4:n-1], "/"),
			FileName: parts[n-1],
		}
		if _, ok := ix.messages[key]; !ok {
			ix.order = append(ix.order, key)
		}
		ix.messages[key] = append(ix.messages[key], parts[n-5])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ix, nil
}

// Keys returns the file keys in scan order.
func (ix *Index) Keys() []FileKey { return ix.order }

// MessagesFor returns the messages decoded for one file.
func (ix *Index) MessagesFor(key FileKey) []string { return ix.messages[key] }

// HasMessage reports whether a message was decoded for the file.
func (ix *Index) HasMessage(key FileKey, message string) bool {
	for _, m := range ix.messages[key] {
		if m == message {
			return true
		}
	}
	return false
}

// MessageNames returns every distinct message in the tree, sorted.
func (ix *Index) MessageNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, msgs := range ix.messages {
		for _, m := range msgs {
			if !seen[m] {
				seen[m] = true
				names = append(names, m)
			}
		}
	}
	sort.Strings(names)
	return names
}

// MessagesMatching returns messages whose name contains the substring.
func (ix *Index) MessagesMatching(substr string) []string {
	var out []string
	for _, m := range ix.MessageNames() {
		if strings.Contains(m, substr) {
			out = append(out, m)
		}
	}
	return out
}

// FilePath resolves the local path of one (file, message) pair.
func (ix *Index) FilePath(key FileKey, message string) string {
	return filepath.Join(ix.root, key.Device, message, filepath.FromSlash(key.Date), key.FileName)
}

// Root returns the tree root.
func (ix *Index) Root() string { return ix.root }
