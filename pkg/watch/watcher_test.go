package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestWatcherPicksUpNewLogFile(t *testing.T) {
	dir := t.TempDir()

	w, err := NewWatcher()
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()
	w.SetDebounce(50 * time.Millisecond)

	var mu sync.Mutex
	var got []string
	w.OnFile = func(path string) error {
		mu.Lock()
		got = append(got, filepath.Base(path))
		mu.Unlock()
		return nil
	}

	if err := w.Watch(dir); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	if err := os.WriteFile(filepath.Join(dir, "00000001.MF4"), []byte("log"), 0644); err != nil {
		t.Fatal(err)
	}
	// Not a log file: must be ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for file callback")
		case <-time.After(20 * time.Millisecond):
		}
	}

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "00000001.MF4" {
		t.Errorf("processed files = %v", got)
	}
}

func TestInboxPath(t *testing.T) {
	tests := []struct {
		name  string
		inbox string
		path  string
		want  string
	}{
		{
			name:  "device session layout kept",
			inbox: "/inbox",
			path:  "/inbox/0BFD7754/00000001/00000001.MF4",
			want:  "0BFD7754/00000001/00000001.MF4",
		},
		{
			name:  "flat file gets synthetic session",
			inbox: "/inbox",
			path:  "/inbox/00000001.MF4",
			want:  "INBOX000/00000000/00000001.MF4",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InboxPath(tt.inbox, tt.path); got != tt.want {
				t.Errorf("InboxPath = %q, want %q", got, tt.want)
			}
		})
	}
}
