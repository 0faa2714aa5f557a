package confwatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// loadFirstLine returns the file's first line, failing on "bad".
func loadFirstLine(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(strings.SplitN(string(b), "\n", 2)[0])
	if s == "bad" {
		return "", errors.New("invalid config")
	}
	return s, nil
}

// startWatch runs Watch in the background and returns the applied values.
func startWatch(t *testing.T, path string) (<-chan string, *atomic.Int32) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 16)
	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, loadFirstLine, func(s string) {
			calls.Add(1)
			got <- s
		})
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("Watch did not return after cancel")
		}
	})
	// Let the watcher register before the test mutates the directory.
	time.Sleep(50 * time.Millisecond)
	return got, &calls
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, got <-chan string, want string) {
	t.Helper()
	select {
	case s := <-got:
		if s != want {
			t.Errorf("applied %q, want %q", s, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "one\n")
	got, _ := startWatch(t, path)

	writeFile(t, path, "two\n")
	waitFor(t, got, "two")
}

func TestWatch_InvalidWriteKeepsPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "one\n")
	got, calls := startWatch(t, path)

	writeFile(t, path, "bad\n")
	time.Sleep(4 * Debounce)
	if n := calls.Load(); n != 0 {
		t.Fatalf("apply called %d times for invalid config, want 0", n)
	}

	writeFile(t, path, "three\n")
	waitFor(t, got, "three")
}

func TestWatch_AtomicRename(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "one\n")
	got, _ := startWatch(t, path)

	for _, v := range []string{"two", "three"} {
		tmp := filepath.Join(dir, ".config.yaml.tmp")
		writeFile(t, tmp, v+"\n")
		if err := os.Rename(tmp, path); err != nil {
			t.Fatal(err)
		}
		waitFor(t, got, v)
	}
}

func TestWatch_BurstCollapsed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "one\n")
	got, calls := startWatch(t, path)

	for i := 0; i < 5; i++ {
		writeFile(t, path, "burst\n")
	}
	waitFor(t, got, "burst")
	time.Sleep(4 * Debounce)
	if n := calls.Load(); n != 1 {
		t.Errorf("apply calls: got %d, want 1", n)
	}
}

func TestWatch_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "one\n")
	_, calls := startWatch(t, path)

	writeFile(t, filepath.Join(dir, "other.yaml"), "two\n")
	time.Sleep(4 * Debounce)
	if n := calls.Load(); n != 0 {
		t.Errorf("apply calls: got %d, want 0", n)
	}
}

func TestWatch_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nope", "config.yaml")
	if err := Watch(context.Background(), path, loadFirstLine, func(string) {}); err == nil {
		t.Error("expected error for missing directory")
	}
}
