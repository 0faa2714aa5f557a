package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	// The hub section shares the file and is ignored.
	p := writeConfig(t, `server:
  http_port: 8080
worker:
  hub_url: ws://localhost:8080/ws
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := cfg.Worker
	if w.Category != DefaultCategory {
		t.Errorf("category: got %q, want %q", w.Category, DefaultCategory)
	}
	if w.LogLevel != DefaultLogLevel {
		t.Errorf("log_level: got %q, want %q", w.LogLevel, DefaultLogLevel)
	}
	if w.Playlist.BatchSize != 20 {
		t.Errorf("playlist.batch_size: got %d, want 20", w.Playlist.BatchSize)
	}
	if w.Playlist.Name != "MutualPlaylist" {
		t.Errorf("playlist.name: got %q, want MutualPlaylist", w.Playlist.Name)
	}
	if w.MaxJobs != DefaultMaxJobs {
		t.Errorf("max_jobs: got %d, want %d", w.MaxJobs, DefaultMaxJobs)
	}
	if w.JobTimeout != DefaultJobTimeout {
		t.Errorf("job_timeout: got %v, want %v", w.JobTimeout, DefaultJobTimeout)
	}
	if w.Accounts.RequestTimeout != DefaultRequestTimeout {
		t.Errorf("accounts.request_timeout: got %v, want %v", w.Accounts.RequestTimeout, DefaultRequestTimeout)
	}
}

func TestLoad_Full(t *testing.T) {
	t.Setenv("TEST_WORKER_SECRET", "s3cret")
	p := writeConfig(t, `worker:
  hub_url: wss://hub.example.com/ws
  category: Other
  log_level: debug
  job_timeout: 30s
  playlist:
    name: Ours
    description: made together
    batch_size: 50
  accounts:
    client_id: cid
    client_secret_env: TEST_WORKER_SECRET
    request_timeout: 4s
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	w := cfg.Worker
	if w.HubURL != "wss://hub.example.com/ws" || w.Category != "Other" || w.JobTimeout != 30*time.Second {
		t.Errorf("worker: got %+v", w)
	}
	opts := w.AccountOptions()
	if opts.ClientID != "cid" || opts.ClientSecret != "s3cret" {
		t.Errorf("credentials: got id %q secret %q", opts.ClientID, opts.ClientSecret)
	}
	if opts.PlaylistName != "Ours" || opts.PlaylistDescription != "made together" || opts.BatchSize != 50 {
		t.Errorf("playlist options: got %+v", opts)
	}
	if opts.Timeout != 4*time.Second {
		t.Errorf("timeout: got %v, want 4s", opts.Timeout)
	}
}

func TestLoad_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing hub_url", "worker:\n  category: MutualPlaylist\n"},
		{"http scheme", "worker:\n  hub_url: http://localhost/ws\n"},
		{"empty category", "worker:\n  hub_url: ws://h/ws\n  category: \" \"\n"},
		{"bad log level", "worker:\n  hub_url: ws://h/ws\n  log_level: chatty\n"},
		{"batch too large", "worker:\n  hub_url: ws://h/ws\n  playlist:\n    batch_size: 101\n"},
		{"zero max jobs", "worker:\n  hub_url: ws://h/ws\n  max_jobs: 0\n"},
		{"zero job timeout", "worker:\n  hub_url: ws://h/ws\n  job_timeout: 0s\n"},
		{"bad yaml", "worker: [\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tc.yaml)); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/config.yaml"); err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestWatch_ReloadsOnWrite(t *testing.T) {
	p := writeConfig(t, "worker:\n  hub_url: ws://h/ws\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go Watch(ctx, p, func(c *Config) { got <- c }) //nolint:errcheck
	time.Sleep(50 * time.Millisecond)             // let the watcher register

	if err := os.WriteFile(p, []byte("worker:\n  hub_url: ws://h/ws\n  log_level: debug\n"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-got:
			if c.Worker.LogLevel == "debug" {
				return
			}
		case <-deadline:
			t.Fatal("no reload observed")
		}
	}
}
