package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/musink/musink/pkg/accounts"
	"github.com/musink/musink/pkg/logging"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultCategory            = "MutualPlaylist"
	DefaultLogLevel            = "info"
	DefaultPlaylistName        = accounts.DefaultPlaylistName
	DefaultPlaylistDescription = accounts.DefaultPlaylistDescription
	DefaultBatchSize           = accounts.DefaultBatchSize
	DefaultJobTimeout          = 2 * time.Minute
	DefaultMaxJobs             = 4
	DefaultRequestTimeout      = 10 * time.Second
)

// Config holds the worker configuration parsed from the `worker:` section of
// config.yaml. The `server:` key in the same file is ignored.
type Config struct {
	Worker WorkerConfig `yaml:"worker"`
}

// WorkerConfig holds all worker-side settings.
type WorkerConfig struct {
	// HubURL is the WebSocket endpoint of the hub (ws:// or wss://).
	HubURL string `yaml:"hub_url"`

	// Category is announced to the hub in NewService on every connect.
	Category string `yaml:"category"`

	// LogLevel is one of debug | info | warn | error. Hot-reloadable.
	LogLevel string `yaml:"log_level"`

	// JobTimeout bounds one MakeMutualPlaylist job end to end.
	JobTimeout time.Duration `yaml:"job_timeout"`

	// MaxJobs caps concurrently running jobs. Jobs arriving while the worker
	// is at capacity are dropped.
	MaxJobs int `yaml:"max_jobs"`

	Playlist PlaylistConfig  `yaml:"playlist"`
	Accounts accounts.Config `yaml:"accounts"`
}

// PlaylistConfig controls the playlists the worker creates.
type PlaylistConfig struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// BatchSize is how many tracks are added per request.
	BatchSize int `yaml:"batch_size"`
}

// AccountOptions returns the account-service client options for this worker.
func (w WorkerConfig) AccountOptions() accounts.Options {
	opts := w.Accounts.Options()
	opts.PlaylistName = w.Playlist.Name
	opts.PlaylistDescription = w.Playlist.Description
	opts.BatchSize = w.Playlist.BatchSize
	return opts
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("worker config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("worker config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("worker config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Worker: WorkerConfig{
			Category:   DefaultCategory,
			LogLevel:   DefaultLogLevel,
			JobTimeout: DefaultJobTimeout,
			MaxJobs:    DefaultMaxJobs,
			Playlist: PlaylistConfig{
				Name:        DefaultPlaylistName,
				Description: DefaultPlaylistDescription,
				BatchSize:   DefaultBatchSize,
			},
			Accounts: accounts.Config{
				RequestTimeout: DefaultRequestTimeout,
			},
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	w := cfg.Worker
	if w.HubURL == "" {
		return fmt.Errorf("worker.hub_url is required")
	}
	u, err := url.Parse(w.HubURL)
	if err != nil {
		return fmt.Errorf("worker.hub_url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("worker.hub_url scheme %q: want ws or wss", u.Scheme)
	}
	if strings.TrimSpace(w.Category) == "" {
		return fmt.Errorf("worker.category must not be empty")
	}
	if _, err := logging.ParseLevel(w.LogLevel); err != nil {
		return fmt.Errorf("worker.log_level: %w", err)
	}
	if w.JobTimeout <= 0 {
		return fmt.Errorf("worker.job_timeout must be positive")
	}
	if w.MaxJobs <= 0 {
		return fmt.Errorf("worker.max_jobs must be positive")
	}
	if w.Playlist.BatchSize <= 0 || w.Playlist.BatchSize > 100 {
		return fmt.Errorf("worker.playlist.batch_size %d is out of range [1, 100]", w.Playlist.BatchSize)
	}
	if w.Playlist.Name == "" {
		return fmt.Errorf("worker.playlist.name must not be empty")
	}
	return nil
}
