package accounts

import (
	"os"
	"time"
)

// Config is the `accounts:` block shared by the hub and worker config files.
// The client secret is never stored in the file; ClientSecretEnv names the
// environment variable holding it.
type Config struct {
	ClientID        string        `yaml:"client_id"`
	ClientSecretEnv string        `yaml:"client_secret_env"`
	RedirectURL     string        `yaml:"redirect_url"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`

	// TokenURL and APIBaseURL override the public endpoints.
	TokenURL   string `yaml:"token_url"`
	APIBaseURL string `yaml:"api_base_url"`
}

// ClientSecret returns the client secret resolved from the environment.
func (c Config) ClientSecret() string {
	if c.ClientSecretEnv == "" {
		return ""
	}
	return os.Getenv(c.ClientSecretEnv)
}

// Options converts the file block into client Options.
func (c Config) Options() Options {
	return Options{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret(),
		RedirectURL:  c.RedirectURL,
		Timeout:      c.RequestTimeout,
		TokenURL:     c.TokenURL,
		APIBaseURL:   c.APIBaseURL,
	}
}
