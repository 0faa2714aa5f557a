// Package config loads the worker's `worker:` section of config.yaml.
//
// Secrets are never read from the file: accounts.client_secret_env names the
// environment variable holding the account-service client secret. Watch
// reloads the file on change; only log_level is applied without a restart.
package config
