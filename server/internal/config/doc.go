// Package config loads the hub configuration from the `server:` section of
// config.yaml (the `worker:` key is ignored by the hub binary).
//
// Config fields:
//   - ListenHost, HTTPPort (default 8080), GRPCPort (default 50051)
//   - LogLevel: debug | info | warn | error (hot-reloadable)
//   - Accounts: account-service client id, secret env var, redirect URL, timeout
//   - Auth.Mode: "apikey" or "none"; Auth.KeyEnv names the key's env var;
//     Auth.Header defaults to "x-api-key"
//   - Transport: WebSocket buffer, read limit, ping/pong and write timings
//   - RateLimit: inbound messages per second and burst per connection
//   - Alerts: evaluation interval, rules and webhooks (rules hot-reloadable)
//
// Load(path) applies defaults before unmarshalling, then validates.
// Watch(ctx, path, fn) reloads on every write and calls fn with the new Config.
package config
