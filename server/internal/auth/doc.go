// Package auth provides API key enforcement for the hub's admin surfaces.
//
// APIKeyInterceptor and APIKeyStreamInterceptor guard the gRPC health
// service; Middleware guards the /api/v1 HTTP endpoints. All three read the
// key from the configured header and compare it in constant time.
//
// When mode != "apikey" or key == "", everything passes through. The
// WebSocket endpoint is never wrapped: peers identify themselves through the
// protocol, not with an API key.
package auth
