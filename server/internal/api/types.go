package api

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State       string           `json:"state"` // "ok" | "degraded"
	Clients     int              `json:"clients"`
	Groups      int              `json:"groups"`
	Connections int              `json:"connections"`
	Workers     map[string]int   `json:"workers"`
	AlertCount  int              `json:"alert_count"`
	Diagnostics []DiagnosticHint `json:"diagnostics"`
}

// GroupResponse is one entry of GET /api/v1/groups.
type GroupResponse struct {
	GroupID       uint64   `json:"group_id"`
	IsAdvertising bool     `json:"is_advertising"`
	Clients       []uint32 `json:"clients"`
}

// ClientResponse is one entry of GET /api/v1/clients. Tokens are never exposed.
type ClientResponse struct {
	ID             uint32 `json:"id"`
	GroupID        uint64 `json:"group_id"`
	TokenExpiresAt string `json:"token_expires_at"` // RFC3339
	TokenExpired   bool   `json:"token_expired"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
