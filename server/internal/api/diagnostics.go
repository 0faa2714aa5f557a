package api

import (
	"fmt"

	"github.com/musink/musink/server/internal/metrics"
)

// DiagnosticHint is one human-readable insight about the hub's state.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "info" | "warning" | "critical".
	Level string `json:"level"`
	// Title is a short label.
	Title string `json:"title"`
	// Detail is the full explanation.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint.
	Value *float64 `json:"value,omitempty"`
}

func ptr(v float64) *float64 { return &v }

// computeDiagnostics derives hints from a metrics snapshot, critical first.
func computeDiagnostics(s metrics.Snapshot) []DiagnosticHint {
	hints := []DiagnosticHint{}

	if s.WorkersMutualPlaylist == 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "no_playlist_workers",
			Level: "critical",
			Title: "No playlist workers",
			Detail: "No MutualPlaylist worker is connected. MakeMutualPlaylist " +
				"requests are dropped until one registers.",
		})
	}
	if s.DispatchFailures > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "dispatch_failures",
			Level: "warning",
			Title: "Dispatch failures",
			Detail: fmt.Sprintf("%.0f work dispatches failed since start, either "+
				"because no worker was connected or the send to the worker failed.", s.DispatchFailures),
			Value: ptr(s.DispatchFailures),
		})
	}
	if s.RefreshFailures > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "refresh_failures",
			Level: "warning",
			Title: "Token refresh failures",
			Detail: fmt.Sprintf("%.0f token refreshes were rejected by the account "+
				"service. Affected clients keep using their stale token.", s.RefreshFailures),
			Value: ptr(s.RefreshFailures),
		})
	}
	if s.ProtocolErrors > 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "protocol_errors",
			Level:  "info",
			Title:  "Protocol errors",
			Detail: fmt.Sprintf("%.0f inbound messages were malformed or not accepted and were dropped.", s.ProtocolErrors),
			Value:  ptr(s.ProtocolErrors),
		})
	}
	if s.Connections > s.Clients+s.WorkersMutualPlaylist+s.WorkersOther {
		idle := float64(s.Connections - s.Clients - s.WorkersMutualPlaylist - s.WorkersOther)
		hints = append(hints, DiagnosticHint{
			Key:    "unclassified_connections",
			Level:  "info",
			Title:  "Unclassified connections",
			Detail: fmt.Sprintf("%.0f open connections have not sent NewClient or NewService yet.", idle),
			Value:  ptr(idle),
		})
	}
	return hints
}
