package api

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/musink/musink/server/internal/alerts"
	"github.com/musink/musink/server/internal/dispatch"
	"github.com/musink/musink/server/internal/groups"
	"github.com/musink/musink/server/internal/metrics"
	"github.com/musink/musink/server/internal/registry"
)

// AlertSource lists current and recently resolved alerts.
type AlertSource interface {
	Active() []*alerts.Alert
}

// Deps are the hub services the API reads from. Alerts may be nil.
type Deps struct {
	Registry   *registry.Registry
	Groups     *groups.Manager
	Dispatcher *dispatch.Dispatcher
	Metrics    *metrics.Metrics
	Alerts     AlertSource
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	deps Deps
	mux  *http.ServeMux
	now  func() time.Time
}

// New creates a Handler and registers all routes.
func New(d Deps) http.Handler {
	h := &Handler{deps: d, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.get(h.health))
	h.mux.HandleFunc("/api/v1/groups", h.get(h.groups))
	h.mux.HandleFunc("/api/v1/clients", h.get(h.clients))
	h.mux.HandleFunc("/api/v1/workers", h.get(h.workers))
	h.mux.HandleFunc("/api/v1/alerts", h.get(h.alerts))

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// get rejects every method other than GET with 405.
func (h *Handler) get(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		fn(w, r)
	}
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health. State is ok while at least one
// mutual-playlist worker is connected.
func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	snap := h.deps.Metrics.Snapshot()

	workers := make(map[string]int, len(dispatch.Categories))
	for _, c := range dispatch.Categories {
		workers[string(c)] = h.deps.Dispatcher.Size(c)
	}

	resp := HealthResponse{
		State:       "degraded",
		Clients:     h.deps.Registry.Len(),
		Groups:      h.deps.Groups.Len(),
		Connections: snap.Connections,
		Workers:     workers,
		Diagnostics: computeDiagnostics(snap),
	}
	if workers[string(dispatch.MutualPlaylist)] > 0 {
		resp.State = "ok"
	}
	if h.deps.Alerts != nil {
		for _, a := range h.deps.Alerts.Active() {
			if a.State == "firing" {
				resp.AlertCount++
			}
		}
	}
	jsonResp(w, http.StatusOK, resp)
}

// groups returns GET /api/v1/groups, the same snapshot the hub broadcasts.
func (h *Handler) groups(w http.ResponseWriter, _ *http.Request) {
	snap := h.deps.Groups.Snapshot()
	out := make([]GroupResponse, 0, len(snap))
	for _, g := range snap {
		ids := make([]uint32, len(g.Clients))
		for i, c := range g.Clients {
			ids[i] = uint32(c)
		}
		out = append(out, GroupResponse{
			GroupID:       uint64(g.GroupID),
			IsAdvertising: g.IsAdvertising,
			Clients:       ids,
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// clients returns GET /api/v1/clients ordered by connection id.
func (h *Handler) clients(w http.ResponseWriter, _ *http.Request) {
	now := h.now()
	list := h.deps.Registry.List()
	out := make([]ClientResponse, 0, len(list))
	for _, c := range list {
		out = append(out, ClientResponse{
			ID:             uint32(c.ID),
			GroupID:        uint64(c.GroupID),
			TokenExpiresAt: c.ExpiresAt.UTC().Format(time.RFC3339),
			TokenExpired:   now.After(c.ExpiresAt),
		})
	}
	jsonResp(w, http.StatusOK, out)
}

// workers returns GET /api/v1/workers: connection ids per category in
// rotation order (next to receive work first).
func (h *Handler) workers(w http.ResponseWriter, _ *http.Request) {
	pools := h.deps.Dispatcher.Workers()
	out := make(map[string][]uint32, len(pools))
	for cat, ids := range pools {
		conv := make([]uint32, len(ids))
		for i, id := range ids {
			conv[i] = uint32(id)
		}
		out[string(cat)] = conv
	}
	jsonResp(w, http.StatusOK, out)
}

// alerts returns GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, _ *http.Request) {
	if h.deps.Alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	list := h.deps.Alerts.Active()
	sort.SliceStable(list, func(i, j int) bool {
		// Firing before resolved.
		return list[i].State == "firing" && list[j].State != "firing"
	})
	jsonResp(w, http.StatusOK, list)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
