package auth

import (
	"encoding/json"
	"net/http"
)

// Middleware wraps next with API key enforcement for HTTP requests. The key is
// read from the configured header. Rejected requests get a 401 JSON error.
func Middleware(mode, header, key string, next http.Handler) http.Handler {
	c := NewChecker(mode, header, key)
	if !c.Enabled() {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// http.Header.Get canonicalises the name, so case does not matter.
		if got := r.Header.Get(c.header); got == "" || !c.valid(got) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid api key"}) //nolint:errcheck
			return
		}
		next.ServeHTTP(w, r)
	})
}
