package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func serve(h http.Handler, header, key string) int {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	if key != "" {
		req.Header.Set(header, key)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr.Code
}

func TestMiddleware(t *testing.T) {
	cases := []struct {
		name             string
		mode, configured string
		sent             string
		want             int
	}{
		{"mode none", "none", "secret", "", http.StatusOK},
		{"no key configured", "apikey", "", "", http.StatusOK},
		{"correct key", "apikey", "secret", "secret", http.StatusOK},
		{"wrong key", "apikey", "secret", "nope", http.StatusUnauthorized},
		{"missing key", "apikey", "secret", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := Middleware(tc.mode, "x-api-key", tc.configured, okHandler)
			if got := serve(h, "X-API-KEY", tc.sent); got != tc.want {
				t.Errorf("status: got %d, want %d", got, tc.want)
			}
		})
	}
}
