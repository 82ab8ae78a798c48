package api

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bardlex/gobt/internal/electrum"
)

func connectedTracker() *MockTracker {
	return &MockTracker{
		Info: &electrum.ServerInfo{
			Host:      "electrum.example.org",
			Port:      50002,
			Connected: true,
		},
	}
}

func TestAPIKeyAuth(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "secret-key"

	tests := []struct {
		name       string
		header     string
		query      string
		wantStatus int
	}{
		{name: "missing key", wantStatus: http.StatusUnauthorized},
		{name: "wrong key", header: "wrong", wantStatus: http.StatusUnauthorized},
		{name: "header key", header: "secret-key", wantStatus: http.StatusOK},
		{name: "query key", query: "?api_key=secret-key", wantStatus: http.StatusOK},
		{name: "wrong query key", query: "?api_key=nope", wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(cfg, connectedTracker(), nil)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/server-info"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			s.engine.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d (body %s)", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	// No configured key leaves the API open.
	s := newTestServer(testConfig(), connectedTracker(), nil)

	w := doRequest(s, http.MethodGet, "/api/v1/server-info", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200 without auth", w.Code)
	}
}

func TestAPIKeyAuth_IPAllowlist(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "secret-key"

	// httptest requests arrive from 192.0.2.1.
	tests := []struct {
		name       string
		allowedIPs []string
		wantStatus int
	}{
		{name: "client on the list", allowedIPs: []string{"192.0.2.1"}, wantStatus: http.StatusOK},
		{name: "client not on the list", allowedIPs: []string{"10.0.0.1"}, wantStatus: http.StatusForbidden},
		{name: "empty list allows all", allowedIPs: nil, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg.AllowedIPs = tt.allowedIPs
			s := newTestServer(cfg, connectedTracker(), nil)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/server-info", nil)
			req.Header.Set("X-API-Key", "secret-key")
			s.engine.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("Status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHealthzExemptFromAuth(t *testing.T) {
	cfg := testConfig()
	cfg.APIKey = "secret-key"
	s := newTestServer(cfg, &MockTracker{}, nil)

	w := doRequest(s, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Errorf("Status = %d, want 200 without a key", w.Code)
	}
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMin = 3
	s := newTestServer(cfg, connectedTracker(), nil)

	for i := 0; i < 3; i++ {
		w := doRequest(s, http.MethodGet, "/api/v1/server-info", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Request %d: status = %d, want 200", i+1, w.Code)
		}
		if got := w.Header().Get("X-RateLimit-Limit"); got != "3" {
			t.Errorf("X-RateLimit-Limit = %q, want 3", got)
		}
	}

	w := doRequest(s, http.MethodGet, "/api/v1/server-info", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Request over budget: status = %d, want 429", w.Code)
	}
	if env := decodeEnvelope(t, w); env.Error != "rate_limited" {
		t.Errorf("Error code = %q, want rate_limited", env.Error)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", got)
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMin = 1
	s := newTestServer(cfg, connectedTracker(), nil)

	send := func(remoteAddr string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/v1/server-info", nil)
		req.RemoteAddr = remoteAddr
		s.engine.ServeHTTP(w, req)
		return w.Code
	}

	if got := send("10.0.0.1:1111"); got != http.StatusOK {
		t.Fatalf("First client: status = %d, want 200", got)
	}
	if got := send("10.0.0.1:1111"); got != http.StatusTooManyRequests {
		t.Fatalf("First client over budget: status = %d, want 429", got)
	}

	// A different client has its own bucket.
	if got := send("10.0.0.2:2222"); got != http.StatusOK {
		t.Fatalf("Second client: status = %d, want 200", got)
	}
}

func TestHealthzExemptFromRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMin = 1
	s := newTestServer(cfg, &MockTracker{}, nil)

	for i := 0; i < 10; i++ {
		w := doRequest(s, http.MethodGet, "/healthz", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("Probe %d: status = %d, want 200", i+1, w.Code)
		}
	}
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(testConfig(), connectedTracker(), nil)

	w := doRequest(s, http.MethodGet, "/api/v1/server-info", nil)

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}
	for name, want := range headers {
		if got := w.Header().Get(name); got != want {
			t.Errorf("%s = %q, want %q", name, got, want)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(testConfig(), connectedTracker(), nil)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/v1/server-info", nil)
	req.Header.Set("Origin", "http://dashboard.example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	s.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("Preflight status = %d, want 204", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestRateLimitHeadersCountDown(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimitPerMin = 5
	s := newTestServer(cfg, connectedTracker(), nil)

	for i := 0; i < 3; i++ {
		w := doRequest(s, http.MethodGet, "/api/v1/server-info", nil)
		want := fmt.Sprintf("%d", 4-i)
		if got := w.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Errorf("Request %d: X-RateLimit-Remaining = %q, want %q", i+1, got, want)
		}
	}
}
