package server

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORSAllowAll(t *testing.T) {
	handler := CORSMiddlewareWithConfig(DefaultCORSConfig(), okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/get-documents", nil)
	req.Header.Set("Origin", "https://example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
	if got := resp.Header.Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Errorf("Allow-Methods = %q", got)
	}
	if got := resp.Header.Get("Access-Control-Expose-Headers"); got != "Content-Disposition, X-Merge-Conflicts, X-Request-ID" {
		t.Errorf("Expose-Headers = %q", got)
	}
	if resp.Header.Get("Access-Control-Allow-Credentials") != "" {
		t.Error("credentials must not be allowed with a wildcard origin")
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	cfg := DefaultCORSConfig()
	cfg.AllowedOrigins = []string{"https://example.com", "https://trusted.com"}
	handler := CORSMiddlewareWithConfig(cfg, okHandler())

	tests := []struct {
		name              string
		method            string
		origin            string
		expectStatus      int
		expectAllowOrigin string
		expectCredentials bool
	}{
		{"allowed origin", http.MethodGet, "https://example.com", http.StatusOK, "https://example.com", true},
		{"another allowed origin", http.MethodGet, "https://trusted.com", http.StatusOK, "https://trusted.com", true},
		{"disallowed origin", http.MethodGet, "https://evil.com", http.StatusOK, "", false},
		{"no origin header", http.MethodGet, "", http.StatusOK, "", false},
		{"disallowed preflight", http.MethodOptions, "https://evil.com", http.StatusForbidden, "", false},
		{"allowed preflight", http.MethodOptions, "https://example.com", http.StatusNoContent, "https://example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/api/merge-documents", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == http.MethodOptions {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.expectStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.expectStatus)
			}
			if got := w.Header().Get("Access-Control-Allow-Origin"); got != tt.expectAllowOrigin {
				t.Errorf("Allow-Origin = %q, want %q", got, tt.expectAllowOrigin)
			}
			if got := w.Header().Get("Access-Control-Allow-Credentials") == "true"; got != tt.expectCredentials {
				t.Errorf("Allow-Credentials = %v, want %v", got, tt.expectCredentials)
			}
		})
	}
}

func TestCORSPlainOptionsReachesHandler(t *testing.T) {
	called := false
	handler := CORSMiddlewareWithConfig(DefaultCORSConfig(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/", nil))
	if !called {
		t.Error("OPTIONS without a preflight header should reach the handler")
	}
}

func TestBuildCSPHeader(t *testing.T) {
	tests := []struct {
		name string
		cfg  CSPConfig
		want string
	}{
		{"api", APICSPConfig(), "default-src 'none'; frame-ancestors 'none'; base-uri 'none'; form-action 'none'"},
		{"empty", CSPConfig{}, ""},
		{
			"upgrade",
			CSPConfig{DefaultSrc: []string{"'self'"}, ImgSrc: []string{"'self'", "data:"}, UpgradeInsecureRequests: true},
			"default-src 'self'; img-src 'self' data:; upgrade-insecure-requests",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.BuildCSPHeader(); got != tt.want {
				t.Errorf("BuildCSPHeader() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSecurityHeadersWithCSP(t *testing.T) {
	handler := SecurityHeadersWithCSP(APICSPConfig(), okHandler())
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "strict-origin-when-cross-origin",
		"Content-Security-Policy": APICSPConfig().BuildCSPHeader(),
	}
	for k, v := range want {
		if got := w.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}

	w = httptest.NewRecorder()
	SecurityHeadersWithCSP(CSPConfig{}, okHandler()).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if _, ok := w.Header()["Content-Security-Policy"]; ok {
		t.Error("empty CSP config should not set the header")
	}
}

func TestValidateContentType(t *testing.T) {
	allowed := []string{"application/json"}
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"Application/JSON", true},
		{"text/plain", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := ValidateContentType(tt.contentType, allowed); got != tt.want {
			t.Errorf("ValidateContentType(%q) = %v, want %v", tt.contentType, got, tt.want)
		}
	}
}
