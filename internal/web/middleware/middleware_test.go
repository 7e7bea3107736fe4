package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/JonMunkholm/lacvalidator/internal/config"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
})

func TestAPIKeyAuth(t *testing.T) {
	tests := []struct {
		name   string
		cfg    config.SecurityConfig
		header map[string]string
		want   int
	}{
		{"disabled", config.SecurityConfig{}, nil, http.StatusNoContent},
		{"missing", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, nil, http.StatusUnauthorized},
		{"invalid", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, map[string]string{"X-API-Key": "nope"}, http.StatusForbidden},
		{"header", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1", "k2"}}, map[string]string{"X-API-Key": "k2"}, http.StatusNoContent},
		{"bearer", config.SecurityConfig{RequireAPIKey: true, APIKeys: []string{"k1"}}, map[string]string{"Authorization": "Bearer k1"}, http.StatusNoContent},
		{"no keys configured", config.SecurityConfig{RequireAPIKey: true}, map[string]string{"X-API-Key": "k1"}, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.cfg
			req := httptest.NewRequest(http.MethodGet, "/api/artifacts", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()

			APIKeyAuth(&cfg)(okHandler).ServeHTTP(rec, req)

			assert.Equal(t, tt.want, rec.Code)
			if tt.want != http.StatusNoContent {
				assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestTrustedRealIP(t *testing.T) {
	tests := []struct {
		name    string
		trusted []string
		remote  string
		header  map[string]string
		want    string
	}{
		{"untrusted keeps remote", nil, "203.0.113.9:5000", map[string]string{"X-Real-IP": "10.0.0.1"}, "203.0.113.9:5000"},
		{"trusted cidr uses real ip", []string{"10.0.0.0/8"}, "10.1.2.3:5000", map[string]string{"X-Real-IP": "198.51.100.7"}, "198.51.100.7"},
		{"trusted bare ip uses xff first hop", []string{"127.0.0.1"}, "127.0.0.1:5000", map[string]string{"X-Forwarded-For": "198.51.100.7, 10.0.0.1"}, "198.51.100.7"},
		{"invalid header ignored", []string{"10.0.0.0/8"}, "10.1.2.3:5000", map[string]string{"X-Real-IP": "not-an-ip"}, "10.1.2.3:5000"},
		{"bad proxy entry skipped", []string{"bogus", ""}, "10.1.2.3:5000", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.1.2.3:5000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			h := TrustedRealIP(tt.trusted)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.RemoteAddr
			}))

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			h.ServeHTTP(httptest.NewRecorder(), req)

			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoggerCapturesStatusAndBytes(t *testing.T) {
	var ww *responseWriter
	h := Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww = w.(*responseWriter)
		w.WriteHeader(http.StatusTeapot)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hello"))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, http.StatusTeapot, ww.status)
	assert.Equal(t, 5, ww.bytes)
	assert.Same(t, rec, ww.Unwrap())
}
