package middleware

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// Metrics Auth Middleware Tests
// =============================================================================

func scrapeRequest(authorize func(*http.Request)) *httptest.ResponseRecorder {
	mw := NewMetricsAuthMiddleware("scraper", "secret123")

	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("metrics data"))
	}))

	req := httptest.NewRequest("GET", "/metrics", nil)
	if authorize != nil {
		authorize(req)
	}
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	return rec
}

func TestMetricsAuthMiddleware_AllowsValidCredentials(t *testing.T) {
	rec := scrapeRequest(func(r *http.Request) {
		r.SetBasicAuth("scraper", "secret123")
	})

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}
	if rec.Body.String() != "metrics data" {
		t.Errorf("expected body 'metrics data', got %q", rec.Body.String())
	}
}

func TestMetricsAuthMiddleware_RejectsBadCredentials(t *testing.T) {
	tests := []struct {
		name      string
		authorize func(*http.Request)
	}{
		{"no credentials", nil},
		{"wrong username", func(r *http.Request) { r.SetBasicAuth("wronguser", "secret123") }},
		{"wrong password", func(r *http.Request) { r.SetBasicAuth("scraper", "wrongpassword") }},
		{"both wrong", func(r *http.Request) { r.SetBasicAuth("wrong", "wrong") }},
		{"empty credentials", func(r *http.Request) { r.SetBasicAuth("", "") }},
		{"malformed header", func(r *http.Request) {
			r.Header.Set("Authorization", "Basic notvalidbase64!!!")
		}},
		{"header injection", func(r *http.Request) {
			malicious := base64.StdEncoding.EncodeToString([]byte("scraper:secret123\r\nX-Injected: header"))
			r.Header.Set("Authorization", "Basic "+malicious)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := scrapeRequest(tt.authorize)

			if rec.Code != http.StatusUnauthorized {
				t.Errorf("expected status 401, got %d", rec.Code)
			}
		})
	}
}

func TestMetricsAuthMiddleware_ChallengeHeader(t *testing.T) {
	rec := scrapeRequest(nil)

	if got := rec.Header().Get("WWW-Authenticate"); got != `Basic realm="metrics"` {
		t.Errorf("unexpected WWW-Authenticate header: %q", got)
	}
}

func TestMetricsAuthMiddleware_DisabledWhenNoCredentials(t *testing.T) {
	mw := NewMetricsAuthMiddleware("", "")

	handlerCalled := false
	wrapped := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalled = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if !handlerCalled {
		t.Error("expected handler to be called when auth is disabled")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200 when auth is disabled, got %d", rec.Code)
	}
}
