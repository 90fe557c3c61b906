package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIPRateLimiterCapsPerKey(t *testing.T) {
	l := NewIPRateLimiter(3, time.Minute)
	for i := 0; i < 3; i++ {
		if !l.Allow("login|10.0.0.1") {
			t.Fatalf("request %d should pass", i+1)
		}
	}
	if l.Allow("login|10.0.0.1") {
		t.Fatal("fourth request in the window should be blocked")
	}
	if !l.Allow("login|10.0.0.2") {
		t.Fatal("separate key must have its own bucket")
	}
}

func TestCSRFMiddlewareMatchesCookieAndHeader(t *testing.T) {
	next := CSRFMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/7/submit", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "t0k3n"})
	req.Header.Set(csrfHeaderName, "t0k3n")
	rec := httptest.NewRecorder()
	next.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestCSRFMiddlewareRejectsMismatch(t *testing.T) {
	next := CSRFMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name   string
		cookie string
		header string
	}{
		{"missing both", "", ""},
		{"missing header", "t0k3n", ""},
		{"mismatched header", "t0k3n", "other"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/attempts/7/submit", nil)
		if tc.cookie != "" {
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tc.cookie})
		}
		if tc.header != "" {
			req.Header.Set(csrfHeaderName, tc.header)
		}
		rec := httptest.NewRecorder()
		next.ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Errorf("%s: status = %d, want %d", tc.name, rec.Code, http.StatusForbidden)
		}
	}
}

func TestCSRFMiddlewareSkipsSafeMethodsAndDisabledMode(t *testing.T) {
	enforced := CSRFMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results", nil)
	rec := httptest.NewRecorder()
	enforced.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("GET with enforcement: status = %d, want %d", rec.Code, http.StatusNoContent)
	}

	disabled := CSRFMiddleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/attempts/7/submit", nil)
	rec = httptest.NewRecorder()
	disabled.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("POST with enforcement off: status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
