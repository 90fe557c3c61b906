package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRouterHealthz(t *testing.T) {
	router := NewRouter(Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if ok, _ := body["ok"].(bool); !ok {
		t.Errorf("body = %s, want ok true", rec.Body.String())
	}
}

func TestRouterRejectsUnauthenticatedAPIRequests(t *testing.T) {
	router := NewRouter(Config{}, nil)

	paths := []struct {
		method string
		path   string
	}{
		{http.MethodPost, "/attempts/start"},
		{http.MethodGet, "/attempts/7"},
		{http.MethodGet, "/results"},
		{http.MethodGet, "/exams/available"},
		{http.MethodPost, "/questions"},
	}
	for _, tc := range paths {
		req := httptest.NewRequest(tc.method, "/api/v1"+tc.path, strings.NewReader("{}"))
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		if rec.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", tc.method, tc.path, rec.Code, http.StatusUnauthorized)
		}
	}
}

func TestRouterMetricsEndpoint(t *testing.T) {
	router := NewRouter(Config{}, nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "examhub_uptime_seconds") {
		t.Errorf("metrics body missing uptime gauge: %q", rec.Body.String())
	}
}
