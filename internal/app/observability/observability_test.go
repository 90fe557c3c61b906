package observability

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNormalizedPath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/api/v1/attempts/123/comprehensive", "/api/v1/attempts/{id}/comprehensive"},
		{"/api/v1/exams/9/questions", "/api/v1/exams/{id}/questions"},
		{"/healthz", "/healthz"},
		{"", "/"},
	}
	for _, tc := range cases {
		if got := normalizedPath(tc.in); got != tc.want {
			t.Errorf("normalizedPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestExtractAttemptID(t *testing.T) {
	if id := extractAttemptID("/api/v1/attempts/456/submit"); id != 456 {
		t.Fatalf("expected 456, got %d", id)
	}
	if id := extractAttemptID("/api/v1/exams/1"); id != 0 {
		t.Fatalf("expected 0 for non-attempt path, got %d", id)
	}
}

func TestMetricsHandlerCountsRequests(t *testing.T) {
	c := NewCollector(nil)
	wrapped := c.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/attempts/5", nil)
	wrapped.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	c.MetricsHandler(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	if !strings.Contains(body, `examhub_http_requests_total{method="GET",path="/api/v1/attempts/{id}",status="418"} 1`) {
		t.Errorf("metrics output missing counted request:\n%s", body)
	}
	if !strings.Contains(body, "examhub_uptime_seconds") {
		t.Errorf("metrics output missing uptime gauge")
	}
}
