package report

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
)

type mockReportService struct {
	summaryFn func(ctx context.Context, examID int64) (*ExamSummary, error)
	statsFn   func(ctx context.Context, examID int64) ([]QuestionStat, error)
}

func (m *mockReportService) SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error) {
	if m.summaryFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.summaryFn(ctx, examID)
}

func (m *mockReportService) QuestionStatsByExam(ctx context.Context, examID int64) ([]QuestionStat, error) {
	if m.statsFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.statsFn(ctx, examID)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestSummaryOK(t *testing.T) {
	mock := &mockReportService{
		summaryFn: func(ctx context.Context, examID int64) (*ExamSummary, error) {
			return &ExamSummary{
				ExamID:       examID,
				Title:        "Algebra Midterm",
				Participants: 24,
				AverageScore: 71.5,
				RatingDistribution: map[string]int{
					"Excellent": 4,
					"Good":      11,
				},
			}, nil
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/exams/3", nil)
	req = withChiParam(req, "id", "3")
	w := httptest.NewRecorder()
	h.Summary(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["participants"] != float64(24) {
		t.Fatalf("unexpected participants: %v", data["participants"])
	}
}

func TestSummaryExamNotFound(t *testing.T) {
	mock := &mockReportService{
		summaryFn: func(ctx context.Context, examID int64) (*ExamSummary, error) {
			return nil, ErrExamNotFound
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/exams/99", nil)
	req = withChiParam(req, "id", "99")
	w := httptest.NewRecorder()
	h.Summary(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestQuestionStatsInvalidID(t *testing.T) {
	h := NewHandler(&mockReportService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/analytics/exams/abc/questions", nil)
	req = withChiParam(req, "id", "abc")
	w := httptest.NewRecorder()
	h.QuestionStats(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
