package result

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockResultService struct {
	listStudentFn func(ctx context.Context, studentID int64, limit, offset int) ([]Result, error)
	listExamFn    func(ctx context.Context, examID int64) ([]Result, error)
	getFn         func(ctx context.Context, resultID int64) (*Result, error)
	gradeFn       func(ctx context.Context, in GradeInput) (*Result, error)
}

func (m *mockResultService) ListStudentResults(ctx context.Context, studentID int64, limit, offset int) ([]Result, error) {
	if m.listStudentFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listStudentFn(ctx, studentID, limit, offset)
}

func (m *mockResultService) ListExamResults(ctx context.Context, examID int64) ([]Result, error) {
	if m.listExamFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listExamFn(ctx, examID)
}

func (m *mockResultService) GetResult(ctx context.Context, resultID int64) (*Result, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, resultID)
}

func (m *mockResultService) GradeResult(ctx context.Context, in GradeInput) (*Result, error) {
	if m.gradeFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.gradeFn(ctx, in)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestListMineIgnoresStudentIDForStudents(t *testing.T) {
	var gotStudentID int64
	mock := &mockResultService{
		listStudentFn: func(ctx context.Context, studentID int64, limit, offset int) ([]Result, error) {
			gotStudentID = studentID
			return []Result{}, nil
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results?student_id=99", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 5, Role: auth.RoleStudent}))
	w := httptest.NewRecorder()
	h.ListMine(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if gotStudentID != 5 {
		t.Fatalf("student must only see own results, got student_id=%d", gotStudentID)
	}
}

func TestListMineAllowsStaffOverride(t *testing.T) {
	var gotStudentID int64
	mock := &mockResultService{
		listStudentFn: func(ctx context.Context, studentID int64, limit, offset int) ([]Result, error) {
			gotStudentID = studentID
			return []Result{}, nil
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results?student_id=99", nil)
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 2, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.ListMine(w, req)

	if gotStudentID != 99 {
		t.Fatalf("staff should be able to query any student, got %d", gotStudentID)
	}
}

func TestGetResultForbiddenForOtherStudent(t *testing.T) {
	mock := &mockResultService{
		getFn: func(ctx context.Context, resultID int64) (*Result, error) {
			return &Result{ID: resultID, StudentID: 42}, nil
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results/7", nil)
	req = withChiParam(req, "id", "7")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 5, Role: auth.RoleStudent}))
	w := httptest.NewRecorder()
	h.Get(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestGradeForwardsActorAndPayload(t *testing.T) {
	var got GradeInput
	mock := &mockResultService{
		gradeFn: func(ctx context.Context, in GradeInput) (*Result, error) {
			got = in
			return &Result{ID: in.ResultID, Marks: *in.Marks, Grade: "B"}, nil
		},
	}
	h := NewHandler(mock)

	payload := `{"marks":72,"feedback":"Good structure, expand the conclusion."}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/results/7/grade", bytes.NewBufferString(payload))
	req = withChiParam(req, "id", "7")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 3, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Grade(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.ResultID != 7 || got.ActorID != 3 {
		t.Fatalf("unexpected grade input: %+v", got)
	}
	if got.Marks == nil || *got.Marks != 72 {
		t.Fatalf("marks not forwarded: %v", got.Marks)
	}
	if got.Feedback == nil || *got.Feedback == "" {
		t.Fatalf("feedback not forwarded")
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	data, _ := body["data"].(map[string]interface{})
	if data["grade"] != "B" {
		t.Fatalf("expected regraded letter, got %v", data["grade"])
	}
}

func TestGradeRequiresPayload(t *testing.T) {
	mock := &mockResultService{
		gradeFn: func(ctx context.Context, in GradeInput) (*Result, error) {
			return nil, ErrInvalidInput
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/results/7/grade", bytes.NewBufferString(`{}`))
	req = withChiParam(req, "id", "7")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 3, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Grade(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}
