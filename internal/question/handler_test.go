package question

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type mockQuestionService struct {
	createFn func(ctx context.Context, in CreateQuestionInput) (*Question, error)
	updateFn func(ctx context.Context, in UpdateQuestionInput) (*Question, error)
	deleteFn func(ctx context.Context, questionID int64) error
	getFn    func(ctx context.Context, questionID int64) (*Question, error)
	listFn   func(ctx context.Context, f ListFilter) ([]Question, error)
	exportFn func(ctx context.Context, f ListFilter) ([]byte, error)
	importFn func(ctx context.Context, actorID int64, r io.Reader) (*ImportReport, error)
}

func (m *mockQuestionService) CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error) {
	if m.createFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.createFn(ctx, in)
}

func (m *mockQuestionService) UpdateQuestion(ctx context.Context, in UpdateQuestionInput) (*Question, error) {
	if m.updateFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.updateFn(ctx, in)
}

func (m *mockQuestionService) DeleteQuestion(ctx context.Context, questionID int64) error {
	if m.deleteFn == nil {
		return errors.New("not implemented")
	}
	return m.deleteFn(ctx, questionID)
}

func (m *mockQuestionService) GetQuestion(ctx context.Context, questionID int64) (*Question, error) {
	if m.getFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.getFn(ctx, questionID)
}

func (m *mockQuestionService) ListQuestions(ctx context.Context, f ListFilter) ([]Question, error) {
	if m.listFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.listFn(ctx, f)
}

func (m *mockQuestionService) ExportQuestionsExcel(ctx context.Context, f ListFilter) ([]byte, error) {
	if m.exportFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.exportFn(ctx, f)
}

func (m *mockQuestionService) ImportQuestionsExcel(ctx context.Context, actorID int64, r io.Reader) (*ImportReport, error) {
	if m.importFn == nil {
		return nil, errors.New("not implemented")
	}
	return m.importFn(ctx, actorID, r)
}

func withChiParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestCreateQuestionSetsActor(t *testing.T) {
	var got CreateQuestionInput
	mock := &mockQuestionService{
		createFn: func(ctx context.Context, in CreateQuestionInput) (*Question, error) {
			got = in
			return &Question{ID: 1, Text: in.Text, QuestionType: in.QuestionType}, nil
		},
	}
	h := NewHandler(mock)

	payload := `{"subject_id":2,"text":"2+2?","question_type":"multiple_choice","options":["3","4"],"correct_answers":["4"],"points":5,"difficulty":"easy"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions", bytes.NewBufferString(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 9, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if got.CreatedBy != 9 {
		t.Fatalf("expected created_by from session, got %d", got.CreatedBy)
	}
	if len(got.Options) != 2 || got.CorrectAnswers[0] != "4" {
		t.Fatalf("payload not forwarded: %+v", got)
	}
}

func TestCreateQuestionValidationError(t *testing.T) {
	mock := &mockQuestionService{
		createFn: func(ctx context.Context, in CreateQuestionInput) (*Question, error) {
			return nil, ValidateQuestion(in.QuestionType, in.Options, in.CorrectAnswers)
		},
	}
	h := NewHandler(mock)

	payload := `{"subject_id":2,"text":"bad","question_type":"multiple_choice","options":["A"],"correct_answers":["A"]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions", bytes.NewBufferString(payload))
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 9, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Create(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestDeleteQuestionNotFound(t *testing.T) {
	mock := &mockQuestionService{
		deleteFn: func(ctx context.Context, questionID int64) error {
			return ErrQuestionNotFound
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/questions/99", nil)
	req = withChiParam(req, "id", "99")
	w := httptest.NewRecorder()
	h.Delete(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestListForwardsFilters(t *testing.T) {
	var got ListFilter
	mock := &mockQuestionService{
		listFn: func(ctx context.Context, f ListFilter) ([]Question, error) {
			got = f
			return []Question{}, nil
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions?subject_id=3&type=true_false&difficulty=hard&q=cell&limit=10", nil)
	w := httptest.NewRecorder()
	h.List(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got.SubjectID != 3 || got.QuestionType != "true_false" || got.Difficulty != "hard" || got.Query != "cell" || got.Limit != 10 {
		t.Fatalf("filters not forwarded: %+v", got)
	}
}

func TestExportSetsDownloadHeaders(t *testing.T) {
	mock := &mockQuestionService{
		exportFn: func(ctx context.Context, f ListFilter) ([]byte, error) {
			return []byte("xlsx-bytes"), nil
		},
	}
	h := NewHandler(mock)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/questions/export", nil)
	w := httptest.NewRecorder()
	h.Export(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet" {
		t.Fatalf("unexpected content type %q", ct)
	}
	if cd := w.Header().Get("Content-Disposition"); cd == "" {
		t.Fatalf("expected attachment disposition")
	}
	if w.Body.String() != "xlsx-bytes" {
		t.Fatalf("body not written")
	}
}

func TestImportRequiresFileField(t *testing.T) {
	h := NewHandler(&mockQuestionService{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/questions/import", bytes.NewBufferString("not-multipart"))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	req = req.WithContext(auth.ContextWithUser(req.Context(), &auth.User{ID: 9, Role: auth.RoleTeacher}))
	w := httptest.NewRecorder()
	h.Import(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if body["ok"] != false {
		t.Fatalf("expected ok=false, got %v", body["ok"])
	}
}
