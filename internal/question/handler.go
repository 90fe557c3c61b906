package question

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc questionService
}

type questionService interface {
	CreateQuestion(ctx context.Context, in CreateQuestionInput) (*Question, error)
	UpdateQuestion(ctx context.Context, in UpdateQuestionInput) (*Question, error)
	DeleteQuestion(ctx context.Context, questionID int64) error
	GetQuestion(ctx context.Context, questionID int64) (*Question, error)
	ListQuestions(ctx context.Context, f ListFilter) ([]Question, error)
	ExportQuestionsExcel(ctx context.Context, f ListFilter) ([]byte, error)
	ImportQuestionsExcel(ctx context.Context, actorID int64, r io.Reader) (*ImportReport, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type upsertQuestionRequest struct {
	SubjectID      int64    `json:"subject_id"`
	Text           string   `json:"text"`
	QuestionType   string   `json:"question_type"`
	Options        []string `json:"options"`
	CorrectAnswers []string `json:"correct_answers"`
	Points         int      `json:"points"`
	Difficulty     string   `json:"difficulty"`
}

func NewHandler(svc questionService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req upsertQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	item, err := h.svc.CreateQuestion(r.Context(), CreateQuestionInput{
		SubjectID:      req.SubjectID,
		Text:           req.Text,
		QuestionType:   req.QuestionType,
		Options:        req.Options,
		CorrectAnswers: req.CorrectAnswers,
		Points:         req.Points,
		Difficulty:     req.Difficulty,
		CreatedBy:      user.ID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrSubjectNotFound):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "subject not found"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}
	var req upsertQuestionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	item, err := h.svc.UpdateQuestion(r.Context(), UpdateQuestionInput{
		ID:             questionID,
		SubjectID:      req.SubjectID,
		Text:           req.Text,
		QuestionType:   req.QuestionType,
		Options:        req.Options,
		CorrectAnswers: req.CorrectAnswers,
		Points:         req.Points,
		Difficulty:     req.Difficulty,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		case errors.Is(err, ErrQuestionNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "question not found"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}
	if err := h.svc.DeleteQuestion(r.Context(), questionID); err != nil {
		switch {
		case errors.Is(err, ErrQuestionNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "question not found"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "archived"}})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	questionID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || questionID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question id"})
		return
	}

	item, err := h.svc.GetQuestion(r.Context(), questionID)
	if err != nil {
		if errors.Is(err, ErrQuestionNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "question not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListQuestions(r.Context(), filterFromQuery(r))
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	data, err := h.svc.ExportQuestionsExcel(r.Context(), filterFromQuery(r))
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}

	filename := fmt.Sprintf("questions-%s.xlsx", time.Now().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	if err := r.ParseMultipartForm(16 << 20); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid multipart form"})
		return
	}

	file, hdr, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "file field is required"})
		return
	}
	defer file.Close()

	report, err := h.svc.ImportQuestionsExcel(r.Context(), user.ID, file)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]any{
		"filename": hdr.Filename,
		"report":   report,
	}})
}

func filterFromQuery(r *http.Request) ListFilter {
	q := r.URL.Query()
	subjectID, _ := strconv.ParseInt(strings.TrimSpace(q.Get("subject_id")), 10, 64)
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	return ListFilter{
		SubjectID:    subjectID,
		QuestionType: q.Get("type"),
		Difficulty:   q.Get("difficulty"),
		Status:       q.Get("status"),
		Query:        q.Get("q"),
		Limit:        limit,
		Offset:       offset,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
