package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc examService
}

type examService interface {
	StartAttempt(ctx context.Context, examID int64, user *auth.User) (*Attempt, error)
	SubmitAttempt(ctx context.Context, in SubmitInput) (*SubmitOutcome, error)
	GetAttempt(ctx context.Context, attemptID int64) (*Attempt, error)
	GetAttemptOwner(ctx context.Context, attemptID int64) (int64, error)
	ComprehensiveAttempt(ctx context.Context, id int64) (*ComprehensiveView, error)
	CreateExam(ctx context.Context, in CreateExamInput) (*ExamRecord, error)
	UpdateExam(ctx context.Context, in UpdateExamInput) (*ExamRecord, error)
	DeleteExam(ctx context.Context, examID int64) error
	GetExam(ctx context.Context, examID int64) (*ExamRecord, error)
	ListExams(ctx context.Context, classID int64) ([]ExamRecord, error)
	ListAvailableExams(ctx context.Context, classID, studentID int64) ([]ExamRecord, error)
	ListExamQuestions(ctx context.Context, examID int64) ([]ExamQuestionItem, error)
	ReplaceExamQuestions(ctx context.Context, examID int64, refs []QuestionRef) ([]ExamQuestionItem, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type startAttemptRequest struct {
	ExamID int64 `json:"exam_id"`
}

type submitAnswerRequest struct {
	QuestionID     int64  `json:"question_id"`
	SelectedOption string `json:"selected_option"`
	AnswerText     string `json:"answer_text"`
	IsDescriptive  bool   `json:"is_descriptive"`
	Skipped        bool   `json:"skipped"`
}

type submitTimingRequest struct {
	QuestionID    int64 `json:"question_id"`
	TimeSpentSecs int   `json:"time_spent_secs"`
}

type submitAttemptRequest struct {
	Answers         []submitAnswerRequest `json:"answers"`
	QuestionTimings []submitTimingRequest `json:"question_timings"`
	TimeSpentSecs   *int                  `json:"time_spent_secs"`
}

type examManageRequest struct {
	Title           string `json:"title"`
	SubjectID       int64  `json:"subject_id"`
	ClassID         int64  `json:"class_id"`
	Chapter         string `json:"chapter"`
	DurationMinutes int    `json:"duration_minutes"`
	StartAt         string `json:"start_at"`
	EndAt           string `json:"end_at"`
	MaxAttempts     int    `json:"max_attempts"`
}

type replaceExamQuestionsRequest struct {
	Questions []QuestionRef `json:"questions"`
}

func NewHandler(svc examService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	var req startAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if req.ExamID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "exam_id is required"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	attempt, err := h.svc.StartAttempt(r.Context(), req.ExamID, user)
	if err != nil {
		var limitErr *AttemptLimitError
		switch {
		case errors.As(err, &limitErr):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: limitErr.Error()})
		case errors.Is(err, ErrExamNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
		case errors.Is(err, ErrExamNotActive):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "exam is not active"})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid input"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}

	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: attempt})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	attemptID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || attemptID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid attempt id"})
		return
	}

	var req submitAttemptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	in := SubmitInput{
		AttemptID:     attemptID,
		UserID:        user.ID,
		TimeSpentSecs: req.TimeSpentSecs,
	}
	for _, a := range req.Answers {
		in.Answers = append(in.Answers, SubmittedAnswerInput{
			QuestionID:     a.QuestionID,
			SelectedOption: a.SelectedOption,
			AnswerText:     a.AnswerText,
			IsDescriptive:  a.IsDescriptive,
			Skipped:        a.Skipped,
		})
	}
	for _, t := range req.QuestionTimings {
		in.QuestionTimings = append(in.QuestionTimings, QuestionTiming{
			QuestionID:    t.QuestionID,
			TimeSpentSecs: t.TimeSpentSecs,
		})
	}

	outcome, err := h.svc.SubmitAttempt(r.Context(), in)
	if err != nil {
		switch {
		case errors.Is(err, ErrAttemptNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "attempt not found"})
		case errors.Is(err, ErrAttemptForbidden):
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		case errors.Is(err, ErrAlreadySubmitted):
			writeJSON(w, r, http.StatusConflict, response{OK: false, Error: "attempt already submitted"})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid input"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}

	writeJSON(w, r, http.StatusOK, response{OK: true, Data: outcome})
}

func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || attemptID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid attempt id"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	if err := h.authorizeAttemptAccess(r, user, attemptID); err != nil {
		writeAttemptAuthError(w, r, err)
		return
	}

	attempt, err := h.svc.GetAttempt(r.Context(), attemptID)
	if err != nil {
		if errors.Is(err, ErrAttemptNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "attempt not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}

	writeJSON(w, r, http.StatusOK, response{OK: true, Data: attempt})
}

func (h *Handler) Comprehensive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid id"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	view, err := h.svc.ComprehensiveAttempt(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, ErrAttemptNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "attempt not found"})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid id"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}

	// Ownership is checked against the resolved view, since the id may have
	// referred to either a result or an attempt.
	if user.Role == auth.RoleStudent {
		ownerID := int64(0)
		if view.Attempt != nil {
			ownerID = view.Attempt.StudentID
		} else if view.Result != nil {
			ownerID = view.Result.StudentID
		}
		if ownerID != user.ID {
			writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, response{OK: true, Data: view})
}

func (h *Handler) ListExams(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	classID, _ := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("class_id")), 10, 64)
	if user.Role == auth.RoleStudent {
		// Students only ever see their own class's exams, whatever the
		// query string asks for.
		if user.ClassID == nil {
			writeJSON(w, r, http.StatusOK, response{OK: true, Data: []ExamRecord{}})
			return
		}
		classID = *user.ClassID
	}

	items, err := h.svc.ListExams(r.Context(), classID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ListAvailable(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}
	if user.Role != auth.RoleStudent || user.ClassID == nil {
		writeJSON(w, r, http.StatusOK, response{OK: true, Data: []ExamRecord{}})
		return
	}

	items, err := h.svc.ListAvailableExams(r.Context(), *user.ClassID, user.ID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) GetExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	item, err := h.svc.GetExam(r.Context(), examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}

	// A cross-class exam is indistinguishable from a missing one for
	// students, so exam ids reveal nothing across classes.
	if user.Role == auth.RoleStudent && (user.ClassID == nil || *user.ClassID != item.ClassID) {
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) CreateExam(w http.ResponseWriter, r *http.Request) {
	var req examManageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	startAt, endAt, err := parseWindow(req.StartAt, req.EndAt)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	item, err := h.svc.CreateExam(r.Context(), CreateExamInput{
		Title:           req.Title,
		SubjectID:       req.SubjectID,
		ClassID:         req.ClassID,
		Chapter:         req.Chapter,
		DurationMinutes: req.DurationMinutes,
		StartAt:         startAt,
		EndAt:           endAt,
		MaxAttempts:     req.MaxAttempts,
		CreatedBy:       user.ID,
	})
	if err != nil {
		if errors.Is(err, ErrInvalidInput) {
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "title, subject_id and class_id are required"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusCreated, response{OK: true, Data: item})
}

func (h *Handler) UpdateExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}
	var req examManageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	startAt, endAt, err := parseWindow(req.StartAt, req.EndAt)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	item, err := h.svc.UpdateExam(r.Context(), UpdateExamInput{
		ID:              examID,
		Title:           req.Title,
		SubjectID:       req.SubjectID,
		ClassID:         req.ClassID,
		Chapter:         req.Chapter,
		DurationMinutes: req.DurationMinutes,
		StartAt:         startAt,
		EndAt:           endAt,
		MaxAttempts:     req.MaxAttempts,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "title, subject_id and class_id are required"})
		case errors.Is(err, ErrExamNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: item})
}

func (h *Handler) DeleteExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}
	if err := h.svc.DeleteExam(r.Context(), examID); err != nil {
		switch {
		case errors.Is(err, ErrExamNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{"status": "deleted"}})
}

func (h *Handler) ListExamQuestions(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}
	items, err := h.svc.ListExamQuestions(r.Context(), examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ReplaceExamQuestions(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}
	var req replaceExamQuestionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	items, err := h.svc.ReplaceExamQuestions(r.Context(), examID, req.Questions)
	if err != nil {
		switch {
		case errors.Is(err, ErrExamNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
		case errors.Is(err, ErrQuestionNotFound):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "question not found or not active"})
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid question list"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func parseWindow(startRaw, endRaw string) (*time.Time, *time.Time, error) {
	parseOne := func(raw string) (*time.Time, error) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return nil, nil
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, err
		}
		return &t, nil
	}
	startAt, err := parseOne(startRaw)
	if err != nil {
		return nil, nil, errors.New("start_at must be RFC3339")
	}
	endAt, err := parseOne(endRaw)
	if err != nil {
		return nil, nil, errors.New("end_at must be RFC3339")
	}
	if startAt != nil && endAt != nil && endAt.Before(*startAt) {
		return nil, nil, errors.New("end_at must not be before start_at")
	}
	return startAt, endAt, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}

func (h *Handler) authorizeAttemptAccess(r *http.Request, user *auth.User, attemptID int64) error {
	if user.Role == auth.RolePrincipal || user.Role == auth.RoleTeacher {
		return nil
	}

	ownerID, err := h.svc.GetAttemptOwner(r.Context(), attemptID)
	if err != nil {
		return err
	}
	if ownerID != user.ID {
		return ErrAttemptForbidden
	}
	return nil
}

func writeAttemptAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAttemptNotFound):
		writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "attempt not found"})
	case errors.Is(err, ErrAttemptForbidden):
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
	default:
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
	}
}
