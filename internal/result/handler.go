package result

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"examhub/internal/app/apiresp"
	"examhub/internal/auth"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc resultService
}

type resultService interface {
	ListStudentResults(ctx context.Context, studentID int64, limit, offset int) ([]Result, error)
	ListExamResults(ctx context.Context, examID int64) ([]Result, error)
	GetResult(ctx context.Context, resultID int64) (*Result, error)
	GradeResult(ctx context.Context, in GradeInput) (*Result, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

type gradeRequest struct {
	Marks    *int    `json:"marks"`
	Feedback *string `json:"feedback"`
}

func NewHandler(svc resultService) *Handler {
	return &Handler{svc: svc}
}

// ListMine returns the session user's own results. Staff can read any
// student's results by passing student_id.
func (h *Handler) ListMine(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	studentID := user.ID
	if user.Role != auth.RoleStudent {
		if qID, err := strconv.ParseInt(r.URL.Query().Get("student_id"), 10, 64); err == nil && qID > 0 {
			studentID = qID
		}
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	items, err := h.svc.ListStudentResults(r.Context(), studentID, limit, offset)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) ListByExam(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}

	items, err := h.svc.ListExamResults(r.Context(), examID)
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: items})
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	resultID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || resultID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid result id"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	res, err := h.svc.GetResult(r.Context(), resultID)
	if err != nil {
		if errors.Is(err, ErrResultNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "result not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}

	if user.Role == auth.RoleStudent && res.StudentID != user.ID {
		writeJSON(w, r, http.StatusForbidden, response{OK: false, Error: "forbidden"})
		return
	}

	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func (h *Handler) Grade(w http.ResponseWriter, r *http.Request) {
	resultID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || resultID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid result id"})
		return
	}

	user, ok := auth.CurrentUser(r.Context())
	if !ok {
		writeJSON(w, r, http.StatusUnauthorized, response{OK: false, Error: "unauthorized"})
		return
	}

	var req gradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}

	res, err := h.svc.GradeResult(r.Context(), GradeInput{
		ResultID: resultID,
		ActorID:  user.ID,
		Marks:    req.Marks,
		Feedback: req.Feedback,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "marks or feedback is required"})
		case errors.Is(err, ErrResultNotFound):
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "result not found"})
		default:
			writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		}
		return
	}

	writeJSON(w, r, http.StatusOK, response{OK: true, Data: res})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
