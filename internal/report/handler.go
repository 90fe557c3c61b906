package report

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"examhub/internal/app/apiresp"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	svc reportService
}

type reportService interface {
	SummaryByExam(ctx context.Context, examID int64) (*ExamSummary, error)
	QuestionStatsByExam(ctx context.Context, examID int64) ([]QuestionStat, error)
}

type response struct {
	OK    bool        `json:"ok"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

func NewHandler(svc reportService) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}

	summary, err := h.svc.SummaryByExam(r.Context(), examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: summary})
}

func (h *Handler) QuestionStats(w http.ResponseWriter, r *http.Request) {
	examID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || examID <= 0 {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid exam id"})
		return
	}

	stats, err := h.svc.QuestionStatsByExam(r.Context(), examID)
	if err != nil {
		if errors.Is(err, ErrExamNotFound) {
			writeJSON(w, r, http.StatusNotFound, response{OK: false, Error: "exam not found"})
			return
		}
		writeJSON(w, r, http.StatusInternalServerError, response{OK: false, Error: "internal error"})
		return
	}
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: stats})
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, code, payload.Data)
		return
	}
	apiresp.WriteError(w, r, code, payload.Error)
}
