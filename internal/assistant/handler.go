package assistant

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"examhub/internal/app/apiresp"
)

type assistantService interface {
	Generate(ctx context.Context, query string) (Result, error)
}

type Handler struct {
	svc assistantService
}

func NewHandler(svc assistantService) *Handler {
	return &Handler{svc: svc}
}

type replyRequest struct {
	Query string `json:"query"`
}

func (h *Handler) Reply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: "query is required"})
		return
	}

	res, err := h.svc.Generate(r.Context(), req.Query)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, response{OK: false, Error: err.Error()})
		return
	}

	log.Printf(`{"ts":%q,"level":"info","event":"assistant_reply","source":%q}`, time.Now().UTC().Format(time.RFC3339), res.Source)
	writeJSON(w, r, http.StatusOK, response{OK: true, Data: map[string]string{
		"reply":  res.Reply,
		"source": res.Source,
	}})
}

type response struct {
	OK    bool   `json:"ok"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, payload response) {
	if payload.OK {
		apiresp.WriteOK(w, r, status, payload.Data)
		return
	}
	apiresp.WriteError(w, r, status, payload.Error)
}
