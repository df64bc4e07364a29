package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/alexanderramin/blueprint/internal/conversation"
	"github.com/alexanderramin/blueprint/internal/domain"
	"github.com/alexanderramin/blueprint/internal/repository"
	"github.com/alexanderramin/blueprint/internal/service"
)

const maxBodyBytes = 64 << 10

type sessionView struct {
	Session  domain.Snapshot       `json:"session"`
	Progress conversation.Progress `json:"progress"`
}

type startResponse struct {
	Session domain.Snapshot     `json:"session"`
	Result  conversation.Result `json:"result"`
}

type summaryView struct {
	ID        string         `json:"id"`
	Stage     domain.StageID `json:"stage"`
	Step      domain.StepID  `json:"step,omitempty"`
	Complete  bool           `json:"complete"`
	CreatedAt time.Time      `json:"createdAt"`
	UpdatedAt time.Time      `json:"updatedAt"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorBody struct {
	Error apiError `json:"error"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	sess, res, err := s.sessions.Start(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{Session: sess.Snapshot(), Result: res})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	var filter repository.ListFilter
	q := r.URL.Query()
	if v := q.Get("complete"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_argument", "complete must be true or false")
			return
		}
		filter.Complete = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_argument", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}

	list, err := s.sessions.List(r.Context(), filter)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]summaryView, 0, len(list))
	for _, sum := range list {
		out = append(out, summaryView{
			ID:        sum.ID,
			Stage:     sum.Stage,
			Step:      sum.Step,
			Complete:  sum.Complete,
			CreatedAt: sum.CreatedAt,
			UpdatedAt: sum.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionView{Session: sess.Snapshot(), Progress: conversation.ProgressAt(sess.Cursor)})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev domain.Event
	if !decodeJSON(w, r, &ev) {
		return
	}
	res, err := s.sessions.Handle(r.Context(), r.PathValue("id"), ev)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.sessions.Progress(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRecaps(w http.ResponseWriter, r *http.Request) {
	recaps, err := s.sessions.Recaps(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if recaps == nil {
		recaps = []domain.StageRecap{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"recaps": recaps})
}

// errorStatus maps service errors to an HTTP status and error code.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrCorruptSnapshot):
		return http.StatusInternalServerError, "corrupt_snapshot"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	status, code := errorStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "code", code, "error", err.Error())
	}
	writeError(w, status, code, err.Error())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: apiError{Code: code, Message: msg}})
}
