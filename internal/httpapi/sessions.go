package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/consultx/consultx/internal/session"
)

type createSessionRequest struct {
	UserID   string         `json:"user_id"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type appendMessageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	view, err := s.tracker.CreateSession(r.Context(), req.UserID, req.Metadata)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{
		"session": view.Session,
		"buffer":  view.Buffer,
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessions, err := s.tracker.ListSessions(r.Context(), q.Get("user_id"), q.Get("status"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view, err := s.tracker.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

func (s *Server) handleAppendMessage(w http.ResponseWriter, r *http.Request) {
	var req appendMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	res, err := s.tracker.AppendMessage(r.Context(), chi.URLParam(r, "id"), req.Sender, req.Content)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	res, err := s.tracker.EndSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	refresh := false
	if v := strings.TrimSpace(r.URL.Query().Get("refresh")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			respondDomainError(w, fmt.Errorf("%w: refresh must be a boolean", session.ErrValidation))
			return
		}
		refresh = b
	}
	sum, err := s.tracker.GetSummary(r.Context(), chi.URLParam(r, "id"), refresh)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"summary": sum})
}
