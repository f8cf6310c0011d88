package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/MimeLyc/livesub/internal/jobs"
	"github.com/MimeLyc/livesub/internal/service"
	"github.com/MimeLyc/livesub/internal/session"
	"github.com/MimeLyc/livesub/pkg/log"
)

type languageRequest struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

type languageResponse struct {
	Pair   session.LanguagePair `json:"pair"`
	Source string               `json:"source"`
	Target string               `json:"target"`
}

type transcriptResponse struct {
	SessionID string         `json:"session_id"`
	Lines     []session.Line `json:"lines"`
}

type exportResponse struct {
	Path  string `json:"path"`
	Name  string `json:"name"`
	Bytes int    `json:"bytes"`
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	lines := s.ctrl.Transcript()
	if lines == nil {
		lines = []session.Line{}
	}
	writeJSON(w, http.StatusOK, transcriptResponse{
		SessionID: s.ctrl.Status().ID,
		Lines:     lines,
	})
}

func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Bindings().All())
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	log.Info("Stop requested over HTTP by %s", r.RemoteAddr)
	s.ctrl.Stop()
	writeJSON(w, http.StatusAccepted, map[string]any{"stopping": true})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.cmdTimeout)
	defer cancel()

	log.Info("End requested over HTTP by %s", r.RemoteAddr)
	job, err := s.ctrl.End(ctx)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleLanguage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var req languageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Source) == "" || strings.TrimSpace(req.Target) == "" {
		writeError(w, http.StatusBadRequest, "source and target are required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cmdTimeout)
	defer cancel()
	pair, err := s.ctrl.ChangeLanguage(ctx, req.Source, req.Target)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := languageResponse{Pair: pair, Source: pair.Source.String(), Target: pair.Target.String()}
	if b, ok := s.ctrl.Bindings().ForTag(pair.Source); ok {
		resp.Source = b.Name
	}
	if b, ok := s.ctrl.Bindings().ForTag(pair.Target); ok {
		resp.Target = b.Name
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	art, err := s.ctrl.Snapshot(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exportResponse{Path: art.Path, Name: art.Name, Bytes: len(art.Data)})
}

func (s *Server) handleDeliveries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	list := s.ctrl.Deliveries()
	if status := jobs.Status(r.URL.Query().Get("status")); status != "" {
		filtered := make([]*jobs.DeliveryJob, 0, len(list))
		for _, job := range list {
			if job.Status == status {
				filtered = append(filtered, job)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleDelivery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/deliveries/"), "/")
	if decoded, err := url.PathUnescape(id); err == nil {
		id = decoded
	}
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing delivery id")
		return
	}
	job, ok := s.ctrl.Delivery(id)
	if !ok {
		writeError(w, http.StatusNotFound, "delivery not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleLatestSubtitle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	sub, ok := s.ctrl.Subtitles().Latest()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// writeServiceError maps service error kinds onto HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case service.IsErrorType(err, service.ErrConfig):
		status = http.StatusBadRequest
	case service.IsErrorType(err, service.ErrSession):
		status = http.StatusConflict
	case service.IsErrorType(err, service.ErrEngine):
		status = http.StatusBadGateway
	case service.IsErrorType(err, service.ErrExport):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		log.Error("Request failed: %v", err)
	}
	writeError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}
