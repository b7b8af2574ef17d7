package edge

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agenticode/agenticoded/internal/apierr"
	"github.com/agenticode/agenticoded/internal/ideserver"
)

type codeServerResponse struct {
	SessionID string `json:"sessionId"`
	URL       string `json:"url"`
	Port      int    `json:"port"`
}

func (s *Server) handleStartCodeServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, err := s.mgr.StartIDE(r.Context(), id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, codeServerResponse{SessionID: id, URL: inst.URL, Port: inst.Port})
}

func (s *Server) handleGetCodeServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	inst, ok := s.mgr.GetIDE(id)
	if !ok {
		apierr.Write(w, apierr.New(apierr.NotFound, "no code-server running for session"))
		return
	}
	writeJSON(w, http.StatusOK, codeServerResponse{SessionID: id, URL: inst.URL, Port: inst.Port})
}

func (s *Server) handleStopCodeServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.StopIDE(r.Context(), id); err != nil {
		if errors.Is(err, ideserver.ErrNotRunning) {
			apierr.Write(w, apierr.New(apierr.NotFound, err.Error()))
			return
		}
		apierr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListCodeServers(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.mgr.List()
	if err != nil {
		apierr.Write(w, err)
		return
	}
	out := make([]codeServerResponse, 0)
	for _, sess := range sessions {
		if inst, ok := s.mgr.GetIDE(sess.ID); ok {
			out = append(out, codeServerResponse{SessionID: sess.ID, URL: inst.URL, Port: inst.Port})
		}
	}
	writeJSON(w, http.StatusOK, out)
}
