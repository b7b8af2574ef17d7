package edge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agenticode/agenticoded/internal/apierr"
	"github.com/agenticode/agenticoded/internal/session"
)

type createSessionRequest struct {
	UserID         string `json:"userId"`
	WorkspacePath  string `json:"workspacePath,omitempty"`
	Model          string `json:"model,omitempty"`
	APIKey         string `json:"apiKey,omitempty"`
	StorageLimitMB int64  `json:"storageLimitMb,omitempty"`
}

type createSessionResponse struct {
	SessionID string        `json:"sessionId"`
	Status    string        `json:"status"`
	Session   *session.Info `json:"session"`
}

// handleCreateSession implements spec.md §6's "existing session" shortcut:
// a user with a live session gets it back with status "existing" instead
// of a second one being provisioned.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteValidation(w, "invalid json body", nil)
		return
	}
	if req.UserID == "" {
		apierr.WriteValidation(w, "userId is required", nil)
		return
	}

	if existing, err := s.mgr.GetByUser(req.UserID); err == nil {
		writeJSON(w, http.StatusOK, createSessionResponse{SessionID: existing.ID, Status: "existing", Session: existing})
		return
	}

	info, err := s.mgr.Create(r.Context(), session.CreateOpts{
		UserID:         req.UserID,
		Model:          req.Model,
		APIKey:         req.APIKey,
		StorageLimitMB: req.StorageLimitMB,
	})
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, createSessionResponse{SessionID: info.ID, Status: "created", Session: info})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.mgr.Get(id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.mgr.List()
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleListUserSessions(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	sessions, err := s.mgr.List()
	if err != nil {
		apierr.Write(w, err)
		return
	}
	out := make([]*session.Info, 0)
	for _, sess := range sessions {
		if sess.UserID == userID {
			out = append(out, sess)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.mgr.Stop(r.Context(), id); err != nil {
		apierr.Write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRestartSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	info, err := s.mgr.Restart(r.Context(), id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// defaultMessageWindow bounds how long handleSendMessage waits collecting
// PTY output for the legacy request/response endpoint.
const defaultMessageWindow = 3 * time.Second

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		apierr.WriteValidation(w, "message is required", nil)
		return
	}
	out, err := s.mgr.SendMessage(id, req.Message, defaultMessageWindow)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"output": out})
}

type recordTokensRequest struct {
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	Model        string `json:"model,omitempty"`
}

func (s *Server) handleRecordTokens(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req recordTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierr.WriteValidation(w, "invalid json body", nil)
		return
	}
	info, err := s.mgr.Get(id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	model := req.Model
	if model == "" {
		model = info.Model
	}
	usage := s.metrics.RecordUsage(id, model, req.InputTokens, req.OutputTokens)
	writeJSON(w, http.StatusOK, usage)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
