package edge

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agenticode/agenticoded/internal/apierr"
)

type syncRequest struct {
	Direction string `json:"direction"`
}

// handleSyncSession implements spec.md §6 "POST /sessions/:id/sync": an
// explicit full sync in either direction for a running session's
// workspace, on top of the watcher's own debounced background sync.
func (s *Server) handleSyncSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req syncRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Direction == "" {
		req.Direction = "toCloud"
	}

	var toCloud bool
	switch req.Direction {
	case "toCloud":
		toCloud = true
	case "fromCloud":
		toCloud = false
	default:
		apierr.WriteValidation(w, "direction must be toCloud or fromCloud", nil)
		return
	}

	if err := s.mgr.Sync(r.Context(), id, toCloud); err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "direction": req.Direction, "status": "synced"})
}

// handleWorkspaceSyncStatus implements spec.md §6 "GET /workspace/sync/status."
func (s *Server) handleWorkspaceSyncStatus(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		apierr.WriteValidation(w, "userId query parameter is required", nil)
		return
	}
	meta, err := s.mgr.WorkspaceSyncStatus(r.Context(), userID)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, meta)
}
