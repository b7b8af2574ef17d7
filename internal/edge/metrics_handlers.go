package edge

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agenticode/agenticoded/internal/apierr"
	"github.com/agenticode/agenticoded/internal/metrics"
)

type sessionMetricsResponse struct {
	metrics.Sample
	Usage metrics.TokenUsage `json:"usage"`
}

func (s *Server) handleSessionMetrics(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pid, err := s.mgr.Pid(id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	resp := sessionMetricsResponse{Usage: s.metrics.Usage(id)}
	if pid > 0 {
		if sample, err := s.metrics.Sample(pid); err == nil {
			resp.Sample = *sample
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleSessionMetricsEnhanced adds the session's current activity
// heuristic and rolling-buffer tail length to the plain metrics response,
// the "enhanced" view spec.md §6 calls out separately.
func (s *Server) handleSessionMetricsEnhanced(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	pid, err := s.mgr.Pid(id)
	if err != nil {
		apierr.Write(w, err)
		return
	}
	activity, _ := s.mgr.Activity(id)
	tail, _ := s.mgr.Tail(id)

	resp := struct {
		sessionMetricsResponse
		Activity  string `json:"activity"`
		TailLines int    `json:"tailLines"`
	}{Activity: string(activity), TailLines: len(tail)}
	resp.Usage = s.metrics.Usage(id)
	if pid > 0 {
		if sample, err := s.metrics.Sample(pid); err == nil {
			resp.Sample = *sample
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAllMetricsEnhanced(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.mgr.List()
	if err != nil {
		apierr.Write(w, err)
		return
	}
	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		activity, _ := s.mgr.Activity(sess.ID)
		usage := s.metrics.Usage(sess.ID)
		out = append(out, map[string]any{
			"sessionId": sess.ID,
			"userId":    sess.UserID,
			"status":    sess.Status,
			"activity":  string(activity),
			"usage":     usage,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, r *http.Request) {
	agg := s.metrics.Aggregate(s.mgr.Resources())
	writeJSON(w, http.StatusOK, agg)
}
