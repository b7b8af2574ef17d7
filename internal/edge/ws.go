package edge

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/agenticode/agenticoded/internal/metrics"
	"github.com/agenticode/agenticoded/internal/session"
	"github.com/agenticode/agenticoded/internal/store"
)

// WebSocket close codes, per spec.md §7 "User-visible behaviour."
const (
	closeUnauthorised         = 4000
	closeMissingParameter     = 4001
	closeSessionUnavailable   = 4002
	closeSubsystemUnavailable = 4003
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func closeWithCode(w http.ResponseWriter, r *http.Request, code int, reason string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(5*time.Second))
}

// handleWSTerminal streams raw PTY bytes both ways: binary frames for
// output, and either binary frames or a {"type":"resize"} control frame
// for input, per spec.md §6's "/ws/terminal" contract.
func (s *Server) handleWSTerminal(w http.ResponseWriter, r *http.Request) {
	if s.cfg.InternalAPIKey != "" && !authorized(r, s.cfg.InternalAPIKey) {
		closeWithCode(w, r, closeUnauthorised, "unauthorised")
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	if sessionID == "" {
		closeWithCode(w, r, closeMissingParameter, "sessionId is required")
		return
	}

	subID := uuid.New().String()
	raw, err := s.mgr.SubscribeRaw(sessionID, subID)
	if err != nil {
		closeWithCode(w, r, closeSessionUnavailable, "session not available")
		return
	}
	defer s.mgr.UnsubscribeRaw(sessionID, subID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range raw {
			if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
				return
			}
		}
	}()

	type controlFrame struct {
		Type string `json:"type"`
		Cols int    `json:"cols"`
		Rows int    `json:"rows"`
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			_ = s.mgr.Write(sessionID, data)
		case websocket.TextMessage:
			var cf controlFrame
			if json.Unmarshal(data, &cf) == nil && cf.Type == "resize" {
				_ = s.mgr.Resize(sessionID, cf.Rows, cf.Cols)
			} else {
				_ = s.mgr.Write(sessionID, data)
			}
		}
	}
	<-done
}

type clientEventFrame struct {
	Type        string   `json:"type"`
	Content     string   `json:"content,omitempty"`
	Attachments []string `json:"attachments,omitempty"`
}

// handleWSEvents streams structured NDJSON-translated UI events for a
// session, optionally scoped by sessionId, per spec.md §6's "/ws/events."
func (s *Server) handleWSEvents(w http.ResponseWriter, r *http.Request) {
	if s.cfg.InternalAPIKey != "" && !authorized(r, s.cfg.InternalAPIKey) {
		closeWithCode(w, r, closeUnauthorised, "unauthorised")
		return
	}
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		closeWithCode(w, r, closeMissingParameter, "userId is required")
		return
	}
	sessionID := r.URL.Query().Get("sessionId")
	apiKey := r.URL.Query().Get("apiKey")
	wantMode := store.ModeOllama
	if apiKey != "" {
		wantMode = store.ModeAPI
	}

	if sessionID == "" {
		if info, err := s.mgr.GetByUser(userID); err == nil {
			if info.Mode != "" && info.Mode != wantMode {
				// Mode mismatch (api vs ollama): the old session is stopped
				// and a new one created in the requested mode, per spec.md
				// §4.9.
				_ = s.mgr.Stop(r.Context(), info.ID)
				info = nil
			}
			if info != nil {
				sessionID = info.ID
			}
		}
	}
	if sessionID == "" {
		info, err := s.mgr.Create(r.Context(), session.CreateOpts{UserID: userID, APIKey: apiKey})
		if err != nil {
			closeWithCode(w, r, closeSessionUnavailable, "no active session for user")
			return
		}
		sessionID = info.ID
	}

	subID := uuid.New().String()
	evCh, err := s.mgr.SubscribeEvents(sessionID, subID)
	if err != nil {
		closeWithCode(w, r, closeSessionUnavailable, "session not available")
		return
	}
	defer s.mgr.UnsubscribeEvents(sessionID, subID)

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range evCh {
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
	}()

	for {
		var frame clientEventFrame
		if err := conn.ReadJSON(&frame); err != nil {
			break
		}
		switch frame.Type {
		case "user_message":
			_ = s.mgr.Write(sessionID, []byte(frame.Content+"\n"))
		case "stop_execution":
			_ = s.mgr.Write(sessionID, []byte{0x03}) // Ctrl-C
		}
	}
	<-done
}

// handleWSMetrics broadcasts the system-wide aggregate every
// metrics.BroadcastInterval, and lets a client narrow the session set with
// a {"type":"subscribe_session","sessionId":...} frame, per spec.md §6's
// "/ws/metrics" contract.
func (s *Server) handleWSMetrics(w http.ResponseWriter, r *http.Request) {
	if s.cfg.InternalAPIKey != "" && !authorized(r, s.cfg.InternalAPIKey) {
		closeWithCode(w, r, closeUnauthorised, "unauthorised")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var subscribed string
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for {
			var frame struct {
				Type      string `json:"type"`
				SessionID string `json:"sessionId"`
			}
			if err := conn.ReadJSON(&frame); err != nil {
				return
			}
			if frame.Type == "subscribe_session" {
				subscribed = frame.SessionID
			}
		}
	}()

	ctx := r.Context()
	s.metrics.RunBroadcast(ctx, func() []metrics.SessionResource {
		resources := s.mgr.Resources()
		if subscribed == "" {
			return resources
		}
		for _, res := range resources {
			if res.SessionID == subscribed {
				return []metrics.SessionResource{res}
			}
		}
		return nil
	}, func(agg metrics.Aggregate) {
		if err := conn.WriteJSON(agg); err != nil {
			_ = conn.Close()
		}
	})
	<-readDone
}
