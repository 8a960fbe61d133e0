package stub

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/akazantsev/relaychat/internal/backend"
	"github.com/coder/websocket"
)

// realtimeConn is one authenticated WebSocket client.
type realtimeConn struct {
	conn   *websocket.Conn
	userID string
}

// handleRealtime upgrades the connection and runs the frame loop. The
// first frame must be an auth frame carrying a valid secret key; anything
// else closes the connection.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Error("Failed to accept realtime connection", "error", err)
		return
	}

	ctx := r.Context()

	userID, ok := s.awaitAuth(ctx, ws)
	if !ok {
		_ = ws.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}

	rc := &realtimeConn{conn: ws, userID: userID}
	s.register(rc)
	defer func() {
		s.unregister(rc)
		_ = ws.Close(websocket.StatusNormalClosure, "session ended")
	}()

	s.logger.Info("Realtime client connected", "user_id", userID)
	s.readLoop(ctx, rc)
}

func (s *Server) awaitAuth(ctx context.Context, ws *websocket.Conn) (string, bool) {
	_, data, err := ws.Read(ctx)
	if err != nil {
		return "", false
	}
	var frame backend.Frame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != backend.FrameTypeAuth {
		return "", false
	}
	userID, ok := s.lookupUser(frame.Payload.Key)
	return userID, ok
}

func (s *Server) readLoop(ctx context.Context, rc *realtimeConn) {
	for {
		_, data, err := rc.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				s.logger.Debug("Realtime client disconnected", "user_id", rc.userID)
			} else {
				s.logger.Warn("Realtime read error", "user_id", rc.userID, "error", err)
			}
			return
		}

		var frame backend.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.logger.Warn("Dropping malformed client frame", "user_id", rc.userID, "error", err)
			continue
		}
		if frame.Type != backend.FrameTypeText {
			s.logger.Debug("Dropping unexpected client frame", "type", frame.Type)
			continue
		}
		if frame.Payload.ConversationID == "" || frame.Payload.Text == "" {
			continue
		}

		if !s.appendMessage(frame.Payload.ConversationID, rc.userID, frame.Payload.Text) {
			continue
		}
		s.scheduleReply(frame.Payload.ConversationID, rc.userID, frame.Payload.Text)
	}
}

func (s *Server) register(rc *realtimeConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[rc.userID] = append(s.conns[rc.userID], rc)
}

func (s *Server) unregister(rc *realtimeConn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conns := s.conns[rc.userID]
	for i, c := range conns {
		if c == rc {
			s.conns[rc.userID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
}

// pushTyping sends a typing frame to every realtime connection of userID.
func (s *Server) pushTyping(userID string, typing bool) {
	frame := backend.Frame{
		Type:    backend.FrameTypeTyping,
		Payload: backend.FramePayload{Typing: &typing},
	}
	s.push(userID, frame)
}

// pushText delivers a message frame to every realtime connection of userID.
func (s *Server) pushText(userID string, msg backend.RemoteMessage) {
	frame := backend.Frame{
		Type:    backend.FrameTypeText,
		ID:      msg.ID,
		Payload: backend.FramePayload{Text: msg.Payload.Text},
	}
	s.push(userID, frame)
}

func (s *Server) push(userID string, frame backend.Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		s.logger.Error("Failed to encode realtime frame", "error", err)
		return
	}

	s.mu.Lock()
	conns := make([]*realtimeConn, len(s.conns[userID]))
	copy(conns, s.conns[userID])
	s.mu.Unlock()

	for _, rc := range conns {
		if err := rc.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
			s.logger.Debug("Realtime push failed", "user_id", userID, "error", err)
		}
	}
}
