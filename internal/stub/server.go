// Package stub implements an in-memory stand-in for the remote
// conversational service, covering its REST and realtime surfaces. It
// exists so the client can be developed and demoed without the real
// backend; replies are canned echoes.
package stub

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/akazantsev/relaychat/internal/backend"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// BotUserID is the sender id the stub stamps on generated replies.
const BotUserID = "bot"

type conversation struct {
	ownerID string
	// newest-first, matching the real service's history ordering
	messages []backend.RemoteMessage
}

// Server holds the in-memory state of the stub service.
type Server struct {
	replyDelay time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	users map[string]string // secret key -> user id
	convs map[string]*conversation
	conns map[string][]*realtimeConn // user id -> authenticated realtime connections
}

// NewServer creates a stub service whose bot replies after replyDelay.
func NewServer(replyDelay time.Duration, logger *slog.Logger) *Server {
	return &Server{
		replyDelay: replyDelay,
		logger:     logger,
		users:      make(map[string]string),
		convs:      make(map[string]*conversation),
		conns:      make(map[string][]*realtimeConn),
	}
}

// Routes returns the chi router exposing the full wire surface.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/users", s.handleCreateUser)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Post("/conversations", s.handleCreateConversation)
		r.Get("/conversations/{conversationID}/messages", s.handleListMessages)
		r.Post("/messages", s.handlePostMessage)
	})
	r.Get("/realtime", s.handleRealtime)
	return r
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

type contextKey int

const userIDKey contextKey = iota

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		userID, ok := s.lookupUser(key)
		if !ok {
			Error(w, http.StatusUnauthorized, "invalid or missing key")
			return
		}
		next.ServeHTTP(w, r.WithContext(withUserID(r.Context(), userID)))
	})
}

func (s *Server) lookupUser(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.users[key]
	return userID, ok
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	key, err := generateKey()
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to generate key")
		return
	}
	userID := "user_" + uuid.NewString()

	s.mu.Lock()
	s.users[key] = userID
	s.mu.Unlock()

	s.logger.Info("User created", "user_id", userID)
	JSON(w, http.StatusCreated, map[string]any{
		"user": map[string]string{"id": userID},
		"key":  key,
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	conversationID := "conv_" + uuid.NewString()

	s.mu.Lock()
	s.convs[conversationID] = &conversation{ownerID: userID}
	s.mu.Unlock()

	s.logger.Info("Conversation created", "conversation_id", conversationID, "user_id", userID)
	JSON(w, http.StatusCreated, map[string]any{
		"conversation": map[string]string{"id": conversationID},
	})
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	conversationID := chi.URLParam(r, "conversationID")

	s.mu.Lock()
	conv, ok := s.convs[conversationID]
	if !ok {
		s.mu.Unlock()
		Error(w, http.StatusNotFound, "unknown conversation")
		return
	}
	messages := make([]backend.RemoteMessage, len(conv.messages))
	copy(messages, conv.messages)
	s.mu.Unlock()

	JSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())

	var req struct {
		ConversationID string                 `json:"conversationId"`
		Payload        backend.MessagePayload `json:"payload"`
		Type           string                 `json:"type"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid message body")
		return
	}
	if req.ConversationID == "" || req.Payload.Text == "" {
		Error(w, http.StatusBadRequest, "conversationId and payload.text are required")
		return
	}

	if !s.appendMessage(req.ConversationID, userID, req.Payload.Text) {
		Error(w, http.StatusNotFound, "unknown conversation")
		return
	}
	s.scheduleReply(req.ConversationID, userID, req.Payload.Text)

	JSON(w, http.StatusCreated, map[string]string{"status": "accepted"})
}

// appendMessage prepends a message to the conversation (newest-first) and
// reports whether the conversation exists.
func (s *Server) appendMessage(conversationID, senderID, text string) bool {
	msg := backend.RemoteMessage{
		ID:      "msg_" + uuid.NewString(),
		UserID:  senderID,
		Payload: backend.MessagePayload{Type: backend.PayloadTypeText, Text: text},
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[conversationID]
	if !ok {
		return false
	}
	conv.messages = append([]backend.RemoteMessage{msg}, conv.messages...)
	return true
}

// scheduleReply produces the bot's echo after the configured delay,
// appending it to the history and pushing it to any realtime connections
// of the sending user (with typing frames around it).
func (s *Server) scheduleReply(conversationID, userID, text string) {
	s.pushTyping(userID, true)
	time.AfterFunc(s.replyDelay, func() {
		reply := "You said: " + text

		s.mu.Lock()
		conv, ok := s.convs[conversationID]
		if !ok {
			s.mu.Unlock()
			return
		}
		msg := backend.RemoteMessage{
			ID:      "msg_" + uuid.NewString(),
			UserID:  BotUserID,
			Payload: backend.MessagePayload{Type: backend.PayloadTypeText, Text: reply},
		}
		conv.messages = append([]backend.RemoteMessage{msg}, conv.messages...)
		s.mu.Unlock()

		s.pushText(userID, msg)
		s.pushTyping(userID, false)
	})
}

func generateKey() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "key_" + hex.EncodeToString(buf), nil
}
