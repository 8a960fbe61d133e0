package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/akazantsev/relaychat/internal/backend"
	"github.com/akazantsev/relaychat/internal/config"
	"github.com/akazantsev/relaychat/internal/domain"
	"github.com/coder/websocket"
)

// PushTransport discovers new messages over one persistent WebSocket
// connection. The first frame after connecting authenticates with the
// secret key; thereafter inbound frames are dispatched on their type
// discriminator.
//
// When reconnection is enabled a failed read triggers capped exponential
// backoff redials; otherwise the connection is considered dead until the
// next Start.
type PushTransport struct {
	url       string
	reconnect config.ReconnectConfig
	sink      Sink
	logger    *slog.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	conv   domain.Conversation
	cred   domain.Credential
}

// NewPushTransport creates a push transport for the given realtime URL.
func NewPushTransport(url string, reconnect config.ReconnectConfig, logger *slog.Logger, sink Sink) *PushTransport {
	return &PushTransport{
		url:       url,
		reconnect: reconnect,
		sink:      sink,
		logger:    logger,
	}
}

// Start opens the connection, authenticates, and begins the read loop.
func (t *PushTransport) Start(ctx context.Context, conv domain.Conversation, cred domain.Credential) error {
	t.mu.Lock()
	if t.cancel != nil {
		t.mu.Unlock()
		return fmt.Errorf("push transport already started")
	}
	t.conv = conv
	t.cred = cred
	t.mu.Unlock()

	if err := t.connect(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportReceive, err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	go t.run(runCtx, conv)

	t.logger.Debug("Push transport started", "conversation_id", conv.ID)
	return nil
}

// connect dials the realtime endpoint and sends the auth frame.
func (t *PushTransport) connect(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, t.url, nil)
	if err != nil {
		return fmt.Errorf("dial realtime endpoint: %w", err)
	}

	t.mu.Lock()
	key := t.cred.SecretKey
	t.mu.Unlock()

	auth := backend.Frame{
		Type:    backend.FrameTypeAuth,
		Payload: backend.FramePayload{Key: key},
	}
	data, err := json.Marshal(auth)
	if err != nil {
		_ = conn.Close(websocket.StatusInternalError, "auth encode failed")
		return fmt.Errorf("encode auth frame: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		_ = conn.Close(websocket.StatusInternalError, "auth write failed")
		return fmt.Errorf("send auth frame: %w", err)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

func (t *PushTransport) run(ctx context.Context, conv domain.Conversation) {
	for {
		conn := t.current()
		if conn == nil {
			return
		}

		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.CloseStatus(err) != -1 {
				t.logger.Info("Realtime connection closed by remote", "conversation_id", conv.ID)
			} else {
				t.logger.Warn("Realtime read failed", "conversation_id", conv.ID, "error", err)
			}

			t.setConn(nil)
			if !t.reconnect.Enabled {
				t.logger.Warn("Push transport dead until next start", "conversation_id", conv.ID)
				return
			}
			if !t.redial(ctx) {
				return
			}
			continue
		}

		t.dispatch(conv.ID, data)
	}
}

// redial reconnects with capped exponential backoff. Returns false when
// the transport was stopped while waiting.
func (t *PushTransport) redial(ctx context.Context) bool {
	wait := t.reconnect.InitialWait
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(wait):
		}

		if err := t.connect(ctx); err != nil {
			t.logger.Warn("Realtime reconnect failed", "wait", wait, "error", err)
			wait *= 2
			if wait > t.reconnect.MaxWait {
				wait = t.reconnect.MaxWait
			}
			continue
		}

		t.logger.Info("Realtime connection reestablished")
		return true
	}
}

func (t *PushTransport) dispatch(conversationID string, data []byte) {
	var frame backend.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		t.logger.Warn("Dropping malformed realtime frame", "error", err)
		return
	}

	switch frame.Type {
	case backend.FrameTypeText:
		msg := backend.RemoteMessage{
			ID:      frame.ID,
			Payload: backend.MessagePayload{Type: backend.PayloadTypeText, Text: frame.Payload.Text},
		}
		t.sink(Record{ConversationID: conversationID, Message: &msg})
	case backend.FrameTypeTyping:
		if frame.Payload.Typing == nil {
			t.logger.Warn("Dropping typing frame without typing field")
			return
		}
		t.sink(Record{ConversationID: conversationID, Typing: frame.Payload.Typing})
	default:
		// Unrecognized types are dropped, not treated as errors.
		t.logger.Debug("Dropping unrecognized realtime frame", "type", frame.Type)
	}
}

// Send writes a text frame on the open connection. A nil return means the
// frame was queued without a transport-level error; no acknowledgment is
// awaited.
func (t *PushTransport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	conn := t.conn
	conversationID := t.conv.ID
	t.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: realtime connection is closed", ErrTransportSend)
	}

	frame := backend.Frame{
		Type:    backend.FrameTypeText,
		Payload: backend.FramePayload{ConversationID: conversationID, Text: text},
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("%w: encode text frame: %w", ErrTransportSend, err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportSend, err)
	}
	return nil
}

// Stop cancels the read loop and closes the connection.
func (t *PushTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.conn != nil {
		if err := t.conn.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
			t.logger.Debug("Failed to close realtime connection", "error", err)
		}
		t.conn = nil
	}
}

func (t *PushTransport) current() *websocket.Conn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn
}

func (t *PushTransport) setConn(conn *websocket.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conn = conn
}
