// Package session implements the message-synchronization core: identity
// bootstrap, transport strategies, deduplication, and the conversation
// façade consumed by the UI layer.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/akazantsev/relaychat/internal/domain"
	"github.com/google/uuid"
)

// State is the lifecycle state of a ConversationSession.
type State int

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateReady
	StateResetting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateResetting:
		return "resetting"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConversationSession composes bootstrapper, transport, and deduplicator
// behind the consumer-facing surface: Initialize, SendMessage,
// StartNewConversation, Close, plus the message and typing streams.
//
// Public operations are expected to be invoked from a single control
// flow; the asynchronous transport callbacks serialize their effects onto
// session state internally.
type ConversationSession struct {
	bootstrapper  Bootstrapper
	newTransport  TransportFactory
	typingTimeout time.Duration
	logger        *slog.Logger

	messages *broadcaster[domain.Message]
	typing   *broadcaster[bool]

	mu          sync.Mutex
	state       State
	cred        domain.Credential
	conv        domain.Conversation
	transport   Transport
	dedup       *Deduplicator
	typingTimer *time.Timer
}

// New creates an uninitialized session. typingTimeout bounds how long the
// typing indicator stays armed after a send with no reply.
func New(bootstrapper Bootstrapper, factory TransportFactory, typingTimeout time.Duration, logger *slog.Logger) *ConversationSession {
	return &ConversationSession{
		bootstrapper:  bootstrapper,
		newTransport:  factory,
		typingTimeout: typingTimeout,
		logger:        logger,
		messages:      newBroadcaster[domain.Message]("messages", logger),
		typing:        newBroadcaster[bool]("typing", logger),
		dedup:         NewDeduplicator(),
	}
}

// SubscribeMessages returns a stream of conversation messages. Late
// subscribers receive only future messages.
func (s *ConversationSession) SubscribeMessages() <-chan domain.Message {
	return s.messages.Subscribe()
}

// SubscribeTyping returns a stream of typing-indicator updates.
func (s *ConversationSession) SubscribeTyping() <-chan bool {
	return s.typing.Subscribe()
}

// State returns the current lifecycle state.
func (s *ConversationSession) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// IsReady reports whether the session accepts messages.
func (s *ConversationSession) IsReady() bool {
	return s.State() == StateReady
}

// Initialize bootstraps identity and conversation, then starts the
// transport. On failure the session lands in StateFailed and the error is
// returned; calling Initialize again retries from scratch.
func (s *ConversationSession) Initialize(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateUninitialized && s.state != StateFailed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("initialize called in state %s", state)
	}
	s.state = StateBootstrapping
	s.mu.Unlock()

	cred, conv, err := s.bootstrapper.Bootstrap(ctx)
	if err != nil {
		s.fail(err)
		return err
	}

	transport := s.newTransport(s.handleRecord)
	if err := transport.Start(ctx, conv, cred); err != nil {
		s.fail(err)
		return err
	}

	s.mu.Lock()
	s.cred = cred
	s.conv = conv
	s.transport = transport
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Info("Session ready", "conversation_id", conv.ID, "user_id", cred.UserID)
	return nil
}

func (s *ConversationSession) fail(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()
	s.logger.Error("Session bootstrap failed", "error", err)
}

// SendMessage emits an optimistic local message, arms the typing
// indicator, and forwards the text to the transport. It is a no-op when
// the session is not ready or the trimmed text is empty. A transport
// failure keeps the session ready; the failure is surfaced as a synthetic
// bot-origin message on the stream and as the returned error.
func (s *ConversationSession) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.mu.Lock()
	if s.state != StateReady {
		s.mu.Unlock()
		return nil
	}
	transport := s.transport
	local := domain.Message{
		ID:     domain.LocalIDPrefix + uuid.NewString(),
		Text:   text,
		Origin: domain.OriginUser,
	}
	s.messages.Publish(local)
	s.armTypingLocked()
	s.mu.Unlock()

	if err := transport.Send(ctx, text); err != nil {
		s.logger.Warn("Send failed", "error", err)
		s.mu.Lock()
		s.clearTypingLocked()
		s.messages.Publish(domain.Message{
			ID:     domain.LocalIDPrefix + uuid.NewString(),
			Text:   "Your message could not be delivered. Please try again.",
			Origin: domain.OriginBot,
		})
		s.mu.Unlock()
		return err
	}
	return nil
}

// StartNewConversation replaces the active conversation handle. Ordering
// is deliberate: the old transport stops first, then the new conversation
// is created, then the deduplicator is cleared, then a fresh transport
// starts bound to the new handle. Records from the old handle that arrive
// late are discarded by the stale-handle check in handleRecord.
func (s *ConversationSession) StartNewConversation(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: cannot reset in state %s", ErrNotReady, state)
	}
	s.state = StateResetting
	old := s.transport
	cred := s.cred
	oldConv := s.conv
	s.mu.Unlock()

	old.Stop()

	conv, err := s.bootstrapper.NewConversation(ctx, cred)
	if err != nil {
		// Keep the old handle; rebind a fresh transport so the session
		// stays usable.
		s.logger.Warn("New conversation failed, keeping current one", "error", err)
		s.rebind(ctx, oldConv, cred, false)
		return err
	}

	s.rebind(ctx, conv, cred, true)
	s.logger.Info("Conversation replaced", "old", oldConv.ID, "new", conv.ID)
	return nil
}

// rebind installs a fresh transport for conv and returns the session to
// StateReady. resetDedup is false only on the failure path that keeps the
// previous conversation, where seen ids must survive.
func (s *ConversationSession) rebind(ctx context.Context, conv domain.Conversation, cred domain.Credential, resetDedup bool) {
	transport := s.newTransport(s.handleRecord)
	if err := transport.Start(ctx, conv, cred); err != nil {
		s.logger.Warn("Transport restart failed", "conversation_id", conv.ID, "error", err)
	}

	s.mu.Lock()
	if resetDedup {
		s.dedup.Reset()
	}
	s.clearTypingLocked()
	s.conv = conv
	s.transport = transport
	s.state = StateReady
	s.mu.Unlock()
}

// handleRecord is the sink every transport delivers into. It runs on
// transport goroutines and serializes onto session state.
func (s *ConversationSession) handleRecord(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReady {
		return
	}
	if rec.ConversationID != s.conv.ID {
		// A reset happened while this record was in flight.
		s.logger.Debug("Discarding record for stale conversation", "conversation_id", rec.ConversationID)
		return
	}

	if rec.Typing != nil {
		if !*rec.Typing {
			s.stopTypingTimerLocked()
		}
		s.typing.Publish(*rec.Typing)
		return
	}

	if rec.Message == nil {
		return
	}
	msg := rec.Message

	// The user's own echoed message comes back with our user id; the
	// optimistic local entry already renders it.
	if msg.UserID != "" && msg.UserID == s.cred.UserID {
		return
	}
	if !s.dedup.Admit(msg.ID) {
		return
	}

	s.clearTypingLocked()
	s.messages.Publish(domain.Message{
		ID:     msg.ID,
		Text:   msg.Payload.Text,
		Origin: domain.OriginBot,
	})
}

// armTypingLocked raises the typing indicator and starts the safety-net
// timer that lowers it if no reply arrives in time.
func (s *ConversationSession) armTypingLocked() {
	s.stopTypingTimerLocked()
	s.typing.Publish(true)
	s.typingTimer = time.AfterFunc(s.typingTimeout, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.typingTimer == nil {
			return
		}
		s.typingTimer = nil
		s.typing.Publish(false)
	})
}

// clearTypingLocked lowers the typing indicator if it is armed.
func (s *ConversationSession) clearTypingLocked() {
	if s.typingTimer == nil {
		return
	}
	s.stopTypingTimerLocked()
	s.typing.Publish(false)
}

func (s *ConversationSession) stopTypingTimerLocked() {
	if s.typingTimer != nil {
		s.typingTimer.Stop()
		s.typingTimer = nil
	}
}

// Close stops the transport and closes both streams. The session cannot
// be reused afterwards.
func (s *ConversationSession) Close() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	transport := s.transport
	s.transport = nil
	s.stopTypingTimerLocked()
	s.mu.Unlock()

	if transport != nil {
		transport.Stop()
	}
	s.messages.Close()
	s.typing.Close()
	s.logger.Info("Session closed")
}
