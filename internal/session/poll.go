package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/akazantsev/relaychat/internal/backend"
	"github.com/akazantsev/relaychat/internal/domain"
)

// PollTransport discovers new messages by fetching the conversation
// history on a fixed interval. Sending is a plain POST; the bot's reply
// arrives on a later tick.
type PollTransport struct {
	client   *backend.Client
	interval time.Duration
	sink     Sink
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	conv   domain.Conversation
	cred   domain.Credential
}

// NewPollTransport creates a poll transport ticking at interval.
func NewPollTransport(client *backend.Client, interval time.Duration, logger *slog.Logger, sink Sink) *PollTransport {
	return &PollTransport{
		client:   client,
		interval: interval,
		sink:     sink,
		logger:   logger,
	}
}

// Start begins polling the bound conversation's history.
func (t *PollTransport) Start(ctx context.Context, conv domain.Conversation, cred domain.Credential) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		return fmt.Errorf("poll transport already started")
	}

	t.conv = conv
	t.cred = cred

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	go t.run(runCtx, conv, cred)

	t.logger.Debug("Poll transport started", "conversation_id", conv.ID, "interval", t.interval)
	return nil
}

func (t *PollTransport) run(ctx context.Context, conv domain.Conversation, cred domain.Credential) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx, conv, cred)
		}
	}
}

// tick fetches the history once. The conversation id is captured here, at
// request-issue time, and stamped onto every emitted record so the owner
// can discard results that resolve after a reset.
func (t *PollTransport) tick(ctx context.Context, conv domain.Conversation, cred domain.Credential) {
	messages, err := t.client.ListMessages(ctx, cred, conv.ID)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Recoverable: the next tick retries.
		t.logger.Warn("Poll fetch failed", "conversation_id", conv.ID, "error", err)
		return
	}

	// The remote returns newest-first; replay oldest-first so records
	// append in reading order.
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		t.sink(Record{ConversationID: conv.ID, Message: &msg})
	}
}

// Send posts one text message to the bound conversation.
func (t *PollTransport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	conv, cred := t.conv, t.cred
	t.mu.Unlock()

	if conv.ID == "" {
		return fmt.Errorf("%w: poll transport not started", ErrTransportSend)
	}
	if err := t.client.PostMessage(ctx, cred, conv.ID, text); err != nil {
		return fmt.Errorf("%w: %w", ErrTransportSend, err)
	}
	return nil
}

// Stop cancels the poll loop. An in-flight fetch may still complete; its
// records are stamped with the old conversation id and dropped upstream.
func (t *PollTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}
