package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/akazantsev/relaychat/internal/backend"
	"github.com/akazantsev/relaychat/internal/domain"
)

var testCred = domain.Credential{UserID: "user-1", SecretKey: "key-1"}

type fakeBootstrapper struct {
	mu           sync.Mutex
	bootstrapErr error
	convErr      error
	convCount    int
}

func (b *fakeBootstrapper) Bootstrap(ctx context.Context) (domain.Credential, domain.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bootstrapErr != nil {
		return domain.Credential{}, domain.Conversation{}, b.bootstrapErr
	}
	b.convCount++
	return testCred, domain.Conversation{ID: fmt.Sprintf("conv-%d", b.convCount)}, nil
}

func (b *fakeBootstrapper) NewConversation(ctx context.Context, cred domain.Credential) (domain.Conversation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.convErr != nil {
		return domain.Conversation{}, b.convErr
	}
	b.convCount++
	return domain.Conversation{ID: fmt.Sprintf("conv-%d", b.convCount)}, nil
}

func (b *fakeBootstrapper) setErrors(bootstrapErr, convErr error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bootstrapErr = bootstrapErr
	b.convErr = convErr
}

type fakeTransport struct {
	mu      sync.Mutex
	conv    domain.Conversation
	sent    []string
	sendErr error
	stopped bool
}

func (t *fakeTransport) Start(ctx context.Context, conv domain.Conversation, cred domain.Credential) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conv = conv
	return nil
}

func (t *fakeTransport) Send(ctx context.Context, text string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, text)
	return nil
}

func (t *fakeTransport) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

func (t *fakeTransport) wasStopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// harness wires a session to fakes and keeps hold of the sink so tests
// can inject inbound records as a transport would.
type harness struct {
	session      *ConversationSession
	bootstrapper *fakeBootstrapper

	mu        sync.Mutex
	transport *fakeTransport
	sink      Sink
}

func newHarness(typingTimeout time.Duration) *harness {
	h := &harness{bootstrapper: &fakeBootstrapper{}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	factory := func(sink Sink) Transport {
		ft := &fakeTransport{}
		h.mu.Lock()
		h.transport = ft
		h.sink = sink
		h.mu.Unlock()
		return ft
	}
	h.session = New(h.bootstrapper, factory, typingTimeout, logger)
	return h
}

func (h *harness) currentTransport() *fakeTransport {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.transport
}

func (h *harness) inject(conversationID, msgID, senderID, text string) {
	h.mu.Lock()
	sink := h.sink
	h.mu.Unlock()
	sink(Record{
		ConversationID: conversationID,
		Message: &backend.RemoteMessage{
			ID:      msgID,
			UserID:  senderID,
			Payload: backend.MessagePayload{Text: text},
		},
	})
}

func waitMessage(t *testing.T, ch <-chan domain.Message) domain.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return domain.Message{}
	}
}

func waitTyping(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing update")
		return false
	}
}

func expectNoMessage(t *testing.T, ch <-chan domain.Message, wait time.Duration) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Fatalf("unexpected message on stream: %+v", msg)
	case <-time.After(wait):
	}
}

func TestInitializeTransitionsToReady(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if h.session.State() != StateUninitialized {
		t.Fatalf("fresh session state = %s, want uninitialized", h.session.State())
	}

	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if !h.session.IsReady() {
		t.Errorf("session state = %s, want ready", h.session.State())
	}
}

func TestInitializeFailureIsRetryable(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	h.bootstrapper.setErrors(fmt.Errorf("%w: remote returned status 500", ErrIdentityCreation), nil)

	err := h.session.Initialize(context.Background())
	if err == nil {
		t.Fatal("Initialize should fail when bootstrap fails")
	}
	if !errors.Is(err, ErrIdentityCreation) {
		t.Errorf("error = %v, want ErrIdentityCreation", err)
	}
	if h.session.State() != StateFailed {
		t.Fatalf("state after failed bootstrap = %s, want failed", h.session.State())
	}

	// The endpoint recovers; a second Initialize succeeds.
	h.bootstrapper.setErrors(nil, nil)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("retry Initialize failed: %v", err)
	}
	if !h.session.IsReady() {
		t.Errorf("state after retry = %s, want ready", h.session.State())
	}
}

func TestSendMessageEmitsOptimisticEcho(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	messages := h.session.SubscribeMessages()

	if err := h.session.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	msg := waitMessage(t, messages)
	if msg.Origin != domain.OriginUser {
		t.Errorf("origin = %s, want user", msg.Origin)
	}
	if msg.Text != "hi" {
		t.Errorf("text = %q, want %q", msg.Text, "hi")
	}
	if !strings.HasPrefix(msg.ID, domain.LocalIDPrefix) {
		t.Errorf("id = %q, want %q prefix", msg.ID, domain.LocalIDPrefix)
	}

	ft := h.currentTransport()
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if len(ft.sent) != 1 || ft.sent[0] != "hi" {
		t.Errorf("transport sent = %v, want [hi]", ft.sent)
	}
}

func TestSendMessageIgnoresBlankAndNotReady(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	messages := h.session.SubscribeMessages()

	// Not ready: silently ignored.
	if err := h.session.SendMessage(context.Background(), "hello"); err != nil {
		t.Fatalf("SendMessage before Initialize should be a no-op, got %v", err)
	}

	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	// Whitespace-only: silently ignored.
	if err := h.session.SendMessage(context.Background(), "   \t "); err != nil {
		t.Fatalf("blank SendMessage should be a no-op, got %v", err)
	}

	expectNoMessage(t, messages, 100*time.Millisecond)
}

func TestSendFailureSurfacesErrorMessageAndStaysReady(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	messages := h.session.SubscribeMessages()

	ft := h.currentTransport()
	ft.mu.Lock()
	ft.sendErr = fmt.Errorf("%w: connection refused", ErrTransportSend)
	ft.mu.Unlock()

	err := h.session.SendMessage(context.Background(), "hi")
	if !errors.Is(err, ErrTransportSend) {
		t.Fatalf("error = %v, want ErrTransportSend", err)
	}

	optimistic := waitMessage(t, messages)
	if optimistic.Origin != domain.OriginUser {
		t.Fatalf("first message origin = %s, want user", optimistic.Origin)
	}
	synthetic := waitMessage(t, messages)
	if synthetic.Origin != domain.OriginBot {
		t.Errorf("synthetic message origin = %s, want bot", synthetic.Origin)
	}

	if !h.session.IsReady() {
		t.Errorf("state after send failure = %s, want ready", h.session.State())
	}
}

func TestInboundBotMessageIsEmittedOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	messages := h.session.SubscribeMessages()

	h.inject("conv-1", "m1", "bot", "hello there")
	h.inject("conv-1", "m1", "bot", "hello there")

	msg := waitMessage(t, messages)
	if msg.ID != "m1" || msg.Origin != domain.OriginBot {
		t.Errorf("message = %+v, want id m1 with bot origin", msg)
	}
	expectNoMessage(t, messages, 100*time.Millisecond)
}

func TestOwnEchoIsDropped(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	messages := h.session.SubscribeMessages()

	// The remote echoes the user's message back with a server-assigned id.
	h.inject("conv-1", "m-echo", testCred.UserID, "hi")
	expectNoMessage(t, messages, 100*time.Millisecond)
}

func TestStaleConversationRecordsAreDiscarded(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	first := h.currentTransport()

	if err := h.session.StartNewConversation(context.Background()); err != nil {
		t.Fatalf("StartNewConversation failed: %v", err)
	}
	if !first.wasStopped() {
		t.Error("old transport should be stopped before the new conversation starts")
	}

	messages := h.session.SubscribeMessages()

	// A poll issued against conv-1 resolves after the reset.
	h.inject("conv-1", "m1", "bot", "late reply")
	expectNoMessage(t, messages, 100*time.Millisecond)

	// Records for the active handle still flow.
	h.inject("conv-2", "m2", "bot", "fresh reply")
	msg := waitMessage(t, messages)
	if msg.ID != "m2" {
		t.Errorf("message id = %q, want m2", msg.ID)
	}
}

func TestStartNewConversationResetsDeduplicator(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	messages := h.session.SubscribeMessages()

	h.inject("conv-1", "m1", "bot", "first")
	if msg := waitMessage(t, messages); msg.ID != "m1" {
		t.Fatalf("message id = %q, want m1", msg.ID)
	}

	if err := h.session.StartNewConversation(context.Background()); err != nil {
		t.Fatalf("StartNewConversation failed: %v", err)
	}

	// Same remote id in the new conversation is treated as new.
	h.inject("conv-2", "m1", "bot", "again")
	if msg := waitMessage(t, messages); msg.ID != "m1" {
		t.Errorf("re-admitted message id = %q, want m1", msg.ID)
	}
}

func TestStartNewConversationFailureKeepsSessionUsable(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	h.bootstrapper.setErrors(nil, fmt.Errorf("%w: remote returned status 503", ErrConversationCreation))
	err := h.session.StartNewConversation(context.Background())
	if !errors.Is(err, ErrConversationCreation) {
		t.Fatalf("error = %v, want ErrConversationCreation", err)
	}
	if !h.session.IsReady() {
		t.Fatalf("state after failed reset = %s, want ready", h.session.State())
	}

	// The old handle still accepts inbound records.
	messages := h.session.SubscribeMessages()
	h.inject("conv-1", "m1", "bot", "still here")
	if msg := waitMessage(t, messages); msg.ID != "m1" {
		t.Errorf("message id = %q, want m1", msg.ID)
	}
}

func TestTypingIndicatorTimesOut(t *testing.T) {
	t.Parallel()

	h := newHarness(80 * time.Millisecond)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	typing := h.session.SubscribeTyping()

	if err := h.session.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}

	if v := waitTyping(t, typing); !v {
		t.Fatal("expected typing=true right after send")
	}
	// No reply arrives; the safety net clears the indicator.
	if v := waitTyping(t, typing); v {
		t.Fatal("expected typing=false after timeout")
	}
}

func TestTypingIndicatorClearsOnReply(t *testing.T) {
	t.Parallel()

	h := newHarness(5 * time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	typing := h.session.SubscribeTyping()

	if err := h.session.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if v := waitTyping(t, typing); !v {
		t.Fatal("expected typing=true right after send")
	}

	h.inject("conv-1", "m1", "bot", "reply")
	if v := waitTyping(t, typing); v {
		t.Fatal("expected typing=false once the reply arrived")
	}

	// The timer was cancelled; no further updates follow.
	select {
	case v := <-typing:
		t.Fatalf("unexpected typing update %v after reply cleared the timer", v)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCloseStopsTransportAndClosesStreams(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	messages := h.session.SubscribeMessages()

	h.session.Close()

	if !h.currentTransport().wasStopped() {
		t.Error("transport should be stopped on Close")
	}
	if _, ok := <-messages; ok {
		t.Error("message stream should be closed")
	}
	if h.session.State() != StateClosed {
		t.Errorf("state = %s, want closed", h.session.State())
	}
}

func TestLateSubscribersSeeOnlyFutureEvents(t *testing.T) {
	t.Parallel()

	h := newHarness(time.Second)
	if err := h.session.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	h.inject("conv-1", "m1", "bot", "before subscribe")

	messages := h.session.SubscribeMessages()
	h.inject("conv-1", "m2", "bot", "after subscribe")

	msg := waitMessage(t, messages)
	if msg.ID != "m2" {
		t.Errorf("late subscriber saw %q, want only m2", msg.ID)
	}
}
