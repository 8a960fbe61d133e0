package session

import (
	"context"

	"github.com/akazantsev/relaychat/internal/backend"
	"github.com/akazantsev/relaychat/internal/domain"
)

// Record is one raw inbound item handed from a transport to its owner.
// Exactly one of Message or Typing is set. ConversationID is the handle
// the record was received for, captured when the underlying request was
// issued; the owner discards records tagged with a superseded handle.
type Record struct {
	ConversationID string
	Message        *backend.RemoteMessage
	Typing         *bool
}

// Sink receives inbound records from a transport. Implementations must
// be safe to call from the transport's own goroutines.
type Sink func(Record)

// Transport abstracts how new remote messages are discovered: a periodic
// poll of the history endpoint or a persistent realtime connection.
// A transport instance is bound to one conversation for its whole life;
// the session replaces the instance wholesale on every new conversation.
type Transport interface {
	// Start binds the transport to a conversation and begins delivering
	// inbound records to the sink.
	Start(ctx context.Context, conv domain.Conversation, cred domain.Credential) error

	// Send forwards one outbound text message. A nil return means the
	// message was handed off without a transport-level error, not that
	// the remote has replied.
	Send(ctx context.Context, text string) error

	// Stop cancels the inbound path and releases the connection or
	// timer. In-flight work may still complete; its records carry the
	// old conversation id and are discarded by the owner.
	Stop()
}

// TransportFactory builds a fresh transport delivering into sink.
type TransportFactory func(sink Sink) Transport
