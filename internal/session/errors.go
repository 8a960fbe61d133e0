package session

import "errors"

// Error taxonomy for the synchronization core. Bootstrap errors are fatal
// to Initialize (the session lands in StateFailed and may be retried);
// transport errors never take the session out of StateReady.
var (
	// ErrIdentityCreation indicates the remote user-creation call failed
	// or the stored credential could not be read or persisted.
	ErrIdentityCreation = errors.New("identity creation failed")

	// ErrConversationCreation indicates the remote conversation-creation
	// call failed.
	ErrConversationCreation = errors.New("conversation creation failed")

	// ErrTransportSend indicates an outbound message could not be handed
	// to the remote service.
	ErrTransportSend = errors.New("transport send failed")

	// ErrTransportReceive indicates the inbound path of a transport
	// failed (poll fetch error, closed socket).
	ErrTransportReceive = errors.New("transport receive failed")

	// ErrMalformedPayload indicates an unparseable frame or response.
	// Such input is dropped, never propagated to the consumer.
	ErrMalformedPayload = errors.New("malformed payload")

	// ErrNotReady indicates an operation that requires StateReady was
	// invoked in another state.
	ErrNotReady = errors.New("session is not ready")
)
