// Package domain contains core domain types for the relaychat client.
package domain

// Origin identifies which side of the conversation produced a message.
type Origin string

const (
	// OriginUser marks a message typed by the local user.
	OriginUser Origin = "user"
	// OriginBot marks a message produced by the remote assistant.
	OriginBot Origin = "bot"
)

// LocalIDPrefix namespaces locally synthesized message ids so an
// optimistic echo can never collide with a remote-assigned id.
const LocalIDPrefix = "local-"

// Message is a single chat message as surfaced to the consumer.
// Messages are immutable after creation; ordering is implicit in
// arrival order on the session's output stream.
type Message struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Origin Origin `json:"origin"`
}

// IsLocal reports whether the message was synthesized on this device
// rather than assigned an id by the remote service.
func (m Message) IsLocal() bool {
	return len(m.ID) >= len(LocalIDPrefix) && m.ID[:len(LocalIDPrefix)] == LocalIDPrefix
}
