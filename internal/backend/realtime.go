package backend

// Frame types exchanged on the realtime connection.
const (
	FrameTypeAuth   = "auth"
	FrameTypeText   = "text"
	FrameTypeTyping = "typing"
)

// FramePayload carries the type-dependent body of a realtime frame.
type FramePayload struct {
	Key            string `json:"key,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
	Text           string `json:"text,omitempty"`
	Typing         *bool  `json:"typing,omitempty"`
}

// Frame is one message on the realtime connection, in either direction.
// The Type discriminator selects which payload fields are meaningful:
//
//	client -> server  auth:   payload.key
//	client -> server  text:   payload.conversationId, payload.text
//	server -> client  text:   id, payload.text
//	server -> client  typing: payload.typing
type Frame struct {
	Type    string       `json:"type"`
	ID      string       `json:"id,omitempty"`
	Payload FramePayload `json:"payload"`
}
