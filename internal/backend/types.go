// Package backend implements the HTTP client for the remote
// conversational service.
package backend

// MessagePayload is the text payload carried by a message in both
// directions.
type MessagePayload struct {
	Type string `json:"type,omitempty"`
	Text string `json:"text"`
}

// RemoteMessage is one message record as returned by the history
// endpoint. The remote service returns history newest-first.
type RemoteMessage struct {
	ID      string         `json:"id"`
	UserID  string         `json:"userId"`
	Payload MessagePayload `json:"payload"`
}

type createUserResponse struct {
	User struct {
		ID string `json:"id"`
	} `json:"user"`
	Key string `json:"key"`
}

type createConversationResponse struct {
	Conversation struct {
		ID string `json:"id"`
	} `json:"conversation"`
}

type listMessagesResponse struct {
	Messages []RemoteMessage `json:"messages"`
}

type postMessageRequest struct {
	ConversationID string         `json:"conversationId"`
	Payload        MessagePayload `json:"payload"`
	Type           string         `json:"type"`
}

// PayloadTypeText is the only payload type the client produces.
const PayloadTypeText = "text"
