package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/akazantsev/relaychat/internal/domain"
)

// StatusError reports a non-2xx response from the remote service.
type StatusError struct {
	StatusCode int
	Endpoint   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("remote returned status %d for %s", e.StatusCode, e.Endpoint)
}

// Client talks to the remote conversational service over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a backend client. timeout bounds every individual request.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// CreateUser registers a new identity with the remote service.
// The request body is intentionally empty; the service assigns both the
// user id and the secret key.
func (c *Client) CreateUser(ctx context.Context) (domain.Credential, error) {
	var resp createUserResponse
	if err := c.do(ctx, http.MethodPost, "/users", "", nil, &resp); err != nil {
		return domain.Credential{}, fmt.Errorf("create user: %w", err)
	}

	cred := domain.Credential{UserID: resp.User.ID, SecretKey: resp.Key}
	if !cred.Valid() {
		return domain.Credential{}, fmt.Errorf("create user: incomplete identity in response")
	}
	return cred, nil
}

// CreateConversation opens a new conversation for the given identity.
func (c *Client) CreateConversation(ctx context.Context, cred domain.Credential) (domain.Conversation, error) {
	var resp createConversationResponse
	if err := c.do(ctx, http.MethodPost, "/conversations", cred.SecretKey, nil, &resp); err != nil {
		return domain.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	if resp.Conversation.ID == "" {
		return domain.Conversation{}, fmt.Errorf("create conversation: empty conversation id in response")
	}
	return domain.Conversation{ID: resp.Conversation.ID}, nil
}

// ListMessages fetches the message history of a conversation.
// Records are returned exactly as the remote orders them: newest-first.
func (c *Client) ListMessages(ctx context.Context, cred domain.Credential, conversationID string) ([]RemoteMessage, error) {
	var resp listMessagesResponse
	path := "/conversations/" + conversationID + "/messages"
	if err := c.do(ctx, http.MethodGet, path, cred.SecretKey, nil, &resp); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return resp.Messages, nil
}

// PostMessage sends one text message into a conversation. The bot's reply
// is not part of the response; it arrives later through the transport.
func (c *Client) PostMessage(ctx context.Context, cred domain.Credential, conversationID, text string) error {
	body := postMessageRequest{
		ConversationID: conversationID,
		Payload:        MessagePayload{Type: PayloadTypeText, Text: text},
		Type:           PayloadTypeText,
	}
	if err := c.do(ctx, http.MethodPost, "/messages", cred.SecretKey, body, nil); err != nil {
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path, key string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return &StatusError{StatusCode: resp.StatusCode, Endpoint: method + " " + path}
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
