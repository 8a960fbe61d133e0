package domain

// Credential is the durable per-install identity issued by the remote
// service on first run. Immutable after creation. The secret key is only
// ever sent to the remote service as an authentication header or frame.
type Credential struct {
	UserID    string
	SecretKey string
}

// Valid reports whether both identity slots are populated. A credential
// with either slot empty must be treated as absent.
func (c Credential) Valid() bool {
	return c.UserID != "" && c.SecretKey != ""
}

// Conversation is the handle of the currently active chat thread.
// At most one conversation is active per session; it is replaced
// wholesale when a new conversation is started.
type Conversation struct {
	ID string
}
