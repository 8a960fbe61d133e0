package session

import "sync"

// Deduplicator tracks which remote message ids have already been surfaced
// so each logical message reaches the consumer exactly once per
// conversation lifetime. The seen set grows monotonically until Reset.
type Deduplicator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewDeduplicator creates an empty Deduplicator.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{seen: make(map[string]struct{})}
}

// Admit returns true the first time an id is seen and false on every
// subsequent call with the same id.
func (d *Deduplicator) Admit(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// Reset clears all seen ids. Called exactly once per new conversation.
func (d *Deduplicator) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seen = make(map[string]struct{})
}
