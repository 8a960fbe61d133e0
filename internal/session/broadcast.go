package session

import (
	"log/slog"
	"sync"
)

const subscriberBuffer = 64

// broadcaster fans events out to any number of subscribers. Late
// subscribers receive only future events; the core keeps no history.
// Publishing never blocks: a subscriber whose buffer is full loses the
// event, with a warning logged.
type broadcaster[T any] struct {
	name   string
	logger *slog.Logger

	mu     sync.Mutex
	subs   []chan T
	closed bool
}

func newBroadcaster[T any](name string, logger *slog.Logger) *broadcaster[T] {
	return &broadcaster[T]{name: name, logger: logger}
}

// Subscribe registers a new observer channel.
func (b *broadcaster[T]) Subscribe() <-chan T {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan T, subscriberBuffer)
	if b.closed {
		close(ch)
		return ch
	}
	b.subs = append(b.subs, ch)
	return ch
}

// Publish delivers v to every current subscriber.
func (b *broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			b.logger.Warn("Dropping event for slow subscriber", "stream", b.name)
		}
	}
}

// Close closes all subscriber channels. Further publishes are ignored.
func (b *broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
	b.subs = nil
}
