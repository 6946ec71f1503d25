// Package notify fans sync events out to local subscribers, such as the
// server-sent event stream. Delivery is at most once: a subscriber that is
// not keeping up misses events.
package notify

import (
	"sync"
	"time"

	"github.com/JohanCodinha/aurora/internal/logger"
)

var log = logger.Named("notify")

// Kind names an event.
type Kind string

const (
	SyncSuccess    Kind = "SYNC_SUCCESS"
	SyncError      Kind = "SYNC_ERROR"
	QueueDropped   Kind = "QUEUE_DROPPED"
	PreviewPending Kind = "PREVIEW_PENDING"
)

// Event is one notification.
type Event struct {
	Kind    Kind      `json:"type"`
	PostID  string    `json:"postId,omitempty"`
	Message string    `json:"message,omitempty"`
	IssueID string    `json:"issueId,omitempty"`
	URL     string    `json:"url,omitempty"`
	At      time.Time `json:"at"`
}

// Bus delivers events to subscribers. The zero value is ready to use.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a subscriber with a buffer of buf events. The returned
// function unsubscribes and closes the channel; calling it twice is safe.
func (b *Bus) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Publish delivers ev to every subscriber with room in its buffer and
// returns how many received it. It never blocks.
func (b *Bus) Publish(ev Event) int {
	if b == nil {
		return 0
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for id, ch := range b.subs {
		select {
		case ch <- ev:
			delivered++
		default:
			log.Debug("subscriber %d is full, dropping %s", id, ev.Kind)
		}
	}
	return delivered
}

// Subscribers returns the number of live subscribers.
func (b *Bus) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
