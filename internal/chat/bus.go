package chat

import (
	"sync"
	"time"
)

type ChangeKind string

const (
	ChangeChats         ChangeKind = "chats"
	ChangeActive        ChangeKind = "active"
	ChangeTimeline      ChangeKind = "timeline"
	ChangeNotifications ChangeKind = "notifications"
)

// Change tells observers which part of the state moved. Observers read the
// new values through the Store accessors.
type Change struct {
	Kind   ChangeKind `json:"kind"`
	ChatID string     `json:"chatId,omitempty"`
	At     time.Time  `json:"at"`
}

const subscriberBuffer = 64

// bus is an in-memory fan-out of state changes. Publish never blocks the
// writer: a subscriber whose buffer is full misses the change.
type bus struct {
	mu   sync.RWMutex
	subs map[<-chan Change]chan Change
}

func newBus() *bus {
	return &bus{subs: make(map[<-chan Change]chan Change)}
}

func (b *bus) publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

func (b *bus) subscribe() <-chan Change {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Change, subscriberBuffer)
	b.subs[ch] = ch
	return ch
}

func (b *bus) unsubscribe(ch <-chan Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[ch]; ok {
		close(sub)
		delete(b.subs, ch)
	}
}
