package sink

import (
	"sync"
	"time"

	"github.com/rs/xid"
)

const defaultSubscriberBuffer = 16

// Broadcaster keeps the latest subtitle and fans updates out to subscribers.
// Show never blocks: a subscriber that falls behind loses its oldest
// buffered updates.
type Broadcaster struct {
	mu          sync.RWMutex
	seq         uint64
	latest      Subtitle
	subscribers map[string]chan Subtitle
	now         func() time.Time
}

var _ SubtitleSink = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[string]chan Subtitle),
		now:         time.Now,
	}
}

// Show assigns the next sequence number and publishes sub.
func (b *Broadcaster) Show(sub Subtitle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.seq++
	sub.Sequence = b.seq
	if sub.At.IsZero() {
		sub.At = b.now()
	}
	b.latest = sub

	for _, ch := range b.subscribers {
		select {
		case ch <- sub:
			continue
		default:
		}
		// Full: drop the oldest and retry once.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- sub:
		default:
		}
	}
}

// Latest returns the most recent subtitle and whether one was shown.
func (b *Broadcaster) Latest() (Subtitle, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.latest, b.seq > 0
}

// Subscribe returns a channel of future updates and a cancel function that
// closes it. Calling cancel more than once is safe.
func (b *Broadcaster) Subscribe(buf int) (<-chan Subtitle, func()) {
	if buf <= 0 {
		buf = defaultSubscriberBuffer
	}
	id := xid.New().String()
	ch := make(chan Subtitle, buf)

	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
