package jobs

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event is a progress-change notification emitted after each processed
// batch. Events stop at the job's terminal transition; final state is read
// from the store.
type Event struct {
	JobID            uuid.UUID `json:"job_id"`
	Progress         float64   `json:"progress"`
	ProcessedRecords int       `json:"processed_records"`
	TotalRecords     int       `json:"total_records"`
	ETASeconds       float64   `json:"eta_seconds"`
	Timestamp        time.Time `json:"timestamp"`
}

const subscriberBuffer = 64

// Bus fans progress events out to subscribers. Publish never blocks: a
// subscriber that falls behind misses events rather than stalling the
// scheduler. Consumers needing every data point read the job record.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber. The returned cancel func must be
// called to release the subscription; the channel is closed by it.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers ev to all current subscribers, dropping it for any
// subscriber whose buffer is full.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
