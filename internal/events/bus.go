// Package events fans detection events out to per-user server-sent event
// streams. Delivery is best-effort: slow consumers lose the oldest frames
// rather than stalling publishers.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// DefaultQueueCapacity bounds each subscriber's frame queue. When the queue
// is full the oldest frame is dropped to make room.
const DefaultQueueCapacity = 100

// Subscriber is one open event stream of a user.
type Subscriber struct {
	ID uuid.UUID
	ch chan []byte
}

// Frames is the subscriber's outbound frame queue.
func (s *Subscriber) Frames() <-chan []byte { return s.ch }

// Bus routes events to every subscriber of the addressed user.
type Bus struct {
	logger   *slog.Logger
	capacity int

	mu   sync.Mutex
	subs map[uint][]*Subscriber
}

func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger:   logger,
		capacity: DefaultQueueCapacity,
		subs:     make(map[uint][]*Subscriber),
	}
}

// Register opens a stream for the user. The first queued frame is a
// "connected" event so the client learns the stream is live.
func (b *Bus) Register(userID uint) *Subscriber {
	sub := &Subscriber{ID: uuid.New(), ch: make(chan []byte, b.capacity)}

	b.mu.Lock()
	b.subs[userID] = append(b.subs[userID], sub)
	b.mu.Unlock()

	b.enqueue(sub, Frame("connected", []byte(`{"status":"ok"}`)))
	b.logger.Info("stream subscriber registered",
		slog.Uint64("user_id", uint64(userID)), slog.String("subscriber_id", sub.ID.String()))
	return sub
}

// Unregister forgets the subscriber. The queue channel is deliberately left
// open: a publisher racing the removal may still enqueue, and a send on a
// closed channel would panic it.
func (b *Bus) Unregister(userID uint, sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[userID]
	for i, candidate := range list {
		if candidate.ID != sub.ID {
			continue
		}
		b.subs[userID] = append(list[:i], list[i+1:]...)
		break
	}
	if len(b.subs[userID]) == 0 {
		delete(b.subs, userID)
	}
}

// Publish marshals the payload and queues the frame on every stream of the
// user. Never blocks.
func (b *Bus) Publish(userID uint, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		b.logger.Error("event payload not marshalable",
			slog.String("event", event), slog.Any("error", err))
		return
	}
	frame := Frame(event, data)

	b.mu.Lock()
	subscribers := append([]*Subscriber(nil), b.subs[userID]...)
	b.mu.Unlock()

	for _, sub := range subscribers {
		b.enqueue(sub, frame)
	}
}

// SubscriberCount reports the open streams of a user.
func (b *Bus) SubscriberCount(userID uint) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[userID])
}

// enqueue delivers without blocking: when the queue is full the oldest frame
// is discarded first. A concurrent reader can empty the queue between the
// drain and the retry, so the retry itself stays non-blocking too.
func (b *Bus) enqueue(sub *Subscriber, frame []byte) {
	select {
	case sub.ch <- frame:
		return
	default:
	}

	select {
	case <-sub.ch:
	default:
	}
	select {
	case sub.ch <- frame:
	default:
	}
}

// Frame renders one wire-format server-sent event.
func Frame(event string, data []byte) []byte {
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, data))
}
