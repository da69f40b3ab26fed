// Package bus is the in-process publish surface for pipeline outputs.
// Topics carry marker sets, the debug overlay, and the colorized cloud to
// whatever consumers the hosting process wires up (UI, recorder, bridges).
// Per-topic subscriber counts let the controller skip expensive exports
// nobody is listening to.
package bus

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Pipeline output topics.
const (
	TopicCameras    = "vslam/cameras"
	TopicPoints     = "vslam/points"
	TopicVOTracks   = "vslam/vo_tracks/image"
	TopicPointCloud = "vslam/pointcloud"
)

// ErrBusClosed is returned by Subscribe after Close.
var ErrBusClosed = errors.New("bus closed")

// Subscription is one consumer's handle on a topic. Messages are delivered
// on C; when the subscriber cannot keep up, new messages are dropped for it
// and counted.
type Subscription struct {
	ID      string
	Topic   string
	C       <-chan interface{}
	ch      chan interface{}
	dropped atomic.Uint64
	bus     *Bus
	once    sync.Once
}

// Dropped returns how many messages were shed for this subscriber.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Cancel removes the subscription and closes its channel.
func (s *Subscription) Cancel() {
	s.once.Do(func() { s.bus.remove(s) })
}

// Bus distributes published payloads to topic subscribers.
type Bus struct {
	mu     sync.RWMutex
	topics map[string][]*Subscription
	closed bool

	published atomic.Uint64
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{topics: make(map[string][]*Subscription)}
}

// Subscribe registers a consumer on topic with the given buffer depth.
func (b *Bus) Subscribe(topic string, depth int) (*Subscription, error) {
	if depth <= 0 {
		depth = 8
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	ch := make(chan interface{}, depth)
	sub := &Subscription{
		ID:    uuid.New().String(),
		Topic: topic,
		C:     ch,
		ch:    ch,
		bus:   b,
	}
	b.topics[topic] = append(b.topics[topic], sub)
	return sub, nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[sub.Topic]
	for i, s := range subs {
		if s == sub {
			b.topics[sub.Topic] = append(subs[:i], subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// SubscriberCount returns the number of live subscriptions on topic. The
// controller consults this before doing overlay or colorization work.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic])
}

// Publish delivers payload to every subscriber of topic, dropping per
// subscriber when its buffer is full.
func (b *Bus) Publish(topic string, payload interface{}) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	b.published.Add(1)
	for _, sub := range b.topics[topic] {
		select {
		case sub.ch <- payload:
		default:
			sub.dropped.Add(1)
		}
	}
}

// PublishedCount returns the total number of Publish calls.
func (b *Bus) PublishedCount() uint64 { return b.published.Load() }

// Close cancels every subscription and rejects further use.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, sub := range subs {
			sub.once.Do(func() {}) // a later Cancel becomes a no-op
			close(sub.ch)
		}
	}
	b.topics = map[string][]*Subscription{}
}
