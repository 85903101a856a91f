// Package broker implements a topic-keyed fan-out of download events to live
// observers. Delivery is best-effort and non-blocking: an observer that
// cannot be sent to within a bounded attempt is dropped, which is the sole
// disconnect-cleanup mechanism.
package broker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/maceip/rlitert-lm/pkg/types"
)

// TopicAll receives every published event regardless of topic.
const TopicAll = "*"

const (
	// observerBuf is the per-observer channel capacity.
	observerBuf = 16
	// sendGrace is the single bounded retry before an observer is dropped.
	sendGrace = 10 * time.Millisecond
)

// Subscription is one observer registration. The receiving end is owned by
// the caller; the broker closes C when the subscription is removed.
type Subscription struct {
	ID    uuid.UUID
	Topic string
	C     <-chan types.DownloadEvent
	ch    chan types.DownloadEvent
}

// topicEntry serializes publish/subscribe/unsubscribe per topic.
type topicEntry struct {
	mu        sync.Mutex
	observers map[uuid.UUID]chan types.DownloadEvent
}

// Broker maps topics to observer sets. The topic map has its own lock; each
// topic serializes its own mutations so publishes to different topics never
// contend.
type Broker struct {
	mu     sync.RWMutex
	topics map[string]*topicEntry
	closed bool
	log    zerolog.Logger
}

// New constructs an empty broker.
func New(log zerolog.Logger) *Broker {
	return &Broker{topics: make(map[string]*topicEntry), log: log}
}

// Subscribe registers a new observer for topic and returns its subscription.
// Subscribing to TopicAll observes every topic.
func (b *Broker) Subscribe(topic string) *Subscription {
	ch := make(chan types.DownloadEvent, observerBuf)
	sub := &Subscription{ID: uuid.New(), Topic: topic, C: ch, ch: ch}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return sub
	}
	te := b.topics[topic]
	if te == nil {
		te = &topicEntry{observers: make(map[uuid.UUID]chan types.DownloadEvent)}
		b.topics[topic] = te
	}
	// Insert while still holding the topic-map lock: releasing it first
	// would let a concurrent Close swap the map and sweep the old entry
	// before this observer lands in it, leaving the channel never closed.
	te.mu.Lock()
	te.observers[sub.ID] = ch
	te.mu.Unlock()
	b.mu.Unlock()
	observersGauge.Inc()
	b.log.Debug().Str("topic", topic).Str("observer", sub.ID.String()).Msg("subscribe")
	return sub
}

// Unsubscribe removes the observer and closes its channel. Safe to call
// twice; unknown subscriptions are ignored.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.RLock()
	te := b.topics[sub.Topic]
	b.mu.RUnlock()
	if te == nil {
		return
	}
	te.mu.Lock()
	ch, ok := te.observers[sub.ID]
	if ok {
		delete(te.observers, sub.ID)
	}
	te.mu.Unlock()
	if ok {
		close(ch)
		observersGauge.Dec()
		b.log.Debug().Str("topic", sub.Topic).Str("observer", sub.ID.String()).Msg("unsubscribe")
	}
}

// Publish delivers ev to every observer of topic and of TopicAll. Publishing
// with no observers is a no-op. Delivery order is FIFO per observer; a full
// observer gets one bounded grace retry and is then removed and closed.
func (b *Broker) Publish(topic string, ev types.DownloadEvent) {
	b.deliver(topic, ev)
	if topic != TopicAll {
		b.deliver(TopicAll, ev)
	}
}

func (b *Broker) deliver(topic string, ev types.DownloadEvent) {
	b.mu.RLock()
	te := b.topics[topic]
	b.mu.RUnlock()
	if te == nil {
		return
	}
	te.mu.Lock()
	defer te.mu.Unlock()
	var dead []uuid.UUID
	for id, ch := range te.observers {
		select {
		case ch <- ev:
			continue
		default:
		}
		// Bounded retry: one short grace window, then treat as gone.
		t := time.NewTimer(sendGrace)
		select {
		case ch <- ev:
			t.Stop()
		case <-t.C:
			dead = append(dead, id)
		}
	}
	for _, id := range dead {
		ch := te.observers[id]
		delete(te.observers, id)
		close(ch)
		observersGauge.Dec()
		droppedTotal.Inc()
		b.log.Debug().Str("topic", topic).Str("observer", id.String()).Msg("observer stalled, dropped")
	}
}

// ObserverCount reports the number of observers currently registered for
// topic.
func (b *Broker) ObserverCount(topic string) int {
	b.mu.RLock()
	te := b.topics[topic]
	b.mu.RUnlock()
	if te == nil {
		return 0
	}
	te.mu.Lock()
	defer te.mu.Unlock()
	return len(te.observers)
}

// Close removes and closes every observer. Further subscribes return an
// already-closed channel; further publishes are dropped.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	topics := b.topics
	b.topics = make(map[string]*topicEntry)
	b.mu.Unlock()

	for _, te := range topics {
		te.mu.Lock()
		for id, ch := range te.observers {
			delete(te.observers, id)
			close(ch)
			observersGauge.Dec()
		}
		te.mu.Unlock()
	}
}
