package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/metrics"
	"go.uber.org/zap"
)

type topic struct {
	name domain.Topic

	// pubMu serializes fan-out so every subscriber of the topic observes
	// the same relative order. seq is guarded by pubMu.
	pubMu sync.Mutex
	seq   uint64

	// subs is guarded by Hub.mu.
	subs map[uint64]*Subscription
}

// Hub is an in-process topic broker. Each subscription owns its own bounded
// queue, so a stalled consumer never delays the publisher or its peers.
type Hub struct {
	opts   Options
	logger *zap.Logger
	now    func() time.Time

	// topics is populated once in NewHub and never mutated afterwards.
	topics map[domain.Topic]*topic

	mu     sync.RWMutex
	closed bool
	nextID atomic.Uint64
}

var _ Publisher = (*Hub)(nil)

func NewHub(opts Options, logger *zap.Logger) *Hub {
	h := &Hub{
		opts:   opts.withDefaults(),
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		topics: make(map[domain.Topic]*topic, len(domain.Topics)),
	}
	for _, name := range domain.Topics {
		h.topics[name] = &topic{name: name, subs: make(map[uint64]*Subscription)}
	}
	return h
}

// Subscribe registers interest in a topic. The subscription only receives
// events published after Subscribe returns; there is no replay.
func (h *Hub) Subscribe(name domain.Topic) (*Subscription, error) {
	t, ok := h.topics[name]
	if !ok {
		return nil, fmt.Errorf("subscribe %q: %w", name, domain.ErrUnknownTopic)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("subscribe %q: %w", name, domain.ErrSubscriptionClosed)
	}

	sub := newSubscription(h.nextID.Add(1), name, h, h.opts.BufferSize)
	t.subs[sub.id] = sub
	metrics.ActiveSubscriptions.WithLabelValues(name.String()).Inc()

	h.logger.Debug("subscription opened",
		zap.Uint64("subscription_id", sub.id),
		zap.String("topic", name.String()),
	)
	return sub, nil
}

// Unsubscribe is idempotent. Pending events for the subscription are discarded.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.remove(sub, domain.ErrSubscriptionClosed)
}

// Publish fans the event out to every subscription registered on its topic
// at call time. It never blocks on a consumer.
func (h *Hub) Publish(ev domain.Event) error {
	t, ok := h.topics[ev.Topic]
	if !ok {
		return fmt.Errorf("publish %q: %w", ev.Topic, domain.ErrUnknownTopic)
	}

	t.pubMu.Lock()
	defer t.pubMu.Unlock()

	t.seq++
	ev.Sequence = t.seq
	ev.OccurredAt = h.now()

	label := t.name.String()
	metrics.EventsPublished.WithLabelValues(label).Inc()

	for _, sub := range h.snapshot(t) {
		switch sub.push(ev, h.opts.Overflow) {
		case pushDelivered:
			metrics.EventsDelivered.WithLabelValues(label).Inc()
		case pushEvicted:
			metrics.EventsDelivered.WithLabelValues(label).Inc()
			metrics.EventsDropped.WithLabelValues(label, string(DropOldest)).Inc()
		case pushDropped:
			metrics.EventsDropped.WithLabelValues(label, string(DropNewest)).Inc()
		case pushOverflow:
			metrics.EventsDropped.WithLabelValues(label, string(Disconnect)).Inc()
			h.logger.Warn("disconnecting slow subscriber",
				zap.Uint64("subscription_id", sub.id),
				zap.String("topic", label),
				zap.Int("buffer_size", h.opts.BufferSize),
			)
			h.remove(sub, domain.ErrSlowSubscriber)
		}
	}
	return nil
}

// SubscriberCount reports live subscriptions on a topic.
func (h *Hub) SubscriberCount(name domain.Topic) int {
	t, ok := h.topics[name]
	if !ok {
		return 0
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(t.subs)
}

// Close tears down every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	var all []*Subscription
	for _, t := range h.topics {
		for _, sub := range t.subs {
			all = append(all, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range all {
		h.remove(sub, domain.ErrSubscriptionClosed)
	}
	h.logger.Info("event hub closed", zap.Int("subscriptions", len(all)))
}

// snapshot copies the registry so fan-out never races with (un)subscribe.
func (h *Hub) snapshot(t *topic) []*Subscription {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*Subscription, 0, len(t.subs))
	for _, sub := range t.subs {
		out = append(out, sub)
	}
	return out
}

func (h *Hub) remove(sub *Subscription, reason error) {
	t := h.topics[sub.topic]

	h.mu.Lock()
	_, registered := t.subs[sub.id]
	delete(t.subs, sub.id)
	h.mu.Unlock()

	sub.close(reason)
	if registered {
		metrics.ActiveSubscriptions.WithLabelValues(sub.topic.String()).Dec()
		h.logger.Debug("subscription closed",
			zap.Uint64("subscription_id", sub.id),
			zap.String("topic", sub.topic.String()),
			zap.NamedError("reason", reason),
		)
	}
}
