package events

import (
	"context"
	"sync"

	"github.com/behzadon/livepoll/internal/domain"
)

type pushResult int

const (
	pushDelivered pushResult = iota
	pushEvicted
	pushDropped
	pushOverflow
	pushClosed
)

// Subscription is one observer's registration on a topic. It is safe for a
// single producer (the hub) and a single consumer calling Next.
type Subscription struct {
	id    uint64
	topic domain.Topic
	hub   *Hub

	mu   sync.Mutex
	buf  []domain.Event // ring buffer, len(buf) is the capacity
	head int
	size int
	err  error

	notify chan struct{}
	done   chan struct{}
}

func newSubscription(id uint64, t domain.Topic, h *Hub, capacity int) *Subscription {
	return &Subscription{
		id:     id,
		topic:  t,
		hub:    h,
		buf:    make([]domain.Event, capacity),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

func (s *Subscription) ID() uint64 { return s.id }

func (s *Subscription) Topic() domain.Topic { return s.topic }

// Done is closed once the subscription has been torn down.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err returns why the subscription ended, or nil while it is live.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Pending is the number of buffered, undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.size
}

// Next blocks until an event is available, ctx is done, or the subscription
// is closed. After close, buffered events are not returned.
func (s *Subscription) Next(ctx context.Context) (domain.Event, error) {
	for {
		s.mu.Lock()
		if s.err != nil {
			err := s.err
			s.mu.Unlock()
			return domain.Event{}, err
		}
		if s.size > 0 {
			ev := s.pop()
			s.mu.Unlock()
			return ev, nil
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		case <-s.notify:
		case <-s.done:
		}
	}
}

// Close unsubscribes from the hub. Safe to call more than once.
func (s *Subscription) Close() {
	s.hub.Unsubscribe(s)
}

func (s *Subscription) push(ev domain.Event, policy OverflowPolicy) pushResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return pushClosed
	}

	result := pushDelivered
	if s.size == len(s.buf) {
		switch policy {
		case DropNewest:
			return pushDropped
		case Disconnect:
			return pushOverflow
		default:
			s.pop()
			result = pushEvicted
		}
	}

	s.buf[(s.head+s.size)%len(s.buf)] = ev
	s.size++

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return result
}

// pop requires s.mu and size > 0.
func (s *Subscription) pop() domain.Event {
	ev := s.buf[s.head]
	s.buf[s.head] = domain.Event{}
	s.head = (s.head + 1) % len(s.buf)
	s.size--
	return ev
}

func (s *Subscription) close(reason error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return
	}
	s.err = reason
	s.buf = nil
	s.head, s.size = 0, 0
	close(s.done)
}
