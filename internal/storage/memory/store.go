// Package memory holds the canonical in-process poll state.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/events"
	"github.com/behzadon/livepoll/internal/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type IDGenerator func() string

type Option func(*Store)

// WithIDGenerator replaces the default random UUID source.
func WithIDGenerator(gen IDGenerator) Option {
	return func(s *Store) {
		s.newID = gen
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

type pollEntry struct {
	// mu guards poll.Options vote counts. Everything else in the entry is
	// fixed at creation.
	mu        sync.RWMutex
	poll      domain.Poll
	optionIdx map[string]int
}

func (e *pollEntry) snapshot() domain.Poll {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.poll.Clone()
}

// Store owns every poll. Creates take the store lock; votes only take the
// lock of the poll they touch, so votes on different polls run in parallel.
type Store struct {
	publisher events.Publisher
	logger    *zap.Logger
	newID     IDGenerator
	now       func() time.Time

	mu       sync.RWMutex
	order    []*pollEntry // oldest first, List walks it backwards
	byID     map[string]*pollEntry
	byOption map[string]*pollEntry
}

func NewStore(publisher events.Publisher, logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		publisher: publisher,
		logger:    logger,
		newID:     uuid.NewString,
		now:       func() time.Time { return time.Now().UTC() },
		byID:      make(map[string]*pollEntry),
		byOption:  make(map[string]*pollEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Create(ctx context.Context, title string, labels []string) (*domain.Poll, error) {
	poll, err := s.create(ctx, title, labels)
	metrics.RecordPollOperation("create", err)
	return poll, err
}

func (s *Store) create(ctx context.Context, title string, labels []string) (*domain.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.OpError{Op: "Create", Err: err}
	}

	title = strings.TrimSpace(title)
	kept := make([]string, 0, len(labels))
	for _, l := range labels {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	if title == "" || len(kept) == 0 {
		return nil, &domain.OpError{Op: "Create", Err: domain.ErrInvalidInput}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := &pollEntry{
		poll: domain.Poll{
			ID:        s.freshID(),
			Title:     title,
			Options:   make([]domain.Option, len(kept)),
			CreatedAt: s.now(),
		},
		optionIdx: make(map[string]int, len(kept)),
	}
	s.byID[entry.poll.ID] = entry

	for i, label := range kept {
		id := s.freshID()
		entry.poll.Options[i] = domain.Option{ID: id, Label: label}
		entry.optionIdx[id] = i
		s.byOption[id] = entry
	}
	s.order = append(s.order, entry)
	metrics.PollsTotal.Set(float64(len(s.order)))

	snap := entry.poll.Clone()
	if err := s.publisher.Publish(domain.NewPollCreated(snap)); err != nil {
		s.logger.Error("failed to publish poll created event",
			zap.Error(err),
			zap.String("poll_id", snap.ID),
		)
	}

	s.logger.Info("poll created",
		zap.String("poll_id", snap.ID),
		zap.String("title", snap.Title),
		zap.Int("options", len(snap.Options)),
	)
	return &snap, nil
}

func (s *Store) Vote(ctx context.Context, optionID string) (*domain.Poll, error) {
	poll, err := s.vote(ctx, optionID)
	metrics.RecordPollOperation("vote", err)
	return poll, err
}

func (s *Store) vote(ctx context.Context, optionID string) (*domain.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.OpError{Op: "Vote", Err: err}
	}

	s.mu.RLock()
	entry, ok := s.byOption[optionID]
	s.mu.RUnlock()
	if !ok {
		return nil, &domain.OpError{Op: "Vote", Err: domain.ErrOptionNotFound}
	}

	// Entries are never removed, so the entry stays valid after the store
	// lock is released.
	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.poll.Options[entry.optionIdx[optionID]].VoteCount++
	snap := entry.poll.Clone()

	// Publishing under the poll lock keeps a poll's vote events in
	// increment order.
	if err := s.publisher.Publish(domain.NewVoteCast(snap)); err != nil {
		s.logger.Error("failed to publish vote cast event",
			zap.Error(err),
			zap.String("poll_id", snap.ID),
			zap.String("option_id", optionID),
		)
	}
	return &snap, nil
}

// List returns snapshots of every poll, newest first.
func (s *Store) List(ctx context.Context) ([]domain.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.OpError{Op: "List", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	polls := make([]domain.Poll, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		polls = append(polls, s.order[i].snapshot())
	}
	metrics.RecordPollOperation("list", nil)
	return polls, nil
}

func (s *Store) Get(ctx context.Context, id string) (*domain.Poll, error) {
	if err := ctx.Err(); err != nil {
		return nil, &domain.OpError{Op: "Get", Err: err}
	}

	s.mu.RLock()
	entry, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		metrics.RecordPollOperation("get", domain.ErrPollNotFound)
		return nil, &domain.OpError{Op: "Get", Err: domain.ErrPollNotFound}
	}

	snap := entry.snapshot()
	metrics.RecordPollOperation("get", nil)
	return &snap, nil
}

// freshID draws ids until one is unused by any poll or option. Callers hold s.mu.
func (s *Store) freshID() string {
	for {
		id := s.newID()
		if id == "" {
			continue
		}
		_, pollTaken := s.byID[id]
		_, optionTaken := s.byOption[id]
		if !pollTaken && !optionTaken {
			return id
		}
		s.logger.Warn("id collision, regenerating", zap.String("id", id))
	}
}
