package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/events"
	"go.uber.org/zap"
)

type Service interface {
	CreatePoll(ctx context.Context, req *domain.CreatePollRequest) (*domain.Poll, error)
	CastVote(ctx context.Context, optionID string) (*domain.Poll, error)
	ListPolls(ctx context.Context) ([]domain.Poll, error)
	GetPoll(ctx context.Context, id string) (*domain.Poll, error)

	OnPollCreated(ctx context.Context) (*events.Subscription, error)
	OnVoteUpdated(ctx context.Context) (*events.Subscription, error)
}

// PollStore is the mutation and read surface of the canonical poll state.
type PollStore interface {
	Create(ctx context.Context, title string, options []string) (*domain.Poll, error)
	Vote(ctx context.Context, optionID string) (*domain.Poll, error)
	List(ctx context.Context) ([]domain.Poll, error)
	Get(ctx context.Context, id string) (*domain.Poll, error)
}

type Subscriber interface {
	Subscribe(topic domain.Topic) (*events.Subscription, error)
}

type service struct {
	store  PollStore
	hub    Subscriber
	logger *zap.Logger
}

func NewService(store PollStore, hub Subscriber, logger *zap.Logger) Service {
	return &service{
		store:  store,
		hub:    hub,
		logger: logger,
	}
}

func (s *service) CreatePoll(ctx context.Context, req *domain.CreatePollRequest) (*domain.Poll, error) {
	if req == nil {
		return nil, domain.ErrInvalidInput
	}

	poll, err := s.store.Create(ctx, req.Title, req.Options)
	if err != nil {
		return nil, fmt.Errorf("create poll: %w", err)
	}
	return poll, nil
}

func (s *service) CastVote(ctx context.Context, optionID string) (*domain.Poll, error) {
	poll, err := s.store.Vote(ctx, optionID)
	if err != nil {
		if errors.Is(err, domain.ErrOptionNotFound) {
			s.logger.Info("vote for unknown option", zap.String("option_id", optionID))
		}
		return nil, fmt.Errorf("cast vote: %w", err)
	}
	return poll, nil
}

func (s *service) ListPolls(ctx context.Context) ([]domain.Poll, error) {
	return s.store.List(ctx)
}

func (s *service) GetPoll(ctx context.Context, id string) (*domain.Poll, error) {
	return s.store.Get(ctx, id)
}

func (s *service) OnPollCreated(ctx context.Context) (*events.Subscription, error) {
	return s.subscribe(ctx, domain.TopicPollCreated)
}

func (s *service) OnVoteUpdated(ctx context.Context) (*events.Subscription, error) {
	return s.subscribe(ctx, domain.TopicVoteCast)
}

// subscribe ties the subscription's lifetime to ctx: when the observer's
// context ends the subscription is torn down.
func (s *service) subscribe(ctx context.Context, topic domain.Topic) (*events.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub, err := s.hub.Subscribe(topic)
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.Done():
		}
	}()
	return sub, nil
}
