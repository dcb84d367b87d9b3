package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/events"
	"github.com/behzadon/livepoll/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const sendTimeout = 5 * time.Second

// Sink delivers events to something outside the process.
type Sink interface {
	Name() string
	Send(ctx context.Context, ev domain.Event) error
	Close() error
}

type Subscriber interface {
	Subscribe(topic domain.Topic) (*events.Subscription, error)
}

// Relay is an ordinary hub subscriber on every topic that forwards each
// event to a Sink. Delivery failures are logged and counted; they never
// reach the code that caused the mutation.
type Relay struct {
	hub    Subscriber
	sink   Sink
	logger *zap.Logger
}

func New(hub Subscriber, sink Sink, logger *zap.Logger) *Relay {
	return &Relay{
		hub:    hub,
		sink:   sink,
		logger: logger.With(zap.String("sink", sink.Name())),
	}
}

// Run forwards events until ctx is cancelled or the hub shuts down.
func (r *Relay) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, topic := range domain.Topics {
		topic := topic
		g.Go(func() error {
			return r.forward(ctx, topic)
		})
	}
	return g.Wait()
}

func (r *Relay) forward(ctx context.Context, topic domain.Topic) error {
	for {
		sub, err := r.hub.Subscribe(topic)
		if err != nil {
			if errors.Is(err, domain.ErrSubscriptionClosed) {
				return nil
			}
			return fmt.Errorf("relay subscribe %s: %w", topic, err)
		}

		err = r.drain(ctx, sub)
		sub.Close()

		switch {
		case errors.Is(err, domain.ErrSlowSubscriber):
			// Events were lost; resubscribe and carry on from the live edge.
			r.logger.Warn("relay fell behind, resubscribing", zap.String("topic", topic.String()))
		case ctx.Err() != nil, errors.Is(err, domain.ErrSubscriptionClosed):
			return nil
		default:
			return err
		}
	}
}

func (r *Relay) drain(ctx context.Context, sub *events.Subscription) error {
	for {
		ev, err := sub.Next(ctx)
		if err != nil {
			return err
		}

		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = r.sink.Send(sendCtx, ev)
		cancel()

		metrics.RecordRelay(r.sink.Name(), err)
		if err != nil {
			r.logger.Error("failed to relay event",
				zap.Error(err),
				zap.String("topic", ev.Topic.String()),
				zap.Uint64("sequence", ev.Sequence),
				zap.String("poll_id", ev.Poll.ID),
			)
		}
	}
}
