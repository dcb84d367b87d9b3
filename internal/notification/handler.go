package notification

import (
	"context"
	"fmt"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/relay"
	"go.uber.org/zap"
)

type NotificationService interface {
	SendNotification(ctx context.Context, channel string, title, message string) error
}

type NotificationHandler struct {
	notificationService NotificationService
	logger              *zap.Logger
}

func NewNotificationHandler(notificationService NotificationService, logger *zap.Logger) relay.EventHandler {
	return &NotificationHandler{
		notificationService: notificationService,
		logger:              logger,
	}
}

func pollChannel(poll *domain.Poll) string {
	return "poll:" + poll.ID
}

func (h *NotificationHandler) HandlePollCreated(ctx context.Context, poll *domain.Poll) error {
	h.logger.Info("Would notify observers about new poll",
		zap.String("poll_id", poll.ID),
		zap.String("poll_title", poll.Title),
		zap.Int("options", len(poll.Options)),
	)

	message := fmt.Sprintf("New poll with %d options", len(poll.Options))
	if err := h.notificationService.SendNotification(ctx, "polls", poll.Title, message); err != nil {
		return fmt.Errorf("notify poll created: %w", err)
	}
	return nil
}

func (h *NotificationHandler) HandleVoteCast(ctx context.Context, poll *domain.Poll) error {
	leader, ok := Leading(poll)
	if !ok {
		return nil
	}

	h.logger.Info("Would notify poll followers about new vote",
		zap.String("poll_id", poll.ID),
		zap.Int64("total_votes", poll.TotalVotes()),
		zap.String("leading_option", leader.Label),
	)

	message := fmt.Sprintf("%d votes, %q leads with %d", poll.TotalVotes(), leader.Label, leader.VoteCount)
	if err := h.notificationService.SendNotification(ctx, pollChannel(poll), poll.Title, message); err != nil {
		return fmt.Errorf("notify vote cast: %w", err)
	}
	return nil
}

// Leading returns the option with the most votes; ties go to the earlier option.
func Leading(poll *domain.Poll) (domain.Option, bool) {
	if poll == nil || len(poll.Options) == 0 {
		return domain.Option{}, false
	}
	best := poll.Options[0]
	for _, o := range poll.Options[1:] {
		if o.VoteCount > best.VoteCount {
			best = o
		}
	}
	return best, true
}
