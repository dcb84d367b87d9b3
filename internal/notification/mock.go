package notification

import (
	"context"

	"go.uber.org/zap"
)

// LogNotificationService only logs what it would send.
type LogNotificationService struct {
	Logger *zap.Logger
}

func (s *LogNotificationService) SendNotification(ctx context.Context, channel string, title, message string) error {
	s.Logger.Info("Notification sent",
		zap.String("channel", channel),
		zap.String("title", title),
		zap.String("message", message),
	)
	return nil
}
