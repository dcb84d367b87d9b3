package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/behzadon/livepoll/internal/logging"
	"github.com/behzadon/livepoll/internal/notification"
	"github.com/behzadon/livepoll/internal/relay"
	"github.com/spf13/cobra"
)

var notificationConsumerCmd = &cobra.Command{
	Use:   "notification-consumer",
	Short: "Start the notification consumer",
	Long:  `Start the notification consumer that processes relayed poll events and sends notifications.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()
		if err := cfg.ValidateRabbitMQ(); err != nil {
			return err
		}

		zapLogger, err := logging.NewZap(cfg.Server.Env, cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger := logging.NewLogger(zapLogger)
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		notifier := &notification.LogNotificationService{
			Logger: zapLogger,
		}
		handler := notification.NewNotificationHandler(notifier, zapLogger)

		consumer, err := relay.NewRabbitMQConsumer(cfg.RabbitMQ, handler, zapLogger)
		if err != nil {
			return fmt.Errorf("create RabbitMQ consumer: %w", err)
		}
		defer func() {
			if err := consumer.Close(); err != nil {
				logger.Error("Failed to close RabbitMQ consumer", err)
			}
		}()

		if err := consumer.Start(ctx); err != nil {
			return fmt.Errorf("start consumer: %w", err)
		}

		logger.Info("Notification consumer started")
		<-ctx.Done()

		logger.Info("Shutting down notification consumer...")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(notificationConsumerCmd)
}
