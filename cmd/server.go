package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/behzadon/livepoll/internal/api"
	"github.com/behzadon/livepoll/internal/config"
	"github.com/behzadon/livepoll/internal/events"
	"github.com/behzadon/livepoll/internal/logging"
	"github.com/behzadon/livepoll/internal/relay"
	"github.com/behzadon/livepoll/internal/service"
	"github.com/behzadon/livepoll/internal/storage/memory"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the livepoll server",
	Long:  `Start the HTTP API and event streams with the specified configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := GetConfig()

		zapLogger, err := logging.NewZap(cfg.Server.Env, cfg.Log.Level)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		logger := logging.NewLogger(zapLogger)
		defer logger.Sync()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		policy, err := events.ParseOverflowPolicy(cfg.Hub.OverflowPolicy)
		if err != nil {
			return err
		}
		hub := events.NewHub(events.Options{
			BufferSize: cfg.Hub.BufferSize,
			Overflow:   policy,
		}, zapLogger)
		defer hub.Close()

		store := memory.NewStore(hub, zapLogger)
		svc := service.NewService(store, hub, zapLogger)

		var redisClient *redis.Client
		if cfg.Redis.Enabled {
			redisClient, err = connectRedis(ctx, cfg.Redis)
			if err != nil {
				return fmt.Errorf("connect to redis: %w", err)
			}
			defer func() {
				if err := redisClient.Close(); err != nil {
					logger.Error("Failed to close Redis connection", err)
				}
			}()
			logger.Info("Successfully connected to Redis")
		}

		sink, err := newSink(cfg, redisClient, zapLogger)
		if err != nil {
			return err
		}
		if sink != nil {
			defer func() {
				if err := sink.Close(); err != nil {
					logger.Error("Failed to close relay sink", err)
				}
			}()
		}

		var limiterClient api.RedisClient
		if redisClient != nil {
			limiterClient = redisClient
		} else {
			logger.Warn("Redis disabled, rate limiting is off")
		}
		rateLimiter := api.NewRateLimiter(limiterClient, api.RateLimitOptions{
			Requests: cfg.RateLimit.Requests,
			Window:   cfg.RateLimit.Window,
			Burst:    cfg.RateLimit.Burst,
		}, zapLogger)

		handler := api.NewHandler(svc, rateLimiter, zapLogger,
			api.WithAllowedOrigins(cfg.Server.AllowedOrigins),
		)

		if cfg.Server.Env != "development" {
			gin.SetMode(gin.ReleaseMode)
		}
		engine := gin.New()
		engine.Use(gin.Recovery())
		engine.Use(logger.GinLogger())
		handler.RegisterRoutes(engine)

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           engine,
			ReadHeaderTimeout: 10 * time.Second,
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("Starting server", zap.Int("port", cfg.Server.Port))
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen: %w", err)
			}
			return nil
		})
		if sink != nil {
			g.Go(func() error {
				logger.Info("Relaying events", zap.String("sink", sink.Name()))
				return relay.New(hub, sink, zapLogger).Run(gctx)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("Shutting down server...")

			// Streams only end once their subscriptions do.
			hub.Close()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown: %w", err)
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			logger.Error("Server stopped with error", err)
			return err
		}

		logger.Info("Server exited properly")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
}

func connectRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return client, nil
}

func newSink(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (relay.Sink, error) {
	switch cfg.Relay.Sink {
	case config.SinkRedis:
		return relay.NewRedisSink(redisClient, cfg.Relay.RedisChannel), nil
	case config.SinkRabbitMQ:
		sink, err := relay.NewRabbitMQSink(cfg.RabbitMQ, logger)
		if err != nil {
			return nil, fmt.Errorf("create RabbitMQ sink: %w", err)
		}
		return sink, nil
	}
	return nil, nil
}
