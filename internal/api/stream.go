package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/events"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const writeTimeout = 5 * time.Second

var errHeartbeat = errors.New("heartbeat due")

type subscribeFunc func(ctx context.Context) (*events.Subscription, error)

// StreamMessage is the envelope written to WebSocket clients.
type StreamMessage struct {
	Type     string      `json:"type"`
	Sequence uint64      `json:"sequence,omitempty"`
	Payload  interface{} `json:"payload"`
}

func (h *Handler) subscriber(topic domain.Topic) (subscribeFunc, bool) {
	switch topic {
	case domain.TopicPollCreated:
		return h.service.OnPollCreated, true
	case domain.TopicVoteCast:
		return h.service.OnVoteUpdated, true
	}
	return nil, false
}

// next waits for an event, returning errHeartbeat when the stream has been
// idle for keepAlive.
func (h *Handler) next(ctx context.Context, sub *events.Subscription) (domain.Event, error) {
	waitCtx, cancel := context.WithTimeout(ctx, h.keepAlive)
	defer cancel()

	ev, err := sub.Next(waitCtx)
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return ev, errHeartbeat
	}
	return ev, err
}

func (h *Handler) streamPolls(c *gin.Context) {
	h.serveSSE(c, domain.TopicPollCreated)
}

func (h *Handler) streamVotes(c *gin.Context) {
	h.serveSSE(c, domain.TopicVoteCast)
}

// serveSSE subscribes before reading the optional snapshot so no mutation
// falls between the two.
func (h *Handler) serveSSE(c *gin.Context, topic domain.Topic) {
	subscribe, _ := h.subscriber(topic)
	ctx := c.Request.Context()

	sub, err := subscribe(ctx)
	if err != nil {
		h.logger.Error("failed to open event stream",
			zap.Error(err),
			zap.String("topic", topic.String()),
		)
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "error",
			"message": "event stream unavailable",
		})
		return
	}
	defer sub.Close()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	_, _ = c.Writer.WriteString(": subscribed\n\n")
	c.Writer.Flush()

	if c.Query("snapshot") == "true" {
		polls, err := h.service.ListPolls(ctx)
		if err != nil {
			h.logger.Error("failed to load stream snapshot", zap.Error(err))
			return
		}
		c.Render(-1, sse.Event{Event: "snapshot", Data: polls})
		c.Writer.Flush()
	}

	for {
		ev, err := h.next(ctx, sub)
		switch {
		case err == nil:
			c.Render(-1, sse.Event{
				Event: ev.Topic.String(),
				Id:    strconv.FormatUint(ev.Sequence, 10),
				Data:  ev.Poll,
			})
			c.Writer.Flush()
		case errors.Is(err, errHeartbeat):
			_, _ = c.Writer.WriteString(": ping\n\n")
			c.Writer.Flush()
		default:
			h.logger.Debug("event stream ended",
				zap.String("topic", topic.String()),
				zap.Uint64("subscription_id", sub.ID()),
				zap.NamedError("reason", err),
			)
			return
		}
	}
}

func (h *Handler) websocket(c *gin.Context) {
	topic := domain.Topic(c.DefaultQuery("topic", domain.TopicVoteCast.String()))
	subscribe, ok := h.subscriber(topic)
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "unknown topic",
		})
		return
	}

	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: h.allowedOrigins,
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// Clients never send data; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(c.Request.Context())

	sub, err := subscribe(ctx)
	if err != nil {
		h.logger.Error("failed to open websocket stream", zap.Error(err), zap.String("topic", topic.String()))
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer sub.Close()

	logger := h.logger.With(
		zap.String("topic", topic.String()),
		zap.Uint64("subscription_id", sub.ID()),
		zap.String("remote", c.Request.RemoteAddr),
	)
	logger.Info("websocket connected")

	if c.Query("snapshot") == "true" {
		polls, err := h.service.ListPolls(ctx)
		if err != nil {
			logger.Error("failed to load stream snapshot", zap.Error(err))
			conn.Close(websocket.StatusInternalError, "snapshot failed")
			return
		}
		if err := writeJSON(ctx, conn, StreamMessage{Type: "snapshot", Payload: polls}); err != nil {
			return
		}
	}

	for {
		ev, err := h.next(ctx, sub)
		switch {
		case err == nil:
			msg := StreamMessage{Type: ev.Topic.String(), Sequence: ev.Sequence, Payload: ev.Poll}
			if err := writeJSON(ctx, conn, msg); err != nil {
				logger.Debug("websocket write failed", zap.Error(err))
				return
			}
		case errors.Is(err, errHeartbeat):
			pingCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				logger.Debug("websocket ping failed", zap.Error(err))
				return
			}
		case errors.Is(err, domain.ErrSlowSubscriber):
			logger.Warn("websocket subscriber too slow")
			conn.Close(websocket.StatusPolicyViolation, "subscriber too slow")
			return
		default:
			logger.Info("websocket disconnected", zap.NamedError("reason", err))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, v interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, v)
}
