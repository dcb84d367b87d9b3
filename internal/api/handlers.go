package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/behzadon/livepoll/internal/domain"
	"github.com/behzadon/livepoll/internal/metrics"
	"github.com/behzadon/livepoll/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const DefaultKeepAlive = 15 * time.Second

type Handler struct {
	service     service.Service
	logger      *zap.Logger
	rateLimiter *RateLimiter

	keepAlive      time.Duration
	allowedOrigins []string
}

type HandlerOption func(*Handler)

// WithKeepAlive sets how often idle streams send a heartbeat.
func WithKeepAlive(d time.Duration) HandlerOption {
	return func(h *Handler) {
		h.keepAlive = d
	}
}

// WithAllowedOrigins sets host patterns accepted for cross-origin WebSocket handshakes.
func WithAllowedOrigins(origins []string) HandlerOption {
	return func(h *Handler) {
		h.allowedOrigins = origins
	}
}

func NewHandler(service service.Service, rateLimiter *RateLimiter, logger *zap.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		service:     service,
		logger:      logger,
		rateLimiter: rateLimiter,
		keepAlive:   DefaultKeepAlive,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.Use(metrics.MetricsMiddleware())

	r.GET("/healthz", h.healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", h.websocket)

	api := r.Group("/api")
	{
		api.GET("/polls", h.listPolls)
		api.GET("/polls/:id", h.getPoll)
		api.POST("/polls", h.rateLimiter.RateLimit(), h.rateLimiter.BurstLimit(), h.createPoll)
		api.POST("/votes", h.rateLimiter.RateLimit(), h.rateLimiter.BurstLimit(), h.castVote)

		api.GET("/stream/polls", h.streamPolls)
		api.GET("/stream/votes", h.streamVotes)
	}
}

func (h *Handler) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "success",
	})
}

func (h *Handler) createPoll(c *gin.Context) {
	var req domain.CreatePollRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid request body",
		})
		return
	}

	poll, err := h.service.CreatePoll(c.Request.Context(), &req)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			c.JSON(http.StatusBadRequest, gin.H{
				"status":  "error",
				"message": "title and at least one non-empty option are required",
			})
		default:
			h.logger.Error("failed to create poll",
				zap.Error(err),
				zap.String("title", req.Title),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "Failed to create poll",
			})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"status": "success",
		"data":   poll,
	})
}

func (h *Handler) listPolls(c *gin.Context) {
	polls, err := h.service.ListPolls(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list polls", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"status":  "error",
			"message": "Failed to list polls",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   polls,
	})
}

func (h *Handler) getPoll(c *gin.Context) {
	id := c.Param("id")

	poll, err := h.service.GetPoll(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrPollNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"status":  "error",
				"message": "poll not found",
			})
		default:
			h.logger.Error("failed to get poll",
				zap.Error(err),
				zap.String("poll_id", id),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "failed to get poll",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   poll,
	})
}

func (h *Handler) castVote(c *gin.Context) {
	var req domain.VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"status":  "error",
			"message": "Invalid request body",
		})
		return
	}

	poll, err := h.service.CastVote(c.Request.Context(), req.OptionID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrOptionNotFound):
			c.JSON(http.StatusNotFound, gin.H{
				"status":  "error",
				"message": "option not found",
			})
		default:
			h.logger.Error("failed to cast vote",
				zap.Error(err),
				zap.String("option_id", req.OptionID),
			)
			c.JSON(http.StatusInternalServerError, gin.H{
				"status":  "error",
				"message": "Failed to cast vote",
			})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "success",
		"data":   poll,
	})
}
