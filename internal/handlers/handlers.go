// Package handlers exposes the order core over HTTP with gin.
package handlers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/imrishuroy/campus-orderflow/internal/events"
	"github.com/imrishuroy/campus-orderflow/internal/idempotency"
	"github.com/imrishuroy/campus-orderflow/internal/ingestion"
	"github.com/imrishuroy/campus-orderflow/internal/orders"
	"github.com/imrishuroy/campus-orderflow/internal/ordersync"
	"github.com/imrishuroy/campus-orderflow/internal/pool"
)

// HandlerConfig groups dependencies for the HTTP handlers.
type HandlerConfig struct {
	Service     *ingestion.Service
	Pool        *pool.Pool
	Manager     *ordersync.Manager
	Broadcaster *events.Broadcaster
	Idempotency *idempotency.Store // optional; Idempotency-Key is ignored when nil
	Log         *zap.SugaredLogger
}

const healthTimeout = 2 * time.Second

type handler struct {
	cfg HandlerConfig
	v   *validatorv10.Validate
}

// RegisterRoutes registers the health, order, target and pool routes.
func RegisterRoutes(r *gin.Engine, cfg HandlerConfig, v *validatorv10.Validate) {
	h := &handler{cfg: cfg, v: v}

	r.GET("/health", h.health)
	r.POST("/orders", h.createOrder)
	r.GET("/orders/:id", h.getOrder)
	r.PATCH("/orders/:id/status", h.updateStatus)
	r.GET("/actors/:id/orders", h.actorOrders)
	r.GET("/targets/:id/orders", h.targetOrders)
	r.GET("/targets/:id/events", h.targetEvents)
	r.POST("/targets/:id/watch", h.watchTarget)
	r.GET("/pool/status", h.poolStatus)
}

// health reports pool health and whether a pooled client can reach the backend.
// A critical pool is reported without pinging so the check does not queue.
func (h *handler) health(c *gin.Context) {
	status := h.cfg.Pool.Status()
	if status.Health == pool.Critical {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "pool": status.Health})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	err := h.cfg.Pool.With(ctx, func(pc *pool.Client) error {
		return pc.Backend.Ping(ctx)
	})
	if err != nil {
		h.cfg.Log.Warnw("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "pool": status.Health, "backend": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pool": status.Health, "backend": "ok"})
}

func (h *handler) poolStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.cfg.Pool.Status())
}

// writeError maps core errors onto HTTP responses.
func (h *handler) writeError(c *gin.Context, err error) {
	var rl *ingestion.RateLimitError
	var ve *ingestion.ValidationError

	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_failed", "fields": ve.Fields})
	case errors.As(err, &rl):
		secs := int(math.Ceil(rl.ResetIn.Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":     "rate_limited",
			"remaining": rl.Remaining,
			"reset_in":  secs,
		})
	case errors.Is(err, pool.ErrOverloaded):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "overloaded"})
	case errors.Is(err, pool.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	case errors.Is(err, pool.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shutting_down"})
	case errors.Is(err, ingestion.ErrOrderCreateFailed), errors.Is(err, ingestion.ErrOrderItemsFailed):
		h.cfg.Log.Errorw("order write failed", "error", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "order_not_placed", "detail": err.Error()})
	case errors.Is(err, orders.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, orders.ErrInvalidTransition), errors.Is(err, orders.ErrStatusMismatch):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "detail": err.Error()})
	case errors.Is(err, orders.ErrUnknownStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown_status"})
	default:
		h.cfg.Log.Errorw("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal"})
	}
}
