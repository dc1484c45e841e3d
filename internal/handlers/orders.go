package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/campus-orderflow/internal/idempotency"
	"github.com/imrishuroy/campus-orderflow/internal/orders"
	"github.com/imrishuroy/campus-orderflow/internal/validation"
)

func (h *handler) createOrder(c *gin.Context) {
	ctx := c.Request.Context()

	// Bind + validate request
	var req validation.CreateOrderRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		// BindAndValidate already wrote a 400
		return
	}

	idempKey := c.GetHeader("Idempotency-Key")
	if idempKey != "" && h.cfg.Idempotency != nil {
		rec, created, err := h.cfg.Idempotency.Begin(ctx, idempKey, req.ActorID)
		if errors.Is(err, idempotency.ErrKeyConflict) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "idempotency_key_reused"})
			return
		}
		if err != nil {
			h.cfg.Log.Errorw("idempotency check failed", "key", idempKey, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "idempotency_check_failed"})
			return
		}
		if !created {
			h.replay(c, rec)
			return
		}
	}

	res, err := h.cfg.Service.CreateOrder(ctx, req)
	if err != nil {
		if idempKey != "" && h.cfg.Idempotency != nil {
			// no order exists; the client's retry with this key starts over
			if mfErr := h.cfg.Idempotency.MarkFailed(ctx, idempKey, err.Error()); mfErr != nil {
				h.cfg.Log.Warnw("mark idempotency key failed", "key", idempKey, "error", mfErr)
			}
		}
		h.writeError(c, err)
		return
	}

	body, err := json.Marshal(res)
	if err != nil {
		h.writeError(c, fmt.Errorf("marshal response: %w", err))
		return
	}
	if idempKey != "" && h.cfg.Idempotency != nil {
		if err := h.cfg.Idempotency.MarkDone(ctx, idempKey, res.Order.ID, string(body), http.StatusCreated); err != nil {
			h.cfg.Log.Warnw("mark idempotency key done", "key", idempKey, "order_id", res.Order.ID, "error", err)
		}
	}

	c.Header("Location", fmt.Sprintf("/orders/%s", res.Order.ID))
	c.Data(http.StatusCreated, "application/json", body)
}

// replay answers a repeated Idempotency-Key from the stored record.
func (h *handler) replay(c *gin.Context, rec *idempotency.Record) {
	switch rec.Status {
	case idempotency.StatusDone:
		if rec.ResponseBody != "" {
			c.Data(rec.ResponseStatus, "application/json", []byte(rec.ResponseBody))
			return
		}
		c.JSON(http.StatusOK, gin.H{"order_id": rec.OrderID})
	case idempotency.StatusInProgress:
		c.JSON(http.StatusAccepted, gin.H{"message": "request already in progress"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unknown_idempotency_status"})
	}
}

func (h *handler) getOrder(c *gin.Context) {
	res, err := h.cfg.Service.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *handler) actorOrders(c *gin.Context) {
	list, err := h.cfg.Service.ListActorOrders(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": list})
}

func (h *handler) updateStatus(c *gin.Context) {
	var req validation.UpdateStatusRequest
	if err := validation.BindAndValidate(c, &req, h.v); err != nil {
		return
	}
	next, err := orders.ParseStatus(req.Status)
	if err != nil {
		h.writeError(c, err)
		return
	}

	o, err := h.cfg.Service.UpdateStatus(c.Request.Context(), c.Param("id"), next)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}
