package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/imrishuroy/campus-orderflow/internal/ordersync"
)

func (h *handler) engine(c *gin.Context) (*ordersync.Engine, bool) {
	e, ok := h.cfg.Manager.Engine(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "target_not_watched"})
	}
	return e, ok
}

// targetOrders is the bulk refresh used to redraw a point-of-sale screen.
func (h *handler) targetOrders(c *gin.Context) {
	e, ok := h.engine(c)
	if !ok {
		return
	}
	list, err := e.Refresh(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"orders": list,
		"state":  e.State().String(),
		"cursor": e.Cursor(),
	})
}

func (h *handler) watchTarget(c *gin.Context) {
	e, started, err := h.cfg.Manager.Watch(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := e.TestConnection(c.Request.Context()); err != nil {
		h.cfg.Log.Warnw("watched target unreachable", "target_id", e.TargetID(), "error", err)
	}
	code := http.StatusOK
	if started {
		code = http.StatusCreated
	}
	c.JSON(code, gin.H{"target_id": e.TargetID(), "state": e.State().String()})
}

// targetEvents streams a watched target's order events as server-sent events.
func (h *handler) targetEvents(c *gin.Context) {
	if _, ok := h.engine(c); !ok {
		return
	}
	ch, cancel := h.cfg.Broadcaster.Subscribe(c.Param("id"))
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		}
	})
}
