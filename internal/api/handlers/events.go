package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/facedoor/internal/models"
	"github.com/your-org/facedoor/pkg/dto"
)

// AccessLogReader pages through recorded access events.
type AccessLogReader interface {
	ListAccessEvents(ctx context.Context, q models.EventQuery) ([]models.AccessEvent, int, error)
}

type EventHandler struct {
	log AccessLogReader
}

// NewEventHandler returns a handler; a nil log makes List answer 503.
func NewEventHandler(log AccessLogReader) *EventHandler {
	return &EventHandler{log: log}
}

func (h *EventHandler) List(c *gin.Context) {
	if h.log == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "access log not configured", "code": "unavailable"})
		return
	}

	q := models.EventQuery{Name: c.Query("name")}
	if fromStr := c.Query("from"); fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from", "code": "invalid_request"})
			return
		}
		q.From = &t
	}
	if toStr := c.Query("to"); toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to", "code": "invalid_request"})
			return
		}
		q.To = &t
	}
	if recStr := c.Query("recognized"); recStr != "" {
		b := recStr == "true" || recStr == "1"
		q.Recognized = &b
	}
	q.Limit, _ = strconv.Atoi(c.DefaultQuery("limit", "50"))
	q.Offset, _ = strconv.Atoi(c.DefaultQuery("offset", "0"))
	if q.Offset < 0 {
		q.Offset = 0
	}

	events, total, err := h.log.ListAccessEvents(c.Request.Context(), q)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := make([]dto.AccessEventResponse, 0, len(events))
	for _, ev := range events {
		resp = append(resp, dto.NewAccessEventResponse(ev))
	}
	c.JSON(http.StatusOK, dto.EventListResponse{Events: resp, Total: total})
}
