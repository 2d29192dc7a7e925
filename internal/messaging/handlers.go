package messaging

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baratto/baratto/internal/proposal"
)

// EventEmitter receives message events for real-time streaming.
type EventEmitter interface {
	MessagePosted(m *Message)
}

// Handler exposes conversation endpoints over HTTP.
type Handler struct {
	service *Service
	events  EventEmitter
}

// NewHandler creates a new messaging HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds a real-time event emitter.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes registers conversation endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/proposals/:id/messages", h.list)
	r.POST("/proposals/:id/messages", h.post)
}

type postRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handler) post(c *gin.Context) {
	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	m, err := h.service.Post(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req.Text)
	if err != nil {
		switch {
		case errors.Is(err, ErrConversationClosed):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooLong):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, proposal.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to post message"})
		}
		return
	}
	if h.events != nil {
		h.events.MessagePosted(m)
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) list(c *gin.Context) {
	messages, err := h.service.List(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages, "count": len(messages)})
}
