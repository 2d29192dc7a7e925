package exchange

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baratto/baratto/internal/wallet"
)

// EventEmitter receives exchange lifecycle events for real-time streaming.
type EventEmitter interface {
	ExchangeResolved(e *Exchange)
}

// Handler exposes exchange operations over HTTP.
type Handler struct {
	service *Service
	events  EventEmitter
}

// NewHandler creates a new exchange HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds a real-time event emitter.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes registers exchange endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	exchanges := r.Group("/exchanges")
	{
		exchanges.GET("/:id", h.get)
		exchanges.POST("/:id/confirm", h.confirm)
		exchanges.POST("/:id/cancel", h.cancel)
	}
	r.GET("/users/:id/exchanges", h.listByUser)
}

func (h *Handler) get(c *gin.Context) {
	e, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondExchangeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) confirm(c *gin.Context) {
	e, err := h.service.Confirm(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondExchangeError(c, err)
		return
	}
	if h.events != nil && e.State.IsTerminal() {
		h.events.ExchangeResolved(e)
	}
	c.JSON(http.StatusOK, e)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancel(c *gin.Context) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	e, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req.Reason)
	if err != nil {
		respondExchangeError(c, err)
		return
	}
	if h.events != nil {
		h.events.ExchangeResolved(e)
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) listByUser(c *gin.Context) {
	exchanges, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list exchanges"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"exchanges": exchanges, "count": len(exchanges)})
}

// respondExchangeError maps domain errors onto HTTP status codes.
func respondExchangeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrAlreadyTerminal), errors.Is(err, ErrProposalTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrInvariantViolation):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "wallet inconsistency, operation aborted"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
