package proposal

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baratto/baratto/internal/listing"
	"github.com/baratto/baratto/internal/wallet"
)

// EventEmitter receives proposal lifecycle events for real-time streaming.
type EventEmitter interface {
	ProposalCreated(p *Proposal)
	ProposalCountered(p *Proposal)
	ProposalAccepted(p *Proposal, exchangeID string)
	ProposalResolved(p *Proposal)
}

// Handler exposes proposal operations over HTTP.
type Handler struct {
	service *Service
	events  EventEmitter
}

// NewHandler creates a new proposal HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// WithEvents adds a real-time event emitter.
func (h *Handler) WithEvents(events EventEmitter) *Handler {
	h.events = events
	return h
}

// RegisterRoutes registers proposal endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	proposals := r.Group("/proposals")
	{
		proposals.POST("", h.create)
		proposals.GET("/:id", h.get)
		proposals.POST("/:id/accept", h.accept)
		proposals.POST("/:id/reject", h.reject)
		proposals.POST("/:id/counter", h.counter)
		proposals.POST("/:id/cancel", h.cancel)
	}
	r.GET("/users/:id/proposals", h.listByUser)
}

type createProposalRequest struct {
	ListingID string `json:"listingId" binding:"required"`
	Message   string `json:"message"`
}

func (h *Handler) create(c *gin.Context) {
	var req createProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.service.Create(c.Request.Context(), CreateRequest{
		ListingID: req.ListingID,
		BuyerID:   c.GetString("actorID"),
		Message:   req.Message,
	})
	if err != nil {
		respondProposalError(c, err)
		return
	}
	if h.events != nil {
		h.events.ProposalCreated(p)
	}
	c.JSON(http.StatusCreated, p)
}

func (h *Handler) get(c *gin.Context) {
	p, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondProposalError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) accept(c *gin.Context) {
	p, exchangeID, err := h.service.Accept(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondProposalError(c, err)
		return
	}
	if h.events != nil {
		h.events.ProposalAccepted(p, exchangeID)
	}
	c.JSON(http.StatusOK, gin.H{"proposal": p, "exchangeId": exchangeID})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) reject(c *gin.Context) {
	var req rejectRequest
	_ = c.ShouldBindJSON(&req)

	p, err := h.service.Reject(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req.Reason)
	if err != nil {
		respondProposalError(c, err)
		return
	}
	if h.events != nil {
		h.events.ProposalResolved(p)
	}
	c.JSON(http.StatusOK, p)
}

type counterRequest struct {
	Amount  int64  `json:"amount" binding:"required"`
	Message string `json:"message"`
}

func (h *Handler) counter(c *gin.Context) {
	var req counterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.service.Counter(c.Request.Context(), c.Param("id"), c.GetString("actorID"), req.Amount, req.Message)
	if err != nil {
		respondProposalError(c, err)
		return
	}
	if h.events != nil {
		h.events.ProposalCountered(p)
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) cancel(c *gin.Context) {
	p, err := h.service.Cancel(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		respondProposalError(c, err)
		return
	}
	if h.events != nil {
		h.events.ProposalResolved(p)
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handler) listByUser(c *gin.Context) {
	proposals, err := h.service.ListByUser(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list proposals"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"proposals": proposals, "count": len(proposals)})
}

// respondProposalError maps domain errors onto HTTP status codes.
func respondProposalError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, listing.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, ErrUnauthorized), errors.Is(err, ErrSelfTrade), errors.Is(err, ErrNotYourTurn):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, ErrDuplicateOpenProposal), errors.Is(err, ErrNotPending), errors.Is(err, listing.ErrClosed):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, ErrAmountOutOfRange), errors.Is(err, ErrMaxCounterRounds):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, wallet.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
