package wallet

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/baratto/baratto/internal/pagination"
)

// Handler exposes wallet operations over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a new wallet HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers wallet endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	wallets := r.Group("/wallets")
	{
		wallets.GET("/:id", h.getBalance)
		wallets.GET("/:id/ledger", h.getLedger)
		wallets.POST("/:id/credit", h.credit)
	}
}

func (h *Handler) getBalance(c *gin.Context) {
	bal, err := h.service.Balance(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}
	c.JSON(http.StatusOK, bal)
}

func (h *Handler) getLedger(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}

	cursor, err := pagination.Decode(c.Query("cursor"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
		return
	}

	// Fetch one past the page size to learn whether more pages exist.
	entries, err := h.service.History(c.Request.Context(), c.Param("id"), cursor, limit+1)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load ledger"})
		return
	}

	entries, next, more := pagination.ComputePage(entries, limit, func(e *Entry) (time.Time, string) {
		return e.CreatedAt, e.ID
	})

	resp := gin.H{
		"user_id":  c.Param("id"),
		"entries":  entries,
		"count":    len(entries),
		"has_more": more,
	}
	if next != "" {
		resp["next_cursor"] = next
	}
	c.JSON(http.StatusOK, resp)
}

type creditRequest struct {
	Amount int64  `json:"amount" binding:"required"`
	Type   string `json:"type" binding:"required"`
	Ref    string `json:"ref" binding:"required"`
}

func (h *Handler) credit(c *gin.Context) {
	var req creditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.Param("id")
	err := h.service.Credit(c.Request.Context(), userID, req.Amount, req.Type, Ref{
		Type: req.Type,
		ID:   req.Ref,
		Op:   "credit",
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidEntryType):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to credit wallet"})
		}
		return
	}

	bal, err := h.service.Balance(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load balance"})
		return
	}
	c.JSON(http.StatusOK, bal)
}
