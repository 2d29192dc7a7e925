package listing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/baratto/baratto/internal/validation"
)

// Handler exposes listing operations over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers listing endpoints on the given router group.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	listings := r.Group("/listings")
	{
		listings.POST("", h.create)
		listings.GET("/:id", h.get)
		listings.POST("/:id/close", h.close)
	}
	r.GET("/sellers/:id/listings", h.listBySeller)
}

type createRequest struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	CreditPrice int64  `json:"creditPrice" binding:"required"`
}

func (h *Handler) create(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	l := &Listing{
		SellerID:    c.GetString("actorID"),
		Title:       validation.SanitizeText(req.Title, validation.MaxTitleLength),
		Description: validation.SanitizeText(req.Description, validation.MaxDescriptionLength),
		CreditPrice: req.CreditPrice,
	}
	if err := h.service.Create(c.Request.Context(), l); err != nil {
		if errors.Is(err, ErrInvalidListing) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create listing"})
		return
	}
	c.JSON(http.StatusCreated, l)
}

func (h *Handler) get(c *gin.Context) {
	l, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load listing"})
		return
	}
	c.JSON(http.StatusOK, l)
}

func (h *Handler) close(c *gin.Context) {
	err := h.service.Close(c.Request.Context(), c.Param("id"), c.GetString("actorID"))
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		case errors.Is(err, ErrNotSeller):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to close listing"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "closed"})
}

func (h *Handler) listBySeller(c *gin.Context) {
	listings, err := h.service.ListBySeller(c.Request.Context(), c.Param("id"), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list listings"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": listings, "count": len(listings)})
}
