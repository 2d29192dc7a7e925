// Package listing holds the marketplace listings that proposals are made
// against. The escrow engine only ever reads listings through the Catalog
// interface; listing lifecycle (create, close) lives with the seller-facing
// endpoints here.
package listing

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound       = errors.New("listing not found")
	ErrClosed         = errors.New("listing is closed")
	ErrInvalidListing = errors.New("invalid listing")
	ErrNotSeller      = errors.New("only the seller can modify a listing")
)

// Listing is an item or service offered for credits.
type Listing struct {
	ID          string    `json:"id"`
	SellerID    string    `json:"sellerId"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	CreditPrice int64     `json:"creditPrice"`
	Open        bool      `json:"open"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Catalog is the read-only view the proposal engine consumes.
type Catalog interface {
	Get(ctx context.Context, id string) (*Listing, error)
}

// Store persists listings.
type Store interface {
	Catalog
	Create(ctx context.Context, l *Listing) error
	SetOpen(ctx context.Context, id string, open bool) error
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error)
}

// Service manages listing lifecycle.
type Service struct {
	store Store
}

// NewService creates a new listing service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Get returns a listing by ID.
func (s *Service) Get(ctx context.Context, id string) (*Listing, error) {
	return s.store.Get(ctx, id)
}

// Create validates and stores a new listing.
func (s *Service) Create(ctx context.Context, l *Listing) error {
	if strings.TrimSpace(l.SellerID) == "" || strings.TrimSpace(l.Title) == "" {
		return ErrInvalidListing
	}
	if l.CreditPrice <= 0 {
		return ErrInvalidListing
	}
	now := time.Now()
	l.Open = true
	l.CreatedAt = now
	l.UpdatedAt = now
	return s.store.Create(ctx, l)
}

// Close marks a listing as no longer accepting proposals. Only the seller
// may close their own listing.
func (s *Service) Close(ctx context.Context, id, actor string) error {
	l, err := s.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if l.SellerID != actor {
		return ErrNotSeller
	}
	return s.store.SetOpen(ctx, id, false)
}

// ListBySeller returns a seller's listings, newest first.
func (s *Service) ListBySeller(ctx context.Context, sellerID string, limit int) ([]*Listing, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListBySeller(ctx, sellerID, limit)
}
