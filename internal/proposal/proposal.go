// Package proposal manages trade proposals on marketplace listings.
//
// Flow:
//  1. A buyer proposes a trade on an open listing at the listed price
//  2. Buyer and seller may counter-offer back and forth (bounded rounds)
//  3. The seller accepts → an exchange opens and buyer credits go to escrow
//  4. Either side rejects, the buyer cancels, or the sweeper expires it
//
// A proposal never moves credits on its own. The only wallet effect in its
// lifetime happens inside acceptance, which is delegated to the exchange
// coordinator so that the hold and the state transition stay atomic.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/baratto/baratto/internal/listing"
	"github.com/baratto/baratto/internal/metrics"
	"github.com/baratto/baratto/internal/validation"
)

var (
	ErrNotFound              = errors.New("proposal not found")
	ErrSelfTrade             = errors.New("cannot propose a trade on your own listing")
	ErrDuplicateOpenProposal = errors.New("buyer already has an open proposal on this listing")
	ErrNotPending            = errors.New("proposal is not pending")
	ErrNotYourTurn           = errors.New("waiting for the other party to respond")
	ErrUnauthorized          = errors.New("not authorized for this operation")
	ErrAmountOutOfRange      = errors.New("counter amount must be between 1 and the listed price")
	ErrMaxCounterRounds      = errors.New("maximum counter-offer rounds exceeded")
)

// DefaultMaxCounterRounds bounds how many times a proposal can be countered.
const DefaultMaxCounterRounds = 10

// Status represents the state of a proposal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCancelled Status = "cancelled"
)

// IsTerminal returns true if the status is a final state.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted, StatusRejected, StatusExpired, StatusCancelled:
		return true
	}
	return false
}

// Proposal is one buyer's offer on one listing. Amount starts at the listed
// price and is re-written by counter-offers. LastOfferBy names the party who
// made the current offer; only the other party may respond to it.
type Proposal struct {
	ID           string    `json:"id"`
	ListingID    string    `json:"listingId"`
	BuyerID      string    `json:"buyerId"`
	SellerID     string    `json:"sellerId"`
	Amount       int64     `json:"amount"`
	Status       Status    `json:"status"`
	LastOfferBy  string    `json:"lastOfferBy"`
	CounterRound int       `json:"counterRound"`
	Message      string    `json:"message,omitempty"`
	Reason       string    `json:"reason,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Store persists proposals. Transition applies a guarded status change and
// reports whether this caller won it; losing (the row was no longer in the
// from status) is how concurrent accept/reject/expire races resolve.
type Store interface {
	Create(ctx context.Context, p *Proposal) error
	Get(ctx context.Context, id string) (*Proposal, error)
	HasOpen(ctx context.Context, listingID, buyerID string) (bool, error)
	UpdateOffer(ctx context.Context, id string, amount int64, offerBy, message string, round int) error
	Transition(ctx context.Context, id string, from, to Status, reason string) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Proposal, error)
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*Proposal, error)
}

// ExchangeOpener opens an escrow exchange from an accepted proposal. The
// implementation owns the hold-then-transition atomicity; see the exchange
// coordinator.
type ExchangeOpener interface {
	OpenFromProposal(ctx context.Context, p *Proposal) (exchangeID string, err error)
}

// Service manages the proposal lifecycle.
type Service struct {
	store           Store
	catalog         listing.Catalog
	opener          ExchangeOpener
	maxCounterRound int
}

// NewService creates a new proposal service.
func NewService(store Store, catalog listing.Catalog, opener ExchangeOpener) *Service {
	return &Service{
		store:           store,
		catalog:         catalog,
		opener:          opener,
		maxCounterRound: DefaultMaxCounterRounds,
	}
}

// WithMaxCounterRounds overrides the counter-offer round limit.
func (s *Service) WithMaxCounterRounds(n int) *Service {
	if n > 0 {
		s.maxCounterRound = n
	}
	return s
}

// CreateRequest holds parameters for creating a proposal.
type CreateRequest struct {
	ListingID string
	BuyerID   string
	Message   string
}

// Create opens a new pending proposal on a listing at its listed price.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Proposal, error) {
	if !validation.IsValidID(req.ListingID) || !validation.IsValidID(req.BuyerID) {
		return nil, fmt.Errorf("invalid listing or buyer id")
	}
	if len(req.Message) > validation.MaxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters", validation.MaxMessageLength)
	}

	l, err := s.catalog.Get(ctx, req.ListingID)
	if err != nil {
		return nil, err
	}
	if !l.Open {
		return nil, listing.ErrClosed
	}
	if l.SellerID == req.BuyerID {
		return nil, ErrSelfTrade
	}

	open, err := s.store.HasOpen(ctx, req.ListingID, req.BuyerID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, ErrDuplicateOpenProposal
	}

	now := time.Now()
	p := &Proposal{
		ListingID:   req.ListingID,
		BuyerID:     req.BuyerID,
		SellerID:    l.SellerID,
		Amount:      l.CreditPrice,
		Status:      StatusPending,
		LastOfferBy: req.BuyerID,
		Message:     strings.TrimSpace(req.Message),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Create(ctx, p); err != nil {
		return nil, err
	}

	metrics.ProposalsTotal.WithLabelValues("created").Inc()
	return p, nil
}

// Get returns a proposal by ID.
func (s *Service) Get(ctx context.Context, id string) (*Proposal, error) {
	return s.store.Get(ctx, id)
}

// Accept transitions a pending proposal into an open exchange. Seller only.
//
// The hold on the buyer's credits and the pending→accepted transition are
// performed by the exchange coordinator in one guarded sequence; if the
// buyer cannot cover the current amount the proposal STAYS pending and
// wallet.ErrInsufficientFunds surfaces to the caller.
func (s *Service) Accept(ctx context.Context, id, actor string) (*Proposal, string, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if p.SellerID != actor {
		return nil, "", fmt.Errorf("%w: only the seller can accept", ErrUnauthorized)
	}
	if p.Status != StatusPending {
		if p.Status.IsTerminal() {
			return nil, "", fmt.Errorf("%w: proposal is %s", ErrNotPending, p.Status)
		}
		return nil, "", ErrNotPending
	}

	exchangeID, err := s.opener.OpenFromProposal(ctx, p)
	if err != nil {
		return nil, "", err
	}

	p.Status = StatusAccepted
	p.UpdatedAt = time.Now()
	metrics.ProposalsTotal.WithLabelValues("accepted").Inc()
	return p, exchangeID, nil
}

// Reject declines the current offer. Only the party the offer is waiting on
// may reject; the offer maker must wait for a response or cancel.
func (s *Service) Reject(ctx context.Context, id, actor, reason string) (*Proposal, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkTurn(p, actor); err != nil {
		return nil, err
	}

	won, err := s.store.Transition(ctx, id, StatusPending, StatusRejected, reason)
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrNotPending
	}

	p.Status = StatusRejected
	p.Reason = reason
	p.UpdatedAt = time.Now()
	metrics.ProposalsTotal.WithLabelValues("rejected").Inc()
	return p, nil
}

// Counter replaces the current offer amount and flips the turn. The
// proposal stays pending. Amounts are bounded by the listed price: counters
// may lower the price, never exceed it.
func (s *Service) Counter(ctx context.Context, id, actor string, amount int64, message string) (*Proposal, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.checkTurn(p, actor); err != nil {
		return nil, err
	}
	if p.CounterRound >= s.maxCounterRound {
		return nil, ErrMaxCounterRounds
	}
	if len(message) > validation.MaxMessageLength {
		return nil, fmt.Errorf("message exceeds %d characters", validation.MaxMessageLength)
	}

	l, err := s.catalog.Get(ctx, p.ListingID)
	if err != nil {
		return nil, err
	}
	if amount < 1 || amount > l.CreditPrice {
		return nil, ErrAmountOutOfRange
	}

	round := p.CounterRound + 1
	if err := s.store.UpdateOffer(ctx, id, amount, actor, strings.TrimSpace(message), round); err != nil {
		return nil, err
	}

	p.Amount = amount
	p.LastOfferBy = actor
	p.CounterRound = round
	p.Message = strings.TrimSpace(message)
	p.UpdatedAt = time.Now()
	metrics.ProposalsTotal.WithLabelValues("countered").Inc()
	return p, nil
}

// Cancel withdraws a pending proposal. Buyer only; no wallet effect because
// no credits are held before acceptance.
func (s *Service) Cancel(ctx context.Context, id, actor string) (*Proposal, error) {
	p, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.BuyerID != actor {
		return nil, fmt.Errorf("%w: only the buyer can cancel", ErrUnauthorized)
	}
	if p.Status != StatusPending {
		return nil, ErrNotPending
	}

	won, err := s.store.Transition(ctx, id, StatusPending, StatusCancelled, "cancelled by buyer")
	if err != nil {
		return nil, err
	}
	if !won {
		return nil, ErrNotPending
	}

	p.Status = StatusCancelled
	p.UpdatedAt = time.Now()
	metrics.ProposalsTotal.WithLabelValues("cancelled").Inc()
	return p, nil
}

// ListByUser returns proposals where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Proposal, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// checkTurn verifies the actor is a party to the proposal, that it is still
// pending, and that the actor is responding to the other side's offer.
func (s *Service) checkTurn(p *Proposal, actor string) error {
	if actor != p.BuyerID && actor != p.SellerID {
		return ErrUnauthorized
	}
	if p.Status != StatusPending {
		return ErrNotPending
	}
	if p.LastOfferBy == actor {
		return ErrNotYourTurn
	}
	return nil
}
