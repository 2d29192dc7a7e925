// Package exchange coordinates the escrow phase of an accepted trade.
//
// Flow:
//  1. A seller accepts a proposal → buyer credits are held and an exchange
//     opens in state active (hold and open are one guarded sequence)
//  2. Both parties confirm the trade happened → held credits settle to the
//     seller, exchange completes
//  3. Either party cancels, or the deadline passes → held credits return to
//     the buyer
//
// Every terminal transition is a guarded store update: concurrent confirms,
// cancels, and sweeps race for it and exactly one caller wins. Funds move
// only after the transition commits, keyed on the exchange ID, so a retried
// or replayed call can never settle or release twice.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baratto/baratto/internal/idgen"
	"github.com/baratto/baratto/internal/logging"
	"github.com/baratto/baratto/internal/metrics"
	"github.com/baratto/baratto/internal/proposal"
	"github.com/baratto/baratto/internal/wallet"
)

var (
	ErrNotFound        = errors.New("exchange not found")
	ErrUnauthorized    = errors.New("not a party to this exchange")
	ErrAlreadyTerminal = errors.New("exchange already cancelled or expired")
	ErrNotActive       = errors.New("exchange is not active")

	// ErrProposalTaken wraps proposal.ErrNotPending so the proposal
	// handlers map a lost accept race to the same conflict response.
	ErrProposalTaken = fmt.Errorf("%w: offer changed or already resolved", proposal.ErrNotPending)
)

// DefaultTTL is how long an exchange stays active before the sweeper
// expires it.
const DefaultTTL = 48 * time.Hour

// State represents the lifecycle state of an exchange.
type State string

const (
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StateExpired   State = "expired"
)

// IsTerminal returns true if the state is final.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateExpired
}

// Role identifies which side of the exchange an actor is on.
type Role string

const (
	RoleBuyer  Role = "buyer"
	RoleSeller Role = "seller"
)

// Exchange is the escrow phase of one accepted proposal. Confirmation flags
// only ever go false→true; completion requires both.
type Exchange struct {
	ID            string     `json:"id"`
	ProposalID    string     `json:"proposalId"`
	BuyerID       string     `json:"buyerId"`
	SellerID      string     `json:"sellerId"`
	Amount        int64      `json:"amount"`
	State         State      `json:"state"`
	ConfirmBuyer  bool       `json:"confirmBuyer"`
	ConfirmSeller bool       `json:"confirmSeller"`
	Reason        string     `json:"reason,omitempty"`
	AcceptedAt    time.Time  `json:"acceptedAt"`
	ExpiresAt     time.Time  `json:"expiresAt"`
	CompletedAt   *time.Time `json:"completedAt,omitempty"`
}

// Store persists exchanges.
//
// CreateFromProposal must apply the guarded proposal pending→accepted
// transition and the exchange insert as one atomic decision, returning
// ErrProposalTaken when the proposal was no longer pending. Confirm must
// set the role's flag and, when both flags are set while the row is still
// active, transition to completed in the same step; the returned bool
// reports whether this call performed that transition.
type Store interface {
	CreateFromProposal(ctx context.Context, e *Exchange) error
	Get(ctx context.Context, id string) (*Exchange, error)
	GetByProposal(ctx context.Context, proposalID string) (*Exchange, error)
	Confirm(ctx context.Context, id string, role Role) (*Exchange, bool, error)
	Terminate(ctx context.Context, id string, to State, reason string) (bool, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]*Exchange, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Exchange, error)
}

// WalletService is the slice of the wallet the coordinator needs.
type WalletService interface {
	Hold(ctx context.Context, userID string, amount int64, ref wallet.Ref) error
	Release(ctx context.Context, userID string, amount int64, ref wallet.Ref) error
	Settle(ctx context.Context, fromUser, toUser string, amount int64, ref wallet.Ref) error
}

// CompletionNotifier receives completed-trade events for reputation and
// gamification. Calls must never block or fail settlement.
type CompletionNotifier interface {
	TradeCompleted(ctx context.Context, e *Exchange)
}

// ProposalReader looks up proposal state for the messaging gate.
type ProposalReader interface {
	Get(ctx context.Context, id string) (*proposal.Proposal, error)
}

// Service coordinates exchanges between the proposal manager and the wallet.
type Service struct {
	store     Store
	wallet    WalletService
	proposals ProposalReader
	notifier  CompletionNotifier
	ttl       time.Duration
}

// NewService creates a new exchange coordinator.
func NewService(store Store, walletSvc WalletService, proposals ProposalReader) *Service {
	return &Service{
		store:     store,
		wallet:    walletSvc,
		proposals: proposals,
		ttl:       DefaultTTL,
	}
}

// WithNotifier attaches a completion notifier.
func (s *Service) WithNotifier(n CompletionNotifier) *Service {
	s.notifier = n
	return s
}

// WithTTL overrides the active-exchange deadline.
func (s *Service) WithTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.ttl = ttl
	}
	return s
}

// OpenFromProposal holds the buyer's credits and opens an exchange for an
// accepted proposal. Implements the proposal manager's ExchangeOpener.
//
// Order matters: the hold happens first, then the store applies the guarded
// proposal transition and the insert atomically. If the guard fails (the
// proposal was cancelled, expired, accepted by a concurrent call, or its
// offer changed) the hold is compensated with an idempotent release and the
// conflict surfaces. If the hold itself fails nothing has changed and the
// proposal stays pending.
//
// The hold and its compensating release are keyed by the exchange ID, which
// is fresh per attempt. A retried accept therefore places a new hold rather
// than replaying a key whose hold was already compensated away.
func (s *Service) OpenFromProposal(ctx context.Context, p *proposal.Proposal) (string, error) {
	now := time.Now()
	e := &Exchange{
		ID:         idgen.WithPrefix("exc_"),
		ProposalID: p.ID,
		BuyerID:    p.BuyerID,
		SellerID:   p.SellerID,
		Amount:     p.Amount,
		State:      StateActive,
		AcceptedAt: now,
		ExpiresAt:  now.Add(s.ttl),
	}

	holdRef := wallet.Ref{Type: "exchange", ID: e.ID, Op: "hold"}
	if err := s.wallet.Hold(ctx, p.BuyerID, p.Amount, holdRef); err != nil {
		return "", err
	}

	if err := s.store.CreateFromProposal(ctx, e); err != nil {
		releaseRef := wallet.Ref{Type: "exchange", ID: e.ID, Op: "release"}
		if relErr := s.wallet.Release(ctx, p.BuyerID, p.Amount, releaseRef); relErr != nil {
			logging.L(ctx).Error("CRITICAL: failed to release hold after open conflict",
				"proposalId", p.ID, "buyer", p.BuyerID, "amount", p.Amount, "error", relErr)
		}
		return "", err
	}

	metrics.ExchangesTotal.WithLabelValues("opened").Inc()
	logging.L(ctx).Info("exchange opened",
		"exchangeId", e.ID, "proposalId", p.ID,
		"buyer", p.BuyerID, "seller", p.SellerID, "amount", p.Amount)
	return e.ID, nil
}

// Get returns an exchange by ID.
func (s *Service) Get(ctx context.Context, id string) (*Exchange, error) {
	return s.store.Get(ctx, id)
}

// Confirm records that one party confirms the trade happened. When both
// parties have confirmed, the exchange completes and the held credits
// settle to the seller.
//
// Confirming twice, or confirming an already completed exchange, succeeds
// without moving credits again. Confirming a cancelled or expired exchange
// returns ErrAlreadyTerminal.
func (s *Service) Confirm(ctx context.Context, id, actor string) (*Exchange, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	role, err := e.roleOf(actor)
	if err != nil {
		return nil, err
	}
	if e.State.IsTerminal() {
		if e.State == StateCompleted {
			// The completion transition and the funds move are separate
			// commits, so a crash between them leaves credits stranded in
			// escrow. Re-driving the keyed settle repairs that; when the
			// funds already moved it is a no-op.
			settleRef := wallet.Ref{Type: "exchange", ID: e.ID, Op: "settle"}
			if serr := s.wallet.Settle(ctx, e.BuyerID, e.SellerID, e.Amount, settleRef); serr != nil {
				logging.L(ctx).Warn("settle re-drive on completed exchange failed",
					"exchangeId", e.ID, "error", serr)
			}
			return e, nil
		}
		return nil, fmt.Errorf("%w: exchange is %s", ErrAlreadyTerminal, e.State)
	}

	e, won, err := s.store.Confirm(ctx, id, role)
	if errors.Is(err, ErrNotActive) {
		// Lost a race against cancel, expire, or the other confirm path.
		fresh, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if fresh.State == StateCompleted {
			return fresh, nil
		}
		return nil, fmt.Errorf("%w: exchange is %s", ErrAlreadyTerminal, fresh.State)
	}
	if err != nil {
		return nil, err
	}

	if !won {
		return e, nil
	}

	// This call won the active→completed transition; it alone settles.
	settleRef := wallet.Ref{Type: "exchange", ID: e.ID, Op: "settle"}
	if err := s.settleWithRetry(ctx, e, settleRef); err != nil {
		logging.L(ctx).Error("CRITICAL: exchange completed but settle failed",
			"exchangeId", e.ID, "buyer", e.BuyerID, "seller", e.SellerID,
			"amount", e.Amount, "error", err)
		return nil, fmt.Errorf("settle exchange %s: %w", e.ID, err)
	}

	metrics.ExchangesTotal.WithLabelValues("completed").Inc()
	metrics.CreditsSettledTotal.Add(float64(e.Amount))
	metrics.ExchangeDuration.Observe(time.Since(e.AcceptedAt).Seconds())

	if s.notifier != nil {
		s.notifier.TradeCompleted(ctx, e)
	}

	logging.L(ctx).Info("exchange completed",
		"exchangeId", e.ID, "buyer", e.BuyerID, "seller", e.SellerID, "amount", e.Amount)
	return e, nil
}

// Cancel aborts an active exchange and returns the held credits to the
// buyer. Either party may cancel.
func (s *Service) Cancel(ctx context.Context, id, actor, reason string) (*Exchange, error) {
	e, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := e.roleOf(actor); err != nil {
		return nil, err
	}

	won, err := s.store.Terminate(ctx, id, StateCancelled, reason)
	if err != nil {
		return nil, err
	}
	if !won {
		fresh, getErr := s.store.Get(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		return nil, fmt.Errorf("%w: exchange is %s", ErrAlreadyTerminal, fresh.State)
	}

	if err := s.releaseWithRetry(ctx, e); err != nil {
		logging.L(ctx).Error("CRITICAL: exchange cancelled but release failed",
			"exchangeId", e.ID, "buyer", e.BuyerID, "amount", e.Amount, "error", err)
		return nil, fmt.Errorf("release exchange %s: %w", e.ID, err)
	}

	metrics.ExchangesTotal.WithLabelValues("cancelled").Inc()
	metrics.CreditsReleasedTotal.Add(float64(e.Amount))

	logging.L(ctx).Info("exchange cancelled",
		"exchangeId", e.ID, "actor", actor, "reason", reason)
	return s.store.Get(ctx, id)
}

// Expire forces an overdue exchange to expired and releases the hold.
// Called by the sweeper; racing a user confirm or cancel is safe because
// the guarded transition picks one winner.
func (s *Service) Expire(ctx context.Context, e *Exchange) error {
	won, err := s.store.Terminate(ctx, e.ID, StateExpired, "confirmation deadline passed")
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if err := s.releaseWithRetry(ctx, e); err != nil {
		return fmt.Errorf("release expired exchange %s: %w", e.ID, err)
	}

	metrics.ExchangesTotal.WithLabelValues("expired").Inc()
	metrics.CreditsReleasedTotal.Add(float64(e.Amount))
	return nil
}

// ListByUser returns exchanges where the user is buyer or seller.
func (s *Service) ListByUser(ctx context.Context, userID string, limit int) ([]*Exchange, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByUser(ctx, userID, limit)
}

// CanMessage reports whether the conversation attached to a proposal is
// still open: the proposal is pending, or it was accepted and its exchange
// is still active.
func (s *Service) CanMessage(ctx context.Context, proposalID string) (bool, error) {
	p, err := s.proposals.Get(ctx, proposalID)
	if err != nil {
		return false, err
	}
	switch p.Status {
	case proposal.StatusPending:
		return true, nil
	case proposal.StatusAccepted:
		e, err := s.store.GetByProposal(ctx, proposalID)
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return e.State == StateActive, nil
	default:
		return false, nil
	}
}

// Funds move after the terminal transition commits. A transient store or
// network failure here would strand credits in escrow, so one immediate
// retry is attempted before giving up; the idempotency key makes the retry
// safe even if the first attempt actually committed.
func (s *Service) settleWithRetry(ctx context.Context, e *Exchange, ref wallet.Ref) error {
	err := s.wallet.Settle(ctx, e.BuyerID, e.SellerID, e.Amount, ref)
	if err == nil {
		return nil
	}
	logging.L(ctx).Warn("settle failed, retrying once", "exchangeId", e.ID, "error", err)
	return s.wallet.Settle(ctx, e.BuyerID, e.SellerID, e.Amount, ref)
}

func (s *Service) releaseWithRetry(ctx context.Context, e *Exchange) error {
	ref := wallet.Ref{Type: "exchange", ID: e.ID, Op: "release"}
	err := s.wallet.Release(ctx, e.BuyerID, e.Amount, ref)
	if err == nil {
		return nil
	}
	logging.L(ctx).Warn("release failed, retrying once", "exchangeId", e.ID, "error", err)
	return s.wallet.Release(ctx, e.BuyerID, e.Amount, ref)
}

func (e *Exchange) roleOf(actor string) (Role, error) {
	switch actor {
	case e.BuyerID:
		return RoleBuyer, nil
	case e.SellerID:
		return RoleSeller, nil
	}
	return "", ErrUnauthorized
}
