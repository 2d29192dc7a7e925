// Package wallet owns user credit balances for the barter marketplace.
//
// Flow:
//  1. A user earns credits (bonus, purchase) → available balance grows
//  2. A trade is accepted → buyer credits move: available → held (escrow)
//  3. Both parties confirm → buyer's held credits settle to seller's available
//  4. Trade cancelled or expired → held credits return to buyer's available
//
// Balances are mutated only through the primitives here; proposal and
// exchange code never write balance fields directly. Every mutation appends
// ledger entries, and every mutating call carries a reference key so that
// retries of the same operation are no-ops instead of double-applies.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/baratto/baratto/internal/pagination"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient available balance")
	ErrInvariantViolation = errors.New("wallet invariant violation")
	ErrInvalidAmount      = errors.New("amount must be a positive number of credits")
	ErrInvalidEntryType   = errors.New("unsupported ledger entry type")
)

// Account names the balance bucket a ledger entry applies to.
type Account string

const (
	AccountAvailable Account = "available"
	AccountHeld      Account = "held"
)

// Ledger entry type codes.
const (
	EntryEscrowHold    = "escrow_hold"
	EntryEscrowRelease = "escrow_release"
	EntryEscrowSettle  = "escrow_settle"
	EntryPurchase      = "purchase"
	EntryBonus         = "bonus"
)

// Balance is a user's wallet snapshot. Credits are integral; both buckets
// are non-negative at all times.
type Balance struct {
	UserID    string    `json:"userId"`
	Available int64     `json:"available"`
	Held      int64     `json:"held"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Total returns the user's combined balance across both buckets.
func (b *Balance) Total() int64 {
	return b.Available + b.Held
}

// Entry is an append-only record of one balance-bucket mutation. Entries are
// never updated or deleted; they are the audit trail. The sum of signed
// amounts over all of a user's entries equals available+held.
type Entry struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	Account        Account   `json:"account"`
	Amount         int64     `json:"amount"` // signed
	BalanceBefore  int64     `json:"balanceBefore"`
	BalanceAfter   int64     `json:"balanceAfter"`
	Type           string    `json:"type"`
	RefType        string    `json:"refType,omitempty"`
	RefID          string    `json:"refId,omitempty"`
	IdempotencyKey string    `json:"-"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Ref identifies the operation that caused a balance mutation. It doubles as
// the idempotency key: replaying a call with the same Ref is a no-op.
type Ref struct {
	Type string // "proposal", "exchange", "grant"
	ID   string
	Op   string // "hold", "release", "settle", "credit"
}

// Key returns the idempotency key for this reference.
func (r Ref) Key() string {
	return r.Type + ":" + r.ID + ":" + r.Op
}

// Store persists wallet balances and ledger entries. Every mutating method
// is a single atomic transaction: the balance check, the balance write, and
// the ledger append all commit or none do. Implementations must treat a
// previously seen idempotency key as an applied operation and return nil
// without re-applying.
type Store interface {
	Balance(ctx context.Context, userID string) (*Balance, error)
	Hold(ctx context.Context, userID string, amount int64, ref Ref) error
	Release(ctx context.Context, userID string, amount int64, ref Ref) error
	Settle(ctx context.Context, fromUser, toUser string, amount int64, ref Ref) error
	Credit(ctx context.Context, userID string, amount int64, entryType string, ref Ref) error
	History(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error)
}

// Service exposes the wallet primitives with argument validation.
type Service struct {
	store Store
}

// New creates a new wallet service.
func New(store Store) *Service {
	return &Service{store: store}
}

// Balance returns a user's current balance.
func (s *Service) Balance(ctx context.Context, userID string) (*Balance, error) {
	return s.store.Balance(ctx, userID)
}

// Hold moves credits from a buyer's available balance into escrow.
// Fails with ErrInsufficientFunds when available < amount; the check and the
// move happen in the same store transaction, never as check-then-act.
func (s *Service) Hold(ctx context.Context, userID string, amount int64, ref Ref) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.store.Hold(ctx, userID, amount, ref)
}

// Release returns escrowed credits to the buyer's available balance.
// A held balance smaller than amount means a caller bug or corrupted state;
// it surfaces as ErrInvariantViolation and must not be retried.
func (s *Service) Release(ctx context.Context, userID string, amount int64, ref Ref) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return s.store.Release(ctx, userID, amount, ref)
}

// Settle moves escrowed credits from the buyer to the seller's available
// balance in one transaction: there is no moment where the credits exist in
// neither wallet or in both. Writes two ledger entries, a debit-from-hold on
// the buyer and a credit on the seller.
func (s *Service) Settle(ctx context.Context, fromUser, toUser string, amount int64, ref Ref) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if fromUser == toUser {
		return fmt.Errorf("%w: settle requires two distinct wallets", ErrInvariantViolation)
	}
	return s.store.Settle(ctx, fromUser, toUser, amount, ref)
}

// Credit adds credits to a user's available balance (bonus grants, credit
// pack purchases). entryType must be one of the ledger type codes.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, entryType string, ref Ref) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if entryType != EntryBonus && entryType != EntryPurchase {
		return fmt.Errorf("%w: %q", ErrInvalidEntryType, entryType)
	}
	return s.store.Credit(ctx, userID, amount, entryType, ref)
}

// History returns a user's ledger entries newest first. A non-nil cursor
// restricts the page to entries older than the cursor position.
func (s *Service) History(ctx context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.History(ctx, userID, before, limit)
}
