package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/baratto/baratto/internal/idgen"
	"github.com/baratto/baratto/internal/pagination"
)

// MemoryStore implements Store with in-memory maps for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	balances map[string]*Balance
	entries  map[string][]*Entry // keyed by user ID
	applied  map[string]bool     // idempotency keys already committed
}

// NewMemoryStore creates a new in-memory wallet store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances: make(map[string]*Balance),
		entries:  make(map[string][]*Entry),
		applied:  make(map[string]bool),
	}
}

func (m *MemoryStore) Balance(_ context.Context, userID string) (*Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	bal, ok := m.balances[userID]
	if !ok {
		return &Balance{UserID: userID, UpdatedAt: time.Now()}, nil
	}
	cp := *bal
	return &cp, nil
}

func (m *MemoryStore) Hold(_ context.Context, userID string, amount int64, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[ref.Key()] {
		return nil
	}

	bal := m.balance(userID)
	if bal.Available < amount {
		return ErrInsufficientFunds
	}
	bal.Available -= amount
	bal.Held += amount
	bal.UpdatedAt = time.Now()

	m.append(userID, AccountAvailable, -amount, bal.Available, EntryEscrowHold, ref)
	m.append(userID, AccountHeld, amount, bal.Held, EntryEscrowHold, ref)
	m.applied[ref.Key()] = true
	return nil
}

func (m *MemoryStore) Release(_ context.Context, userID string, amount int64, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[ref.Key()] {
		return nil
	}

	bal := m.balance(userID)
	if bal.Held < amount {
		return fmt.Errorf("%w: release %d exceeds held balance of %s", ErrInvariantViolation, amount, userID)
	}
	bal.Held -= amount
	bal.Available += amount
	bal.UpdatedAt = time.Now()

	m.append(userID, AccountHeld, -amount, bal.Held, EntryEscrowRelease, ref)
	m.append(userID, AccountAvailable, amount, bal.Available, EntryEscrowRelease, ref)
	m.applied[ref.Key()] = true
	return nil
}

func (m *MemoryStore) Settle(_ context.Context, fromUser, toUser string, amount int64, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[ref.Key()] {
		return nil
	}

	from := m.balance(fromUser)
	if from.Held < amount {
		return fmt.Errorf("%w: settle %d exceeds held balance of %s", ErrInvariantViolation, amount, fromUser)
	}
	to := m.balance(toUser)

	from.Held -= amount
	from.UpdatedAt = time.Now()
	to.Available += amount
	to.UpdatedAt = time.Now()

	m.append(fromUser, AccountHeld, -amount, from.Held, EntryEscrowSettle, ref)
	m.append(toUser, AccountAvailable, amount, to.Available, EntryEscrowSettle, ref)
	m.applied[ref.Key()] = true
	return nil
}

func (m *MemoryStore) Credit(_ context.Context, userID string, amount int64, entryType string, ref Ref) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.applied[ref.Key()] {
		return nil
	}

	bal := m.balance(userID)
	bal.Available += amount
	bal.UpdatedAt = time.Now()

	m.append(userID, AccountAvailable, amount, bal.Available, entryType, ref)
	m.applied[ref.Key()] = true
	return nil
}

func (m *MemoryStore) History(_ context.Context, userID string, before *pagination.Cursor, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.entries[userID]
	if len(all) == 0 {
		return nil, nil
	}

	// Newest first.
	out := make([]*Entry, 0, limit)
	for i := len(all) - 1; i >= 0 && len(out) < limit; i-- {
		e := all[i]
		if before != nil && !before.After(e.CreatedAt, e.ID) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	return out, nil
}

// SumBalances totals available and held credits across every wallet.
func (m *MemoryStore) SumBalances(_ context.Context) (int64, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var available, held int64
	for _, bal := range m.balances {
		available += bal.Available
		held += bal.Held
	}
	return available, held, nil
}

// SumLedger totals the signed amounts of every ledger entry.
func (m *MemoryStore) SumLedger(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, entries := range m.entries {
		for _, e := range entries {
			total += e.Amount
		}
	}
	return total, nil
}

// balance returns the live balance record for a user, creating it if absent.
// Caller must hold the write lock.
func (m *MemoryStore) balance(userID string) *Balance {
	bal, ok := m.balances[userID]
	if !ok {
		bal = &Balance{UserID: userID, UpdatedAt: time.Now()}
		m.balances[userID] = bal
	}
	return bal
}

// append records a ledger entry. Caller must hold the write lock.
func (m *MemoryStore) append(userID string, account Account, amount, after int64, entryType string, ref Ref) {
	m.entries[userID] = append(m.entries[userID], &Entry{
		ID:             idgen.New(),
		UserID:         userID,
		Account:        account,
		Amount:         amount,
		BalanceBefore:  after - amount,
		BalanceAfter:   after,
		Type:           entryType,
		RefType:        ref.Type,
		RefID:          ref.ID,
		IdempotencyKey: ref.Key(),
		CreatedAt:      time.Now(),
	})
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
