package exchange

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ProposalAccepter applies the guarded pending→accepted transition on a
// proposal. The amount is the offer the accept path read; the transition
// fails if a counter-offer changed it in between. The proposal package's
// memory store implements it; the postgres store does the equivalent inside
// CreateFromProposal's transaction.
type ProposalAccepter interface {
	MarkAccepted(id string, amount int64) bool
}

// MemoryStore implements Store with in-memory maps for development and tests.
type MemoryStore struct {
	mu         sync.RWMutex
	exchanges  map[string]*Exchange
	byProposal map[string]string
	proposals  ProposalAccepter
}

// NewMemoryStore creates a new in-memory exchange store. The accepter links
// it to the proposal store so that opening an exchange and accepting the
// proposal stay one decision, as they are in postgres.
func NewMemoryStore(proposals ProposalAccepter) *MemoryStore {
	return &MemoryStore{
		exchanges:  make(map[string]*Exchange),
		byProposal: make(map[string]string),
		proposals:  proposals,
	}
}

func (m *MemoryStore) CreateFromProposal(_ context.Context, e *Exchange) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proposals != nil && !m.proposals.MarkAccepted(e.ProposalID, e.Amount) {
		return ErrProposalTaken
	}
	cp := *e
	m.exchanges[e.ID] = &cp
	m.byProposal[e.ProposalID] = e.ID
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.get(id)
}

func (m *MemoryStore) GetByProposal(_ context.Context, proposalID string) (*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byProposal[proposalID]
	if !ok {
		return nil, ErrNotFound
	}
	return m.get(id)
}

func (m *MemoryStore) Confirm(_ context.Context, id string, role Role) (*Exchange, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.exchanges[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if e.State != StateActive {
		return nil, false, ErrNotActive
	}

	switch role {
	case RoleBuyer:
		e.ConfirmBuyer = true
	case RoleSeller:
		e.ConfirmSeller = true
	}

	won := false
	if e.ConfirmBuyer && e.ConfirmSeller {
		now := time.Now()
		e.State = StateCompleted
		e.CompletedAt = &now
		won = true
	}

	cp := *e
	return &cp, won, nil
}

func (m *MemoryStore) Terminate(_ context.Context, id string, to State, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.exchanges[id]
	if !ok {
		return false, ErrNotFound
	}
	if e.State != StateActive {
		return false, nil
	}
	e.State = to
	e.Reason = reason
	return true, nil
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Exchange
	for _, e := range m.exchanges {
		if e.BuyerID == userID || e.SellerID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AcceptedAt.After(out[j].AcceptedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListExpired(_ context.Context, now time.Time, limit int) ([]*Exchange, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Exchange
	for _, e := range m.exchanges {
		if e.State == StateActive && now.After(e.ExpiresAt) {
			cp := *e
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// CountOverdueActive counts exchanges still active past their expiry as of
// the given instant. The sweeper should have resolved these already.
func (m *MemoryStore) CountOverdueActive(_ context.Context, asOf time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	for _, e := range m.exchanges {
		if e.State == StateActive && e.ExpiresAt.Before(asOf) {
			n++
		}
	}
	return n, nil
}

// get returns a copy. Caller must hold at least the read lock.
func (m *MemoryStore) get(id string) (*Exchange, error) {
	e, ok := m.exchanges[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *e
	return &cp, nil
}

var _ Store = (*MemoryStore)(nil)
