package proposal

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/baratto/baratto/internal/idgen"
)

// MemoryStore implements Store with in-memory maps for development and tests.
type MemoryStore struct {
	mu        sync.RWMutex
	proposals map[string]*Proposal
}

// NewMemoryStore creates a new in-memory proposal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{proposals: make(map[string]*Proposal)}
}

func (m *MemoryStore) Create(_ context.Context, p *Proposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if p.ID == "" {
		p.ID = idgen.WithPrefix("prp_")
	}
	cp := *p
	m.proposals[p.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) HasOpen(_ context.Context, listingID, buyerID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, p := range m.proposals {
		if p.ListingID == listingID && p.BuyerID == buyerID && !p.Status.IsTerminal() {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryStore) UpdateOffer(_ context.Context, id string, amount int64, offerBy, message string, round int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return ErrNotFound
	}
	if p.Status != StatusPending {
		return ErrNotPending
	}
	p.Amount = amount
	p.LastOfferBy = offerBy
	p.Message = message
	p.CounterRound = round
	p.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, from, to Status, reason string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok {
		return false, ErrNotFound
	}
	if p.Status != from {
		return false, nil
	}
	p.Status = to
	p.Reason = reason
	p.UpdatedAt = time.Now()
	return true, nil
}

// MarkAccepted applies a guarded pending→accepted transition. The exchange
// coordinator's memory store calls this while opening an exchange so both
// writes happen under one decision point, mirroring the single postgres
// transaction. The amount guard rejects an accept whose offer was countered
// after the accept path read it.
func (m *MemoryStore) MarkAccepted(id string, amount int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.proposals[id]
	if !ok || p.Status != StatusPending || p.Amount != amount {
		return false
	}
	p.Status = StatusAccepted
	p.UpdatedAt = time.Now()
	return true
}

func (m *MemoryStore) ListByUser(_ context.Context, userID string, limit int) ([]*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Proposal
	for _, p := range m.proposals {
		if p.BuyerID == userID || p.SellerID == userID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ListStale(_ context.Context, olderThan time.Time, limit int) ([]*Proposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Proposal
	for _, p := range m.proposals {
		if p.Status == StatusPending && p.UpdatedAt.Before(olderThan) {
			cp := *p
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
