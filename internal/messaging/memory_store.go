package messaging

import (
	"context"
	"sync"

	"github.com/baratto/baratto/internal/idgen"
)

// MemoryStore implements Store with an in-memory map for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string][]*Message // keyed by proposal ID
}

// NewMemoryStore creates a new in-memory message store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{messages: make(map[string][]*Message)}
}

func (m *MemoryStore) Append(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.ID == "" {
		msg.ID = idgen.WithPrefix("msg_")
	}
	cp := *msg
	m.messages[msg.ProposalID] = append(m.messages[msg.ProposalID], &cp)
	return nil
}

func (m *MemoryStore) ListByProposal(_ context.Context, proposalID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[proposalID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]*Message, 0, len(all))
	for _, msg := range all {
		cp := *msg
		out = append(out, &cp)
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
