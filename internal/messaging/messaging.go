// Package messaging provides the per-proposal conversation between buyer
// and seller. Posting is gated on the trade still being live: once the
// proposal or its exchange reaches a terminal state the conversation is
// read-only.
package messaging

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/baratto/baratto/internal/validation"
)

var (
	ErrConversationClosed = errors.New("conversation is closed")
	ErrEmptyMessage       = errors.New("message text is required")
	ErrMessageTooLong     = errors.New("message text too long")
)

// Message is one chat message on a proposal's conversation.
type Message struct {
	ID         string    `json:"id"`
	ProposalID string    `json:"proposalId"`
	SenderID   string    `json:"senderId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Gate decides whether a proposal's conversation is still open. The
// exchange coordinator implements it.
type Gate interface {
	CanMessage(ctx context.Context, proposalID string) (bool, error)
}

// Store persists messages.
type Store interface {
	Append(ctx context.Context, m *Message) error
	ListByProposal(ctx context.Context, proposalID string, limit int) ([]*Message, error)
}

// Service posts and reads conversation messages.
type Service struct {
	store Store
	gate  Gate
}

// NewService creates a new messaging service.
func NewService(store Store, gate Gate) *Service {
	return &Service{store: store, gate: gate}
}

// Post appends a message to a proposal's conversation if it is still open.
func (s *Service) Post(ctx context.Context, proposalID, senderID, text string) (*Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	if len(text) > validation.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	open, err := s.gate.CanMessage(ctx, proposalID)
	if err != nil {
		return nil, err
	}
	if !open {
		return nil, ErrConversationClosed
	}

	m := &Message{
		ProposalID: proposalID,
		SenderID:   senderID,
		Text:       validation.SanitizeText(text, validation.MaxMessageLength),
		CreatedAt:  time.Now(),
	}
	if err := s.store.Append(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// List returns a proposal's messages, oldest first. Reading stays allowed
// after the conversation closes.
func (s *Service) List(ctx context.Context, proposalID string, limit int) ([]*Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 100
	}
	return s.store.ListByProposal(ctx, proposalID, limit)
}
