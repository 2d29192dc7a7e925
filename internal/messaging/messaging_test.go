package messaging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubGate answers CanMessage from a fixed map.
type stubGate struct {
	open map[string]bool
}

func (g *stubGate) CanMessage(_ context.Context, proposalID string) (bool, error) {
	return g.open[proposalID], nil
}

func TestPost_OpenConversation(t *testing.T) {
	gate := &stubGate{open: map[string]bool{"prp_1": true}}
	svc := NewService(NewMemoryStore(), gate)

	m, err := svc.Post(context.Background(), "prp_1", "buyer", "is this still available?")
	require.NoError(t, err)
	assert.Equal(t, "prp_1", m.ProposalID)
	assert.Equal(t, "buyer", m.SenderID)
	assert.NotEmpty(t, m.ID)
}

func TestPost_ClosedConversation(t *testing.T) {
	gate := &stubGate{open: map[string]bool{"prp_1": false}}
	svc := NewService(NewMemoryStore(), gate)

	_, err := svc.Post(context.Background(), "prp_1", "buyer", "hello?")
	assert.ErrorIs(t, err, ErrConversationClosed)
}

func TestPost_Validation(t *testing.T) {
	gate := &stubGate{open: map[string]bool{"prp_1": true}}
	svc := NewService(NewMemoryStore(), gate)

	_, err := svc.Post(context.Background(), "prp_1", "buyer", "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	_, err = svc.Post(context.Background(), "prp_1", "buyer", strings.Repeat("x", 2001))
	assert.ErrorIs(t, err, ErrMessageTooLong)
}

func TestPost_SanitizesText(t *testing.T) {
	gate := &stubGate{open: map[string]bool{"prp_1": true}}
	svc := NewService(NewMemoryStore(), gate)

	m, err := svc.Post(context.Background(), "prp_1", "buyer", "  deal\x00 at noon  ")
	require.NoError(t, err)
	assert.Equal(t, "deal at noon", m.Text)
}

func TestList_ReadableAfterClose(t *testing.T) {
	gate := &stubGate{open: map[string]bool{"prp_1": true}}
	svc := NewService(NewMemoryStore(), gate)
	ctx := context.Background()

	_, err := svc.Post(ctx, "prp_1", "buyer", "first")
	require.NoError(t, err)
	_, err = svc.Post(ctx, "prp_1", "seller", "second")
	require.NoError(t, err)

	// Conversation closes; history stays readable.
	gate.open["prp_1"] = false

	messages, err := svc.List(ctx, "prp_1", 10)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "first", messages[0].Text)
	assert.Equal(t, "second", messages[1].Text)
}

func TestList_Empty(t *testing.T) {
	svc := NewService(NewMemoryStore(), &stubGate{open: map[string]bool{}})

	messages, err := svc.List(context.Background(), "prp_none", 10)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
