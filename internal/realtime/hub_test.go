package realtime

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func testClient(sub Subscription) *Client {
	return &Client{sub: sub}
}

func TestWants_AllEvents(t *testing.T) {
	client := testClient(Subscription{AllEvents: true})

	event := &Event{Type: EventExchangeOpened, Timestamp: time.Now()}
	if !client.wants(event) {
		t.Error("AllEvents client should receive all events")
	}
}

func TestWants_EventTypeFilter(t *testing.T) {
	client := testClient(Subscription{
		EventTypes: []EventType{EventProposalCreated, EventExchangeResolved},
	})

	if !client.wants(&Event{Type: EventProposalCreated}) {
		t.Error("should receive proposal.created events")
	}
	if !client.wants(&Event{Type: EventExchangeResolved}) {
		t.Error("should receive exchange.resolved events")
	}
	if client.wants(&Event{Type: EventMessagePosted}) {
		t.Error("should NOT receive message.posted events")
	}
}

func TestWants_UserFilter(t *testing.T) {
	client := testClient(Subscription{UserIDs: []string{"alice"}})

	asBuyer := &Event{
		Type: EventExchangeOpened,
		Data: map[string]any{"buyerId": "alice", "sellerId": "bob"},
	}
	asSeller := &Event{
		Type: EventExchangeOpened,
		Data: map[string]any{"buyerId": "bob", "sellerId": "alice"},
	}
	asSender := &Event{
		Type: EventMessagePosted,
		Data: map[string]any{"senderId": "alice"},
	}
	unrelated := &Event{
		Type: EventExchangeOpened,
		Data: map[string]any{"buyerId": "bob", "sellerId": "carol"},
	}

	if !client.wants(asBuyer) {
		t.Error("should match on buyerId")
	}
	if !client.wants(asSeller) {
		t.Error("should match on sellerId")
	}
	if !client.wants(asSender) {
		t.Error("should match on senderId")
	}
	if client.wants(unrelated) {
		t.Error("should NOT match unrelated users")
	}
}

func TestWants_CombinedFilters(t *testing.T) {
	client := testClient(Subscription{
		EventTypes: []EventType{EventProposalCountered},
		UserIDs:    []string{"alice"},
	})

	match := &Event{
		Type: EventProposalCountered,
		Data: map[string]any{"buyerId": "alice"},
	}
	wrongType := &Event{
		Type: EventProposalCreated,
		Data: map[string]any{"buyerId": "alice"},
	}

	if !client.wants(match) {
		t.Error("should match when both filters pass")
	}
	if client.wants(wrongType) {
		t.Error("should NOT match when the event type filter fails")
	}
}

func TestHub_BroadcastDoesNotBlockWhenFull(t *testing.T) {
	h := NewHub(slog.Default())

	// Nobody is draining the channel; fill it past capacity.
	for i := 0; i < 300; i++ {
		h.Broadcast(EventProposalCreated, map[string]any{"i": i})
	}
}

func TestHub_RunStopsOnContextCancel(t *testing.T) {
	h := NewHub(slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop on context cancel")
	}
}

func TestHub_Stats(t *testing.T) {
	h := NewHub(slog.Default())
	stats := h.Stats()
	if stats["connectedClients"] != 0 {
		t.Errorf("connectedClients = %v, want 0", stats["connectedClients"])
	}
}
