// Package notify pushes completed-trade events to the reputation and
// gamification service. Delivery is fire-and-forget with HMAC signing;
// a notification failure must never affect settlement.
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/baratto/baratto/internal/circuitbreaker"
	"github.com/baratto/baratto/internal/exchange"
	"github.com/baratto/baratto/internal/idgen"
	"github.com/baratto/baratto/internal/metrics"
	"github.com/baratto/baratto/internal/retry"
)

const (
	sendTimeout = 10 * time.Second
	maxAttempts = 3
	retryDelay  = time.Second

	// breakerKey identifies the single reputation endpoint in the breaker.
	breakerKey = "reputation"
)

// Event is the payload posted to the reputation service.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Notifier posts trade lifecycle events to a single configured endpoint.
// A nil Notifier is valid and drops every event.
type Notifier struct {
	url     string
	secret  string
	client  *http.Client
	breaker *circuitbreaker.Breaker
	logger  *slog.Logger
}

// New creates a notifier. Returns nil when no URL is configured, which
// callers treat as notifications disabled.
func New(url, secret string, logger *slog.Logger) *Notifier {
	if url == "" {
		return nil
	}
	return &Notifier{
		url:     url,
		secret:  secret,
		client:  &http.Client{Timeout: sendTimeout},
		breaker: circuitbreaker.New(5, 30*time.Second),
		logger:  logger,
	}
}

// TradeCompleted emits an exchange.completed event. Returns immediately;
// delivery happens in the background with bounded retries.
func (n *Notifier) TradeCompleted(_ context.Context, e *exchange.Exchange) {
	if n == nil {
		return
	}
	event := &Event{
		ID:        idgen.WithPrefix("evt_"),
		Type:      "exchange.completed",
		Timestamp: time.Now(),
		Data: map[string]any{
			"exchangeId": e.ID,
			"proposalId": e.ProposalID,
			"buyerId":    e.BuyerID,
			"sellerId":   e.SellerID,
			"amount":     e.Amount,
		},
	}
	go n.deliver(event)
}

func (n *Notifier) deliver(event *Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		n.logger.Warn("failed to marshal notification", "eventId", event.ID, "error", err)
		return
	}

	if !n.breaker.Allow(breakerKey) {
		metrics.NotificationsTotal.WithLabelValues("dropped").Inc()
		n.logger.Debug("notification dropped, endpoint circuit open", "eventId", event.ID)
		return
	}

	err = retry.Do(context.Background(), maxAttempts, retryDelay, func() error {
		return n.post(event, payload)
	})
	if err == nil {
		n.breaker.RecordSuccess(breakerKey)
		metrics.NotificationsTotal.WithLabelValues("delivered").Inc()
		return
	}

	n.breaker.RecordFailure(breakerKey)
	metrics.NotificationsTotal.WithLabelValues("failed").Inc()
	n.logger.Warn("notification delivery failed",
		"eventId", event.ID, "type", event.Type, "attempts", maxAttempts, "error", err)
}

func (n *Notifier) post(event *Event, payload []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Baratto-Event", event.Type)
	req.Header.Set("X-Baratto-Timestamp", fmt.Sprintf("%d", event.Timestamp.Unix()))
	if n.secret != "" {
		req.Header.Set("X-Baratto-Signature", sign(payload, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}

func sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
