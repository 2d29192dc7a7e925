package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baratto/baratto/internal/exchange"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testExchange() *exchange.Exchange {
	return &exchange.Exchange{
		ID:         "exc_1",
		ProposalID: "prp_1",
		BuyerID:    "buyer",
		SellerID:   "seller",
		Amount:     40,
	}
}

func TestTradeCompleted_DeliversSignedEvent(t *testing.T) {
	var mu sync.Mutex
	var gotBody []byte
	var gotSig, gotEvent string
	received := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotBody = body
		gotSig = r.Header.Get("X-Baratto-Signature")
		gotEvent = r.Header.Get("X-Baratto-Event")
		mu.Unlock()
		received <- struct{}{}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := New(srv.URL, "topsecret", discardLogger())
	require.NotNil(t, n)

	n.TradeCompleted(context.Background(), testExchange())

	select {
	case <-received:
	case <-time.After(5 * time.Second):
		t.Fatal("notification never arrived")
	}

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, "exchange.completed", gotEvent)

	var event Event
	require.NoError(t, json.Unmarshal(gotBody, &event))
	assert.Equal(t, "exchange.completed", event.Type)
	assert.Equal(t, "exc_1", event.Data["exchangeId"])
	assert.Equal(t, "seller", event.Data["sellerId"])

	h := hmac.New(sha256.New, []byte("topsecret"))
	h.Write(gotBody)
	assert.Equal(t, hex.EncodeToString(h.Sum(nil)), gotSig)
}

func TestTradeCompleted_RetriesOnServerError(t *testing.T) {
	var mu sync.Mutex
	attempts := 0
	done := make(chan struct{}, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n < 2 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		done <- struct{}{}
	}))
	defer srv.Close()

	n := New(srv.URL, "", discardLogger())
	n.TradeCompleted(context.Background(), testExchange())

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("retry never succeeded")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, attempts)
}

func TestNew_NoURLDisablesNotifier(t *testing.T) {
	n := New("", "secret", discardLogger())
	assert.Nil(t, n)

	// A nil notifier silently drops events.
	n.TradeCompleted(context.Background(), testExchange())
}
