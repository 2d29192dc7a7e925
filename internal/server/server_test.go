package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/baratto/baratto/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:          "0",
		Env:           "development",
		LogLevel:      "error",
		ProposalTTL:   72 * time.Hour,
		ExchangeTTL:   48 * time.Hour,
		SweepInterval: time.Minute,
		RateLimitRPM:  10000,
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig())
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	return s
}

// do issues a request against the router as the given actor.
func do(t *testing.T, s *Server, method, path, actor, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func parse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
	}
	return resp
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/health", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	resp := parse(t, w)
	if resp["status"] != "healthy" {
		t.Errorf("Expected status 'healthy', got %v", resp["status"])
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/health/live", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/health/ready", "", "")

	// Server hasn't called Run() so ready is false
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 (not ready), got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route registration tests
// ---------------------------------------------------------------------------

func TestTradeRoutesRegistered(t *testing.T) {
	s := newTestServer(t)

	routes := s.router.Routes()
	expected := map[string]bool{
		"POST:/v1/listings":              false,
		"GET:/v1/listings/:id":           false,
		"POST:/v1/listings/:id/close":    false,
		"POST:/v1/proposals":             false,
		"POST:/v1/proposals/:id/accept":  false,
		"POST:/v1/proposals/:id/counter": false,
		"POST:/v1/proposals/:id/cancel":  false,
		"GET:/v1/proposals/:id/messages": false,
		"POST:/v1/exchanges/:id/confirm": false,
		"POST:/v1/exchanges/:id/cancel":  false,
		"GET:/v1/wallets/:id":            false,
		"GET:/v1/wallets/:id/ledger":     false,
		"GET:/v1/users/:id/proposals":    false,
		"GET:/v1/users/:id/exchanges":    false,
	}

	for _, route := range routes {
		key := route.Method + ":" + route.Path
		if _, ok := expected[key]; ok {
			expected[key] = true
		}
	}

	for route, found := range expected {
		if !found {
			t.Errorf("Route %s not registered", route)
		}
	}
}

// ---------------------------------------------------------------------------
// Actor header tests
// ---------------------------------------------------------------------------

func TestInvalidActorHeaderRejected(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/v1/wallets/usr_1", "not a valid id!", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad actor header, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// End-to-end trade over HTTP
// ---------------------------------------------------------------------------

func TestFullTradeOverHTTP(t *testing.T) {
	s := newTestServer(t)

	// Seed the buyer's wallet
	w := do(t, s, "POST", "/v1/wallets/buyer_1/credit", "buyer_1",
		`{"amount":100,"type":"bonus","ref":"signup_1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("credit failed: %d %s", w.Code, w.Body.String())
	}

	// Seller posts a listing
	w = do(t, s, "POST", "/v1/listings", "seller_1",
		`{"title":"Sourdough starter","creditPrice":40}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create listing failed: %d %s", w.Code, w.Body.String())
	}
	listingID := parse(t, w)["id"].(string)

	// Buyer proposes
	w = do(t, s, "POST", "/v1/proposals", "buyer_1",
		`{"listingId":"`+listingID+`","message":"interested"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create proposal failed: %d %s", w.Code, w.Body.String())
	}
	proposalID := parse(t, w)["id"].(string)

	// Parties can talk while the proposal is pending
	w = do(t, s, "POST", "/v1/proposals/"+proposalID+"/messages", "seller_1",
		`{"text":"can ship this week"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("post message failed: %d %s", w.Code, w.Body.String())
	}

	// Seller accepts; credits go on hold and an exchange opens
	w = do(t, s, "POST", "/v1/proposals/"+proposalID+"/accept", "seller_1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("accept failed: %d %s", w.Code, w.Body.String())
	}
	exchangeID := parse(t, w)["exchangeId"].(string)

	w = do(t, s, "GET", "/v1/wallets/buyer_1", "buyer_1", "")
	bal := parse(t, w)
	if bal["available"].(float64) != 60 || bal["held"].(float64) != 40 {
		t.Fatalf("after accept: available=%v held=%v, want 60/40", bal["available"], bal["held"])
	}

	// Both parties confirm; held credits settle to the seller
	w = do(t, s, "POST", "/v1/exchanges/"+exchangeID+"/confirm", "buyer_1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("buyer confirm failed: %d %s", w.Code, w.Body.String())
	}
	w = do(t, s, "POST", "/v1/exchanges/"+exchangeID+"/confirm", "seller_1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("seller confirm failed: %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, "GET", "/v1/exchanges/"+exchangeID, "buyer_1", "")
	if state := parse(t, w)["state"]; state != "completed" {
		t.Errorf("exchange state = %v, want completed", state)
	}

	w = do(t, s, "GET", "/v1/wallets/seller_1", "seller_1", "")
	bal = parse(t, w)
	if bal["available"].(float64) != 40 {
		t.Errorf("seller available = %v, want 40", bal["available"])
	}

	w = do(t, s, "GET", "/v1/wallets/buyer_1", "buyer_1", "")
	bal = parse(t, w)
	if bal["available"].(float64) != 60 || bal["held"].(float64) != 0 {
		t.Errorf("buyer balance = %v/%v, want 60/0", bal["available"], bal["held"])
	}
}

func TestCounterOverHTTP(t *testing.T) {
	s := newTestServer(t)

	do(t, s, "POST", "/v1/wallets/buyer_1/credit", "buyer_1",
		`{"amount":100,"type":"bonus","ref":"signup_1"}`)

	w := do(t, s, "POST", "/v1/listings", "seller_1",
		`{"title":"Bike tune-up","creditPrice":50}`)
	listingID := parse(t, w)["id"].(string)

	w = do(t, s, "POST", "/v1/proposals", "buyer_1",
		`{"listingId":"`+listingID+`"}`)
	proposalID := parse(t, w)["id"].(string)

	// Seller counters below the listed price
	w = do(t, s, "POST", "/v1/proposals/"+proposalID+"/counter", "seller_1",
		`{"amount":45}`)
	if w.Code != http.StatusOK {
		t.Fatalf("counter failed: %d %s", w.Code, w.Body.String())
	}
	resp := parse(t, w)
	if resp["amount"].(float64) != 45 {
		t.Errorf("amount = %v, want 45", resp["amount"])
	}

	// Buyer cannot counter out of turn twice in a row; the seller just
	// offered, so the buyer responds, then another seller response works.
	w = do(t, s, "POST", "/v1/proposals/"+proposalID+"/counter", "seller_1",
		`{"amount":44}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("out-of-turn counter: got %d, want 403", w.Code)
	}

	// Accepting after a counter holds the countered amount
	w = do(t, s, "POST", "/v1/proposals/"+proposalID+"/accept", "seller_1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("accept failed: %d %s", w.Code, w.Body.String())
	}

	w = do(t, s, "GET", "/v1/wallets/buyer_1", "buyer_1", "")
	bal := parse(t, w)
	if bal["held"].(float64) != 45 {
		t.Errorf("held = %v, want 45", bal["held"])
	}
}

func TestProposalWithoutActorRejected(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "POST", "/v1/listings", "seller_1",
		`{"title":"Firewood","creditPrice":10}`)
	listingID := parse(t, w)["id"].(string)

	// No X-Actor-ID header; the service rejects the anonymous buyer
	w = do(t, s, "POST", "/v1/proposals", "",
		`{"listingId":"`+listingID+`"}`)
	if w.Code == http.StatusCreated {
		t.Errorf("expected anonymous proposal to fail, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// 404 test
// ---------------------------------------------------------------------------

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := do(t, s, "GET", "/v1/nonexistent", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}
