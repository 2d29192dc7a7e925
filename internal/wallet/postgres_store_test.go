//go:build integration

package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/baratto/baratto/internal/testutil"
)

func setupPGStore(t *testing.T) (*PostgresStore, func()) {
	t.Helper()
	db, cleanup := testutil.PGTest(t)
	return NewPostgresStore(db), cleanup
}

func TestPostgres_CreditAndBalance(t *testing.T) {
	store, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()

	err := store.Credit(ctx, "usr_pg1", 100, EntryBonus, Ref{Type: "grant", ID: "g1", Op: "credit"})
	if err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	bal, err := store.Balance(ctx, "usr_pg1")
	if err != nil {
		t.Fatalf("Balance failed: %v", err)
	}
	if bal.Available != 100 || bal.Held != 0 {
		t.Errorf("available=%d held=%d, want 100/0", bal.Available, bal.Held)
	}
}

func TestPostgres_HoldSettleLifecycle(t *testing.T) {
	store, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "usr_buyer", 100, EntryBonus, Ref{Type: "grant", ID: "g1", Op: "credit"}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := store.Hold(ctx, "usr_buyer", 40, Ref{Type: "proposal", ID: "prp_1", Op: "hold"}); err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if err := store.Settle(ctx, "usr_buyer", "usr_seller", 40, Ref{Type: "exchange", ID: "exc_1", Op: "settle"}); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	buyer, _ := store.Balance(ctx, "usr_buyer")
	if buyer.Available != 60 || buyer.Held != 0 {
		t.Errorf("buyer available=%d held=%d, want 60/0", buyer.Available, buyer.Held)
	}
	seller, _ := store.Balance(ctx, "usr_seller")
	if seller.Available != 40 {
		t.Errorf("seller available=%d, want 40", seller.Available)
	}

	// Settle wrote one entry per party.
	buyerEntries, _ := store.History(ctx, "usr_buyer", nil, 10)
	sellerEntries, _ := store.History(ctx, "usr_seller", nil, 10)
	if len(buyerEntries) != 4 {
		t.Errorf("buyer has %d entries, want 4", len(buyerEntries))
	}
	if len(sellerEntries) != 1 {
		t.Errorf("seller has %d entries, want 1", len(sellerEntries))
	}
}

func TestPostgres_HoldInsufficientFunds(t *testing.T) {
	store, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "usr_poor", 30, EntryBonus, Ref{Type: "grant", ID: "g1", Op: "credit"}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	err := store.Hold(ctx, "usr_poor", 40, Ref{Type: "proposal", ID: "prp_1", Op: "hold"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}

	bal, _ := store.Balance(ctx, "usr_poor")
	if bal.Available != 30 || bal.Held != 0 {
		t.Errorf("failed hold mutated balance: available=%d held=%d", bal.Available, bal.Held)
	}
}

func TestPostgres_IdempotentReplay(t *testing.T) {
	store, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "usr_r", 100, EntryBonus, Ref{Type: "grant", ID: "g1", Op: "credit"}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	ref := Ref{Type: "proposal", ID: "prp_1", Op: "hold"}
	for i := 0; i < 3; i++ {
		if err := store.Hold(ctx, "usr_r", 40, ref); err != nil {
			t.Fatalf("Hold attempt %d failed: %v", i, err)
		}
	}

	bal, _ := store.Balance(ctx, "usr_r")
	if bal.Available != 60 || bal.Held != 40 {
		t.Errorf("replayed hold applied more than once: available=%d held=%d", bal.Available, bal.Held)
	}
}

func TestPostgres_ReleaseGuard(t *testing.T) {
	store, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "usr_g", 100, EntryBonus, Ref{Type: "grant", ID: "g1", Op: "credit"}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	err := store.Release(ctx, "usr_g", 10, Ref{Type: "exchange", ID: "exc_1", Op: "release"})
	if !errors.Is(err, ErrInvariantViolation) {
		t.Errorf("expected ErrInvariantViolation, got %v", err)
	}
}

func TestPostgres_SettleCreatesSellerWallet(t *testing.T) {
	store, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "usr_b2", 50, EntryBonus, Ref{Type: "grant", ID: "g1", Op: "credit"}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}
	if err := store.Hold(ctx, "usr_b2", 50, Ref{Type: "proposal", ID: "prp_1", Op: "hold"}); err != nil {
		t.Fatalf("Hold failed: %v", err)
	}
	if err := store.Settle(ctx, "usr_b2", "usr_new_seller", 50, Ref{Type: "exchange", ID: "exc_1", Op: "settle"}); err != nil {
		t.Fatalf("Settle failed: %v", err)
	}

	seller, _ := store.Balance(ctx, "usr_new_seller")
	if seller.Available != 50 {
		t.Errorf("seller available=%d, want 50", seller.Available)
	}
}

func TestPostgres_ConcurrentHolds(t *testing.T) {
	store, cleanup := setupPGStore(t)
	defer cleanup()
	ctx := context.Background()

	if err := store.Credit(ctx, "usr_c", 100, EntryBonus, Ref{Type: "grant", ID: "g1", Op: "credit"}); err != nil {
		t.Fatalf("Credit failed: %v", err)
	}

	var wg sync.WaitGroup
	results := make([]error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.Hold(ctx, "usr_c", 10, Ref{
				Type: "proposal", ID: fmt.Sprintf("prp_%d", i), Op: "hold",
			})
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range results {
		if err == nil {
			succeeded++
		} else if !errors.Is(err, ErrInsufficientFunds) {
			// Serialization failures surface as generic errors; a caller
			// would retry. For the assertion below only the final balance
			// matters.
			t.Logf("hold error: %v", err)
		}
	}

	bal, _ := store.Balance(ctx, "usr_c")
	if bal.Available+bal.Held != 100 {
		t.Errorf("credits leaked: available=%d held=%d", bal.Available, bal.Held)
	}
	if bal.Held != int64(succeeded*10) {
		t.Errorf("held=%d does not match %d successful holds", bal.Held, succeeded)
	}
}
