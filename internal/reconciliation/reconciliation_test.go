package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockSummer struct {
	available, held, ledger int64
	err                     error
}

func (m *mockSummer) SumBalances(_ context.Context) (int64, int64, error) {
	return m.available, m.held, m.err
}

func (m *mockSummer) SumLedger(_ context.Context) (int64, error) {
	return m.ledger, m.err
}

type mockStuck struct {
	count int
}

func (m *mockStuck) CountOverdueActive(_ context.Context, _ time.Time) (int, error) {
	return m.count, nil
}

func TestRun_Balanced(t *testing.T) {
	// Wallets: 100 available + 25 held = 125, ledger sums to the same.
	svc := NewService(&mockSummer{available: 100, held: 25, ledger: 125}, &mockStuck{})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !result.LedgerMatch {
		t.Errorf("expected match: wallet=%d ledger=%d diff=%d",
			result.WalletTotal, result.LedgerTotal, result.Diff)
	}
	if result.StuckExchanges != 0 {
		t.Errorf("expected 0 stuck exchanges, got %d", result.StuckExchanges)
	}
}

func TestRun_LedgerDrift(t *testing.T) {
	// Ledger shows 5 credits more than the wallets hold.
	svc := NewService(&mockSummer{available: 100, held: 25, ledger: 130}, &mockStuck{})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.LedgerMatch {
		t.Error("expected mismatch when ledger sum exceeds wallet totals")
	}
	if result.Diff != -5 {
		t.Errorf("diff = %d, want -5", result.Diff)
	}
}

func TestRun_StuckExchangesReported(t *testing.T) {
	svc := NewService(&mockSummer{available: 10, held: 0, ledger: 10}, &mockStuck{count: 3})

	result, err := svc.Run(context.Background())
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if result.StuckExchanges != 3 {
		t.Errorf("stuck exchanges = %d, want 3", result.StuckExchanges)
	}
	// A stuck exchange is not a ledger mismatch.
	if !result.LedgerMatch {
		t.Error("expected ledger match")
	}
}

func TestRun_SummerError(t *testing.T) {
	svc := NewService(&mockSummer{err: errors.New("db down")}, &mockStuck{})

	if _, err := svc.Run(context.Background()); err == nil {
		t.Fatal("expected error when balance summing fails")
	}
}
