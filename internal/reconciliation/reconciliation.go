// Package reconciliation cross-checks wallet balances against the ledger.
//
// Every balance mutation appends ledger entries in the same transaction, so
// the sum of all signed entry amounts must equal the sum of all available
// and held balances at any point in time. A drift between the two means a
// bug or manual data surgery, and pages the operator via metrics. The run
// also counts active exchanges past their expiry that the sweeper should
// have closed already.
package reconciliation

import (
	"context"
	"fmt"
	"time"
)

// DefaultGrace is how long past its expiry an active exchange may linger
// before it counts as stuck. Covers normal sweeper latency.
const DefaultGrace = 10 * time.Minute

// BalanceSummer aggregates wallet and ledger totals. The wallet stores
// implement it.
type BalanceSummer interface {
	SumBalances(ctx context.Context) (available, held int64, err error)
	SumLedger(ctx context.Context) (int64, error)
}

// StuckCounter counts active exchanges that outlived their expiry. The
// exchange stores implement it.
type StuckCounter interface {
	CountOverdueActive(ctx context.Context, asOf time.Time) (int, error)
}

// Result holds the outcome of one reconciliation run.
type Result struct {
	LedgerMatch    bool  `json:"ledgerMatch"`
	WalletTotal    int64 `json:"walletTotal"`
	LedgerTotal    int64 `json:"ledgerTotal"`
	Diff           int64 `json:"diff"`
	StuckExchanges int   `json:"stuckExchanges"`
}

// Service runs the invariant checks.
type Service struct {
	summer BalanceSummer
	stuck  StuckCounter
	grace  time.Duration
}

// NewService creates a reconciliation service.
func NewService(summer BalanceSummer, stuck StuckCounter) *Service {
	return &Service{
		summer: summer,
		stuck:  stuck,
		grace:  DefaultGrace,
	}
}

// WithGrace overrides the stuck-exchange grace period.
func (s *Service) WithGrace(grace time.Duration) *Service {
	s.grace = grace
	return s
}

// Run executes all checks and publishes the results as metrics.
func (s *Service) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	defer func() {
		reconcileDuration.Observe(time.Since(start).Seconds())
	}()

	available, held, err := s.summer.SumBalances(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("sum balances: %w", err)
	}
	ledger, err := s.summer.SumLedger(ctx)
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("sum ledger: %w", err)
	}

	walletTotal := available + held
	diff := walletTotal - ledger
	reconcileLedgerDiff.Set(float64(diff))

	stuck, err := s.stuck.CountOverdueActive(ctx, time.Now().Add(-s.grace))
	if err != nil {
		reconcileErrors.Inc()
		return nil, fmt.Errorf("count stuck exchanges: %w", err)
	}
	reconcileStuckExchanges.Set(float64(stuck))

	return &Result{
		LedgerMatch:    diff == 0,
		WalletTotal:    walletTotal,
		LedgerTotal:    ledger,
		Diff:           diff,
		StuckExchanges: stuck,
	}, nil
}
