package reconciliation

import "github.com/prometheus/client_golang/prometheus"

var (
	reconcileLedgerDiff = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "baratto",
		Subsystem: "reconciliation",
		Name:      "ledger_diff_credits",
		Help:      "Wallet totals minus ledger entry sum as of the last run. Non-zero means drift.",
	})

	reconcileStuckExchanges = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "baratto",
		Subsystem: "reconciliation",
		Name:      "stuck_exchanges",
		Help:      "Active exchanges past expiry found in the last run.",
	})

	reconcileDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "baratto",
		Subsystem: "reconciliation",
		Name:      "run_duration_seconds",
		Help:      "Duration of reconciliation runs in seconds.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	reconcileErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "baratto",
		Subsystem: "reconciliation",
		Name:      "errors_total",
		Help:      "Total reconciliation check errors.",
	})
)

func init() {
	prometheus.MustRegister(
		reconcileLedgerDiff,
		reconcileStuckExchanges,
		reconcileDuration,
		reconcileErrors,
	)
}
