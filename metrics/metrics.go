// Package metrics holds the Prometheus collectors for the finance engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	OutcomeOK          = "ok"
	OutcomeUnavailable = "unavailable"
	OutcomeMalformed   = "malformed"
	OutcomeTransport   = "transport_error"
)

var (
	reconciliations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_reconciliations_total",
		Help: "Reconciliations computed by resulting status",
	}, []string{"status"})

	batchRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_batch_runs_total",
		Help: "Batch reconciliation runs by final status",
	}, []string{"status"})

	apiRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "finance_api_requests_total",
		Help: "External finance API requests by endpoint and outcome",
	}, []string{"endpoint", "outcome"})

	contributionsImported = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finance_contributions_imported_total",
		Help: "Itemized contribution rows inserted into the ledger",
	})

	conduitRowsZeroed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "finance_conduit_rows_zeroed_total",
		Help: "Ledger rows zeroed by conduit deduplication",
	})

	reconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "finance_reconcile_duration_seconds",
		Help:    "Duration of one candidate reconciliation including external fetches",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})
)

func IncReconciliation(status string) {
	reconciliations.WithLabelValues(status).Inc()
}

func IncBatchRun(status string) {
	batchRuns.WithLabelValues(status).Inc()
}

func IncAPIRequest(endpoint, outcome string) {
	apiRequests.WithLabelValues(endpoint, outcome).Inc()
}

func AddContributionsImported(n int) {
	if n > 0 {
		contributionsImported.Add(float64(n))
	}
}

func AddConduitRowsZeroed(n int64) {
	if n > 0 {
		conduitRowsZeroed.Add(float64(n))
	}
}

func ObserveReconcileDuration(d time.Duration) {
	reconcileDuration.Observe(d.Seconds())
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
