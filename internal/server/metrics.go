package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry           *prometheus.Registry
	submissionsTotal   *prometheus.CounterVec
	reconcileRefreshes prometheus.Counter
	rpcErrorsTotal     *prometheus.CounterVec
	cacheRecords       prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainrails_submissions_total",
		Help: "Escrow submissions by operation and outcome",
	}, []string{"op", "status"})

	refreshes := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chainrails_reconcile_refreshes_total",
		Help: "History reconciliation passes served",
	})

	rpcErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chainrails_rpc_errors_total",
		Help: "Classified failures surfaced to callers",
	}, []string{"category"})

	cacheRecords := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chainrails_cache_records",
		Help: "Cached records in the most recently read scope",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(submissions, refreshes, rpcErrors, cacheRecords)

	return &metricsRegistry{
		registry:           r,
		submissionsTotal:   submissions,
		reconcileRefreshes: refreshes,
		rpcErrorsTotal:     rpcErrors,
		cacheRecords:       cacheRecords,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incSubmission(op, status string) {
	m.submissionsTotal.WithLabelValues(op, status).Inc()
}

func (m *metricsRegistry) incReconcile() {
	m.reconcileRefreshes.Inc()
}

func (m *metricsRegistry) incRPCError(category string) {
	m.rpcErrorsTotal.WithLabelValues(category).Inc()
}

func (m *metricsRegistry) setCacheRecords(n int) {
	m.cacheRecords.Set(float64(n))
}
