package server

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pns/internal/orchestrator"
	"pns/internal/pnserr"
)

// Metrics counts workflow outcomes, refreshes and guard blocks. It is handed
// to the app as its observer and served at /api/v1/metrics.
type Metrics struct {
	registry      *prometheus.Registry
	mintsTotal    *prometheus.CounterVec
	updatesTotal  *prometheus.CounterVec
	refreshTotal  *prometheus.CounterVec
	blockedTotal  *prometheus.CounterVec
	requestsTotal *prometheus.CounterVec
	cacheEntries  prometheus.Gauge
}

func NewMetrics() *Metrics {
	mints := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pns_mints_total",
		Help: "Mint workflows by outcome",
	}, []string{"outcome"})

	updates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pns_record_updates_total",
		Help: "Record update workflows by outcome",
	}, []string{"outcome"})

	refreshes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pns_cache_refresh_total",
		Help: "Registry cache refreshes by result",
	}, []string{"result"})

	blocked := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pns_guard_blocked_total",
		Help: "Workflows refused by the connection guard",
	}, []string{"workflow", "reason"})

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pns_http_requests_total",
		Help: "API requests by route and status code",
	}, []string{"route", "code"})

	entries := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pns_cache_entries",
		Help: "Number of names in the registry cache",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(mints, updates, refreshes, blocked, requests, entries)

	return &Metrics{
		registry:      r,
		mintsTotal:    mints,
		updatesTotal:  updates,
		refreshTotal:  refreshes,
		blockedTotal:  blocked,
		requestsTotal: requests,
		cacheEntries:  entries,
	}
}

func (m *Metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveWorkflow(workflow string, outcome orchestrator.Outcome) {
	switch workflow {
	case orchestrator.WorkflowMint:
		m.mintsTotal.WithLabelValues(outcome.String()).Inc()
	case orchestrator.WorkflowUpdate:
		m.updatesTotal.WithLabelValues(outcome.String()).Inc()
	}
}

func (m *Metrics) ObserveRefresh(ok bool, size int) {
	result := "failed"
	if ok {
		result = "ok"
	}
	m.refreshTotal.WithLabelValues(result).Inc()
	m.cacheEntries.Set(float64(size))
}

func (m *Metrics) ObserveBlocked(workflow string, reason pnserr.Kind) {
	m.blockedTotal.WithLabelValues(workflow, string(reason)).Inc()
}

func (m *Metrics) incRequest(route string, code int) {
	m.requestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
}
