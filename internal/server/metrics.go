package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metricsRegistry struct {
	registry      *prometheus.Registry
	createsTotal  *prometheus.CounterVec
	redeemsTotal  *prometheus.CounterVec
	statusTotal   prometheus.Counter
	expiredActive prometheus.Gauge
}

func newMetricsRegistry() *metricsRegistry {
	creates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimrails_claims_created_total",
		Help: "Claim creation requests by outcome",
	}, []string{"outcome"})

	redeems := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "claimrails_claims_redeemed_total",
		Help: "Claim redemption requests by outcome",
	}, []string{"outcome"})

	statuses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "claimrails_claim_status_reads_total",
		Help: "Claim status lookups",
	})

	backlog := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "claimrails_expired_active_claims",
		Help: "Active claims past their deadline awaiting the sweeper",
	})

	r := prometheus.NewRegistry()
	r.MustRegister(creates, redeems, statuses, backlog)

	return &metricsRegistry{
		registry:      r,
		createsTotal:  creates,
		redeemsTotal:  redeems,
		statusTotal:   statuses,
		expiredActive: backlog,
	}
}

func (m *metricsRegistry) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *metricsRegistry) incCreate(outcome string) {
	m.createsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incRedeem(outcome string) {
	m.redeemsTotal.WithLabelValues(outcome).Inc()
}

func (m *metricsRegistry) incStatus() {
	m.statusTotal.Inc()
}

func (m *metricsRegistry) setExpiredBacklog(n int) {
	m.expiredActive.Set(float64(n))
}
