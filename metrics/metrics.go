package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mintrelay"

// RelayMetrics contains instrumented metrics that should be incremented by the
// relayer using the methods below.
type RelayMetrics struct {
	uptime prometheus.Counter

	numUserOpsSubmitted *prometheus.CounterVec
	numDeployments      *prometheus.CounterVec
	numRPCAttempts      *prometheus.CounterVec
	numResolutions      *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	return &RelayMetrics{
		uptime: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "uptime_milliseconds_total",
				Help:      "The elapse time in milliseconds since the relayer is booted",
			}),

		numUserOpsSubmitted: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "userops_submitted_total",
				Help:      "The number of UserOperations pushed to the bundler, by outcome",
			}, []string{"status"}),

		numDeployments: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_deployments_total",
				Help:      "The number of factory deployment transactions sent, by outcome",
			}, []string{"status"}),

		numRPCAttempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rpc_read_attempts_total",
				Help:      "Read attempts per RPC endpoint. Failures on the first endpoint mean the fallback list is doing work",
			}, []string{"endpoint", "status"}),

		numResolutions: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "account_resolutions_total",
				Help:      "The number of account address resolutions, by outcome",
			}, []string{"status"}),
	}
}

func (m *RelayMetrics) AddUptime(ms float64) {
	m.uptime.Add(ms)
}

func (m *RelayMetrics) IncUserOpSubmitted(status string) {
	m.numUserOpsSubmitted.WithLabelValues(status).Inc()
}

func (m *RelayMetrics) IncDeployment(status string) {
	m.numDeployments.WithLabelValues(status).Inc()
}

func (m *RelayMetrics) IncRPCAttempt(endpoint string, success bool) {
	status := "ok"
	if !success {
		status = "error"
	}
	m.numRPCAttempts.WithLabelValues(endpoint, status).Inc()
}

func (m *RelayMetrics) IncResolution(status string) {
	m.numResolutions.WithLabelValues(status).Inc()
}
