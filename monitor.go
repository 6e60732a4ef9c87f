package zssh2

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Monitor aggregates counters over all connections a daemon serves.
type Monitor struct {
	handshakes    *prometheus.CounterVec
	kexSelections *prometheus.CounterVec
	authOutcomes  *prometheus.CounterVec
	openChannels  prometheus.Gauge
}

// NewMonitor registers the daemon metrics with the given registry and
// returns the monitor that feeds them.
func NewMonitor(reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zssh2",
			Name:      "handshakes_total",
			Help:      "Completed and failed SSH handshakes.",
		}, []string{"result"}),
		kexSelections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zssh2",
			Name:      "kex_selections_total",
			Help:      "Negotiated key exchange algorithms.",
		}, []string{"algorithm"}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zssh2",
			Name:      "auth_outcomes_total",
			Help:      "User authentication attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		openChannels: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zssh2",
			Name:      "open_channels",
			Help:      "Channels currently open across all connections.",
		}),
	}
	reg.MustRegister(m.handshakes, m.kexSelections, m.authOutcomes, m.openChannels)
	return m
}

// Handshake records the outcome of a transport handshake.
func (m *Monitor) Handshake(err error) {
	if err != nil {
		m.handshakes.WithLabelValues("failure").Inc()
		return
	}
	m.handshakes.WithLabelValues("success").Inc()
}

// KexSelected records the negotiated key exchange algorithm.
func (m *Monitor) KexSelected(algorithm string) {
	m.kexSelections.WithLabelValues(algorithm).Inc()
}

// AuthAttempt records an authentication attempt.
func (m *Monitor) AuthAttempt(method string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.authOutcomes.WithLabelValues(method, outcome).Inc()
}

// ChannelOpened and ChannelClosed track the channel gauge.
func (m *Monitor) ChannelOpened() { m.openChannels.Inc() }
func (m *Monitor) ChannelClosed() { m.openChannels.Dec() }
