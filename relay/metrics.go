package relay

import "github.com/prometheus/client_golang/prometheus"

const (
	kindPublished = `published`
	kindDelivered = `delivered`
	kindDuplicate = `duplicate`
	kindAcked     = `acked`
	kindFailed    = `failed`
)

type Metrics struct {
	messages *prometheus.CounterVec
	requests *prometheus.CounterVec
}

// NewMetrics registers the relay client collectors. A nil registerer keeps
// the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletconnect",
			Subsystem: "relay_client",
			Name:      "messages_total",
			Help:      "Relay messages handled by the client segmented by kind.",
		}, []string{"kind"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "walletconnect",
			Subsystem: "relay_client",
			Name:      "requests_total",
			Help:      "Relay json-rpc requests segmented by method and outcome.",
		}, []string{"method", "outcome"}),
	}

	if reg != nil {
		reg.MustRegister(m.messages, m.requests)
	}
	return m
}

func (m *Metrics) message(kind string) {
	m.messages.WithLabelValues(kind).Inc()
}

func (m *Metrics) request(method string, err error) {
	outcome := `ok`
	if err != nil {
		outcome = `error`
	}
	m.requests.WithLabelValues(method, outcome).Inc()
}
