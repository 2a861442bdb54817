package palantir

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every Prometheus counter/gauge a Peer exports, per
// SPEC_FULL.md §10's ambient observability layer — carried even though
// spec.md never names a metrics component explicitly, matching the
// instrumentation katzenpost wires into its own server and client paths.
type Metrics struct {
	Registry *prometheus.Registry

	HandshakesAttempted prometheus.Counter
	HandshakesSucceeded prometheus.Counter
	HandshakesFailed    prometheus.Counter
	ActivePeers         prometheus.Gauge
	RequestsSent        prometheus.Counter
	RequestsTimedOut    prometheus.Counter
	ChannelsTerminated  prometheus.Counter
}

// NewMetrics creates a Metrics with its own private registry, so that
// multiple Peers in one process (as in tests) never collide registering
// the same metric name on prometheus's global DefaultRegisterer.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		HandshakesAttempted: factory.NewCounter(prometheus.CounterOpts{
			Name: "palantir_handshakes_attempted_total",
			Help: "Handshakes initiated or accepted, regardless of outcome.",
		}),
		HandshakesSucceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "palantir_handshakes_succeeded_total",
			Help: "Handshakes that completed successfully.",
		}),
		HandshakesFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "palantir_handshakes_failed_total",
			Help: "Handshakes that failed for any reason, including transport and validator errors.",
		}),
		ActivePeers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "palantir_active_peers",
			Help: "Current number of entries in the peer table.",
		}),
		RequestsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "palantir_requests_sent_total",
			Help: "Request frames sent on any channel.",
		}),
		RequestsTimedOut: factory.NewCounter(prometheus.CounterOpts{
			Name: "palantir_requests_timed_out_total",
			Help: "Requests whose timeout registry entry expired before a Response arrived.",
		}),
		ChannelsTerminated: factory.NewCounter(prometheus.CounterOpts{
			Name: "palantir_channels_terminated_total",
			Help: "Channel run-loops that terminated after consecutive decode/transport errors.",
		}),
	}
}
