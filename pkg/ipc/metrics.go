package ipc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	resultAccepted    = "accepted"
	resultRateLimited = "rate_limited"
	resultRejected    = "rejected"
	resultError       = "error"
)

var (
	metricStartRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionator",
		Name:      "start_requests_total",
		Help:      "Start requests received, by action and result.",
	}, []string{"action", "result"})
	metricPushClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "actionator",
		Name:      "push_clients",
		Help:      "Connected push channel clients.",
	})
	metricFramesBroadcast = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "actionator",
		Name:      "frames_broadcast_total",
		Help:      "Run frames fanned out to push clients.",
	})
	metricClientsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "actionator",
		Name:      "push_clients_dropped_total",
		Help:      "Push clients disconnected because their send queue was full.",
	})
	metricBridgeMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "actionator",
		Name:      "bus_frames_malformed_total",
		Help:      "Bus messages on run subjects that were not valid frames.",
	})
)

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// recordStart counts a start request. Unknown names share one label value.
func (s *Server) recordStart(name, result string) {
	if _, ok := s.registry.Get(name); !ok {
		name = "unknown"
	}
	metricStartRequests.WithLabelValues(name, result).Inc()
}
