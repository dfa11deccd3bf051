package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dropUnmatched = "unmatched"
	dropMalformed = "malformed"
)

var (
	metricDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "actionator",
		Subsystem: "router",
		Name:      "frames_dispatched_total",
		Help:      "Push frames delivered to at least one subscriber.",
	})
	metricDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "actionator",
		Subsystem: "router",
		Name:      "frames_dropped_total",
		Help:      "Push frames dropped, by reason.",
	}, []string{"reason"})
	metricReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "actionator",
		Subsystem: "router",
		Name:      "channel_reconnects_total",
		Help:      "Push channel reconnect attempts.",
	})
)
