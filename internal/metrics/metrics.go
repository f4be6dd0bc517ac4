// Package metrics registers the Prometheus collectors shared by feeds and the watcher.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_total", Help: "Count of market ticks ingested"},
		[]string{"symbol"},
	)
	TicksDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "ticks_dropped_total", Help: "Ticks dropped because a subscriber was full"},
		[]string{"symbol"},
	)
	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_notifications_total", Help: "Notifications published by the watcher"},
		[]string{"event"},
	)
	NotificationsSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_notifications_suppressed_total", Help: "Notifications withheld while the watcher was inactive"},
		[]string{"event"},
	)
	PeriodClosesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_period_closes_total", Help: "Closed periods detected by sweeps"},
		[]string{"symbol", "timeframe"},
	)
	SweepChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "watcher_sweep_checks_total", Help: "Per symbol/timeframe checks by outcome"},
		[]string{"result"},
	)
	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "watcher_sweep_duration_seconds",
		Help:    "Wall time of one closed-period sweep",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})
	KlineRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kline_requests_total", Help: "Period history requests by outcome"},
		[]string{"result"},
	)
	RelayPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "relay_published_total", Help: "Notifications relayed to the broker by outcome"},
		[]string{"event", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		TicksTotal,
		TicksDroppedTotal,
		NotificationsTotal,
		NotificationsSuppressedTotal,
		PeriodClosesTotal,
		SweepChecksTotal,
		SweepDuration,
		KlineRequestsTotal,
		RelayPublishedTotal,
	)
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
