package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	MentionsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulsewatch",
		Name:      "mentions_ingested_total",
		Help:      "Mentions processed by the ingestion pipeline, by outcome.",
	}, []string{"outcome"})

	MonitorMatches = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "pulsewatch",
		Name:      "monitor_matches_total",
		Help:      "Monitor/mention matches persisted.",
	})

	AlertsFired = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulsewatch",
		Name:      "alerts_fired_total",
		Help:      "Alerts fired, by severity.",
	}, []string{"severity"})

	NotificationsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pulsewatch",
		Name:      "notifications_dispatched_total",
		Help:      "Notification delivery outcomes, by terminal status of the attempt.",
	}, []string{"status"})

	StalePendingNotifications = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "pulsewatch",
		Name:      "stale_pending_notifications",
		Help:      "Pending notifications overdue past the stale age threshold.",
	})

	SweepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pulsewatch",
		Name:      "sweep_duration_seconds",
		Help:      "Duration of worker sweeps, by stage.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"stage"})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
