// Package observability exposes Prometheus collectors for the tracking engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "trailwatch"

var (
	activeSessions = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "sessions",
		Name:      "active",
		Help:      "Sessions currently tracking, labeled by kind (hike, share).",
	}, []string{"kind"})

	pointsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "tracking",
		Name:      "points_recorded_total",
		Help:      "Track points appended to hike records.",
	})

	anomaliesDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sharing",
		Name:      "anomalies_detected_total",
		Help:      "Anomalies raised by the safety monitor, labeled by type and severity.",
	}, []string{"type", "severity"})

	alertDeliveries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "alerts",
		Name:      "deliveries_total",
		Help:      "Per-contact alert deliveries, labeled by channel (sms, email) and outcome (sent, failed).",
	}, []string{"channel", "outcome"})

	storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "errors_total",
		Help:      "Failed record store operations, labeled by operation.",
	}, []string{"op"})
)

func init() {
	prometheus.MustRegister(activeSessions, pointsRecorded, anomaliesDetected, alertDeliveries, storeErrors)
}

// SessionTransition keeps the active gauge in step with a session moving into or out of tracking.
func SessionTransition(kind string, wasTracking, isTracking bool) {
	switch {
	case !wasTracking && isTracking:
		activeSessions.WithLabelValues(kind).Inc()
	case wasTracking && !isTracking:
		activeSessions.WithLabelValues(kind).Dec()
	}
}

func PointRecorded() {
	pointsRecorded.Inc()
}

func AnomalyDetected(anomalyType, severity string) {
	anomaliesDetected.WithLabelValues(anomalyType, severity).Inc()
}

func AlertDelivered(channel string, ok bool) {
	outcome := "sent"
	if !ok {
		outcome = "failed"
	}
	alertDeliveries.WithLabelValues(channel, outcome).Inc()
}

func StoreError(op string) {
	storeErrors.WithLabelValues(op).Inc()
}
