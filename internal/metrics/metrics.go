package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the engagement analytics service
type Metrics struct {
	EventsTracked    *prometheus.CounterVec
	DedupHits        *prometheus.CounterVec
	AnalyticsQueries *prometheus.CounterVec
	QueryDuration    *prometheus.HistogramVec
	FallbackQueries  *prometheus.CounterVec
	ExportRows       *prometheus.CounterVec
}
