// Package metrics exposes Prometheus collectors for the view-tracking agent.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	viewsTrackedTotal          *prometheus.CounterVec
	incrementsFailedTotal      *prometheus.CounterVec
	checksTotal                *prometheus.CounterVec
	snapshotsTotal             *prometheus.CounterVec
	relayRequestDurationSecond *prometheus.HistogramVec
	remoteReachable            prometheus.Gauge
	trackedPages               prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		viewsTrackedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notionviews_tracked_total",
				Help: "Total view increments reported, labeled by trigger.",
			},
			[]string{"trigger"},
		)

		incrementsFailedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notionviews_increments_failed_total",
				Help: "Total increment calls that failed, labeled by reason.",
			},
			[]string{"reason"},
		)

		checksTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notionviews_checks_total",
				Help: "Total tracking decisions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		snapshotsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notionviews_snapshots_total",
				Help: "Total DOM snapshots taken, labeled by source.",
			},
			[]string{"source"},
		)

		relayRequestDurationSecond = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "notionviews_relay_request_duration_seconds",
				Help:    "Histogram of relay request latencies, labeled by route and code.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"route", "code"},
		)

		remoteReachable = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notionviews_remote_reachable",
				Help: "1 when the last connectivity check succeeded, else 0.",
			},
		)

		trackedPages = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "notionviews_tracked_pages",
				Help: "Page ids tracked during this agent lifetime.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTracked increments the tracked-views counter.
func ObserveTracked(trigger string) {
	viewsTrackedTotal.WithLabelValues(trigger).Inc()
}

// ObserveIncrementFailure increments the failure counter.
func ObserveIncrementFailure(reason string) {
	incrementsFailedTotal.WithLabelValues(reason).Inc()
}

// ObserveCheck increments the decision counter for the given outcome.
func ObserveCheck(outcome string) {
	checksTotal.WithLabelValues(outcome).Inc()
}

// ObserveSnapshot increments the snapshot counter for the given source.
func ObserveSnapshot(source string) {
	snapshotsTotal.WithLabelValues(source).Inc()
}

// ObserveRelayRequest records the duration of a relay round trip.
func ObserveRelayRequest(route string, code int, duration time.Duration) {
	relayRequestDurationSecond.WithLabelValues(route, strconv.Itoa(code)).Observe(duration.Seconds())
}

// SetRemoteReachable flips the connectivity gauge.
func SetRemoteReachable(ok bool) {
	if ok {
		remoteReachable.Set(1)
		return
	}
	remoteReachable.Set(0)
}

// SetTrackedPages updates the tracked-page gauge.
func SetTrackedPages(n int) {
	trackedPages.Set(float64(n))
}
