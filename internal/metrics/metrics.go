// Package metrics holds the Prometheus collectors of the LogNexus server.
// Everything registers on the default registry at init.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "lognexus"

func counter(subsystem, name, help string) prometheus.Counter {
	return promauto.NewCounter(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
}

func counterVec(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func gauge(subsystem, name, help string) prometheus.Gauge {
	return promauto.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help})
}

func gaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.NewGaugeVec(prometheus.GaugeOpts{Namespace: namespace, Subsystem: subsystem, Name: name, Help: help}, labels)
}

func histogramVec(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

// HTTP. Paths are chi route patterns, so ids never become labels.
var (
	HTTPRequestsTotal = counterVec("http", "requests_total",
		"HTTP requests served", "method", "path", "status")
	HTTPRequestDuration = histogramVec("http", "request_duration_seconds",
		"HTTP request latency, push channels excluded",
		[]float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}, "method", "path")
	HTTPRequestsInFlight = gauge("http", "requests_in_flight",
		"HTTP requests being served, push channels excluded")
)

// Background loops. result is ok or error.
var (
	LoopTicksTotal = counterVec("scheduler", "ticks_total",
		"Background loop ticks", "loop", "result")
	LoopTickDuration = histogramVec("scheduler", "tick_duration_seconds",
		"Background loop tick latency",
		[]float64{.005, .025, .1, .5, 1, 5, 15, 60}, "loop")
)

// Alerting.
var (
	AlertsTriggeredTotal = counterVec("alerts", "triggered_total",
		"Alert instances created", "type", "severity")
	AlertsThrottledTotal = counterVec("alerts", "throttled_total",
		"Trigger attempts suppressed by the rule throttle", "type")
	RuleEvaluationErrors = counterVec("alerts", "evaluation_errors_total",
		"Rule evaluations that failed", "type")
	// AlertsActive is labelled all, critical, high or new.
	AlertsActive = gaugeVec("alerts", "active",
		"Alert instances not yet resolved", "severity")
)

// Notifications and push channels.
var (
	BroadcastsTotal = counterVec("notify", "broadcasts_total",
		"Group broadcasts by event and result", "event", "result")
	// ChannelDeliveriesTotal results are success, failure or rate_limited.
	ChannelDeliveriesTotal = counterVec("notify", "channel_deliveries_total",
		"Rule channel deliveries by result", "channel", "result")
	StreamSubscribers = gaugeVec("notify", "stream_subscribers",
		"Connected push subscribers by transport", "transport")
)

// Ingestion and the write buffer.
var (
	IngestedEntriesTotal = counter("ingest", "entries_total",
		"Log entries accepted by the ingest endpoint")
	BufferPending = gauge("buffer", "pending_entries",
		"Log entries waiting for the next flush")
	BufferFlushesTotal = counterVec("buffer", "flushes_total",
		"Buffer flushes by result", "result")
	BufferInsertedTotal = counter("buffer", "inserted_total",
		"Log entries written to storage")
)

// Fleet gauges are refreshed by the dashboard loop; the counters by the
// monitors that cause the transition.
var (
	ServersByStatus = gaugeVec("fleet", "servers",
		"Known servers per status", "status")
	RunningExecutions = gauge("fleet", "running_executions",
		"Executions in the Running state")
	ExecutionsTimedOutTotal = counter("fleet", "executions_timed_out_total",
		"Executions the timeout monitor marked TimedOut")
	ServersOfflineTotal = counter("fleet", "servers_offline_total",
		"Servers the heartbeat monitor marked Offline")
	// RetentionDeletedTotal kind is logs, alerts or executions.
	RetentionDeletedTotal = counterVec("maintenance", "deleted_total",
		"Rows purged by retention", "kind")
)

// BuildInfo is constant 1, labelled with the running build.
var BuildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "build_info",
	Help:      "Build of the running server",
}, []string{"version", "commit", "build_time"})

// SetBuildInfo publishes the build labels.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// ObserveTick matches scheduler.Observer.
func ObserveTick(loop string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	LoopTicksTotal.WithLabelValues(loop, result).Inc()
	LoopTickDuration.WithLabelValues(loop).Observe(d.Seconds())
}

// ObserveFlush matches the log buffer's flush callback.
func ObserveFlush(inserted int, err error) {
	if err != nil {
		BufferFlushesTotal.WithLabelValues("error").Inc()
		return
	}
	BufferFlushesTotal.WithLabelValues("ok").Inc()
	BufferInsertedTotal.Add(float64(inserted))
}
