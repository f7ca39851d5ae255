package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "streamrun"

type moduleMetrics struct {
	runsTotal     *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	activeWorkers prometheus.Gauge

	workerLaunchTotal *prometheus.CounterVec
	signalsTotal      *prometheus.CounterVec
	reapedTotal       prometheus.Counter

	framesWritten   *prometheus.CounterVec
	bytesWritten    prometheus.Counter
	heartbeatsTotal prometheus.Counter

	linkCardsTotal      *prometheus.CounterVec
	linkPreviewDuration prometheus.Histogram

	persistDuration    prometheus.Histogram
	persistErrorsTotal prometheus.Counter

	providerStreamTotal *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			runsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "runs_total",
					Help:      "Total streaming runs by task and outcome.",
				},
				[]string{"task", "outcome"},
			),
			runDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "run_duration_seconds",
					Help:      "Streaming run duration in seconds by task.",
					Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
				},
				[]string{"task"},
			),
			activeWorkers: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Namespace: namespace,
					Name:      "active_workers",
					Help:      "Workers currently registered in the process registry.",
				},
			),
			workerLaunchTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "worker_launch_total",
					Help:      "Worker launches by isolation mode and status.",
				},
				[]string{"isolation", "status"},
			),
			signalsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "signals_total",
					Help:      "Stop, timeout and replace signals delivered to workers.",
				},
				[]string{"signal"},
			),
			reapedTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "reaped_workers_total",
					Help:      "Workers killed by the registry janitor.",
				},
			),
			framesWritten: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "frames_written_total",
					Help:      "Frames written to clients by kind.",
				},
				[]string{"kind"},
			),
			bytesWritten: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "bytes_written_total",
					Help:      "Bytes written to clients, length prefixes included.",
				},
			),
			heartbeatsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "heartbeats_total",
					Help:      "Keep-alive frames sent to clients.",
				},
			),
			linkCardsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "link_cards_total",
					Help:      "Link cards emitted, by whether a preview title was resolved.",
				},
				[]string{"resolved"},
			),
			linkPreviewDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "link_preview_duration_seconds",
					Help:      "Link preview fetch duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			persistDuration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: namespace,
					Name:      "persist_duration_seconds",
					Help:      "Transcript persistence duration in seconds.",
					Buckets:   prometheus.DefBuckets,
				},
			),
			persistErrorsTotal: prometheus.NewCounter(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "persist_errors_total",
					Help:      "Failed transcript persistence attempts.",
				},
			),
			providerStreamTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: namespace,
					Name:      "provider_stream_total",
					Help:      "LLM provider streams by provider and status.",
				},
				[]string{"provider", "status"},
			),
		}

		prometheus.MustRegister(
			m.runsTotal,
			m.runDuration,
			m.activeWorkers,
			m.workerLaunchTotal,
			m.signalsTotal,
			m.reapedTotal,
			m.framesWritten,
			m.bytesWritten,
			m.heartbeatsTotal,
			m.linkCardsTotal,
			m.linkPreviewDuration,
			m.persistDuration,
			m.persistErrorsTotal,
			m.providerStreamTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// RecordRun records a finished run
func RecordRun(task, outcome string, duration time.Duration) {
	m := getMetrics()
	m.runsTotal.WithLabelValues(task, outcome).Inc()
	m.runDuration.WithLabelValues(task).Observe(duration.Seconds())
}

func SetActiveWorkers(count int) {
	getMetrics().activeWorkers.Set(float64(count))
}

func RecordWorkerLaunch(isolation string, success bool) {
	getMetrics().workerLaunchTotal.WithLabelValues(isolation, statusLabel(success)).Inc()
}

// RecordSignal counts a stop, timeout or replace signal
func RecordSignal(signal string) {
	getMetrics().signalsTotal.WithLabelValues(signal).Inc()
}

func RecordReaped(count int) {
	getMetrics().reapedTotal.Add(float64(count))
}

// RecordFrame counts a frame of the given kind (header, block, char, card_info, heartbeat, terminal)
func RecordFrame(kind string) {
	getMetrics().framesWritten.WithLabelValues(kind).Inc()
}

func RecordBytesWritten(n int64) {
	if n > 0 {
		getMetrics().bytesWritten.Add(float64(n))
	}
}

func RecordHeartbeat() {
	getMetrics().heartbeatsTotal.Inc()
}

func RecordLinkCard(resolved bool) {
	label := "false"
	if resolved {
		label = "true"
	}
	getMetrics().linkCardsTotal.WithLabelValues(label).Inc()
}

func RecordLinkPreview(duration time.Duration) {
	getMetrics().linkPreviewDuration.Observe(duration.Seconds())
}

func RecordPersist(duration time.Duration, success bool) {
	m := getMetrics()
	m.persistDuration.Observe(duration.Seconds())
	if !success {
		m.persistErrorsTotal.Inc()
	}
}

func RecordProviderStream(provider string, success bool) {
	getMetrics().providerStreamTotal.WithLabelValues(provider, statusLabel(success)).Inc()
}
