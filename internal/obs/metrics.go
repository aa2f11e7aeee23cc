package obs

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry             *prometheus.Registry
	requests             *prometheus.CounterVec
	passthrough          *prometheus.CounterVec
	networkFetches       *prometheus.CounterVec
	cacheStoreFail       *prometheus.CounterVec
	installSeeds         *prometheus.CounterVec
	lifecycle            *prometheus.CounterVec
	controlMessages      *prometheus.CounterVec
	responderPanics      prometheus.Counter
	requestDuration      *prometheus.HistogramVec
	networkFetchDuration prometheus.Histogram
	connectedPages       prometheus.Gauge
	activeVersion        *prometheus.GaugeVec
	breakerState         *prometheus.GaugeVec
	mu                   sync.Mutex
	lastVersion          string
}

var (
	defaultMetricsMu sync.RWMutex
	defaultMetrics   *Metrics
)

func SetDefaultMetrics(metrics *Metrics) {
	defaultMetricsMu.Lock()
	defaultMetrics = metrics
	defaultMetricsMu.Unlock()
}

func DefaultMetrics() *Metrics {
	defaultMetricsMu.RLock()
	defer defaultMetricsMu.RUnlock()
	return defaultMetrics
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_requests_total",
		Help: "Total intercepted requests",
	}, []string{"strategy", "source", "status_class"})

	passthrough := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_passthrough_total",
		Help: "Total requests passed straight to the network",
	}, []string{"reason"})

	networkFetches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_network_fetches_total",
		Help: "Total network fetches",
	}, []string{"result"})

	cacheStoreFail := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_cache_store_fail_total",
		Help: "Total best-effort cache writes that failed",
	}, []string{"bucket"})

	installSeeds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_install_seeds_total",
		Help: "Total install-time seed fetches",
	}, []string{"version", "result"})

	lifecycle := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_lifecycle_transitions_total",
		Help: "Total worker lifecycle transitions",
	}, []string{"state"})

	controlMessages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coordinator_control_messages_total",
		Help: "Total control messages by type and direction",
	}, []string{"type", "direction"})

	responderPanics := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "coordinator_responder_panics_total",
		Help: "Total responder panics answered with the offline fallback",
	})

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coordinator_request_duration_seconds",
		Help:    "Intercepted request duration",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	networkFetchDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coordinator_network_fetch_duration_seconds",
		Help:    "Network fetch duration",
		Buckets: prometheus.DefBuckets,
	})

	connectedPages := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coordinator_connected_pages",
		Help: "Pages connected to the control channel",
	})

	activeVersion := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coordinator_active_version_info",
		Help: "Active worker version",
	}, []string{"version"})

	breakerState := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "coordinator_origin_breaker_state",
		Help: "Origin breaker state, 1 for the current state",
	}, []string{"state"})

	registry.MustRegister(requests, passthrough, networkFetches, cacheStoreFail, installSeeds, lifecycle, controlMessages, responderPanics, requestDuration, networkFetchDuration, connectedPages, activeVersion, breakerState)

	return &Metrics{
		registry:             registry,
		requests:             requests,
		passthrough:          passthrough,
		networkFetches:       networkFetches,
		cacheStoreFail:       cacheStoreFail,
		installSeeds:         installSeeds,
		lifecycle:            lifecycle,
		controlMessages:      controlMessages,
		responderPanics:      responderPanics,
		requestDuration:      requestDuration,
		networkFetchDuration: networkFetchDuration,
		connectedPages:       connectedPages,
		activeVersion:        activeVersion,
		breakerState:         breakerState,
	}
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(strategy string, source string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.requests.WithLabelValues(defaultString(strategy, "none"), defaultString(source, "none"), statusClass(status)).Inc()
	m.requestDuration.WithLabelValues(defaultString(strategy, "none")).Observe(duration.Seconds())
}

func (m *Metrics) RecordPassthrough(reason string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.passthrough.WithLabelValues(defaultString(reason, "unknown")).Inc()
}

func (m *Metrics) ObserveNetworkFetch(result string, duration time.Duration) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.networkFetches.WithLabelValues(defaultString(result, "unknown")).Inc()
	m.networkFetchDuration.Observe(duration.Seconds())
}

func (m *Metrics) RecordCacheStoreFail(bucket string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.cacheStoreFail.WithLabelValues(defaultString(bucket, "unknown")).Inc()
}

func (m *Metrics) RecordInstallSeed(version string, ok bool) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	result := "ok"
	if !ok {
		result = "failed"
	}
	m.installSeeds.WithLabelValues(defaultString(version, "none"), result).Inc()
}

func (m *Metrics) RecordLifecycle(state string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.lifecycle.WithLabelValues(defaultString(state, "unknown")).Inc()
}

func (m *Metrics) RecordControlMessage(messageType string, direction string) {
	if m == nil {
		return
	}
	defer func() {
		_ = recover()
	}()

	m.controlMessages.WithLabelValues(defaultString(messageType, "unknown"), direction).Inc()
}

func (m *Metrics) RecordResponderPanic() {
	if m == nil {
		return
	}
	m.responderPanics.Inc()
}

func (m *Metrics) SetConnectedPages(count int) {
	if m == nil {
		return
	}
	m.connectedPages.Set(float64(count))
}

func (m *Metrics) SetActiveVersion(version string) {
	if m == nil || version == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastVersion != "" {
		m.activeVersion.WithLabelValues(m.lastVersion).Set(0)
	}
	m.activeVersion.WithLabelValues(version).Set(1)
	m.lastVersion = version
}

func (m *Metrics) SetBreakerState(state string) {
	if m == nil {
		return
	}
	for _, known := range []string{"closed", "open", "half_open"} {
		value := 0.0
		if known == state {
			value = 1
		}
		m.breakerState.WithLabelValues(known).Set(value)
	}
}

func statusClass(status int) string {
	if status <= 0 {
		return "unknown"
	}
	class := status / 100
	return fmt.Sprintf("%dxx", class)
}
