// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-keychain-pgp.
//
// go-keychain-pgp is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for the OpenPGP
// service: dispatch outcomes per action, interaction requests, the
// continuation cache, the HTTP surface and process resources.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all metrics.
	Namespace = "keychain_pgp"

	// Label names
	LabelAction     = "action"
	LabelStatus     = "status"
	LabelReason     = "reason"
	LabelErrorType  = "error_type"
	LabelEvent      = "event"
	LabelBackend    = "backend"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Continuation cache events
	CacheHit    = "hit"
	CacheMiss   = "miss"
	CacheStore  = "store"
	CacheEvict  = "evict"
	CacheSupply = "supply"
)

var (
	// DispatchTotal counts dispatched requests by action and result status.
	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "dispatch_total",
			Help:      "Total number of dispatched requests by action and result status",
		},
		[]string{LabelAction, LabelStatus},
	)

	// DispatchDuration tracks how long a dispatch takes, including the
	// cryptographic work.
	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of dispatched requests in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{LabelAction},
	)

	// PendingTotal counts results asking the caller for more input.
	PendingTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "pending_total",
			Help:      "Total number of user interaction requests by action and required input",
		},
		[]string{LabelAction, LabelReason},
	)

	// ErrorsTotal counts error results by action and error kind.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "errors_total",
			Help:      "Total number of error results by action and error kind",
		},
		[]string{LabelAction, LabelErrorType},
	)

	// ContinuationEvents counts continuation cache activity.
	ContinuationEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "continuation",
			Name:      "events_total",
			Help:      "Continuation cache hits, misses, stores, evictions and supplied inputs",
		},
		[]string{LabelEvent},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// HTTPActiveRequests is the number of in-flight HTTP requests.
	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "active_requests",
			Help:      "Number of in-flight HTTP requests",
		},
	)

	// KeysTotal is the number of key rings in the store.
	KeysTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "keys_total",
			Help:      "Number of key rings in the key store",
		},
	)

	// BackendHealthy indicates whether a storage backend is healthy (1) or not (0).
	BackendHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "backend_healthy",
			Help:      "Indicates whether a storage backend is healthy (1) or unhealthy (0)",
		},
		[]string{LabelBackend},
	)

	// Goroutines tracks the current number of goroutines.
	// Updated periodically by the resource collector.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// ServerUptime tracks the server uptime in seconds since startup.
	ServerUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "server_uptime_seconds",
			Help:      "Server uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordDispatch records one dispatched request.
//
// Example:
//
//	start := time.Now()
//	result := dispatcher.Dispatch(ctx, caller, req)
//	metrics.RecordDispatch(string(req.Action), result.Status.String(), time.Since(start).Seconds())
func RecordDispatch(action, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	DispatchTotal.WithLabelValues(action, status).Inc()
	DispatchDuration.WithLabelValues(action).Observe(duration)
}

// RecordPending records a result asking for reason (a required input kind).
func RecordPending(action, reason string) {
	if !enabled.Load() {
		return
	}
	PendingTotal.WithLabelValues(action, reason).Inc()
}

// RecordError records an error result of the given kind.
func RecordError(action, errorType string) {
	if !enabled.Load() {
		return
	}
	ErrorsTotal.WithLabelValues(action, errorType).Inc()
}

// RecordContinuation records a continuation cache event (use Cache*).
func RecordContinuation(event string) {
	if !enabled.Load() {
		return
	}
	ContinuationEvents.WithLabelValues(event).Inc()
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// SetKeysTotal sets the number of stored key rings.
func SetKeysTotal(count int) {
	if !enabled.Load() {
		return
	}
	KeysTotal.Set(float64(count))
}

// SetBackendHealth sets the health status of a storage backend.
func SetBackendHealth(backend string, healthy bool) {
	if !enabled.Load() {
		return
	}
	value := 0.0
	if healthy {
		value = 1.0
	}
	BackendHealthy.WithLabelValues(backend).Set(value)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection. Useful for testing.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
