// Package metrics exposes Prometheus counters for workflow runs. A run is a
// short-lived process, so metrics are pushed to a Pushgateway at exit rather
// than scraped.
package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics holds the collectors of one process. All methods are safe on a nil
// receiver.
type Metrics struct {
	Registry *prometheus.Registry

	workflows     *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	storeRequests *prometheus.CounterVec
	publications  *prometheus.CounterVec
	notifyFailed  prometheus.Counter
}

var (
	defaultMetrics *Metrics
	defaultOnce    sync.Once
)

// Default returns the process-wide Metrics, creating it on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates Metrics on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		workflows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultops_workflow_runs_total",
			Help: "Workflow runs by action and outcome (success, partial, failure)",
		}, []string{"action", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vaultops_workflow_duration_seconds",
			Help:    "Wall time of workflow runs",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"action"}),
		storeRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultops_store_requests_total",
			Help: "Secret store requests by operation and result",
		}, []string{"operation", "result"}),
		publications: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vaultops_manifest_publications_total",
			Help: "Manifest publications by mode and result",
		}, []string{"mode", "result"}),
		notifyFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "vaultops_notification_failures_total",
			Help: "Notifications abandoned after exhausting retries",
		}),
	}
}

// ObserveWorkflow records one finished workflow.
func (m *Metrics) ObserveWorkflow(action, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.workflows.WithLabelValues(action, outcome).Inc()
	m.duration.WithLabelValues(action).Observe(elapsed.Seconds())
}

// ObserveStore records one secret store request.
func (m *Metrics) ObserveStore(op, result string) {
	if m == nil {
		return
	}
	m.storeRequests.WithLabelValues(op, result).Inc()
}

// ObservePublication records one manifest publication.
func (m *Metrics) ObservePublication(mode, result string) {
	if m == nil {
		return
	}
	m.publications.WithLabelValues(mode, result).Inc()
}

// NotificationFailed records an abandoned notification.
func (m *Metrics) NotificationFailed() {
	if m == nil {
		return
	}
	m.notifyFailed.Inc()
}

// Push sends every collector to the Pushgateway at url under job, replacing
// the previous push for the same grouping.
func (m *Metrics) Push(ctx context.Context, url, job string, grouping map[string]string) error {
	if m == nil || url == "" {
		return nil
	}
	pusher := push.New(url, job).Gatherer(m.Registry)
	for k, v := range grouping {
		pusher = pusher.Grouping(k, v)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics to %s: %w", url, err)
	}
	return nil
}
