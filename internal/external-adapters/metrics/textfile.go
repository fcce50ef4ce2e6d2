// Package metrics records run counters and exports them in the Prometheus
// textfile-collector format.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// RunMetrics counts what a single pipeline run did
type RunMetrics struct {
	registry *prometheus.Registry

	built        prometheus.Counter
	reused       prometheus.Counter
	fetched      prometheus.Counter
	uploaded     prometheus.Counter
	deleted      prometheus.Counter
	betaFailures prometheus.Counter
	lastSuccess  prometheus.Gauge
}

// NewRunMetrics creates counters on a private registry
func NewRunMetrics() *RunMetrics {
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		built: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposync_artifacts_built_total",
			Help: "Packages rebuilt from upstream sources.",
		}),
		reused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposync_artifacts_reused_total",
			Help: "Packages reused from the local artifact directory.",
		}),
		fetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposync_artifacts_fetched_total",
			Help: "Packages fetched back from the storage backend and reused.",
		}),
		uploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposync_assets_uploaded_total",
			Help: "Files uploaded to the storage backend.",
		}),
		deleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposync_assets_deleted_total",
			Help: "Files deleted from the storage backend.",
		}),
		betaFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "reposync_beta_failures_total",
			Help: "Beta builds skipped because of a bad download.",
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "reposync_last_run_success",
			Help: "1 if the last run finished without a fatal error.",
		}),
	}
	m.registry.MustRegister(m.built, m.reused, m.fetched, m.uploaded, m.deleted, m.betaFailures, m.lastSuccess)
	return m
}

// Built counts a rebuilt package
func (m *RunMetrics) Built() { m.built.Inc() }

// Reused counts a package reused from disk
func (m *RunMetrics) Reused() { m.reused.Inc() }

// Fetched counts a package restored from the backend
func (m *RunMetrics) Fetched() { m.fetched.Inc() }

// Uploaded counts an uploaded asset
func (m *RunMetrics) Uploaded() { m.uploaded.Inc() }

// Deleted counts a deleted asset
func (m *RunMetrics) Deleted() { m.deleted.Inc() }

// BetaFailure counts a skipped beta build
func (m *RunMetrics) BetaFailure() { m.betaFailures.Inc() }

// Finish records the run outcome
func (m *RunMetrics) Finish(success bool) {
	if success {
		m.lastSuccess.Set(1)
		return
	}
	m.lastSuccess.Set(0)
}

// Gatherer exposes the registry for inspection
func (m *RunMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile atomically writes all metrics to path
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
