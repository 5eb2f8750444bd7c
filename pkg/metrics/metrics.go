// Package metrics provides Prometheus counters for cleanup runs.
//
// A cleanup is a short-lived process, so nothing is served over HTTP; the
// registry is written to a node_exporter textfile when the run finishes.
// All methods are safe to call on a nil *Metrics.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Tree load sources.
const (
	SourceMemory = "memory"
	SourceDisk   = "disk"
	SourceRemote = "remote"
)

// Metrics holds the counters for one process.
type Metrics struct {
	registry *prometheus.Registry

	deletionsTotal         *prometheus.CounterVec
	treeLoadsTotal         *prometheus.CounterVec
	dependencyLookupsTotal *prometheus.CounterVec
	runsTotal              *prometheus.CounterVec
	runDuration            prometheus.Histogram
}

// New registers the cleanup counters on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		deletionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sfclean_deletions_total",
				Help: "Total number of delete calls by resource kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		treeLoadsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sfclean_folder_tree_loads_total",
				Help: "Total number of folder tree loads by source",
			},
			[]string{"source"},
		),
		dependencyLookupsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sfclean_dependency_lookups_total",
				Help: "Total number of dependency lookups by result",
			},
			[]string{"result"},
		),
		runsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sfclean_runs_total",
				Help: "Total number of cleanup runs by exit code",
			},
			[]string{"exit_code"},
		),
		runDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sfclean_run_duration_seconds",
				Help:    "Cleanup run duration in seconds",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
		),
	}
}

// Registry exposes the underlying registry for gathering.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordDeletion counts one delete call.
func (m *Metrics) RecordDeletion(kind, outcome string) {
	if m == nil {
		return
	}
	m.deletionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordTreeLoad counts a folder tree load served from source.
func (m *Metrics) RecordTreeLoad(source string) {
	if m == nil {
		return
	}
	m.treeLoadsTotal.WithLabelValues(source).Inc()
}

// RecordDependencyLookup counts one dependency lookup.
func (m *Metrics) RecordDependencyLookup(err error, found bool) {
	if m == nil {
		return
	}
	result := "clear"
	switch {
	case err != nil:
		result = "error"
	case found:
		result = "dependent"
	}
	m.dependencyLookupsTotal.WithLabelValues(result).Inc()
}

// RecordRun counts a finished run and its duration.
func (m *Metrics) RecordRun(exitCode int, duration time.Duration) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(fmt.Sprint(exitCode)).Inc()
	m.runDuration.Observe(duration.Seconds())
}

// WriteTextfile writes the registry in the text exposition format. An empty
// path is a no-op.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
