package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()
	m.RecordDeletion("dataextension", "success")
	m.RecordDeletion("dataextension", "success")
	m.RecordDeletion("folder", "failure")
	m.RecordTreeLoad(SourceRemote)
	m.RecordDependencyLookup(nil, true)
	m.RecordDependencyLookup(errors.New("boom"), false)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.deletionsTotal.WithLabelValues("dataextension", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.deletionsTotal.WithLabelValues("folder", "failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.treeLoadsTotal.WithLabelValues(SourceRemote)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dependencyLookupsTotal.WithLabelValues("dependent")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.dependencyLookupsTotal.WithLabelValues("error")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordDeletion("folder", "success")
	m.RecordTreeLoad(SourceDisk)
	m.RecordRun(0, time.Second)
	assert.NoError(t, m.WriteTextfile("ignored.prom"))
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.RecordRun(1, 3*time.Second)

	path := filepath.Join(t.TempDir(), "sfclean.prom")
	require.NoError(t, m.WriteTextfile(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `sfclean_runs_total{exit_code="1"} 1`)
}
