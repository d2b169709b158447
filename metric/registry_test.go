package metric

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryHasCoreMetrics(t *testing.T) {
	r := NewRegistry()

	require.NotNil(t, r.Metrics)
	r.Metrics.ActiveJars.Set(3)
	r.Metrics.CommandsEnqueued.WithLabelValues("machine").Inc()
	r.Metrics.SnapshotsStored.Inc()

	families, err := r.PrometheusRegistry().Gather()
	require.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["pond_jars_active"])
	assert.True(t, names["pond_commands_enqueued_total"])
	assert.True(t, names["pond_snapshots_stored_total"])
}

func TestRegisterAndUnregister(t *testing.T) {
	r := NewRegistry()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "host_custom_gauge"})
	require.NoError(t, r.Register("custom", gauge))

	err := r.Register("custom", gauge)
	require.Error(t, err, "duplicate name rejected")

	assert.True(t, r.Unregister("custom"))
	assert.False(t, r.Unregister("custom"))
}

func TestHandlerServesExposition(t *testing.T) {
	r := NewRegistry()
	r.Metrics.ActiveJars.Set(1)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 200, resp.StatusCode)
}
