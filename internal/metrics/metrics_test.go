package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gather(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) *dto.Metric {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
	metrics:
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if want, ok := labels[lp.GetName()]; ok && want != lp.GetValue() {
					continue metrics
				}
			}
			return m
		}
	}
	return nil
}

func TestRecorderCollects(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := newRecorder(reg, reg)

	r.ObserveCommand("ReadCard", "success", 120*time.Millisecond)
	r.ObserveCommand("ReadCard", "success", 80*time.Millisecond)
	r.ObserveCommand("ReadCard", "cancelled", time.Millisecond)
	r.SetQueueDepth(3)
	r.IncCancellation("registry")
	r.IncCancellation("disconnect")
	r.IncCancellation("disconnect")
	r.SetSessions(2)

	m := gather(t, reg, "cardhub_commands_total", map[string]string{"kind": "ReadCard", "result": "success"})
	require.NotNil(t, m)
	assert.Equal(t, 2.0, m.GetCounter().GetValue())

	m = gather(t, reg, "cardhub_command_duration_seconds", map[string]string{"kind": "ReadCard"})
	require.NotNil(t, m)
	assert.Equal(t, uint64(3), m.GetHistogram().GetSampleCount())

	m = gather(t, reg, "cardhub_queue_depth", nil)
	require.NotNil(t, m)
	assert.Equal(t, 3.0, m.GetGauge().GetValue())

	m = gather(t, reg, "cardhub_cancellations_total", map[string]string{"source": "disconnect"})
	require.NotNil(t, m)
	assert.Equal(t, 2.0, m.GetCounter().GetValue())

	m = gather(t, reg, "cardhub_sessions", nil)
	require.NotNil(t, m)
	assert.Equal(t, 2.0, m.GetGauge().GetValue())
}

func TestNilRecorderIsNoop(t *testing.T) {
	var r *Recorder
	assert.NotPanics(t, func() {
		r.ObserveCommand("IsConnected", "success", time.Millisecond)
		r.SetQueueDepth(1)
		r.IncCancellation("queued")
		r.SetSessions(1)
	})

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := NewRecorder()
	r.SetQueueDepth(5)

	srv := httptest.NewServer(r.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), "cardhub_queue_depth 5")
	assert.Contains(t, string(body), "go_goroutines")
}
