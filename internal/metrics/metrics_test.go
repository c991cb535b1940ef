package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjeanneret/pixkeep/internal/failure"
)

func newObserver(t *testing.T) *PrometheusObserver {
	t.Helper()
	o, err := NewPrometheusObserver(prometheus.NewRegistry())
	require.NoError(t, err)
	return o
}

// scrape returns the exposition text served by o.
func scrape(t *testing.T, o *PrometheusObserver) string {
	t.Helper()
	srv := httptest.NewServer(o.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestRecordRun_CountsOutcomeAndKind(t *testing.T) {
	o := newObserver(t)

	o.RecordRun("fetch-and-persist", 20*time.Millisecond, nil)
	o.RecordRun("fetch-and-persist", 5*time.Millisecond, failure.Newf(failure.NetworkFailure, "fetch", "status 404"))
	o.RecordRun("fetch-and-persist", 5*time.Millisecond, failure.Newf(failure.NetworkFailure, "fetch", "status 500"))
	o.RecordRun("capture-and-persist", time.Millisecond, errors.New("untyped"))

	body := scrape(t, o)
	for _, want := range []string{
		`pixkeep_flow_runs_total{flow="fetch-and-persist",outcome="resolved"} 1`,
		`pixkeep_flow_runs_total{flow="fetch-and-persist",outcome="failed"} 2`,
		`pixkeep_flow_failures_total{flow="fetch-and-persist",kind="NetworkFailure"} 2`,
		`pixkeep_flow_failures_total{flow="capture-and-persist",kind="Unknown"} 1`,
		`pixkeep_flow_duration_seconds_count{flow="fetch-and-persist"} 3`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestRecordPersisted(t *testing.T) {
	o := newObserver(t)
	o.RecordPersisted("capture-and-persist", 1024)
	o.RecordPersisted("capture-and-persist", 0)

	assert.Contains(t, scrape(t, o), `pixkeep_persisted_bytes_total{flow="capture-and-persist"} 1024`)
}

func TestRecordNetwork_KeepsOneActiveType(t *testing.T) {
	o := newObserver(t)
	o.RecordNetwork(true, "wifi")
	o.RecordNetwork(false, "none")

	body := scrape(t, o)
	assert.Contains(t, body, "pixkeep_network_connected 0")
	assert.Contains(t, body, `pixkeep_network_connection_type{type="none"} 1`)
	assert.NotContains(t, body, `type="wifi"`)
}

func TestNewPrometheusObserver_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusObserver(reg)
	require.NoError(t, err)
	second, err := NewPrometheusObserver(reg)
	require.NoError(t, err, "registering twice on one registry must not fail")

	first.RecordPersisted("capture-and-persist", 1)
	second.RecordPersisted("capture-and-persist", 2)
	assert.Contains(t, scrape(t, second), `pixkeep_persisted_bytes_total{flow="capture-and-persist"} 3`)
}

func TestNewPrometheusObserver_DefaultRegistry(t *testing.T) {
	o, err := NewPrometheusObserver(nil)
	require.NoError(t, err)
	assert.Contains(t, scrape(t, o), "go_goroutines")
}

func TestNilAndNop(t *testing.T) {
	var o *PrometheusObserver
	o.RecordRun("x", time.Second, nil)
	o.RecordPersisted("x", 1)
	o.RecordNetwork(true, "wifi")

	n := Nop()
	n.RecordRun("x", time.Second, nil)
	n.RecordPersisted("x", 1)
	n.RecordNetwork(true, "wifi")
}
