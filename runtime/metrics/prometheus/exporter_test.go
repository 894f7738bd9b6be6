package prometheus

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(t *testing.T, url string) string {
	t.Helper()
	resp, err := http.Get(url) //nolint:noctx // test helper
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestServe_LabelsEveryMetricWithTheSuite(t *testing.T) {
	exp, err := Serve("127.0.0.1:0", WithSuiteLabel("nightly"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	body := get(t, "http://"+exp.Addr()+"/metrics")
	assert.Contains(t, body, `lev_runs_active{suite="nightly"}`)
	assert.Contains(t, body, "go_goroutines")
	assert.Equal(t, "ok", get(t, "http://"+exp.Addr()+"/healthz"))

	families, err := exp.Gather()
	require.NoError(t, err)
	active := findFamily(families, "lev_runs_active")
	require.NotNil(t, active)
	assert.Equal(t, "nightly", labelValue(active.GetMetric()[0], "suite"))
	require.NotNil(t, findFamily(families, "go_goroutines"))
	assert.Empty(t, labelValue(findFamily(families, "go_goroutines").GetMetric()[0], "suite"),
		"runtime collectors are not suite-scoped")
}

func TestServe_WithoutRuntimeMetrics(t *testing.T) {
	exp, err := Serve("127.0.0.1:0", WithoutRuntimeMetrics())
	require.NoError(t, err)
	t.Cleanup(func() { _ = exp.Shutdown(context.Background()) })

	families, err := exp.Gather()
	require.NoError(t, err)
	assert.Nil(t, findFamily(families, "go_goroutines"))
	active := findFamily(families, "lev_runs_active")
	require.NotNil(t, active)
	assert.Empty(t, active.GetMetric()[0].GetLabel())
}

func TestServe_BadAddress(t *testing.T) {
	_, err := Serve("256.0.0.1:-1")
	assert.ErrorContains(t, err, "listen on")
}

func TestExporter_Shutdown(t *testing.T) {
	exp, err := Serve("127.0.0.1:0", WithoutRuntimeMetrics())
	require.NoError(t, err)
	addr := exp.Addr()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, exp.Shutdown(ctx))
	require.NoError(t, exp.Shutdown(ctx), "second shutdown is a no-op")

	client := &http.Client{Timeout: time.Second}
	_, err = client.Get("http://" + addr + "/metrics") //nolint:noctx // test
	assert.Error(t, err)
}
