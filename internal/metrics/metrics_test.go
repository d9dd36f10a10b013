package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	t.Parallel()

	m := New()
	m.ObserveWorkflow("copy", "success", 1500*time.Millisecond)
	m.ObserveWorkflow("copy", "partial", time.Second)
	m.ObserveStore("read", "ok")
	m.ObserveStore("read", "ok")
	m.ObserveStore("write", "error")
	m.ObservePublication("git", "error")
	m.NotificationFailed()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflows.WithLabelValues("copy", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.workflows.WithLabelValues("copy", "partial")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.storeRequests.WithLabelValues("read", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeRequests.WithLabelValues("write", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.publications.WithLabelValues("git", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifyFailed))

	count, err := testutil.GatherAndCount(m.Registry, "vaultops_workflow_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()

	var m *Metrics
	m.ObserveWorkflow("delete", "success", time.Second)
	m.ObserveStore("delete", "ok")
	m.ObservePublication("local", "ok")
	m.NotificationFailed()
	assert.NoError(t, m.Push(context.Background(), "http://unused", "job", nil))
}

func TestDefaultIsSingleton(t *testing.T) {
	t.Parallel()

	assert.Same(t, Default(), Default())
}

func TestPush(t *testing.T) {
	t.Parallel()

	var path string
	var body string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		body = string(raw)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := New()
	m.ObserveWorkflow("copy", "success", time.Second)

	err := m.Push(context.Background(), server.URL, "vaultops", map[string]string{"instance": "job-1"})
	require.NoError(t, err)
	assert.Equal(t, "/metrics/job/vaultops/instance/job-1", path)
	assert.NotEmpty(t, body)

	assert.NoError(t, m.Push(context.Background(), "", "vaultops", nil), "empty URL disables pushing")
}

func TestPushFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	err := New().Push(context.Background(), server.URL, "vaultops", nil)
	assert.Error(t, err)
}
