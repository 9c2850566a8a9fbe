package metrics

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/assetsync/pkg/logging"
	"github.com/agentstation/assetsync/pkg/pipeline"
	"github.com/agentstation/assetsync/pkg/reconciler"
	"github.com/agentstation/assetsync/pkg/registry"
	"github.com/agentstation/assetsync/pkg/tree"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return New(reg, reg)
}

func TestObserveStoreCall(t *testing.T) {
	m := newTestMetrics()
	m.ObserveStoreCall(registry.OpCreate, "ok", 10*time.Millisecond)
	m.ObserveStoreCall(registry.OpCreate, "ok", 20*time.Millisecond)
	m.ObserveStoreCall(registry.OpDelete, "not_found", time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.storeCallsTotal.WithLabelValues("create", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.storeCallsTotal.WithLabelValues("delete", "not_found")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.storeCallDuration))
}

func TestCycleResult(t *testing.T) {
	tests := []struct {
		name string
		res  *reconciler.Result
		want string
	}{
		{"ok", &reconciler.Result{}, "ok"},
		{"skipped", &reconciler.Result{Skipped: true, Failure: pipeline.NewFailure(pipeline.Warning, "down")}, "skipped"},
		{"warning", &reconciler.Result{Failure: pipeline.NewFailure(pipeline.Warning, "x")}, "warning"},
		{"info", &reconciler.Result{Failure: pipeline.NewFailure(pipeline.Info, "x")}, "info"},
		{"fatal", &reconciler.Result{Failure: pipeline.NewFailure(pipeline.Fatal, "x")}, "fatal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cycleResult(tt.res))
		})
	}
}

func TestObserveCycle_WithReconciler(t *testing.T) {
	logging.DisableLoggingForTest(t)
	m := newTestMetrics()
	const uri = "http://aas:8081"

	rec, err := reconciler.New(registry.NewMemory(),
		reconciler.WithRecorder(m),
		reconciler.WithObserver(m.ObserveCycle),
	)
	require.NoError(t, err)
	src := reconciler.NewMockSource(uri, tree.NewSubmodel("urn:sm:1", "M1",
		tree.NewProperty("P1", "a"),
		tree.NewProperty("P2", "b"),
	))
	rec.AddSource(src)

	_, err = rec.Reconcile(context.Background(), uri)
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues(uri, "sync", "ok")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.resourcesTotal.WithLabelValues(uri, "added")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.registered.WithLabelValues(uri)))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.storeCallsTotal.WithLabelValues("create", "ok")))

	_, err = rec.Unregister(context.Background(), uri)
	require.NoError(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cyclesTotal.WithLabelValues(uri, "cleanup", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.registered.WithLabelValues(uri)))
}

func TestHandler(t *testing.T) {
	m := newTestMetrics()
	m.SetRegistered("http://aas:8081", 7)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.True(t, strings.Contains(string(body), `assetsync_registered_resources{source="http://aas:8081"} 7`))

	m.Forget("http://aas:8081")
	assert.Equal(t, 0, testutil.CollectAndCount(m.registered))
}
