package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"digwatch/internal/metrics"
)

func TestRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	r, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	r.RecordProbe(time.Millisecond, true, nil)
	r.RecordProbe(time.Millisecond, false, nil)
	r.RecordProbe(time.Millisecond, false, errors.New("timeout"))
	r.RecordFetch(time.Millisecond, 128, nil)
	r.RecordFetch(time.Millisecond, 0, errors.New("reset"))
	r.IncDispatch()
	r.IncTile("rendered")
	r.IncTile("rendered")
	r.IncTile("rejected")
	r.SetActiveTasks(3)
	r.SetLiveTasks(1)
	r.IncPollFailure("snapshot")

	mfs, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	for _, name := range []string{
		"digwatch_store_operation_duration_seconds",
		"digwatch_store_operation_errors_total",
		"digwatch_store_fetched_bytes_total",
		"digwatch_reconciler_dispatches_total",
		"digwatch_reconciler_tiles_total",
		"digwatch_reconciler_active_tasks",
		"digwatch_reconciler_live_tasks",
		"digwatch_reconciler_poll_failures_total",
	} {
		assert.True(t, names[name], "missing metric %s", name)
	}

	n, err := testutil.GatherAndCount(reg, "digwatch_store_operation_errors_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = testutil.GatherAndCount(reg, "digwatch_reconciler_tiles_total")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestNewRecorderReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewRecorder(reg)
	require.NoError(t, err)

	second, err := metrics.NewRecorder(reg)
	require.NoError(t, err)
	second.IncDispatch()
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *metrics.Recorder
	r.RecordProbe(0, true, nil)
	r.RecordFetch(0, 1, nil)
	r.IncDispatch()
	r.IncTile("rendered")
	r.SetActiveTasks(1)
	r.SetLiveTasks(1)
	r.IncPollFailure("live")
}
