package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unityext/core/activity"
	"github.com/unityext/core/config"
	"github.com/unityext/core/logging"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Config{
		Monitoring: config.MonitoringConfig{ListenAddr: "127.0.0.1:0"},
		Activities: []config.ActivityConfig{
			{ID: "blink", Context: "update"},
			{ID: "compact", Context: "thread", Duration: time.Millisecond},
			{ID: "nightly", Context: "async", Duration: time.Hour},
		},
		Schedules: "nightly:0 3 * * *",
	}
	cfg.SetDefaults()
	cfg.Host.FrameInterval = time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

func runApp(t *testing.T, a *app) (cancel func() error) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return func() error {
		stop()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("app did not stop")
			return nil
		}
	}
}

func finished(a *app) map[string]bool {
	ids := make(map[string]bool)
	for _, run := range a.manager.history.Runs() {
		if run.State == activity.Complete {
			ids[run.ID] = true
		}
	}
	return ids
}

func TestApp_RunsUnscheduledActivities(t *testing.T) {
	a, err := newApp(testConfig(t), "", logging.Discard())
	require.NoError(t, err)
	require.NotNil(t, a.scheduler)
	require.Len(t, a.unscheduled, 2)

	stop := runApp(t, a)

	require.Eventually(t, func() bool {
		done := finished(a)
		return done["blink"] && done["compact"]
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, finished(a)["nightly"], "scheduled activities wait for their trigger")
	for _, timer := range a.unscheduled {
		assert.Equal(t, "100%", a.statuses.Status(timer.UID()), timer.ID())
	}

	resp, err := http.Get("http://" + a.server.Addr() + "/api/history")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, stop())
	assert.True(t, a.manager.Stats().ShutDown)
	assert.Positive(t, a.driver.Frames())
}

func TestApp_PushesMetricsOnShutdown(t *testing.T) {
	var writes atomic.Int32
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writes.Add(1)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(remote.Close)

	cfg := testConfig(t)
	cfg.Monitoring.ListenAddr = ""
	cfg.Monitoring.PushURL = remote.URL
	cfg.Monitoring.PushSchedule = "0 0 1 1 *"

	a, err := newApp(cfg, "", logging.Discard())
	require.NoError(t, err)
	assert.Nil(t, a.server)
	require.NotNil(t, a.flusher)

	stop := runApp(t, a)
	require.Eventually(t, func() bool { return finished(a)["blink"] }, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, stop())

	assert.Equal(t, int32(1), writes.Load())
}

func TestNewApp_InvalidTLS(t *testing.T) {
	cfg := testConfig(t)
	cfg.Monitoring.TLSCert = "missing.crt"
	cfg.Monitoring.TLSKey = "missing.key"

	_, err := newApp(cfg, "", logging.Discard())
	assert.ErrorContains(t, err, "failed to create server")
}
