package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/unityext/core/activity"
	"github.com/unityext/core/logging"
	"github.com/unityext/core/metrics"
)

func newManager(t *testing.T, opts ...activity.ManagerOption) *activity.Manager {
	t.Helper()
	m, err := activity.NewManager(append([]activity.ManagerOption{activity.WithLogger(logging.Discard())}, opts...)...)
	require.NoError(t, err)
	return m
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func serve(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, nil))
	return w
}

func TestServer_RoutesDependOnOptions(t *testing.T) {
	m := newManager(t)
	srv, err := New(m, WithLogger(logging.Discard()))
	require.NoError(t, err)
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/health").Code)
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/api/status").Code)
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/api/activities").Code)
	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/api/version").Code)

	for _, path := range []string{"/metrics", "/api/profiles", "/api/history", "/api/logs", "/api/config"} {
		assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodGet, path).Code, path)
	}
	assert.Equal(t, http.StatusNotFound, serve(t, h, http.MethodPost, "/reload").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, serve(t, h, http.MethodPost, "/health").Code)
}

func TestServer_AllRoutes(t *testing.T) {
	registry, err := metrics.NewScrapeRegistry(metrics.WithNamespace("engine"))
	require.NoError(t, err)
	profiler := activity.NewProfileHandler()
	history := activity.NewHistory(10)
	hook := logging.NewCapturingLoggerHook(logging.NewLogCollector())
	m := newManager(t,
		activity.WithMetrics(registry),
		activity.WithProfiler(profiler),
		activity.WithHistory(history),
		activity.WithLoggerHook(hook))

	a := activity.New("blink", activity.Update, activity.WithManager(m))
	require.True(t, a.Start())
	require.NoError(t, m.Update())

	srv, err := New(m,
		WithLogger(logging.Discard()),
		WithMetricsHandler(registry.Handler()),
		WithProfiles(profiler),
		WithHistory(history),
		WithLogs(hook.Collector()),
		WithConfigPath(writeConfig(t, "engine:\n  max_threads: 2\n")))
	require.NoError(t, err)
	h := srv.Handler()

	w := serve(t, h, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `engine_activity_completed_total{context="update"} 1`)

	w = serve(t, h, http.MethodGet, "/api/history")
	assert.Contains(t, w.Body.String(), `"id":"blink"`)

	w = serve(t, h, http.MethodGet, "/api/profiles?uid="+a.UID())
	assert.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/api/logs").Code)

	w = serve(t, h, http.MethodGet, "/api/config")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "max_threads: 2")
}

func TestServer_Reload(t *testing.T) {
	m := newManager(t)
	path := writeConfig(t, "engine:\n  async_time_slice: 4ms\n  max_threads: 2\n")

	srv, err := New(m, WithLogger(logging.Discard()), WithConfigPath(path))
	require.NoError(t, err)
	assert.Equal(t, 4*time.Millisecond, m.AsyncTimeSlice())
	assert.Equal(t, 2, m.MaxThreads())

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  async_time_slice: 6ms\n  max_threads: 3\n"), 0o600))
	w := serve(t, srv.Handler(), http.MethodPost, "/reload")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 6*time.Millisecond, m.AsyncTimeSlice())
	assert.Equal(t, 3, m.MaxThreads())
	assert.Equal(t, 3, srv.Config().Engine.MaxThreads)

	require.NoError(t, os.WriteFile(path, []byte("engine:\n  max_threads: -1\n"), 0o600))
	w = serve(t, srv.Handler(), http.MethodPost, "/reload")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, 3, m.MaxThreads(), "a rejected config leaves the engine untouched")
}

func TestServer_ReloadAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	m := newManager(t)
	srv, err := New(m,
		WithLogger(logging.Discard()),
		WithConfigPath(writeConfig(t, "engine:\n  max_threads: 2\n")),
		WithReloadAuth("ops", string(hash)))
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, serve(t, srv.Handler(), http.MethodPost, "/reload").Code)

	req := httptest.NewRequest(http.MethodPost, "/reload", nil)
	req.SetBasicAuth("ops", "s3cret")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestNew_InvalidConfigPath(t *testing.T) {
	_, err := New(newManager(t), WithLogger(logging.Discard()), WithConfigPath(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestServer_Run(t *testing.T) {
	m := newManager(t)
	srv, err := New(m, WithLogger(logging.Discard()), WithListenAddr("127.0.0.1:0"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()

	addr := srv.Addr()
	require.NotEmpty(t, addr)

	resp, err := http.Get("http://" + addr + "/api/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var status map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	assert.Contains(t, status, "engine")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestServer_RunTLS(t *testing.T) {
	certFile, keyFile := writeSelfSigned(t, t.TempDir(), "engine-a")

	srv, err := New(newManager(t),
		WithLogger(logging.Discard()),
		WithListenAddr("127.0.0.1:0"),
		WithTLS(certFile, keyFile))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	client := &http.Client{Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	}}
	resp, err := client.Get("https://" + srv.Addr() + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	require.NotNil(t, resp.TLS)
	assert.Equal(t, "engine-a", resp.TLS.PeerCertificates[0].Subject.CommonName)
}

func TestServer_RunListenError(t *testing.T) {
	srv, err := New(newManager(t), WithLogger(logging.Discard()), WithListenAddr("256.0.0.1:bad"))
	require.NoError(t, err)

	assert.Error(t, srv.Run(context.Background()))
	assert.Empty(t, srv.Addr())
}
