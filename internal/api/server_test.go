package api

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smazurov/detectnode/internal/api/models"
	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/metrics"
	"github.com/smazurov/detectnode/internal/process"
)

var testAuth = base64.StdEncoding.EncodeToString([]byte("test:test"))

type testServer struct {
	*httptest.Server
	api      *Server
	registry *process.Registry
	bus      *events.Bus
	workers  config.Workers
}

// testWorkers runs every worker through sh with scripts in a temp dir.
func testWorkers(t *testing.T) config.Workers {
	t.Helper()
	dir := t.TempDir()
	w := config.DefaultWorkers()
	w.Python = "sh"
	w.WorkerDir = dir
	w.ModelsDir = filepath.Join(dir, "models")
	w.ResultsRoot = filepath.Join(dir, "runs", "detect")
	w.GracePeriod = "500ms"
	return w
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestServer(t *testing.T, w config.Workers, mutate func(*Options)) *testServer {
	t.Helper()
	reg := process.NewRegistry(&process.RegistryOptions{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	bus := events.New()
	opts := &Options{
		AuthUsername: "test",
		AuthPassword: "test",
		Registry:     reg,
		EventBus:     bus,
		Workers:      func() config.Workers { return w },
	}
	if mutate != nil {
		mutate(opts)
	}
	s := NewServer(opts)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		reg.StopAll()
		ts.Close()
	})
	return &testServer{Server: ts, api: s, registry: reg, bus: bus, workers: w}
}

func (ts *testServer) do(t *testing.T, method, path, body string) *http.Response {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, ts.URL+path, r)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Basic "+testAuth)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

// stream opens an SSE endpoint and returns the data payloads as they arrive.
func (ts *testServer) stream(t *testing.T, path string) <-chan string {
	t.Helper()
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	resp, err := http.Get(ts.URL + path + sep + "auth=" + testAuth)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", path, resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("expected SSE content type, got %s", ct)
	}

	ch := make(chan string, 64)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			if data, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
				ch <- data
			}
		}
	}()
	return ch
}

// analysis reads events until a terminal one or the stream ends.
func analysis(t *testing.T, ch <-chan string) []events.Analysis {
	t.Helper()
	var out []events.Analysis
	timeout := time.After(5 * time.Second)
	for {
		select {
		case data, ok := <-ch:
			if !ok {
				return out
			}
			var ev events.Analysis
			if err := json.Unmarshal([]byte(data), &ev); err != nil {
				t.Fatalf("bad event %q: %v", data, err)
			}
			out = append(out, ev)
			if ev.Status.Terminal() {
				return out
			}
		case <-timeout:
			t.Fatalf("timed out, got %+v", out)
		}
	}
}

func TestHealthWithoutAuth(t *testing.T) {
	ts := newTestServer(t, testWorkers(t), nil)

	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if body := decode[models.HealthData](t, resp); body.Status != "ok" {
		t.Errorf("unexpected health %+v", body)
	}
}

func TestAuthRequired(t *testing.T) {
	ts := newTestServer(t, testWorkers(t), nil)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong type", "Bearer x", http.StatusUnauthorized},
		{"wrong password", "Basic " + base64.StdEncoding.EncodeToString([]byte("test:nope")), http.StatusUnauthorized},
		{"valid", "Basic " + testAuth, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodGet, ts.URL+"/api/workers", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.want == http.StatusUnauthorized && resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestCameraSocketRequiresAuth(t *testing.T) {
	ts := newTestServer(t, testWorkers(t), nil)

	resp, err := http.Get(ts.URL + "/ws/camera")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}

func TestWorkersList(t *testing.T) {
	ts := newTestServer(t, testWorkers(t), nil)

	sess := process.NewSession(process.Options{
		Name:    "objects",
		Program: "sh",
		Args:    []string{"-c", "while :; do sleep 0.1; done"},
	}, ts.registry)
	if err := sess.Start(); err != nil {
		t.Fatal(err)
	}
	defer func() {
		sess.Stop()
		<-sess.Done()
	}()

	body := decode[models.WorkerListData](t, ts.do(t, http.MethodGet, "/api/workers", ""))
	if body.Count != 1 || body.Workers[0].Name != "objects" || body.Workers[0].PID == 0 {
		t.Errorf("unexpected workers %+v", body)
	}
	if body.Stopping {
		t.Error("registry should not be stopping")
	}
}

func TestWorkersCheck(t *testing.T) {
	ts := newTestServer(t, testWorkers(t), nil)

	body := decode[models.WorkerCheckData](t, ts.do(t, http.MethodGet, "/api/workers/check", ""))
	if body.OK || len(body.Problems) == 0 {
		t.Errorf("expected problems for an empty worker dir, got %+v", body)
	}
}

func TestAdminStopAndReset(t *testing.T) {
	var shutdowns atomic.Int32
	ts := newTestServer(t, testWorkers(t), func(o *Options) {
		o.Shutdown = func() { shutdowns.Add(1) }
		o.ShutdownDelay = 10 * time.Millisecond
	})
	stopped := make(chan events.RegistryStoppedEvent, 1)
	defer ts.bus.Subscribe(func(e events.RegistryStoppedEvent) { stopped <- e })()

	resp := ts.do(t, http.MethodPost, "/api/admin/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	body := decode[models.AdminStopData](t, resp)
	if !body.Exiting || body.Stopped != 0 {
		t.Errorf("unexpected stop response %+v", body)
	}
	if !ts.registry.Stopping() {
		t.Error("registry not stopping")
	}
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Error("RegistryStoppedEvent not published")
	}

	deadline := time.Now().Add(time.Second)
	for shutdowns.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if shutdowns.Load() != 1 {
		t.Errorf("shutdown called %d times", shutdowns.Load())
	}

	health := decode[models.HealthData](t, ts.do(t, http.MethodGet, "/api/health", ""))
	if health.Status != "stopping" {
		t.Errorf("health = %+v", health)
	}

	ts.do(t, http.MethodPost, "/api/admin/reset", "")
	if ts.registry.Stopping() {
		t.Error("reset did not re-arm the registry")
	}
}

func TestCameraStopWhenIdle(t *testing.T) {
	ts := newTestServer(t, testWorkers(t), nil)

	for _, path := range []string{"/api/camera/stop", "/api/ip-camera/stop"} {
		body := decode[models.MessageData](t, ts.do(t, http.MethodPost, path, ""))
		if !strings.HasPrefix(body.Message, "No ") {
			t.Errorf("%s: %q", path, body.Message)
		}
	}
}

func TestLogLevels(t *testing.T) {
	ts := newTestServer(t, testWorkers(t), nil)

	resp := ts.do(t, http.MethodPut, "/api/logs/levels/pipeline", `{"level":"debug"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	levels := decode[map[string]string](t, resp)
	if levels["pipeline"] != "debug" {
		t.Errorf("levels = %v", levels)
	}

	resp = ts.do(t, http.MethodPut, "/api/logs/levels/pipeline", `{"level":"loud"}`)
	if resp.StatusCode < 400 {
		t.Errorf("invalid level accepted with status %d", resp.StatusCode)
	}
}

func TestPrometheusEndpoint(t *testing.T) {
	ts := newTestServer(t, testWorkers(t), func(o *Options) {
		o.PrometheusHandler = metrics.HTTPHandler()
	})
	metrics.EventRelayed("file", "info")

	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "detectnode_relay_events_total") {
		t.Errorf("status %d, body missing relay counter", resp.StatusCode)
	}
}
