package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWorkerCounters(t *testing.T) {
	before := GetSnapshot()

	WorkerSpawned("objects")
	WorkerSpawned("objects")
	mid := GetSnapshot()
	if mid.Live != before.Live+2 {
		t.Errorf("Live = %d, want %d", mid.Live, before.Live+2)
	}
	if mid.Spawned["objects"] != before.Spawned["objects"]+2 {
		t.Errorf("Spawned = %d", mid.Spawned["objects"])
	}

	WorkerExited("objects", ExitSuccess, true)
	WorkerExited("objects", ExitSignaled, true)
	WorkerExited("objects", ExitFailure, false)
	after := GetSnapshot()
	if after.Live != before.Live {
		t.Errorf("Live = %d after exits, want %d", after.Live, before.Live)
	}

	// Returned maps are copies.
	after.Spawned["objects"] = 1000
	if GetSnapshot().Spawned["objects"] == 1000 {
		t.Error("snapshot shares cache map")
	}
}

func TestExitOutcome(t *testing.T) {
	tests := []struct {
		code   int
		signal string
		want   string
	}{
		{0, "", ExitSuccess},
		{2, "", ExitFailure},
		{-1, "terminated", ExitSignaled},
	}
	for _, tt := range tests {
		if got := ExitOutcome(tt.code, tt.signal); got != tt.want {
			t.Errorf("ExitOutcome(%d, %q) = %q, want %q", tt.code, tt.signal, got, tt.want)
		}
	}
}

func TestPipelineFinishedAndHandler(t *testing.T) {
	before := GetSnapshot().Pipelines["complete"]
	PipelineFinished("file", "complete", "dangerous_object", 3*time.Second)
	EventRelayed("camera", "frame")
	WorkerSpawned("violence")
	WorkerExited("violence", ExitSuccess, true)

	if got := GetSnapshot().Pipelines["complete"]; got != before+1 {
		t.Errorf("Pipelines[complete] = %d, want %d", got, before+1)
	}

	rec := httptest.NewRecorder()
	HTTPHandler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, name := range []string{
		"detectnode_pipeline_runs_total",
		"detectnode_pipeline_early_exits_total",
		"detectnode_relay_events_total",
		"detectnode_worker_spawned_total",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
