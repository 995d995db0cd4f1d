package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/smazurov/detectnode/internal/events"
)

// writeWorkers lays out a worker dir whose single detection stage runs script.
func writeWorkers(t *testing.T, script string) (workersFile, source string) {
	t.Helper()
	dir := t.TempDir()
	mustWrite(t, filepath.Join(dir, "obj.sh"), script)
	mustWrite(t, filepath.Join(dir, "models", "m.pt"), "weights")
	for _, s := range []string{"aud.sh", "cam.sh", "ipcam.sh"} {
		mustWrite(t, filepath.Join(dir, s), "exit 0\n")
	}
	source = filepath.Join(dir, "clip.mp4")
	mustWrite(t, source, "x")

	workersFile = filepath.Join(dir, "workers.toml")
	mustWrite(t, workersFile, fmt.Sprintf(`
python = "sh"
worker_dir = %q
models_dir = %q
results_root = %q
grace_period = "500ms"

[audio]
script = "aud.sh"
parser = "raw"

[camera]
script = "cam.sh"
parser = "raw"
default_model = "m.pt"

[ip_camera]
script = "ipcam.sh"
parser = "raw"

[[stages]]
name = "objects"
model = "m.pt"
script = "obj.sh"
output_dir = "predict"
parser = "detect"
`, dir, filepath.Join(dir, "models"), filepath.Join(dir, "runs")))
	return workersFile, source
}

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func decodeLines(t *testing.T, out string) []events.Analysis {
	t.Helper()
	var evs []events.Analysis
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		var ev events.Analysis
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			t.Fatalf("bad line %q: %v", line, err)
		}
		evs = append(evs, ev)
	}
	return evs
}

func TestRunAnalyzePrintsJSONLines(t *testing.T) {
	workers, source := writeWorkers(t, "echo 'detected 1 objects: knife'\n")

	var out bytes.Buffer
	if err := RunAnalyze(context.Background(), source, AnalyzeOptions{WorkersFile: workers}, &out); err != nil {
		t.Fatalf("RunAnalyze: %v", err)
	}
	evs := decodeLines(t, out.String())
	last := evs[len(evs)-1]
	if last.Status != events.StatusComplete || len(last.Classes) != 1 || last.Classes[0] != "knife" {
		t.Errorf("terminal = %+v", last)
	}
}

func TestRunAnalyzeFailure(t *testing.T) {
	workers, source := writeWorkers(t, "exit 4\n")

	var out bytes.Buffer
	err := RunAnalyze(context.Background(), source, AnalyzeOptions{WorkersFile: workers}, &out)
	if !errors.Is(err, ErrAnalysisFailed) {
		t.Fatalf("expected ErrAnalysisFailed, got %v", err)
	}
	evs := decodeLines(t, out.String())
	if last := evs[len(evs)-1]; last.Error != "objects exited with code 4" {
		t.Errorf("terminal = %+v", last)
	}
}

func TestRunAnalyzeAudio(t *testing.T) {
	workers, source := writeWorkers(t, "exit 0\n")

	var out bytes.Buffer
	if err := RunAnalyze(context.Background(), source, AnalyzeOptions{WorkersFile: workers, Audio: true}, &out); err != nil {
		t.Fatalf("RunAnalyze: %v", err)
	}
	evs := decodeLines(t, out.String())
	if last := evs[len(evs)-1]; last.Message != "Audio analysis complete" {
		t.Errorf("terminal = %+v", last)
	}
}

func TestRunAnalyzeMissingSource(t *testing.T) {
	workers, _ := writeWorkers(t, "exit 0\n")
	err := RunAnalyze(context.Background(), "/nonexistent.mp4", AnalyzeOptions{WorkersFile: workers}, &bytes.Buffer{})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestCheckWorkers(t *testing.T) {
	workers, _ := writeWorkers(t, "exit 0\n")

	var out bytes.Buffer
	if err := CheckWorkers(workers, &out); err != nil {
		t.Fatalf("CheckWorkers: %v\n%s", err, out.String())
	}
	if !strings.Contains(out.String(), "ready") {
		t.Errorf("output = %q", out.String())
	}

	if err := os.Remove(filepath.Join(filepath.Dir(workers), "models", "m.pt")); err != nil {
		t.Fatal(err)
	}
	out.Reset()
	if err := CheckWorkers(workers, &out); err == nil {
		t.Fatal("expected an error for a missing model")
	}
	if !strings.Contains(out.String(), "model not found") {
		t.Errorf("output = %q", out.String())
	}
}
