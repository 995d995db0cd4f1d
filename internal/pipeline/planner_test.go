package pipeline

import (
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/process"
)

func testPlanner(mutate func(*config.Workers)) *Planner {
	w := config.DefaultWorkers()
	if mutate != nil {
		mutate(&w)
	}
	return NewPlanner(func() config.Workers { return w })
}

func argValue(args []string, flag string) (string, bool) {
	i := slices.Index(args, flag)
	if i < 0 || i+1 >= len(args) {
		return "", false
	}
	return args[i+1], true
}

func TestPlannerFileDefaults(t *testing.T) {
	run, err := testPlanner(nil).File(FileRequest{Source: "/uploads/clip.mp4"})
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if run.Pipeline != "file" || run.Quick || len(run.Preamble) != 0 {
		t.Errorf("unexpected run %+v", run)
	}

	var names []string
	for _, s := range run.Stages {
		names = append(names, s.Name)
	}
	if !slices.Equal(names, []string{"objects", "violence", "emotions"}) {
		t.Fatalf("stages = %v", names)
	}

	objects := run.Stages[0]
	if objects.Worker.Program != "python3" {
		t.Errorf("program = %q", objects.Worker.Program)
	}
	args := objects.Worker.Args
	if args[0] != filepath.Join("yolo11", "detect.py") {
		t.Errorf("script = %q", args[0])
	}
	for flag, want := range map[string]string{
		"--weights": filepath.Join("yolo11", "models", "all.pt"),
		"--source":  "/uploads/clip.mp4",
		"--conf":    "0.40",
		"--project": "runs/detect",
		"--name":    "predict",
	} {
		if got, _ := argValue(args, flag); got != want {
			t.Errorf("%s = %q, want %q", flag, got, want)
		}
	}
	classes, ok := argValue(args, "--classes")
	if !ok || !strings.HasPrefix(classes, "antifa,bus,car") {
		t.Errorf("--classes = %q", classes)
	}
	if slices.Contains(args, "--motion-detection") || slices.Contains(args, "--night-mode") {
		t.Error("optional flags present without request")
	}
	if !objects.EarlyExit || !objects.Detection || objects.Disabled {
		t.Errorf("objects stage flags wrong: %+v", objects)
	}
	if _, ok := objects.Worker.Interpreter.(process.DetectInterpreter); !ok {
		t.Errorf("objects interpreter %T", objects.Worker.Interpreter)
	}

	violence := run.Stages[1]
	if _, ok := argValue(violence.Worker.Args, "--classes"); ok {
		t.Error("violence stage should not restrict classes")
	}

	emotions := run.Stages[2]
	if !emotions.Disabled {
		t.Error("emotions should be disabled unless requested")
	}
	if emotions.Worker.Args[0] != filepath.Join("yolo11", "emotion_detect.py") {
		t.Errorf("emotion script = %q", emotions.Worker.Args[0])
	}
	if _, ok := argValue(emotions.Worker.Args, "--weights"); ok {
		t.Error("emotion stage should not pass weights")
	}
	if ei, ok := emotions.Worker.Interpreter.(process.EmotionInterpreter); !ok || ei.Marker == "" {
		t.Errorf("emotion interpreter %#v", emotions.Worker.Interpreter)
	}

	if got := run.ResultURL("predict"); got != "/result/detect/predict/clip.mp4" {
		t.Errorf("ResultURL = %q", got)
	}
}

func TestPlannerFileOptions(t *testing.T) {
	p := testPlanner(func(w *config.Workers) { w.Python = "python3 -u" })
	run, err := p.File(FileRequest{
		Source:          "a.jpg",
		Quick:           true,
		MotionDetection: true,
		NightMode:       true,
		Enable:          []string{"emotions"},
	})
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if len(run.Preamble) != 2 || run.Preamble[0].Message != "Motion detection enabled" || run.Preamble[1].Message != "Night mode enabled" {
		t.Errorf("preamble = %+v", run.Preamble)
	}

	objects := run.Stages[0]
	if objects.Worker.Args[0] != "-u" || objects.Worker.Args[1] != filepath.Join("yolo11", "quick_detect.py") {
		t.Errorf("args = %v", objects.Worker.Args[:2])
	}
	if !slices.Contains(objects.Worker.Args, "--motion-detection") || !slices.Contains(objects.Worker.Args, "--night-mode") {
		t.Errorf("missing option flags: %v", objects.Worker.Args)
	}
	if run.Stages[2].Disabled {
		t.Error("emotions should be enabled")
	}
	if slices.Contains(run.Stages[2].Worker.Args, "--night-mode") {
		t.Error("emotion stage got detection flags")
	}
}

func TestPlannerFileStageSelection(t *testing.T) {
	p := testPlanner(nil)
	run, err := p.File(FileRequest{Source: "a.jpg", Only: []string{"violence"}})
	if err != nil {
		t.Fatalf("File failed: %v", err)
	}
	if len(run.Stages) != 1 || run.Stages[0].Name != "violence" {
		t.Errorf("stages = %+v", run.Stages)
	}

	if _, err := p.File(FileRequest{Source: "a.jpg", Only: []string{"teleport"}}); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
	if _, err := p.File(FileRequest{Source: "a.jpg", Enable: []string{"nope"}}); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage for Enable, got %v", err)
	}
}

func TestPlannerBadPython(t *testing.T) {
	p := testPlanner(func(w *config.Workers) { w.Python = `"unterminated` })
	if _, err := p.File(FileRequest{Source: "a.jpg"}); err == nil {
		t.Error("expected error for bad python command")
	}
	if _, err := p.Audio("a.wav"); err == nil {
		t.Error("expected error for bad python command")
	}
}

func TestPlannerAudio(t *testing.T) {
	run, err := testPlanner(nil).Audio("/uploads/a.wav")
	if err != nil {
		t.Fatalf("Audio failed: %v", err)
	}
	if run.Pipeline != "audio" || len(run.Stages) != 1 || run.CompleteMessage == "" {
		t.Fatalf("unexpected run %+v", run)
	}
	stage := run.Stages[0]
	want := []string{filepath.Join("audio", "Destructive_recognition.py"), "--source", "/uploads/a.wav"}
	if !slices.Equal(stage.Worker.Args, want) {
		t.Errorf("args = %v, want %v", stage.Worker.Args, want)
	}
	if stage.OutputDir != "" {
		t.Error("audio stage should not produce result paths")
	}
	if _, ok := stage.Worker.Interpreter.(process.AudioInterpreter); !ok {
		t.Errorf("interpreter %T", stage.Worker.Interpreter)
	}
}
