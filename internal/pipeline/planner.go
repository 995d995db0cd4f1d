package pipeline

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/process"
)

// ErrUnknownStage is returned when a request names a stage that is not configured.
var ErrUnknownStage = errors.New("unknown stage")

// FileRequest asks for a file analysis.
type FileRequest struct {
	Source          string
	Quick           bool
	MotionDetection bool
	NightMode       bool
	// Enable lists optional stages to run.
	Enable []string
	// Only restricts the run to these stages. Empty runs all of them.
	Only []string
}

// Planner turns requests into runs using the current worker definitions.
type Planner struct {
	workers func() config.Workers
}

// NewPlanner creates a planner reading definitions from workers on every call,
// so reloaded definitions apply to the next request.
func NewPlanner(workers func() config.Workers) *Planner {
	return &Planner{workers: workers}
}

// File builds the staged file analysis run.
func (p *Planner) File(req FileRequest) (Run, error) {
	w := p.workers()
	for _, name := range slices.Concat(req.Only, req.Enable) {
		if _, ok := w.Stage(name); !ok {
			return Run{}, fmt.Errorf("%w: %s", ErrUnknownStage, name)
		}
	}
	python, err := process.SplitCommand(w.Python)
	if err != nil {
		return Run{}, fmt.Errorf("python command: %w", err)
	}

	run := Run{
		Pipeline: "file",
		Source:   req.Source,
		Quick:    req.Quick,
		ResultURL: func(dir string) string {
			return w.ResultURL(dir, req.Source)
		},
	}
	if req.MotionDetection {
		run.Preamble = append(run.Preamble, events.Info("Motion detection enabled"))
	}
	if req.NightMode {
		run.Preamble = append(run.Preamble, events.Info("Night mode enabled"))
	}

	for _, cs := range w.Stages {
		if len(req.Only) > 0 && !slices.Contains(req.Only, cs.Name) {
			continue
		}
		interp, err := process.NewInterpreter(process.ParserSpec{
			Name:   cs.Parser,
			Model:  cs.Model,
			Marker: marker(w, cs.Parser),
		})
		if err != nil {
			return Run{}, fmt.Errorf("stage %s: %w", cs.Name, err)
		}

		args := slices.Clone(python[1:])
		args = append(args, w.StageScript(cs, req.Quick))
		args = append(args, stageArgs(w, cs, req)...)

		run.Stages = append(run.Stages, Stage{
			Name:      cs.Name,
			OutputDir: cs.OutputDir,
			Worker: process.Options{
				Name:        cs.Name,
				Program:     python[0],
				Args:        args,
				Interpreter: interp,
				GracePeriod: w.Grace(),
			},
			EarlyExit:    cs.EarlyExit,
			Detection:    cs.Detection(),
			Disabled:     cs.Optional && !slices.Contains(req.Enable, cs.Name),
			RunIfClasses: cs.RunIfClasses,
		})
	}
	return run, nil
}

func stageArgs(w config.Workers, cs config.Stage, req FileRequest) []string {
	if !cs.Detection() {
		args := []string{
			"--source", req.Source,
			"--save",
			"--project", w.ResultsRoot,
			"--name", cs.OutputDir,
			"--stream-frames",
		}
		return append(args, cs.Args...)
	}

	args := []string{
		"--weights", w.ModelPath(cs.Model),
		"--source", req.Source,
		"--conf", strconv.FormatFloat(w.Detect.Confidence, 'f', 2, 64),
		"--save-txt",
		"--save",
		"--project", w.ResultsRoot,
		"--name", cs.OutputDir,
		"--stream-frames",
	}
	if cs.RestrictClasses && len(w.Detect.Classes) > 0 {
		args = append(args, "--classes", strings.Join(w.Detect.Classes, ","))
	}
	if req.MotionDetection {
		args = append(args, "--motion-detection")
	}
	if req.NightMode {
		args = append(args, "--night-mode")
	}
	return append(args, cs.Args...)
}

// Audio builds the single-stage audio analysis run.
func (p *Planner) Audio(source string) (Run, error) {
	w := p.workers()
	python, err := process.SplitCommand(w.Python)
	if err != nil {
		return Run{}, fmt.Errorf("python command: %w", err)
	}
	interp, err := process.NewInterpreter(process.ParserSpec{
		Name:   w.Audio.Parser,
		Marker: marker(w, w.Audio.Parser),
	})
	if err != nil {
		return Run{}, fmt.Errorf("audio: %w", err)
	}

	args := slices.Clone(python[1:])
	args = append(args, w.ScriptPath(w.Audio.Script), "--source", source)
	return Run{
		Pipeline: "audio",
		Source:   source,
		Stages: []Stage{{
			Name: "audio",
			Worker: process.Options{
				Name:        "audio",
				Program:     python[0],
				Args:        args,
				Interpreter: interp,
				GracePeriod: w.Grace(),
			},
		}},
		CompleteMessage: "Audio analysis complete",
	}, nil
}

func marker(w config.Workers, parser string) string {
	switch parser {
	case process.ParserEmotion:
		return w.Markers.Emotion
	case process.ParserAudio:
		return w.Markers.Audio
	}
	return ""
}
