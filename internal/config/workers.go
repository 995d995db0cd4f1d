package config

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// WorkersFile is the default worker definitions file.
const WorkersFile = "workers.toml"

// Parser names understood by the worker output interpreters.
var knownParsers = []string{"detect", "emotion", "audio", "raw"}

// DefaultClasses restricts the object stage to these labels.
var DefaultClasses = []string{
	"antifa", "bus", "car", "cat", "celtic_cross", "cigarette", "cocaine",
	"confederate-flag", "destroy", "dog", "elephant", "face", "fire",
	"glass-defect", "gorilla", "graffiti", "gun", "heroin", "isis", "knife",
	"lion", "marijuana", "motorcycle", "rocket", "shrooms", "smoke",
	"squirrel", "swastika", "truck", "wolfsangel", "zebra",
}

// Workers describes every analysis worker the service can spawn.
type Workers struct {
	// Python is the interpreter command line, e.g. "python3 -u".
	Python      string `toml:"python" json:"python"`
	WorkerDir   string `toml:"worker_dir" json:"worker_dir"`
	ModelsDir   string `toml:"models_dir" json:"models_dir"`
	ResultsRoot string `toml:"results_root" json:"results_root"`
	ResultsURL  string `toml:"results_url" json:"results_url"`
	// GracePeriod is how long a worker may take to exit after SIGTERM.
	GracePeriod string `toml:"grace_period" json:"grace_period"`

	Markers  Markers        `toml:"markers" json:"markers"`
	Detect   DetectSettings `toml:"detect" json:"detect"`
	Stages   []Stage        `toml:"stages" json:"stages"`
	Audio    Worker         `toml:"audio" json:"audio"`
	Camera   Worker         `toml:"camera" json:"camera"`
	IPCamera Worker         `toml:"ip_camera" json:"ip_camera"`
}

// Markers are line markers printed by workers whose text output is parsed.
type Markers struct {
	Emotion string `toml:"emotion" json:"emotion"`
	Audio   string `toml:"audio" json:"audio"`
}

// DetectSettings are shared by every detection stage.
type DetectSettings struct {
	Script      string   `toml:"script" json:"script"`
	QuickScript string   `toml:"quick_script" json:"quick_script"`
	Confidence  float64  `toml:"confidence" json:"confidence"`
	Classes     []string `toml:"classes" json:"classes"`
}

// Stage is one step of the file analysis pipeline.
type Stage struct {
	Name string `toml:"name" json:"name"`
	// Model is the weights file under ModelsDir. Detection stages only.
	Model string `toml:"model" json:"model,omitempty"`
	// Script overrides Detect.Script.
	Script    string `toml:"script" json:"script,omitempty"`
	OutputDir string `toml:"output_dir" json:"output_dir"`
	Parser    string `toml:"parser" json:"parser"`
	// RestrictClasses passes Detect.Classes to the worker.
	RestrictClasses bool `toml:"restrict_classes" json:"restrict_classes"`
	// EarlyExit ends the pipeline on a hazard when quick search is requested.
	EarlyExit bool `toml:"early_exit" json:"early_exit"`
	// Optional stages run only when the request enables them.
	Optional bool `toml:"optional" json:"optional"`
	// RunIfClasses skips the stage unless an earlier stage reported one
	// of these class labels.
	RunIfClasses []string `toml:"run_if_classes" json:"run_if_classes,omitempty"`
	Args         []string `toml:"args" json:"args,omitempty"`
}

// Detection reports whether the stage runs a detection worker.
func (s Stage) Detection() bool {
	return s.Parser == "detect"
}

// Worker is a single-process worker definition.
type Worker struct {
	Script       string `toml:"script" json:"script"`
	Parser       string `toml:"parser" json:"parser"`
	DefaultModel string `toml:"default_model" json:"default_model,omitempty"`
	// MaxFPS caps frames forwarded to a stdin-fed worker. Zero is unlimited.
	MaxFPS float64 `toml:"max_fps" json:"max_fps,omitempty"`
}

// DefaultWorkers returns the built-in worker layout.
func DefaultWorkers() Workers {
	return Workers{
		Python:      "python3",
		WorkerDir:   "yolo11",
		ModelsDir:   "yolo11/models",
		ResultsRoot: "runs/detect",
		ResultsURL:  "/result/detect",
		GracePeriod: "5s",
		Markers: Markers{
			Emotion: "Доминирующая эмоция:",
			Audio:   "Паралингвистический признак",
		},
		Detect: DetectSettings{
			Script:      "detect.py",
			QuickScript: "quick_detect.py",
			Confidence:  0.40,
			Classes:     slices.Clone(DefaultClasses),
		},
		Stages: []Stage{
			{Name: "objects", Model: "all.pt", OutputDir: "predict", Parser: "detect", RestrictClasses: true, EarlyExit: true},
			{Name: "violence", Model: "violence.pt", OutputDir: "predict_violence", Parser: "detect", EarlyExit: true},
			{Name: "emotions", Script: "emotion_detect.py", OutputDir: "emotions", Parser: "emotion", Optional: true},
		},
		Audio:    Worker{Script: "../audio/Destructive_recognition.py", Parser: "audio"},
		Camera:   Worker{Script: "camera_analysis.py", Parser: "raw", DefaultModel: "all.pt", MaxFPS: 15},
		IPCamera: Worker{Script: "ip_camera_analysis.py", Parser: "raw"},
	}
}

// LoadWorkers reads worker definitions from path on top of the defaults.
// A missing file yields the defaults.
func LoadWorkers(path string) (Workers, error) {
	w := DefaultWorkers()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return w, nil
		}
		return w, fmt.Errorf("read workers file: %w", err)
	}
	if len(data) > 0 {
		// Stages replace the defaults wholesale when present.
		var peek struct {
			Stages []Stage `toml:"stages"`
		}
		if err := toml.Unmarshal(data, &peek); err != nil {
			return w, fmt.Errorf("failed to parse workers file: %w", err)
		}
		if len(peek.Stages) > 0 {
			w.Stages = nil
		}
		if err := toml.Unmarshal(data, &w); err != nil {
			return w, fmt.Errorf("failed to parse workers file: %w", err)
		}
	}
	if err := w.Validate(); err != nil {
		return w, err
	}
	return w, nil
}

// Validate checks internal consistency. It does not touch the filesystem.
func (w Workers) Validate() error {
	var errs []error
	if strings.TrimSpace(w.Python) == "" {
		errs = append(errs, errors.New("python interpreter is empty"))
	}
	if _, err := time.ParseDuration(w.GracePeriod); err != nil {
		errs = append(errs, fmt.Errorf("grace_period: %w", err))
	}
	if w.Detect.Confidence <= 0 || w.Detect.Confidence > 1 {
		errs = append(errs, fmt.Errorf("detect.confidence %.2f out of range (0,1]", w.Detect.Confidence))
	}
	if len(w.Stages) == 0 {
		errs = append(errs, errors.New("no stages defined"))
	}

	seen := make(map[string]bool)
	for i, s := range w.Stages {
		switch {
		case s.Name == "":
			errs = append(errs, fmt.Errorf("stage %d has no name", i))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("duplicate stage %q", s.Name))
		}
		seen[s.Name] = true
		if s.OutputDir == "" {
			errs = append(errs, fmt.Errorf("stage %q has no output_dir", s.Name))
		}
		if !slices.Contains(knownParsers, s.Parser) {
			errs = append(errs, fmt.Errorf("stage %q: unknown parser %q", s.Name, s.Parser))
		}
		if s.Detection() && s.Model == "" {
			errs = append(errs, fmt.Errorf("stage %q: detection stage needs a model", s.Name))
		}
		if !s.Detection() && s.Script == "" {
			errs = append(errs, fmt.Errorf("stage %q: script is required", s.Name))
		}
	}

	for name, wk := range map[string]Worker{"audio": w.Audio, "camera": w.Camera, "ip_camera": w.IPCamera} {
		if wk.Script == "" {
			errs = append(errs, fmt.Errorf("%s: script is required", name))
		}
		if wk.Parser != "" && !slices.Contains(knownParsers, wk.Parser) {
			errs = append(errs, fmt.Errorf("%s: unknown parser %q", name, wk.Parser))
		}
		if wk.MaxFPS < 0 {
			errs = append(errs, fmt.Errorf("%s: max_fps must not be negative", name))
		}
	}
	return errors.Join(errs...)
}

// Grace returns the parsed grace period, defaulting to five seconds.
func (w Workers) Grace() time.Duration {
	d, err := time.ParseDuration(w.GracePeriod)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// Stage returns the named stage.
func (w Workers) Stage(name string) (Stage, bool) {
	for _, s := range w.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// ScriptPath resolves a worker script against WorkerDir.
func (w Workers) ScriptPath(script string) string {
	if filepath.IsAbs(script) {
		return script
	}
	return filepath.Join(w.WorkerDir, script)
}

// StageScript resolves the script a stage runs. Detection stages that honour
// early exit swap in the quick search script when quick is set.
func (w Workers) StageScript(s Stage, quick bool) string {
	script := s.Script
	if s.Detection() {
		switch {
		case quick && s.EarlyExit && w.Detect.QuickScript != "":
			script = w.Detect.QuickScript
		case script == "":
			script = w.Detect.Script
		}
	}
	return w.ScriptPath(script)
}

// ModelPath resolves a model file against ModelsDir. Model names containing
// path separators are rejected by returning an empty string.
func (w Workers) ModelPath(model string) string {
	if model == "" || model != filepath.Base(model) || model == "." || model == ".." {
		return ""
	}
	return filepath.Join(w.ModelsDir, model)
}

// ResultURL is the client-visible location of a stage result for source.
func (w Workers) ResultURL(outputDir, source string) string {
	return strings.TrimRight(w.ResultsURL, "/") + "/" + outputDir + "/" + filepath.Base(source)
}

// Problem is one missing worker dependency found by Check.
type Problem struct {
	Worker string `json:"worker"`
	Path   string `json:"path"`
	Issue  string `json:"issue"`
}

// Check verifies that the interpreter, scripts and models exist.
func (w Workers) Check() []Problem {
	var problems []Problem

	if fields := strings.Fields(w.Python); len(fields) > 0 {
		if _, err := exec.LookPath(fields[0]); err != nil {
			problems = append(problems, Problem{Worker: "python", Path: fields[0], Issue: "interpreter not found"})
		}
	}

	missing := func(worker, path, issue string) {
		if _, err := os.Stat(path); err != nil {
			problems = append(problems, Problem{Worker: worker, Path: path, Issue: issue})
		}
	}

	for _, s := range w.Stages {
		missing(s.Name, w.StageScript(s, false), "script not found")
		if quick := w.StageScript(s, true); quick != w.StageScript(s, false) {
			missing(s.Name, quick, "quick search script not found")
		}
		if s.Detection() {
			missing(s.Name, w.ModelPath(s.Model), "model not found")
		}
	}
	missing("audio", w.ScriptPath(w.Audio.Script), "script not found")
	missing("camera", w.ScriptPath(w.Camera.Script), "script not found")
	missing("ip_camera", w.ScriptPath(w.IPCamera.Script), "script not found")
	if w.Camera.DefaultModel != "" {
		missing("camera", w.ModelPath(w.Camera.DefaultModel), "model not found")
	}
	return problems
}
