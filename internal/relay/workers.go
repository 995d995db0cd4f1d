package relay

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"

	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/process"
)

// ErrModelNotFound is returned when a requested model file does not exist.
var ErrModelNotFound = errors.New("model not found")

// ErrScriptNotFound is returned when a worker script does not exist.
var ErrScriptNotFound = errors.New("script not found")

// CheckModel verifies that model names a file under the models directory.
func CheckModel(w config.Workers, model string) error {
	path := w.ModelPath(model)
	if path == "" {
		return fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("%w: %s", ErrModelNotFound, model)
	}
	return nil
}

func workerOptions(w config.Workers, name string, spec config.Worker, args ...string) (process.Options, error) {
	python, err := process.SplitCommand(w.Python)
	if err != nil {
		return process.Options{}, fmt.Errorf("python command: %w", err)
	}
	interp, err := process.NewInterpreter(process.ParserSpec{Name: spec.Parser})
	if err != nil {
		return process.Options{}, fmt.Errorf("%s: %w", name, err)
	}
	argv := slices.Clone(python[1:])
	argv = append(argv, w.ScriptPath(spec.Script))
	argv = append(argv, args...)
	return process.Options{
		Name:        name,
		Program:     python[0],
		Args:        argv,
		Interpreter: interp,
		GracePeriod: w.Grace(),
	}, nil
}

// CameraWorker builds the camera worker invocation. With stdin set the worker
// reads frames as JSON lines instead of opening a capture device.
func CameraWorker(w config.Workers, model string, stdin bool) (process.Options, error) {
	if model == "" {
		model = w.Camera.DefaultModel
	}
	if w.ModelPath(model) == "" {
		return process.Options{}, fmt.Errorf("%w: %q", ErrModelNotFound, model)
	}
	args := []string{model}
	if stdin {
		args = append(args, "--stdin")
	}
	opts, err := workerOptions(w, "camera", w.Camera, args...)
	if err != nil {
		return opts, err
	}
	opts.Stdin = stdin
	return opts, nil
}

// IPCameraRequest selects the stream and options of an IP camera run.
type IPCameraRequest struct {
	Model           string
	RTSPURL         string
	MotionDetection bool
	NightMode       bool
}

// IPCameraWorker builds the IP camera worker invocation. The worker runs inside
// the worker directory with that directory on PYTHONPATH.
func IPCameraWorker(w config.Workers, req IPCameraRequest) (process.Options, error) {
	if _, err := os.Stat(w.ScriptPath(w.IPCamera.Script)); err != nil {
		return process.Options{}, ErrScriptNotFound
	}
	if err := CheckModel(w, req.Model); err != nil {
		return process.Options{}, err
	}
	dir, err := filepath.Abs(w.WorkerDir)
	if err != nil {
		return process.Options{}, fmt.Errorf("worker dir: %w", err)
	}

	spec := w.IPCamera
	spec.Script, err = filepath.Abs(w.ScriptPath(spec.Script))
	if err != nil {
		return process.Options{}, fmt.Errorf("script path: %w", err)
	}
	opts, err := workerOptions(w, "ip_camera", spec,
		req.Model,
		req.RTSPURL,
		strconv.FormatBool(req.MotionDetection),
		strconv.FormatBool(req.NightMode),
	)
	if err != nil {
		return opts, err
	}
	opts.Dir = dir
	opts.Env = []string{"PYTHONPATH=" + dir}
	return opts, nil
}
