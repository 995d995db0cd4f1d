package pipeline

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/logging"
	"github.com/smazurov/detectnode/internal/metrics"
	"github.com/smazurov/detectnode/internal/process"
)

// Emitter receives the events of a run in order.
type Emitter func(events.Analysis)

// Run is one analysis request turned into stages.
type Run struct {
	ID       string
	Pipeline string
	// Source is the analysed file.
	Source string
	// Quick enables early exit on hazards.
	Quick  bool
	Stages []Stage
	// Preamble events are emitted before the first stage.
	Preamble []events.Analysis
	// ResultURL maps a stage output directory to a client-visible location.
	// Nil uses the directory name.
	ResultURL       func(outputDir string) string
	CompleteMessage string
}

// Options configures an Orchestrator.
type Options struct {
	Registry *process.Registry
	// Bus receives a PipelineFinishedEvent per run (optional).
	Bus    *events.Bus
	Logger logging.Logger
}

// Orchestrator runs pipelines stage by stage.
type Orchestrator struct {
	registry *process.Registry
	bus      *events.Bus
	logger   logging.Logger
}

// New creates an Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{registry: opts.Registry, bus: opts.Bus, logger: opts.Logger}
	if o.logger == nil {
		o.logger = logging.GetLogger("pipeline")
	}
	return o
}

// runState accumulates results across stages.
type runState struct {
	completed []Stage
	classes   []string
	emotions  []string
	outputs   map[string]string
	trigger   string
}

func (st *runState) addClasses(classes []string) {
	for _, c := range classes {
		if !slices.Contains(st.classes, c) {
			st.classes = append(st.classes, c)
		}
	}
}

// Run executes run and returns its terminal event, which has also been
// passed to emit. Exactly one complete or error event is emitted per run.
// Cancelling ctx stops the running stage.
func (o *Orchestrator) Run(ctx context.Context, run Run, emit Emitter) events.Analysis {
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	started := time.Now()
	o.logger.Info("Pipeline started", "run_id", run.ID, "pipeline", run.Pipeline, "source", run.Source, "stages", len(run.Stages), "quick", run.Quick)

	terminal := o.execute(ctx, run, emit)
	emit(terminal)

	o.logger.Info("Pipeline finished", "run_id", run.ID, "pipeline", run.Pipeline, "status", terminal.Status, "trigger", terminal.Trigger, "duration", time.Since(started))
	metrics.PipelineFinished(run.Pipeline, string(terminal.Status), terminal.Trigger, time.Since(started))
	msg := terminal.Message
	if terminal.Status == events.StatusError {
		msg = terminal.Error
	}
	o.bus.Publish(events.PipelineFinishedEvent{
		RunID:       run.ID,
		Pipeline:    run.Pipeline,
		Status:      terminal.Status,
		Trigger:     terminal.Trigger,
		ResultPaths: terminal.ResultPaths,
		Message:     msg,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
	})
	return terminal
}

func (o *Orchestrator) execute(ctx context.Context, run Run, emit Emitter) events.Analysis {
	st := &runState{outputs: make(map[string]string)}
	for _, ev := range run.Preamble {
		emit(ev)
	}

	sig := Signals{Quick: run.Quick}
	for _, stage := range run.Stages {
		if ctx.Err() != nil {
			return cancelled(ctx)
		}
		sig.Stopping = o.stopping()
		sig.Classes = st.classes

		d := Decide(stage, sig)
		if d.Abort {
			o.logger.Info("Pipeline aborted", "run_id", run.ID, "stage", stage.Name, "reason", d.Reason)
			return o.complete(run, st, "Analysis stopped: "+d.Reason)
		}
		if !d.Run {
			o.logger.Debug("Stage skipped", "run_id", run.ID, "stage", stage.Name, "reason", d.Reason)
			ev := events.Info("Skipping " + stage.Name + ": " + d.Reason)
			ev.Stage = stage.Name
			emit(ev)
			continue
		}

		out, stageClasses, err := o.runStage(ctx, run, stage, st, emit)
		if err != nil {
			if errors.Is(err, process.ErrShuttingDown) {
				return o.complete(run, st, "Analysis stopped: shutting down")
			}
			return failure(err.Error())
		}
		if ctx.Err() != nil {
			return cancelled(ctx)
		}

		v := Settle(stage, out, o.stopping())
		switch v.Next {
		case Fail:
			o.logger.Warn("Stage failed", "run_id", run.ID, "stage", stage.Name, "exit_code", out.Result.ExitCode, "signal", out.Result.Signal)
			return failure(v.Message)
		case Complete:
			if out.EarlyExit {
				st.completed = append(st.completed, stage)
				st.trigger = out.Trigger
				return o.complete(run, st, "Analysis stopped early: "+out.Trigger)
			}
			return o.complete(run, st, "Analysis stopped: shutting down")
		}

		st.completed = append(st.completed, stage)
		if out.Hazard {
			sig.Hazard = true
			sig.Trigger = out.Trigger
		}
		if stage.Detection && len(stageClasses) > 0 {
			ev := events.Info("Detected classes: " + strings.Join(stageClasses, ", "))
			ev.Classes = stageClasses
			ev.Stage = stage.Name
			emit(ev)
		}
	}

	msg := run.CompleteMessage
	if msg == "" {
		msg = "Analysis complete"
	}
	return o.complete(run, st, msg)
}

func (o *Orchestrator) stopping() bool {
	return o.registry != nil && o.registry.Stopping()
}

// runStage runs one stage to completion, forwarding its events.
func (o *Orchestrator) runStage(ctx context.Context, run Run, stage Stage, st *runState, emit Emitter) (Outcome, []string, error) {
	opts := stage.Worker
	if opts.Name == "" {
		opts.Name = stage.Name
	}
	sess := process.NewSession(opts, o.registry)

	var out Outcome
	var text strings.Builder
	var stageClasses []string
	sess.Subscribe(func(ev events.Analysis) {
		if out.EarlyExit {
			return
		}
		ev = demote(ev)
		if ev.Stage == "" {
			ev.Stage = stage.Name
		}

		if ev.Status == events.StatusInfo {
			text.WriteString(ev.Message)
			text.WriteByte('\n')
			for _, c := range ev.Classes {
				if !slices.Contains(stageClasses, c) {
					stageClasses = append(stageClasses, c)
				}
			}
			st.addClasses(ev.Classes)
			if ev.Emotion != "" {
				st.emotions = append(st.emotions, ev.Emotion)
			}
		}

		if trigger := process.TriggerOf(ev); trigger != "" {
			if !out.Hazard {
				out.Hazard = true
				out.Trigger = trigger
			}
			if run.Quick && stage.EarlyExit {
				out.EarlyExit = true
				emit(ev)
				o.logger.Info("Early exit on hazard", "run_id", run.ID, "stage", stage.Name, "trigger", trigger)
				sess.Stop()
				return
			}
		}
		emit(ev)
	})

	if err := sess.Start(); err != nil {
		<-sess.Done()
		return out, nil, err
	}

	select {
	case <-sess.Done():
	case <-ctx.Done():
		sess.Stop()
		<-sess.Done()
	}
	out.Result = sess.Wait()

	if text.Len() > 0 {
		st.outputs[stage.Name] = text.String()
	}
	return out, stageClasses, nil
}

func (o *Orchestrator) complete(run Run, st *runState, msg string) events.Analysis {
	ev := events.Analysis{
		Status:  events.StatusComplete,
		Message: msg,
		Classes: st.classes,
		Trigger: st.trigger,
	}
	for _, s := range st.completed {
		if s.OutputDir == "" {
			continue
		}
		path := s.OutputDir
		if run.ResultURL != nil {
			path = run.ResultURL(s.OutputDir)
		}
		ev.ResultPaths = append(ev.ResultPaths, path)
	}
	if n := len(st.emotions); n > 0 {
		ev.Emotion = st.emotions[n-1]
	}
	if len(st.outputs) > 0 {
		ev.Outputs = st.outputs
	}
	return ev
}

// demote keeps worker-reported terminal statuses from ending the run.
func demote(ev events.Analysis) events.Analysis {
	switch ev.Status {
	case events.StatusError:
		ev.Status = events.StatusWarning
		if ev.Message == "" {
			ev.Message = ev.Error
		}
	case events.StatusComplete:
		ev.Status = events.StatusInfo
	}
	return ev
}

func failure(msg string) events.Analysis {
	return events.Analysis{Status: events.StatusError, Message: msg, Error: msg}
}

func cancelled(ctx context.Context) events.Analysis {
	ev := failure("analysis cancelled")
	if err := context.Cause(ctx); err != nil {
		ev.Error = err.Error()
	}
	return ev
}
