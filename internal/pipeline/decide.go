package pipeline

import (
	"fmt"
	"slices"
	"strings"

	"github.com/smazurov/detectnode/internal/process"
)

// Stage is one worker invocation within a run.
type Stage struct {
	Name string
	// OutputDir names the result directory; empty stages contribute no path.
	OutputDir string
	Worker    process.Options
	// EarlyExit ends the run on a hazard when the run is a quick search.
	EarlyExit bool
	// Detection stages report a class summary after a clean exit.
	Detection bool
	// Disabled marks an optional stage the request did not ask for.
	Disabled bool
	// RunIfClasses skips the stage unless a prior stage saw one of them.
	RunIfClasses []string
}

// Signals are what earlier stages reported, plus the run-wide flags the
// decision depends on.
type Signals struct {
	Stopping bool
	Quick    bool
	Hazard   bool
	Trigger  string
	Classes  []string
}

// Decision is the verdict for the next stage.
type Decision struct {
	Run    bool
	Abort  bool
	Reason string
}

// Decide chooses whether stage runs given prior signals. It has no side effects.
func Decide(stage Stage, sig Signals) Decision {
	switch {
	case sig.Stopping:
		return Decision{Abort: true, Reason: "shutting down"}
	case sig.Quick && sig.Hazard:
		return Decision{Abort: true, Reason: "hazard detected: " + sig.Trigger}
	case stage.Disabled:
		return Decision{Reason: "not requested"}
	case len(stage.RunIfClasses) > 0 && !anyOf(stage.RunIfClasses, sig.Classes):
		return Decision{Reason: "no " + strings.Join(stage.RunIfClasses, ", ") + " detected"}
	}
	return Decision{Run: true}
}

func anyOf(want, have []string) bool {
	for _, w := range want {
		if slices.Contains(have, w) {
			return true
		}
	}
	return false
}

// Outcome is what one stage produced.
type Outcome struct {
	Result process.Result
	// Hazard is set when the stage reported a danger trigger.
	Hazard  bool
	Trigger string
	// EarlyExit is set when the orchestrator stopped the stage on a hazard.
	EarlyExit bool
}

// Next is what the run does after a stage.
type Next int

// Run continuations.
const (
	Continue Next = iota
	Complete
	Fail
)

// Verdict is the settled result of a stage.
type Verdict struct {
	Next    Next
	Partial bool
	Message string
}

// Settle turns a stage outcome into the next step. An exit caused by the
// orchestrator itself, or by the worker stopping on its own hazard marker,
// is not a failure.
func Settle(stage Stage, out Outcome, stopping bool) Verdict {
	switch {
	case out.EarlyExit:
		return Verdict{Next: Complete, Partial: true}
	case stopping:
		return Verdict{Next: Complete, Partial: true}
	case out.Result.Success():
		return Verdict{Next: Continue}
	case out.Result.Signaled() && out.Hazard:
		return Verdict{Next: Continue}
	}
	return Verdict{Next: Fail, Message: exitMessage(stage.Name, out.Result)}
}

func exitMessage(name string, res process.Result) string {
	switch {
	case res.Err != nil:
		return fmt.Sprintf("%s failed to run: %v", name, res.Err)
	case res.Signaled():
		return fmt.Sprintf("%s exited with signal %s", name, res.Signal)
	}
	return fmt.Sprintf("%s exited with code %d", name, res.ExitCode)
}
