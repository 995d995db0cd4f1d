package process

import (
	"errors"
	"time"
)

// State represents the lifecycle state of a worker session.
type State string

// Session states. Transitions only move forward.
const (
	StateStarting State = "starting" // Spawn requested
	StateRunning  State = "running"  // Process handle exists
	StateStopping State = "stopping" // Termination signal issued
	StateExited   State = "exited"   // OS reported termination
)

// Sentinel errors.
var (
	ErrShuttingDown   = errors.New("worker registry is shutting down")
	ErrNotWritable    = errors.New("worker stdin is not writable")
	ErrAlreadyStarted = errors.New("session already started")
)

// Info is a snapshot of a worker session.
type Info struct {
	ID        string
	Name      string
	State     State
	PID       int
	Program   string
	Args      []string
	StartedAt time.Time
	// ExitCode and Signal are meaningful once State is exited.
	ExitCode int
	Signal   string
}

// Result describes how a worker process ended.
type Result struct {
	// ExitCode is -1 when the process was killed by a signal or never started.
	ExitCode int
	// Signal names the terminating signal, empty for a normal exit.
	Signal string
	// Err is set when the process could not be spawned or awaited.
	Err error
}

// Success reports a normal zero exit.
func (r Result) Success() bool {
	return r.Err == nil && r.Signal == "" && r.ExitCode == 0
}

// Signaled reports whether the process was terminated by a signal.
func (r Result) Signaled() bool {
	return r.Signal != ""
}
