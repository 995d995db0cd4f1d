package events

// Event type constants for kelindar/event.
const (
	TypeSessionStateChanged uint32 = iota + 1
	TypePipelineFinished
	TypeRegistryStopped
	TypeAnalysisRelayed
	TypeLogEntry
	TypeWorkerStats
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// Status is the kind of an analysis event.
type Status string

// Analysis event statuses.
const (
	StatusInfo     Status = "info"
	StatusWarning  Status = "warning"
	StatusDanger   Status = "danger"
	StatusProgress Status = "progress"
	StatusFrame    Status = "frame"
	StatusError    Status = "error"
	StatusComplete Status = "complete"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusInfo, StatusWarning, StatusDanger, StatusProgress,
		StatusFrame, StatusError, StatusComplete:
		return true
	}
	return false
}

// Terminal reports whether s ends a pipeline run.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusError
}

// Detection is one labelled box reported with a camera frame.
type Detection struct {
	Class      string  `json:"class" example:"knife" doc:"Detected class label"`
	Confidence float64 `json:"confidence" example:"0.87" doc:"Detection confidence"`
}

// Analysis is one event produced by a worker or by the pipeline and relayed to
// clients. Values are immutable once emitted.
type Analysis struct {
	Status  Status `json:"status" enum:"info,warning,danger,progress,frame,error,complete" doc:"Event kind"`
	Message string `json:"message,omitempty" doc:"Human readable text"`
	Error   string `json:"error,omitempty" doc:"Error description"`

	// Frame payload.
	Image       string      `json:"image,omitempty" doc:"Base64 encoded JPEG frame"`
	FrameNumber int         `json:"frame_number,omitempty" doc:"Frame index"`
	TotalFrames int         `json:"total_frames,omitempty" doc:"Frame count"`
	Detections  []Detection `json:"detections,omitempty" doc:"Boxes detected in the frame"`

	// Progress payload.
	Progress        int    `json:"progress,omitempty" example:"40" doc:"Percent complete"`
	CurrentFrame    int    `json:"currentFrame,omitempty" doc:"Current frame of the running stage"`
	ProgressTotal   int    `json:"totalFrames,omitempty" doc:"Total frames of the running stage"`
	DetectedObjects int    `json:"detectedObjects,omitempty" doc:"Objects detected in the current frame"`
	Model           string `json:"model,omitempty" example:"all.pt" doc:"Model used by the running stage"`

	Classes     []string          `json:"classes,omitempty" doc:"Detected class labels"`
	Emotion     string            `json:"emotion,omitempty" doc:"Dominant emotion line"`
	ResultPaths []string          `json:"resultPaths,omitempty" doc:"Result locations"`
	Outputs     map[string]string `json:"outputs,omitempty" doc:"Raw text output per stage"`
	Stage       string            `json:"stage,omitempty" example:"objects" doc:"Stage that produced the event"`
	Trigger     string            `json:"trigger,omitempty" example:"dangerous_object" doc:"Early-exit trigger"`
}

// Info builds an info event.
func Info(msg string) Analysis { return Analysis{Status: StatusInfo, Message: msg} }

// Danger builds a danger event.
func Danger(msg string) Analysis { return Analysis{Status: StatusDanger, Message: msg} }

// Failure builds an error event.
func Failure(msg string) Analysis { return Analysis{Status: StatusError, Message: msg} }

// SessionStateChangedEvent is published on every worker session transition.
type SessionStateChangedEvent struct {
	SessionID string `json:"session_id" doc:"Worker session identifier"`
	Name      string `json:"name" example:"objects" doc:"Worker name"`
	State     string `json:"state" example:"running" doc:"New state"`
	PID       int    `json:"pid,omitempty" doc:"Process ID"`
	ExitCode  int    `json:"exit_code,omitempty" doc:"Exit code once exited"`
	Timestamp string `json:"timestamp" example:"2025-01-27T10:30:00Z" doc:"Event timestamp"`
}

// Type returns the event type identifier for SessionStateChangedEvent.
func (e SessionStateChangedEvent) Type() uint32 { return TypeSessionStateChanged }

// PipelineFinishedEvent is published once per pipeline run.
type PipelineFinishedEvent struct {
	RunID       string   `json:"run_id" doc:"Pipeline run identifier"`
	Pipeline    string   `json:"pipeline" example:"file" doc:"Pipeline kind"`
	Status      Status   `json:"status" example:"complete" doc:"Terminal status"`
	Trigger     string   `json:"trigger,omitempty" doc:"Early-exit trigger"`
	ResultPaths []string `json:"resultPaths,omitempty" doc:"Result locations"`
	Message     string   `json:"message,omitempty" doc:"Terminal message"`
	Timestamp   string   `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for PipelineFinishedEvent.
func (e PipelineFinishedEvent) Type() uint32 { return TypePipelineFinished }

// RegistryStoppedEvent is published when every worker is stopped at once.
type RegistryStoppedEvent struct {
	Stopped   int    `json:"stopped" doc:"Number of sessions signalled"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// Type returns the event type identifier for RegistryStoppedEvent.
func (e RegistryStoppedEvent) Type() uint32 { return TypeRegistryStopped }

// AnalysisRelayedEvent mirrors an event delivered to a client channel.
// Frame images are stripped before publishing.
type AnalysisRelayedEvent struct {
	Channel   string `json:"channel" example:"camera" doc:"Relay channel"`
	SessionID string `json:"session_id,omitempty" doc:"Worker session identifier"`
	Status    Status `json:"status" doc:"Relayed event status"`
	Message   string `json:"message,omitempty" doc:"Relayed event message"`
}

// Type returns the event type identifier for AnalysisRelayedEvent.
func (e AnalysisRelayedEvent) Type() uint32 { return TypeAnalysisRelayed }

// LogEntryEvent represents a log entry for SSE streaming.
type LogEntryEvent struct {
	Seq        uint64         `json:"seq" example:"42" doc:"Monotonic sequence number for deduplication"`
	Timestamp  string         `json:"timestamp" example:"2025-01-09T10:30:00.123Z" doc:"Log timestamp"`
	Level      string         `json:"level" example:"info" doc:"Log level"`
	Module     string         `json:"module" example:"api" doc:"Source module"`
	Message    string         `json:"message" doc:"Log message"`
	Attributes map[string]any `json:"attributes,omitempty" doc:"Structured log attributes"`
}

// Type returns the event type identifier for LogEntryEvent.
func (e LogEntryEvent) Type() uint32 { return TypeLogEntry }

// WorkerStatsEvent is a periodic snapshot of worker activity.
type WorkerStatsEvent struct {
	Live      int               `json:"live" example:"2" doc:"Workers currently running"`
	Spawned   map[string]string `json:"spawned" doc:"Workers spawned per name since start"`
	Pipelines map[string]string `json:"pipelines" doc:"Pipeline runs per outcome since start"`
	Timestamp string            `json:"timestamp" doc:"Snapshot timestamp"`
}

// Type returns the event type identifier for WorkerStatsEvent.
func (e WorkerStatsEvent) Type() uint32 { return TypeWorkerStats }
