package models

import (
	"time"

	"github.com/smazurov/detectnode/internal/config"
	"github.com/smazurov/detectnode/internal/events"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"1.0.0" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc123" doc:"Git commit hash"`
	BuildDate string `json:"build_date" doc:"Build timestamp"`
	BuildID   string `json:"build_id" doc:"Build identifier"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go runtime version"`
	Compiler  string `json:"compiler" example:"gc" doc:"Go compiler"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"OS and architecture"`
}

type VersionResponse struct {
	Body VersionData
}

// Analysis requests. Query names match the browser client.
type AnalyzeRequest struct {
	FilePath         string   `query:"filePath" required:"true" example:"uploads/clip.mp4" doc:"Uploaded file to analyse"`
	MotionDetection  bool     `query:"motionDetection" doc:"Pass motion detection to detection workers"`
	NightMode        bool     `query:"nightMode" doc:"Pass night mode to detection workers"`
	EmotionDetection bool     `query:"emotionDetection" doc:"Run the emotion stage"`
	QuickSearch      bool     `query:"quickSearch" doc:"Stop at the first hazard"`
	Stages           []string `query:"stages" doc:"Run only these stages"`
}

type AudioRequest struct {
	FilePath string `query:"filePath" required:"true" example:"uploads/voice.wav" doc:"Uploaded audio file"`
}

type CameraRequest struct {
	Model    string `query:"model" required:"true" example:"all.pt" doc:"Model file name"`
	CameraID string `query:"cameraId" doc:"Capture device index passed through to logs"`
}

type IPCameraRequest struct {
	Model           string `query:"model" required:"true" example:"all.pt" doc:"Model file name"`
	RTSPURL         string `query:"rtspUrl" required:"true" example:"rtsp://10.0.0.5/stream1" doc:"Camera stream URL"`
	MotionDetection bool   `query:"motionDetection" doc:"Enable motion detection"`
	NightMode       bool   `query:"nightMode" doc:"Enable night mode"`
}

// Generic message response used by stop endpoints.
type MessageData struct {
	Message string `json:"message" example:"Camera analysis stopped" doc:"Result message"`
}

type MessageResponse struct {
	Body MessageData
}

// Worker models
type WorkerData struct {
	ID        string    `json:"id" doc:"Session identifier"`
	Name      string    `json:"name" example:"objects" doc:"Worker name"`
	State     string    `json:"state" example:"running" doc:"Lifecycle state"`
	PID       int       `json:"pid,omitempty" doc:"Process ID"`
	Program   string    `json:"program" example:"python3" doc:"Executable"`
	Args      []string  `json:"args" doc:"Arguments"`
	StartedAt time.Time `json:"started_at,omitzero" doc:"Spawn time"`
}

type WorkerListData struct {
	Workers  []WorkerData `json:"workers" doc:"Live worker sessions"`
	Count    int          `json:"count" example:"1" doc:"Number of live workers"`
	Stopping bool         `json:"stopping" doc:"Whether new workers are refused"`
}

type WorkerListResponse struct {
	Body WorkerListData
}

type WorkerCheckData struct {
	OK       bool             `json:"ok" doc:"Whether every worker dependency was found"`
	Problems []config.Problem `json:"problems" doc:"Missing interpreters, scripts and models"`
}

type WorkerCheckResponse struct {
	Body WorkerCheckData
}

type WorkerConfigResponse struct {
	Body config.Workers
}

// Admin models
type AdminStopData struct {
	Stopped int    `json:"stopped" example:"2" doc:"Workers signalled"`
	Message string `json:"message" doc:"Result message"`
	Exiting bool   `json:"exiting" doc:"Whether the service exits for a supervisor restart"`
}

type AdminStopResponse struct {
	Body AdminStopData
}

// Log models
type LogsRequest struct {
	Lines   int    `query:"lines" default:"100" minimum:"1" maximum:"10000" doc:"Number of most recent entries"`
	Module  string `query:"module" doc:"Only entries from this module, such as worker"`
	Session string `query:"session" doc:"Only entries for this worker session id"`
}

type LogsData struct {
	Entries []events.LogEntryEvent `json:"entries" doc:"Log entries, oldest first"`
}

type LogsResponse struct {
	Body LogsData
}

type LogLevelsResponse struct {
	Body map[string]string
}

type LogLevelRequest struct {
	Module string `path:"module" example:"pipeline" doc:"Logger module"`
	Body   struct {
		Level string `json:"level" enum:"debug,info,warn,error" doc:"New level"`
	}
}
