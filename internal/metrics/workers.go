// Package metrics provides Prometheus metrics for analysis workers and pipelines.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Exit classes used as the "outcome" label of worker exits.
const (
	ExitSuccess  = "success"
	ExitFailure  = "failure"
	ExitSignaled = "signaled"
)

var (
	workersLive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "detectnode",
		Subsystem: "worker",
		Name:      "live",
		Help:      "Worker processes currently running",
	})

	workersSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "detectnode",
		Subsystem: "worker",
		Name:      "spawned_total",
		Help:      "Worker processes spawned",
	}, []string{"worker"})

	workersExited = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "detectnode",
		Subsystem: "worker",
		Name:      "exited_total",
		Help:      "Worker processes exited by outcome",
	}, []string{"worker", "outcome"})

	relayedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "detectnode",
		Subsystem: "relay",
		Name:      "events_total",
		Help:      "Events relayed to clients",
	}, []string{"channel", "status"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "detectnode",
		Subsystem: "relay",
		Name:      "frames_dropped_total",
		Help:      "Camera frames not forwarded to a worker",
	}, []string{"reason"})

	// Local cache for SSE exporter access.
	cacheMu   sync.RWMutex
	liveCount int
	spawned   = make(map[string]int)
	pipelines = make(map[string]int)
)

// WorkerSpawned records a worker reaching the running state.
func WorkerSpawned(worker string) {
	workersLive.Inc()
	workersSpawned.WithLabelValues(worker).Inc()

	cacheMu.Lock()
	liveCount++
	spawned[worker]++
	cacheMu.Unlock()
}

// WorkerExited records a worker exit. running tells whether the worker had
// been counted as live by WorkerSpawned.
func WorkerExited(worker, outcome string, running bool) {
	workersExited.WithLabelValues(worker, outcome).Inc()
	if !running {
		return
	}
	workersLive.Dec()

	cacheMu.Lock()
	if liveCount > 0 {
		liveCount--
	}
	cacheMu.Unlock()
}

// ExitOutcome classifies an exit code and signal name.
func ExitOutcome(exitCode int, signal string) string {
	switch {
	case signal != "":
		return ExitSignaled
	case exitCode == 0:
		return ExitSuccess
	default:
		return ExitFailure
	}
}

// EventRelayed counts one event delivered on channel.
func EventRelayed(channel, status string) {
	relayedEvents.WithLabelValues(channel, status).Inc()
}

// Reasons a camera frame is not forwarded.
const (
	DropThrottled   = "throttled"
	DropNotWritable = "not_writable"
)

// FrameDropped counts a camera frame that was not forwarded.
func FrameDropped(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// Snapshot holds the cached counters.
type Snapshot struct {
	Live      int
	Spawned   map[string]int
	Pipelines map[string]int
}

// GetSnapshot returns a copy of the cached counters.
func GetSnapshot() Snapshot {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	snap := Snapshot{
		Live:      liveCount,
		Spawned:   make(map[string]int, len(spawned)),
		Pipelines: make(map[string]int, len(pipelines)),
	}
	for k, v := range spawned {
		snap.Spawned[k] = v
	}
	for k, v := range pipelines {
		snap.Pipelines[k] = v
	}
	return snap
}
