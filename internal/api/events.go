package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/detectnode/internal/events"
)

// ConnectedEvent is sent first on every monitor stream.
type ConnectedEvent struct {
	Message   string `json:"message" example:"SSE connection established" doc:"Connection status"`
	Live      int    `json:"live" doc:"Workers running at connect time"`
	Timestamp string `json:"timestamp" doc:"Event timestamp"`
}

// registerSSERoutes registers the operational monitor stream.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Server-Sent Events Stream",
		Description: "Real-time stream of worker state changes, pipeline results, relayed events and worker statistics",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"connected":             ConnectedEvent{},
		"session-state-changed": events.SessionStateChangedEvent{},
		"pipeline-finished":     events.PipelineFinishedEvent{},
		"registry-stopped":      events.RegistryStoppedEvent{},
		"analysis-relayed":      events.AnalysisRelayedEvent{},
		"worker-stats":          events.WorkerStatsEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 32)
		unsubscribe := events.SubscribeMonitor(s.eventBus, eventCh)
		defer unsubscribe()

		if err := send.Data(ConnectedEvent{
			Message:   "SSE connection established",
			Live:      s.registry.Len(),
			Timestamp: time.Now().Format(time.RFC3339),
		}); err != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
