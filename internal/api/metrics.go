package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/detectnode/internal/events"
	"github.com/smazurov/detectnode/internal/metrics"
	"github.com/smazurov/detectnode/internal/metrics/exporters"
)

// registerMetricsRoutes registers the worker statistics SSE endpoint.
func (s *Server) registerMetricsRoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "metrics-stream",
		Method:      http.MethodGet,
		Path:        "/api/metrics",
		Summary:     "Metrics Server-Sent Events Stream",
		Description: "Periodic worker and pipeline counters. The current snapshot is sent on connect.",
		Tags:        []string{"metrics"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"worker-stats": events.WorkerStatsEvent{},
	}, func(ctx context.Context, _ *struct{}, send sse.Sender) {
		eventCh := make(chan any, 10)
		unsubscribe := events.SubscribeToChannel[events.WorkerStatsEvent](s.eventBus, eventCh)
		defer unsubscribe()

		if err := send.Data(exporters.Stats(metrics.GetSnapshot())); err != nil {
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
